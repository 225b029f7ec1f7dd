package knowledge

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-bot/internal/domain"
	apperrors "github.com/spec-kit/support-bot/pkg/util/errorutil"
)

type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore persists entries in the knowledge_entries table.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &postgresStore{pool: pool}
}

func (s *postgresStore) All(ctx context.Context) ([]domain.KnowledgeEntry, error) {
	const query = `
        SELECT problem_key, solution, success_count, keywords, created_at, updated_at
        FROM knowledge_entries ORDER BY problem_key`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.KnowledgeEntry
	for rows.Next() {
		var e domain.KnowledgeEntry
		if err := rows.Scan(&e.ProblemKey, &e.Solution, &e.SuccessCount, &e.Keywords, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *postgresStore) Get(ctx context.Context, key string) (*domain.KnowledgeEntry, error) {
	const query = `
        SELECT problem_key, solution, success_count, keywords, created_at, updated_at
        FROM knowledge_entries WHERE problem_key=$1`
	var e domain.KnowledgeEntry
	err := s.pool.QueryRow(ctx, query, key).Scan(&e.ProblemKey, &e.Solution, &e.SuccessCount, &e.Keywords, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *postgresStore) Save(ctx context.Context, entry *domain.KnowledgeEntry) error {
	const query = `
        INSERT INTO knowledge_entries (problem_key, solution, success_count, keywords, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (problem_key) DO UPDATE SET
            solution=EXCLUDED.solution,
            success_count=EXCLUDED.success_count,
            keywords=EXCLUDED.keywords,
            updated_at=EXCLUDED.updated_at`
	_, err := s.pool.Exec(ctx, query,
		entry.ProblemKey,
		entry.Solution,
		entry.SuccessCount,
		entry.Keywords,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	return err
}
