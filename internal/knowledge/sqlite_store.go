package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/spec-kit/support-bot/internal/domain"
	apperrors "github.com/spec-kit/support-bot/pkg/util/errorutil"
)

// SQLiteStore is an embedded Store for single-node deployments without
// Postgres. Keywords are kept as a JSON array column.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
// Callers must Close it.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := migrateSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrateSQLite(db *sql.DB) error {
	const stmt = `CREATE TABLE IF NOT EXISTS knowledge_entries (
        problem_key   TEXT PRIMARY KEY,
        solution      TEXT NOT NULL,
        success_count INTEGER NOT NULL DEFAULT 1,
        keywords      TEXT NOT NULL DEFAULT '[]',
        created_at    INTEGER NOT NULL,
        updated_at    INTEGER NOT NULL
    );`
	_, err := db.Exec(stmt)
	return err
}

func (s *SQLiteStore) All(ctx context.Context) ([]domain.KnowledgeEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT problem_key, solution, success_count, keywords, created_at, updated_at
        FROM knowledge_entries ORDER BY problem_key;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.KnowledgeEntry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*domain.KnowledgeEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT problem_key, solution, success_count, keywords, created_at, updated_at
        FROM knowledge_entries WHERE problem_key = ?;`, key)
	e, err := scanSQLiteEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	return e, err
}

func (s *SQLiteStore) Save(ctx context.Context, entry *domain.KnowledgeEntry) error {
	keywords, err := json.Marshal(entry.Keywords)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO knowledge_entries
        (problem_key, solution, success_count, keywords, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(problem_key) DO UPDATE SET
            solution = excluded.solution,
            success_count = excluded.success_count,
            keywords = excluded.keywords,
            updated_at = excluded.updated_at;`,
		entry.ProblemKey, entry.Solution, entry.SuccessCount, string(keywords),
		entry.CreatedAt.UnixMilli(), entry.UpdatedAt.UnixMilli())
	return err
}

// Close closes the underlying *sql.DB.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(r rowScanner) (*domain.KnowledgeEntry, error) {
	var (
		e                domain.KnowledgeEntry
		keywords         string
		created, updated int64
	)
	if err := r.Scan(&e.ProblemKey, &e.Solution, &e.SuccessCount, &keywords, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(keywords), &e.Keywords); err != nil {
		return nil, fmt.Errorf("decode keywords for %s: %w", e.ProblemKey, err)
	}
	e.CreatedAt = time.UnixMilli(created).UTC()
	e.UpdatedAt = time.UnixMilli(updated).UTC()
	return &e, nil
}
