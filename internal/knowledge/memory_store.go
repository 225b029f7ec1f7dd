package knowledge

import (
	"context"
	"sort"
	"sync"

	"github.com/spec-kit/support-bot/internal/domain"
	apperrors "github.com/spec-kit/support-bot/pkg/util/errorutil"
)

type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]domain.KnowledgeEntry
}

// NewMemoryStore returns an in-process Store, optionally pre-seeded.
func NewMemoryStore(seed ...domain.KnowledgeEntry) Store {
	s := &memoryStore{entries: make(map[string]domain.KnowledgeEntry, len(seed))}
	for _, e := range seed {
		s.entries[e.ProblemKey] = cloneEntry(e)
	}
	return s
}

func (s *memoryStore) All(_ context.Context) ([]domain.KnowledgeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.KnowledgeEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProblemKey < out[j].ProblemKey })
	return out, nil
}

func (s *memoryStore) Get(_ context.Context, key string) (*domain.KnowledgeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := cloneEntry(e)
	return &cp, nil
}

func (s *memoryStore) Save(_ context.Context, entry *domain.KnowledgeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ProblemKey] = cloneEntry(*entry)
	return nil
}

func cloneEntry(e domain.KnowledgeEntry) domain.KnowledgeEntry {
	e.Keywords = append([]string(nil), e.Keywords...)
	return e
}
