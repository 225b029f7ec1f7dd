package knowledge

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/spec-kit/support-bot/internal/cache"
	"github.com/spec-kit/support-bot/internal/clock"
	"github.com/spec-kit/support-bot/internal/domain"
)

const allEntriesKey = "knowledge:all"

// CachedStore keeps a TTL-bounded snapshot of the backing store's entries so
// matching does not hit the database on every message. Saves drop the
// snapshot.
type CachedStore struct {
	backing  Store
	snapshot *cache.TTLCache[[]domain.KnowledgeEntry]
	// gen is bumped on every Save; a snapshot loaded under an older
	// generation is not cached.
	gen atomic.Uint64
}

// NewCachedStore wraps backing. ttl <= 0 picks the cache default.
func NewCachedStore(backing Store, ttl time.Duration, clk clock.Clock, observer cache.Observer) *CachedStore {
	snapshot := cache.New[[]domain.KnowledgeEntry](1, ttl, clk)
	if observer != nil {
		snapshot.WithObserver(observer)
	}
	return &CachedStore{backing: backing, snapshot: snapshot}
}

func (s *CachedStore) All(ctx context.Context) ([]domain.KnowledgeEntry, error) {
	if entries, ok := s.snapshot.Get(allEntriesKey); ok {
		return append([]domain.KnowledgeEntry(nil), entries...), nil
	}
	gen := s.gen.Load()
	entries, err := s.backing.All(ctx)
	if err != nil {
		return nil, err
	}
	if s.gen.Load() == gen {
		s.snapshot.Set(allEntriesKey, entries, 0)
	}
	return append([]domain.KnowledgeEntry(nil), entries...), nil
}

func (s *CachedStore) Get(ctx context.Context, key string) (*domain.KnowledgeEntry, error) {
	return s.backing.Get(ctx, key)
}

func (s *CachedStore) Save(ctx context.Context, entry *domain.KnowledgeEntry) error {
	s.gen.Add(1)
	defer s.snapshot.Invalidate(allEntriesKey)
	return s.backing.Save(ctx, entry)
}
