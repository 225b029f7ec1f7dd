// Package knowledge matches problem descriptions against solutions learned
// from tickets that humans resolved.
package knowledge

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/spec-kit/support-bot/internal/clock"
	"github.com/spec-kit/support-bot/internal/domain"
	apperrors "github.com/spec-kit/support-bot/pkg/util/errorutil"
)

const (
	DefaultThreshold  = 0.3
	DefaultMaxMatches = 5
	problemKeyWords   = 3
)

// Store persists knowledge entries keyed by problem key.
type Store interface {
	All(ctx context.Context) ([]domain.KnowledgeEntry, error)
	// Get returns errorutil.ErrNotFound when key is unknown.
	Get(ctx context.Context, key string) (*domain.KnowledgeEntry, error)
	Save(ctx context.Context, entry *domain.KnowledgeEntry) error
}

// Match is a ranked candidate answer.
type Match struct {
	ProblemKey   string
	Solution     string
	SuccessCount int
	Similarity   float64
}

// Matcher ranks stored solutions by keyword overlap and learns new ones.
type Matcher struct {
	store      Store
	clock      clock.Clock
	threshold  float64
	maxMatches int

	learnMu sync.Mutex
}

// Options tune a Matcher. Zero values pick the defaults.
type Options struct {
	Threshold  float64
	MaxMatches int
	Clock      clock.Clock
}

// NewMatcher builds a matcher over store.
func NewMatcher(store Store, opts Options) *Matcher {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MaxMatches <= 0 {
		opts.MaxMatches = DefaultMaxMatches
	}
	return &Matcher{
		store:      store,
		clock:      clock.OrReal(opts.Clock),
		threshold:  opts.Threshold,
		maxMatches: opts.MaxMatches,
	}
}

// Threshold returns the default similarity threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// FindMatches returns up to MaxMatches entries whose similarity to keywords
// is at least threshold, best first by success count then similarity.
// threshold <= 0 uses the matcher's default.
func (m *Matcher) FindMatches(ctx context.Context, keywords []string, threshold float64) ([]Match, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	if threshold <= 0 {
		threshold = m.threshold
	}
	entries, err := m.store.All(ctx)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, e := range entries {
		sim := Jaccard(keywords, e.Keywords)
		if sim == 0 || sim < threshold {
			continue
		}
		matches = append(matches, Match{
			ProblemKey:   e.ProblemKey,
			Solution:     e.Solution,
			SuccessCount: e.SuccessCount,
			Similarity:   sim,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].SuccessCount != matches[j].SuccessCount {
			return matches[i].SuccessCount > matches[j].SuccessCount
		}
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > m.maxMatches {
		matches = matches[:m.maxMatches]
	}
	return matches, nil
}

// Learn records that solution resolved problem. An existing entry with the
// same problem key is reinforced; otherwise a new entry is created. Problems
// without keywords are ignored and return nil.
func (m *Matcher) Learn(ctx context.Context, problem, solution string) (*domain.KnowledgeEntry, error) {
	keywords := ExtractKeywords(problem)
	if len(keywords) == 0 || strings.TrimSpace(solution) == "" {
		return nil, nil
	}
	key := ProblemKey(keywords)
	now := m.clock.Now()

	m.learnMu.Lock()
	defer m.learnMu.Unlock()

	entry, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		entry = &domain.KnowledgeEntry{
			ProblemKey:   key,
			SuccessCount: 1,
			CreatedAt:    now,
		}
	case err != nil:
		return nil, err
	default:
		entry.SuccessCount++
	}
	entry.Solution = strings.TrimSpace(solution)
	entry.Keywords = keywords
	entry.UpdatedAt = now

	if err := m.store.Save(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// ProblemKey joins the first three keywords in sorted order.
func ProblemKey(keywords []string) string {
	n := min(len(keywords), problemKeyWords)
	head := append([]string(nil), keywords[:n]...)
	sort.Strings(head)
	return strings.Join(head, "_")
}
