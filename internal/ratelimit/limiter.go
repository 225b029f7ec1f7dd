// Package ratelimit implements per-user sliding-window limits with a
// suspicion score that tightens limits and eventually bans abusive users.
package ratelimit

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/spec-kit/support-bot/internal/clock"
	"github.com/spec-kit/support-bot/internal/config"
)

const shardCount = 32

// Well-known actions.
const (
	ActionSearchList  = "search_list"
	ActionOpenTicket  = "open_ticket"
	ActionSendMessage = "send_message"
	ActionAdminAction = "admin_action"
	ActionAIRequest   = "ai_request"
)

// Rule is a limit of Limit actions per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Config tunes the limiter.
type Config struct {
	Rules        map[string]Rule
	BanThreshold int
	BanDuration  time.Duration
	Adaptive     bool
}

// Observer is notified about denials and bans.
type Observer interface {
	RateLimitHit(action string)
	UserBanned()
}

// Stats summarizes the limiter's state.
type Stats struct {
	TrackedUsers    int `json:"total_users_tracked"`
	TrackedActions  int `json:"total_actions_tracked"`
	ActiveBans      int `json:"active_bans"`
	SuspiciousUsers int `json:"suspicious_users"`
}

type userState struct {
	actions   map[string][]time.Time
	suspicion int
	banUntil  time.Time
}

type shard struct {
	mu    sync.Mutex
	users map[int64]*userState
}

// Limiter is safe for concurrent use. Operations on one user are serialized
// by that user's shard lock.
type Limiter struct {
	cfg      Config
	clock    clock.Clock
	shards   [shardCount]*shard
	observer Observer
}

// New builds a Limiter.
func New(cfg Config, clk clock.Clock) *Limiter {
	if cfg.BanThreshold <= 0 {
		cfg.BanThreshold = 5
	}
	if cfg.BanDuration <= 0 {
		cfg.BanDuration = time.Hour
	}
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}
	l := &Limiter{cfg: cfg, clock: clock.OrReal(clk)}
	for i := range l.shards {
		l.shards[i] = &shard{users: make(map[int64]*userState)}
	}
	return l
}

// NewFromConfig builds a Limiter from the application configuration.
func NewFromConfig(cfg config.RateLimitConfig, clk clock.Clock) *Limiter {
	rules := make(map[string]Rule, len(cfg.Table))
	for action, r := range cfg.Table {
		rules[action] = Rule{Limit: r.Limit, Window: time.Duration(r.WindowSeconds) * time.Second}
	}
	return New(Config{
		Rules:        rules,
		BanThreshold: cfg.BanThreshold,
		BanDuration:  time.Duration(cfg.BanDurationSeconds) * time.Second,
		Adaptive:     cfg.Adaptive,
	}, clk)
}

// DefaultRules returns the built-in action table.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		ActionSearchList:  {Limit: 10, Window: time.Minute},
		ActionOpenTicket:  {Limit: 3, Window: 5 * time.Minute},
		ActionSendMessage: {Limit: 20, Window: time.Minute},
		ActionAdminAction: {Limit: 50, Window: time.Minute},
		ActionAIRequest:   {Limit: 5, Window: time.Minute},
	}
}

// WithObserver attaches an observer and returns the limiter.
func (l *Limiter) WithObserver(o Observer) *Limiter {
	l.observer = o
	return l
}

// Rule returns the configured rule for action.
func (l *Limiter) Rule(action string) (Rule, bool) {
	r, ok := l.cfg.Rules[action]
	return r, ok
}

// Actions lists the actions that have a rule, sorted.
func (l *Limiter) Actions() []string {
	out := make([]string, 0, len(l.cfg.Rules))
	for action := range l.cfg.Rules {
		out = append(out, action)
	}
	sort.Strings(out)
	return out
}

// Allow checks action against the configured table, using the adaptive
// entry point when enabled. Actions without a rule are always allowed.
func (l *Limiter) Allow(userID int64, action string) bool {
	rule, ok := l.cfg.Rules[action]
	if !ok {
		return true
	}
	if l.cfg.Adaptive {
		return l.CheckAdaptive(userID, action, rule.Limit, rule.Window)
	}
	return l.Check(userID, action, rule.Limit, rule.Window)
}

// Check records an attempt of action by userID and reports whether it is
// allowed. A banned user is rejected before any window accounting.
func (l *Limiter) Check(userID int64, action string, limit int, window time.Duration) bool {
	s := l.shardFor(userID)
	s.mu.Lock()
	allowed, banned := l.checkLocked(s, userID, action, limit, window, false)
	s.mu.Unlock()
	l.notify(action, allowed, banned)
	return allowed
}

// CheckAdaptive is Check with limit divided by (suspicion+1) and the window
// halved for users with nonzero suspicion.
func (l *Limiter) CheckAdaptive(userID int64, action string, limit int, window time.Duration) bool {
	s := l.shardFor(userID)
	s.mu.Lock()
	allowed, banned := l.checkLocked(s, userID, action, limit, window, true)
	s.mu.Unlock()
	l.notify(action, allowed, banned)
	return allowed
}

func (l *Limiter) checkLocked(s *shard, userID int64, action string, limit int, window time.Duration, adaptive bool) (allowed, banned bool) {
	now := l.clock.Now()
	st := s.users[userID]
	if st != nil && now.Before(st.banUntil) {
		return false, false
	}
	if st == nil {
		st = &userState{actions: make(map[string][]time.Time)}
		s.users[userID] = st
	}
	if adaptive && st.suspicion > 0 {
		limit = max(1, limit/(st.suspicion+1))
		window /= 2
	}

	recent := prune(st.actions[action], now, window)
	st.actions[action] = recent

	if len(recent) >= limit {
		st.suspicion++
		if st.suspicion >= l.cfg.BanThreshold {
			st.banUntil = now.Add(l.cfg.BanDuration)
			banned = true
		}
		return false, banned
	}

	st.actions[action] = append(recent, now)
	if st.suspicion > 0 {
		st.suspicion--
	}
	return true, false
}

// Remaining reports how many more actions userID may perform right now.
func (l *Limiter) Remaining(userID int64, action string) int {
	rule, ok := l.cfg.Rules[action]
	if !ok {
		return 0
	}
	s := l.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := l.clock.Now()
	st := s.users[userID]
	if st == nil {
		return rule.Limit
	}
	if now.Before(st.banUntil) {
		return 0
	}
	used := len(prune(st.actions[action], now, rule.Window))
	return max(0, rule.Limit-used)
}

// BanStatus reports whether userID is banned and for how much longer.
func (l *Limiter) BanStatus(userID int64) (bool, time.Duration) {
	s := l.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.users[userID]
	if st == nil {
		return false, 0
	}
	now := l.clock.Now()
	if now.Before(st.banUntil) {
		return true, st.banUntil.Sub(now)
	}
	return false, 0
}

// ResetIn reports how long until the oldest recorded action leaves the window.
func (l *Limiter) ResetIn(userID int64, action string) time.Duration {
	rule, ok := l.cfg.Rules[action]
	if !ok {
		return 0
	}
	s := l.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.users[userID]
	if st == nil || len(st.actions[action]) == 0 {
		return 0
	}
	oldest := st.actions[action][0]
	return max(0, rule.Window-l.clock.Now().Sub(oldest))
}

// Suspicion returns the user's current suspicion score.
func (l *Limiter) Suspicion(userID int64) int {
	s := l.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.users[userID]; st != nil {
		return st.suspicion
	}
	return 0
}

// Clear forgets everything about userID, lifting any ban.
func (l *Limiter) Clear(userID int64) {
	s := l.shardFor(userID)
	s.mu.Lock()
	delete(s.users, userID)
	s.mu.Unlock()
}

// Stats walks every shard.
func (l *Limiter) Stats() Stats {
	var out Stats
	now := l.clock.Now()
	for _, s := range l.shards {
		s.mu.Lock()
		for _, st := range s.users {
			if len(st.actions) > 0 {
				out.TrackedUsers++
			}
			for _, ts := range st.actions {
				out.TrackedActions += len(ts)
			}
			if now.Before(st.banUntil) {
				out.ActiveBans++
			}
			if st.suspicion > 0 {
				out.SuspiciousUsers++
			}
		}
		s.mu.Unlock()
	}
	return out
}

func (l *Limiter) notify(action string, allowed, banned bool) {
	if l.observer == nil || allowed {
		return
	}
	l.observer.RateLimitHit(action)
	if banned {
		l.observer.UserBanned()
	}
}

func (l *Limiter) shardFor(userID int64) *shard {
	return l.shards[xxhash.Sum64String(strconv.FormatInt(userID, 10))%shardCount]
}

// prune drops timestamps that are window or more old. ts is ordered, so the
// survivors are a suffix.
func prune(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(ts) && now.Sub(ts[i]) >= window {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}
