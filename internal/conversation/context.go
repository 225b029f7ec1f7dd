// Package conversation keeps a short, time-bounded view of each ticket's
// conversation and of what each user has complained about before. It is a
// derived cache; the ticket store's message log is the source of truth.
package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/spec-kit/support-bot/internal/cache"
	"github.com/spec-kit/support-bot/internal/clock"
	"github.com/spec-kit/support-bot/internal/domain"
)

const maxNoteKeywords = 3

// IssueNotePrefix starts the system note built from remembered issues.
const IssueNotePrefix = "User has reported similar issues before: "

// Entry is one message in a conversation window.
type Entry struct {
	Role domain.MessageRole
	Text string
	At   time.Time
}

type history struct {
	userID  int64
	entries []Entry
}

type userMemory struct {
	issues   []string
	lastSeen time.Time
}

// Options size the context store. Zero values pick the defaults.
type Options struct {
	MaxHistory int
	WindowSize int
	IssueCap   int
	MaxEntries int
	TTL        time.Duration
	Clock      clock.Clock
	Observer   cache.Observer
}

// Context is safe for concurrent use.
type Context struct {
	histories  *cache.TTLCache[history]
	users      *cache.TTLCache[userMemory]
	clock      clock.Clock
	maxHistory int
	windowSize int
	issueCap   int
}

// New builds a Context.
func New(opts Options) *Context {
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 20
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = 10
	}
	if opts.IssueCap <= 0 {
		opts.IssueCap = 10
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1000
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	clk := clock.OrReal(opts.Clock)
	c := &Context{
		histories:  cache.New[history](opts.MaxEntries, opts.TTL, clk),
		users:      cache.New[userMemory](opts.MaxEntries, opts.TTL, clk),
		clock:      clk,
		maxHistory: opts.MaxHistory,
		windowSize: opts.WindowSize,
		issueCap:   opts.IssueCap,
	}
	if opts.Observer != nil {
		c.histories.WithObserver(opts.Observer)
	}
	return c
}

// Append records a message for ticketID, keeping at most MaxHistory entries.
func (c *Context) Append(ticketID string, userID int64, role domain.MessageRole, text string) {
	now := c.clock.Now()
	c.histories.Update(ticketID, 0, func(h history, _ bool) history {
		h.userID = userID
		entries := append(h.entries, Entry{Role: role, Text: text, At: now})
		if over := len(entries) - c.maxHistory; over > 0 {
			entries = append([]Entry(nil), entries[over:]...)
		}
		h.entries = entries
		return h
	})
}

// Window returns the most recent WindowSize entries for ticketID. When the
// owning user has remembered issues, a system note naming them comes first.
func (c *Context) Window(ticketID string) []Entry {
	h, ok := c.histories.Get(ticketID)
	if !ok {
		return nil
	}
	recent := h.entries
	if len(recent) > c.windowSize {
		recent = recent[len(recent)-c.windowSize:]
	}

	out := make([]Entry, 0, len(recent)+1)
	if mem, ok := c.users.Get(userKey(h.userID)); ok && len(mem.issues) > 0 {
		out = append(out, Entry{
			Role: domain.RoleSystem,
			Text: IssueNotePrefix + strings.Join(lastN(mem.issues, maxNoteKeywords), ", "),
			At:   mem.lastSeen,
		})
	}
	return append(out, recent...)
}

// RememberIssue folds keywords into the user's rolling issue set. Repeated
// keywords move to the most recent position; the oldest fall off past IssueCap.
func (c *Context) RememberIssue(userID int64, keywords []string) {
	if len(keywords) == 0 {
		return
	}
	now := c.clock.Now()
	c.users.Update(userKey(userID), 0, func(m userMemory, _ bool) userMemory {
		issues := append([]string(nil), m.issues...)
		for _, kw := range keywords {
			issues = remove(issues, kw)
			issues = append(issues, kw)
		}
		if over := len(issues) - c.issueCap; over > 0 {
			issues = issues[over:]
		}
		m.issues = issues
		m.lastSeen = now
		return m
	})
}

// Issues returns the user's remembered issue keywords, oldest first.
func (c *Context) Issues(userID int64) []string {
	m, ok := c.users.Get(userKey(userID))
	if !ok {
		return nil
	}
	return append([]string(nil), m.issues...)
}

// Expire drops ticket histories with no entry newer than olderThan.
func (c *Context) Expire(olderThan time.Time) int {
	return c.histories.DeleteIf(func(_ string, h history) bool {
		if len(h.entries) == 0 {
			return true
		}
		return h.entries[len(h.entries)-1].At.Before(olderThan)
	})
}

// Rebuild replaces ticketID's history with the tail of msgs.
func (c *Context) Rebuild(ticketID string, userID int64, msgs []domain.TicketMessage) {
	if len(msgs) > c.maxHistory {
		msgs = msgs[len(msgs)-c.maxHistory:]
	}
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, Entry{Role: m.Role(), Text: m.Body, At: m.CreatedAt})
	}
	c.histories.Set(ticketID, history{userID: userID, entries: entries}, 0)
}

// Has reports whether ticketID has a live history.
func (c *Context) Has(ticketID string) bool {
	_, ok := c.histories.Get(ticketID)
	return ok
}

// Clear forgets ticketID's history.
func (c *Context) Clear(ticketID string) {
	c.histories.Invalidate(ticketID)
}

// Sweep drops expired entries from both caches.
func (c *Context) Sweep() int {
	return c.histories.Sweep() + c.users.Sweep()
}

func userKey(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func remove(items []string, v string) []string {
	for i, it := range items {
		if it == v {
			return append(items[:i], items[i+1:]...)
		}
	}
	return items
}
