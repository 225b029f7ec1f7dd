package dto

import "time"

// AdminReplyRequest payload.
type AdminReplyRequest struct {
	Text string `json:"text"`
}

// AdminCloseRequest payload.
type AdminCloseRequest struct {
	// Text is an optional final answer recorded before closing.
	Text     string `json:"text"`
	Resolved bool   `json:"resolved"`
}

// SweepResponse reports a manual staleness sweep.
type SweepResponse struct {
	Escalated int       `json:"escalated"`
	At        time.Time `json:"at"`
}

// RateLimitStatusResponse describes one user's limiter state.
type RateLimitStatusResponse struct {
	UserID            int64          `json:"user_id"`
	Banned            bool           `json:"banned"`
	BanRemainingSecs  int            `json:"ban_remaining_seconds"`
	Suspicion         int            `json:"suspicion"`
	RemainingByAction map[string]int `json:"remaining"`
}

// AdminTicketDetailResponse adds the live conversation window and the
// owner's remembered issues to the ticket detail.
type AdminTicketDetailResponse struct {
	TicketDetailResponse
	Context     []ContextEntryResponse `json:"context"`
	KnownIssues []string               `json:"known_issues"`
}

// ContextEntryResponse is one conversation window entry.
type ContextEntryResponse struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}
