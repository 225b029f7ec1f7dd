package dto

import (
	"time"

	"github.com/spec-kit/support-bot/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	// AutoReply runs the escalation engine on the description; defaults to true.
	AutoReply *bool `json:"auto_reply,omitempty"`
}

// CreateMessageRequest payload.
type CreateMessageRequest struct {
	Text string `json:"text"`
}

// TicketSummary response.
type TicketSummary struct {
	ID               string              `json:"id"`
	UserID           int64               `json:"user_id"`
	Title            string              `json:"title"`
	Status           domain.TicketStatus `json:"status"`
	AIAttempts       int                 `json:"ai_attempts"`
	AutoEscalated    bool                `json:"auto_escalated"`
	EscalationReason string              `json:"escalation_reason,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	ClosedAt         *time.Time          `json:"closed_at,omitempty"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	TicketSummary
	Description string                  `json:"description"`
	Messages    []TicketMessageResponse `json:"messages"`
}

// TicketMessageResponse represents thread message.
type TicketMessageResponse struct {
	ID        string             `json:"id"`
	Role      domain.MessageRole `json:"role"`
	UserID    int64              `json:"user_id"`
	Body      string             `json:"body"`
	CreatedAt time.Time          `json:"created_at"`
}

// OutcomeResponse tells the adapter what to show the user.
type OutcomeResponse struct {
	Result string         `json:"result"`
	Reply  string         `json:"reply"`
	Reason string         `json:"reason,omitempty"`
	Match  *MatchResponse `json:"match,omitempty"`
	Ticket TicketSummary  `json:"ticket"`
}

// MatchResponse is a ranked knowledge entry.
type MatchResponse struct {
	ProblemKey   string  `json:"problem_key"`
	Solution     string  `json:"solution"`
	SuccessCount int     `json:"success_count"`
	Similarity   float64 `json:"similarity"`
}

// CreateTicketResponse pairs the new ticket with the first automated outcome.
type CreateTicketResponse struct {
	Ticket  TicketSummary    `json:"ticket"`
	Outcome *OutcomeResponse `json:"outcome,omitempty"`
}
