package events

import (
	"time"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventResponded        EventType = "RESPONDED"
	EventEscalate         EventType = "ESCALATE"
	EventRateLimited      EventType = "RATE_LIMITED"
	EventTicketOpened     EventType = "TICKET_OPENED"
	EventTicketClosed     EventType = "TICKET_CLOSED"
	EventKnowledgeLearned EventType = "KNOWLEDGE_LEARNED"
)

// AllTypes lists every event type, in a stable order.
var AllTypes = []EventType{
	EventResponded,
	EventEscalate,
	EventRateLimited,
	EventTicketOpened,
	EventTicketClosed,
	EventKnowledgeLearned,
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id,omitempty"`
	UserID    int64       `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// RespondedPayload carries an automated answer back to the user.
type RespondedPayload struct {
	Text         string  `json:"text"`
	SuccessCount int     `json:"success_count"`
	Similarity   float64 `json:"similarity"`
	Attempt      int     `json:"attempt"`
}

// EscalatePayload tells operators a ticket needs a human. Context is the
// conversation window at hand-over time, system notes first.
type EscalatePayload struct {
	Reason   string        `json:"reason"`
	Attempts int           `json:"attempts"`
	Context  []ContextLine `json:"context,omitempty"`
}

// ContextLine is one conversation entry attached to an alert.
type ContextLine struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// RateLimitedPayload tells the adapter to show a cooldown notice.
type RateLimitedPayload struct {
	Action            string `json:"action"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// TicketOpenedPayload payload.
type TicketOpenedPayload struct {
	Title string `json:"title"`
}

// TicketClosedPayload payload.
type TicketClosedPayload struct {
	Status   string `json:"status"`
	ClosedBy string `json:"closed_by"`
}

// KnowledgeLearnedPayload payload.
type KnowledgeLearnedPayload struct {
	ProblemKey   string `json:"problem_key"`
	SuccessCount int    `json:"success_count"`
}
