package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen      TicketStatus = "open"
	TicketStatusEscalated TicketStatus = "escalated"
	TicketStatusClosed    TicketStatus = "closed"
	// TicketStatusResolved is a closed ticket with a recorded human solution.
	TicketStatusResolved TicketStatus = "resolved"
)

// IsTerminal reports whether no further transitions are possible.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusClosed || s == TicketStatusResolved
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID            string
	UserID        int64
	Title         string
	Description   string
	Status        TicketStatus
	AIAttempts    int
	AutoEscalated bool
	// EscalationReason is set when the ticket leaves automation.
	EscalationReason string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ClosedAt         *time.Time
}

// Clone returns a copy that shares no pointers with t.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	if t.ClosedAt != nil {
		closed := *t.ClosedAt
		cp.ClosedAt = &closed
	}
	return &cp
}
