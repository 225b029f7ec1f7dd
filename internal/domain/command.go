package domain

import "time"

// Command is the input accepted by the escalation engine. Adapters resolve
// raw platform updates into exactly one of the concrete command types.
type Command interface {
	isCommand()
}

// AdminActionKind enumerates admin operations on a ticket.
type AdminActionKind string

const (
	AdminReply   AdminActionKind = "reply"
	AdminClose   AdminActionKind = "close"
	AdminResolve AdminActionKind = "resolve"
)

// InboundMessage is a user's message on an existing ticket.
type InboundMessage struct {
	TicketID string
	Text     string
}

// AdminAction is a human operator acting on a ticket.
type AdminAction struct {
	TicketID string
	AdminID  int64
	Kind     AdminActionKind
	Text     string
}

// ScheduledSweep asks for a staleness sweep as of At.
type ScheduledSweep struct {
	At time.Time
}

func (InboundMessage) isCommand() {}
func (AdminAction) isCommand()    {}
func (ScheduledSweep) isCommand() {}
