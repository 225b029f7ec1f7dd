package domain

import "time"

// AIUserID is the user id recorded on messages written by the automated responder.
const AIUserID int64 = 0

// MessageRole labels a conversation entry.
type MessageRole string

const (
	RoleUser   MessageRole = "user"
	RoleAdmin  MessageRole = "admin"
	RoleAI     MessageRole = "assistant"
	RoleSystem MessageRole = "system"
)

// TicketMessage is an append-only entry in a ticket thread. At most one of
// IsAdmin and IsAI is set.
type TicketMessage struct {
	ID        string
	TicketID  string
	UserID    int64
	Body      string
	IsAdmin   bool
	IsAI      bool
	CreatedAt time.Time
}

// Role derives the conversation role of the message.
func (m TicketMessage) Role() MessageRole {
	switch {
	case m.IsAdmin:
		return RoleAdmin
	case m.IsAI:
		return RoleAI
	default:
		return RoleUser
	}
}
