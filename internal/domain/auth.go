package domain

import "time"

// ClientRole differentiates chat adapters from admin tooling.
type ClientRole string

const (
	// ClientRoleAdapter clients relay end-user traffic.
	ClientRoleAdapter ClientRole = "ADAPTER"
	ClientRoleAdmin   ClientRole = "ADMIN"
)

// Token represents an issued access token.
type Token struct {
	Value     string
	ClientID  string
	Role      ClientRole
	ExpiresAt time.Time
	IssuedAt  time.Time
}
