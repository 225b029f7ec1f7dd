package domain

import "time"

// KnowledgeEntry is a learned problem to solution association.
type KnowledgeEntry struct {
	ProblemKey   string
	Solution     string
	SuccessCount int
	Keywords     []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
