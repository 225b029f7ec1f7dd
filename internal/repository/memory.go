package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/support-bot/internal/domain"
	apperrors "github.com/spec-kit/support-bot/pkg/util/errorutil"
)

// MemoryTicketRepository is an in-process TicketRepository used when no
// database is configured and in tests.
type MemoryTicketRepository struct {
	mu      sync.RWMutex
	tickets map[string]*domain.Ticket
}

// NewMemoryTicketRepository returns an empty repository.
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{tickets: make(map[string]*domain.Ticket)}
}

func (r *MemoryTicketRepository) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tickets[ticket.ID]; exists {
		return apperrors.NewConflict("ticket already exists", map[string]any{"ticket_id": ticket.ID})
	}
	r.tickets[ticket.ID] = ticket.Clone()
	return nil
}

func (r *MemoryTicketRepository) Update(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tickets[ticket.ID]; !exists {
		return apperrors.ErrNotFound
	}
	r.tickets[ticket.ID] = ticket.Clone()
	return nil
}

func (r *MemoryTicketRepository) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tickets[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return t.Clone(), nil
}

func (r *MemoryTicketRepository) ListByUser(_ context.Context, userID int64, limit, offset int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 20
	}
	r.mu.RLock()
	var out []domain.Ticket
	for _, t := range r.tickets {
		if t.UserID == userID {
			out = append(out, *t.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[max(offset, 0):]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryTicketRepository) FindStaleOpen(_ context.Context, cutoff time.Time) ([]domain.Ticket, error) {
	r.mu.RLock()
	var out []domain.Ticket
	for _, t := range r.tickets {
		if t.Status == domain.TicketStatusOpen && t.UpdatedAt.Before(cutoff) {
			out = append(out, *t.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// MemoryTicketMessageRepository is an in-process TicketMessageRepository.
type MemoryTicketMessageRepository struct {
	mu       sync.RWMutex
	byTicket map[string][]domain.TicketMessage
}

// NewMemoryTicketMessageRepository returns an empty repository.
func NewMemoryTicketMessageRepository() *MemoryTicketMessageRepository {
	return &MemoryTicketMessageRepository{byTicket: make(map[string][]domain.TicketMessage)}
}

func (r *MemoryTicketMessageRepository) Create(_ context.Context, msg *domain.TicketMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTicket[msg.TicketID] = append(r.byTicket[msg.TicketID], *msg)
	return nil
}

func (r *MemoryTicketMessageRepository) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return orderedCopy(r.byTicket[ticketID], func(domain.TicketMessage) bool { return true }), nil
}

func (r *MemoryTicketMessageRepository) ListAdminMessages(_ context.Context, ticketID string) ([]domain.TicketMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return orderedCopy(r.byTicket[ticketID], func(m domain.TicketMessage) bool { return m.IsAdmin }), nil
}

func orderedCopy(msgs []domain.TicketMessage, keep func(domain.TicketMessage) bool) []domain.TicketMessage {
	out := make([]domain.TicketMessage, 0, len(msgs))
	for _, m := range msgs {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
