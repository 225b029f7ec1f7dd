package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-bot/internal/clock"
	"github.com/spec-kit/support-bot/internal/conversation"
	"github.com/spec-kit/support-bot/internal/domain"
	"github.com/spec-kit/support-bot/internal/events"
	"github.com/spec-kit/support-bot/internal/ratelimit"
	"github.com/spec-kit/support-bot/internal/repository"
	apperrors "github.com/spec-kit/support-bot/pkg/util/errorutil"
)

// maxTitleLength is counted in characters.
const maxTitleLength = 200

// TicketService coordinates ticket workflows for users and admins. Inbound
// user messages are handed to the escalation engine.
type TicketService struct {
	tickets    repository.TicketRepository
	messages   repository.TicketMessageRepository
	engine     *EscalationService
	limiter    RateLimiter
	context    *conversation.Context
	dispatcher events.Dispatcher
	clock      clock.Clock
	logger     *zap.Logger
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	MessageRepo repository.TicketMessageRepository
	Engine      *EscalationService
	Limiter     RateLimiter
	Context     *conversation.Context
	Dispatcher  events.Dispatcher
	Clock       clock.Clock
	Logger      *zap.Logger
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description string
}

// DispatchResult is the union of what Dispatch can produce.
type DispatchResult struct {
	Outcome   *Outcome
	Ticket    *domain.Ticket
	Message   *domain.TicketMessage
	Escalated int
}

// NewTicketService wires the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	convo := deps.Context
	if convo == nil && deps.Engine != nil {
		convo = deps.Engine.context
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		messages:   deps.MessageRepo,
		engine:     deps.Engine,
		limiter:    deps.Limiter,
		context:    convo,
		dispatcher: deps.Dispatcher,
		clock:      clock.OrReal(deps.Clock),
		logger:     logger,
	}
}

// Dispatch routes a command to the operation that handles it.
func (s *TicketService) Dispatch(ctx context.Context, cmd domain.Command) (*DispatchResult, error) {
	switch c := cmd.(type) {
	case domain.InboundMessage:
		out, err := s.engine.HandleInbound(ctx, c.TicketID, c.Text)
		if err != nil {
			return nil, err
		}
		return &DispatchResult{Outcome: out, Ticket: out.Ticket}, nil
	case domain.AdminAction:
		switch c.Kind {
		case domain.AdminReply:
			msg, err := s.AdminReply(ctx, c.AdminID, c.TicketID, c.Text)
			if err != nil {
				return nil, err
			}
			return &DispatchResult{Message: msg}, nil
		case domain.AdminClose, domain.AdminResolve:
			ticket, err := s.AdminClose(ctx, c.AdminID, c.TicketID, c.Kind == domain.AdminResolve, c.Text)
			if err != nil {
				return nil, err
			}
			return &DispatchResult{Ticket: ticket}, nil
		default:
			return nil, apperrors.NewValidationError("unknown admin action", map[string]any{"kind": c.Kind})
		}
	case domain.ScheduledSweep:
		at := c.At
		if at.IsZero() {
			at = s.clock.Now()
		}
		n, err := s.engine.SweepStale(ctx, at)
		return &DispatchResult{Escalated: n}, err
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported command %T", cmd), nil)
	}
}

// OpenTicket creates an open ticket owned by userID.
func (s *TicketService) OpenTicket(ctx context.Context, userID int64, input TicketCreateInput) (*domain.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" && description == "" {
		return nil, apperrors.NewValidationError("title or description required", nil)
	}
	if title == "" {
		title = description
	}
	title = truncateRunes(title, maxTitleLength)

	if err := s.allow(ctx, userID, ratelimit.ActionOpenTicket); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	ticket := &domain.Ticket{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       title,
		Description: description,
		Status:      domain.TicketStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketOpened,
		TicketID: ticket.ID,
		UserID:   userID,
		Payload:  events.TicketOpenedPayload{Title: ticket.Title},
	})
	return ticket, nil
}

// ListUserTickets returns tickets owned by userID, most recently updated first.
func (s *TicketService) ListUserTickets(ctx context.Context, userID int64, limit, offset int) ([]domain.Ticket, error) {
	return s.tickets.ListByUser(ctx, userID, limit, offset)
}

// GetTicket loads a ticket and its thread.
func (s *TicketService) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, []domain.TicketMessage, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.messages.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	return ticket, msgs, nil
}

// Conversation returns the ticket's live conversation window and the issues
// remembered for its owner.
func (s *TicketService) Conversation(ctx context.Context, ticket *domain.Ticket) ([]conversation.Entry, []string, error) {
	return s.engine.Conversation(ctx, ticket)
}

// GetTicketForUser is GetTicket restricted to the ticket owner.
func (s *TicketService) GetTicketForUser(ctx context.Context, userID int64, ticketID string) (*domain.Ticket, []domain.TicketMessage, error) {
	ticket, msgs, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	if ticket.UserID != userID {
		return nil, nil, apperrors.NewForbidden("ticket belongs to another user")
	}
	return ticket, msgs, nil
}

// SendMessage records a user message on their own ticket and runs the
// escalation engine on it.
func (s *TicketService) SendMessage(ctx context.Context, userID int64, ticketID, text string) (*Outcome, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.UserID != userID {
		return nil, apperrors.NewForbidden("ticket belongs to another user")
	}
	if err := s.allow(ctx, userID, ratelimit.ActionSendMessage); err != nil {
		return nil, err
	}
	return s.engine.HandleInbound(ctx, ticketID, text)
}

// CloseByUser closes the user's own ticket.
func (s *TicketService) CloseByUser(ctx context.Context, userID int64, ticketID string) (*domain.Ticket, error) {
	unlock := s.engine.locks.lock(ticketID)
	defer unlock()

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.UserID != userID {
		return nil, apperrors.NewForbidden("ticket belongs to another user")
	}
	if err := s.closeLocked(ctx, ticket, domain.TicketStatusClosed, "user"); err != nil {
		return nil, err
	}
	return ticket, nil
}

// AdminReply appends an admin message to a ticket that is not closed.
func (s *TicketService) AdminReply(ctx context.Context, adminID int64, ticketID, text string) (*domain.TicketMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.NewValidationError("message text required", nil)
	}
	if err := s.allow(ctx, adminID, ratelimit.ActionAdminAction); err != nil {
		return nil, err
	}

	unlock := s.engine.locks.lock(ticketID)
	defer unlock()

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status.IsTerminal() {
		return nil, apperrors.NewInvalidTicketState(ErrInvalidTicketState, ticket.ID, string(ticket.Status))
	}

	msg, err := s.appendAdminMessage(ctx, ticket, adminID, text)
	if err != nil {
		return nil, err
	}
	ticket.UpdatedAt = msg.CreatedAt
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, err
	}
	return msg, nil
}

// AdminClose closes a ticket on an admin's behalf, optionally recording a
// final admin message first. resolved marks the last admin message as the
// solution. Either way the latest admin message is learned.
func (s *TicketService) AdminClose(ctx context.Context, adminID int64, ticketID string, resolved bool, text string) (*domain.Ticket, error) {
	if err := s.allow(ctx, adminID, ratelimit.ActionAdminAction); err != nil {
		return nil, err
	}

	unlock := s.engine.locks.lock(ticketID)
	defer unlock()

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status.IsTerminal() {
		return nil, apperrors.NewInvalidTicketState(ErrInvalidTicketState, ticket.ID, string(ticket.Status))
	}
	if text = strings.TrimSpace(text); text != "" {
		if _, err := s.appendAdminMessage(ctx, ticket, adminID, text); err != nil {
			return nil, err
		}
	}

	next := domain.TicketStatusClosed
	if resolved {
		next = domain.TicketStatusResolved
	}
	if err := s.closeLocked(ctx, ticket, next, "admin"); err != nil {
		return nil, err
	}
	return ticket, nil
}

func (s *TicketService) closeLocked(ctx context.Context, ticket *domain.Ticket, next domain.TicketStatus, closedBy string) error {
	if !isValidTransition(ticket.Status, next) {
		return apperrors.NewInvalidTicketState(ErrInvalidTicketState, ticket.ID, string(ticket.Status))
	}
	now := s.clock.Now()
	ticket.Status = next
	ticket.UpdatedAt = now
	ticket.ClosedAt = &now
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return err
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketClosed,
		TicketID: ticket.ID,
		UserID:   ticket.UserID,
		Payload:  events.TicketClosedPayload{Status: string(next), ClosedBy: closedBy},
	})

	if _, err := s.engine.learnLocked(ctx, ticket); err != nil {
		s.logger.Warn("learning on close failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
	}
	if s.context != nil {
		s.context.Clear(ticket.ID)
	}
	return nil
}

func (s *TicketService) appendAdminMessage(ctx context.Context, ticket *domain.Ticket, adminID int64, text string) (*domain.TicketMessage, error) {
	msg := &domain.TicketMessage{
		ID:        uuid.NewString(),
		TicketID:  ticket.ID,
		UserID:    adminID,
		Body:      text,
		IsAdmin:   true,
		CreatedAt: s.clock.Now(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	if s.context != nil {
		s.context.Append(ticket.ID, ticket.UserID, domain.RoleAdmin, text)
	}
	return msg, nil
}

func (s *TicketService) allow(ctx context.Context, userID int64, action string) error {
	if s.limiter == nil || s.limiter.Allow(userID, action) {
		return nil
	}
	if s.engine != nil {
		return s.engine.rejectRateLimited(ctx, userID, action)
	}
	return apperrors.NewRateLimited(ErrRateLimited, action, s.limiter.ResetIn(userID, action))
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusOpen:      {domain.TicketStatusEscalated, domain.TicketStatusClosed, domain.TicketStatusResolved},
	domain.TicketStatusEscalated: {domain.TicketStatusClosed, domain.TicketStatusResolved},
	domain.TicketStatusClosed:    {},
	domain.TicketStatusResolved:  {},
}

func isValidTransition(current, next domain.TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// truncateRunes cuts text to at most n characters without splitting one.
func truncateRunes(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	i, count := 0, 0
	for i < len(text) && count < n {
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
		count++
	}
	return strings.TrimSpace(text[:i])
}
