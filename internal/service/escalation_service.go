package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-bot/internal/clock"
	"github.com/spec-kit/support-bot/internal/config"
	"github.com/spec-kit/support-bot/internal/conversation"
	"github.com/spec-kit/support-bot/internal/domain"
	"github.com/spec-kit/support-bot/internal/events"
	"github.com/spec-kit/support-bot/internal/knowledge"
	"github.com/spec-kit/support-bot/internal/observability"
	"github.com/spec-kit/support-bot/internal/ratelimit"
	"github.com/spec-kit/support-bot/internal/repository"
	apperrors "github.com/spec-kit/support-bot/pkg/util/errorutil"
)

// Escalation reasons.
const (
	ReasonFirstAttemptFailed = "AI unable to help on first attempt"
	ReasonNoMatch            = "no matching solution"
	ReasonAttemptsExhausted  = "attempts exhausted"
	ReasonNoResponseTimeout  = "no response timeout"
)

var (
	ErrRateLimited        = errors.New("rate limited")
	ErrInvalidTicketState = errors.New("invalid ticket state")
)

// InboundResult classifies what happened to an inbound message.
type InboundResult string

const (
	ResultResponded InboundResult = "responded"
	ResultEscalated InboundResult = "escalated"
	// ResultForwarded means the ticket is already with a human; the message
	// was recorded without an automated attempt.
	ResultForwarded InboundResult = "forwarded"
)

const (
	handoffNotice   = "I couldn't find a solution for this problem. Your request has been forwarded to our support team and an admin will assist you soon."
	forwardedNotice = "Your message has been added to the ticket. An admin will reply soon."
)

// KnowledgeMatcher finds and learns solutions.
type KnowledgeMatcher interface {
	FindMatches(ctx context.Context, keywords []string, threshold float64) ([]knowledge.Match, error)
	Learn(ctx context.Context, problem, solution string) (*domain.KnowledgeEntry, error)
}

// RateLimiter gates user actions.
type RateLimiter interface {
	Allow(userID int64, action string) bool
	ResetIn(userID int64, action string) time.Duration
	BanStatus(userID int64) (bool, time.Duration)
}

// Outcome describes how an inbound message was handled.
type Outcome struct {
	Ticket *domain.Ticket
	Result InboundResult
	// Reply is what the user should be shown.
	Reply  string
	Match  *knowledge.Match
	Reason string
	// Context is the conversation handed to a human; set on escalation.
	Context []conversation.Entry
}

// EscalationDependencies bundles collaborators for the escalation engine.
type EscalationDependencies struct {
	TicketRepo  repository.TicketRepository
	MessageRepo repository.TicketMessageRepository
	Matcher     KnowledgeMatcher
	Limiter     RateLimiter
	Context     *conversation.Context
	Dispatcher  events.Dispatcher
	Clock       clock.Clock
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	Config      config.EscalationConfig
	// MatchThreshold <= 0 uses the matcher's default.
	MatchThreshold float64
}

// EscalationService decides, per inbound message, whether automation answers
// or a human takes over. Work on one ticket is serialized; different tickets
// proceed in parallel.
type EscalationService struct {
	tickets    repository.TicketRepository
	messages   repository.TicketMessageRepository
	matcher    KnowledgeMatcher
	limiter    RateLimiter
	context    *conversation.Context
	dispatcher events.Dispatcher
	clock      clock.Clock
	logger     *zap.Logger
	metrics    *observability.Metrics
	cfg        config.EscalationConfig
	threshold  float64
	locks      *ticketLocks
}

// NewEscalationService constructs the engine.
func NewEscalationService(deps EscalationDependencies) *EscalationService {
	cfg := deps.Config
	if cfg.MaxAIAttempts <= 0 {
		cfg.MaxAIAttempts = 2
	}
	if cfg.StaleResponseHours <= 0 {
		cfg.StaleResponseHours = 24
	}
	if cfg.StaleTotalHours <= 0 {
		cfg.StaleTotalHours = 48
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	convo := deps.Context
	if convo == nil {
		convo = conversation.New(conversation.Options{Clock: deps.Clock})
	}
	return &EscalationService{
		tickets:    deps.TicketRepo,
		messages:   deps.MessageRepo,
		matcher:    deps.Matcher,
		limiter:    deps.Limiter,
		context:    convo,
		dispatcher: deps.Dispatcher,
		clock:      clock.OrReal(deps.Clock),
		logger:     logger,
		metrics:    deps.Metrics,
		cfg:        cfg,
		threshold:  deps.MatchThreshold,
		locks:      newTicketLocks(),
	}
}

// HandleInbound processes a user's message on ticketID.
func (s *EscalationService) HandleInbound(ctx context.Context, ticketID, text string) (*Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.NewValidationError("message text required", nil)
	}

	unlock := s.locks.lock(ticketID)
	defer unlock()

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		s.metrics.InboundOutcome(observability.OutcomeFailed)
		return nil, err
	}

	if s.limiter != nil && !s.limiter.Allow(ticket.UserID, ratelimit.ActionAIRequest) {
		return nil, s.rejectRateLimited(ctx, ticket.UserID, ratelimit.ActionAIRequest)
	}

	if ticket.Status.IsTerminal() {
		s.metrics.InboundOutcome(observability.OutcomeRejected)
		return nil, apperrors.NewInvalidTicketState(ErrInvalidTicketState, ticket.ID, string(ticket.Status))
	}

	now := s.clock.Now()
	if err := s.appendMessage(ctx, &domain.TicketMessage{
		TicketID:  ticket.ID,
		UserID:    ticket.UserID,
		Body:      text,
		CreatedAt: now,
	}); err != nil {
		s.metrics.InboundOutcome(observability.OutcomeFailed)
		return nil, err
	}
	if err := s.recordContext(ctx, ticket, text); err != nil {
		s.metrics.InboundOutcome(observability.OutcomeFailed)
		return nil, err
	}
	keywords := knowledge.ExtractKeywords(text)
	s.context.RememberIssue(ticket.UserID, keywords)

	if ticket.Status == domain.TicketStatusEscalated {
		ticket.UpdatedAt = now
		if err := s.tickets.Update(ctx, ticket); err != nil {
			s.metrics.InboundOutcome(observability.OutcomeFailed)
			return nil, err
		}
		s.metrics.InboundOutcome(observability.OutcomeRejected)
		return &Outcome{Ticket: ticket, Result: ResultForwarded, Reply: forwardedNotice, Reason: ticket.EscalationReason}, nil
	}

	if ticket.AIAttempts >= s.cfg.MaxAIAttempts {
		return s.escalateInbound(ctx, ticket, ReasonAttemptsExhausted, now)
	}

	match, found := s.findMatch(ctx, ticket, keywords)
	ticket.AIAttempts++
	ticket.UpdatedAt = now

	if !found {
		return s.escalateInbound(ctx, ticket, s.noMatchReason(ticket.AIAttempts), now)
	}

	if err := s.tickets.Update(ctx, ticket); err != nil {
		s.metrics.InboundOutcome(observability.OutcomeFailed)
		return nil, err
	}
	reply := formatSolution(match)
	if err := s.appendMessage(ctx, &domain.TicketMessage{
		TicketID:  ticket.ID,
		UserID:    domain.AIUserID,
		Body:      reply,
		IsAI:      true,
		CreatedAt: now,
	}); err != nil {
		s.metrics.InboundOutcome(observability.OutcomeFailed)
		return nil, err
	}
	s.context.Append(ticket.ID, ticket.UserID, domain.RoleAI, reply)

	s.publish(ctx, events.Event{
		Type:     events.EventResponded,
		TicketID: ticket.ID,
		UserID:   ticket.UserID,
		Payload: events.RespondedPayload{
			Text:         match.Solution,
			SuccessCount: match.SuccessCount,
			Similarity:   match.Similarity,
			Attempt:      ticket.AIAttempts,
		},
	})
	s.metrics.InboundOutcome(observability.OutcomeResponded)
	s.logger.Info("ticket answered automatically",
		zap.String("ticket_id", ticket.ID),
		zap.Int("ai_attempts", ticket.AIAttempts),
		zap.String("problem_key", match.ProblemKey),
		zap.Float64("similarity", match.Similarity))

	return &Outcome{Ticket: ticket, Result: ResultResponded, Reply: reply, Match: &match}, nil
}

// SweepStale escalates open tickets that have had no activity for the stale
// total window and no admin reply within the stale response window. Running
// it again immediately changes nothing.
func (s *EscalationService) SweepStale(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()
	activityCutoff := now.Add(-s.cfg.StaleTotal())
	responseCutoff := now.Add(-s.cfg.StaleResponse())

	candidates, err := s.tickets.FindStaleOpen(ctx, activityCutoff)
	if err != nil {
		return 0, err
	}

	escalated := 0
	var errs []error
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		done, err := s.sweepOne(ctx, c.ID, activityCutoff, responseCutoff, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep ticket %s: %w", c.ID, err))
			continue
		}
		if done {
			escalated++
		}
	}

	s.metrics.ObserveSweep(time.Since(start), escalated)
	s.logger.Info("stale ticket sweep finished",
		zap.Int("candidates", len(candidates)),
		zap.Int("escalated", escalated),
		zap.Int("errors", len(errs)))
	return escalated, errors.Join(errs...)
}

func (s *EscalationService) sweepOne(ctx context.Context, ticketID string, activityCutoff, responseCutoff, now time.Time) (bool, error) {
	unlock := s.locks.lock(ticketID)
	defer unlock()

	// re-read under the lock; a message may have arrived since the scan
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return false, err
	}
	if ticket.Status != domain.TicketStatusOpen || !ticket.UpdatedAt.Before(activityCutoff) {
		return false, nil
	}
	admins, err := s.messages.ListAdminMessages(ctx, ticketID)
	if err != nil {
		return false, err
	}
	for _, m := range admins {
		if !m.CreatedAt.Before(responseCutoff) {
			return false, nil
		}
	}
	if _, err := s.escalateLocked(ctx, ticket, ReasonNoResponseTimeout, false, now); err != nil {
		return false, err
	}
	return true, nil
}

// LearnOnClose teaches the matcher the latest admin answer on a closed
// ticket. Tickets without an admin message teach nothing.
func (s *EscalationService) LearnOnClose(ctx context.Context, ticket *domain.Ticket) (*domain.KnowledgeEntry, error) {
	if ticket == nil {
		return nil, apperrors.NewValidationError("ticket required", nil)
	}
	unlock := s.locks.lock(ticket.ID)
	defer unlock()
	return s.learnLocked(ctx, ticket)
}

func (s *EscalationService) learnLocked(ctx context.Context, ticket *domain.Ticket) (*domain.KnowledgeEntry, error) {
	if !ticket.Status.IsTerminal() {
		return nil, apperrors.NewInvalidTicketState(ErrInvalidTicketState, ticket.ID, string(ticket.Status))
	}
	admins, err := s.messages.ListAdminMessages(ctx, ticket.ID)
	if err != nil {
		return nil, err
	}
	if len(admins) == 0 || s.matcher == nil {
		return nil, nil
	}
	solution := admins[len(admins)-1].Body
	problem := ticket.Description
	if strings.TrimSpace(problem) == "" {
		problem = ticket.Title
	}

	entry, err := s.matcher.Learn(ctx, problem, solution)
	if err != nil {
		s.logger.Warn("knowledge learning failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
		return nil, nil
	}
	if entry == nil {
		return nil, nil
	}
	s.metrics.Learned()
	s.publish(ctx, events.Event{
		Type:     events.EventKnowledgeLearned,
		TicketID: ticket.ID,
		UserID:   ticket.UserID,
		Payload: events.KnowledgeLearnedPayload{
			ProblemKey:   entry.ProblemKey,
			SuccessCount: entry.SuccessCount,
		},
	})
	return entry, nil
}

// findMatch asks the matcher for the best solution. Matcher errors and
// panics count as no match.
func (s *EscalationService) findMatch(ctx context.Context, ticket *domain.Ticket, keywords []string) (match knowledge.Match, found bool) {
	if s.matcher == nil || len(keywords) == 0 {
		return knowledge.Match{}, false
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("knowledge matcher panicked", zap.String("ticket_id", ticket.ID), zap.Any("panic", r))
			match, found = knowledge.Match{}, false
		}
	}()

	matches, err := s.matcher.FindMatches(ctx, keywords, s.threshold)
	if err != nil {
		s.logger.Warn("knowledge matcher failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
		return knowledge.Match{}, false
	}
	if len(matches) == 0 {
		return knowledge.Match{}, false
	}
	return matches[0], true
}

func (s *EscalationService) noMatchReason(attempt int) string {
	switch {
	case attempt <= 1:
		return ReasonFirstAttemptFailed
	case attempt >= s.cfg.MaxAIAttempts:
		return ReasonAttemptsExhausted
	default:
		return ReasonNoMatch
	}
}

func (s *EscalationService) escalateInbound(ctx context.Context, ticket *domain.Ticket, reason string, now time.Time) (*Outcome, error) {
	window, err := s.escalateLocked(ctx, ticket, reason, true, now)
	if err != nil {
		s.metrics.InboundOutcome(observability.OutcomeFailed)
		return nil, err
	}
	s.metrics.InboundOutcome(observability.OutcomeEscalated)
	return &Outcome{Ticket: ticket, Result: ResultEscalated, Reply: handoffNotice, Reason: reason, Context: window}, nil
}

// escalateLocked moves an open ticket to escalated, persists it and emits
// ESCALATE with the conversation window. auto marks automation giving up;
// timeouts leave auto_escalated alone. The caller holds the ticket lock.
func (s *EscalationService) escalateLocked(ctx context.Context, ticket *domain.Ticket, reason string, auto bool, now time.Time) ([]conversation.Entry, error) {
	if ticket.Status != domain.TicketStatusOpen {
		return nil, nil
	}
	ticket.Status = domain.TicketStatusEscalated
	if auto {
		ticket.AutoEscalated = true
	}
	ticket.EscalationReason = reason
	ticket.UpdatedAt = now
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, err
	}

	window, err := s.windowLocked(ctx, ticket)
	if err != nil {
		s.logger.Warn("conversation window unavailable", zap.String("ticket_id", ticket.ID), zap.Error(err))
	}

	s.metrics.Escalated(reason)
	s.publish(ctx, events.Event{
		Type:     events.EventEscalate,
		TicketID: ticket.ID,
		UserID:   ticket.UserID,
		Payload: events.EscalatePayload{
			Reason:   reason,
			Attempts: ticket.AIAttempts,
			Context:  contextLines(window),
		},
	})
	s.logger.Info("ticket escalated",
		zap.String("ticket_id", ticket.ID),
		zap.String("reason", reason),
		zap.Int("ai_attempts", ticket.AIAttempts))
	return window, nil
}

func (s *EscalationService) rejectRateLimited(ctx context.Context, userID int64, action string) error {
	retryAfter := s.limiter.ResetIn(userID, action)
	if banned, remaining := s.limiter.BanStatus(userID); banned && remaining > retryAfter {
		retryAfter = remaining
	}
	s.metrics.InboundOutcome(observability.OutcomeRateLimited)
	s.publish(ctx, events.Event{
		Type:   events.EventRateLimited,
		UserID: userID,
		Payload: events.RateLimitedPayload{
			Action:            action,
			RetryAfterSeconds: int(retryAfter.Round(time.Second) / time.Second),
		},
	})
	s.logger.Warn("rate limited", zap.Int64("user_id", userID), zap.String("action", action))
	return apperrors.NewRateLimited(ErrRateLimited, action, retryAfter)
}

// recordContext appends text to the ticket's conversation window, rebuilding
// the window from the message log when it has expired.
func (s *EscalationService) recordContext(ctx context.Context, ticket *domain.Ticket, text string) error {
	if s.context.Has(ticket.ID) {
		s.context.Append(ticket.ID, ticket.UserID, domain.RoleUser, text)
		return nil
	}
	msgs, err := s.messages.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return err
	}
	s.context.Rebuild(ticket.ID, ticket.UserID, msgs)
	return nil
}

// windowLocked returns the ticket's conversation window, rebuilding it from
// the message log when it has expired. The caller holds the ticket lock.
func (s *EscalationService) windowLocked(ctx context.Context, ticket *domain.Ticket) ([]conversation.Entry, error) {
	if !s.context.Has(ticket.ID) && !ticket.Status.IsTerminal() {
		msgs, err := s.messages.ListByTicket(ctx, ticket.ID)
		if err != nil {
			return nil, err
		}
		s.context.Rebuild(ticket.ID, ticket.UserID, msgs)
	}
	return s.context.Window(ticket.ID), nil
}

// Conversation returns the ticket's conversation window and the issue
// keywords remembered for its owner.
func (s *EscalationService) Conversation(ctx context.Context, ticket *domain.Ticket) ([]conversation.Entry, []string, error) {
	unlock := s.locks.lock(ticket.ID)
	defer unlock()
	window, err := s.windowLocked(ctx, ticket)
	if err != nil {
		return nil, nil, err
	}
	return window, s.context.Issues(ticket.UserID), nil
}

func contextLines(entries []conversation.Entry) []events.ContextLine {
	if len(entries) == 0 {
		return nil
	}
	out := make([]events.ContextLine, 0, len(entries))
	for _, e := range entries {
		out = append(out, events.ContextLine{Role: string(e.Role), Text: e.Text, At: e.At})
	}
	return out
}

func (s *EscalationService) appendMessage(ctx context.Context, msg *domain.TicketMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	return s.messages.Create(ctx, msg)
}

func (s *EscalationService) publish(ctx context.Context, event events.Event) {
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

func formatSolution(m knowledge.Match) string {
	times := "times"
	if m.SuccessCount == 1 {
		times = "time"
	}
	return fmt.Sprintf("Based on previous experience, this solution worked %d %s:\n\n%s", m.SuccessCount, times, m.Solution)
}
