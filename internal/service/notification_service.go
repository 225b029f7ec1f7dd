package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/support-bot/internal/events"
)

// NotificationService turns domain events into operator-facing log lines.
// Delivery to chat platforms is left to whatever consumes the event stream.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventEscalate, n.handleEscalate)
	n.dispatcher.Subscribe(events.EventResponded, n.handleResponded)
	n.dispatcher.Subscribe(events.EventRateLimited, n.handleRateLimited)
	n.dispatcher.Subscribe(events.EventTicketOpened, n.handleLifecycle)
	n.dispatcher.Subscribe(events.EventTicketClosed, n.handleLifecycle)
	n.dispatcher.Subscribe(events.EventKnowledgeLearned, n.handleLifecycle)
}

func (n *NotificationService) handleEscalate(_ context.Context, event events.Event) error {
	fields := []zap.Field{zap.String("ticket_id", event.TicketID), zap.Int64("user_id", event.UserID)}
	if p, ok := event.Payload.(events.EscalatePayload); ok {
		fields = append(fields, zap.String("reason", p.Reason), zap.Int("ai_attempts", p.Attempts),
			zap.Int("context_lines", len(p.Context)))
	}
	n.logger.Warn("ticket needs a human", fields...)
	return nil
}

func (n *NotificationService) handleResponded(_ context.Context, event events.Event) error {
	fields := []zap.Field{zap.String("ticket_id", event.TicketID)}
	if p, ok := event.Payload.(events.RespondedPayload); ok {
		fields = append(fields, zap.Int("success_count", p.SuccessCount), zap.Int("attempt", p.Attempt))
	}
	n.logger.Info("automated reply sent", fields...)
	return nil
}

func (n *NotificationService) handleRateLimited(_ context.Context, event events.Event) error {
	n.logger.Info("RateLimited", zap.Int64("user_id", event.UserID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) handleLifecycle(_ context.Context, event events.Event) error {
	n.logger.Debug(string(event.Type), zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return nil
}
