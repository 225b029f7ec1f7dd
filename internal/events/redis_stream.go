package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamWriter is the subset of the redis client used by RedisStreamSink.
type StreamWriter interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamSink forwards events to a Redis stream, where the chat adapter
// consumes them and turns them into messages and admin alerts.
type RedisStreamSink struct {
	rdb    StreamWriter
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewRedisStreamSink builds a sink writing to stream. maxLen <= 0 disables trimming.
func NewRedisStreamSink(rdb StreamWriter, stream string, maxLen int64, logger *zap.Logger) *RedisStreamSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStreamSink{rdb: rdb, stream: stream, maxLen: maxLen, logger: logger}
}

// Attach subscribes the sink to every event type.
func (s *RedisStreamSink) Attach(d Dispatcher) {
	for _, t := range AllTypes {
		d.Subscribe(t, s.Handle)
	}
}

// Handle appends the event to the stream.
func (s *RedisStreamSink) Handle(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event.Type, err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"event_id":  event.ID,
			"type":      string(event.Type),
			"ticket_id": event.TicketID,
			"user_id":   strconv.FormatInt(event.UserID, 10),
			"timestamp": event.Timestamp.UnixMilli(),
			"payload":   string(payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	messageID, err := s.rdb.XAdd(ctx, args).Result()
	if err != nil {
		s.logger.Error("failed to publish event to stream",
			zap.String("stream", s.stream),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		return err
	}
	s.logger.Debug("event published to stream",
		zap.String("stream", s.stream),
		zap.String("message_id", messageID),
		zap.String("event_type", string(event.Type)))
	return nil
}
