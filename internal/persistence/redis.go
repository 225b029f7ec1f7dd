package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/support-bot/internal/config"
)

const streamCheckTimeout = 3 * time.Second

// ErrStreamNotConfigured is returned by an EventStream without a client.
var ErrStreamNotConfigured = errors.New("event stream not configured")

// EventStream is the Redis connection that lifecycle events are appended to.
type EventStream struct {
	Client *redis.Client
	Stream string
}

// NewEventStream connects to Redis and reports the stream's current backlog.
// An unreachable server is logged, not fatal; publishing retries per event.
func NewEventStream(cfg config.RedisConfig, stream string, logger *zap.Logger) *EventStream {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	es := &EventStream{Client: client, Stream: stream}
	logger = logger.With(zap.String("stream", stream), zap.String("addr", cfg.Addr))

	ctx, cancel := context.WithTimeout(context.Background(), streamCheckTimeout)
	defer cancel()
	backlog, err := es.Backlog(ctx)
	if err != nil {
		logger.Warn("event stream unreachable", zap.Error(err))
		return es
	}
	logger.Info("connected to event stream", zap.Int64("backlog", backlog))
	return es
}

// Backlog returns the number of entries currently held in the stream.
func (s *EventStream) Backlog(ctx context.Context) (int64, error) {
	if s == nil || s.Client == nil {
		return 0, ErrStreamNotConfigured
	}
	return s.Client.XLen(ctx, s.Stream).Result()
}

// Close closes the client.
func (s *EventStream) Close() {
	if s != nil && s.Client != nil {
		_ = s.Client.Close()
	}
}

// Ping verifies the stream is reachable.
func (s *EventStream) Ping(ctx context.Context) error {
	if s == nil || s.Client == nil {
		return ErrStreamNotConfigured
	}
	return s.Client.Ping(ctx).Err()
}
