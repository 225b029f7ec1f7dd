package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/support-bot/internal/config"
)

func TestNewEventStream_UnreachableIsNotFatal(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	stream := NewEventStream(config.RedisConfig{Addr: "127.0.0.1:1"}, "support:events", zap.New(core))
	defer stream.Close()

	require.NotNil(t, stream.Client)
	assert.Equal(t, "support:events", stream.Stream)

	entries := logs.FilterMessage("event stream unreachable").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "support:events", entries[0].ContextMap()["stream"])

	assert.Error(t, stream.Ping(context.Background()))
	_, err := stream.Backlog(context.Background())
	assert.Error(t, err)
}

func TestEventStream_NilIsNotConfigured(t *testing.T) {
	var stream *EventStream
	assert.ErrorIs(t, stream.Ping(context.Background()), ErrStreamNotConfigured)
	_, err := stream.Backlog(context.Background())
	assert.ErrorIs(t, err, ErrStreamNotConfigured)
	assert.NotPanics(t, stream.Close)
}
