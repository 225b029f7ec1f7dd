package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/spec-kit/support-bot/internal/config"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.InboundOutcome(OutcomeResponded)
		m.Escalated("attempts exhausted")
		m.RateLimitHit("ai_request")
		m.UserBanned()
		m.CacheLookup(true)
		m.Learned()
		m.ObserveSweep(time.Second, 3)
		m.RecordRequest("/x", "GET", 200, time.Millisecond)
		m.RecordError("/x", "GET", "NOT_FOUND")
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()
	m.InboundOutcome(OutcomeEscalated)
	m.InboundOutcome(OutcomeEscalated)
	m.Escalated("no response timeout")
	m.RateLimitHit("ai_request")
	m.UserBanned()
	m.CacheLookup(false)
	m.ObserveSweep(10*time.Millisecond, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.InboundMessages.WithLabelValues(OutcomeEscalated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Escalations.WithLabelValues("no response timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitHits.WithLabelValues("ai_request")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Bans))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("miss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SweepEscalated))

	// separate instances do not collide on registration
	require.NotPanics(t, func() { _ = NewMetrics() })
}

func TestNewLogger_FallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(config.LoggerConfig{Level: "nonsense"}, config.AppConfig{Name: "support-bot"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(0))
	assert.False(t, logger.Core().Enabled(-1))
}

func TestLoggerConfig_ServiceIdentity(t *testing.T) {
	app := config.AppConfig{Name: "support-bot", Version: "1.4.0", Env: "production"}
	cfg, err := loggerConfig(config.LoggerConfig{Level: "debug", Format: "console"}, app)
	require.NoError(t, err)

	assert.Equal(t, "console", cfg.Encoding)
	assert.False(t, cfg.Development)
	require.NotNil(t, cfg.Sampling)
	assert.Equal(t, map[string]interface{}{"service": "support-bot", "version": "1.4.0", "env": "production"}, cfg.InitialFields)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level.Level())
}

func TestLoggerConfig_DevelopmentIsUnsampled(t *testing.T) {
	cfg, err := loggerConfig(config.LoggerConfig{}, config.AppConfig{Env: "development"})
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Encoding)
	assert.True(t, cfg.Development)
	assert.Nil(t, cfg.Sampling)
}

func TestNewLogger_RejectsUnknownFormat(t *testing.T) {
	_, err := NewLogger(config.LoggerConfig{Format: "xml"}, config.AppConfig{})
	assert.ErrorContains(t, err, "unsupported log format")
}
