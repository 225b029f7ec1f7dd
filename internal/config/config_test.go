package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("KNOWLEDGE_DRIVER", "")
	t.Setenv("RATE_LIMIT_FILE", "")

	cfg, err := LoadWithOptions(Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Escalation.MaxAIAttempts)
	assert.Equal(t, 24*time.Hour, cfg.Escalation.StaleResponse())
	assert.Equal(t, 48*time.Hour, cfg.Escalation.StaleTotal())
	assert.Equal(t, 5, cfg.RateLimit.BanThreshold)
	assert.Equal(t, 3600, cfg.RateLimit.BanDurationSeconds)
	assert.Equal(t, 1000, cfg.Cache.MaxSize)
	assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL())
	assert.Equal(t, RateLimitRule{Limit: 5, WindowSeconds: 60}, cfg.RateLimit.Table["ai_request"])
	assert.Equal(t, RateLimitRule{Limit: 3, WindowSeconds: 300}, cfg.RateLimit.Table["open_ticket"])
	assert.Equal(t, "memory", cfg.Knowledge.Driver)
	assert.InDelta(t, 0.3, cfg.Knowledge.MatchThreshold, 1e-9)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ESCALATION_MAX_AI_ATTEMPTS", "3")
	t.Setenv("CACHE_MAX_SIZE", "not-a-number")
	t.Setenv("AUTH_CLIENTS", "bot:$2a$04$abc, panel:$2a$04$def")
	t.Setenv("AUTH_ADMIN_CLIENTS", "panel")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/support")
	t.Setenv("KNOWLEDGE_DRIVER", "")

	cfg, err := LoadWithOptions(Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Escalation.MaxAIAttempts)
	assert.Equal(t, 1000, cfg.Cache.MaxSize, "unparsable values fall back to defaults")
	assert.Equal(t, map[string]string{"bot": "$2a$04$abc", "panel": "$2a$04$def"}, cfg.Auth.Clients)
	assert.Equal(t, []string{"panel"}, cfg.Auth.AdminClients)
	assert.Equal(t, "postgres", cfg.Knowledge.Driver)
}

func TestLoad_InvalidClients(t *testing.T) {
	t.Setenv("AUTH_CLIENTS", "missing-hash")
	_, err := LoadWithOptions(Options{})
	assert.Error(t, err)
}

func TestLoad_RateLimitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ban_threshold: 3
actions:
  ai_request:
    limit: 2
    window: 30
  export:
    limit: 1
    window: 600
`), 0o600))
	t.Setenv("AUTH_CLIENTS", "")
	t.Setenv("RATE_LIMIT_FILE", "")

	cfg, err := LoadWithOptions(Options{RateLimitFile: path})
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.RateLimit.BanThreshold)
	assert.Equal(t, 3600, cfg.RateLimit.BanDurationSeconds)
	assert.Equal(t, RateLimitRule{Limit: 2, WindowSeconds: 30}, cfg.RateLimit.Table["ai_request"])
	assert.Equal(t, RateLimitRule{Limit: 1, WindowSeconds: 600}, cfg.RateLimit.Table["export"])
	assert.Equal(t, RateLimitRule{Limit: 10, WindowSeconds: 60}, cfg.RateLimit.Table["search_list"])
}

func TestRateLimitMerge_RejectsNonPositive(t *testing.T) {
	r := RateLimitConfig{Table: DefaultRateLimitTable()}
	err := r.merge([]byte("actions:\n  ai_request:\n    limit: 0\n    window: 60\n"))
	assert.Error(t, err)
}
