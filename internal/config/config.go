package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Escalation   EscalationConfig
	RateLimit    RateLimitConfig
	Cache        CacheConfig
	Conversation ConversationConfig
	Knowledge    KnowledgeConfig
	Events       EventsConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level  string
	Format string
}

// AuthConfig defines authentication parameters for adapter clients.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
	// Clients maps client id to a bcrypt hash of its secret.
	Clients map[string]string
	// AdminClients lists client ids allowed to call admin endpoints.
	AdminClients []string
}

// EscalationConfig tunes the automated resolution policy.
type EscalationConfig struct {
	MaxAIAttempts        int
	StaleResponseHours   int
	StaleTotalHours      int
	SweepIntervalSeconds int
}

// RateLimitRule is one row of the per-action table.
type RateLimitRule struct {
	Limit         int `yaml:"limit"`
	WindowSeconds int `yaml:"window"`
}

// RateLimitConfig configures per-user limiting.
type RateLimitConfig struct {
	Table              map[string]RateLimitRule `yaml:"actions"`
	BanThreshold       int                      `yaml:"ban_threshold"`
	BanDurationSeconds int                      `yaml:"ban_duration_seconds"`
	Adaptive           bool                     `yaml:"adaptive"`
	TableFile          string                   `yaml:"-"`
	GlobalRPS          float64                  `yaml:"-"`
	GlobalBurst        int                      `yaml:"-"`
}

// CacheConfig bounds the TTL caches.
type CacheConfig struct {
	MaxSize           int
	DefaultTTLSeconds int
}

// ConversationConfig sizes the conversation windows.
type ConversationConfig struct {
	MaxHistory     int
	WindowSize     int
	IssueCap       int
	RetentionHours int
}

// KnowledgeConfig selects and tunes the knowledge store.
type KnowledgeConfig struct {
	Driver         string
	SQLitePath     string
	MatchThreshold float64
	MaxMatches     int
}

// EventsConfig controls the outbound event sink.
type EventsConfig struct {
	RedisStream  string
	StreamMaxLen int64
}

// Options override where configuration is read from.
type Options struct {
	EnvFile       string
	RateLimitFile string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	return LoadWithOptions(Options{})
}

// LoadWithOptions is Load with explicit env and rate-limit file locations.
func LoadWithOptions(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	clients, err := parseClients(os.Getenv("AUTH_CLIENTS"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "support-bot"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			Clients:               clients,
			AdminClients:          getEnvAsList("AUTH_ADMIN_CLIENTS"),
		},
		Escalation: EscalationConfig{
			MaxAIAttempts:        getEnvAsInt("ESCALATION_MAX_AI_ATTEMPTS", 2),
			StaleResponseHours:   getEnvAsInt("ESCALATION_STALE_RESPONSE_HOURS", 24),
			StaleTotalHours:      getEnvAsInt("ESCALATION_STALE_TOTAL_HOURS", 48),
			SweepIntervalSeconds: getEnvAsInt("ESCALATION_SWEEP_INTERVAL_SECONDS", 3600),
		},
		RateLimit: RateLimitConfig{
			Table:              DefaultRateLimitTable(),
			BanThreshold:       getEnvAsInt("RATE_LIMIT_BAN_THRESHOLD", 5),
			BanDurationSeconds: getEnvAsInt("RATE_LIMIT_BAN_DURATION_SECONDS", 3600),
			Adaptive:           getEnvAsBool("RATE_LIMIT_ADAPTIVE", true),
			TableFile:          getEnv("RATE_LIMIT_FILE", opts.RateLimitFile),
			GlobalRPS:          getEnvAsFloat("RATE_LIMIT_GLOBAL_RPS", 0),
			GlobalBurst:        getEnvAsInt("RATE_LIMIT_GLOBAL_BURST", 50),
		},
		Cache: CacheConfig{
			MaxSize:           getEnvAsInt("CACHE_MAX_SIZE", 1000),
			DefaultTTLSeconds: getEnvAsInt("CACHE_DEFAULT_TTL_SECONDS", 3600),
		},
		Conversation: ConversationConfig{
			MaxHistory:     getEnvAsInt("CONVERSATION_MAX_HISTORY", 20),
			WindowSize:     getEnvAsInt("CONVERSATION_WINDOW_SIZE", 10),
			IssueCap:       getEnvAsInt("CONVERSATION_ISSUE_CAP", 10),
			RetentionHours: getEnvAsInt("CONVERSATION_RETENTION_HOURS", 24),
		},
		Knowledge: KnowledgeConfig{
			Driver:         getEnv("KNOWLEDGE_DRIVER", ""),
			SQLitePath:     getEnv("KNOWLEDGE_SQLITE_PATH", "knowledge.db"),
			MatchThreshold: getEnvAsFloat("KNOWLEDGE_MATCH_THRESHOLD", 0.3),
			MaxMatches:     getEnvAsInt("KNOWLEDGE_MAX_MATCHES", 5),
		},
		Events: EventsConfig{
			RedisStream:  getEnv("EVENTS_REDIS_STREAM", ""),
			StreamMaxLen: int64(getEnvAsInt("EVENTS_STREAM_MAX_LEN", 10000)),
		},
	}
	if opts.RateLimitFile != "" {
		cfg.RateLimit.TableFile = opts.RateLimitFile
	}

	if cfg.RateLimit.TableFile != "" {
		if err := cfg.RateLimit.loadFile(cfg.RateLimit.TableFile); err != nil {
			return nil, err
		}
	}
	if cfg.Knowledge.Driver == "" {
		cfg.Knowledge.Driver = "memory"
		if cfg.Postgres.DSN != "" {
			cfg.Knowledge.Driver = "postgres"
		}
	}

	return cfg, nil
}

// DefaultRateLimitTable returns the built-in per-action limits.
func DefaultRateLimitTable() map[string]RateLimitRule {
	return map[string]RateLimitRule{
		"search_list":  {Limit: 10, WindowSeconds: 60},
		"open_ticket":  {Limit: 3, WindowSeconds: 300},
		"send_message": {Limit: 20, WindowSeconds: 60},
		"admin_action": {Limit: 50, WindowSeconds: 60},
		"ai_request":   {Limit: 5, WindowSeconds: 60},
	}
}

// loadFile merges a YAML rate-limit file over the current values. Actions in
// the file replace the defaults for the same name; other defaults are kept.
func (r *RateLimitConfig) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rate limit file: %w", err)
	}
	return r.merge(raw)
}

func (r *RateLimitConfig) merge(raw []byte) error {
	var file RateLimitConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse rate limit file: %w", err)
	}
	for action, rule := range file.Table {
		if rule.Limit <= 0 || rule.WindowSeconds <= 0 {
			return fmt.Errorf("rate limit %q: limit and window must be positive", action)
		}
		if r.Table == nil {
			r.Table = map[string]RateLimitRule{}
		}
		r.Table[action] = rule
	}
	if file.BanThreshold > 0 {
		r.BanThreshold = file.BanThreshold
	}
	if file.BanDurationSeconds > 0 {
		r.BanDurationSeconds = file.BanDurationSeconds
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// StaleResponse is how long an open ticket may go without an admin reply.
func (e EscalationConfig) StaleResponse() time.Duration {
	return time.Duration(e.StaleResponseHours) * time.Hour
}

// StaleTotal is how long an open ticket may go without any activity.
func (e EscalationConfig) StaleTotal() time.Duration {
	return time.Duration(e.StaleTotalHours) * time.Hour
}

// SweepInterval returns how often stale tickets are re-evaluated.
func (e EscalationConfig) SweepInterval() time.Duration {
	return time.Duration(e.SweepIntervalSeconds) * time.Second
}

// DefaultTTL returns the cache default TTL.
func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// Retention returns how long idle conversation histories are kept.
func (c ConversationConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// parseClients reads "id:bcrypthash,id2:hash2".
func parseClients(raw string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, hash, ok := strings.Cut(pair, ":")
		if !ok || id == "" || hash == "" {
			return nil, fmt.Errorf("invalid AUTH_CLIENTS entry %q", pair)
		}
		out[id] = hash
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
