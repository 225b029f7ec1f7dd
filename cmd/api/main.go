package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/support-bot/internal/api/http"
	"github.com/spec-kit/support-bot/internal/api/http/handlers"
	"github.com/spec-kit/support-bot/internal/auth"
	"github.com/spec-kit/support-bot/internal/clock"
	"github.com/spec-kit/support-bot/internal/config"
	"github.com/spec-kit/support-bot/internal/conversation"
	"github.com/spec-kit/support-bot/internal/domain"
	"github.com/spec-kit/support-bot/internal/events"
	"github.com/spec-kit/support-bot/internal/knowledge"
	"github.com/spec-kit/support-bot/internal/observability"
	"github.com/spec-kit/support-bot/internal/persistence"
	"github.com/spec-kit/support-bot/internal/ratelimit"
	"github.com/spec-kit/support-bot/internal/repository"
	"github.com/spec-kit/support-bot/internal/scheduler"
	"github.com/spec-kit/support-bot/internal/service"
)

func main() {
	envFile := pflag.String("env-file", "", "path to a .env file (defaults to ./.env when present)")
	rateLimitFile := pflag.String("rate-limits", "", "YAML file overriding the per-action rate limit table")
	migrate := pflag.Bool("migrate", true, "apply SQL migrations on startup when postgres is configured")
	pflag.Parse()

	cfg, err := config.LoadWithOptions(config.Options{EnvFile: *envFile, RateLimitFile: *rateLimitFile})
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if pflag.CommandLine.Changed("migrate") {
		cfg.Postgres.RunMigrations = *migrate
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.Real()
	metrics := observability.NewMetrics()
	healthDeps := map[string]handlers.Pinger{}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	pool := pg.PoolHandle()
	var (
		ticketRepo  repository.TicketRepository
		messageRepo repository.TicketMessageRepository
	)
	if pool != nil {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pool, cfg.Postgres.MigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		ticketRepo = repository.NewTicketRepository(pool)
		messageRepo = repository.NewTicketMessageRepository(pool)
		healthDeps["postgres"] = pg
	} else {
		logger.Warn("using in-memory ticket store; tickets are lost on restart")
		ticketRepo = repository.NewMemoryTicketRepository()
		messageRepo = repository.NewMemoryTicketMessageRepository()
	}

	knowledgeStore, closeStore := openKnowledgeStore(cfg.Knowledge, pg, logger)
	defer closeStore()
	cachedKnowledge := knowledge.NewCachedStore(knowledgeStore, cfg.Cache.DefaultTTL(), clk, metrics)
	matcher := knowledge.NewMatcher(cachedKnowledge, knowledge.Options{
		Threshold:  cfg.Knowledge.MatchThreshold,
		MaxMatches: cfg.Knowledge.MaxMatches,
		Clock:      clk,
	})

	limiter := ratelimit.NewFromConfig(cfg.RateLimit, clk).WithObserver(metrics)
	convo := conversation.New(conversation.Options{
		MaxHistory: cfg.Conversation.MaxHistory,
		WindowSize: cfg.Conversation.WindowSize,
		IssueCap:   cfg.Conversation.IssueCap,
		MaxEntries: cfg.Cache.MaxSize,
		TTL:        cfg.Conversation.Retention(),
		Clock:      clk,
		Observer:   metrics,
	})

	dispatcher := events.NewInMemoryDispatcher()
	service.NewNotificationService(dispatcher, logger).RegisterHandlers()
	if cfg.Events.RedisStream != "" {
		stream := persistence.NewEventStream(cfg.Redis, cfg.Events.RedisStream, logger)
		defer stream.Close()
		events.NewRedisStreamSink(stream.Client, stream.Stream, cfg.Events.StreamMaxLen, logger).Attach(dispatcher)
		healthDeps["event_stream"] = stream
	}

	engine := service.NewEscalationService(service.EscalationDependencies{
		TicketRepo:     ticketRepo,
		MessageRepo:    messageRepo,
		Matcher:        matcher,
		Limiter:        limiter,
		Context:        convo,
		Dispatcher:     dispatcher,
		Clock:          clk,
		Logger:         logger,
		Metrics:        metrics,
		Config:         cfg.Escalation,
		MatchThreshold: cfg.Knowledge.MatchThreshold,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  ticketRepo,
		MessageRepo: messageRepo,
		Engine:      engine,
		Limiter:     limiter,
		Context:     convo,
		Dispatcher:  dispatcher,
		Clock:       clk,
		Logger:      logger,
	})
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authService := service.NewAuthService(cfg.Auth, tokens, logger)
	if len(cfg.Auth.Clients) == 0 {
		logger.Warn("AUTH_CLIENTS is empty; no client can obtain a token")
	}

	sched := scheduler.New(cfg.Escalation.SweepInterval(), logger,
		scheduler.Job{Name: "stale-sweep", Run: func(ctx context.Context) error {
			_, err := ticketService.Dispatch(ctx, domain.ScheduledSweep{At: clk.Now()})
			return err
		}},
		scheduler.Job{Name: "conversation-expire", Run: func(context.Context) error {
			expired := convo.Expire(clk.Now().Add(-cfg.Conversation.Retention()))
			swept := convo.Sweep()
			logger.Debug("conversation cleanup", zap.Int("expired", expired), zap.Int("swept", swept))
			return nil
		}},
	)
	go sched.Run(ctx)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, httptransport.MiddlewareOptions{
		Timeout: cfg.App.RequestTimeout(),
		Ingress: httptransport.NewIngressLimiter(cfg.RateLimit.GlobalRPS, cfg.RateLimit.GlobalBurst),
	})

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, healthDeps),
		Auth:           handlers.NewAuthHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Admin:          handlers.NewAdminHandler(ticketService, limiter, matcher, clk),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Metrics:        metrics.Handler(),
	})

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	sched.Shutdown()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

func openKnowledgeStore(cfg config.KnowledgeConfig, pg *persistence.Postgres, logger *zap.Logger) (knowledge.Store, func()) {
	switch cfg.Driver {
	case "postgres":
		if pg.PoolHandle() == nil {
			logger.Fatal("KNOWLEDGE_DRIVER=postgres requires POSTGRES_DSN")
		}
		return knowledge.NewPostgresStore(pg.PoolHandle()), func() {}
	case "sqlite":
		store, err := knowledge.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			logger.Fatal("failed to open sqlite knowledge store", zap.Error(err), zap.String("path", cfg.SQLitePath))
		}
		logger.Info("knowledge store: sqlite", zap.String("path", cfg.SQLitePath))
		return store, func() { _ = store.Close() }
	default:
		logger.Warn("using in-memory knowledge store; learned solutions are lost on restart")
		return knowledge.NewMemoryStore(), func() {}
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
