package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/support-bot/internal/api/dto"
	"github.com/spec-kit/support-bot/internal/api/http/handlers"
	"github.com/spec-kit/support-bot/internal/auth"
	"github.com/spec-kit/support-bot/internal/clock"
	"github.com/spec-kit/support-bot/internal/config"
	"github.com/spec-kit/support-bot/internal/conversation"
	"github.com/spec-kit/support-bot/internal/events"
	"github.com/spec-kit/support-bot/internal/knowledge"
	"github.com/spec-kit/support-bot/internal/observability"
	"github.com/spec-kit/support-bot/internal/ratelimit"
	"github.com/spec-kit/support-bot/internal/repository"
	"github.com/spec-kit/support-bot/internal/service"
)

type testServer struct {
	app     *fiber.App
	metrics *observability.Metrics
}

func newTestServer(t *testing.T, opts MiddlewareOptions) *testServer {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	logger := zap.NewNop()
	metrics := observability.NewMetrics()

	botHash, err := auth.HashSecret("bot-secret", bcrypt.MinCost)
	require.NoError(t, err)
	consoleHash, err := auth.HashSecret("console-secret", bcrypt.MinCost)
	require.NoError(t, err)
	authCfg := config.AuthConfig{
		Clients:      map[string]string{"bot": botHash, "console": consoleHash},
		AdminClients: []string{"console"},
	}

	tickets := repository.NewMemoryTicketRepository()
	messages := repository.NewMemoryTicketMessageRepository()
	matcher := knowledge.NewMatcher(knowledge.NewMemoryStore(), knowledge.Options{Clock: clk})
	limiter := ratelimit.New(ratelimit.Config{}, clk).WithObserver(metrics)
	convo := conversation.New(conversation.Options{Clock: clk})
	dispatcher := events.NewInMemoryDispatcher()

	engine := service.NewEscalationService(service.EscalationDependencies{
		TicketRepo:  tickets,
		MessageRepo: messages,
		Matcher:     matcher,
		Limiter:     limiter,
		Context:     convo,
		Dispatcher:  dispatcher,
		Clock:       clk,
		Metrics:     metrics,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  tickets,
		MessageRepo: messages,
		Engine:      engine,
		Limiter:     limiter,
		Dispatcher:  dispatcher,
		Clock:       clk,
	})
	tokens := auth.NewTokenManager("jwt-secret", 10)

	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, opts)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("support-bot", "test", nil),
		Auth:           handlers.NewAuthHandler(service.NewAuthService(authCfg, tokens, logger)),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Admin:          handlers.NewAdminHandler(ticketService, limiter, matcher, clk),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Metrics:        metrics.Handler(),
	})
	return &testServer{app: app, metrics: metrics}
}

func (s *testServer) do(t *testing.T, method, path, token string, userID int64, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if userID != 0 {
		req.Header.Set(auth.ActingUserHeader, strconv.FormatInt(userID, 10))
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func (s *testServer) token(t *testing.T, clientID, secret string) string {
	t.Helper()
	status, raw := s.do(t, http.MethodPost, "/auth/token", "", 0, dto.TokenRequest{ClientID: clientID, ClientSecret: secret})
	require.Equal(t, http.StatusOK, status, string(raw))
	var out struct {
		Data dto.AuthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out.Data.Token
}

func decodeData[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var out struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out.Data
}

func errorCode(t *testing.T, raw []byte) string {
	t.Helper()
	var out struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out.Error.Code
}

func TestRoutes_EscalateResolveLearn(t *testing.T) {
	s := newTestServer(t, MiddlewareOptions{})
	bot := s.token(t, "bot", "bot-secret")
	console := s.token(t, "console", "console-secret")

	status, raw := s.do(t, http.MethodPost, "/tickets", bot, 42, dto.CreateTicketRequest{Description: "streaming video buffers constantly"})
	require.Equal(t, http.StatusCreated, status, string(raw))
	created := decodeData[dto.CreateTicketResponse](t, raw)
	require.NotNil(t, created.Outcome)
	assert.Equal(t, string(service.ResultEscalated), created.Outcome.Result)
	assert.Equal(t, "escalated", string(created.Ticket.Status))
	assert.True(t, created.Ticket.AutoEscalated)
	ticketID := created.Ticket.ID

	status, raw = s.do(t, http.MethodGet, "/tickets/"+ticketID, bot, 7, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errorCode(t, raw))

	status, raw = s.do(t, http.MethodGet, "/admin/tickets/"+ticketID, console, 0, nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	view := decodeData[dto.AdminTicketDetailResponse](t, raw)
	assert.Equal(t, []string{"streaming", "video", "buffers", "constantly"}, view.KnownIssues)
	require.Len(t, view.Context, 2)
	assert.Equal(t, "system", view.Context[0].Role)
	assert.Equal(t, "streaming video buffers constantly", view.Context[1].Text)

	status, _ = s.do(t, http.MethodPost, "/admin/tickets/"+ticketID+"/close", bot, 900, dto.AdminCloseRequest{Resolved: true})
	assert.Equal(t, http.StatusForbidden, status, "adapter clients cannot use admin routes")

	status, raw = s.do(t, http.MethodPost, "/admin/tickets/"+ticketID+"/close", console, 900,
		dto.AdminCloseRequest{Text: "Clear the cache", Resolved: true})
	require.Equal(t, http.StatusOK, status, string(raw))
	assert.Equal(t, "resolved", string(decodeData[dto.TicketSummary](t, raw).Status))

	status, raw = s.do(t, http.MethodPost, "/tickets/"+ticketID+"/messages", bot, 42, dto.CreateMessageRequest{Text: "thanks!"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INVALID_TICKET_STATE", errorCode(t, raw))

	status, raw = s.do(t, http.MethodPost, "/tickets", bot, 7, dto.CreateTicketRequest{Description: "video streaming buffers"})
	require.Equal(t, http.StatusCreated, status, string(raw))
	second := decodeData[dto.CreateTicketResponse](t, raw)
	require.NotNil(t, second.Outcome)
	assert.Equal(t, string(service.ResultResponded), second.Outcome.Result)
	assert.Contains(t, second.Outcome.Reply, "Clear the cache")

	status, raw = s.do(t, http.MethodGet, "/admin/knowledge/match?q=video+streaming+buffers", console, 0, nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	matches := decodeData[[]dto.MatchResponse](t, raw)
	require.Len(t, matches, 1)
	assert.Equal(t, "buffers_streaming_video", matches[0].ProblemKey)
}

func TestRoutes_UserLifecycle(t *testing.T) {
	s := newTestServer(t, MiddlewareOptions{})
	bot := s.token(t, "bot", "bot-secret")

	autoReply := false
	status, raw := s.do(t, http.MethodPost, "/tickets", bot, 42, dto.CreateTicketRequest{Title: "Login", Description: "cannot login", AutoReply: &autoReply})
	require.Equal(t, http.StatusCreated, status, string(raw))
	created := decodeData[dto.CreateTicketResponse](t, raw)
	assert.Nil(t, created.Outcome)
	assert.Equal(t, "open", string(created.Ticket.Status))

	status, raw = s.do(t, http.MethodGet, "/tickets", bot, 42, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decodeData[[]dto.TicketSummary](t, raw), 1)

	status, raw = s.do(t, http.MethodPost, "/tickets/"+created.Ticket.ID+"/close", bot, 42, nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	assert.Equal(t, "closed", string(decodeData[dto.TicketSummary](t, raw).Status))

	status, raw = s.do(t, http.MethodGet, "/tickets/"+created.Ticket.ID, bot, 42, nil)
	require.Equal(t, http.StatusOK, status)
	detail := decodeData[dto.TicketDetailResponse](t, raw)
	assert.Equal(t, "cannot login", detail.Description)
	assert.Empty(t, detail.Messages)

	status, _ = s.do(t, http.MethodGet, "/tickets", bot, 0, nil)
	assert.Equal(t, http.StatusBadRequest, status, "acting user header required")

	status, raw = s.do(t, http.MethodGet, "/tickets/missing", bot, 42, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(t, raw))
}

func TestRoutes_AdminRateLimitInspection(t *testing.T) {
	s := newTestServer(t, MiddlewareOptions{})
	bot := s.token(t, "bot", "bot-secret")
	console := s.token(t, "console", "console-secret")

	for i := 0; i < 3; i++ {
		status, raw := s.do(t, http.MethodPost, "/tickets", bot, 42, dto.CreateTicketRequest{Title: "t", AutoReply: new(bool)})
		require.Equal(t, http.StatusCreated, status, string(raw))
	}
	status, raw := s.do(t, http.MethodPost, "/tickets", bot, 42, dto.CreateTicketRequest{Title: "t"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, raw))

	status, raw = s.do(t, http.MethodGet, "/admin/ratelimit/42", console, 0, nil)
	require.Equal(t, http.StatusOK, status)
	st := decodeData[dto.RateLimitStatusResponse](t, raw)
	assert.Equal(t, 0, st.RemainingByAction[ratelimit.ActionOpenTicket])
	assert.Equal(t, 1, st.Suspicion)

	status, _ = s.do(t, http.MethodDelete, "/admin/ratelimit/42", console, 0, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, raw = s.do(t, http.MethodGet, "/admin/ratelimit", console, 0, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Zero(t, decodeData[ratelimit.Stats](t, raw).TrackedUsers)

	status, raw = s.do(t, http.MethodPost, "/admin/sweep", console, 0, nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	assert.Zero(t, decodeData[dto.SweepResponse](t, raw).Escalated)
}

func TestRoutes_OpsEndpoints(t *testing.T) {
	s := newTestServer(t, MiddlewareOptions{})

	status, _ := s.do(t, http.MethodGet, "/health/live", "", 0, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = s.do(t, http.MethodGet, "/health/ready", "", 0, nil)
	assert.Equal(t, http.StatusOK, status)

	status, raw := s.do(t, http.MethodGet, "/metrics", "", 0, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), "go_goroutines")

	status, raw = s.do(t, http.MethodPost, "/auth/token", "", 0, dto.TokenRequest{ClientID: "bot", ClientSecret: "nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, raw))
}

func TestRoutes_IngressLimiter(t *testing.T) {
	s := newTestServer(t, MiddlewareOptions{Ingress: NewIngressLimiter(0.001, 2)})

	for i := 0; i < 2; i++ {
		status, _ := s.do(t, http.MethodGet, "/health/live", "", 0, nil)
		require.Equal(t, http.StatusOK, status)
	}
	status, raw := s.do(t, http.MethodGet, "/health/live", "", 0, nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, raw))
	assert.Nil(t, NewIngressLimiter(0, 10))
}
