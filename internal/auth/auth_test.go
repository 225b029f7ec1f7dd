package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/support-bot/internal/domain"
	apperrors "github.com/spec-kit/support-bot/pkg/util/errorutil"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("s3cret", 5)
	token, err := tm.GenerateToken("telegram-bot", domain.ClientRoleAdmin)
	require.NoError(t, err)
	assert.True(t, token.ExpiresAt.After(token.IssuedAt))

	claims, err := tm.ParseToken(token.Value)
	require.NoError(t, err)
	assert.Equal(t, "telegram-bot", claims.ClientID)
	assert.Equal(t, domain.ClientRoleAdmin, claims.Role)

	_, err = NewTokenManager("other", 5).ParseToken(token.Value)
	assert.Error(t, err)
}

func TestSecretHashing(t *testing.T) {
	hash, err := HashSecret("hunter2", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NoError(t, CompareSecret(hash, "hunter2"))
	assert.Error(t, CompareSecret(hash, "hunter3"))
}

func newTestApp(tm *TokenManager, extra ...fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			de := apperrors.ToDomainError(err)
			return c.Status(de.HTTPStatus).SendString(de.Code)
		},
	})
	handlers := append([]fiber.Handler{NewAuthMiddleware(tm).Handle}, extra...)
	handlers = append(handlers, func(c *fiber.Ctx) error {
		p, _ := PrincipalFromContext(c)
		return c.JSON(fiber.Map{"client": p.ClientID, "user": p.UserID})
	})
	app.Get("/", handlers...)
	return app
}

func doRequest(t *testing.T, app *fiber.App, token, user string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if user != "" {
		req.Header.Set(ActingUserHeader, user)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestAuthMiddleware(t *testing.T) {
	tm := NewTokenManager("s3cret", 5)
	adapter, err := tm.GenerateToken("bot", domain.ClientRoleAdapter)
	require.NoError(t, err)
	app := newTestApp(tm)

	assert.Equal(t, http.StatusUnauthorized, doRequest(t, app, "", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, doRequest(t, app, "garbage", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, doRequest(t, app, adapter.Value, "abc").StatusCode)
	assert.Equal(t, http.StatusOK, doRequest(t, app, adapter.Value, "42").StatusCode)
}

func TestRoleGuards(t *testing.T) {
	tm := NewTokenManager("s3cret", 5)
	adapter, err := tm.GenerateToken("bot", domain.ClientRoleAdapter)
	require.NoError(t, err)
	admin, err := tm.GenerateToken("console", domain.ClientRoleAdmin)
	require.NoError(t, err)

	adminApp := newTestApp(tm, RequireAdmin())
	assert.Equal(t, http.StatusForbidden, doRequest(t, adminApp, adapter.Value, "").StatusCode)
	assert.Equal(t, http.StatusOK, doRequest(t, adminApp, admin.Value, "").StatusCode)

	userApp := newTestApp(tm, RequireActingUser())
	assert.Equal(t, http.StatusBadRequest, doRequest(t, userApp, adapter.Value, "").StatusCode)
	assert.Equal(t, http.StatusOK, doRequest(t, userApp, adapter.Value, "7").StatusCode)
}
