package auth

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-bot/internal/domain"
	apperrors "github.com/spec-kit/support-bot/pkg/util/errorutil"
)

const (
	principalKey = "auth_principal"
	// ActingUserHeader carries the chat user id the client acts for.
	ActingUserHeader = "X-User-ID"
)

// Principal represents the authenticated caller.
type Principal struct {
	ClientID string
	Role     domain.ClientRole
	// UserID is the end user (or admin operator) the client acts for; zero
	// when the header is absent.
	UserID int64
}

// IsAdmin reports whether the client holds the admin role.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == domain.ClientRoleAdmin
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens *TokenManager
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	principal := &Principal{ClientID: claims.ClientID, Role: claims.Role}
	if raw := strings.TrimSpace(c.Get(ActingUserHeader)); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			return apperrors.NewValidationError("invalid "+ActingUserHeader+" header", nil)
		}
		principal.UserID = userID
	}

	c.Locals(principalKey, principal)
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
