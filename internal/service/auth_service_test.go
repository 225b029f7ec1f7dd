package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/support-bot/internal/auth"
	"github.com/spec-kit/support-bot/internal/config"
	"github.com/spec-kit/support-bot/internal/domain"
	apperrors "github.com/spec-kit/support-bot/pkg/util/errorutil"
)

func TestAuthService_IssueToken(t *testing.T) {
	botHash, err := auth.HashSecret("bot-secret", bcrypt.MinCost)
	require.NoError(t, err)
	consoleHash, err := auth.HashSecret("console-secret", bcrypt.MinCost)
	require.NoError(t, err)

	tokens := auth.NewTokenManager("jwt-secret", 10)
	svc := NewAuthService(config.AuthConfig{
		Clients:      map[string]string{"bot": botHash, "console": consoleHash},
		AdminClients: []string{"console"},
	}, tokens, nil)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, "bot", "bot-secret")
	require.NoError(t, err)
	assert.Equal(t, domain.ClientRoleAdapter, token.Role)

	token, err = svc.IssueToken(ctx, "console", "console-secret")
	require.NoError(t, err)
	assert.Equal(t, domain.ClientRoleAdmin, token.Role)
	claims, err := tokens.ParseToken(token.Value)
	require.NoError(t, err)
	assert.Equal(t, "console", claims.ClientID)

	for _, tc := range []struct{ id, secret, code string }{
		{"bot", "wrong", "UNAUTHORIZED"},
		{"nobody", "bot-secret", "UNAUTHORIZED"},
		{"", "x", "VALIDATION_FAILED"},
	} {
		_, err := svc.IssueToken(ctx, tc.id, tc.secret)
		var de *apperrors.DomainError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, tc.code, de.Code, tc.id)
	}
}
