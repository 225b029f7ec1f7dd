package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/support-bot/internal/auth"
	"github.com/spec-kit/support-bot/internal/config"
	"github.com/spec-kit/support-bot/internal/domain"
	apperrors "github.com/spec-kit/support-bot/pkg/util/errorutil"
)

// AuthService exchanges client credentials for access tokens.
type AuthService struct {
	clients  map[string]string
	admins   map[string]struct{}
	tokenMgr *auth.TokenManager
	logger   *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, tokens *auth.TokenManager, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	admins := make(map[string]struct{}, len(cfg.AdminClients))
	for _, id := range cfg.AdminClients {
		admins[id] = struct{}{}
	}
	clients := make(map[string]string, len(cfg.Clients))
	for id, hash := range cfg.Clients {
		clients[id] = hash
	}
	return &AuthService{
		clients:  clients,
		admins:   admins,
		tokenMgr: tokens,
		logger:   logger,
	}
}

// IssueToken verifies clientID/secret and returns a signed token.
func (s *AuthService) IssueToken(_ context.Context, clientID, secret string) (*domain.Token, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" || secret == "" {
		return nil, apperrors.NewValidationError("client_id and client_secret required", nil)
	}
	hash, ok := s.clients[clientID]
	if !ok {
		s.logger.Warn("token requested for unknown client", zap.String("client_id", clientID))
		return nil, apperrors.NewUnauthorized("invalid client credentials")
	}
	if err := auth.CompareSecret(hash, secret); err != nil {
		s.logger.Warn("client secret mismatch", zap.String("client_id", clientID))
		return nil, apperrors.NewUnauthorized("invalid client credentials")
	}

	role := domain.ClientRoleAdapter
	if _, admin := s.admins[clientID]; admin {
		role = domain.ClientRoleAdmin
	}
	token, err := s.tokenMgr.GenerateToken(clientID, role)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return token, nil
}
