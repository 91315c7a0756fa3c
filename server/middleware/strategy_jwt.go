package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/godamri/helix-audit/crypto"
)

// JWTStrategy authenticates bearer tokens issued by the identity provider.
type JWTStrategy struct {
	verifier crypto.TokenVerifier
	logger   *slog.Logger
}

func NewJWTStrategy(verifier crypto.TokenVerifier, logger *slog.Logger) *JWTStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &JWTStrategy{verifier: verifier, logger: logger}
}

func (s *JWTStrategy) Authenticate(ctx context.Context, payload AuthPayload) (Identity, error) {
	scheme, token, ok := strings.Cut(payload.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return Identity{}, errNoCredentials
	}

	claims, err := s.verifier.VerifyToken(ctx, token)
	if err != nil {
		s.logger.WarnContext(ctx, "bearer token rejected", "error", err, "remote", payload.RemoteAddr)
		if errors.Is(err, crypto.ErrExpiredToken) {
			return Identity{}, errors.New("token expired")
		}
		return Identity{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("token has no subject")
	}

	return Identity{
		ActorID:   claims.Subject,
		ActorType: claims.ActorType(),
		TenantID:  claims.OrgID,
		SessionID: claims.SessionID,
		Roles:     claims.RoleList(),
	}, nil
}
