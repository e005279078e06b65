// Package auth verifies the bearer tokens issued by the identity service and
// turns them into request actors. Token issuing lives outside this service.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"classbook/internal/config"
	"classbook/internal/types"
)

// clockSkew is the leeway allowed on exp/nbf/iat checks.
const clockSkew = 30 * time.Second

// Claims is the token payload. The subject is the user id; tid names the
// tenant the user belongs to and is empty only for platform admins.
type Claims struct {
	TenantID string     `json:"tid,omitempty"`
	Role     types.Role `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuthenticator implements core.Authenticator for HS256 tokens.
type JWTAuthenticator struct {
	key    []byte
	parser *jwt.Parser
	logger *slog.Logger
}

// NewJWTAuthenticator builds an authenticator from cfg. Tokens must carry
// the configured issuer and audience and an expiry.
func NewJWTAuthenticator(cfg config.AuthConfig, logger *slog.Logger) *JWTAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &JWTAuthenticator{
		key: []byte(cfg.JWTSigningKey.Unmask()),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(clockSkew),
		),
		logger: logger,
	}
}

// ResolveToken verifies token and returns the actor it names.
func (a *JWTAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	if token == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenMissing, "bearer token is required", nil)
	}

	var claims Claims
	_, err := a.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "token has expired", err)
		}
		a.logger.DebugContext(ctx, "token rejected", "error", err)
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token is invalid", err)
	}

	if claims.Subject == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token has no subject", nil)
	}
	switch claims.Role {
	case types.RolePlatformAdmin:
	case types.RoleTenantAdmin, types.RoleUser:
		if claims.TenantID == "" {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token has no tenant", nil)
		}
	default:
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token has an unknown role", nil)
	}

	return &types.Actor{
		ID:       claims.Subject,
		Role:     claims.Role,
		TenantID: claims.TenantID,
	}, nil
}
