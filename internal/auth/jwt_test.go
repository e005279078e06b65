package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classbook/internal/config"
	"classbook/internal/types"
)

const testKey = "0123456789abcdef0123456789abcdef"

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSigningKey: config.SecretString(testKey),
		Issuer:        "classbook-identity",
		Audience:      "classbook-api",
	}
}

func validClaims() Claims {
	now := time.Now()
	return Claims{
		TenantID: "t-1",
		Role:     types.RoleUser,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			Issuer:    "classbook-identity",
			Audience:  jwt.ClaimStrings{"classbook-api"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
		},
	}
}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestResolveToken_Valid(t *testing.T) {
	a := NewJWTAuthenticator(testAuthConfig(), nil)

	actor, err := a.ResolveToken(context.Background(), sign(t, jwt.SigningMethodHS256, []byte(testKey), validClaims()))
	require.NoError(t, err)
	assert.Equal(t, &types.Actor{ID: "u-1", Role: types.RoleUser, TenantID: "t-1"}, actor)
}

func TestResolveToken_PlatformAdminWithoutTenant(t *testing.T) {
	a := NewJWTAuthenticator(testAuthConfig(), nil)
	claims := validClaims()
	claims.Role = types.RolePlatformAdmin
	claims.TenantID = ""

	actor, err := a.ResolveToken(context.Background(), sign(t, jwt.SigningMethodHS256, []byte(testKey), claims))
	require.NoError(t, err)
	assert.True(t, actor.IsPlatformAdmin())
	assert.Empty(t, actor.TenantID)
}

func TestResolveToken_Rejections(t *testing.T) {
	a := NewJWTAuthenticator(testAuthConfig(), nil)
	hs := func(mutate func(*Claims)) string {
		c := validClaims()
		mutate(&c)
		return sign(t, jwt.SigningMethodHS256, []byte(testKey), c)
	}

	tests := []struct {
		name  string
		token string
		want  types.ErrorCode
	}{
		{"empty", "", types.ErrCodeAuthTokenMissing},
		{"garbage", "not-a-jwt", types.ErrCodeAuthTokenInvalid},
		{"expired", hs(func(c *Claims) {
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
			c.IssuedAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Hour))
		}), types.ErrCodeAuthTokenExpired},
		{"no expiry", hs(func(c *Claims) { c.ExpiresAt = nil }), types.ErrCodeAuthTokenInvalid},
		{"wrong issuer", hs(func(c *Claims) { c.Issuer = "someone-else" }), types.ErrCodeAuthTokenInvalid},
		{"wrong audience", hs(func(c *Claims) { c.Audience = jwt.ClaimStrings{"billing"} }), types.ErrCodeAuthTokenInvalid},
		{"no subject", hs(func(c *Claims) { c.Subject = "" }), types.ErrCodeAuthTokenInvalid},
		{"unknown role", hs(func(c *Claims) { c.Role = "owner" }), types.ErrCodeAuthTokenInvalid},
		{"member without tenant", hs(func(c *Claims) { c.TenantID = "" }), types.ErrCodeAuthTokenInvalid},
		{"wrong key", sign(t, jwt.SigningMethodHS256, []byte("another-key-another-key-another!!"), validClaims()), types.ErrCodeAuthTokenInvalid},
		{"alg none", sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims()), types.ErrCodeAuthTokenInvalid},
		{"hs512 not accepted", sign(t, jwt.SigningMethodHS512, []byte(testKey), validClaims()), types.ErrCodeAuthTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actor, err := a.ResolveToken(context.Background(), tt.token)
			require.Error(t, err)
			assert.Nil(t, actor)
			assert.Equal(t, tt.want, types.CodeOf(err))
		})
	}
}
