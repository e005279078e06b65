package core

import (
	"context"
	"time"

	"classbook/internal/types"
)

// Authenticator decouples the HTTP layer from the token format.
type Authenticator interface {
	// ResolveToken returns the Actor for a bearer token. Malformed or
	// unverifiable tokens yield auth_token_invalid; expired ones
	// auth_token_expired.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// TenantResolver maps a request host to a tenant.
type TenantResolver interface {
	Resolve(ctx context.Context, host string) (types.TenantRef, error)
}

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	RecordRequest(method, route, status string, duration time.Duration)
}

// RateLimitStore abstracts the backing store for rate limiting.
type RateLimitStore interface {
	// IncrementAndCheck atomically counts one request against key and reports
	// whether the window's limit still allows it.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimitResult contains the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}
