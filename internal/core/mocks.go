package core

import (
	"context"
	"sync"
	"time"

	"classbook/internal/types"
)

// MockAuthenticator returns a fixed Actor or error and records the tokens
// it was asked to resolve. ResolveTokenFunc, when set, takes precedence.
type MockAuthenticator struct {
	Actor            *types.Actor
	Err              error
	ResolveTokenFunc func(ctx context.Context, token string) (*types.Actor, error)

	mu    sync.Mutex
	Calls []string
}

func (m *MockAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.ResolveTokenFunc != nil {
		return m.ResolveTokenFunc(ctx, token)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Actor, nil
}

// MockRateLimitStore returns a fixed result and records every call.
type MockRateLimitStore struct {
	Result RateLimitResult
	Err    error

	mu    sync.Mutex
	Calls []RateLimitCall
}

// RateLimitCall records the arguments of one IncrementAndCheck call.
type RateLimitCall struct {
	Key    string
	Limit  int
	Window time.Duration
}

func (m *MockRateLimitStore) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RateLimitCall{Key: key, Limit: limit, Window: window})
	m.mu.Unlock()
	return m.Result, m.Err
}

// StaticTenantResolver resolves hosts from a fixed map. Unknown hosts yield
// not_found_tenant unless Fallback is set.
type StaticTenantResolver struct {
	Hosts    map[string]types.TenantRef
	Fallback *types.TenantRef
	Err      error
}

func (m *StaticTenantResolver) Resolve(_ context.Context, host string) (types.TenantRef, error) {
	if m.Err != nil {
		return types.TenantRef{}, m.Err
	}
	if ref, ok := m.Hosts[host]; ok {
		return ref, nil
	}
	if m.Fallback != nil {
		return *m.Fallback, nil
	}
	return types.TenantRef{}, types.NewAppError(types.ErrCodeNotFoundTenant, "no tenant for host "+host, nil)
}

var (
	_ Authenticator  = (*MockAuthenticator)(nil)
	_ RateLimitStore = (*MockRateLimitStore)(nil)
	_ TenantResolver = (*StaticTenantResolver)(nil)
)
