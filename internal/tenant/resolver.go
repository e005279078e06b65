// Package tenant maps request hosts to tenants.
package tenant

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/sony/gobreaker/v2"

	"classbook/internal/config"
	"classbook/internal/types"
)

// Store looks tenants up by slug. A missing tenant is reported as
// ErrCodeNotFoundTenant.
type Store interface {
	GetBySlug(ctx context.Context, slug string) (*types.Tenant, error)
}

// Resolver implements core.TenantResolver.
type Resolver struct {
	store         Store
	multiTenant   bool
	baseDomain    string
	defaultSlug   string
	lookupTimeout time.Duration
	breaker       *gobreaker.CircuitBreaker[*types.Tenant]
	logger        *slog.Logger
}

// NewResolver creates a Resolver from the tenancy configuration. Lookups go
// through a circuit breaker so a struggling database fails requests fast
// instead of queueing them.
func NewResolver(store Store, cfg config.TenancyConfig, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker[*types.Tenant](gobreaker.Settings{
		Name:        "tenant-lookup",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// Unknown hosts are a client problem, not a store failure.
		IsSuccessful: func(err error) bool {
			return err == nil || types.HasCode(err, types.ErrCodeNotFoundTenant)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Resolver{
		store:         store,
		multiTenant:   cfg.MultiTenant,
		baseDomain:    strings.ToLower(strings.Trim(cfg.BaseDomain, ".")),
		defaultSlug:   cfg.DefaultTenantSlug,
		lookupTimeout: cfg.LookupTimeout,
		breaker:       cb,
		logger:        logger,
	}
}

// Resolve returns the tenant serving host. In a multi-tenant deployment an
// unresolvable host is always an error. A single-tenant deployment resolves
// to the default tenant, or to the zero ref (no filter) when none is set.
func (r *Resolver) Resolve(ctx context.Context, host string) (types.TenantRef, error) {
	if !r.multiTenant {
		if r.defaultSlug == "" {
			return types.TenantRef{}, nil
		}
		return r.lookup(ctx, r.defaultSlug)
	}

	s, ok := r.SlugFromHost(host)
	if !ok {
		return types.TenantRef{}, types.NewAppErrorWithDetails(types.ErrCodeNotFoundTenant,
			"no tenant serves this host", nil, map[string]any{"host": host})
	}
	return r.lookup(ctx, s)
}

// SlugFromHost extracts the tenant slug from host: the port and the base
// domain are stripped and the leftmost remaining label is normalised.
func (r *Resolver) SlugFromHost(host string) (string, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")

	if r.baseDomain != "" {
		if host == r.baseDomain || !strings.HasSuffix(host, "."+r.baseDomain) {
			return "", false
		}
		host = strings.TrimSuffix(host, "."+r.baseDomain)
	}

	label, _, _ := strings.Cut(host, ".")
	s := slug.Make(label)
	if s == "" {
		return "", false
	}
	return s, true
}

func (r *Resolver) lookup(ctx context.Context, s string) (types.TenantRef, error) {
	if r.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.lookupTimeout)
		defer cancel()
	}

	t, err := r.breaker.Execute(func() (*types.Tenant, error) {
		return r.store.GetBySlug(ctx, s)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return types.TenantRef{}, types.NewAppError(types.ErrCodeUpstreamUnavailable,
				"tenant lookup temporarily unavailable", err)
		}
		if types.HasCode(err, types.ErrCodeNotFoundTenant) {
			return types.TenantRef{}, err
		}
		r.logger.ErrorContext(ctx, "tenant lookup failed", "slug", s, "error", err)
		return types.TenantRef{}, err
	}
	return t.Ref(), nil
}
