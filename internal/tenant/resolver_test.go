package tenant

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"classbook/internal/config"
	"classbook/internal/types"
)

type fakeStore struct {
	tenants map[string]types.Tenant
	err     error
	calls   atomic.Int32
}

func (f *fakeStore) GetBySlug(_ context.Context, s string) (*types.Tenant, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.tenants[s]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundTenant, "tenant not found", nil)
	}
	return &t, nil
}

func newStore() *fakeStore {
	return &fakeStore{tenants: map[string]types.Tenant{
		"yoga-loft": {ID: "t-1", Slug: "yoga-loft"},
		"boxing":    {ID: "t-2", Slug: "boxing"},
	}}
}

func multiTenant() config.TenancyConfig {
	return config.TenancyConfig{MultiTenant: true, BaseDomain: "book.example.com"}
}

func TestSlugFromHost(t *testing.T) {
	r := NewResolver(newStore(), multiTenant(), nil)

	tests := []struct {
		host string
		want string
		ok   bool
	}{
		{"yoga-loft.book.example.com", "yoga-loft", true},
		{"yoga-loft.book.example.com:8443", "yoga-loft", true},
		{"YOGA-LOFT.Book.Example.com", "yoga-loft", true},
		{"yoga-loft.book.example.com.", "yoga-loft", true},
		{"www.yoga-loft.book.example.com", "www", true},
		{"book.example.com", "", false},
		{"yoga-loft.other.com", "", false},
		{"evilbook.example.com", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			got, ok := r.SlugFromHost(tt.host)
			if got != tt.want || ok != tt.ok {
				t.Errorf("SlugFromHost(%q) = %q, %v; want %q, %v", tt.host, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestResolve_MultiTenant(t *testing.T) {
	store := newStore()
	r := NewResolver(store, multiTenant(), nil)
	ctx := context.Background()

	ref, err := r.Resolve(ctx, "boxing.book.example.com")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.ID != "t-2" || ref.Slug != "boxing" {
		t.Errorf("ref = %+v", ref)
	}

	// Never a silent "no filter" for unknown hosts.
	for _, host := range []string{"unknown.book.example.com", "book.example.com", "localhost:8080"} {
		ref, err := r.Resolve(ctx, host)
		if !types.HasCode(err, types.ErrCodeNotFoundTenant) {
			t.Errorf("Resolve(%q) err = %v, want not_found_tenant", host, err)
		}
		if !ref.IsZero() {
			t.Errorf("Resolve(%q) ref = %+v, want zero", host, ref)
		}
	}
}

func TestResolve_SingleTenant(t *testing.T) {
	t.Run("default tenant", func(t *testing.T) {
		cfg := config.TenancyConfig{DefaultTenantSlug: "yoga-loft"}
		ref, err := NewResolver(newStore(), cfg, nil).Resolve(context.Background(), "anything:8080")
		if err != nil || ref.ID != "t-1" {
			t.Errorf("ref = %+v, err = %v", ref, err)
		}
	})

	t.Run("no filter", func(t *testing.T) {
		store := newStore()
		ref, err := NewResolver(store, config.TenancyConfig{}, nil).Resolve(context.Background(), "anything")
		if err != nil || !ref.IsZero() {
			t.Errorf("ref = %+v, err = %v", ref, err)
		}
		if store.calls.Load() != 0 {
			t.Error("store consulted without a default tenant")
		}
	})
}

func TestResolve_BreakerOpensOnStoreFailures(t *testing.T) {
	store := newStore()
	store.err = errors.New("connection refused")
	r := NewResolver(store, multiTenant(), nil)
	ctx := context.Background()

	for range 6 {
		if _, err := r.Resolve(ctx, "yoga-loft.book.example.com"); err == nil {
			t.Fatal("expected store error")
		}
	}
	// Seventh failure trips the breaker; later calls fail fast.
	_, _ = r.Resolve(ctx, "yoga-loft.book.example.com")
	callsBefore := store.calls.Load()

	_, err := r.Resolve(ctx, "yoga-loft.book.example.com")
	if !types.HasCode(err, types.ErrCodeUpstreamUnavailable) {
		t.Errorf("err = %v, want upstream_unavailable", err)
	}
	if store.calls.Load() != callsBefore {
		t.Error("open breaker still reached the store")
	}
}

func TestResolve_NotFoundDoesNotTripBreaker(t *testing.T) {
	store := newStore()
	r := NewResolver(store, multiTenant(), nil)
	ctx := context.Background()

	for range 20 {
		_, _ = r.Resolve(ctx, "ghost.book.example.com")
	}
	ref, err := r.Resolve(ctx, "yoga-loft.book.example.com")
	if err != nil || ref.ID != "t-1" {
		t.Errorf("ref = %+v, err = %v; unknown hosts must not open the breaker", ref, err)
	}
}
