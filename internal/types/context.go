package types

import (
	"context"
	"log/slog"
)

// Actor represents the authenticated viewer performing an operation.
type Actor struct {
	ID       string
	Role     Role
	TenantID string
}

// IsPlatformAdmin reports whether the actor bypasses tenant and ownership checks.
func (a Actor) IsPlatformAdmin() bool {
	return a.Role == RolePlatformAdmin
}

// IsTenantAdmin reports whether the actor administers its own tenant.
func (a Actor) IsTenantAdmin() bool {
	return a.Role == RoleTenantAdmin
}

// TenantRef identifies the tenant a request was resolved to. The zero value
// means "no tenant filter" and only occurs in single-tenant deployments.
type TenantRef struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
}

// IsZero reports whether no tenant was resolved.
func (t TenantRef) IsZero() bool {
	return t.ID == ""
}

// Scope is the tenant predicate every repository call is evaluated under.
// AllTenants is reserved for platform admins and background jobs that already
// carry an explicit tenant on their payload.
type Scope struct {
	TenantID   string
	AllTenants bool
}

// TenantScope returns a scope restricted to a single tenant.
func TenantScope(tenantID string) Scope {
	return Scope{TenantID: tenantID}
}

// Matches reports whether a row owned by tenantID is visible under s.
func (s Scope) Matches(tenantID string) bool {
	if s.AllTenants || s.TenantID == "" {
		return true
	}
	return s.TenantID == tenantID
}

// Context Keys
type contextKey string

const (
	actorKey     contextKey = "actor"
	tenantKey    contextKey = "tenant"
	requestIDKey contextKey = "request_id"
	loggerKey    contextKey = "logger"
)

// WithActor stores the Actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the Actor from the context.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// WithTenant stores the resolved tenant in the context.
func WithTenant(ctx context.Context, tenant TenantRef) context.Context {
	return context.WithValue(ctx, tenantKey, tenant)
}

// GetTenant retrieves the resolved tenant from the context.
func GetTenant(ctx context.Context) (TenantRef, bool) {
	t, ok := ctx.Value(tenantKey).(TenantRef)
	return t, ok
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithLogger stores a request-scoped logger in the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the request-scoped logger, falling back to
// fallback (or slog.Default when fallback is nil).
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}
