package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"classbook/internal/types"
)

// TenantRepository provides data access for the tenants table.
type TenantRepository struct {
	db DBTX
}

// NewTenantRepository creates a new TenantRepository backed by the given
// database connection (pool or transaction).
func NewTenantRepository(db DBTX) *TenantRepository {
	return &TenantRepository{db: db}
}

// GetBySlug looks a tenant up by its host slug. It backs tenant.Resolver.
func (r *TenantRepository) GetBySlug(ctx context.Context, slug string) (*types.Tenant, error) {
	var t types.Tenant
	err := retryRead(ctx, func() error {
		return r.db.QueryRow(ctx,
			`SELECT id, slug, name, created_at FROM tenants WHERE slug = $1`,
			slug,
		).Scan(&t.ID, &t.Slug, &t.Name, &t.CreatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTenant, "tenant not found", nil)
		}
		return nil, dbError("failed to retrieve tenant", err)
	}
	return &t, nil
}
