package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"classbook/internal/types"
)

// TemplateRepository provides data access for the schedule_templates table.
// Weekday slots are stored as one JSONB array of seven slot lists.
type TemplateRepository struct {
	db DBTX
}

// NewTemplateRepository creates a new TemplateRepository backed by the given
// database connection (pool or transaction).
func NewTemplateRepository(db DBTX) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// GetTemplate returns one template.
func (r *TemplateRepository) GetTemplate(ctx context.Context, scope types.Scope, templateID string) (*types.ScheduleTemplate, error) {
	var (
		t    types.ScheduleTemplate
		days []byte
	)
	err := retryRead(ctx, func() error {
		return r.db.QueryRow(ctx,
			`SELECT id, tenant_id, name, start_date, end_date, default_class_option_id,
			        default_lock_out_minutes, days, updated_at
			 FROM schedule_templates
			 WHERE id = $1 AND ($2::text IS NULL OR tenant_id = $2)`,
			templateID, tenantArg(scope),
		).Scan(&t.ID, &t.TenantID, &t.Name, &t.StartDate, &t.EndDate, &t.DefaultClassOptionID,
			&t.DefaultLockOutMinutes, &days, &t.UpdatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTemplate, "template not found", nil)
		}
		return nil, dbError("failed to retrieve template", err)
	}
	if len(days) > 0 {
		if err := json.Unmarshal(days, &t.Days); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode template days", err)
		}
	}
	return &t, nil
}

// SaveTemplate inserts or replaces a template. A template id already owned
// by another tenant is refused.
func (r *TemplateRepository) SaveTemplate(ctx context.Context, scope types.Scope, t *types.ScheduleTemplate) error {
	if !scope.Matches(t.TenantID) {
		return types.NewAppError(types.ErrCodePermissionTenantMismatch, "template belongs to a different tenant", nil)
	}
	days, err := json.Marshal(t.Days)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode template days", err)
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO schedule_templates (id, tenant_id, name, start_date, end_date,
		        default_class_option_id, default_lock_out_minutes, days, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   start_date = EXCLUDED.start_date,
		   end_date = EXCLUDED.end_date,
		   default_class_option_id = EXCLUDED.default_class_option_id,
		   default_lock_out_minutes = EXCLUDED.default_lock_out_minutes,
		   days = EXCLUDED.days,
		   updated_at = EXCLUDED.updated_at
		 WHERE schedule_templates.tenant_id = EXCLUDED.tenant_id`,
		t.ID,
		t.TenantID,
		t.Name,
		t.StartDate,
		t.EndDate,
		t.DefaultClassOptionID,
		t.DefaultLockOutMinutes,
		days,
		nilIfZeroTime(t.UpdatedAt),
	)
	if err != nil {
		return dbError("failed to save template", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodePermissionTenantMismatch, "template belongs to a different tenant", nil)
	}
	return nil
}
