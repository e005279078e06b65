package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"classbook/internal/schedule"
	"classbook/internal/types"
)

// ExpansionStore implements schedule.ExpansionStore.
type ExpansionStore struct {
	pool      Pool
	templates *TemplateRepository
}

// NewExpansionStore creates an ExpansionStore backed by the given pool.
func NewExpansionStore(pool Pool) *ExpansionStore {
	return &ExpansionStore{pool: pool, templates: NewTemplateRepository(pool)}
}

var _ schedule.ExpansionStore = (*ExpansionStore)(nil)

// GetTemplate delegates to TemplateRepository.
func (s *ExpansionStore) GetTemplate(ctx context.Context, scope types.Scope, templateID string) (*types.ScheduleTemplate, error) {
	return s.templates.GetTemplate(ctx, scope, templateID)
}

// ClassOptionTenants maps option ids to their tenant ids. Unknown ids are
// absent from the result.
func (s *ExpansionStore) ClassOptionTenants(ctx context.Context, optionIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(optionIDs))
	err := retryRead(ctx, func() error {
		rows, err := s.pool.Query(ctx,
			`SELECT id, tenant_id FROM class_options WHERE id = ANY($1)`,
			optionIDs,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id, tenantID string
			if err := rows.Scan(&id, &tenantID); err != nil {
				return err
			}
			out[id] = tenantID
		}
		return rows.Err()
	})
	if err != nil {
		return nil, dbError("failed to look up class options", err)
	}
	return out, nil
}

// BeginTx starts the expansion transaction.
func (s *ExpansionStore) BeginTx(ctx context.Context) (schedule.ExpansionTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, dbError("failed to begin transaction", err)
	}
	return &expansionTx{tx: tx}, nil
}

type expansionTx struct {
	tx pgx.Tx
}

// DeleteGeneratedLessons removes booking-free lessons generated from the
// template. Lessons with any booking, cancelled ones included, are kept so
// booking history stays attached to a lesson.
func (t *expansionTx) DeleteGeneratedLessons(ctx context.Context, tenantID, templateID string, from, to time.Time) (int, error) {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM lessons l
		 WHERE l.tenant_id = $1 AND l.template_id = $2
		   AND l.start_time >= $3 AND l.start_time < $4
		   AND NOT EXISTS (SELECT 1 FROM bookings b WHERE b.lesson_id = l.id)`,
		tenantID, templateID, from, to,
	)
	if err != nil {
		return 0, dbError("failed to clear generated lessons", err)
	}
	return int(tag.RowsAffected()), nil
}

// InsertLesson inserts a generated lesson. The unique key on (template_id,
// start_time, location) makes re-runs skip lessons that already exist.
func (t *expansionTx) InsertLesson(ctx context.Context, l *types.Lesson) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO lessons (id, tenant_id, start_time, end_time, lock_out_minutes,
		        class_option_id, instructor_id, location, active, template_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (template_id, start_time, location) DO NOTHING`,
		l.ID,
		l.TenantID,
		l.StartTime,
		l.EndTime,
		l.LockOutMinutes,
		l.ClassOptionID,
		l.InstructorID,
		l.Location,
		l.Active,
		l.TemplateID,
	)
	if err != nil {
		return false, dbError("failed to insert lesson", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *expansionTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return dbError("failed to commit expansion", err)
	}
	return nil
}

func (t *expansionTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return dbError("failed to roll back expansion", err)
	}
	return nil
}
