package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"classbook/internal/booking"
	"classbook/internal/types"
)

const lessonDetailColumns = `l.id, l.tenant_id, l.start_time, l.end_time, l.lock_out_minutes,
	l.class_option_id, l.instructor_id, l.location, l.active, l.template_id, l.created_at,
	o.id, o.tenant_id, o.name, o.places, o.class_type, o.allowed_plan_ids,
	o.allow_drop_in, o.trial_discount`

// The option join repeats the tenant so a lesson can never pick up a class
// option from another tenant.
const lessonDetailFrom = `FROM lessons l
	JOIN class_options o ON o.id = l.class_option_id AND o.tenant_id = l.tenant_id`

const bookingColumns = `id, tenant_id, lesson_id, user_id, status, payment_method,
	subscription_id, created_at, updated_at, confirmed_at`

// BookingStore implements booking.Store on PostgreSQL. The lesson lock is a
// row lock on the lessons row (SELECT ... FOR UPDATE) held for the length
// of one transaction.
type BookingStore struct {
	pool Pool
}

// NewBookingStore creates a BookingStore backed by the given pool.
func NewBookingStore(pool Pool) *BookingStore {
	return &BookingStore{pool: pool}
}

var _ booking.Store = (*BookingStore)(nil)

// GetLesson returns one lesson with its class option.
func (s *BookingStore) GetLesson(ctx context.Context, scope types.Scope, lessonID string) (*booking.LessonDetail, error) {
	var d *booking.LessonDetail
	err := retryRead(ctx, func() error {
		row := s.pool.QueryRow(ctx,
			`SELECT `+lessonDetailColumns+` `+lessonDetailFrom+`
			 WHERE l.id = $1 AND ($2::text IS NULL OR l.tenant_id = $2)`,
			lessonID, tenantArg(scope),
		)
		var err error
		d, err = scanLessonDetail(row)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundLesson, "lesson not found", nil)
		}
		return nil, dbError("failed to retrieve lesson", err)
	}
	return d, nil
}

// ListLessons returns lessons starting in [from, to), ordered by start time.
func (s *BookingStore) ListLessons(ctx context.Context, scope types.Scope, from, to time.Time) ([]booking.LessonDetail, error) {
	var out []booking.LessonDetail
	err := retryRead(ctx, func() error {
		out = out[:0]
		rows, err := s.pool.Query(ctx,
			`SELECT `+lessonDetailColumns+` `+lessonDetailFrom+`
			 WHERE l.start_time >= $1 AND l.start_time < $2
			   AND ($3::text IS NULL OR l.tenant_id = $3)
			 ORDER BY l.start_time, l.id`,
			from, to, tenantArg(scope),
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			d, err := scanLessonDetail(rows)
			if err != nil {
				return err
			}
			out = append(out, *d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, dbError("failed to list lessons", err)
	}
	return out, nil
}

// ConfirmedCounts returns confirmed booking counts for lessonIDs in one query.
func (s *BookingStore) ConfirmedCounts(ctx context.Context, scope types.Scope, lessonIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(lessonIDs))
	if len(lessonIDs) == 0 {
		return counts, nil
	}
	err := retryRead(ctx, func() error {
		rows, err := s.pool.Query(ctx,
			`SELECT lesson_id, COUNT(*)
			 FROM bookings
			 WHERE lesson_id = ANY($1) AND status = 'confirmed'
			   AND ($2::text IS NULL OR tenant_id = $2)
			 GROUP BY lesson_id`,
			lessonIDs, tenantArg(scope),
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				id string
				n  int
			)
			if err := rows.Scan(&id, &n); err != nil {
				return err
			}
			counts[id] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, dbError("failed to count confirmed bookings", err)
	}
	return counts, nil
}

// ViewerBookings returns userID's non-cancelled bookings on lessonIDs.
func (s *BookingStore) ViewerBookings(ctx context.Context, scope types.Scope, userID string, lessonIDs []string) ([]types.Booking, error) {
	if len(lessonIDs) == 0 {
		return nil, nil
	}
	var out []types.Booking
	err := retryRead(ctx, func() error {
		var err error
		out, err = queryBookings(ctx, s.pool,
			`SELECT `+bookingColumns+`
			 FROM bookings
			 WHERE user_id = $1 AND lesson_id = ANY($2) AND status <> 'cancelled'
			   AND ($3::text IS NULL OR tenant_id = $3)
			 ORDER BY created_at, seq`,
			userID, lessonIDs, tenantArg(scope),
		)
		return err
	})
	if err != nil {
		return nil, dbError("failed to list viewer bookings", err)
	}
	return out, nil
}

// HasConfirmedBooking reports whether userID or one of their children has
// ever held a confirmed booking.
func (s *BookingStore) HasConfirmedBooking(ctx context.Context, scope types.Scope, userID string) (bool, error) {
	var exists bool
	err := retryRead(ctx, func() error {
		return s.pool.QueryRow(ctx,
			`SELECT EXISTS (
			   SELECT 1 FROM bookings b
			   JOIN users u ON u.id = b.user_id
			   WHERE b.confirmed_at IS NOT NULL
			     AND (b.user_id = $1 OR u.parent_user_id = $1)
			     AND ($2::text IS NULL OR b.tenant_id = $2)
			 )`,
			userID, tenantArg(scope),
		).Scan(&exists)
	})
	if err != nil {
		return false, dbError("failed to check booking history", err)
	}
	return exists, nil
}

// GetUser returns one user.
func (s *BookingStore) GetUser(ctx context.Context, scope types.Scope, userID string) (*types.User, error) {
	var u types.User
	err := retryRead(ctx, func() error {
		return s.pool.QueryRow(ctx,
			`SELECT id, tenant_id, parent_user_id
			 FROM users
			 WHERE id = $1 AND ($2::text IS NULL OR tenant_id = $2)`,
			userID, tenantArg(scope),
		).Scan(&u.ID, &u.TenantID, &u.ParentUserID)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, dbError("failed to retrieve user", err)
	}
	return &u, nil
}

// GetBooking returns one booking.
func (s *BookingStore) GetBooking(ctx context.Context, scope types.Scope, bookingID string) (*types.Booking, error) {
	var b *types.Booking
	err := retryRead(ctx, func() error {
		row := s.pool.QueryRow(ctx,
			`SELECT `+bookingColumns+`
			 FROM bookings
			 WHERE id = $1 AND ($2::text IS NULL OR tenant_id = $2)`,
			bookingID, tenantArg(scope),
		)
		var err error
		b, err = scanBooking(row)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundBooking, "booking not found", nil)
		}
		return nil, dbError("failed to retrieve booking", err)
	}
	return b, nil
}

// WithLessonLock opens a transaction, locks the lesson row and runs fn.
// Concurrent callers on the same lesson queue on the row lock; callers on
// other lessons are not affected. Deadlocks and serialization failures are
// reported as conflict_transient_retry and are not retried.
func (s *BookingStore) WithLessonLock(ctx context.Context, scope types.Scope, lessonID string, fn func(ctx context.Context, tx booking.LessonTx) error) error {
	return runInTx(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+lessonDetailColumns+` `+lessonDetailFrom+`
			 WHERE l.id = $1 AND ($2::text IS NULL OR l.tenant_id = $2)
			 FOR UPDATE OF l`,
			lessonID, tenantArg(scope),
		)
		d, err := scanLessonDetail(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return types.NewAppError(types.ErrCodeNotFoundLesson, "lesson not found", nil)
			}
			return dbError("failed to lock lesson", err)
		}
		return fn(ctx, &lessonTx{tx: tx, detail: *d})
	})
}

// lessonTx implements booking.LessonTx on an open transaction that holds
// the lesson's row lock.
type lessonTx struct {
	tx     DBTX
	detail booking.LessonDetail
}

func (t *lessonTx) Lesson() booking.LessonDetail { return t.detail }

func (t *lessonTx) ConfirmedCount(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM bookings WHERE lesson_id = $1 AND status = 'confirmed'`,
		t.detail.Lesson.ID,
	).Scan(&n)
	if err != nil {
		return 0, dbError("failed to count confirmed bookings", err)
	}
	return n, nil
}

func (t *lessonTx) UserBookings(ctx context.Context, userID string) ([]types.Booking, error) {
	out, err := queryBookings(ctx, t.tx,
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE lesson_id = $1 AND user_id = $2 AND status <> 'cancelled'
		 ORDER BY created_at, seq`,
		t.detail.Lesson.ID, userID,
	)
	if err != nil {
		return nil, dbError("failed to list user bookings", err)
	}
	return out, nil
}

func (t *lessonTx) InsertBooking(ctx context.Context, b *types.Booking) error {
	if b.LessonID != t.detail.Lesson.ID || b.TenantID != t.detail.Lesson.TenantID {
		return types.NewAppError(types.ErrCodePermissionTenantMismatch, "booking does not match the locked lesson", nil)
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO bookings (id, tenant_id, lesson_id, user_id, status, payment_method,
		                       subscription_id, created_at, updated_at, confirmed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()), COALESCE($9, NOW()),
		         CASE WHEN $5 = 'confirmed' THEN NOW() END)`,
		b.ID,
		b.TenantID,
		b.LessonID,
		b.UserID,
		string(b.Status),
		string(b.PaymentMethod),
		b.SubscriptionID,
		nilIfZeroTime(b.CreatedAt),
		nilIfZeroTime(b.UpdatedAt),
	)
	if err != nil {
		return dbError("failed to insert booking", err)
	}
	return nil
}

func (t *lessonTx) TransitionBooking(ctx context.Context, bookingID string, from, to types.BookingStatus) error {
	if !from.CanTransitionTo(to) {
		return types.NewAppError(types.ErrCodeInvalidTransition,
			"booking cannot move from "+string(from)+" to "+string(to), nil)
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE bookings
		 SET status = $3,
		     updated_at = NOW(),
		     confirmed_at = CASE WHEN $3 = 'confirmed' THEN COALESCE(confirmed_at, NOW()) ELSE confirmed_at END
		 WHERE id = $1 AND lesson_id = $4 AND status = $2`,
		bookingID, string(from), string(to), t.detail.Lesson.ID,
	)
	if err != nil {
		return dbError("failed to update booking status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInvalidTransition, "booking changed concurrently", nil)
	}
	return nil
}

func (t *lessonTx) LockSubscriptions(ctx context.Context, userID string) ([]types.SubscriptionWithPlan, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT s.id, s.tenant_id, s.user_id, s.plan_id, s.status, s.start_date, s.end_date, s.cancel_at,
		        p.id, p.tenant_id, p.name, p.sessions_allowed, p.interval_unit, p.interval_count
		 FROM subscriptions s
		 JOIN plans p ON p.id = s.plan_id AND p.tenant_id = s.tenant_id
		 WHERE s.user_id = $1 AND s.tenant_id = $2
		 ORDER BY s.start_date, s.id
		 FOR UPDATE OF s`,
		userID, t.detail.Lesson.TenantID,
	)
	if err != nil {
		return nil, dbError("failed to lock subscriptions", err)
	}
	defer rows.Close()

	var subs []types.SubscriptionWithPlan
	for rows.Next() {
		var sp types.SubscriptionWithPlan
		if err := rows.Scan(
			&sp.ID, &sp.TenantID, &sp.UserID, &sp.PlanID, &sp.Status, &sp.StartDate, &sp.EndDate, &sp.CancelAt,
			&sp.Plan.ID, &sp.Plan.TenantID, &sp.Plan.Name, &sp.Plan.SessionsAllowed, &sp.Plan.Interval, &sp.Plan.IntervalCount,
		); err != nil {
			return nil, dbError("failed to scan subscription", err)
		}
		subs = append(subs, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("error iterating subscriptions", err)
	}
	return subs, nil
}

// CountConfirmedForPlan counts confirmed bookings by userID or their
// children on lessons that accept planID and start in [from, to).
func (t *lessonTx) CountConfirmedForPlan(ctx context.Context, userID, planID string, from, to time.Time) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM bookings b
		 JOIN users u ON u.id = b.user_id
		 JOIN lessons l ON l.id = b.lesson_id
		 JOIN class_options o ON o.id = l.class_option_id
		 WHERE b.tenant_id = $1
		   AND b.status = 'confirmed'
		   AND (b.user_id = $2 OR u.parent_user_id = $2)
		   AND $3 = ANY(o.allowed_plan_ids)
		   AND l.start_time >= $4 AND l.start_time < $5`,
		t.detail.Lesson.TenantID, userID, planID, from, to,
	).Scan(&n)
	if err != nil {
		return 0, dbError("failed to count plan usage", err)
	}
	return n, nil
}

func scanLessonDetail(row pgx.Row) (*booking.LessonDetail, error) {
	var d booking.LessonDetail
	l, o := &d.Lesson, &d.Option
	err := row.Scan(
		&l.ID, &l.TenantID, &l.StartTime, &l.EndTime, &l.LockOutMinutes,
		&l.ClassOptionID, &l.InstructorID, &l.Location, &l.Active, &l.TemplateID, &l.CreatedAt,
		&o.ID, &o.TenantID, &o.Name, &o.Places, &o.Type, &o.AllowedPlanIDs,
		&o.AllowDropIn, &o.TrialDiscount,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanBooking(row pgx.Row) (*types.Booking, error) {
	var b types.Booking
	err := row.Scan(
		&b.ID, &b.TenantID, &b.LessonID, &b.UserID, &b.Status, &b.PaymentMethod,
		&b.SubscriptionID, &b.CreatedAt, &b.UpdatedAt, &b.ConfirmedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func queryBookings(ctx context.Context, db DBTX, sql string, args ...any) ([]types.Booking, error) {
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}
