// Package booking implements the class booking engine: capacity and
// availability, viewer state, and the reservation coordinator that applies
// booking intents under a per-lesson lock.
package booking

import (
	"context"
	"time"

	"classbook/internal/types"
)

// LessonDetail is a lesson joined with the class option that defines its
// capacity and payment rules.
type LessonDetail struct {
	Lesson types.Lesson      `json:"lesson"`
	Option types.ClassOption `json:"class_option"`
}

// Store is the storage contract of the booking engine. Every method filters
// by scope; a record outside the scope is reported as not found.
type Store interface {
	GetLesson(ctx context.Context, scope types.Scope, lessonID string) (*LessonDetail, error)
	ListLessons(ctx context.Context, scope types.Scope, from, to time.Time) ([]LessonDetail, error)

	// ConfirmedCounts returns the confirmed booking count per lesson id.
	// Lessons without bookings may be absent from the map.
	ConfirmedCounts(ctx context.Context, scope types.Scope, lessonIDs []string) (map[string]int, error)

	// ViewerBookings returns the non-cancelled bookings of userID on the
	// given lessons, oldest first.
	ViewerBookings(ctx context.Context, scope types.Scope, userID string, lessonIDs []string) ([]types.Booking, error)

	// HasConfirmedBooking reports whether userID or any of their children
	// has ever held a confirmed booking.
	HasConfirmedBooking(ctx context.Context, scope types.Scope, userID string) (bool, error)

	GetUser(ctx context.Context, scope types.Scope, userID string) (*types.User, error)
	GetBooking(ctx context.Context, scope types.Scope, bookingID string) (*types.Booking, error)

	// WithLessonLock runs fn while holding an exclusive lock on the lesson.
	// Writes made through tx commit only if fn returns nil. Locks on
	// different lessons do not block each other.
	WithLessonLock(ctx context.Context, scope types.Scope, lessonID string, fn func(ctx context.Context, tx LessonTx) error) error
}

// LessonTx is the view of one locked lesson inside WithLessonLock. Reads see
// the transaction's own writes.
type LessonTx interface {
	Lesson() LessonDetail

	ConfirmedCount(ctx context.Context) (int, error)

	// UserBookings returns userID's non-cancelled bookings on the locked
	// lesson, oldest first.
	UserBookings(ctx context.Context, userID string) ([]types.Booking, error)

	InsertBooking(ctx context.Context, b *types.Booking) error

	// TransitionBooking moves a booking from one status to another. It fails
	// with booking_invalid_status_transition if the booking is no longer in
	// status from.
	TransitionBooking(ctx context.Context, bookingID string, from, to types.BookingStatus) error

	// LockSubscriptions returns userID's subscriptions with their plans,
	// locked against concurrent quota checks until the transaction ends.
	LockSubscriptions(ctx context.Context, userID string) ([]types.SubscriptionWithPlan, error)

	// CountConfirmedForPlan implements quota.UsageCounter inside the
	// transaction.
	CountConfirmedForPlan(ctx context.Context, userID, planID string, from, to time.Time) (int, error)
}

// OutcomeRecorder receives one event per coordinator operation. outcome is
// "ok", "noop" or an error code.
type OutcomeRecorder interface {
	RecordBookingOutcome(operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordBookingOutcome(string, string) {}
