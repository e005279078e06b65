package booking

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"classbook/internal/access"
	"classbook/internal/quota"
	"classbook/internal/types"
)

// IntentOptions carries the optional inputs of SetBookingIntent.
type IntentOptions struct {
	PaymentMethod types.PaymentMethod
}

// ChildBookingResult is the outcome of a child intent: the child's bookings
// on the lesson and the lesson's availability afterwards.
type ChildBookingResult struct {
	LessonID string           `json:"lesson_id"`
	ChildID  string           `json:"child_id"`
	Bookings []types.Booking  `json:"bookings"`
	Capacity CapacitySnapshot `json:"capacity"`
}

// Coordinator applies booking intents. Each operation runs the same stages in
// order: validate the input, authorize the actor, take the lesson lock,
// re-read and mutate, then record the outcome.
type Coordinator struct {
	store   Store
	quota   *quota.Checker
	views   *ScheduleService
	clock   types.Clock
	metrics OutcomeRecorder
	logger  *slog.Logger
	newID   func() string
}

// CoordinatorOption customises a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithOutcomeRecorder reports every operation outcome to r.
func WithOutcomeRecorder(r OutcomeRecorder) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = r }
}

// WithIDGenerator overrides booking id generation.
func WithIDGenerator(fn func() string) CoordinatorOption {
	return func(c *Coordinator) { c.newID = fn }
}

// NewCoordinator wires a Coordinator. views is used to render the viewer
// state returned after a mutation.
func NewCoordinator(store Store, checker *quota.Checker, views *ScheduleService, clock types.Clock, logger *slog.Logger, opts ...CoordinatorOption) *Coordinator {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if checker == nil {
		checker = quota.NewChecker(time.UTC, logger)
	}
	if views == nil {
		views = NewScheduleService(store, clock, time.UTC, logger)
	}
	c := &Coordinator{
		store:   store,
		quota:   checker,
		views:   views,
		clock:   clock,
		metrics: nopRecorder{},
		logger:  logger,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetBookingIntent applies intent for the actor on lessonID and returns the
// actor's viewer state afterwards.
func (c *Coordinator) SetBookingIntent(ctx context.Context, scope types.Scope, actor types.Actor, lessonID string, intent types.BookingIntent, opts IntentOptions) (*ViewerState, error) {
	op := "intent_" + string(intent)

	if !intent.Valid() {
		return nil, c.finish(ctx, op, types.NewAppError(types.ErrCodeValidationInvalidIntent,
			"intent must be one of confirm, cancel, joinWaitlist, leaveWaitlist", nil))
	}
	decision, err := access.Authorize(actor, access.OpBookSelf, access.Target{TenantID: scope.TenantID, OwnerID: actor.ID})
	if err != nil {
		return nil, c.finish(ctx, op, err)
	}
	scope = narrow(scope, decision.Scope)

	err = c.store.WithLessonLock(ctx, scope, lessonID, func(ctx context.Context, tx LessonTx) error {
		if tx.Lesson().Option.Type == types.ClassTypeChild {
			return wrongClassType("child classes are booked per child")
		}
		return c.apply(ctx, tx, intent, actor.ID, actor.ID, opts.PaymentMethod)
	})
	if err != nil {
		return nil, c.finish(ctx, op, err)
	}
	c.finish(ctx, op, nil) //nolint:errcheck

	// Committed. A failed re-read is logged and yields a lesson-id-only state.
	state, err := c.views.viewerState(ctx, scope, actor.ID, lessonID)
	if err != nil {
		types.LoggerFromContext(ctx, c.logger).WarnContext(ctx, "viewer state unavailable after booking change",
			slog.String("operation", op),
			slog.String("lesson_id", lessonID),
			slog.Any("error", err),
		)
		return &ViewerState{LessonID: lessonID}, nil
	}
	return state, nil
}

// SetBookingQuantity makes the actor hold exactly desired bookings on
// lessonID and returns them, oldest first. Pending drop-in bookings awaiting
// payment count as held, so repeating a call never stacks extra seats.
// Increases need an open lesson and enough remaining places for the whole
// delta; each added booking goes through payment and quota resolution.
// Decreases cancel pending bookings before confirmed ones, newest first, and
// are allowed until the lesson starts.
func (c *Coordinator) SetBookingQuantity(ctx context.Context, scope types.Scope, actor types.Actor, lessonID string, desired int) ([]types.Booking, error) {
	const op = "set_quantity"

	if desired < 0 {
		return nil, c.finish(ctx, op, types.NewAppError(types.ErrCodeValidationQuantity,
			"quantity must not be negative", nil))
	}
	decision, err := access.Authorize(actor, access.OpBookSelf, access.Target{TenantID: scope.TenantID, OwnerID: actor.ID})
	if err != nil {
		return nil, c.finish(ctx, op, err)
	}
	scope = narrow(scope, decision.Scope)

	var result []types.Booking
	err = c.store.WithLessonLock(ctx, scope, lessonID, func(ctx context.Context, tx LessonTx) error {
		detail := tx.Lesson()
		if detail.Option.Type == types.ClassTypeChild {
			return wrongClassType("child classes are booked per child")
		}

		mine, err := tx.UserBookings(ctx, actor.ID)
		if err != nil {
			return err
		}
		held := heldBookings(mine)
		now := c.clock.Now()

		switch {
		case desired < len(held):
			if hasStarted(now, detail.Lesson) {
				return lessonClosed()
			}
			for _, b := range cancellationOrder(held)[:len(held)-desired] {
				if err := tx.TransitionBooking(ctx, b.ID, b.Status, types.BookingCancelled); err != nil {
					return err
				}
			}

		case desired > len(held):
			count, err := tx.ConfirmedCount(ctx)
			if err != nil {
				return err
			}
			snap := ComputeCapacity(now, CapacityInputFor(detail, count))
			if snap.Availability == types.AvailabilityClosed {
				return lessonClosed()
			}
			delta := desired - len(held)
			if !snap.Unlimited && delta > snap.Remaining {
				return types.NewAppErrorWithDetails(types.ErrCodeInsufficientCapacity,
					"not enough places left for the requested quantity", nil,
					map[string]any{"requested": delta, "remaining": snap.Remaining})
			}
			for range delta {
				if err := c.insertWithCapacity(ctx, tx, actor.ID, actor.ID, types.PaymentAuto, types.ErrCodeInsufficientCapacity); err != nil {
					return err
				}
			}
		}

		after, err := tx.UserBookings(ctx, actor.ID)
		if err != nil {
			return err
		}
		result = heldBookings(after)
		return nil
	})
	if err != nil {
		return nil, c.finish(ctx, op, err)
	}
	if result == nil {
		result = []types.Booking{}
	}
	return result, c.finish(ctx, op, nil)
}

// heldBookings keeps confirmed and pending bookings in their original order.
func heldBookings(bookings []types.Booking) []types.Booking {
	var out []types.Booking
	for _, b := range bookings {
		if b.Status == types.BookingConfirmed || b.Status == types.BookingPending {
			out = append(out, b)
		}
	}
	return out
}

// cancellationOrder lists held bookings in the order a decrease releases
// them: pending newest first, then confirmed newest first.
func cancellationOrder(held []types.Booking) []types.Booking {
	pending := filterStatus(held, types.BookingPending)
	confirmed := filterStatus(held, types.BookingConfirmed)
	out := make([]types.Booking, 0, len(held))
	for i := len(pending) - 1; i >= 0; i-- {
		out = append(out, pending[i])
	}
	for i := len(confirmed) - 1; i >= 0; i-- {
		out = append(out, confirmed[i])
	}
	return out
}

// CreateChildBookingIntent books childID onto a child class. Capacity and
// per-viewer limits use the child's bookings; plan quota uses the parent's
// subscriptions.
func (c *Coordinator) CreateChildBookingIntent(ctx context.Context, scope types.Scope, actor types.Actor, lessonID, childID string) (*ChildBookingResult, error) {
	return c.childIntent(ctx, scope, actor, lessonID, childID, types.IntentConfirm)
}

// CancelChildBookingIntent cancels childID's booking on a child class.
func (c *Coordinator) CancelChildBookingIntent(ctx context.Context, scope types.Scope, actor types.Actor, lessonID, childID string) (*ChildBookingResult, error) {
	return c.childIntent(ctx, scope, actor, lessonID, childID, types.IntentCancel)
}

func (c *Coordinator) childIntent(ctx context.Context, scope types.Scope, actor types.Actor, lessonID, childID string, intent types.BookingIntent) (*ChildBookingResult, error) {
	op := "child_" + string(intent)

	if childID == "" {
		return nil, c.finish(ctx, op, types.NewAppError(types.ErrCodeValidationMissingField, "child id is required", nil))
	}
	child, err := c.store.GetUser(ctx, scope, childID)
	if err != nil {
		return nil, c.finish(ctx, op, err)
	}
	if child.ParentUserID == nil {
		return nil, c.finish(ctx, op, types.NewAppError(types.ErrCodeValidationMissingField,
			"user is not registered as a child", nil))
	}

	decision, err := access.Authorize(actor, access.OpBookChild, access.Target{
		TenantID: child.TenantID,
		OwnerID:  child.ID,
		ParentID: *child.ParentUserID,
	})
	if err != nil {
		return nil, c.finish(ctx, op, err)
	}
	scope = narrow(scope, decision.Scope)

	result := &ChildBookingResult{LessonID: lessonID, ChildID: childID}
	err = c.store.WithLessonLock(ctx, scope, lessonID, func(ctx context.Context, tx LessonTx) error {
		detail := tx.Lesson()
		if detail.Lesson.TenantID != child.TenantID {
			return types.NewAppError(types.ErrCodePermissionTenantMismatch,
				"child and lesson belong to different tenants", nil)
		}
		if detail.Option.Type != types.ClassTypeChild {
			return wrongClassType("this class is not a children's class")
		}
		if err := c.apply(ctx, tx, intent, child.ID, *child.ParentUserID, types.PaymentAuto); err != nil {
			return err
		}

		bookings, err := tx.UserBookings(ctx, child.ID)
		if err != nil {
			return err
		}
		count, err := tx.ConfirmedCount(ctx)
		if err != nil {
			return err
		}
		result.Bookings = bookings
		result.Capacity = ComputeCapacity(c.clock.Now(), CapacityInputFor(detail, count))
		return nil
	})
	if err != nil {
		return nil, c.finish(ctx, op, err)
	}
	return result, c.finish(ctx, op, nil)
}

// apply executes one intent on the locked lesson. bookerID holds the
// booking; payerID's subscriptions pay for it.
func (c *Coordinator) apply(ctx context.Context, tx LessonTx, intent types.BookingIntent, bookerID, payerID string, method types.PaymentMethod) error {
	switch intent {
	case types.IntentConfirm:
		return c.confirm(ctx, tx, bookerID, payerID, method)
	case types.IntentCancel:
		return c.cancel(ctx, tx, bookerID)
	case types.IntentJoinWaitlist:
		return c.joinWaitlist(ctx, tx, bookerID)
	case types.IntentLeaveWaitlist:
		return c.leaveWaitlist(ctx, tx, bookerID)
	}
	return types.NewAppError(types.ErrCodeValidationInvalidIntent, "unknown intent "+string(intent), nil)
}

func (c *Coordinator) confirm(ctx context.Context, tx LessonTx, bookerID, payerID string, method types.PaymentMethod) error {
	mine, err := tx.UserBookings(ctx, bookerID)
	if err != nil {
		return err
	}
	count, err := tx.ConfirmedCount(ctx)
	if err != nil {
		return err
	}
	snap := ComputeCapacity(c.clock.Now(), CapacityInputFor(tx.Lesson(), count))
	if snap.Availability == types.AvailabilityClosed {
		return lessonClosed()
	}
	if len(filterStatus(mine, types.BookingConfirmed)) > 0 || len(filterStatus(mine, types.BookingPending)) > 0 {
		return nil
	}
	if snap.Availability == types.AvailabilityFull {
		return lessonFull()
	}

	if err := c.insertWithCapacity(ctx, tx, bookerID, payerID, method, types.ErrCodeLessonFull); err != nil {
		return err
	}

	// A confirmed or pending seat replaces any waitlist entry.
	for _, w := range filterStatus(mine, types.BookingWaiting) {
		if err := tx.TransitionBooking(ctx, w.ID, types.BookingWaiting, types.BookingCancelled); err != nil {
			return err
		}
	}
	return nil
}

// insertWithCapacity re-reads the confirmed count, resolves payment and
// inserts one booking. fullCode is returned when no place is left.
func (c *Coordinator) insertWithCapacity(ctx context.Context, tx LessonTx, bookerID, payerID string, method types.PaymentMethod, fullCode types.ErrorCode) error {
	detail := tx.Lesson()
	count, err := tx.ConfirmedCount(ctx)
	if err != nil {
		return err
	}
	if detail.Option.Places != nil && count >= *detail.Option.Places {
		return types.NewAppError(fullCode, "no places left in this lesson", nil)
	}

	pay, err := c.resolvePayment(ctx, tx, payerID, method)
	if err != nil {
		return err
	}

	now := c.clock.Now()
	b := &types.Booking{
		ID:             c.newID(),
		TenantID:       detail.Lesson.TenantID,
		LessonID:       detail.Lesson.ID,
		UserID:         bookerID,
		Status:         pay.Status,
		PaymentMethod:  pay.Method,
		SubscriptionID: pay.SubscriptionID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if b.Status == types.BookingConfirmed {
		b.ConfirmedAt = &now
	}
	if err := tx.InsertBooking(ctx, b); err != nil {
		return err
	}

	types.LoggerFromContext(ctx, c.logger).InfoContext(ctx, "booking created",
		slog.String("booking_id", b.ID),
		slog.String("lesson_id", b.LessonID),
		slog.String("status", string(b.Status)),
		slog.String("payment_method", string(b.PaymentMethod)),
	)
	return nil
}

func (c *Coordinator) cancel(ctx context.Context, tx LessonTx, bookerID string) error {
	if hasStarted(c.clock.Now(), tx.Lesson().Lesson) {
		return lessonClosed()
	}
	mine, err := tx.UserBookings(ctx, bookerID)
	if err != nil {
		return err
	}

	confirmed := filterStatus(mine, types.BookingConfirmed)
	switch len(confirmed) {
	case 0:
		pending := filterStatus(mine, types.BookingPending)
		switch len(pending) {
		case 0:
			return nil
		case 1:
			return tx.TransitionBooking(ctx, pending[0].ID, types.BookingPending, types.BookingCancelled)
		default:
			return types.NewAppErrorWithDetails(types.ErrCodeAmbiguousBooking,
				"several bookings exist for this lesson; change the quantity instead", nil,
				map[string]any{"pending": len(pending)})
		}
	case 1:
		return tx.TransitionBooking(ctx, confirmed[0].ID, types.BookingConfirmed, types.BookingCancelled)
	default:
		return types.NewAppErrorWithDetails(types.ErrCodeAmbiguousBooking,
			"several bookings exist for this lesson; change the quantity instead", nil,
			map[string]any{"confirmed": len(confirmed)})
	}
}

func (c *Coordinator) joinWaitlist(ctx context.Context, tx LessonTx, bookerID string) error {
	count, err := tx.ConfirmedCount(ctx)
	if err != nil {
		return err
	}
	detail := tx.Lesson()
	snap := ComputeCapacity(c.clock.Now(), CapacityInputFor(detail, count))
	switch snap.Availability {
	case types.AvailabilityClosed:
		return lessonClosed()
	case types.AvailabilityOpen:
		return types.NewAppError(types.ErrCodeLessonNotFull, "lesson has free places; book it instead", nil)
	}

	mine, err := tx.UserBookings(ctx, bookerID)
	if err != nil {
		return err
	}
	if len(mine) > 0 {
		return nil
	}

	now := c.clock.Now()
	return tx.InsertBooking(ctx, &types.Booking{
		ID:        c.newID(),
		TenantID:  detail.Lesson.TenantID,
		LessonID:  detail.Lesson.ID,
		UserID:    bookerID,
		Status:    types.BookingWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (c *Coordinator) leaveWaitlist(ctx context.Context, tx LessonTx, bookerID string) error {
	mine, err := tx.UserBookings(ctx, bookerID)
	if err != nil {
		return err
	}
	for _, w := range filterStatus(mine, types.BookingWaiting) {
		if err := tx.TransitionBooking(ctx, w.ID, types.BookingWaiting, types.BookingCancelled); err != nil {
			return err
		}
	}
	return nil
}

// finish records the outcome of op and passes err through. Business outcomes
// are logged at Info, system failures at Error.
func (c *Coordinator) finish(ctx context.Context, op string, err error) error {
	if err == nil {
		c.metrics.RecordBookingOutcome(op, "ok")
		return nil
	}

	code := types.CodeOf(err)
	c.metrics.RecordBookingOutcome(op, string(code))

	logger := types.LoggerFromContext(ctx, c.logger)
	if code.IsBusinessOutcome() {
		logger.InfoContext(ctx, "booking operation refused", slog.String("operation", op), slog.String("code", string(code)))
	} else {
		logger.ErrorContext(ctx, "booking operation failed", slog.String("operation", op), slog.Any("error", err))
	}
	return err
}

// narrow keeps a tenant-bound request scope and only falls back to the
// policy scope for all-tenant requests.
func narrow(request, policy types.Scope) types.Scope {
	if request.AllTenants || request.TenantID == "" {
		return policy
	}
	return request
}

func lessonClosed() error {
	return types.NewAppError(types.ErrCodeLessonClosed, "booking for this lesson is closed", nil)
}

func lessonFull() error {
	return types.NewAppError(types.ErrCodeLessonFull, "lesson is full", nil)
}

func wrongClassType(msg string) error {
	return types.NewAppError(types.ErrCodeWrongClassType, msg, nil)
}
