package booking

import (
	"context"
	"log/slog"

	"classbook/internal/access"
	"classbook/internal/types"
)

// paymentDecision is how a new booking will be paid for.
type paymentDecision struct {
	Status         types.BookingStatus
	Method         types.PaymentMethod
	SubscriptionID *string
}

// resolvePayment decides the initial status of a new booking on the locked
// lesson. payerID is the user whose subscriptions pay (the parent for child
// bookings).
//
//	free class (no plans, no drop-in)     confirmed
//	drop-in requested or only drop-in     pending until ConfirmPayment
//	plan-gated                            confirmed against a subscription
//	                                      within quota, else quota exceeded;
//	                                      drop-in fallback when none covers it
func (c *Coordinator) resolvePayment(ctx context.Context, tx LessonTx, payerID string, method types.PaymentMethod) (paymentDecision, error) {
	detail := tx.Lesson()
	option := detail.Option

	if option.IsFree() {
		return paymentDecision{Status: types.BookingConfirmed}, nil
	}

	switch method {
	case types.PaymentDropIn:
		if !option.AllowDropIn {
			return paymentDecision{}, types.NewAppError(types.ErrCodeValidationPaymentMethod,
				"this class does not accept drop-in payment", nil)
		}
		return dropIn(), nil
	case types.PaymentSubscription:
		if !option.AcceptsPlans() {
			return paymentDecision{}, types.NewAppError(types.ErrCodeValidationPaymentMethod,
				"this class cannot be booked with a subscription", nil)
		}
	case types.PaymentAuto:
		if !option.AcceptsPlans() {
			return dropIn(), nil
		}
	}

	subs, err := tx.LockSubscriptions(ctx, payerID)
	if err != nil {
		return paymentDecision{}, err
	}

	sub, err := c.quota.Select(ctx, tx, subs, option, detail.Lesson.StartTime)
	if err != nil {
		if method == types.PaymentAuto && option.AllowDropIn && types.HasCode(err, types.ErrCodePaymentRequired) {
			return dropIn(), nil
		}
		return paymentDecision{}, err
	}

	id := sub.ID
	return paymentDecision{
		Status:         types.BookingConfirmed,
		Method:         types.PaymentSubscription,
		SubscriptionID: &id,
	}, nil
}

func dropIn() paymentDecision {
	return paymentDecision{Status: types.BookingPending, Method: types.PaymentDropIn}
}

// ConfirmPayment applies the external "payment authorized" signal to a
// pending booking. Capacity is re-checked under the lesson lock: when the
// class filled up in the meantime the booking is cancelled and the call
// fails with booking_lesson_full. Confirming an already confirmed booking is
// a no-op.
func (c *Coordinator) ConfirmPayment(ctx context.Context, scope types.Scope, actor types.Actor, bookingID string) (*types.Booking, error) {
	const op = "confirm_payment"

	decision, err := access.Authorize(actor, access.OpConfirmPayment, access.Target{TenantID: scope.TenantID})
	if err != nil {
		return nil, c.finish(ctx, op, err)
	}
	scope = narrow(scope, decision.Scope)

	existing, err := c.store.GetBooking(ctx, scope, bookingID)
	if err != nil {
		return nil, c.finish(ctx, op, err)
	}

	var (
		result   *types.Booking
		overfull bool
	)
	err = c.store.WithLessonLock(ctx, scope, existing.LessonID, func(ctx context.Context, tx LessonTx) error {
		mine, err := tx.UserBookings(ctx, existing.UserID)
		if err != nil {
			return err
		}
		var current *types.Booking
		for i := range mine {
			if mine[i].ID == bookingID {
				current = &mine[i]
			}
		}
		if current == nil {
			// Cancelled bookings are not returned by UserBookings.
			return types.NewAppError(types.ErrCodeInvalidTransition, "booking is no longer awaiting payment", nil)
		}
		if current.Status == types.BookingConfirmed {
			result = current
			return nil
		}
		if current.Status != types.BookingPending {
			return types.NewAppError(types.ErrCodeInvalidTransition,
				"only pending bookings can be confirmed by payment", nil)
		}

		confirmed, err := tx.ConfirmedCount(ctx)
		if err != nil {
			return err
		}
		places := tx.Lesson().Option.Places
		if places != nil && confirmed >= *places {
			overfull = true
			if err := tx.TransitionBooking(ctx, current.ID, types.BookingPending, types.BookingCancelled); err != nil {
				return err
			}
			current.Status = types.BookingCancelled
			result = current
			return nil
		}

		if err := tx.TransitionBooking(ctx, current.ID, types.BookingPending, types.BookingConfirmed); err != nil {
			return err
		}
		now := c.clock.Now()
		current.Status = types.BookingConfirmed
		current.ConfirmedAt = &now
		result = current
		return nil
	})
	if err != nil {
		return nil, c.finish(ctx, op, err)
	}

	if overfull {
		types.LoggerFromContext(ctx, c.logger).InfoContext(ctx, "paid booking cancelled, lesson filled up",
			slog.String("booking_id", bookingID),
			slog.String("lesson_id", existing.LessonID),
		)
		return nil, c.finish(ctx, op, types.NewAppErrorWithDetails(types.ErrCodeLessonFull,
			"lesson filled up before payment completed; the booking was cancelled", nil,
			map[string]any{"booking_id": bookingID}))
	}
	return result, c.finish(ctx, op, nil)
}
