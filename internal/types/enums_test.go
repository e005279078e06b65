package types

import "testing"

func TestBookingStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to BookingStatus
		want     bool
	}{
		{BookingPending, BookingConfirmed, true},
		{BookingPending, BookingCancelled, true},
		{BookingPending, BookingWaiting, false},
		{BookingConfirmed, BookingCancelled, true},
		{BookingConfirmed, BookingPending, false},
		{BookingConfirmed, BookingWaiting, false},
		{BookingWaiting, BookingConfirmed, true},
		{BookingWaiting, BookingCancelled, true},
		{BookingCancelled, BookingConfirmed, false},
		{BookingCancelled, BookingPending, false},
		{BookingCancelled, BookingWaiting, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestBookingIntentValid(t *testing.T) {
	for _, i := range []BookingIntent{IntentConfirm, IntentCancel, IntentJoinWaitlist, IntentLeaveWaitlist} {
		if !i.Valid() {
			t.Errorf("%q should be valid", i)
		}
	}
	if BookingIntent("reserve").Valid() {
		t.Error("unknown intent should be invalid")
	}
}

func TestSubscriptionStatusUsable(t *testing.T) {
	if !SubStatusActive.Usable() || !SubStatusTrialing.Usable() {
		t.Error("active and trialing must be usable")
	}
	if SubStatusPastDue.Usable() || SubStatusCanceled.Usable() {
		t.Error("past_due and canceled must not be usable")
	}
}
