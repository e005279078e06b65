package booking

import (
	"time"

	"classbook/internal/types"
)

// CapacityInput is what ComputeCapacity needs to know about a lesson.
type CapacityInput struct {
	Start          time.Time
	LockOutMinutes int
	Places         *int
	Confirmed      int
	Active         bool
}

// CapacitySnapshot is the derived availability of a lesson at one instant.
// It is never persisted.
type CapacitySnapshot struct {
	Availability types.Availability `json:"availability"`
	Confirmed    int                `json:"confirmed"`
	Places       *int               `json:"places,omitempty"`
	Remaining    int                `json:"remaining"`
	Unlimited    bool               `json:"unlimited"`
}

// CapacityInputFor builds the input from a lesson detail and its confirmed
// count.
func CapacityInputFor(d LessonDetail, confirmed int) CapacityInput {
	return CapacityInput{
		Start:          d.Lesson.StartTime,
		LockOutMinutes: d.Lesson.LockOutMinutes,
		Places:         d.Option.Places,
		Confirmed:      confirmed,
		Active:         d.Lesson.Active,
	}
}

// ComputeCapacity derives availability at now:
//
//	closed  lesson inactive, started, or inside its lock-out window
//	full    confirmed >= places
//	open    otherwise
//
// A nil Places means unlimited capacity, which is never full.
func ComputeCapacity(now time.Time, in CapacityInput) CapacitySnapshot {
	snap := CapacitySnapshot{
		Confirmed: in.Confirmed,
		Places:    in.Places,
		Unlimited: in.Places == nil,
	}
	if in.Places != nil {
		snap.Remaining = max(0, *in.Places-in.Confirmed)
	}

	switch {
	case isClosed(now, in):
		snap.Availability = types.AvailabilityClosed
	case in.Places != nil && in.Confirmed >= *in.Places:
		snap.Availability = types.AvailabilityFull
	default:
		snap.Availability = types.AvailabilityOpen
	}
	return snap
}

func isClosed(now time.Time, in CapacityInput) bool {
	if !in.Active || !now.Before(in.Start) {
		return true
	}
	if in.LockOutMinutes > 0 {
		cutoff := in.Start.Add(-time.Duration(in.LockOutMinutes) * time.Minute)
		return !now.Before(cutoff)
	}
	return false
}

// hasStarted reports whether the lesson is under way or over. Cancellations
// and quantity decreases stay possible until then, lock-out or not.
func hasStarted(now time.Time, l types.Lesson) bool {
	return !now.Before(l.StartTime)
}
