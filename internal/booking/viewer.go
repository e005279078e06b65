package booking

import (
	"classbook/internal/types"
)

// ViewerContext is what the deriver knows about the person looking at a
// lesson.
type ViewerContext struct {
	Authenticated bool
	// Bookings are the viewer's non-cancelled bookings on this lesson.
	Bookings []types.Booking
	// HasPriorConfirmed is true when the viewer or one of their children has
	// held a confirmed booking on any lesson.
	HasPriorConfirmed bool
}

// ViewerState is the action a viewer can take on a lesson, with the
// availability it was derived from.
type ViewerState struct {
	LessonID     string             `json:"lesson_id"`
	Availability types.Availability `json:"availability"`
	Remaining    *int               `json:"remaining,omitempty"`
	Action       types.ViewerAction `json:"action"`
	Label        string             `json:"label"`
	Confirmed    int                `json:"confirmed"`
	Waiting      bool               `json:"waiting"`
	Pending      bool               `json:"pending"`
	Bookings     []types.Booking    `json:"bookings,omitempty"`
}

var actionLabels = map[types.ViewerAction]string{
	types.ActionClosed:         "Closed",
	types.ActionLoginToBook:    "Log in to book",
	types.ActionManageChildren: "Manage children",
	types.ActionModify:         "Modify booking",
	types.ActionCancel:         "Cancel booking",
	types.ActionLeaveWaitlist:  "Leave waitlist",
	types.ActionJoinWaitlist:   "Join waitlist",
	types.ActionBook:           "Book",
}

const trialLabel = "Book Trial Class"

// DeriveViewerState picks the single action shown to a viewer. The first
// matching rule wins:
//
//	closed lesson           closed
//	anonymous viewer        loginToBook
//	child class             manageChildren
//	>= 2 confirmed          modify
//	1 confirmed             cancel
//	waiting                 leaveWaitlist
//	full                    joinWaitlist
//	otherwise               book
func DeriveViewerState(lessonID string, snap CapacitySnapshot, option types.ClassOption, viewer ViewerContext) ViewerState {
	state := ViewerState{
		LessonID:     lessonID,
		Availability: snap.Availability,
		Bookings:     viewer.Bookings,
	}
	if !snap.Unlimited {
		remaining := snap.Remaining
		state.Remaining = &remaining
	}
	for _, b := range viewer.Bookings {
		switch b.Status {
		case types.BookingConfirmed:
			state.Confirmed++
		case types.BookingWaiting:
			state.Waiting = true
		case types.BookingPending:
			state.Pending = true
		}
	}

	switch {
	case snap.Availability == types.AvailabilityClosed:
		state.Action = types.ActionClosed
	case !viewer.Authenticated:
		state.Action = types.ActionLoginToBook
	case option.Type == types.ClassTypeChild:
		state.Action = types.ActionManageChildren
	case state.Confirmed >= 2:
		state.Action = types.ActionModify
	case state.Confirmed == 1:
		state.Action = types.ActionCancel
	case state.Waiting:
		state.Action = types.ActionLeaveWaitlist
	case snap.Availability == types.AvailabilityFull:
		state.Action = types.ActionJoinWaitlist
	default:
		state.Action = types.ActionBook
	}

	state.Label = actionLabels[state.Action]
	if state.Action == types.ActionBook && option.TrialDiscount && !viewer.HasPriorConfirmed {
		state.Label = trialLabel
	}
	return state
}

// GroupViewerBookings indexes bookings by lesson id, preserving order.
func GroupViewerBookings(bookings []types.Booking) map[string][]types.Booking {
	grouped := make(map[string][]types.Booking)
	for _, b := range bookings {
		grouped[b.LessonID] = append(grouped[b.LessonID], b)
	}
	return grouped
}

func filterStatus(bookings []types.Booking, status types.BookingStatus) []types.Booking {
	var out []types.Booking
	for _, b := range bookings {
		if b.Status == status {
			out = append(out, b)
		}
	}
	return out
}
