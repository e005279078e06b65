package types

// BookingStatus is the lifecycle state of a Booking row.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingWaiting   BookingStatus = "waiting"
	BookingCancelled BookingStatus = "cancelled"
)

// bookingTransitions is the complete status graph. Cancelled is terminal.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingConfirmed, BookingCancelled},
	BookingConfirmed: {BookingCancelled},
	BookingWaiting:   {BookingConfirmed, BookingCancelled},
}

// CanTransitionTo reports whether a booking in status s may move to next.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Availability is the derived booking state of a lesson.
type Availability string

const (
	AvailabilityOpen   Availability = "open"
	AvailabilityFull   Availability = "full"
	AvailabilityClosed Availability = "closed"
)

// ViewerAction is the single next action offered to a viewer for a lesson.
type ViewerAction string

const (
	ActionLoginToBook    ViewerAction = "loginToBook"
	ActionManageChildren ViewerAction = "manageChildren"
	ActionModify         ViewerAction = "modify"
	ActionCancel         ViewerAction = "cancel"
	ActionLeaveWaitlist  ViewerAction = "leaveWaitlist"
	ActionJoinWaitlist   ViewerAction = "joinWaitlist"
	ActionBook           ViewerAction = "book"
	ActionClosed         ViewerAction = "closed"
)

// BookingIntent is a single-booking request made by a viewer.
type BookingIntent string

const (
	IntentConfirm       BookingIntent = "confirm"
	IntentCancel        BookingIntent = "cancel"
	IntentJoinWaitlist  BookingIntent = "joinWaitlist"
	IntentLeaveWaitlist BookingIntent = "leaveWaitlist"
)

// Valid reports whether the intent is one of the known values.
func (i BookingIntent) Valid() bool {
	switch i {
	case IntentConfirm, IntentCancel, IntentJoinWaitlist, IntentLeaveWaitlist:
		return true
	}
	return false
}

// ClassType distinguishes adult classes from classes booked through a parent.
type ClassType string

const (
	ClassTypeAdult ClassType = "adult"
	ClassTypeChild ClassType = "child"
)

// PaymentMethod is how a confirmation is paid for.
type PaymentMethod string

const (
	// PaymentAuto lets the coordinator pick: subscription when the class
	// accepts plans, otherwise drop-in, otherwise free.
	PaymentAuto         PaymentMethod = ""
	PaymentSubscription PaymentMethod = "subscription"
	PaymentDropIn       PaymentMethod = "drop_in"
)

// PlanInterval is the calendar unit of a plan's session allowance.
type PlanInterval string

const (
	IntervalDay     PlanInterval = "day"
	IntervalWeek    PlanInterval = "week"
	IntervalMonth   PlanInterval = "month"
	IntervalQuarter PlanInterval = "quarter"
	IntervalYear    PlanInterval = "year"
)

// SubscriptionStatus represents the state of a member's plan subscription.
type SubscriptionStatus string

const (
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusTrialing SubscriptionStatus = "trialing"
	SubStatusPastDue  SubscriptionStatus = "past_due"
	SubStatusCanceled SubscriptionStatus = "canceled"
)

// Usable reports whether a subscription in this status may pay for classes.
func (s SubscriptionStatus) Usable() bool {
	return s == SubStatusActive || s == SubStatusTrialing
}

// Role defines authorization levels.
type Role string

const (
	// RolePlatformAdmin bypasses tenant and ownership checks.
	RolePlatformAdmin Role = "admin"
	RoleTenantAdmin   Role = "tenant-admin"
	RoleUser          Role = "user"
)

// JobStatus is the outcome recorded in job_history.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "success"
	JobStatusFailed    JobStatus = "failed"
)
