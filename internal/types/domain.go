package types

import (
	"time"
)

// Tenant is an isolated studio sharing the deployment.
type Tenant struct {
	ID        string    `json:"id" db:"id"`
	Slug      string    `json:"slug" db:"slug"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Ref returns the lightweight reference stored in request contexts.
func (t Tenant) Ref() TenantRef {
	return TenantRef{ID: t.ID, Slug: t.Slug}
}

// ClassOption is a class type definition shared by many lessons.
type ClassOption struct {
	ID       string    `json:"id" db:"id"`
	TenantID string    `json:"tenant_id" db:"tenant_id"`
	Name     string    `json:"name" db:"name"`
	Places   *int      `json:"places,omitempty" db:"places"` // nil = unlimited
	Type     ClassType `json:"type" db:"class_type"`

	AllowedPlanIDs []string `json:"allowed_plan_ids" db:"allowed_plan_ids"`
	AllowDropIn    bool     `json:"allow_drop_in" db:"allow_drop_in"`
	TrialDiscount  bool     `json:"trial_discount" db:"trial_discount"`
}

// AcceptsPlans reports whether at least one plan can pay for this class.
func (o ClassOption) AcceptsPlans() bool {
	return len(o.AllowedPlanIDs) > 0
}

// AllowsPlan reports whether planID is one of the plans accepted by the class.
func (o ClassOption) AllowsPlan(planID string) bool {
	for _, id := range o.AllowedPlanIDs {
		if id == planID {
			return true
		}
	}
	return false
}

// IsFree reports whether confirmations need no payment at all.
func (o ClassOption) IsFree() bool {
	return !o.AcceptsPlans() && !o.AllowDropIn
}

// Lesson is a concrete scheduled occurrence of a class.
type Lesson struct {
	ID             string    `json:"id" db:"id"`
	TenantID       string    `json:"tenant_id" db:"tenant_id"`
	StartTime      time.Time `json:"start_time" db:"start_time"`
	EndTime        time.Time `json:"end_time" db:"end_time"`
	LockOutMinutes int       `json:"lock_out_minutes" db:"lock_out_minutes"`
	ClassOptionID  string    `json:"class_option_id" db:"class_option_id"`
	InstructorID   *string   `json:"instructor_id,omitempty" db:"instructor_id"`
	Location       string    `json:"location,omitempty" db:"location"`
	Active         bool      `json:"active" db:"active"`
	TemplateID     *string   `json:"template_id,omitempty" db:"template_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Booking is one reservation of one place in a lesson by one user.
type Booking struct {
	ID             string        `json:"id" db:"id"`
	TenantID       string        `json:"tenant_id" db:"tenant_id"`
	LessonID       string        `json:"lesson_id" db:"lesson_id"`
	UserID         string        `json:"user_id" db:"user_id"`
	Status         BookingStatus `json:"status" db:"status"`
	PaymentMethod  PaymentMethod `json:"payment_method,omitempty" db:"payment_method"`
	SubscriptionID *string       `json:"subscription_id,omitempty" db:"subscription_id"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
	// ConfirmedAt is set the first time the booking becomes confirmed and
	// survives a later cancellation.
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
}

// User is a member of a tenant. Children carry their parent's id.
type User struct {
	ID           string  `json:"id" db:"id"`
	TenantID     string  `json:"tenant_id" db:"tenant_id"`
	ParentUserID *string `json:"parent_user_id,omitempty" db:"parent_user_id"`
}

// IsChildOf reports whether u is a dependent of parentID.
func (u User) IsChildOf(parentID string) bool {
	return u.ParentUserID != nil && *u.ParentUserID == parentID
}

// Plan defines a session allowance over a calendar interval.
type Plan struct {
	ID              string       `json:"id" db:"id"`
	TenantID        string       `json:"tenant_id" db:"tenant_id"`
	Name            string       `json:"name" db:"name"`
	SessionsAllowed *int         `json:"sessions_allowed,omitempty" db:"sessions_allowed"` // nil = unlimited
	Interval        PlanInterval `json:"interval" db:"interval_unit"`
	IntervalCount   int          `json:"interval_count" db:"interval_count"`
}

// Subscription binds a user to a plan for a validity window.
type Subscription struct {
	ID        string             `json:"id" db:"id"`
	TenantID  string             `json:"tenant_id" db:"tenant_id"`
	UserID    string             `json:"user_id" db:"user_id"`
	PlanID    string             `json:"plan_id" db:"plan_id"`
	Status    SubscriptionStatus `json:"status" db:"status"`
	StartDate time.Time          `json:"start_date" db:"start_date"`
	EndDate   *time.Time         `json:"end_date,omitempty" db:"end_date"`
	CancelAt  *time.Time         `json:"cancel_at,omitempty" db:"cancel_at"`
}

// Covers reports whether the subscription is usable for a lesson starting at t.
func (s Subscription) Covers(t time.Time) bool {
	if !s.Status.Usable() {
		return false
	}
	if t.Before(s.StartDate) {
		return false
	}
	if s.EndDate != nil && !t.Before(*s.EndDate) {
		return false
	}
	if s.CancelAt != nil && !t.Before(*s.CancelAt) {
		return false
	}
	return true
}

// SubscriptionWithPlan is a subscription hydrated with its plan.
type SubscriptionWithPlan struct {
	Subscription
	Plan Plan `json:"plan"`
}

// ScheduleTemplate describes a weekly recurring timetable. Days is indexed by
// time.Weekday (0 = Sunday).
type ScheduleTemplate struct {
	ID                    string        `json:"id" db:"id"`
	TenantID              string        `json:"tenant_id" db:"tenant_id"`
	Name                  string        `json:"name" db:"name"`
	StartDate             time.Time     `json:"start_date" db:"start_date"`
	EndDate               time.Time     `json:"end_date" db:"end_date"`
	DefaultClassOptionID  string        `json:"default_class_option_id" db:"default_class_option_id"`
	DefaultLockOutMinutes int           `json:"default_lock_out_minutes" db:"default_lock_out_minutes"`
	Days                  [7][]TimeSlot `json:"days" db:"days"`
	UpdatedAt             time.Time     `json:"updated_at" db:"updated_at"`
}

// TimeSlot is one recurring class on one weekday of a template.
type TimeSlot struct {
	Start          TimeOfDay `json:"start"`
	End            TimeOfDay `json:"end"`
	ClassOptionID  *string   `json:"class_option_id,omitempty"`
	Location       string    `json:"location,omitempty"`
	InstructorID   *string   `json:"instructor_id,omitempty"`
	LockOutMinutes *int      `json:"lock_out_minutes,omitempty"`
	Active         bool      `json:"active"`
}

// LocationKey is the grouping key used for overlap checks. Slots without a
// location share the empty key.
func (s TimeSlot) LocationKey() string {
	return s.Location
}

// JobRecord is the persisted state of a background job run. JobID is the
// public identifier handed out when the job is enqueued.
type JobRecord struct {
	ID         int64          `json:"-" db:"id"`
	JobID      string         `json:"job_id" db:"job_ref"`
	TenantID   string         `json:"tenant_id" db:"tenant_id"`
	JobType    string         `json:"job_type" db:"job_type"`
	Status     JobStatus      `json:"status" db:"status"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty" db:"finished_at"`
	Items      int            `json:"items_count" db:"items_count"`
	Error      string         `json:"error,omitempty" db:"error"`
	Result     map[string]any `json:"result,omitempty" db:"result"`
}
