package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"classbook/internal/booking"
	"classbook/internal/core"
	"classbook/internal/types"
)

// --- Service Interfaces ---

// ScheduleReader renders lessons with availability and viewer state.
// Satisfied by *booking.ScheduleService.
type ScheduleReader interface {
	ListForDate(ctx context.Context, scope types.Scope, viewer types.Actor, date time.Time) ([]booking.LessonView, error)
	GetLesson(ctx context.Context, scope types.Scope, viewer types.Actor, lessonID string) (*booking.LessonView, error)
}

// BookingCoordinator applies booking intents. Satisfied by
// *booking.Coordinator.
type BookingCoordinator interface {
	SetBookingIntent(ctx context.Context, scope types.Scope, actor types.Actor, lessonID string, intent types.BookingIntent, opts booking.IntentOptions) (*booking.ViewerState, error)
	SetBookingQuantity(ctx context.Context, scope types.Scope, actor types.Actor, lessonID string, desired int) ([]types.Booking, error)
	CreateChildBookingIntent(ctx context.Context, scope types.Scope, actor types.Actor, lessonID, childID string) (*booking.ChildBookingResult, error)
	CancelChildBookingIntent(ctx context.Context, scope types.Scope, actor types.Actor, lessonID, childID string) (*booking.ChildBookingResult, error)
	ConfirmPayment(ctx context.Context, scope types.Scope, actor types.Actor, bookingID string) (*types.Booking, error)
}

// --- Request Models ---

// IntentRequest is the body of POST /v1/lessons/{id}/intent.
type IntentRequest struct {
	Intent        types.BookingIntent `json:"intent" validate:"required,booking_intent"`
	PaymentMethod types.PaymentMethod `json:"payment_method,omitempty" validate:"omitempty,payment_method"`
}

// QuantityRequest is the body of PUT /v1/lessons/{id}/quantity. Quantity is
// a pointer so an explicit 0 (cancel everything) is told apart from a
// missing field.
type QuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,min=0,max=50"`
}

// ChildIntentRequest is the body of POST /v1/lessons/{id}/children/{childID}/intent.
type ChildIntentRequest struct {
	Intent types.BookingIntent `json:"intent" validate:"required,oneof=confirm cancel"`
}

// --- Handler ---

// LessonHandler serves the schedule and the booking operations.
type LessonHandler struct {
	schedule    ScheduleReader
	coordinator BookingCoordinator
	validator   *core.Validator
	logger      *slog.Logger
}

// NewLessonHandler creates a LessonHandler.
func NewLessonHandler(schedule ScheduleReader, coordinator BookingCoordinator, v *core.Validator, l *slog.Logger) *LessonHandler {
	if l == nil {
		l = slog.Default()
	}
	return &LessonHandler{schedule: schedule, coordinator: coordinator, validator: v, logger: l}
}

// RegisterRoutes mounts the schedule, lesson and booking routes.
func (h *LessonHandler) RegisterRoutes(r chi.Router) {
	r.Get("/schedule", h.ListSchedule)

	r.Route("/lessons/{id}", func(r chi.Router) {
		r.Get("/", h.GetLesson)

		r.Group(func(r chi.Router) {
			r.Use(core.RequireActor)
			r.Post("/intent", h.SetIntent)
			r.Put("/quantity", h.SetQuantity)
			r.Post("/children/{childID}/intent", h.SetChildIntent)
		})
	})

	r.With(core.RequireRole(types.RoleTenantAdmin)).
		Post("/bookings/{id}/payment-authorized", h.PaymentAuthorized)
}

// ListSchedule handles GET /v1/schedule?date=YYYY-MM-DD. Anonymous viewers
// get the listing with loginToBook actions.
func (h *LessonHandler) ListSchedule(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		core.Error(w, r, missingParam("date"))
		return
	}
	date, err := parseDate("date", raw)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	actor, scope, err := requestScope(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	views, err := h.schedule.ListForDate(r.Context(), scope, actor, date)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if views == nil {
		views = []booking.LessonView{}
	}

	count := len(views)
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: views,
		Meta: &types.ResponseMeta{Date: date.Format(time.DateOnly), Count: &count},
	})
}

// GetLesson handles GET /v1/lessons/{id}.
func (h *LessonHandler) GetLesson(w http.ResponseWriter, r *http.Request) {
	actor, scope, err := requestScope(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	view, err := h.schedule.GetLesson(r.Context(), scope, actor, chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: view})
}

// SetIntent handles POST /v1/lessons/{id}/intent and returns the viewer
// state after the change.
func (h *LessonHandler) SetIntent(w http.ResponseWriter, r *http.Request) {
	var req IntentRequest
	if err := decodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	actor, scope, err := authenticatedScope(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	state, err := h.coordinator.SetBookingIntent(r.Context(), scope, actor, chi.URLParam(r, "id"), req.Intent,
		booking.IntentOptions{PaymentMethod: req.PaymentMethod})
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: state})
}

// SetQuantity handles PUT /v1/lessons/{id}/quantity and returns the actor's
// held bookings on the lesson. Drop-in bookings awaiting payment are listed
// with status pending.
func (h *LessonHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req QuantityRequest
	if err := decodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	actor, scope, err := authenticatedScope(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	bookings, err := h.coordinator.SetBookingQuantity(r.Context(), scope, actor, chi.URLParam(r, "id"), *req.Quantity)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []types.Booking{}
	}
	count := len(bookings)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: bookings, Meta: &types.ResponseMeta{Count: &count}})
}

// SetChildIntent handles POST /v1/lessons/{id}/children/{childID}/intent.
func (h *LessonHandler) SetChildIntent(w http.ResponseWriter, r *http.Request) {
	var req ChildIntentRequest
	if err := decodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	actor, scope, err := authenticatedScope(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	lessonID, childID := chi.URLParam(r, "id"), chi.URLParam(r, "childID")
	var result *booking.ChildBookingResult
	if req.Intent == types.IntentConfirm {
		result, err = h.coordinator.CreateChildBookingIntent(r.Context(), scope, actor, lessonID, childID)
	} else {
		result, err = h.coordinator.CancelChildBookingIntent(r.Context(), scope, actor, lessonID, childID)
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// PaymentAuthorized handles POST /v1/bookings/{id}/payment-authorized, the
// signal sent by the payment integration once a drop-in is paid.
func (h *LessonHandler) PaymentAuthorized(w http.ResponseWriter, r *http.Request) {
	actor, scope, err := authenticatedScope(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	bookingID := chi.URLParam(r, "id")
	b, err := h.coordinator.ConfirmPayment(r.Context(), scope, actor, bookingID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "payment applied to booking",
		"booking_id", bookingID,
		"status", string(b.Status),
		"actor_id", actor.ID,
	)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: b})
}
