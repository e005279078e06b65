package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"classbook/internal/core"
	"classbook/internal/types"
)

// TemplateService manages schedule templates and their expansion jobs.
// Satisfied by *schedule.Service.
type TemplateService interface {
	SaveTemplate(ctx context.Context, scope types.Scope, actor types.Actor, t *types.ScheduleTemplate) (*types.ScheduleTemplate, *types.ExpansionJob, error)
	ValidateTemplate(ctx context.Context, scope types.Scope, actor types.Actor, templateID string) ([]types.SlotConflict, error)
	RequestExpansion(ctx context.Context, scope types.Scope, actor types.Actor, templateID string, start, end time.Time, clearExisting bool) (*types.ExpansionJob, error)
	GetJob(ctx context.Context, scope types.Scope, actor types.Actor, jobID string) (*types.JobRecord, error)
}

// TemplateRequest is the body of PUT /v1/templates/{id}.
type TemplateRequest struct {
	Name                  string              `json:"name" validate:"required,max=200"`
	StartDate             string              `json:"start_date" validate:"required,iso_date"`
	EndDate               string              `json:"end_date" validate:"required,iso_date"`
	DefaultClassOptionID  string              `json:"default_class_option_id" validate:"required"`
	DefaultLockOutMinutes int                 `json:"default_lock_out_minutes" validate:"min=0,max=10080"`
	Days                  [7][]types.TimeSlot `json:"days"`
}

// ExpandRequest is the body of POST /v1/templates/{id}/expand.
type ExpandRequest struct {
	StartDate     string `json:"start_date" validate:"required,iso_date"`
	EndDate       string `json:"end_date" validate:"required,iso_date"`
	ClearExisting bool   `json:"clear_existing"`
}

// SaveTemplateResponse is returned by PUT /v1/templates/{id}. Job is absent
// when the template was stored but the expansion could not be queued.
type SaveTemplateResponse struct {
	Template *types.ScheduleTemplate `json:"template"`
	Job      *types.ExpansionJob     `json:"job,omitempty"`
}

// ValidateTemplateResponse is the conflict report of a stored template.
type ValidateTemplateResponse struct {
	Valid     bool                 `json:"valid"`
	Conflicts []types.SlotConflict `json:"conflicts"`
}

// TemplateHandler serves template management and expansion job status. All
// routes are limited to tenant admins.
type TemplateHandler struct {
	svc       TemplateService
	validator *core.Validator
	logger    *slog.Logger
}

// NewTemplateHandler creates a TemplateHandler.
func NewTemplateHandler(svc TemplateService, v *core.Validator, l *slog.Logger) *TemplateHandler {
	if l == nil {
		l = slog.Default()
	}
	return &TemplateHandler{svc: svc, validator: v, logger: l}
}

// RegisterRoutes mounts the template and job routes.
func (h *TemplateHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(core.RequireRole(types.RoleTenantAdmin))

		r.Route("/templates/{id}", func(r chi.Router) {
			r.Put("/", h.Save)
			r.Post("/validate", h.Validate)
			r.Post("/expand", h.Expand)
		})
		r.Get("/schedule-jobs/{id}", h.GetJob)
	})
}

// Save handles PUT /v1/templates/{id}.
//
// 1. Decode and validate the body.
// 2. Store the template; the service rejects overlapping slots.
// 3. Return the template with the queued expansion job.
//
// A template that was stored but whose expansion could not be queued is
// still returned, together with the upstream error and a warning.
func (h *TemplateHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := decodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	end, err := parseDate("end_date", req.EndDate)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	actor, scope, err := authenticatedScope(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	tmpl := &types.ScheduleTemplate{
		ID:                    chi.URLParam(r, "id"),
		Name:                  req.Name,
		StartDate:             start,
		EndDate:               end,
		DefaultClassOptionID:  req.DefaultClassOptionID,
		DefaultLockOutMinutes: req.DefaultLockOutMinutes,
		Days:                  req.Days,
	}

	saved, job, err := h.svc.SaveTemplate(r.Context(), scope, actor, tmpl)
	if err != nil {
		if saved == nil {
			core.Error(w, r, err)
			return
		}
		h.logger.WarnContext(r.Context(), "template saved but expansion not queued",
			"template_id", saved.ID,
			"error", err,
		)
		core.JSON(w, r, http.StatusOK, core.APIResponse{
			Data: SaveTemplateResponse{Template: saved},
			Meta: &types.ResponseMeta{Warnings: []string{string(types.CodeOf(err))}},
		})
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: SaveTemplateResponse{Template: saved, Job: job}})
}

// Validate handles POST /v1/templates/{id}/validate.
func (h *TemplateHandler) Validate(w http.ResponseWriter, r *http.Request) {
	actor, scope, err := authenticatedScope(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	conflicts, err := h.svc.ValidateTemplate(r.Context(), scope, actor, chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if conflicts == nil {
		conflicts = []types.SlotConflict{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: ValidateTemplateResponse{Valid: len(conflicts) == 0, Conflicts: conflicts},
	})
}

// Expand handles POST /v1/templates/{id}/expand. The work happens in the
// schedule worker, so the response is 202 with the job to poll.
func (h *TemplateHandler) Expand(w http.ResponseWriter, r *http.Request) {
	var req ExpandRequest
	if err := decodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	end, err := parseDate("end_date", req.EndDate)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	actor, scope, err := authenticatedScope(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	job, err := h.svc.RequestExpansion(r.Context(), scope, actor, chi.URLParam(r, "id"), start, end, req.ClearExisting)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: job})
}

// GetJob handles GET /v1/schedule-jobs/{id}.
func (h *TemplateHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	actor, scope, err := authenticatedScope(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	job, err := h.svc.GetJob(r.Context(), scope, actor, chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: job})
}
