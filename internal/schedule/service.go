package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"classbook/internal/access"
	"classbook/internal/types"
)

// JobTypeExpansion is the job_history type of template expansion runs.
const JobTypeExpansion = "schedule_expansion"

// TemplateStore persists schedule templates.
type TemplateStore interface {
	GetTemplate(ctx context.Context, scope types.Scope, templateID string) (*types.ScheduleTemplate, error)
	SaveTemplate(ctx context.Context, scope types.Scope, t *types.ScheduleTemplate) error
}

// JobStore records queued jobs and serves their status.
type JobStore interface {
	Enqueue(ctx context.Context, jobID, tenantID, jobType string) error
	Get(ctx context.Context, scope types.Scope, jobID string) (*types.JobRecord, error)
}

// JobPublisher hands an expansion job to the worker queue.
type JobPublisher interface {
	PublishExpansion(ctx context.Context, job types.ExpansionJob) error
}

// Service is the API-side entry point for template management. Expansion
// itself runs in the schedule worker.
type Service struct {
	templates TemplateStore
	jobs      JobStore
	publisher JobPublisher
	clock     types.Clock
	logger    *slog.Logger
	newID     func() string
}

// NewService wires a Service.
func NewService(templates TemplateStore, jobs JobStore, publisher JobPublisher, clock types.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		templates: templates,
		jobs:      jobs,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// SaveTemplate validates t, stores it under the request tenant, and queues
// an expansion over its whole validity window.
func (s *Service) SaveTemplate(ctx context.Context, scope types.Scope, actor types.Actor, t *types.ScheduleTemplate) (*types.ScheduleTemplate, *types.ExpansionJob, error) {
	if t == nil || t.ID == "" {
		return nil, nil, types.NewAppError(types.ErrCodeValidationMissingField, "template id is required", nil)
	}
	decision, err := access.Authorize(actor, access.OpManageTemplates, access.Target{TenantID: scope.TenantID})
	if err != nil {
		return nil, nil, err
	}
	scope = narrow(scope, decision.Scope)
	if scope.TenantID == "" {
		return nil, nil, types.NewAppError(types.ErrCodeNotFoundTenant, "templates must be saved within a tenant", nil)
	}

	t.TenantID = scope.TenantID
	t.UpdatedAt = s.clock.Now()
	if err := ValidateTemplate(t); err != nil {
		return nil, nil, err
	}
	if err := s.templates.SaveTemplate(ctx, scope, t); err != nil {
		return nil, nil, err
	}

	job, err := s.enqueue(ctx, t, t.StartDate, t.EndDate, false)
	if err != nil {
		return t, nil, err
	}
	return t, job, nil
}

// ValidateTemplate loads templateID and returns its conflict report. An
// empty report means the template can be expanded.
func (s *Service) ValidateTemplate(ctx context.Context, scope types.Scope, actor types.Actor, templateID string) ([]types.SlotConflict, error) {
	decision, err := access.Authorize(actor, access.OpManageTemplates, access.Target{TenantID: scope.TenantID})
	if err != nil {
		return nil, err
	}
	t, err := s.templates.GetTemplate(ctx, narrow(scope, decision.Scope), templateID)
	if err != nil {
		return nil, err
	}
	conflicts := FindConflicts(t)
	if conflicts == nil {
		conflicts = []types.SlotConflict{}
	}
	return conflicts, nil
}

// RequestExpansion queues an expansion of templateID over [start, end].
func (s *Service) RequestExpansion(ctx context.Context, scope types.Scope, actor types.Actor, templateID string, start, end time.Time, clearExisting bool) (*types.ExpansionJob, error) {
	if dateOnly(end).Before(dateOnly(start)) {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidRange, "end_date is before start_date", nil)
	}
	decision, err := access.Authorize(actor, access.OpManageTemplates, access.Target{TenantID: scope.TenantID})
	if err != nil {
		return nil, err
	}
	t, err := s.templates.GetTemplate(ctx, narrow(scope, decision.Scope), templateID)
	if err != nil {
		return nil, err
	}
	return s.enqueue(ctx, t, start, end, clearExisting)
}

// GetJob returns the status of a queued or finished job.
func (s *Service) GetJob(ctx context.Context, scope types.Scope, actor types.Actor, jobID string) (*types.JobRecord, error) {
	decision, err := access.Authorize(actor, access.OpViewJobs, access.Target{TenantID: scope.TenantID})
	if err != nil {
		return nil, err
	}
	return s.jobs.Get(ctx, narrow(scope, decision.Scope), jobID)
}

func (s *Service) enqueue(ctx context.Context, t *types.ScheduleTemplate, start, end time.Time, clearExisting bool) (*types.ExpansionJob, error) {
	job := types.ExpansionJob{
		JobID:          s.newID(),
		IdempotencyKey: IdempotencyKey(t, start, end, clearExisting),
		TenantID:       t.TenantID,
		TemplateID:     t.ID,
		StartDate:      start.Format(DateLayout),
		EndDate:        end.Format(DateLayout),
		ClearExisting:  clearExisting,
		TraceID:        types.GetRequestID(ctx),
	}
	if job.TraceID == "" {
		job.TraceID = s.newID()
	}

	if err := s.jobs.Enqueue(ctx, job.JobID, job.TenantID, JobTypeExpansion); err != nil {
		return nil, err
	}
	if err := s.publisher.PublishExpansion(ctx, job); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamQueue, "failed to queue schedule expansion", err)
	}

	s.logger.InfoContext(ctx, "schedule expansion queued",
		"job_id", job.JobID,
		"template_id", job.TemplateID,
		"tenant_id", job.TenantID,
		"start_date", job.StartDate,
		"end_date", job.EndDate,
		"clear_existing", clearExisting,
	)
	return &job, nil
}

// IdempotencyKey identifies an expansion of one template version over one
// range. Redelivered messages and repeated requests share the key.
func IdempotencyKey(t *types.ScheduleTemplate, start, end time.Time, clearExisting bool) string {
	return fmt.Sprintf("expand:%s:%s:%s:%d:%t",
		t.ID, start.Format(DateLayout), end.Format(DateLayout), t.UpdatedAt.Unix(), clearExisting)
}

// narrow keeps the request tenant unless the request carries none, in which
// case the policy's scope applies.
func narrow(request, policy types.Scope) types.Scope {
	if request.AllTenants || request.TenantID == "" {
		return policy
	}
	return request
}
