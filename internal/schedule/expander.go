package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"classbook/internal/types"
)

// DateLayout is the wire format of expansion dates.
const DateLayout = "2006-01-02"

// ExpansionStore defines the database operations needed by the Expander.
// Using an interface allows clean testing without database dependencies.
//
// The transactional flow is:
//  1. GetTemplate and ClassOptionTenants run outside any transaction.
//  2. BeginTx starts the transaction for the whole range.
//  3. DeleteGeneratedLessons clears booking-free lessons (clearExisting only).
//  4. InsertLesson is called once per slot occurrence.
//  5. Commit / Rollback finalizes the transaction.
type ExpansionStore interface {
	GetTemplate(ctx context.Context, scope types.Scope, templateID string) (*types.ScheduleTemplate, error)

	// ClassOptionTenants maps each known option id to its owning tenant.
	// The lookup is not tenant-filtered so a foreign option can be reported
	// as a mismatch rather than as missing.
	ClassOptionTenants(ctx context.Context, optionIDs []string) (map[string]string, error)

	BeginTx(ctx context.Context) (ExpansionTx, error)
}

// ExpansionTx holds the writes of one expansion run.
type ExpansionTx interface {
	// DeleteGeneratedLessons removes lessons generated from templateID that
	// start in [from, to) and have no bookings in any status. It returns the
	// number of lessons removed.
	DeleteGeneratedLessons(ctx context.Context, tenantID, templateID string, from, to time.Time) (int, error)

	// InsertLesson inserts l unless a lesson from the same template already
	// exists at the same start time and location. It reports whether a row
	// was written.
	InsertLesson(ctx context.Context, l *types.Lesson) (bool, error)

	Commit(ctx context.Context) error

	// Rollback is safe to call after Commit.
	Rollback(ctx context.Context) error
}

// ExpandRequest names the template and the inclusive date range to expand.
// Only the calendar date of StartDate and EndDate is used.
type ExpandRequest struct {
	TemplateID    string
	StartDate     time.Time
	EndDate       time.Time
	ClearExisting bool
}

// RequestFromJob parses the wire form of an expansion job.
func RequestFromJob(job types.ExpansionJob) (ExpandRequest, error) {
	start, err := time.Parse(DateLayout, job.StartDate)
	if err != nil {
		return ExpandRequest{}, types.NewAppError(types.ErrCodeValidationInvalidDate, "start_date must be YYYY-MM-DD", err)
	}
	end, err := time.Parse(DateLayout, job.EndDate)
	if err != nil {
		return ExpandRequest{}, types.NewAppError(types.ErrCodeValidationInvalidDate, "end_date must be YYYY-MM-DD", err)
	}
	return ExpandRequest{
		TemplateID:    job.TemplateID,
		StartDate:     start,
		EndDate:       end,
		ClearExisting: job.ClearExisting,
	}, nil
}

// Expander generates lessons from schedule templates.
type Expander struct {
	store  ExpansionStore
	loc    *time.Location
	logger *slog.Logger
	newID  func() string
}

// NewExpander creates an Expander. Slot times are interpreted in loc, the
// studio's wall-clock zone.
func NewExpander(store ExpansionStore, loc *time.Location, logger *slog.Logger) *Expander {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{store: store, loc: loc, logger: logger, newID: uuid.NewString}
}

// Expand creates one lesson per active slot per matching date in the
// request range, clipped to the template's validity window. When the
// template has overlapping slots nothing is written and the returned result
// carries the conflict report alongside the ScheduleConflict error.
func (e *Expander) Expand(ctx context.Context, scope types.Scope, req ExpandRequest) (*types.ExpansionResult, error) {
	if req.TemplateID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "template_id is required", nil)
	}
	if dateOnly(req.EndDate).Before(dateOnly(req.StartDate)) {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidRange, "end_date is before start_date", nil)
	}

	tmpl, err := e.store.GetTemplate(ctx, scope, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if !scope.Matches(tmpl.TenantID) {
		return nil, types.NewAppError(types.ErrCodePermissionTenantMismatch, "template belongs to a different tenant", nil)
	}

	result := &types.ExpansionResult{TemplateID: tmpl.ID, CreatedLessonIDs: []string{}}

	if err := ValidateTemplate(tmpl); err != nil {
		result.Conflicts = FindConflicts(tmpl)
		return result, err
	}
	if err := e.checkOptions(ctx, tmpl); err != nil {
		return nil, err
	}

	from, to, ok := clip(req, tmpl)
	if !ok {
		e.logger.InfoContext(ctx, "expansion range outside template validity",
			"template_id", tmpl.ID,
			"start_date", req.StartDate.Format(DateLayout),
			"end_date", req.EndDate.Format(DateLayout),
		)
		return result, nil
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx) //nolint:errcheck

	if req.ClearExisting {
		rangeStart := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, e.loc)
		rangeEnd := time.Date(to.Year(), to.Month(), to.Day()+1, 0, 0, 0, 0, e.loc)
		n, err := tx.DeleteGeneratedLessons(ctx, tmpl.TenantID, tmpl.ID, rangeStart, rangeEnd)
		if err != nil {
			return nil, err
		}
		result.ClearedLessons = n
	}

	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		for _, slot := range tmpl.Days[day.Weekday()] {
			if !slot.Active {
				continue
			}
			lesson := e.lessonFor(tmpl, slot, day)
			inserted, err := tx.InsertLesson(ctx, lesson)
			if err != nil {
				return nil, err
			}
			if inserted {
				result.CreatedLessonIDs = append(result.CreatedLessonIDs, lesson.ID)
			} else {
				result.SkippedExisting++
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "template expanded",
		"template_id", tmpl.ID,
		"tenant_id", tmpl.TenantID,
		"from", from.Format(DateLayout),
		"to", to.Format(DateLayout),
		"created", len(result.CreatedLessonIDs),
		"skipped", result.SkippedExisting,
		"cleared", result.ClearedLessons,
	)
	return result, nil
}

func (e *Expander) lessonFor(tmpl *types.ScheduleTemplate, slot types.TimeSlot, day time.Time) *types.Lesson {
	optionID := tmpl.DefaultClassOptionID
	if slot.ClassOptionID != nil && *slot.ClassOptionID != "" {
		optionID = *slot.ClassOptionID
	}
	lockOut := tmpl.DefaultLockOutMinutes
	if slot.LockOutMinutes != nil {
		lockOut = *slot.LockOutMinutes
	}
	templateID := tmpl.ID
	return &types.Lesson{
		ID:             e.newID(),
		TenantID:       tmpl.TenantID,
		StartTime:      slot.Start.On(day, e.loc),
		EndTime:        slot.End.On(day, e.loc),
		LockOutMinutes: lockOut,
		ClassOptionID:  optionID,
		InstructorID:   slot.InstructorID,
		Location:       slot.Location,
		Active:         true,
		TemplateID:     &templateID,
	}
}

// checkOptions verifies every class option the template references exists
// and belongs to the template's tenant.
func (e *Expander) checkOptions(ctx context.Context, tmpl *types.ScheduleTemplate) error {
	ids := referencedOptions(tmpl)
	owners, err := e.store.ClassOptionTenants(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		owner, ok := owners[id]
		if !ok {
			return types.NewAppErrorWithDetails(types.ErrCodeNotFoundClassOption,
				fmt.Sprintf("class option %s not found", id), nil, map[string]any{"class_option_id": id})
		}
		if owner != tmpl.TenantID {
			return types.NewAppErrorWithDetails(types.ErrCodePermissionTenantMismatch,
				"class option belongs to a different tenant", nil, map[string]any{"class_option_id": id})
		}
	}
	return nil
}

func referencedOptions(tmpl *types.ScheduleTemplate) []string {
	seen := map[string]bool{tmpl.DefaultClassOptionID: true}
	ids := []string{tmpl.DefaultClassOptionID}
	for _, slots := range tmpl.Days {
		for _, s := range slots {
			if s.ClassOptionID == nil || *s.ClassOptionID == "" || seen[*s.ClassOptionID] {
				continue
			}
			seen[*s.ClassOptionID] = true
			ids = append(ids, *s.ClassOptionID)
		}
	}
	return ids
}

// clip intersects the requested range with the template validity window.
// Both bounds are inclusive calendar dates.
func clip(req ExpandRequest, tmpl *types.ScheduleTemplate) (from, to time.Time, ok bool) {
	from, to = dateOnly(req.StartDate), dateOnly(req.EndDate)
	if start := dateOnly(tmpl.StartDate); from.Before(start) {
		from = start
	}
	if end := dateOnly(tmpl.EndDate); to.After(end) {
		to = end
	}
	return from, to, !to.Before(from)
}

// dateOnly drops the clock part of t, keeping its calendar date.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
