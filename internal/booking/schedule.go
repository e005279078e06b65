package booking

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"classbook/internal/types"
)

// LessonView is one lesson as shown in a schedule listing.
type LessonView struct {
	LessonDetail
	Capacity CapacitySnapshot `json:"capacity"`
	Viewer   ViewerState      `json:"viewer"`
}

// ScheduleService answers schedule reads with availability and viewer state
// attached. A listing costs a fixed number of queries whatever the number of
// lessons.
type ScheduleService struct {
	store  Store
	clock  types.Clock
	loc    *time.Location
	logger *slog.Logger
}

// NewScheduleService creates a ScheduleService. Days are cut in loc.
func NewScheduleService(store Store, clock types.Clock, loc *time.Location, logger *slog.Logger) *ScheduleService {
	if clock == nil {
		clock = types.RealClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduleService{store: store, clock: clock, loc: loc, logger: logger}
}

// ListForDate returns every lesson starting on date (a calendar day in the
// studio timezone), ordered by start time. viewer is the zero Actor for
// anonymous requests.
func (s *ScheduleService) ListForDate(ctx context.Context, scope types.Scope, viewer types.Actor, date time.Time) ([]LessonView, error) {
	y, m, d := date.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	to := from.AddDate(0, 0, 1)

	lessons, err := s.store.ListLessons(ctx, scope, from, to)
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, scope, viewer.ID, lessons)
}

// GetLesson returns one lesson with its viewer state.
func (s *ScheduleService) GetLesson(ctx context.Context, scope types.Scope, viewer types.Actor, lessonID string) (*LessonView, error) {
	detail, err := s.store.GetLesson(ctx, scope, lessonID)
	if err != nil {
		return nil, err
	}
	views, err := s.decorate(ctx, scope, viewer.ID, []LessonDetail{*detail})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// viewerState recomputes one lesson's state for viewerID after a mutation.
func (s *ScheduleService) viewerState(ctx context.Context, scope types.Scope, viewerID, lessonID string) (*ViewerState, error) {
	detail, err := s.store.GetLesson(ctx, scope, lessonID)
	if err != nil {
		return nil, err
	}
	views, err := s.decorate(ctx, scope, viewerID, []LessonDetail{*detail})
	if err != nil {
		return nil, err
	}
	return &views[0].Viewer, nil
}

// decorate runs the three lookups for the lesson set concurrently: confirmed
// counts, the viewer's bookings and trial eligibility.
func (s *ScheduleService) decorate(ctx context.Context, scope types.Scope, viewerID string, lessons []LessonDetail) ([]LessonView, error) {
	if len(lessons) == 0 {
		return []LessonView{}, nil
	}

	ids := make([]string, len(lessons))
	for i, l := range lessons {
		ids[i] = l.Lesson.ID
	}

	var (
		counts   map[string]int
		bookings []types.Booking
		prior    bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts, err = s.store.ConfirmedCounts(gctx, scope, ids)
		return err
	})
	if viewerID != "" {
		g.Go(func() error {
			var err error
			bookings, err = s.store.ViewerBookings(gctx, scope, viewerID, ids)
			return err
		})
		g.Go(func() error {
			var err error
			prior, err = s.store.HasConfirmedBooking(gctx, scope, viewerID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	grouped := GroupViewerBookings(bookings)

	views := make([]LessonView, len(lessons))
	for i, l := range lessons {
		snap := ComputeCapacity(now, CapacityInputFor(l, counts[l.Lesson.ID]))
		views[i] = LessonView{
			LessonDetail: l,
			Capacity:     snap,
			Viewer: DeriveViewerState(l.Lesson.ID, snap, l.Option, ViewerContext{
				Authenticated:     viewerID != "",
				Bookings:          grouped[l.Lesson.ID],
				HasPriorConfirmed: prior,
			}),
		}
	}
	return views, nil
}
