package booking

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"classbook/internal/types"
)

// memStore is an in-memory Store. Each lesson has its own mutex, so
// WithLessonLock serialises writers per lesson the way SELECT ... FOR UPDATE
// does in Postgres. Transaction writes are buffered and applied on success.
type memStore struct {
	mu       sync.Mutex
	lessons  map[string]LessonDetail
	users    map[string]types.User
	subs     map[string][]types.SubscriptionWithPlan
	bookings []types.Booking

	lockMu      sync.Mutex
	lessonLocks map[string]*sync.Mutex
	userLocks   map[string]*sync.Mutex

	listCalls    atomic.Int32
	countCalls   atomic.Int32
	viewerCalls  atomic.Int32
	priorCalls   atomic.Int32
	lockFailures error
	viewerErr    error
}

func newMemStore() *memStore {
	return &memStore{
		lessons:     make(map[string]LessonDetail),
		users:       make(map[string]types.User),
		subs:        make(map[string][]types.SubscriptionWithPlan),
		lessonLocks: make(map[string]*sync.Mutex),
		userLocks:   make(map[string]*sync.Mutex),
	}
}

func (s *memStore) addLesson(d LessonDetail) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lessons[d.Lesson.ID] = d
}

func (s *memStore) addUser(u types.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *memStore) addSubscription(sub types.SubscriptionWithPlan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.UserID] = append(s.subs[sub.UserID], sub)
}

func (s *memStore) addBooking(b types.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.Status == types.BookingConfirmed && b.ConfirmedAt == nil {
		at := b.CreatedAt
		b.ConfirmedAt = &at
	}
	s.bookings = append(s.bookings, b)
}

func (s *memStore) snapshot() []types.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.bookings)
}

func (s *memStore) lessonMutex(id string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	m, ok := s.lessonLocks[id]
	if !ok {
		m = &sync.Mutex{}
		s.lessonLocks[id] = m
	}
	return m
}

func (s *memStore) userMutex(id string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	m, ok := s.userLocks[id]
	if !ok {
		m = &sync.Mutex{}
		s.userLocks[id] = m
	}
	return m
}

func (s *memStore) visibleLesson(scope types.Scope, id string) (LessonDetail, error) {
	d, ok := s.lessons[id]
	if !ok || !scope.Matches(d.Lesson.TenantID) {
		return LessonDetail{}, types.NewAppError(types.ErrCodeNotFoundLesson, "lesson not found", nil)
	}
	return d, nil
}

func (s *memStore) GetLesson(_ context.Context, scope types.Scope, lessonID string) (*LessonDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.visibleLesson(scope, lessonID)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *memStore) ListLessons(_ context.Context, scope types.Scope, from, to time.Time) ([]LessonDetail, error) {
	s.listCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []LessonDetail
	for _, d := range s.lessons {
		if scope.Matches(d.Lesson.TenantID) && !d.Lesson.StartTime.Before(from) && d.Lesson.StartTime.Before(to) {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b LessonDetail) int { return a.Lesson.StartTime.Compare(b.Lesson.StartTime) })
	return out, nil
}

func (s *memStore) ConfirmedCounts(_ context.Context, scope types.Scope, lessonIDs []string) (map[string]int, error) {
	s.countCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, b := range s.bookings {
		if b.Status == types.BookingConfirmed && scope.Matches(b.TenantID) && slices.Contains(lessonIDs, b.LessonID) {
			counts[b.LessonID]++
		}
	}
	return counts, nil
}

func (s *memStore) ViewerBookings(_ context.Context, scope types.Scope, userID string, lessonIDs []string) ([]types.Booking, error) {
	s.viewerCalls.Add(1)
	if s.viewerErr != nil {
		return nil, s.viewerErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Booking
	for _, b := range s.bookings {
		if b.UserID == userID && b.Status != types.BookingCancelled && scope.Matches(b.TenantID) && slices.Contains(lessonIDs, b.LessonID) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memStore) HasConfirmedBooking(_ context.Context, scope types.Scope, userID string) (bool, error) {
	s.priorCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookings {
		if b.ConfirmedAt == nil || !scope.Matches(b.TenantID) {
			continue
		}
		if b.UserID == userID || s.users[b.UserID].IsChildOf(userID) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) GetUser(_ context.Context, scope types.Scope, userID string) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || !scope.Matches(u.TenantID) {
		return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return &u, nil
}

func (s *memStore) GetBooking(_ context.Context, scope types.Scope, bookingID string) (*types.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookings {
		if b.ID == bookingID && scope.Matches(b.TenantID) {
			return &b, nil
		}
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundBooking, "booking not found", nil)
}

func (s *memStore) WithLessonLock(ctx context.Context, scope types.Scope, lessonID string, fn func(ctx context.Context, tx LessonTx) error) error {
	if s.lockFailures != nil {
		return s.lockFailures
	}

	s.mu.Lock()
	detail, err := s.visibleLesson(scope, lessonID)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	m := s.lessonMutex(lessonID)
	m.Lock()
	defer m.Unlock()

	tx := &memTx{store: s, detail: detail, transitions: make(map[string]types.BookingStatus), lockedUsers: make(map[string]bool)}
	defer tx.releaseUsers()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	store       *memStore
	detail      LessonDetail
	inserts     []types.Booking
	transitions map[string]types.BookingStatus
	userLocks   []*sync.Mutex
	lockedUsers map[string]bool
}

func (t *memTx) Lesson() LessonDetail { return t.detail }

// view returns all bookings as this transaction sees them.
func (t *memTx) view() []types.Booking {
	t.store.mu.Lock()
	all := slices.Clone(t.store.bookings)
	t.store.mu.Unlock()

	all = append(all, t.inserts...)
	for i := range all {
		if st, ok := t.transitions[all[i].ID]; ok {
			all[i].Status = st
		}
	}
	return all
}

func (t *memTx) ConfirmedCount(context.Context) (int, error) {
	n := 0
	for _, b := range t.view() {
		if b.LessonID == t.detail.Lesson.ID && b.Status == types.BookingConfirmed {
			n++
		}
	}
	return n, nil
}

func (t *memTx) UserBookings(_ context.Context, userID string) ([]types.Booking, error) {
	var out []types.Booking
	for _, b := range t.view() {
		if b.LessonID == t.detail.Lesson.ID && b.UserID == userID && b.Status != types.BookingCancelled {
			out = append(out, b)
		}
	}
	slices.SortStableFunc(out, func(a, b types.Booking) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (t *memTx) InsertBooking(_ context.Context, b *types.Booking) error {
	row := *b
	if row.Status == types.BookingConfirmed && row.ConfirmedAt == nil {
		now := time.Now()
		row.ConfirmedAt = &now
	}
	t.inserts = append(t.inserts, row)
	return nil
}

func (t *memTx) TransitionBooking(_ context.Context, bookingID string, from, to types.BookingStatus) error {
	for _, b := range t.view() {
		if b.ID != bookingID {
			continue
		}
		if b.Status != from || !from.CanTransitionTo(to) {
			return types.NewAppError(types.ErrCodeInvalidTransition, "booking changed concurrently", nil)
		}
		t.transitions[bookingID] = to
		return nil
	}
	return types.NewAppError(types.ErrCodeNotFoundBooking, "booking not found", nil)
}

func (t *memTx) LockSubscriptions(_ context.Context, userID string) ([]types.SubscriptionWithPlan, error) {
	// Row locks are re-entrant within one transaction.
	if !t.lockedUsers[userID] {
		m := t.store.userMutex(userID)
		m.Lock()
		t.userLocks = append(t.userLocks, m)
		t.lockedUsers[userID] = true
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return slices.Clone(t.store.subs[userID]), nil
}

func (t *memTx) CountConfirmedForPlan(_ context.Context, userID, planID string, from, to time.Time) (int, error) {
	all := t.view()

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	n := 0
	for _, b := range all {
		if b.Status != types.BookingConfirmed {
			continue
		}
		if b.UserID != userID && !t.store.users[b.UserID].IsChildOf(userID) {
			continue
		}
		d, ok := t.store.lessons[b.LessonID]
		if !ok || !d.Option.AllowsPlan(planID) {
			continue
		}
		if !d.Lesson.StartTime.Before(from) && d.Lesson.StartTime.Before(to) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) commit() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.bookings = append(t.store.bookings, t.inserts...)
	now := time.Now()
	for i := range t.store.bookings {
		b := &t.store.bookings[i]
		if st, ok := t.transitions[b.ID]; ok {
			b.Status = st
			if st == types.BookingConfirmed && b.ConfirmedAt == nil {
				b.ConfirmedAt = &now
			}
		}
	}
}

func (t *memTx) releaseUsers() {
	for i := len(t.userLocks) - 1; i >= 0; i-- {
		t.userLocks[i].Unlock()
	}
}

var _ Store = (*memStore)(nil)
