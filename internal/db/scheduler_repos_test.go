package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"classbook/internal/types"
)

// ============================================================
// JobLockRepository Tests
// ============================================================

const expandKey = "expand:tpl-1:2025-03-01:2025-03-31:1740052800:false"

func TestJobLockRepository_Acquire_Success_NewLock(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	acquired, err := repo.Acquire(ctx, expandKey, "lambda-req-123", 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
	db.AssertExpectations(t)
}

func TestJobLockRepository_Acquire_ComputesExpiryInGo(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db)
	now := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"),
		[]any{expandKey, "worker-1", now, now.Add(10 * time.Minute)},
	).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	acquired, err := repo.Acquire(ctx, expandKey, "worker-1", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
	db.AssertExpectations(t)
}

func TestJobLockRepository_Acquire_AlreadyLocked(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db)
	ctx := context.Background()

	// Lock exists and has not expired -> 0 rows affected
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	acquired, err := repo.Acquire(ctx, expandKey, "lambda-req-789", 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired, "should not acquire lock when another worker holds it")
}

func TestJobLockRepository_Acquire_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	acquired, err := repo.Acquire(ctx, expandKey, "worker-1", 10*time.Minute)
	assert.False(t, acquired)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestJobLockRepository_Release(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool { return containsAll(sql, "DELETE FROM job_locks", "worker_id = $2") }),
		[]any{expandKey, "worker-1"},
	).Return(pgconn.NewCommandTag("DELETE 1"), nil)

	require.NoError(t, repo.Release(ctx, expandKey, "worker-1"))
	db.AssertExpectations(t)
}

// ============================================================
// JobHistoryRepository Tests
// ============================================================

func TestJobHistoryRepository_Enqueue(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool { return containsAll(sql, "'queued'", "ON CONFLICT (job_ref) DO NOTHING") }),
		[]any{"job-1", "t-1", "schedule_expansion"},
	).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, repo.Enqueue(ctx, "job-1", "t-1", "schedule_expansion"))
	db.AssertExpectations(t)
}

func TestJobHistoryRepository_Start(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool { return containsAll(sql, "'running'", "RETURNING id") }),
		[]any{"job-1", "t-1", "schedule_expansion"},
	).Return(rowOf(int64(42)))

	id, err := repo.Start(ctx, "job-1", "t-1", "schedule_expansion")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestJobHistoryRepository_Start_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection refused")})

	_, err := repo.Start(ctx, "job-1", "t-1", "schedule_expansion")
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestJobHistoryRepository_Finish_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)
	ctx := context.Background()

	result := types.ExpansionResult{TemplateID: "tpl-1", CreatedLessonIDs: []string{"l-1"}, SkippedExisting: 2}
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		if len(args) != 5 || args[0] != int64(7) || args[1] != "success" || args[2] != 1 {
			return false
		}
		payload, ok := args[4].([]byte)
		return ok && containsAll(string(payload), `"l-1"`) && args[3].(*string) == nil
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.Finish(ctx, 7, types.JobStatusSucceeded, 1, result, nil))
	db.AssertExpectations(t)
}

func TestJobHistoryRepository_Finish_Failure(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		msg, ok := args[3].(*string)
		payload, _ := args[4].([]byte)
		return ok && msg != nil && *msg == "template not found" && len(payload) == 0
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.Finish(ctx, 7, types.JobStatusFailed, 0, nil, errors.New("template not found"))
	require.NoError(t, err)
}

func TestJobHistoryRepository_Finish_RowMissing(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Finish(ctx, 99, types.JobStatusSucceeded, 0, nil, nil)
	assert.Equal(t, types.ErrCodeInternalUnexpected, types.CodeOf(err))
}

func TestJobHistoryRepository_Get(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)
	ctx := context.Background()
	created := time.Date(2025, 2, 20, 12, 0, 0, 0, time.UTC)
	started := created.Add(time.Second)
	finished := started.Add(3 * time.Second)

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"job-1", strPtr("t-1")}).
		Return(rowOf(int64(7), "job-1", "t-1", "schedule_expansion", "success", created,
			started, finished, 14, nil, []byte(`{"template_id":"tpl-1","skipped_existing":0}`)))

	rec, err := repo.Get(ctx, tenantOne, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", rec.JobID)
	assert.Equal(t, types.JobStatusSucceeded, rec.Status)
	assert.Equal(t, 14, rec.Items)
	require.NotNil(t, rec.FinishedAt)
	assert.Equal(t, finished, *rec.FinishedAt)
	assert.Empty(t, rec.Error)
	assert.Equal(t, "tpl-1", rec.Result["template_id"])
}

func TestJobHistoryRepository_Get_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.Get(ctx, types.TenantScope("t-2"), "job-1")
	assert.Equal(t, types.ErrCodeNotFoundJob, types.CodeOf(err))
}
