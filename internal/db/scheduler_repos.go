package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"classbook/internal/types"
)

// ============================================================
// JobLockRepository
// ============================================================

// JobLockRepository provides distributed locking via the job_locks table.
// The schedule worker takes one lock per expansion idempotency key so that
// a redelivered SQS message does not run the same expansion twice at once.
type JobLockRepository struct {
	db  DBTX
	now func() time.Time
}

// NewJobLockRepository creates a new JobLockRepository backed by the given
// database connection (pool or transaction).
func NewJobLockRepository(db DBTX) *JobLockRepository {
	return &JobLockRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Acquire attempts to insert a lock row. Returns true if acquired, false if
// the lock already exists and has not expired.
//
// SQL pattern:
//
//	INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
//	VALUES ($1, $2, $3, $4)
//	ON CONFLICT (id) DO UPDATE
//	  SET worker_id = EXCLUDED.worker_id,
//	      locked_at = EXCLUDED.locked_at,
//	      expires_at = EXCLUDED.expires_at
//	  WHERE job_locks.expires_at < $3
//
// locked_at and expires_at are computed in Go; PostgreSQL cannot parse Go
// duration strings such as "15m0s" as intervals.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	now := r.now()
	expiresAt := now.Add(ttl)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE job_locks.expires_at < $3`,
		lockID,
		workerID,
		now,
		expiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}

	// RowsAffected is 1 for a new row or a reclaimed expired lock, 0 while
	// another worker holds it.
	return tag.RowsAffected() > 0, nil
}

// Release drops a lock held by workerID. Releasing a lock that was
// reclaimed by another worker is a no-op.
func (r *JobLockRepository) Release(ctx context.Context, lockID string, workerID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM job_locks WHERE id = $1 AND worker_id = $2`,
		lockID,
		workerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release job lock", err)
	}
	return nil
}

// ============================================================
// JobHistoryRepository
// ============================================================

// JobHistoryRepository provides data access for the job_history table. A
// row is created as 'queued' when the API enqueues a job, moves to
// 'running' when a worker picks it up, and ends as 'success' or 'failed'
// with the JSON result.
type JobHistoryRepository struct {
	db DBTX
}

// NewJobHistoryRepository creates a new JobHistoryRepository backed by the
// given database connection (pool or transaction).
func NewJobHistoryRepository(db DBTX) *JobHistoryRepository {
	return &JobHistoryRepository{db: db}
}

// Enqueue records a queued job under its public id.
func (r *JobHistoryRepository) Enqueue(ctx context.Context, jobRef, tenantID, jobType string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO job_history (job_ref, tenant_id, job_type, status, created_at)
		 VALUES ($1, $2, $3, 'queued', NOW())
		 ON CONFLICT (job_ref) DO NOTHING`,
		jobRef,
		tenantID,
		jobType,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record queued job", err)
	}
	return nil
}

// Start marks the job as running and returns the row id used by Finish.
// Jobs that were never recorded as queued (published by another tool) get
// their row created here.
func (r *JobHistoryRepository) Start(ctx context.Context, jobRef, tenantID, jobType string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO job_history (job_ref, tenant_id, job_type, status, created_at, started_at)
		 VALUES ($1, $2, $3, 'running', NOW(), NOW())
		 ON CONFLICT (job_ref) DO UPDATE
		   SET status = 'running', started_at = NOW(), finished_at = NULL, error = NULL
		 RETURNING id`,
		jobRef,
		tenantID,
		jobType,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start job history entry", err)
	}
	return id, nil
}

// Finish updates the job_history row with the final status, item count,
// JSON result and optional error message.
func (r *JobHistoryRepository) Finish(ctx context.Context, id int64, status types.JobStatus, items int, result any, jobErr error) error {
	var errMsg *string
	if jobErr != nil {
		s := jobErr.Error()
		errMsg = &s
	}
	var payload []byte
	if result != nil {
		var err error
		if payload, err = json.Marshal(result); err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode job result", err)
		}
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE job_history
		 SET finished_at = NOW(), status = $2, items_count = $3, error = $4, result = $5
		 WHERE id = $1`,
		id,
		string(status),
		items,
		errMsg,
		payload,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job history entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "job history entry not found", nil)
	}
	return nil
}

// Get returns a job by its public id.
func (r *JobHistoryRepository) Get(ctx context.Context, scope types.Scope, jobRef string) (*types.JobRecord, error) {
	var (
		rec    types.JobRecord
		errMsg *string
		result []byte
	)
	err := retryRead(ctx, func() error {
		return r.db.QueryRow(ctx,
			`SELECT id, job_ref, tenant_id, job_type, status, created_at, started_at,
			        finished_at, items_count, error, result
			 FROM job_history
			 WHERE job_ref = $1 AND ($2::text IS NULL OR tenant_id = $2)`,
			jobRef, tenantArg(scope),
		).Scan(&rec.ID, &rec.JobID, &rec.TenantID, &rec.JobType, &rec.Status, &rec.CreatedAt,
			&rec.StartedAt, &rec.FinishedAt, &rec.Items, &errMsg, &result)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
		}
		return nil, dbError("failed to retrieve job", err)
	}
	if errMsg != nil {
		rec.Error = *errMsg
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &rec.Result); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode job result", err)
		}
	}
	return &rec, nil
}
