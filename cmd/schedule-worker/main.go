// Package main is the entrypoint for the Schedule Worker Lambda function.
//
// The worker consumes ExpansionJob messages from the schedule expansion
// queue and turns template slots into lessons.
//
// Cold Start (main):
//  1. Load WorkerConfig (SSM-backed outside local) and build the logger.
//  2. Open the database pool.
//  3. Load AWS SDK configuration and build the CloudWatch client.
//  4. Build the Expander over the PostgreSQL expansion store.
//  5. Register handler and call lambda.Start.
//
// Handler flow, per SQS record:
//
//  1. Decode the ExpansionJob. Malformed bodies are acknowledged and dropped.
//  2. Take the job lock keyed by the idempotency key. A held lock means a
//     duplicate delivery is already running; the record is acknowledged.
//  3. Mark the job running in job_history.
//  4. Expand within the job's tenant.
//  5. Record success or failure in job_history and CloudWatch. Business
//     failures (conflicts, missing template) are final; infrastructure
//     failures are reported back to SQS so the record is retried.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"

	"classbook/internal/config"
	"classbook/internal/db"
	"classbook/internal/metrics"
	"classbook/internal/schedule"
	"classbook/internal/types"
)

// Expander runs one expansion. Satisfied by *schedule.Expander.
type Expander interface {
	Expand(ctx context.Context, scope types.Scope, req schedule.ExpandRequest) (*types.ExpansionResult, error)
}

// JobLocker guards against concurrent runs of the same job.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID string, workerID string) error
}

// JobRecorder tracks job_history rows.
type JobRecorder interface {
	Start(ctx context.Context, jobRef, tenantID, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status types.JobStatus, items int, result any, jobErr error) error
}

// ExpansionMetrics publishes run telemetry.
type ExpansionMetrics interface {
	RecordExpansion(ctx context.Context, tenantID, result string, created int, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordExpansion(context.Context, string, string, int, time.Duration) {}

// Handler holds the dependencies for the schedule worker Lambda handler.
type Handler struct {
	expander Expander
	locks    JobLocker
	history  JobRecorder
	metrics  ExpansionMetrics
	workerID string
	lockTTL  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Handle processes an SQS event. Each record is handled independently and
// only records that should be retried are reported in BatchItemFailures.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "failed to process expansion message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processMessage returns an error only when the record should be retried.
func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	start := h.now()

	var job types.ExpansionJob
	if err := json.Unmarshal([]byte(record.Body), &job); err != nil {
		h.logger.ErrorContext(ctx, "dropping malformed expansion message",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		return nil
	}

	logger := h.logger.With(
		"job_id", job.JobID,
		"trace_id", job.TraceID,
		"tenant_id", job.TenantID,
		"template_id", job.TemplateID,
	)

	if job.TenantID == "" || job.TemplateID == "" {
		logger.ErrorContext(ctx, "dropping expansion job without tenant or template")
		return nil
	}

	req, err := schedule.RequestFromJob(job)
	if err != nil {
		logger.ErrorContext(ctx, "dropping expansion job with invalid dates", "error", err)
		return nil
	}

	lockID := job.IdempotencyKey
	if lockID == "" {
		lockID = job.JobID
	}
	acquired, err := h.locks.Acquire(ctx, lockID, h.workerID, h.lockTTL)
	if err != nil {
		return fmt.Errorf("acquiring job lock: %w", err)
	}
	if !acquired {
		logger.InfoContext(ctx, "expansion already running elsewhere; skipping duplicate delivery")
		h.metrics.RecordExpansion(ctx, job.TenantID, metrics.ResultSkipped, 0, h.now().Sub(start))
		return nil
	}
	defer func() {
		if err := h.locks.Release(context.WithoutCancel(ctx), lockID, h.workerID); err != nil {
			logger.WarnContext(ctx, "failed to release job lock", "error", err)
		}
	}()

	historyID, err := h.history.Start(ctx, job.JobID, job.TenantID, schedule.JobTypeExpansion)
	if err != nil {
		return fmt.Errorf("starting job history: %w", err)
	}

	result, expandErr := h.expander.Expand(ctx, types.TenantScope(job.TenantID), req)
	duration := h.now().Sub(start)

	if expandErr != nil {
		outcome := metrics.ResultFailed
		if types.HasCode(expandErr, types.ErrCodeScheduleConflict) {
			outcome = metrics.ResultConflict
		}
		var stored any
		if result != nil {
			stored = result
		}
		if err := h.history.Finish(ctx, historyID, types.JobStatusFailed, 0, stored, expandErr); err != nil {
			logger.ErrorContext(ctx, "failed to record job failure", "error", err)
		}
		h.metrics.RecordExpansion(ctx, job.TenantID, outcome, 0, duration)

		if retryable(expandErr) {
			return fmt.Errorf("expansion failed: %w", expandErr)
		}
		logger.WarnContext(ctx, "expansion rejected",
			"code", string(types.CodeOf(expandErr)),
			"error", expandErr.Error(),
		)
		return nil
	}

	created := len(result.CreatedLessonIDs)
	if err := h.history.Finish(ctx, historyID, types.JobStatusSucceeded, created, result, nil); err != nil {
		return fmt.Errorf("finishing job history: %w", err)
	}
	h.metrics.RecordExpansion(ctx, job.TenantID, metrics.ResultSuccess, created, duration)

	logger.InfoContext(ctx, "expansion finished",
		"created", created,
		"skipped_existing", result.SkippedExisting,
		"cleared", result.ClearedLessons,
		"duration_ms", duration.Milliseconds(),
	)
	return nil
}

// retryable reports whether a failed expansion may succeed on redelivery.
// Rewriting lessons is idempotent, so a retry after a partial failure is
// safe.
func retryable(err error) bool {
	code := types.CodeOf(err)
	return code == types.ErrCodeConflictTransient || !code.IsBusinessOutcome()
}

func main() {
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.LoadWorkerConfig(provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("Schedule Worker Lambda initializing (cold start)",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
	)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("Failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	var publisher ExpansionMetrics = nopMetrics{}
	if cfg.Observability.EnableMetrics {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		publisher = metrics.NewCloudWatchPublisher(cwClient, cfg.Observability.MetricNamespace, logger)
	}

	handler := &Handler{
		expander: schedule.NewExpander(db.NewExpansionStore(pool), cfg.Booking.Location(), logger),
		locks:    db.NewJobLockRepository(pool),
		history:  db.NewJobHistoryRepository(pool),
		metrics:  publisher,
		workerID: workerID(),
		lockTTL:  cfg.JobLockTTL,
		logger:   logger,
		now:      time.Now,
	}

	logger.Info("Schedule Worker Lambda initialized",
		"worker_id", handler.workerID,
		"lock_ttl", cfg.JobLockTTL.String(),
		"timezone", cfg.Booking.Timezone,
	)

	lambda.Start(handler.Handle)
}

// workerID names this execution environment in job locks.
func workerID() string {
	if s := os.Getenv("AWS_LAMBDA_LOG_STREAM_NAME"); s != "" {
		return s
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h + "-" + uuid.NewString()[:8]
	}
	return uuid.NewString()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
