// Package queue provides the SQS producer that hands schedule expansion jobs
// to the schedule worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"classbook/internal/config"
	"classbook/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// ExpansionTrigger implements schedule.JobPublisher. Each job becomes one
// JSON message on the expansion queue; the tenant and idempotency key are
// copied into message attributes so they are visible without decoding the
// body.
type ExpansionTrigger struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewExpansionTrigger creates an ExpansionTrigger for the queue configured in
// AWSConfig.
func NewExpansionTrigger(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *ExpansionTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpansionTrigger{
		client:   client,
		queueURL: awsCfg.ExpansionQueue,
		logger:   logger,
	}
}

// PublishExpansion sends job to the expansion queue. A job without a trace id
// gets a fresh one.
func (t *ExpansionTrigger) PublishExpansion(ctx context.Context, job types.ExpansionJob) error {
	if job.JobID == "" || job.TenantID == "" || job.TemplateID == "" {
		return fmt.Errorf("queue: expansion job is missing job, tenant or template id")
	}
	if job.TraceID == "" {
		job.TraceID = uuid.New().String()
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal ExpansionJob: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"tenant_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(job.TenantID),
			},
			"idempotency_key": {
				DataType:    aws.String("String"),
				StringValue: aws.String(job.IdempotencyKey),
			},
		},
	}

	if _, err := t.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send ExpansionJob to %s: %w", t.queueURL, err)
	}

	t.logger.InfoContext(ctx, "expansion job sent",
		"queue_url", t.queueURL,
		"job_id", job.JobID,
		"trace_id", job.TraceID,
		"tenant_id", job.TenantID,
		"template_id", job.TemplateID,
		"start_date", job.StartDate,
		"end_date", job.EndDate,
	)
	return nil
}
