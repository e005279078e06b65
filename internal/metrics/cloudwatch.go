package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatch metric and dimension names emitted by the schedule worker.
const (
	MetricExpansionRun      = "ScheduleExpansionRun"
	MetricLessonsCreated    = "ScheduleLessonsCreated"
	MetricExpansionDuration = "ScheduleExpansionDuration"

	DimTenant = "TenantID"
	DimResult = "Result"
)

// Expansion outcomes used as the Result dimension.
const (
	ResultSuccess  = "success"
	ResultConflict = "conflict"
	ResultFailed   = "failed"
	ResultSkipped  = "skipped"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchPublisher pushes schedule worker metrics. Publishing failures are
// logged and never fail the job.
type CloudWatchPublisher struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchPublisher creates a publisher for namespace.
func NewCloudWatchPublisher(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchPublisher{client: client, namespace: namespace, logger: logger}
}

// RecordExpansion emits one run counter, the number of lessons created and
// the run duration, all dimensioned by tenant and result.
func (p *CloudWatchPublisher) RecordExpansion(ctx context.Context, tenantID, result string, created int, duration time.Duration) {
	dims := []cwtypes.Dimension{
		{Name: aws.String(DimTenant), Value: aws.String(tenantID)},
		{Name: aws.String(DimResult), Value: aws.String(result)},
	}
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricExpansionRun),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			{
				MetricName: aws.String(MetricLessonsCreated),
				Value:      aws.Float64(float64(created)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			{
				MetricName: aws.String(MetricExpansionDuration),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dims,
			},
		},
	}

	if _, err := p.client.PutMetricData(ctx, input); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish expansion metrics",
			"error", err.Error(),
			"tenant_id", tenantID,
			"result", result,
		)
	}
}
