package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"alertstream/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics implements RelayMetrics by emitting to AWS CloudWatch.
//
// Metrics emitted:
//   - AlertOutcome: Dims {Source, Outcome} on every terminal outcome
//   - DeliveryAttempt: Dims {Channel, Outcome} on every Send
//   - DeliveryLatency: Dims {Channel}, milliseconds
//   - CycleDuration: Dims {Source}, milliseconds
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

var _ RelayMetrics = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics publishes to namespace, or types.MetricNamespace when
// empty.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

func (m *CloudWatchMetrics) RecordOutcome(ctx context.Context, source types.SourceType, outcome types.AlertState) {
	m.put(ctx, types.MetricAlertOutcome, 1, cwtypes.StandardUnitCount,
		dim(types.DimSource, string(source)),
		dim(types.DimOutcome, string(outcome)),
	)
}

func (m *CloudWatchMetrics) RecordAttempt(ctx context.Context, channel types.ChannelType, result AttemptResult) {
	m.put(ctx, types.MetricDeliveryAttempt, 1, cwtypes.StandardUnitCount,
		dim(types.DimChannel, string(channel)),
		dim(types.DimOutcome, string(result)),
	)
}

// RecordLatency is recorded in milliseconds for CloudWatch precision.
func (m *CloudWatchMetrics) RecordLatency(ctx context.Context, channel types.ChannelType, duration time.Duration) {
	m.put(ctx, types.MetricDeliveryLatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds,
		dim(types.DimChannel, string(channel)),
	)
}

func (m *CloudWatchMetrics) RecordCycle(ctx context.Context, source types.SourceType, duration time.Duration) {
	m.put(ctx, types.MetricCycleDuration, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds,
		dim(types.DimSource, string(source)),
	)
}

// put never fails the caller; a lost datapoint is logged.
func (m *CloudWatchMetrics) put(ctx context.Context, name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(value),
				Unit:       unit,
				Dimensions: dims,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record metric",
			"error", err.Error(),
			"metric", name,
		)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}
