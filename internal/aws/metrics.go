package aws

import (
	"context"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric names emitted by the order and payment paths.
const (
	MetricOrdersCreated     = "OrdersCreated"
	MetricIdempotentReplays = "IdempotentReplays"
	MetricPriceMismatch     = "PriceMismatch"
	MetricWebhookApplied    = "WebhookApplied"
	MetricWebhookDuplicate  = "WebhookDuplicate"
	MetricWebhookUnlinked   = "WebhookUnlinked"
	MetricWebhookFailed     = "WebhookFailed"
	MetricRetryDeadLettered = "RetryDeadLettered"
)

// MetricsClient wraps CloudWatch PutMetricData. A disabled client is a no-op.
type MetricsClient struct {
	client    CloudWatchAPI
	namespace string
	enabled   bool
	nowFunc   func() time.Time
}

func NewMetricsClient(client CloudWatchAPI, namespace string, enabled bool) *MetricsClient {
	if namespace == "" {
		namespace = "OrderFlow"
	}
	return &MetricsClient{
		client:    client,
		namespace: namespace,
		enabled:   enabled && client != nil,
		nowFunc:   time.Now,
	}
}

// PutMetric sends a single data point.
func (m *MetricsClient) PutMetric(ctx context.Context, name string, value float64, unit cwtypes.StandardUnit, dimensions map[string]string) error {
	if m == nil || !m.enabled {
		return nil
	}

	dims := make([]cwtypes.Dimension, 0, len(dimensions))
	for k, v := range dimensions {
		dims = append(dims, cwtypes.Dimension{Name: sdkaws.String(k), Value: sdkaws.String(v)})
	}

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: sdkaws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: sdkaws.String(name),
			Value:      sdkaws.Float64(value),
			Unit:       unit,
			Timestamp:  sdkaws.Time(m.nowFunc()),
			Dimensions: dims,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to put metric: %w", err)
	}
	return nil
}

// RecordCount increments a counter metric.
func (m *MetricsClient) RecordCount(ctx context.Context, name string, dimensions map[string]string) error {
	return m.PutMetric(ctx, name, 1, cwtypes.StandardUnitCount, dimensions)
}

// RecordLatency records a duration in milliseconds.
func (m *MetricsClient) RecordLatency(ctx context.Context, name string, d time.Duration, dimensions map[string]string) error {
	return m.PutMetric(ctx, name, float64(d.Milliseconds()), cwtypes.StandardUnitMilliseconds, dimensions)
}
