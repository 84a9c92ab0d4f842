package aws

import (
	"context"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metrics emits operational metrics to CloudWatch. A nil Metrics (or one
// constructed with a nil client) is a no-op, so callers never have to guard.
type Metrics struct {
	client    CloudWatchAPI
	namespace string
}

// NewMetrics returns a Metrics emitter publishing under the given namespace.
func NewMetrics(client CloudWatchAPI, namespace string) *Metrics {
	return &Metrics{client: client, namespace: namespace}
}

// PointsAwarded records a completed points award.
func (m *Metrics) PointsAwarded(ctx context.Context, points int) {
	m.put(ctx, "PointsAwarded", float64(points), nil)
}

// ConsistencyFault records a missing customer/order on a path where the record
// must exist. These alarm: they indicate an upstream data bug, not user error.
func (m *Metrics) ConsistencyFault(ctx context.Context, entity string) {
	m.put(ctx, "DataConsistencyFault", 1, []cwtypes.Dimension{
		{Name: sdkaws.String("Entity"), Value: sdkaws.String(entity)},
	})
}

func (m *Metrics) put(ctx context.Context, name string, value float64, dims []cwtypes.Dimension) {
	if m == nil || m.client == nil {
		return
	}
	now := time.Now().UTC()
	// best effort; metric loss must never fail the business operation
	_, _ = m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: &m.namespace,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: &name,
				Value:      &value,
				Timestamp:  &now,
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
		},
	})
}
