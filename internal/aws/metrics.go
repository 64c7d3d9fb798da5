package aws

import (
	"context"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

// Metric names published by the reconciliation core.
const (
	MetricOrdersMaterialized       = "OrdersMaterialized"
	MetricMaterializeConflicts     = "MaterializeConflicts"
	MetricWebhookSignatureRejected = "WebhookSignatureRejected"
	MetricGatewayErrors            = "GatewayErrors"
)

// Metrics publishes counters to CloudWatch. Publishing is best effort: failures are
// logged and never returned. A nil *Metrics is valid and does nothing.
type Metrics struct {
	cw        CloudWatchAPI
	namespace string
	logger    *zap.Logger
	nowFunc   func() time.Time
}

func NewMetrics(cw CloudWatchAPI, namespace string, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Metrics{
		cw:        cw,
		namespace: namespace,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// Count adds n to the named counter.
func (m *Metrics) Count(ctx context.Context, name string, n int) {
	if m == nil || m.cw == nil || m.namespace == "" {
		return
	}
	ts := m.nowFunc()
	_, err := m.cw.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: sdkaws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: sdkaws.String(name),
				Value:      sdkaws.Float64(float64(n)),
				Unit:       cwtypes.StandardUnitCount,
				Timestamp:  &ts,
			},
		},
	})
	if err != nil {
		m.logger.Warn("put metric data failed",
			zap.String("metric", name),
			zap.Error(err))
	}
}
