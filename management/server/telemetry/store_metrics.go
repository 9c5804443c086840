package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// StoreMetrics represents all metrics related to the Store
type StoreMetrics struct {
	queryDurationMicro       metric.Int64Histogram
	queryDurationMs          metric.Int64Histogram
	persistenceDurationMicro metric.Int64Histogram
	persistenceDurationMs    metric.Int64Histogram
	ctx                      context.Context
}

// NewStoreMetrics creates an instance of StoreMetrics
func NewStoreMetrics(ctx context.Context, meter metric.Meter) (*StoreMetrics, error) {
	queryDurationMicro, err := meter.Int64Histogram("ota.store.query.duration.micro",
		metric.WithUnit("microseconds"))
	if err != nil {
		return nil, err
	}

	queryDurationMs, err := meter.Int64Histogram("ota.store.query.duration.ms")
	if err != nil {
		return nil, err
	}

	persistenceDurationMicro, err := meter.Int64Histogram("ota.store.persistence.duration.micro",
		metric.WithUnit("microseconds"))
	if err != nil {
		return nil, err
	}

	persistenceDurationMs, err := meter.Int64Histogram("ota.store.persistence.duration.ms")
	if err != nil {
		return nil, err
	}

	return &StoreMetrics{
		queryDurationMicro:       queryDurationMicro,
		queryDurationMs:          queryDurationMs,
		persistenceDurationMicro: persistenceDurationMicro,
		persistenceDurationMs:    persistenceDurationMs,
		ctx:                      ctx,
	}, nil
}

// CountQueryDuration counts the duration of a read query, labelled by operation
func (metrics *StoreMetrics) CountQueryDuration(operation string, duration time.Duration) {
	opts := metric.WithAttributeSet(attribute.NewSet(attribute.String("operation", operation)))
	metrics.queryDurationMicro.Record(metrics.ctx, duration.Microseconds(), opts)
	metrics.queryDurationMs.Record(metrics.ctx, duration.Milliseconds(), opts)
}

// CountPersistenceDuration counts the duration of a store persistence operation
func (metrics *StoreMetrics) CountPersistenceDuration(duration time.Duration) {
	metrics.persistenceDurationMicro.Record(metrics.ctx, duration.Microseconds())
	metrics.persistenceDurationMs.Record(metrics.ctx, duration.Milliseconds())
}
