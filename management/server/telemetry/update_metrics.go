package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// UpdateMetrics counts eligibility decisions, guardrail blocks, rollout changes and ingested telemetry
type UpdateMetrics struct {
	ctx               context.Context
	decisions         metric.Int64Counter
	guardrailBlocks   metric.Int64Counter
	guardrailFailures metric.Int64Counter
	rolloutUpdates    metric.Int64Counter
	telemetryEvents   metric.Int64Counter
}

// NewUpdateMetrics creates an instance of UpdateMetrics
func NewUpdateMetrics(ctx context.Context, meter metric.Meter) (*UpdateMetrics, error) {
	decisions, err := meter.Int64Counter("ota.update.decisions.counter", metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	guardrailBlocks, err := meter.Int64Counter("ota.update.guardrail.blocks.counter", metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	guardrailFailures, err := meter.Int64Counter("ota.update.guardrail.query.failures.counter", metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	rolloutUpdates, err := meter.Int64Counter("ota.update.rollout.updates.counter", metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	telemetryEvents, err := meter.Int64Counter("ota.telemetry.events.counter", metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	return &UpdateMetrics{
		ctx:               ctx,
		decisions:         decisions,
		guardrailBlocks:   guardrailBlocks,
		guardrailFailures: guardrailFailures,
		rolloutUpdates:    rolloutUpdates,
		telemetryEvents:   telemetryEvents,
	}, nil
}

// CountDecision counts an eligibility answer, served tells whether a release was returned
func (m *UpdateMetrics) CountDecision(app, platform string, served bool) {
	result := "no_content"
	if served {
		result = "served"
	}
	m.decisions.Add(m.ctx, 1, metric.WithAttributes(
		attribute.String("app", app),
		attribute.String("platform", platform),
		attribute.String("result", result),
	))
}

// CountGuardrailBlock counts a release withheld because of its crash rate
func (m *UpdateMetrics) CountGuardrailBlock(app string, versionCode int64) {
	m.guardrailBlocks.Add(m.ctx, 1, metric.WithAttributes(
		attribute.String("app", app),
		attribute.Int64("version_code", versionCode),
	))
}

// CountGuardrailFailure counts a telemetry query failure that was treated as healthy
func (m *UpdateMetrics) CountGuardrailFailure() {
	m.guardrailFailures.Add(m.ctx, 1)
}

// CountRolloutUpdate counts a rollout change, applied is false when no release matched
func (m *UpdateMetrics) CountRolloutUpdate(applied bool) {
	m.rolloutUpdates.Add(m.ctx, 1, metric.WithAttributes(attribute.Bool("applied", applied)))
}

// CountTelemetryEvent counts an ingested device event
func (m *UpdateMetrics) CountTelemetryEvent(eventType string) {
	m.telemetryEvents.Add(m.ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}
