// Package guardrail withholds releases whose recent crash rate is too high from new devices.
package guardrail

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kivyx/ota/management/server/telemetry"
	"github.com/kivyx/ota/management/server/types"
	"github.com/kivyx/ota/shared/management/http/api"
	"github.com/kivyx/ota/shared/ota/protocol"
	"github.com/kivyx/ota/shared/ota/resolver"
)

const (
	DefaultCrashThresholdPct = 5
	DefaultLookback          = 30 * time.Minute
)

// EventCounter is the part of the store the evaluator reads
type EventCounter interface {
	CountEvents(ctx context.Context, key types.ReleaseKey, eventType string, since time.Time) (int64, int64, error)
}

// Evaluator computes the crash percentage of a release over a trailing window
type Evaluator struct {
	counter      EventCounter
	thresholdPct float64
	lookback     time.Duration
	metrics      telemetry.AppMetrics
	now          func() time.Time
}

// NewEvaluator creates an Evaluator. Non-positive threshold or lookback fall back to the defaults.
func NewEvaluator(counter EventCounter, thresholdPct float64, lookback time.Duration, metrics telemetry.AppMetrics) *Evaluator {
	if thresholdPct <= 0 {
		thresholdPct = DefaultCrashThresholdPct
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Evaluator{
		counter:      counter,
		thresholdPct: thresholdPct,
		lookback:     lookback,
		metrics:      metrics,
		now:          time.Now,
	}
}

// IsHealthy reports whether the crash rate of the release is below the threshold.
// A release without events is healthy and so is a release whose events cannot be counted.
func (e *Evaluator) IsHealthy(ctx context.Context, key types.ReleaseKey) bool {
	since := e.now().Add(-e.lookback)
	crashes, total, err := e.counter.CountEvents(ctx, key, api.EventTypeCrash, since)
	if err != nil {
		log.WithContext(ctx).Warnf("guardrail query for %s/%s/%s@%d failed, treating release as healthy: %v",
			key.App, key.Platform, key.Channel, key.VersionCode, err)
		if m := e.updateMetrics(); m != nil {
			m.CountGuardrailFailure()
		}
		return true
	}
	if total == 0 {
		return true
	}

	crashPct := float64(crashes) / float64(total) * 100
	if crashPct < e.thresholdPct {
		return true
	}

	log.WithContext(ctx).Infof("release %s/%s/%s@%d withheld: crash rate %.2f%% over the last %s is at or above %.2f%%",
		key.App, key.Platform, key.Channel, key.VersionCode, crashPct, e.lookback, e.thresholdPct)
	if m := e.updateMetrics(); m != nil {
		m.CountGuardrailBlock(key.App, key.VersionCode)
	}
	return false
}

// ForChannel binds the evaluator to one channel so the resolver can consult it per release
func (e *Evaluator) ForChannel(app, platform, channel string) resolver.Guardrail {
	return resolver.GuardrailFunc(func(ctx context.Context, release protocol.Release) bool {
		return e.IsHealthy(ctx, types.ReleaseKey{
			App:         app,
			Platform:    platform,
			Channel:     channel,
			VersionCode: release.VersionCode,
		})
	})
}

func (e *Evaluator) updateMetrics() *telemetry.UpdateMetrics {
	if e.metrics == nil {
		return nil
	}
	return e.metrics.UpdateMetrics()
}
