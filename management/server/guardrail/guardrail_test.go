package guardrail

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kivyx/ota/management/server/store"
	"github.com/kivyx/ota/management/server/types"
	"github.com/kivyx/ota/shared/ota/protocol"
	"github.com/kivyx/ota/shared/ota/resolver"
)

func counterReturning(crashes, total int64, err error) *store.MockStore {
	return &store.MockStore{
		CountEventsFunc: func(_ context.Context, _ types.ReleaseKey, _ string, _ time.Time) (int64, int64, error) {
			return crashes, total, err
		},
	}
}

func TestEvaluator_IsHealthy(t *testing.T) {
	key := types.ReleaseKey{App: "kivyx", Platform: "android", Channel: "Production", VersionCode: 10}

	tt := []struct {
		name     string
		crashes  int64
		total    int64
		err      error
		expected bool
	}{
		{name: "no events", crashes: 0, total: 0, expected: true},
		{name: "below threshold", crashes: 4, total: 100, expected: true},
		{name: "at threshold", crashes: 5, total: 100, expected: false},
		{name: "above threshold", crashes: 10, total: 100, expected: false},
		{name: "only crashes", crashes: 3, total: 3, expected: false},
		{name: "query failure fails open", err: errors.New("db down"), expected: true},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			e := NewEvaluator(counterReturning(tc.crashes, tc.total, tc.err), 0, 0, nil)
			assert.Equal(t, tc.expected, e.IsHealthy(context.Background(), key))
		})
	}
}

func TestEvaluator_QueriesTrailingWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var gotSince time.Time
	var gotType string
	var gotKey types.ReleaseKey

	counter := &store.MockStore{
		CountEventsFunc: func(_ context.Context, key types.ReleaseKey, eventType string, since time.Time) (int64, int64, error) {
			gotKey, gotType, gotSince = key, eventType, since
			return 0, 0, nil
		},
	}
	e := NewEvaluator(counter, 5, 15*time.Minute, nil)
	e.now = func() time.Time { return now }

	g := e.ForChannel("kivyx", "ios", "Beta")
	assert.True(t, g.IsHealthy(context.Background(), protocol.Release{VersionCode: 7}))

	assert.Equal(t, "crash", gotType)
	assert.Equal(t, now.Add(-15*time.Minute), gotSince)
	assert.Equal(t, types.ReleaseKey{App: "kivyx", Platform: "ios", Channel: "Beta", VersionCode: 7}, gotKey)
}

func TestEvaluator_ResolverNeverSelectsUnhealthyRelease(t *testing.T) {
	counter := &store.MockStore{
		CountEventsFunc: func(_ context.Context, key types.ReleaseKey, _ string, _ time.Time) (int64, int64, error) {
			if key.VersionCode == 10 {
				return 10, 100, nil
			}
			return 0, 50, nil
		},
	}
	e := NewEvaluator(counter, DefaultCrashThresholdPct, DefaultLookback, nil)
	r := resolver.New(resolver.WithGuardrail(e.ForChannel("kivyx", "android", "Production")))

	releases := []protocol.Release{
		{VersionCode: 10, BinaryVersion: ">=1.0.0", Rollout: 100, Mandatory: true},
		{VersionCode: 9, BinaryVersion: ">=1.0.0", Rollout: 100},
	}

	for _, deviceID := range []string{"a", "b", "c", "d", "e", "f"} {
		selected, ok := r.Resolve(context.Background(), releases, 8, protocol.DeviceContext{DeviceID: deviceID, BinaryVersion: "1.2.0"})
		require.True(t, ok)
		assert.Equal(t, int64(9), selected.VersionCode)
	}

	_, ok := r.Resolve(context.Background(), releases, 9, protocol.DeviceContext{DeviceID: "a", BinaryVersion: "1.2.0"})
	assert.False(t, ok)
}
