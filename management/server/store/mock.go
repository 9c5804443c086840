package store

import (
	"context"
	"time"

	"github.com/kivyx/ota/management/server/types"
	"github.com/kivyx/ota/shared/management/status"
)

// MockStore mocks the Store interface
type MockStore struct {
	GetReleasesFunc        func(ctx context.Context, app, platform, channel string, limit int) ([]*types.Release, error)
	GetReleaseFunc         func(ctx context.Context, key types.ReleaseKey) (*types.Release, error)
	SaveReleaseFunc        func(ctx context.Context, release *types.Release) error
	UpdateRolloutFunc      func(ctx context.Context, key types.ReleaseKey, rollout float64) (bool, error)
	SaveTelemetryEventFunc func(ctx context.Context, event *types.TelemetryEvent) error
	CountEventsFunc        func(ctx context.Context, key types.ReleaseKey, eventType string, since time.Time) (int64, int64, error)
}

// GetReleases mocks GetReleases of the Store interface
func (m *MockStore) GetReleases(ctx context.Context, app, platform, channel string, limit int) ([]*types.Release, error) {
	if m.GetReleasesFunc != nil {
		return m.GetReleasesFunc(ctx, app, platform, channel, limit)
	}
	return nil, status.Errorf(status.Internal, "GetReleases is not implemented")
}

// GetRelease mocks GetRelease of the Store interface
func (m *MockStore) GetRelease(ctx context.Context, key types.ReleaseKey) (*types.Release, error) {
	if m.GetReleaseFunc != nil {
		return m.GetReleaseFunc(ctx, key)
	}
	return nil, status.Errorf(status.Internal, "GetRelease is not implemented")
}

// SaveRelease mocks SaveRelease of the Store interface
func (m *MockStore) SaveRelease(ctx context.Context, release *types.Release) error {
	if m.SaveReleaseFunc != nil {
		return m.SaveReleaseFunc(ctx, release)
	}
	return status.Errorf(status.Internal, "SaveRelease is not implemented")
}

// UpdateRollout mocks UpdateRollout of the Store interface
func (m *MockStore) UpdateRollout(ctx context.Context, key types.ReleaseKey, rollout float64) (bool, error) {
	if m.UpdateRolloutFunc != nil {
		return m.UpdateRolloutFunc(ctx, key, rollout)
	}
	return false, status.Errorf(status.Internal, "UpdateRollout is not implemented")
}

// SaveTelemetryEvent mocks SaveTelemetryEvent of the Store interface
func (m *MockStore) SaveTelemetryEvent(ctx context.Context, event *types.TelemetryEvent) error {
	if m.SaveTelemetryEventFunc != nil {
		return m.SaveTelemetryEventFunc(ctx, event)
	}
	return status.Errorf(status.Internal, "SaveTelemetryEvent is not implemented")
}

// CountEvents mocks CountEvents of the Store interface
func (m *MockStore) CountEvents(ctx context.Context, key types.ReleaseKey, eventType string, since time.Time) (int64, int64, error) {
	if m.CountEventsFunc != nil {
		return m.CountEventsFunc(ctx, key, eventType, since)
	}
	return 0, 0, status.Errorf(status.Internal, "CountEvents is not implemented")
}

// Close does nothing
func (m *MockStore) Close(_ context.Context) error {
	return nil
}
