package mock_server

import (
	"context"

	"github.com/kivyx/ota/management/server"
	"github.com/kivyx/ota/management/server/types"
	"github.com/kivyx/ota/shared/management/status"
)

type MockUpdateManager struct {
	GetEligibleReleaseFunc   func(ctx context.Context, query server.EligibilityQuery) (*types.Release, error)
	SetRolloutFunc           func(ctx context.Context, key types.ReleaseKey, rollout float64) error
	RecordTelemetryEventFunc func(ctx context.Context, event *types.TelemetryEvent) error
	ListReleasesFunc         func(ctx context.Context, app, platform, channel string) ([]*types.Release, error)
	SaveReleaseFunc          func(ctx context.Context, release *types.Release) error
}

func (m *MockUpdateManager) GetEligibleRelease(ctx context.Context, query server.EligibilityQuery) (*types.Release, error) {
	if m.GetEligibleReleaseFunc != nil {
		return m.GetEligibleReleaseFunc(ctx, query)
	}
	return nil, status.Errorf(status.Internal, "method GetEligibleRelease is not implemented")
}

func (m *MockUpdateManager) SetRollout(ctx context.Context, key types.ReleaseKey, rollout float64) error {
	if m.SetRolloutFunc != nil {
		return m.SetRolloutFunc(ctx, key, rollout)
	}
	return status.Errorf(status.Internal, "method SetRollout is not implemented")
}

func (m *MockUpdateManager) RecordTelemetryEvent(ctx context.Context, event *types.TelemetryEvent) error {
	if m.RecordTelemetryEventFunc != nil {
		return m.RecordTelemetryEventFunc(ctx, event)
	}
	return status.Errorf(status.Internal, "method RecordTelemetryEvent is not implemented")
}

func (m *MockUpdateManager) ListReleases(ctx context.Context, app, platform, channel string) ([]*types.Release, error) {
	if m.ListReleasesFunc != nil {
		return m.ListReleasesFunc(ctx, app, platform, channel)
	}
	return nil, status.Errorf(status.Internal, "method ListReleases is not implemented")
}

func (m *MockUpdateManager) SaveRelease(ctx context.Context, release *types.Release) error {
	if m.SaveReleaseFunc != nil {
		return m.SaveReleaseFunc(ctx, release)
	}
	return status.Errorf(status.Internal, "method SaveRelease is not implemented")
}
