package server

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/kivyx/ota/management/server/guardrail"
	"github.com/kivyx/ota/management/server/store"
	"github.com/kivyx/ota/management/server/telemetry"
	"github.com/kivyx/ota/management/server/types"
	"github.com/kivyx/ota/shared/management/status"
	"github.com/kivyx/ota/shared/ota/protocol"
	"github.com/kivyx/ota/shared/ota/resolver"
)

const (
	// eligibilityCandidateLimit is how many of the newest releases are considered per request
	eligibilityCandidateLimit = 20
	// listReleasesLimit caps GET /v1/releases
	listReleasesLimit = 100
)

// UpdateManager answers device eligibility queries and keeps the release table and telemetry
type UpdateManager interface {
	GetEligibleRelease(ctx context.Context, query EligibilityQuery) (*types.Release, error)
	SetRollout(ctx context.Context, key types.ReleaseKey, rollout float64) error
	RecordTelemetryEvent(ctx context.Context, event *types.TelemetryEvent) error
	ListReleases(ctx context.Context, app, platform, channel string) ([]*types.Release, error)
	SaveRelease(ctx context.Context, release *types.Release) error
}

// EligibilityQuery is what a device sends when asking for an update
type EligibilityQuery struct {
	App                string
	Platform           string
	Channel            string
	CurrentVersionCode int64
	Device             protocol.DeviceContext
}

// DefaultUpdateManager resolves updates against the store on every request. It holds no per-request state.
type DefaultUpdateManager struct {
	store     store.Store
	guardrail *guardrail.Evaluator
	metrics   telemetry.AppMetrics
	now       func() time.Time
}

// NewUpdateManager creates a DefaultUpdateManager
func NewUpdateManager(s store.Store, evaluator *guardrail.Evaluator, metrics telemetry.AppMetrics) *DefaultUpdateManager {
	return &DefaultUpdateManager{
		store:     s,
		guardrail: evaluator,
		metrics:   metrics,
		now:       time.Now,
	}
}

func (m *DefaultUpdateManager) updateMetrics() *telemetry.UpdateMetrics {
	if m.metrics == nil {
		return nil
	}
	return m.metrics.UpdateMetrics()
}

func defaultChannel(channel string) string {
	if channel == "" {
		return protocol.DefaultChannel
	}
	return channel
}

// GetEligibleRelease returns the release the device should move to, or nil when there is none
func (m *DefaultUpdateManager) GetEligibleRelease(ctx context.Context, query EligibilityQuery) (*types.Release, error) {
	if query.App == "" || query.Platform == "" {
		return nil, status.Errorf(status.BadRequest, "app and platform are required")
	}
	if query.Device.BinaryVersion == "" && query.Device.RuntimeVersion == "" {
		return nil, status.Errorf(status.BadRequest, "binary_version or runtime_version is required")
	}
	query.Channel = defaultChannel(query.Channel)

	rows, err := m.store.GetReleases(ctx, query.App, query.Platform, query.Channel, eligibilityCandidateLimit)
	if err != nil {
		return nil, err
	}

	candidates := make([]protocol.Release, 0, len(rows))
	byVersion := make(map[int64]*types.Release, len(rows))
	for _, row := range rows {
		candidates = append(candidates, row.ToProtocol())
		byVersion[row.VersionCode] = row
	}

	var opts []resolver.Option
	if m.guardrail != nil {
		opts = append(opts, resolver.WithGuardrail(m.guardrail.ForChannel(query.App, query.Platform, query.Channel)))
	}

	selected, ok := resolver.New(opts...).Resolve(ctx, candidates, query.CurrentVersionCode, query.Device)
	if um := m.updateMetrics(); um != nil {
		um.CountDecision(query.App, query.Platform, ok)
	}
	if !ok {
		log.WithContext(ctx).Debugf("no eligible release for %s/%s/%s above %d", query.App, query.Platform, query.Channel, query.CurrentVersionCode)
		return nil, nil
	}

	return byVersion[selected.VersionCode], nil
}

// SetRollout changes the rollout percentage of a release. A missing release is a no-op.
func (m *DefaultUpdateManager) SetRollout(ctx context.Context, key types.ReleaseKey, rollout float64) error {
	if key.App == "" || key.Platform == "" || key.VersionCode <= 0 {
		return status.Errorf(status.BadRequest, "app, platform and version_code are required")
	}
	if rollout < 0 || rollout > protocol.MaxRollout {
		return status.Errorf(status.InvalidArgument, "rollout %v is outside [0,100]", rollout)
	}
	key.Channel = defaultChannel(key.Channel)

	found, err := m.store.UpdateRollout(ctx, key, rollout)
	if err != nil {
		return err
	}
	if um := m.updateMetrics(); um != nil {
		um.CountRolloutUpdate(found)
	}
	if !found {
		log.WithContext(ctx).Infof("rollout update for unknown release %s/%s/%s@%d ignored", key.App, key.Platform, key.Channel, key.VersionCode)
		return nil
	}

	log.WithContext(ctx).Infof("rollout of %s/%s/%s@%d set to %v", key.App, key.Platform, key.Channel, key.VersionCode, rollout)
	return nil
}

// RecordTelemetryEvent appends a device event. A zero timestamp means now.
func (m *DefaultUpdateManager) RecordTelemetryEvent(ctx context.Context, event *types.TelemetryEvent) error {
	if event.App == "" || event.Platform == "" || event.Channel == "" || event.VersionCode == 0 ||
		event.DeviceID == "" || event.EventType == "" {
		return status.Errorf(status.BadRequest, "app, platform, channel, version_code, device_id and event_type are required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now()
	}

	if err := m.store.SaveTelemetryEvent(ctx, event); err != nil {
		return err
	}
	if um := m.updateMetrics(); um != nil {
		um.CountTelemetryEvent(event.EventType)
	}
	return nil
}

// ListReleases returns up to 100 releases of a channel, newest first
func (m *DefaultUpdateManager) ListReleases(ctx context.Context, app, platform, channel string) ([]*types.Release, error) {
	if app == "" || platform == "" {
		return nil, status.Errorf(status.BadRequest, "app and platform are required")
	}
	return m.store.GetReleases(ctx, app, platform, defaultChannel(channel), listReleasesLimit)
}

// SaveRelease registers a release or replaces the one with the same version code
func (m *DefaultUpdateManager) SaveRelease(ctx context.Context, release *types.Release) error {
	if release.App == "" || release.Platform == "" {
		return status.Errorf(status.BadRequest, "app and platform are required")
	}
	release.Channel = defaultChannel(release.Channel)
	if err := release.ToProtocol().Validate(); err != nil {
		return status.Errorf(status.InvalidArgument, "invalid release: %w", err)
	}
	if release.BinaryVersion != "" {
		if _, err := protocol.ParseVersionRange(release.BinaryVersion); err != nil {
			return status.Errorf(status.InvalidArgument, "invalid binary_version range: %w", err)
		}
	}

	if err := m.store.SaveRelease(ctx, release); err != nil {
		return err
	}
	log.WithContext(ctx).Infof("registered release %s/%s/%s@%d (%s) rollout %v mandatory %t",
		release.App, release.Platform, release.Channel, release.VersionCode, release.Version, release.Rollout, release.Mandatory)
	return nil
}
