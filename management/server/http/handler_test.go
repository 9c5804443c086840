package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/kivyx/ota/management/server"
	"github.com/kivyx/ota/management/server/mock_server"
	"github.com/kivyx/ota/management/server/telemetry"
	"github.com/kivyx/ota/management/server/types"
	"github.com/kivyx/ota/shared/management/http/api"
	"github.com/kivyx/ota/shared/management/status"
	"github.com/kivyx/ota/shared/ota/protocol"
)

func newTestAPI(t *testing.T, manager server.UpdateManager, cdnDir string) http.Handler {
	t.Helper()
	middleware, err := telemetry.NewMetricsMiddleware(context.Background(), noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	metrics := &telemetry.MockAppMetrics{
		HTTPMiddlewareFunc: func() *telemetry.HTTPMiddleware { return middleware },
	}
	handler, err := APIHandler(manager, metrics, cdnDir)
	require.NoError(t, err)
	return handler
}

func doRequest(t *testing.T, handler http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestUpdatesHandler_GetUpdate(t *testing.T) {
	var gotQuery server.EligibilityQuery
	manager := &mock_server.MockUpdateManager{
		GetEligibleReleaseFunc: func(_ context.Context, query server.EligibilityQuery) (*types.Release, error) {
			gotQuery = query
			if query.App == "" || query.Platform == "" {
				return nil, status.Errorf(status.BadRequest, "app and platform are required")
			}
			if query.CurrentVersionCode >= 9 {
				return nil, nil
			}
			return &types.Release{VersionCode: 9, ManifestURL: "https://cdn/kivyx/android/Production/9/manifest.json"}, nil
		},
	}
	handler := newTestAPI(t, manager, "")

	t.Run("release available", func(t *testing.T) {
		rec := doRequest(t, handler, http.MethodGet,
			"/v1/update?app=kivyx&platform=android&binary_version=1.2.0&current_version_code=8&device_id=d1&rn=0.74.1&arch=arm64", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp api.EligibilityResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(9), resp.VersionCode)
		assert.Equal(t, "https://cdn/kivyx/android/Production/9/manifest.json", resp.ManifestUrl)

		assert.Equal(t, int64(8), gotQuery.CurrentVersionCode)
		assert.Equal(t, protocol.DeviceContext{DeviceID: "d1", BinaryVersion: "1.2.0", BuildToolVersion: "0.74.1", Arch: "arm64"}, gotQuery.Device)
		assert.NotEmpty(t, rec.Header().Get(telemetry.RequestIDHeader))
	})

	t.Run("no content", func(t *testing.T) {
		rec := doRequest(t, handler, http.MethodGet, "/v1/update?app=kivyx&platform=android&runtime_version=r1&current_version_code=9", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.Bytes())
	})

	t.Run("missing params", func(t *testing.T) {
		rec := doRequest(t, handler, http.MethodGet, "/v1/update?platform=android", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed version code", func(t *testing.T) {
		rec := doRequest(t, handler, http.MethodGet, "/v1/update?app=kivyx&platform=android&binary_version=1.0.0&current_version_code=abc", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUpdatesHandler_SetRollout(t *testing.T) {
	var gotKey types.ReleaseKey
	var gotRollout float64
	manager := &mock_server.MockUpdateManager{
		SetRolloutFunc: func(_ context.Context, key types.ReleaseKey, rollout float64) error {
			if rollout > 100 {
				return status.Errorf(status.InvalidArgument, "rollout %v is outside [0,100]", rollout)
			}
			gotKey, gotRollout = key, rollout
			return nil
		},
	}
	handler := newTestAPI(t, manager, "")

	rollout := 25.0
	rec := doRequest(t, handler, http.MethodPost, "/v1/rollout", &api.RolloutRequest{
		App: "kivyx", Platform: "android", VersionCode: 9, Rollout: &rollout,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, types.ReleaseKey{App: "kivyx", Platform: "android", VersionCode: 9}, gotKey)
	assert.Equal(t, 25.0, gotRollout)

	tooHigh := 250.0
	rec = doRequest(t, handler, http.MethodPost, "/v1/rollout", &api.RolloutRequest{
		App: "kivyx", Platform: "android", VersionCode: 9, Rollout: &tooHigh,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doRequest(t, handler, http.MethodPost, "/v1/rollout", &api.RolloutRequest{App: "kivyx", Platform: "android", VersionCode: 9})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "rollout is required")

	req := httptest.NewRequest(http.MethodPost, "/v1/rollout", bytes.NewBufferString("{not json"))
	raw := httptest.NewRecorder()
	handler.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestTelemetryHandler_RecordEvent(t *testing.T) {
	var saved *types.TelemetryEvent
	manager := &mock_server.MockUpdateManager{
		RecordTelemetryEventFunc: func(_ context.Context, event *types.TelemetryEvent) error {
			if event.DeviceID == "" {
				return status.Errorf(status.BadRequest, "device_id is required")
			}
			saved = event
			return nil
		},
	}
	handler := newTestAPI(t, manager, "")

	ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	rec := doRequest(t, handler, http.MethodPost, "/v1/telemetry", &api.TelemetryEventRequest{
		App: "kivyx", Platform: "android", Channel: "Production", VersionCode: 10,
		DeviceId: "d1", EventType: api.EventTypeCrash, Timestamp: &ts,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	require.NotNil(t, saved)
	assert.Equal(t, "d1", saved.DeviceID)
	assert.Equal(t, "crash", saved.EventType)
	assert.True(t, ts.Equal(saved.Timestamp))

	rec = doRequest(t, handler, http.MethodPost, "/v1/telemetry", &api.TelemetryEventRequest{
		App: "kivyx", Platform: "android", Channel: "Production", VersionCode: 10, EventType: "crash",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReleasesHandler(t *testing.T) {
	stored := map[int64]*types.Release{}
	manager := &mock_server.MockUpdateManager{
		SaveReleaseFunc: func(_ context.Context, release *types.Release) error {
			stored[release.VersionCode] = release
			return nil
		},
		ListReleasesFunc: func(_ context.Context, app, platform, channel string) ([]*types.Release, error) {
			if app == "" {
				return nil, status.Errorf(status.BadRequest, "app and platform are required")
			}
			return []*types.Release{stored[11], stored[10]}, nil
		},
	}
	handler := newTestAPI(t, manager, "")

	for _, vc := range []int64{10, 11} {
		rec := doRequest(t, handler, http.MethodPost, "/v1/releases", &api.ReleaseRequest{
			App: "kivyx", Platform: "android", Version: "1.0.0", VersionCode: vc,
			BinaryVersion: ">=1.0.0", Rollout: 50, ManifestUrl: "https://cdn/m.json",
			Targeting: &api.Targeting{Rn: ">=0.72.0", Arch: []string{"arm64"}},
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.Contains(t, stored, int64(10))
	assert.Equal(t, protocol.DefaultChannel, stored[10].Channel)
	require.NotNil(t, stored[10].Targeting)
	assert.Equal(t, ">=0.72.0", stored[10].Targeting.BuildTool)

	rec := doRequest(t, handler, http.MethodGet, "/v1/releases?app=kivyx&platform=android", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list api.ReleaseList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 2)
	assert.Equal(t, int64(11), list.Items[0].VersionCode)
	assert.Equal(t, []string{"arm64"}, list.Items[0].Targeting.Arch)

	rec = doRequest(t, handler, http.MethodGet, "/v1/releases?platform=android", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCDNOrigin(t *testing.T) {
	dir := t.TempDir()
	indexDir := filepath.Join(dir, "kivyx", "android", "Production")
	require.NoError(t, os.MkdirAll(indexDir, 0o755))
	content := []byte(`{"schema":"kivyx.channel.v1"}`)
	require.NoError(t, os.WriteFile(filepath.Join(indexDir, "index.json"), content, 0o644))

	handler := newTestAPI(t, &mock_server.MockUpdateManager{}, dir)

	rec := doRequest(t, handler, http.MethodGet, "/cdn/kivyx/android/Production/index.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.Bytes())
	etag := rec.Header().Get("ETag")
	assert.Equal(t, `"`+protocol.Digest(content)+`"`, etag)

	req := httptest.NewRequest(http.MethodGet, "/cdn/kivyx/android/Production/index.json", nil)
	req.Header.Set("If-None-Match", etag)
	notModified := httptest.NewRecorder()
	handler.ServeHTTP(notModified, req)
	assert.Equal(t, http.StatusNotModified, notModified.Code)

	rec = doRequest(t, handler, http.MethodGet, "/cdn/kivyx/android/Production/missing.json", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/cdn/kivyx/android", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "directories are not listed")

	rec = doRequest(t, handler, http.MethodGet, "/cdn/../../etc/passwd", nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}
