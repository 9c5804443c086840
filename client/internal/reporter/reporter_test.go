package reporter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kivyx/ota/shared/management/http/api"
	"github.com/kivyx/ota/shared/management/status"
)

func TestReport(t *testing.T) {
	var got api.TelemetryEventRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/telemetry", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	r := New(srv.URL+"/", Identity{App: "kivyx", Platform: "ios", Channel: "Beta", DeviceID: "dev-1"}, srv.Client())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	require.NoError(t, r.Report(context.Background(), api.EventTypeRollback, 6))

	assert.Equal(t, "kivyx", got.App)
	assert.Equal(t, "ios", got.Platform)
	assert.Equal(t, "Beta", got.Channel)
	assert.Equal(t, int64(6), got.VersionCode)
	assert.Equal(t, "dev-1", got.DeviceId)
	assert.Equal(t, api.EventTypeRollback, got.EventType)
	require.NotNil(t, got.Timestamp)
	assert.True(t, fixed.Equal(*got.Timestamp))
}

func TestReportRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := New(srv.URL, Identity{}, srv.Client()).Report(context.Background(), api.EventTypeCrash, 1)
	assert.True(t, status.IsType(err, status.Transport))
}
