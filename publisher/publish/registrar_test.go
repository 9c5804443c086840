package publish

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kivyx/ota/shared/management/http/api"
	"github.com/kivyx/ota/shared/management/status"
)

func fastBackOff() backoff.BackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          1,
		MaxInterval:         time.Millisecond,
		MaxElapsedTime:      time.Second,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
}

func TestHTTPRegistrar_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	var got api.ReleaseRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/releases", r.URL.Path)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	reg := NewHTTPRegistrar(srv.URL+"/", srv.Client())
	reg.newBackOff = fastBackOff

	req := api.ReleaseRequest{App: "shop", Platform: "ios", Version: "1.0.1", VersionCode: 1, ManifestUrl: "https://cdn/m.json"}
	require.NoError(t, reg.Register(context.Background(), req))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, req, got)
}

func TestHTTPRegistrar_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"rollout must be within [0,100]","code":422}`))
	}))
	defer srv.Close()

	reg := NewHTTPRegistrar(srv.URL, srv.Client())
	reg.newBackOff = fastBackOff

	err := reg.Register(context.Background(), api.ReleaseRequest{App: "shop"})
	require.Error(t, err)
	assert.True(t, status.IsType(err, status.InvalidArgument))
	assert.Contains(t, err.Error(), "rollout must be within [0,100]")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPRegistrar_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	reg := NewHTTPRegistrar(srv.URL, srv.Client())
	reg.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 2)
	}

	err := reg.Register(context.Background(), api.ReleaseRequest{App: "shop"})
	require.Error(t, err)
	assert.True(t, status.IsType(err, status.Transport))
}
