package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kivyx/ota/shared/management/status"
)

func TestFetchConditional(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "no-cache", r.Header.Get("Cache-Control"))
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "kivyx-ota-client/"))
		switch r.URL.Path {
		case "/doc":
			if r.Header.Get("If-None-Match") == `"v1"` {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("ETag", `"v1"`)
			_, _ = w.Write([]byte("hello"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := New(srv.Client())
	ctx := context.Background()

	resp, err := d.FetchConditional(ctx, srv.URL+"/doc", "", 1024)
	require.NoError(t, err)
	assert.False(t, resp.NotModified)
	assert.Equal(t, []byte("hello"), resp.Body)
	assert.Equal(t, `"v1"`, resp.ETag)

	resp, err = d.FetchConditional(ctx, srv.URL+"/doc", `"v1"`, 1024)
	require.NoError(t, err)
	assert.True(t, resp.NotModified)
	assert.Empty(t, resp.Body)
	assert.Equal(t, `"v1"`, resp.ETag)

	_, err = d.FetchConditional(ctx, srv.URL+"/missing", "", 1024)
	assert.True(t, status.IsType(err, status.Transport))

	_, err = d.FetchConditional(ctx, srv.URL+"/doc", "", 3)
	assert.True(t, status.IsType(err, status.Integrity))
}

func TestFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(nil).Fetch(context.Background(), url+"/doc", 1024)
	assert.True(t, status.IsType(err, status.Transport))
}
