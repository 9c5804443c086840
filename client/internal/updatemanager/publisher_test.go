package updatemanager

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kivyx/ota/publisher/objectstore"
	"github.com/kivyx/ota/publisher/publish"
	"github.com/kivyx/ota/shared/ota/protocol"
	"github.com/kivyx/ota/shared/ota/sign"
)

func storedBundle(t *testing.T, payload []byte, marker string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	modified := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, e := range []struct {
		name    string
		content []byte
	}{
		{"index.android.bundle", payload},
		{"version.txt", []byte(marker)},
	} {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: zip.Store, Modified: modified})
		require.NoError(t, err)
		_, err = w.Write(e.content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// TestCheckAndApply_PublishedReleases runs the device client against releases written by the publisher
func TestCheckAndApply_PublishedReleases(t *testing.T) {
	ctx := context.Background()
	storeDir := t.TempDir()
	store, err := objectstore.NewLocal(storeDir)
	require.NoError(t, err)

	var mu sync.Mutex
	hits := make(map[string]int)
	files := http.FileServer(http.Dir(storeDir))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		files.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	key, err := sign.GenerateKey()
	require.NoError(t, err)
	keys := &sign.KeyRing{}
	keys.Add("ota-prod", &key.PublicKey)
	p := publish.New(store, sign.NewECDSASigner("ota-prod", key), srv.URL)

	payload := make([]byte, 64<<10)
	_, _ = rand.New(rand.NewSource(7)).Read(payload)

	release := func(vc int64) {
		t.Helper()
		rel := publish.Release{
			App:           "kivyx",
			Platform:      "android",
			Version:       fmt.Sprintf("1.0.%d", vc),
			VersionCode:   vc,
			BinaryVersion: ">=1.0.0",
			Mandatory:     true,
		}
		_, err := p.Publish(ctx, rel, storedBundle(t, payload, fmt.Sprintf("v%d", vc)))
		require.NoError(t, err)
	}

	release(1)

	m, err := NewManager(t.TempDir(), Config{
		IndexURL: srv.URL + "/kivyx/android/Production/index.json",
		Keys:     keys,
		Device: protocol.DeviceContext{
			DeviceID:      "device-1",
			BinaryVersion: "1.2.0",
		},
	}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	res, err := m.CheckAndApply(ctx)
	require.NoError(t, err)
	require.Equal(t, ReasonUpdated, res.Reason)
	assert.Equal(t, int64(1), res.VersionCode)
	content, err := os.ReadFile(filepath.Join(res.Dir, "version.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(content))
	require.NoError(t, m.MarkHealthy(ctx))

	release(2)

	res, err = m.CheckAndApply(ctx)
	require.NoError(t, err)
	require.Equal(t, ReasonUpdated, res.Reason)
	assert.Equal(t, int64(2), res.VersionCode)
	content, err = os.ReadFile(filepath.Join(res.Dir, "version.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, hits["/kivyx/android/Production/1.0.2/delta-1.bin"], "the second release should arrive as a delta")
	assert.Zero(t, hits["/kivyx/android/Production/1.0.2/bundle.zip"])
	assert.Equal(t, int64(1), m.Status().LastGoodVersionCode)
}
