package cmd

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kivyx/ota/shared/ota/protocol"
	"github.com/kivyx/ota/shared/ota/sign"
)

func writeBundle(t *testing.T, file string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("index.android.bundle")
	require.NoError(t, err)
	_, err = w.Write([]byte("console.log('hello')"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(file, buf.Bytes(), 0600))
}

func TestKeygenAndPublish(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "signing.pem")
	bundleFile := filepath.Join(dir, "bundle.zip")
	storePath := filepath.Join(dir, "cdn")
	writeBundle(t, bundleFile)

	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		storeDir = ""
	})

	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetArgs([]string{"keygen", "--out", keyFile})
	require.NoError(t, rootCmd.Execute())

	ring, err := sign.NewKeyRing(map[string]string{"ota-test": strings.TrimSpace(out.String())})
	require.NoError(t, err)

	rootCmd.SetArgs([]string{"keygen", "--out", keyFile})
	assert.Error(t, rootCmd.Execute(), "keygen must not overwrite an existing key")

	out.Reset()
	rootCmd.SetArgs([]string{
		"publish",
		"--app", "shop",
		"--platform", "android",
		"--version", "2.0.0",
		"--version-code", "200",
		"--binary-version", ">=1.0.0",
		"--rollout", "25",
		"--bundle", bundleFile,
		"--cdn-base", "http://localhost:8080/cdn",
		"--key-id", "ota-test",
		"--key", keyFile,
		"--store-dir", storePath,
	})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "http://localhost:8080/cdn/shop/android/Production/2.0.0/manifest.json")

	body, err := os.ReadFile(filepath.Join(storePath, "shop", "android", "Production", "index.json"))
	require.NoError(t, err)
	keyID, err := sign.VerifyDocument(body, ring)
	require.NoError(t, err)
	assert.Equal(t, "ota-test", keyID)

	idx, err := protocol.DecodeIndex(body)
	require.NoError(t, err)
	require.Len(t, idx.Releases, 1)
	assert.Equal(t, int64(200), idx.Releases[0].VersionCode)
	assert.Equal(t, float64(25), idx.Releases[0].Rollout)
}

func TestNewObjectStore(t *testing.T) {
	t.Cleanup(func() {
		storeDir = ""
		s3Cfg.Bucket = ""
	})

	storeDir, s3Cfg.Bucket = "", ""
	_, err := newObjectStore(context.Background())
	assert.Error(t, err)

	storeDir, s3Cfg.Bucket = t.TempDir(), "releases"
	_, err = newObjectStore(context.Background())
	assert.Error(t, err)

	s3Cfg.Bucket = ""
	store, err := newObjectStore(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, store)
}
