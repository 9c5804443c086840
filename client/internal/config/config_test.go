package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kivyx/ota/shared/ota/sign"
)

func testKeyHex(t *testing.T) string {
	t.Helper()
	key, err := sign.GenerateKey()
	require.NoError(t, err)
	raw, err := sign.RawPublicKeyHex(&key.PublicKey)
	require.NoError(t, err)
	return raw
}

func TestUpdateOrCreateConfig(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "config.json")
	keyHex := testKeyHex(t)

	cfg, err := UpdateOrCreateConfig(ctx, ConfigInput{
		ConfigPath:     path,
		CDNBase:        "https://cdn.example.com/ota",
		App:            "kivyx",
		Platform:       "android",
		BinaryVersion:  "1.4.0",
		PendingTimeout: 5 * time.Minute,
		PublicKeys:     map[string]string{"k1": keyHex},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.DeviceID)
	assert.Equal(t, "Production", cfg.Channel)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "ota"), cfg.DataDir)
	assert.Equal(t, int64(300000), cfg.PendingTimeoutMs)

	read, err := ReadConfig(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, cfg.DeviceID, read.DeviceID, "device id must be stable")

	updated, err := UpdateOrCreateConfig(ctx, ConfigInput{ConfigPath: path, Channel: "Beta"})
	require.NoError(t, err)
	assert.Equal(t, "Beta", updated.Channel)
	assert.Equal(t, cfg.DeviceID, updated.DeviceID)
	assert.Equal(t, "kivyx", updated.App)

	indexURL, err := updated.IndexURL()
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/ota/kivyx/android/Beta/index.json", indexURL)

	mc, err := updated.ManagerConfig()
	require.NoError(t, err)
	assert.Equal(t, indexURL, mc.IndexURL)
	assert.Equal(t, []string{"k1"}, mc.Keys.IDs())
	assert.Equal(t, 5*time.Minute, mc.PendingTimeout)
	assert.Equal(t, cfg.DeviceID, mc.Device.DeviceID)
	assert.Equal(t, "1.4.0", mc.Device.BinaryVersion)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Validate())

	cfg = &Config{CDNBase: "https://cdn", App: "a", Platform: "ios", PublicKeys: map[string]string{"k": "x"}}
	assert.Error(t, cfg.Validate(), "a compatibility tag is required")

	cfg.RuntimeVersion = "rt-1"
	assert.NoError(t, cfg.Validate())

	_, err := cfg.ManagerConfig()
	assert.Error(t, err, "key material is parsed")
}

func TestInvalidCDNBase(t *testing.T) {
	_, err := UpdateOrCreateConfig(context.Background(), ConfigInput{
		ConfigPath: filepath.Join(t.TempDir(), "config.json"),
		CDNBase:    "not a url",
	})
	assert.Error(t, err)
}

func TestReadConfig_PersistsGeneratedDeviceID(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "config.json")
	provisioned := `{"CDNBase": "https://cdn.example.com/ota", "App": "kivyx", "Platform": "ios", "BinaryVersion": "2.0.0"}`
	require.NoError(t, os.WriteFile(path, []byte(provisioned), 0o600))

	first, err := ReadConfig(ctx, path)
	require.NoError(t, err)
	require.NotEmpty(t, first.DeviceID)

	second, err := ReadConfig(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, first.DeviceID, second.DeviceID, "device id must survive a re-read")

	stored, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(stored), first.DeviceID)
	assert.Equal(t, "Production", second.Channel)
}
