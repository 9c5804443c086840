package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kivyx/ota/management/server/store"
)

const exampleConfig = `{
	"Datadir": "{{ .OTA_TEST_DATADIR }}",
	"StoreConfig": {"Engine": "sqlite"},
	"Guardrail": {"CrashThresholdPct": 2.5, "LookbackMinutes": 60},
	"CDNDir": "/srv/cdn",
	"HttpConfig": {"Address": ":9443"}
}`

func Test_loadMgmtConfig(t *testing.T) {
	t.Setenv("OTA_TEST_DATADIR", "/var/lib/ota-test")
	path := filepath.Join(t.TempDir(), "server.json")
	require.NoError(t, os.WriteFile(path, []byte(exampleConfig), 0o600))

	cfg, err := loadMgmtConfig(context.Background(), path, mgmtCmd.Flags())
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/ota-test", cfg.Datadir)
	assert.Equal(t, store.SqliteStoreEngine, cfg.StoreConfig.Engine)
	assert.Equal(t, 2.5, cfg.Guardrail.CrashThresholdPct)
	assert.Equal(t, 60, cfg.Guardrail.LookbackMinutes)
	assert.Equal(t, "/srv/cdn", cfg.CDNDir)
	assert.Equal(t, ":9443", cfg.HttpConfig.Address)
}

func Test_loadMgmtConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadMgmtConfig(context.Background(), filepath.Join(t.TempDir(), "absent.json"), mgmtCmd.Flags())
	require.NoError(t, err)

	assert.Equal(t, mgmtDataDir, cfg.Datadir)
	assert.Equal(t, float64(5), cfg.Guardrail.CrashThresholdPct)
	assert.Equal(t, 30, cfg.Guardrail.LookbackMinutes)
	assert.Equal(t, ":8080", cfg.HttpConfig.Address)
}

func Test_loadMgmtConfigFlagsTakePrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"CDNDir": "/from/file", "Guardrail": {"CrashThresholdPct": 9}}`), 0o600))

	require.NoError(t, mgmtCmd.Flags().Set("cdn-dir", "/from/flag"))
	require.NoError(t, mgmtCmd.Flags().Set("guardrail-crash-pct", "1.5"))
	t.Cleanup(func() {
		for _, name := range []string{"cdn-dir", "guardrail-crash-pct"} {
			f := mgmtCmd.Flags().Lookup(name)
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})

	cfg, err := loadMgmtConfig(context.Background(), path, mgmtCmd.Flags())
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.CDNDir)
	assert.Equal(t, 1.5, cfg.Guardrail.CrashThresholdPct)
	assert.Equal(t, 30, cfg.Guardrail.LookbackMinutes, "unset fields keep their defaults")
}
