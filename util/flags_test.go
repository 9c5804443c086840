package util

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetFlagsFromEnvVars(t *testing.T) {
	var logLevel, dataDir string
	cmd := &cobra.Command{Use: "test"}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "")
	cmd.Flags().StringVar(&dataDir, "data-dir", "/var/lib/ota", "")
	require.NoError(t, cmd.Flags().Set("data-dir", "/explicit"))

	t.Setenv("OTA_LOG_LEVEL", "debug")
	t.Setenv("OTA_DATA_DIR", "/from-env")

	SetFlagsFromEnvVars(cmd)

	assert.Equal(t, "debug", logLevel)
	assert.Equal(t, "/explicit", dataDir, "explicit flags win over the environment")
}

func TestFlagNameToUpper(t *testing.T) {
	assert.Equal(t, "PENDING_TIMEOUT", flagNameToUpper("pending-timeout"))
}
