package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kivyx/ota/client/internal/config"
	"github.com/kivyx/ota/shared/ota/sign"
)

var (
	cdnBase          string
	serverURL        string
	appName          string
	platform         string
	channel          string
	binaryVersion    string
	runtimeVersion   string
	buildToolVersion string
	arch             string
	dataDir          string
	pendingTimeout   time.Duration
	publicKeys       []string
	publicKeyFiles   []string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "create or update the client config",
	Long:  "Creates the config file on first use, generating the device id, and applies the given flags to it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := trustedKeys(publicKeys, publicKeyFiles)
		if err != nil {
			return err
		}

		cfg, err := config.UpdateOrCreateConfig(cmd.Context(), config.ConfigInput{
			ConfigPath:       configPath,
			CDNBase:          cdnBase,
			ServerURL:        serverURL,
			App:              appName,
			Platform:         platform,
			Channel:          channel,
			BinaryVersion:    binaryVersion,
			RuntimeVersion:   runtimeVersion,
			BuildToolVersion: buildToolVersion,
			Arch:             arch,
			DataDir:          dataDir,
			PendingTimeout:   pendingTimeout,
			PublicKeys:       keys,
		})
		if err != nil {
			return err
		}

		cmd.Printf("config %s ready, device id %s\n", configPath, cfg.DeviceID)
		if err := cfg.Validate(); err != nil {
			cmd.Printf("config is not complete yet: %v\n", err)
		}
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&cdnBase, "cdn", "", "CDN base URL the channel indexes are published under")
	initCmd.Flags().StringVar(&serverURL, "server", "", "decision service URL telemetry is sent to")
	initCmd.Flags().StringVar(&appName, "app", "", "app name")
	initCmd.Flags().StringVar(&platform, "platform", "", "platform, e.g. android or ios")
	initCmd.Flags().StringVar(&channel, "channel", "", "release channel (default \"Production\")")
	initCmd.Flags().StringVar(&binaryVersion, "binary-version", "", "version of the installed host binary")
	initCmd.Flags().StringVar(&runtimeVersion, "runtime-version", "", "runtime compatibility tag, takes precedence over the binary version")
	initCmd.Flags().StringVar(&buildToolVersion, "build-tool-version", "", "build tool version used for targeting")
	initCmd.Flags().StringVar(&arch, "arch", "", "CPU architecture used for targeting")
	initCmd.Flags().StringVar(&dataDir, "datadir", "", "directory holding the update state and staged bundles")
	initCmd.Flags().DurationVar(&pendingTimeout, "pending-timeout", 0, "how long a staged bundle may stay unconfirmed before it is rolled back (default 10m)")
	initCmd.Flags().StringSliceVar(&publicKeys, "public-key", nil, "trusted key as id=hex-or-pem, can be repeated")
	initCmd.Flags().StringSliceVar(&publicKeyFiles, "public-key-file", nil, "trusted key as id=path of a PEM or hex key file, can be repeated")
}

// trustedKeys merges inline keys with keys read from files. File keys are stored as hex.
func trustedKeys(inline, files []string) (map[string]string, error) {
	keys := make(map[string]string, len(inline)+len(files))
	for _, entry := range inline {
		id, key, ok := strings.Cut(entry, "=")
		if !ok || id == "" || key == "" {
			return nil, errInvalidKeyFlag("--public-key", entry)
		}
		keys[id] = key
	}

	for _, entry := range files {
		id, path, ok := strings.Cut(entry, "=")
		if !ok || id == "" || path == "" {
			return nil, errInvalidKeyFlag("--public-key-file", entry)
		}
		pub, err := sign.LoadPublicKeyFile(path)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", id, err)
		}
		encoded, err := sign.RawPublicKeyHex(pub)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", id, err)
		}
		keys[id] = encoded
	}
	return keys, nil
}

func errInvalidKeyFlag(flag, entry string) error {
	return fmt.Errorf("invalid %s %q, expected id=value", flag, entry)
}
