package server

import (
	"fmt"
	"os"
	"time"

	"github.com/kivyx/ota/management/server/guardrail"
	"github.com/kivyx/ota/management/server/store"
	"github.com/kivyx/ota/util"
)

// Config of the decision service
type Config struct {
	Datadir string

	StoreConfig StoreConfig

	Guardrail GuardrailConfig

	// CDNDir is a publish directory served under /cdn/. Empty disables the origin.
	CDNDir string

	HttpConfig *HttpServerConfig
}

// StoreConfig selects the store engine. DSNs of postgres and mysql come from the environment.
type StoreConfig struct {
	Engine store.Engine
}

// GuardrailConfig tunes the crash-rate evaluator
type GuardrailConfig struct {
	CrashThresholdPct float64
	LookbackMinutes   int
}

// Lookback returns the trailing window as a duration
func (g GuardrailConfig) Lookback() time.Duration {
	return time.Duration(g.LookbackMinutes) * time.Minute
}

// HttpServerConfig is a config of the HTTP server
type HttpServerConfig struct {
	Address string
}

// DefaultConfig returns the config used when no file is present
func DefaultConfig(datadir string) *Config {
	return &Config{
		Datadir:     datadir,
		StoreConfig: StoreConfig{Engine: store.SqliteStoreEngine},
		Guardrail: GuardrailConfig{
			CrashThresholdPct: guardrail.DefaultCrashThresholdPct,
			LookbackMinutes:   int(guardrail.DefaultLookback / time.Minute),
		},
		HttpConfig: &HttpServerConfig{},
	}
}

// LoadConfig reads the config file, substituting {{ .ENV_NAME }} templates with environment values.
// A missing file yields DefaultConfig.
func LoadConfig(path, datadir string) (*Config, error) {
	config := DefaultConfig(datadir)
	if path == "" {
		return config, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	if _, err := util.ReadJsonWithEnvSub(path, config); err != nil {
		return nil, fmt.Errorf("failed reading config file %s: %w", path, err)
	}
	if config.Datadir == "" {
		config.Datadir = datadir
	}
	if config.HttpConfig == nil {
		config.HttpConfig = &HttpServerConfig{}
	}
	return config, nil
}
