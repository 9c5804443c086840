// Package config holds the device side update configuration.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/kivyx/ota/client/internal/reporter"
	"github.com/kivyx/ota/client/internal/updatemanager"
	"github.com/kivyx/ota/shared/ota/protocol"
	"github.com/kivyx/ota/shared/ota/sign"
	"github.com/kivyx/ota/util"
)

// ConfigInput carries configuration changes to the client. Empty values leave the stored value untouched.
type ConfigInput struct {
	ConfigPath       string
	CDNBase          string
	ServerURL        string
	App              string
	Platform         string
	Channel          string
	BinaryVersion    string
	RuntimeVersion   string
	BuildToolVersion string
	Arch             string
	DataDir          string
	PendingTimeout   time.Duration
	PublicKeys       map[string]string
}

// Config of an update client
type Config struct {
	// CDNBase is the root under which <app>/<platform>/<channel>/index.json is published
	CDNBase string
	// ServerURL of the decision service, used for telemetry. Optional.
	ServerURL string

	App      string
	Platform string
	Channel  string

	BinaryVersion    string
	RuntimeVersion   string
	BuildToolVersion string
	Arch             string

	// DeviceID is generated on first use and never changes afterwards
	DeviceID string
	DataDir  string

	PendingTimeoutMs int64
	// PublicKeys maps key ids to a hex raw P-256 point or a PEM public key
	PublicKeys map[string]string
}

// ReadConfig reads an existing config file. Defaults filled in on read, the device id in particular,
// are written back so they stay stable across runs.
func ReadConfig(ctx context.Context, configPath string) (*Config, error) {
	config := &Config{}
	if _, err := util.ReadJson(configPath, config); err != nil {
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}
	updated, err := config.apply(ConfigInput{ConfigPath: configPath})
	if err != nil {
		return nil, err
	}
	if updated {
		if err := util.WriteJson(ctx, configPath, config); err != nil {
			return nil, fmt.Errorf("persist config %s: %w", configPath, err)
		}
	}
	return config, nil
}

// UpdateOrCreateConfig applies input to the stored config, creating it when missing, and writes it back when it changed
func UpdateOrCreateConfig(ctx context.Context, input ConfigInput) (*Config, error) {
	config := &Config{}
	if util.FileExists(input.ConfigPath) {
		if _, err := util.ReadJson(input.ConfigPath, config); err != nil {
			return nil, fmt.Errorf("read config %s: %w", input.ConfigPath, err)
		}
	} else {
		log.Infof("generating new config %s", input.ConfigPath)
	}

	updated, err := config.apply(input)
	if err != nil {
		return nil, err
	}
	if updated {
		if err := util.WriteJson(ctx, input.ConfigPath, config); err != nil {
			return nil, err
		}
	}
	return config, nil
}

func (config *Config) apply(input ConfigInput) (updated bool, err error) {
	set := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			updated = true
		}
	}

	set(&config.CDNBase, input.CDNBase)
	set(&config.ServerURL, input.ServerURL)
	set(&config.App, input.App)
	set(&config.Platform, input.Platform)
	set(&config.Channel, input.Channel)
	set(&config.BinaryVersion, input.BinaryVersion)
	set(&config.RuntimeVersion, input.RuntimeVersion)
	set(&config.BuildToolVersion, input.BuildToolVersion)
	set(&config.Arch, input.Arch)
	set(&config.DataDir, input.DataDir)

	if config.Channel == "" {
		config.Channel = protocol.DefaultChannel
		updated = true
	}
	if config.DataDir == "" && input.ConfigPath != "" {
		config.DataDir = filepath.Join(filepath.Dir(input.ConfigPath), "ota")
		updated = true
	}
	if config.DeviceID == "" {
		config.DeviceID = uuid.NewString()
		log.Infof("generated device id %s", config.DeviceID)
		updated = true
	}
	if input.PendingTimeout > 0 && input.PendingTimeout.Milliseconds() != config.PendingTimeoutMs {
		config.PendingTimeoutMs = input.PendingTimeout.Milliseconds()
		updated = true
	}
	for id, key := range input.PublicKeys {
		if config.PublicKeys == nil {
			config.PublicKeys = make(map[string]string)
		}
		if config.PublicKeys[id] != key {
			config.PublicKeys[id] = key
			updated = true
		}
	}

	if config.CDNBase != "" {
		if _, err := url.ParseRequestURI(config.CDNBase); err != nil {
			return false, fmt.Errorf("invalid cdn base %q: %w", config.CDNBase, err)
		}
	}
	return updated, nil
}

// Validate checks that the config carries everything an update check needs
func (config *Config) Validate() error {
	switch {
	case config.CDNBase == "":
		return errors.New("cdn base is not configured")
	case config.App == "" || config.Platform == "":
		return errors.New("app and platform are required")
	case config.BinaryVersion == "" && config.RuntimeVersion == "":
		return errors.New("either binary version or runtime version is required")
	case len(config.PublicKeys) == 0:
		return errors.New("no public keys configured")
	}
	return nil
}

// IndexURL returns the location of the signed channel index
func (config *Config) IndexURL() (string, error) {
	return url.JoinPath(config.CDNBase, config.App, config.Platform, config.Channel, "index.json")
}

// KeyRing parses the configured public keys
func (config *Config) KeyRing() (*sign.KeyRing, error) {
	return sign.NewKeyRing(config.PublicKeys)
}

// DeviceContext describes this device to the resolver
func (config *Config) DeviceContext() protocol.DeviceContext {
	return protocol.DeviceContext{
		DeviceID:         config.DeviceID,
		BinaryVersion:    config.BinaryVersion,
		RuntimeVersion:   config.RuntimeVersion,
		BuildToolVersion: config.BuildToolVersion,
		Arch:             config.Arch,
	}
}

// ReporterIdentity returns the identity telemetry events are sent with
func (config *Config) ReporterIdentity() reporter.Identity {
	return reporter.Identity{
		App:      config.App,
		Platform: config.Platform,
		Channel:  config.Channel,
		DeviceID: config.DeviceID,
	}
}

// ManagerConfig builds the update manager configuration
func (config *Config) ManagerConfig() (updatemanager.Config, error) {
	if err := config.Validate(); err != nil {
		return updatemanager.Config{}, err
	}
	indexURL, err := config.IndexURL()
	if err != nil {
		return updatemanager.Config{}, fmt.Errorf("build index url: %w", err)
	}
	keys, err := config.KeyRing()
	if err != nil {
		return updatemanager.Config{}, err
	}
	return updatemanager.Config{
		IndexURL:       indexURL,
		Keys:           keys,
		Device:         config.DeviceContext(),
		PendingTimeout: time.Duration(config.PendingTimeoutMs) * time.Millisecond,
	}, nil
}

// DefaultConfigPath returns the config location below the user config dir
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "kivyx-ota", "config.json")
}
