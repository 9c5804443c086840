package updatemanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kivyx/ota/util"
)

const (
	stateFileName    = "state.json"
	healthMarkerName = "_healthy"
	artifactsDir     = "artifacts"
	manifestsDir     = "manifests"

	// DefaultPendingTimeout is how long a staged version may run unconfirmed before it is rolled back
	DefaultPendingTimeout = 600000 * time.Millisecond
)

// State is the persisted update state of the device. It is read and written as a whole.
type State struct {
	CurrentVersionCode  int64            `json:"currentVersionCode"`
	LastGoodVersionCode int64            `json:"lastGoodVersionCode"`
	PendingVersionCode  int64            `json:"pendingVersionCode,omitempty"`
	AppliedAt           time.Time        `json:"appliedAt"`
	PendingTimeoutMs    int64            `json:"pendingTimeoutMs,omitempty"`
	IndexETag           string           `json:"etagIndex,omitempty"`
	ManifestETags       map[int64]string `json:"etagManifest,omitempty"`
	FailedVersionCodes  []int64          `json:"failedVersionCodes,omitempty"`
}

// IsPending reports whether the current version still waits for its health confirmation
func (s *State) IsPending() bool {
	return s.PendingVersionCode != 0 && s.PendingVersionCode == s.CurrentVersionCode
}

// PendingTimeout returns the confirmation window, falling back to DefaultPendingTimeout
func (s *State) PendingTimeout() time.Duration {
	if s.PendingTimeoutMs <= 0 {
		return DefaultPendingTimeout
	}
	return time.Duration(s.PendingTimeoutMs) * time.Millisecond
}

func (s *State) markFailed(versionCode int64) {
	for _, vc := range s.FailedVersionCodes {
		if vc == versionCode {
			return
		}
	}
	s.FailedVersionCodes = append(s.FailedVersionCodes, versionCode)
}

// Storage is the on-disk layout of the update data directory:
//
//	state.json
//	<version_code>/           extracted bundle, plus _healthy once confirmed
//	artifacts/<vc>.zip        verified artifact, base for later deltas
//	manifests/<vc>.json       verified manifest body served from cache on 304
type Storage struct {
	dir string
}

// NewStorage creates the data directory if it does not exist
func NewStorage(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Storage{dir: dir}, nil
}

// Dir returns the data directory
func (s *Storage) Dir() string {
	return s.dir
}

// LoadState reads the state document. A missing or unreadable document yields a fresh state at version 0.
func (s *Storage) LoadState() *State {
	st := &State{}
	if _, err := util.ReadJson(s.statePath(), st); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warnf("discarding unreadable update state: %v", err)
		}
		return &State{}
	}
	if st.CurrentVersionCode < 0 || st.LastGoodVersionCode < 0 {
		log.Warnf("discarding update state with negative version codes")
		return &State{}
	}
	return st
}

// SaveState replaces the state document atomically
func (s *Storage) SaveState(ctx context.Context, st *State) error {
	return util.WriteJson(ctx, s.statePath(), st)
}

// VersionDir returns the directory a version is staged into
func (s *Storage) VersionDir(versionCode int64) string {
	return filepath.Join(s.dir, strconv.FormatInt(versionCode, 10))
}

// HealthMarker returns the liveness marker path of a version
func (s *Storage) HealthMarker(versionCode int64) string {
	return filepath.Join(s.VersionDir(versionCode), healthMarkerName)
}

// IsHealthy reports whether the liveness marker of a version exists
func (s *Storage) IsHealthy(versionCode int64) bool {
	return util.FileExists(s.HealthMarker(versionCode))
}

// WriteHealthMarker creates the liveness marker of a staged version
func (s *Storage) WriteHealthMarker(ctx context.Context, versionCode int64) error {
	if !util.FileExists(s.VersionDir(versionCode)) {
		return fmt.Errorf("version %d is not staged", versionCode)
	}
	return util.WriteBytes(ctx, s.HealthMarker(versionCode), []byte("ok"))
}

// ReadArtifact returns the cached artifact of a version
func (s *Storage) ReadArtifact(versionCode int64) ([]byte, error) {
	return os.ReadFile(s.artifactPath(versionCode))
}

// WriteArtifact caches a verified artifact
func (s *Storage) WriteArtifact(ctx context.Context, versionCode int64, content []byte) error {
	return util.WriteBytes(ctx, s.artifactPath(versionCode), content)
}

// ReadManifest returns the cached manifest body of a version
func (s *Storage) ReadManifest(versionCode int64) ([]byte, error) {
	return os.ReadFile(s.manifestPath(versionCode))
}

// WriteManifest caches a verified manifest body
func (s *Storage) WriteManifest(ctx context.Context, versionCode int64, body []byte) error {
	return util.WriteBytes(ctx, s.manifestPath(versionCode), body)
}

func (s *Storage) statePath() string {
	return filepath.Join(s.dir, stateFileName)
}

func (s *Storage) artifactPath(versionCode int64) string {
	return filepath.Join(s.dir, artifactsDir, strconv.FormatInt(versionCode, 10)+".zip")
}

func (s *Storage) manifestPath(versionCode int64) string {
	return filepath.Join(s.dir, manifestsDir, strconv.FormatInt(versionCode, 10)+".json")
}
