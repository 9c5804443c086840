package updatemanager

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kivyx/ota/client/internal/updatemanager/downloader"
	"github.com/kivyx/ota/client/internal/updatemanager/installer"
	"github.com/kivyx/ota/shared/management/http/api"
	"github.com/kivyx/ota/shared/management/status"
	"github.com/kivyx/ota/shared/ota/delta"
	"github.com/kivyx/ota/shared/ota/protocol"
	"github.com/kivyx/ota/shared/ota/resolver"
	"github.com/kivyx/ota/shared/ota/sign"
)

// Reason explains the outcome of CheckAndApply
type Reason string

const (
	ReasonUpdated     Reason = "updated"
	ReasonNotModified Reason = "not_modified"
	ReasonNoCandidate Reason = "no_candidate"
	ReasonPending     Reason = "pending"
	ReasonTransport   Reason = "transport_error"
	ReasonIntegrity   Reason = "integrity_error"
	ReasonStorage     Reason = "storage_error"
)

// Outcome of a health evaluation
type Outcome string

const (
	OutcomeIdle       Outcome = "idle"
	OutcomePending    Outcome = "pending"
	OutcomeCommitted  Outcome = "committed"
	OutcomeRolledBack Outcome = "rolled_back"
)

// Events sent to the EventReporter
const (
	EventUpdateApplied = api.EventTypeUpdateApplied
	EventRollback      = api.EventTypeRollback
)

// Result is what the host application learns from CheckAndApply
type Result struct {
	Updated     bool   `json:"updated"`
	VersionCode int64  `json:"versionCode,omitempty"`
	Dir         string `json:"dir,omitempty"`
	Reason      Reason `json:"reason"`
}

// EventReporter receives state machine events. Delivery is best effort.
type EventReporter interface {
	Report(ctx context.Context, eventType string, versionCode int64) error
}

// Config of the device side update flow
type Config struct {
	// IndexURL is <cdn>/<app>/<platform>/<channel>/index.json
	IndexURL       string
	Keys           *sign.KeyRing
	Device         protocol.DeviceContext
	PendingTimeout time.Duration
}

// Manager runs the fetch, verify, stage, confirm and rollback cycle of one app on one device.
// Calls are serialized within the process; separate processes sharing a data dir must not run concurrently.
type Manager struct {
	mu sync.Mutex

	config     Config
	storage    *Storage
	downloader *downloader.Downloader
	reporter   EventReporter
	now        func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithHTTPClient sets the client used for CDN requests
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		m.downloader = downloader.New(client)
	}
}

// WithReporter sends applied and rollback events to r
func WithReporter(r EventReporter) Option {
	return func(m *Manager) {
		m.reporter = r
	}
}

// NewManager creates a Manager keeping its state below dataDir
func NewManager(dataDir string, config Config, opts ...Option) (*Manager, error) {
	if config.IndexURL == "" {
		return nil, errors.New("index url is required")
	}
	if config.Keys == nil || len(config.Keys.IDs()) == 0 {
		return nil, errors.New("at least one public key is required")
	}
	if config.PendingTimeout <= 0 {
		config.PendingTimeout = DefaultPendingTimeout
	}

	storage, err := NewStorage(dataDir)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		config:     config,
		storage:    storage,
		downloader: downloader.New(nil),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Status returns the persisted state
func (m *Manager) Status() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storage.LoadState()
}

// ActiveDir returns the directory of the current bundle, or an empty string when the embedded bundle is current
func (m *Manager) ActiveDir() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.storage.LoadState()
	if st.CurrentVersionCode == 0 {
		return ""
	}
	return m.storage.VersionDir(st.CurrentVersionCode)
}

// MarkHealthy is called by the host once the current bundle ran successfully.
// It writes the liveness marker and commits a pending version.
func (m *Manager) MarkHealthy(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.storage.LoadState()
	vc := st.CurrentVersionCode
	if vc == 0 {
		return nil
	}

	if err := m.storage.WriteHealthMarker(ctx, vc); err != nil {
		return fmt.Errorf("write health marker: %w", err)
	}

	st.LastGoodVersionCode = vc
	if st.IsPending() {
		log.Infof("version %d confirmed healthy", vc)
		clearPending(st)
	}
	return m.storage.SaveState(ctx, st)
}

// Evaluate commits a pending version that has its liveness marker and rolls back one whose confirmation
// window elapsed. It is idempotent and meant to run on every process start.
func (m *Manager) Evaluate(ctx context.Context) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evaluate(ctx)
}

func (m *Manager) evaluate(ctx context.Context) (Outcome, error) {
	st := m.storage.LoadState()
	if !st.IsPending() {
		return OutcomeIdle, nil
	}
	vc := st.CurrentVersionCode

	if m.storage.IsHealthy(vc) {
		st.LastGoodVersionCode = vc
		clearPending(st)
		if err := m.storage.SaveState(ctx, st); err != nil {
			return OutcomePending, fmt.Errorf("save state: %w", err)
		}
		log.Infof("version %d committed", vc)
		return OutcomeCommitted, nil
	}

	if !st.AppliedAt.IsZero() && m.now().Sub(st.AppliedAt) <= st.PendingTimeout() {
		log.Debugf("version %d still waiting for health confirmation", vc)
		return OutcomePending, nil
	}

	st.markFailed(vc)
	st.CurrentVersionCode = st.LastGoodVersionCode
	clearPending(st)
	if err := m.storage.SaveState(ctx, st); err != nil {
		return OutcomePending, fmt.Errorf("save state: %w", err)
	}
	log.Infof("version %d was not confirmed healthy in time, rolled back to %d", vc, st.CurrentVersionCode)
	m.report(ctx, EventRollback, vc)
	return OutcomeRolledBack, nil
}

// CheckAndApply evaluates the pending version, then looks for a newer release and stages it.
// The returned error, when set, is a status.Error of type Transport or Integrity, or a storage failure.
func (m *Manager) CheckAndApply(ctx context.Context) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	outcome, err := m.evaluate(ctx)
	if err != nil {
		return Result{Reason: ReasonStorage}, err
	}
	st := m.storage.LoadState()
	if outcome == OutcomePending {
		return Result{VersionCode: st.CurrentVersionCode, Reason: ReasonPending}, nil
	}

	resp, err := m.downloader.FetchConditional(ctx, m.config.IndexURL, st.IndexETag, downloader.MaxDocumentSize)
	if err != nil {
		return failure(err)
	}
	if resp.NotModified {
		log.Debugf("index not modified")
		return Result{Reason: ReasonNotModified}, nil
	}

	idx, err := m.verifyIndex(resp.Body)
	if err != nil {
		return failure(err)
	}
	st.IndexETag = resp.ETag

	release, ok := resolver.New(resolver.WithExcluded(st.FailedVersionCodes...)).
		Resolve(ctx, idx.Releases, st.CurrentVersionCode, m.config.Device)
	if !ok {
		if err := m.storage.SaveState(ctx, st); err != nil {
			return Result{Reason: ReasonStorage}, fmt.Errorf("save state: %w", err)
		}
		return Result{Reason: ReasonNoCandidate}, nil
	}
	log.Debugf("selected release %d", release.VersionCode)

	dir, err := m.apply(ctx, st, idx, release)
	if err != nil {
		if status.IsType(err, status.Integrity) {
			if serr := m.storage.SaveState(ctx, st); serr != nil {
				log.Warnf("failed to record index etag: %v", serr)
			}
		}
		return failure(err)
	}

	m.report(ctx, EventUpdateApplied, release.VersionCode)
	return Result{Updated: true, VersionCode: release.VersionCode, Dir: dir, Reason: ReasonUpdated}, nil
}

// apply fetches, verifies and stages release, then moves st to Pending and saves it
func (m *Manager) apply(ctx context.Context, st *State, idx *protocol.Index, release protocol.Release) (string, error) {
	manifest, body, etag, err := m.fetchManifest(ctx, st, idx, release)
	if err != nil {
		return "", err
	}
	m.cacheManifest(ctx, st, manifest.VersionCode, body, etag)

	artifact, err := m.fetchArtifact(ctx, st, manifest)
	if err != nil {
		return "", err
	}

	archive, err := installer.DecodeArtifact(manifest.Artifact.Encoding, artifact)
	if err != nil {
		return "", err
	}

	vc := manifest.VersionCode
	dir := m.storage.VersionDir(vc)
	if err := installer.Stage(ctx, archive, manifest.Assets, dir); err != nil {
		return "", err
	}

	if err := m.storage.WriteArtifact(ctx, vc, artifact); err != nil {
		log.Warnf("failed to cache artifact %d, later deltas against it will not be used: %v", vc, err)
	}

	st.LastGoodVersionCode = st.CurrentVersionCode
	st.CurrentVersionCode = vc
	st.PendingVersionCode = vc
	st.AppliedAt = m.now().UTC()
	st.PendingTimeoutMs = m.config.PendingTimeout.Milliseconds()
	if err := m.storage.SaveState(ctx, st); err != nil {
		return "", fmt.Errorf("save state: %w", err)
	}

	log.Infof("staged version %d in %s, last good version is %d", vc, dir, st.LastGoodVersionCode)
	return dir, nil
}

// cacheManifest keeps a verified manifest body so a later 304 can reuse it. The ETag is persisted with st.
func (m *Manager) cacheManifest(ctx context.Context, st *State, versionCode int64, body []byte, etag string) {
	if etag == "" {
		return
	}
	if err := m.storage.WriteManifest(ctx, versionCode, body); err != nil {
		log.Warnf("failed to cache manifest %d: %v", versionCode, err)
		return
	}
	if st.ManifestETags == nil {
		st.ManifestETags = make(map[int64]string)
	}
	st.ManifestETags[versionCode] = etag
}

func (m *Manager) verifyIndex(body []byte) (*protocol.Index, error) {
	keyID, err := sign.VerifyDocument(body, m.config.Keys)
	if err != nil {
		return nil, status.Errorf(status.Integrity, "index signature invalid: %v", err)
	}

	idx, err := protocol.DecodeIndex(body)
	if err != nil {
		return nil, status.Errorf(status.Integrity, "index: %v", err)
	}
	if !idx.AuthorizesKey(keyID) {
		return nil, status.Errorf(status.Integrity, "index signing key %s is not listed in the index", keyID)
	}
	return idx, nil
}

// fetchManifest revalidates the cached manifest of release and returns the verified document, its body and ETag
func (m *Manager) fetchManifest(ctx context.Context, st *State, idx *protocol.Index, release protocol.Release) (*protocol.Manifest, []byte, string, error) {
	vc := release.VersionCode

	etag := st.ManifestETags[vc]
	cached, err := m.storage.ReadManifest(vc)
	if err != nil {
		etag = ""
	}

	resp, err := m.downloader.FetchConditional(ctx, release.ManifestURL, etag, downloader.MaxDocumentSize)
	if err != nil {
		return nil, nil, "", err
	}
	body := resp.Body
	if resp.NotModified {
		log.Debugf("manifest %d not modified, using cached copy", vc)
		body = cached
	}

	keyID, err := sign.VerifyDocument(body, m.config.Keys)
	if err != nil {
		return nil, nil, "", status.NewSignatureError(fmt.Sprintf("manifest %d", vc))
	}
	if !idx.AuthorizesKey(keyID) {
		return nil, nil, "", status.Errorf(status.Integrity, "manifest %d signing key %s is not listed in the index", vc, keyID)
	}

	manifest, err := protocol.DecodeManifest(body)
	if err != nil {
		return nil, nil, "", status.Errorf(status.Integrity, "manifest %d: %v", vc, err)
	}
	if err := manifest.Matches(idx, release); err != nil {
		return nil, nil, "", status.Errorf(status.Integrity, "%v", err)
	}
	return manifest, body, resp.ETag, nil
}

// fetchArtifact returns the verified artifact bytes, rebuilt from a delta when one applies to the current version
func (m *Manager) fetchArtifact(ctx context.Context, st *State, manifest *protocol.Manifest) ([]byte, error) {
	if d := manifest.Delta; d != nil && d.BaseVersionCode == st.CurrentVersionCode {
		artifact, err := m.fetchDelta(ctx, d, manifest.Artifact)
		if err == nil {
			return artifact, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warnf("delta from %d unusable, downloading full artifact: %v", d.BaseVersionCode, err)
	}

	data, err := m.downloader.Fetch(ctx, manifest.Artifact.URL, downloader.MaxArtifactSize)
	if err != nil && manifest.Artifact.URLByHash != "" && status.IsType(err, status.Transport) {
		log.Warnf("artifact download failed, trying content addressed copy: %v", err)
		data, err = m.downloader.Fetch(ctx, manifest.Artifact.URLByHash, downloader.MaxArtifactSize)
	}
	if err != nil {
		return nil, err
	}

	if manifest.Artifact.Size > 0 && int64(len(data)) != manifest.Artifact.Size {
		return nil, status.Errorf(status.Integrity, "artifact has %d bytes, manifest declares %d", len(data), manifest.Artifact.Size)
	}
	if !protocol.DigestMatches(data, manifest.Artifact.SHA256) {
		return nil, status.NewDigestMismatchError("artifact")
	}
	return data, nil
}

func (m *Manager) fetchDelta(ctx context.Context, d *protocol.Delta, target protocol.Artifact) ([]byte, error) {
	base, err := m.storage.ReadArtifact(d.BaseVersionCode)
	if err != nil {
		return nil, fmt.Errorf("no cached base artifact: %w", err)
	}

	patch, err := m.downloader.Fetch(ctx, d.URL, downloader.MaxArtifactSize)
	if err != nil {
		return nil, err
	}
	if !protocol.DigestMatches(patch, d.SHA256) {
		return nil, status.NewDigestMismatchError("delta")
	}

	artifact, err := delta.Decode(base, patch)
	if err != nil {
		return nil, status.Errorf(status.Integrity, "apply delta: %v", err)
	}
	if !protocol.DigestMatches(artifact, target.SHA256) {
		return nil, status.NewDigestMismatchError("artifact rebuilt from delta")
	}
	log.Debugf("rebuilt artifact from %d byte delta", len(patch))
	return artifact, nil
}

func (m *Manager) report(ctx context.Context, eventType string, versionCode int64) {
	if m.reporter == nil {
		return
	}
	if err := m.reporter.Report(ctx, eventType, versionCode); err != nil {
		log.Warnf("failed to report %s for %d: %v", eventType, versionCode, err)
	}
}

func clearPending(st *State) {
	st.PendingVersionCode = 0
	st.AppliedAt = time.Time{}
}

func failure(err error) (Result, error) {
	switch {
	case status.IsType(err, status.Integrity):
		log.Errorf("update rejected: %v", err)
		return Result{Reason: ReasonIntegrity}, err
	case status.IsType(err, status.Transport):
		log.Warnf("update check failed: %v", err)
		return Result{Reason: ReasonTransport}, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Result{Reason: ReasonTransport}, status.Errorf(status.Transport, "update check interrupted: %w", err)
	default:
		log.Errorf("update failed: %v", err)
		return Result{Reason: ReasonStorage}, err
	}
}
