// Package publish turns a bundle archive into a signed release: artifact, optional delta,
// attestation, manifest and the updated channel index, uploaded to an object store.
package publish

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kivyx/ota/publisher/objectstore"
	"github.com/kivyx/ota/shared/management/http/api"
	"github.com/kivyx/ota/shared/ota/delta"
	"github.com/kivyx/ota/shared/ota/protocol"
	"github.com/kivyx/ota/shared/ota/sign"
)

// Release describes what to publish
type Release struct {
	App            string
	Platform       string
	Channel        string
	Version        string
	VersionCode    int64
	BinaryVersion  string
	RuntimeVersion string
	Rollout        float64
	Mandatory      bool
	Targeting      *protocol.Targeting
	// Encoding of the uploaded artifact, identity when empty
	Encoding string
	// BaseVersionCode pins the delta base. Zero picks the newest release below VersionCode.
	BaseVersionCode int64
	NoDelta         bool
}

// Result reports what was uploaded
type Result struct {
	Manifest    *protocol.Manifest
	Index       *protocol.Index
	ManifestURL string
	IndexKey    string
	// DeltaSize is zero when no delta was kept
	DeltaSize int64
}

// Publisher builds, signs and uploads releases
type Publisher struct {
	store     objectstore.ObjectStore
	signer    sign.Signer
	layout    Layout
	tlog      TransparencyLog
	registrar Registrar
	now       func() time.Time
}

// Option configures a Publisher
type Option func(*Publisher)

// WithTransparencyLog submits every attestation to tlog
func WithTransparencyLog(tlog TransparencyLog) Option {
	return func(p *Publisher) {
		p.tlog = tlog
	}
}

// WithRegistrar registers every published release with the decision service
func WithRegistrar(r Registrar) Option {
	return func(p *Publisher) {
		p.registrar = r
	}
}

// New returns a Publisher uploading to store and building URLs below cdnBase
func New(store objectstore.ObjectStore, signer sign.Signer, cdnBase string, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		signer: signer,
		layout: Layout{CDNBase: cdnBase},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish uploads bundle, a zip archive, as rel. The index is written last so devices never see
// a release whose files are not in place yet.
func (p *Publisher) Publish(ctx context.Context, rel Release, bundle []byte) (*Result, error) {
	if rel.Channel == "" {
		rel.Channel = protocol.DefaultChannel
	}
	if rel.Encoding == "" {
		rel.Encoding = protocol.EncodingIdentity
	}
	if rel.Mandatory {
		rel.Rollout = protocol.MaxRollout
	}
	if err := validateRelease(rel); err != nil {
		return nil, err
	}

	assets, err := bundleAssets(bundle)
	if err != nil {
		return nil, err
	}
	artifact, err := encodeArtifact(bundle, rel.Encoding)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(artifact)
	digest := protocol.EncodeDigest(sum[:])

	indexKey := p.layout.IndexKey(rel.App, rel.Platform, rel.Channel)
	prev, err := p.loadIndex(ctx, indexKey)
	if err != nil {
		return nil, err
	}

	createdAt := p.now().UTC().Truncate(time.Second)
	artifactKey := p.layout.ArtifactKey(rel.App, rel.Platform, rel.Channel, rel.Version, rel.Encoding)
	byHashKey := p.layout.ArtifactByHashKey(rel.App, rel.Platform, sum[:], rel.Encoding)
	manifestKey := p.layout.ManifestKey(rel.App, rel.Platform, rel.Channel, rel.Version)
	attestationKey := p.layout.AttestationKey(rel.App, rel.Platform, rel.Channel, rel.Version)

	contentType := objectstore.ContentTypeZip
	if rel.Encoding == protocol.EncodingZstd {
		contentType = objectstore.ContentTypeBinary
	}
	immutable := objectstore.PutOptions{ContentType: contentType, CacheControl: objectstore.CacheImmutable}
	if err := p.store.Put(ctx, artifactKey, artifact, immutable); err != nil {
		return nil, fmt.Errorf("upload artifact: %w", err)
	}
	if err := p.store.Put(ctx, byHashKey, artifact, immutable); err != nil {
		return nil, fmt.Errorf("upload content addressed artifact: %w", err)
	}

	manifest := &protocol.Manifest{
		Schema:         protocol.ManifestSchema,
		App:            rel.App,
		Platform:       rel.Platform,
		Channel:        rel.Channel,
		Version:        rel.Version,
		VersionCode:    rel.VersionCode,
		BinaryVersion:  rel.BinaryVersion,
		RuntimeVersion: rel.RuntimeVersion,
		CreatedAt:      createdAt,
		Mandatory:      rel.Mandatory,
		Artifact: protocol.Artifact{
			URL:       p.layout.URL(artifactKey),
			URLByHash: p.layout.URL(byHashKey),
			Size:      int64(len(artifact)),
			SHA256:    digest,
			Encoding:  rel.Encoding,
		},
		Assets: assets,
		Provenance: &protocol.Provenance{
			AttestationURL: p.layout.URL(attestationKey),
		},
	}

	if !rel.NoDelta {
		manifest.Delta = p.publishDelta(ctx, prev, rel, artifact)
	}

	attestation, err := json.Marshal(protocol.Attestation{
		SubjectSHA256: digest,
		Version:       rel.Version,
		VersionCode:   rel.VersionCode,
		CreatedAt:     createdAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal attestation: %w", err)
	}
	if err := p.store.Put(ctx, attestationKey, attestation, objectstore.PutOptions{
		ContentType:  objectstore.ContentTypeJSON,
		CacheControl: objectstore.CacheImmutable,
	}); err != nil {
		return nil, fmt.Errorf("upload attestation: %w", err)
	}
	manifest.Provenance.TransparencyLogID = p.submitAttestation(ctx, attestation)

	signedManifest, err := sign.SignJSON(ctx, p.signer, manifest)
	if err != nil {
		return nil, fmt.Errorf("sign manifest: %w", err)
	}
	if err := p.store.Put(ctx, manifestKey, signedManifest, objectstore.PutOptions{
		ContentType:  objectstore.ContentTypeJSON,
		CacheControl: objectstore.CacheImmutable,
	}); err != nil {
		return nil, fmt.Errorf("upload manifest: %w", err)
	}

	entry := protocol.Release{
		Version:        rel.Version,
		VersionCode:    rel.VersionCode,
		BinaryVersion:  rel.BinaryVersion,
		RuntimeVersion: rel.RuntimeVersion,
		Rollout:        rel.Rollout,
		Mandatory:      rel.Mandatory,
		Targeting:      rel.Targeting,
		ManifestURL:    p.layout.URL(manifestKey),
	}
	if other, ok := versionOrderConflict(prev, entry); ok {
		log.WithContext(ctx).Warnf("version %s (%d) and version %s (%d) are ordered differently by version and version code, devices follow the version code",
			entry.Version, entry.VersionCode, other.Version, other.VersionCode)
	}
	idx := mergeIndex(prev, rel.App, rel.Platform, rel.Channel, entry, p.signer.KeyID(), createdAt)
	signedIndex, err := sign.SignJSON(ctx, p.signer, idx)
	if err != nil {
		return nil, fmt.Errorf("sign index: %w", err)
	}
	if err := p.store.Put(ctx, indexKey, signedIndex, objectstore.PutOptions{
		ContentType:  objectstore.ContentTypeJSON,
		CacheControl: objectstore.CacheIndex,
	}); err != nil {
		return nil, fmt.Errorf("upload index: %w", err)
	}

	res := &Result{
		Manifest:    manifest,
		Index:       idx,
		ManifestURL: entry.ManifestURL,
		IndexKey:    indexKey,
	}
	if manifest.Delta != nil {
		res.DeltaSize = manifest.Delta.Size
	}
	log.Infof("published %s/%s/%s %s (%d), %d releases in index", rel.App, rel.Platform, rel.Channel,
		rel.Version, rel.VersionCode, len(idx.Releases))

	if p.registrar != nil {
		if err := p.registrar.Register(ctx, releaseRequest(rel, entry)); err != nil {
			return res, fmt.Errorf("release published but not registered: %w", err)
		}
	}
	return res, nil
}

func (p *Publisher) loadIndex(ctx context.Context, key string) (*protocol.Index, error) {
	body, err := p.store.Get(ctx, key)
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read current index: %w", err)
	}
	idx, err := protocol.DecodeIndex(body)
	if err != nil {
		return nil, fmt.Errorf("current index %s: %w", key, err)
	}
	return idx, nil
}

// publishDelta uploads a patch from the previous artifact when it is small enough to be worth it.
// Any failure only costs devices the smaller download.
func (p *Publisher) publishDelta(ctx context.Context, prev *protocol.Index, rel Release, artifact []byte) *protocol.Delta {
	base, ok := deltaBase(prev, rel.VersionCode, rel.BaseVersionCode)
	if !ok {
		if rel.BaseVersionCode > 0 {
			log.Warnf("delta base %d is not in the index, publishing without delta", rel.BaseVersionCode)
		}
		return nil
	}

	baseArtifact, err := p.loadArtifact(ctx, rel, base)
	if err != nil {
		log.Warnf("publishing without delta, base %d unavailable: %v", base.VersionCode, err)
		return nil
	}

	patch, err := delta.Encode(baseArtifact, artifact)
	if err != nil {
		log.Warnf("publishing without delta, encode against %d failed: %v", base.VersionCode, err)
		return nil
	}
	if !delta.KeepDelta(int64(len(patch)), int64(len(artifact))) {
		log.Infof("dropping %d byte delta from %d, full artifact is %d bytes", len(patch), base.VersionCode, len(artifact))
		return nil
	}

	key := p.layout.DeltaKey(rel.App, rel.Platform, rel.Channel, rel.Version, base.VersionCode)
	if err := p.store.Put(ctx, key, patch, objectstore.PutOptions{
		ContentType:  objectstore.ContentTypeBinary,
		CacheControl: objectstore.CacheImmutable,
	}); err != nil {
		log.Warnf("publishing without delta, upload failed: %v", err)
		return nil
	}

	log.Infof("kept %d byte delta from %d", len(patch), base.VersionCode)
	return &protocol.Delta{
		BaseVersionCode: base.VersionCode,
		URL:             p.layout.URL(key),
		Size:            int64(len(patch)),
		SHA256:          protocol.Digest(patch),
	}
}

// loadArtifact reads the artifact devices cached for base, checked against its manifest
func (p *Publisher) loadArtifact(ctx context.Context, rel Release, base protocol.Release) ([]byte, error) {
	body, err := p.store.Get(ctx, p.layout.ManifestKey(rel.App, rel.Platform, rel.Channel, base.Version))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := protocol.DecodeManifest(body)
	if err != nil {
		return nil, err
	}
	if m.VersionCode != base.VersionCode {
		return nil, fmt.Errorf("manifest of %s holds version_code %d", base.Version, m.VersionCode)
	}

	data, err := p.store.Get(ctx, p.layout.ArtifactKey(rel.App, rel.Platform, rel.Channel, base.Version, m.Artifact.Encoding))
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	if !protocol.DigestMatches(data, m.Artifact.SHA256) {
		return nil, errors.New("stored artifact does not match its manifest")
	}
	return data, nil
}

func (p *Publisher) submitAttestation(ctx context.Context, attestation []byte) string {
	if p.tlog == nil {
		return ""
	}
	id, err := p.tlog.Submit(ctx, attestation)
	if err != nil {
		log.Warnf("transparency log submission failed, publishing without log id: %v", err)
		return ""
	}
	return id
}

func validateRelease(rel Release) error {
	for name, v := range map[string]string{"app": rel.App, "platform": rel.Platform, "channel": rel.Channel, "version": rel.Version} {
		if !isKeySegment(v) {
			return fmt.Errorf("invalid %s %q", name, v)
		}
	}
	if rel.VersionCode <= 0 {
		return fmt.Errorf("invalid version code %d", rel.VersionCode)
	}
	if rel.Rollout < 0 || rel.Rollout > protocol.MaxRollout {
		return fmt.Errorf("rollout %v outside [0,100]", rel.Rollout)
	}
	if rel.BinaryVersion == "" && rel.RuntimeVersion == "" {
		return errors.New("a binary version range or a runtime version is required")
	}
	if rel.BinaryVersion != "" {
		if _, err := protocol.ParseVersionRange(rel.BinaryVersion); err != nil {
			return fmt.Errorf("binary version range: %w", err)
		}
	}
	if rel.BaseVersionCode >= rel.VersionCode {
		return fmt.Errorf("delta base %d must be older than %d", rel.BaseVersionCode, rel.VersionCode)
	}
	return nil
}

func releaseRequest(rel Release, entry protocol.Release) api.ReleaseRequest {
	req := api.ReleaseRequest{
		App:            rel.App,
		Platform:       rel.Platform,
		Channel:        rel.Channel,
		Version:        entry.Version,
		VersionCode:    entry.VersionCode,
		BinaryVersion:  entry.BinaryVersion,
		RuntimeVersion: entry.RuntimeVersion,
		Rollout:        entry.Rollout,
		Mandatory:      entry.Mandatory,
		ManifestUrl:    entry.ManifestURL,
	}
	if t := entry.Targeting; t != nil {
		req.Targeting = &api.Targeting{Rn: t.BuildTool, Arch: t.Arch}
	}
	return req
}
