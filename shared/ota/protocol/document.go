package protocol

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// DecodeIndex parses an index body and checks its shape. It does not verify the signature.
func DecodeIndex(body []byte) (*Index, error) {
	var idx Index
	if err := json.Unmarshal(body, &idx); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	if err := idx.Validate(); err != nil {
		return nil, err
	}
	return &idx, nil
}

// DecodeManifest parses a manifest body and checks its shape. It does not verify the signature.
func DecodeManifest(body []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the fields every index must carry
func (i *Index) Validate() error {
	if i.Schema != IndexSchema {
		return fmt.Errorf("unsupported index schema %q", i.Schema)
	}
	if i.App == "" || i.Platform == "" || i.Channel == "" {
		return fmt.Errorf("index is missing app, platform or channel")
	}

	seen := make(map[int64]struct{}, len(i.Releases))
	for _, r := range i.Releases {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, ok := seen[r.VersionCode]; ok {
			return fmt.Errorf("duplicate version_code %d", r.VersionCode)
		}
		seen[r.VersionCode] = struct{}{}
	}
	return nil
}

// AuthorizesKey reports whether keyID is listed in the index. An index without a key list authorizes nothing.
func (i *Index) AuthorizesKey(keyID string) bool {
	for _, k := range i.Keys {
		if k == keyID {
			return true
		}
	}
	return false
}

// SigningKeyID returns the key id named by the envelope, falling back to the legacy key_id
func (i *Index) SigningKeyID() string {
	if i.Cose != nil && i.Cose.Kid != "" {
		return i.Cose.Kid
	}
	return i.KeyID
}

// Validate checks a single release entry
func (r Release) Validate() error {
	if r.VersionCode <= 0 {
		return fmt.Errorf("release %q has invalid version_code %d", r.Version, r.VersionCode)
	}
	if r.Rollout < 0 || r.Rollout > MaxRollout {
		return fmt.Errorf("release %d has rollout %v outside [0,100]", r.VersionCode, r.Rollout)
	}
	if r.BinaryVersion == "" && r.RuntimeVersion == "" {
		return fmt.Errorf("release %d declares neither binary_version nor runtime_version", r.VersionCode)
	}
	if r.ManifestURL == "" {
		return fmt.Errorf("release %d has no manifest_url", r.VersionCode)
	}
	return nil
}

// Validate checks the fields every manifest must carry
func (m *Manifest) Validate() error {
	if m.Schema != ManifestSchema {
		return fmt.Errorf("unsupported manifest schema %q", m.Schema)
	}
	if m.VersionCode <= 0 {
		return fmt.Errorf("manifest has invalid version_code %d", m.VersionCode)
	}
	if m.Artifact.URL == "" || m.Artifact.SHA256 == "" {
		return fmt.Errorf("manifest %d has an incomplete artifact", m.VersionCode)
	}
	switch m.Artifact.Encoding {
	case "", EncodingIdentity, EncodingZstd:
	default:
		return fmt.Errorf("manifest %d uses unsupported artifact encoding %q", m.VersionCode, m.Artifact.Encoding)
	}
	for _, a := range m.Assets {
		if !IsLocalPath(a.Path) {
			return fmt.Errorf("manifest %d lists asset outside of the bundle: %q", m.VersionCode, a.Path)
		}
		if a.SHA256 == "" {
			return fmt.Errorf("manifest %d lists asset %q without digest", m.VersionCode, a.Path)
		}
	}
	if m.Delta != nil && (m.Delta.URL == "" || m.Delta.SHA256 == "" || m.Delta.BaseVersionCode <= 0) {
		return fmt.Errorf("manifest %d has an incomplete delta", m.VersionCode)
	}
	return nil
}

// Matches reports whether the manifest was published for the release it was reached through
func (m *Manifest) Matches(idx *Index, r Release) error {
	if m.VersionCode != r.VersionCode {
		return fmt.Errorf("manifest version_code %d does not match release %d", m.VersionCode, r.VersionCode)
	}
	if m.App != idx.App || m.Platform != idx.Platform {
		return fmt.Errorf("manifest %d belongs to %s/%s", m.VersionCode, m.App, m.Platform)
	}
	if m.Channel != "" && m.Channel != idx.Channel {
		return fmt.Errorf("manifest %d belongs to channel %s", m.VersionCode, m.Channel)
	}
	return nil
}

// IsLocalPath reports whether p is a relative slash-separated path that stays inside its root
func IsLocalPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	clean := path.Clean(p)
	return clean != "." && clean != ".." && !strings.HasPrefix(clean, "../")
}
