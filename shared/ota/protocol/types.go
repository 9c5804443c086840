// Package protocol holds the signed documents exchanged between the publisher, the CDN,
// the decision service and devices.
package protocol

import (
	"encoding/json"
	"time"
)

const (
	// IndexSchema tags a channel index document
	IndexSchema = "kivyx.channel.v1"
	// ManifestSchema tags a release manifest document
	ManifestSchema = "kivyx.manifest.v1"

	DefaultChannel = "Production"

	EncodingIdentity = "identity"
	EncodingZstd     = "zstd"

	// EnvelopeAlgES256 is the only algorithm accepted in a signature envelope
	EnvelopeAlgES256 = "ES256"

	// MaxRollout is the rollout percentage that admits every device
	MaxRollout = 100
)

// Envelope is the structured signature block. It is JSON, not CBOR-encoded COSE.
type Envelope struct {
	Alg   string `json:"alg"`
	Kid   string `json:"kid"`
	Sign1 string `json:"sign1"`
}

// Index is the signed release catalog of one app/platform/channel.
type Index struct {
	Schema    string    `json:"schema"`
	App       string    `json:"app"`
	Platform  string    `json:"platform"`
	Channel   string    `json:"channel"`
	CreatedAt time.Time `json:"created_at"`
	Releases  []Release `json:"releases"`
	Keys      []string  `json:"keys,omitempty"`
	KeyID     string    `json:"key_id,omitempty"`
	Signature string    `json:"signature,omitempty"`
	Cose      *Envelope `json:"cose,omitempty"`
}

// Release is one published version inside an Index
type Release struct {
	Version        string     `json:"version"`
	VersionCode    int64      `json:"version_code"`
	BinaryVersion  string     `json:"binary_version,omitempty"`
	RuntimeVersion string     `json:"runtime_version,omitempty"`
	Rollout        float64    `json:"rollout"`
	Mandatory      bool       `json:"mandatory"`
	Targeting      *Targeting `json:"targeting,omitempty"`
	ManifestURL    string     `json:"manifest_url"`
}

// EffectiveRollout returns 100 for mandatory releases and the stored percentage otherwise
func (r Release) EffectiveRollout() float64 {
	if r.Mandatory {
		return MaxRollout
	}
	return r.Rollout
}

// Targeting narrows a release to devices built with a given build tool version range and CPU architecture.
type Targeting struct {
	BuildTool string  `json:"rn,omitempty"`
	Arch      ArchSet `json:"arch,omitempty"`
}

// ArchSet is a set of CPU architecture names. On the wire it is either a single string or a list.
type ArchSet []string

// UnmarshalJSON accepts "arm64" as well as ["arm64","x86_64"]
func (a *ArchSet) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		if single == "" {
			*a = nil
		} else {
			*a = ArchSet{single}
		}
		return nil
	}

	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*a = list
	return nil
}

// Contains reports whether arch is a member of the set
func (a ArchSet) Contains(arch string) bool {
	for _, v := range a {
		if v == arch {
			return true
		}
	}
	return false
}

// Manifest describes the installable artifact of one release
type Manifest struct {
	Schema         string      `json:"schema"`
	App            string      `json:"app"`
	Platform       string      `json:"platform"`
	Channel        string      `json:"channel"`
	Version        string      `json:"version"`
	VersionCode    int64       `json:"version_code"`
	BinaryVersion  string      `json:"binary_version,omitempty"`
	RuntimeVersion string      `json:"runtime_version,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	Mandatory      bool        `json:"mandatory"`
	Artifact       Artifact    `json:"artifact"`
	Assets         []Asset     `json:"assets"`
	Delta          *Delta      `json:"delta,omitempty"`
	Provenance     *Provenance `json:"provenance,omitempty"`
	KeyID          string      `json:"key_id,omitempty"`
	Signature      string      `json:"signature,omitempty"`
	Cose           *Envelope   `json:"cose,omitempty"`
}

// Artifact is the full bundle archive. SHA256 is the standard base64 encoding of the digest.
type Artifact struct {
	URL       string `json:"url"`
	URLByHash string `json:"url_by_hash,omitempty"`
	Size      int64  `json:"size"`
	SHA256    string `json:"sha256"`
	Encoding  string `json:"encoding,omitempty"`
}

// Asset is one file inside the artifact archive
type Asset struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Delta is a patch that rebuilds the artifact from the artifact of BaseVersionCode
type Delta struct {
	BaseVersionCode int64  `json:"base_version_code"`
	URL             string `json:"url"`
	Size            int64  `json:"size"`
	SHA256          string `json:"sha256"`
}

// Provenance links the release to its build attestation
type Provenance struct {
	AttestationURL    string `json:"attestation_url,omitempty"`
	TransparencyLogID string `json:"transparency_log_id,omitempty"`
}

// Attestation is the unsigned build statement stored beside the manifest
type Attestation struct {
	SubjectSHA256 string    `json:"subject_sha256"`
	Version       string    `json:"version"`
	VersionCode   int64     `json:"version_code"`
	CreatedAt     time.Time `json:"created_at"`
}

// DeviceContext is what a device reports about itself when asking for an update
type DeviceContext struct {
	DeviceID         string
	BinaryVersion    string
	RuntimeVersion   string
	BuildToolVersion string
	Arch             string
}
