package publish

import (
	"encoding/hex"
	"path"
	"strconv"
	"strings"

	"github.com/kivyx/ota/shared/ota/protocol"
)

const (
	indexFile       = "index.json"
	manifestFile    = "manifest.json"
	attestationFile = "attestation.json"
	bundleFile      = "bundle.zip"
	byHashDir       = "by-hash"

	// hashKeyBytes is how much of the artifact digest names its content addressed copy
	hashKeyBytes = 8
)

// Layout maps release files to object keys and CDN URLs.
//
//	<app>/<platform>/<channel>/index.json
//	<app>/<platform>/<channel>/<version>/{manifest.json,attestation.json,bundle.zip[.zst],delta-<base>.bin}
//	<app>/<platform>/by-hash/<hex digest prefix>/bundle.zip[.zst]
type Layout struct {
	CDNBase string
}

// URL returns the public location of key
func (l Layout) URL(key string) string {
	return strings.TrimSuffix(l.CDNBase, "/") + "/" + key
}

func (l Layout) IndexKey(app, platform, channel string) string {
	return path.Join(app, platform, channel, indexFile)
}

func (l Layout) ManifestKey(app, platform, channel, version string) string {
	return path.Join(app, platform, channel, version, manifestFile)
}

func (l Layout) AttestationKey(app, platform, channel, version string) string {
	return path.Join(app, platform, channel, version, attestationFile)
}

func (l Layout) ArtifactKey(app, platform, channel, version, encoding string) string {
	return path.Join(app, platform, channel, version, artifactFile(encoding))
}

// ArtifactByHashKey names the immutable copy of an artifact by its digest
func (l Layout) ArtifactByHashKey(app, platform string, sum []byte, encoding string) string {
	n := hashKeyBytes
	if len(sum) < n {
		n = len(sum)
	}
	return path.Join(app, platform, byHashDir, hex.EncodeToString(sum[:n]), artifactFile(encoding))
}

func (l Layout) DeltaKey(app, platform, channel, version string, baseVersionCode int64) string {
	return path.Join(app, platform, channel, version, "delta-"+strconv.FormatInt(baseVersionCode, 10)+".bin")
}

func artifactFile(encoding string) string {
	if encoding == protocol.EncodingZstd {
		return bundleFile + ".zst"
	}
	return bundleFile
}

// isKeySegment reports whether s can be used as a single path element of a key
func isKeySegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, "/\\")
}
