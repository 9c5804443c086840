package publish

import (
	"sort"
	"time"

	goversion "github.com/hashicorp/go-version"

	"github.com/kivyx/ota/shared/ota/protocol"
)

// mergeIndex returns the next index of a channel: the releases of prev with rel added or replacing
// the entry of the same version_code, newest first. Keys already trusted by prev stay listed so
// devices keep accepting documents during a key rotation.
func mergeIndex(prev *protocol.Index, app, platform, channel string, rel protocol.Release, keyID string, now time.Time) *protocol.Index {
	idx := &protocol.Index{
		Schema:    protocol.IndexSchema,
		App:       app,
		Platform:  platform,
		Channel:   channel,
		CreatedAt: now,
	}

	var keys []string
	if prev != nil {
		for _, r := range prev.Releases {
			if r.VersionCode != rel.VersionCode {
				idx.Releases = append(idx.Releases, r)
			}
		}
		keys = append(keys, prev.Keys...)
	}
	idx.Releases = append(idx.Releases, rel)
	sort.SliceStable(idx.Releases, func(i, j int) bool {
		return idx.Releases[i].VersionCode > idx.Releases[j].VersionCode
	})

	if !containsKey(keys, keyID) {
		keys = append(keys, keyID)
	}
	idx.Keys = keys
	return idx
}

// deltaBase picks the release a delta is built against: the requested version code, or the
// newest release below rel when none was requested
func deltaBase(idx *protocol.Index, versionCode, requested int64) (protocol.Release, bool) {
	if idx == nil {
		return protocol.Release{}, false
	}

	var best protocol.Release
	found := false
	for _, r := range idx.Releases {
		if r.VersionCode >= versionCode {
			continue
		}
		if requested > 0 {
			if r.VersionCode == requested {
				return r, true
			}
			continue
		}
		if !found || r.VersionCode > best.VersionCode {
			best = r
			found = true
		}
	}
	return best, found
}

// versionOrderConflict returns a release of idx whose human readable version sorts the other way
// than its version_code does relative to rel. Versions that do not parse are ignored.
func versionOrderConflict(idx *protocol.Index, rel protocol.Release) (protocol.Release, bool) {
	relVersion, err := goversion.NewVersion(rel.Version)
	if err != nil || idx == nil {
		return protocol.Release{}, false
	}
	for _, r := range idx.Releases {
		if r.VersionCode == rel.VersionCode {
			continue
		}
		v, err := goversion.NewVersion(r.Version)
		if err != nil {
			continue
		}
		if r.VersionCode < rel.VersionCode && v.GreaterThan(relVersion) ||
			r.VersionCode > rel.VersionCode && v.LessThan(relVersion) {
			return r, true
		}
	}
	return protocol.Release{}, false
}

func containsKey(keys []string, id string) bool {
	for _, k := range keys {
		if k == id {
			return true
		}
	}
	return false
}
