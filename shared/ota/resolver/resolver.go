// Package resolver picks the release a device should move to.
package resolver

import (
	"context"
	"sort"

	"github.com/Masterminds/semver/v3"
	log "github.com/sirupsen/logrus"

	"github.com/kivyx/ota/shared/ota/cohort"
	"github.com/kivyx/ota/shared/ota/protocol"
)

// Guardrail tells whether a release is healthy enough for new devices to adopt
type Guardrail interface {
	IsHealthy(ctx context.Context, release protocol.Release) bool
}

// GuardrailFunc adapts a function to the Guardrail interface
type GuardrailFunc func(ctx context.Context, release protocol.Release) bool

// IsHealthy calls f
func (f GuardrailFunc) IsHealthy(ctx context.Context, release protocol.Release) bool {
	return f(ctx, release)
}

// Reason names the filter that rejected a release
type Reason string

const (
	Selected         Reason = "selected"
	NotNewer         Reason = "not_newer"
	Incompatible     Reason = "incompatible"
	NotTargeted      Reason = "not_targeted"
	OutsideRollout   Reason = "outside_rollout"
	GuardrailBlocked Reason = "guardrail_blocked"
	Excluded         Reason = "excluded"
)

// Resolver applies compatibility, targeting, rollout and guardrail filters.
// A nil guardrail treats every release as healthy.
type Resolver struct {
	guardrail Guardrail
	excluded  map[int64]struct{}
}

// Option configures a Resolver
type Option func(*Resolver)

// WithGuardrail consults g as the last filter
func WithGuardrail(g Guardrail) Option {
	return func(r *Resolver) {
		r.guardrail = g
	}
}

// WithExcluded skips the given version codes, e.g. versions that already failed on this device
func WithExcluded(versionCodes ...int64) Option {
	return func(r *Resolver) {
		for _, vc := range versionCodes {
			r.excluded[vc] = struct{}{}
		}
	}
}

// New creates a Resolver
func New(opts ...Option) *Resolver {
	r := &Resolver{excluded: make(map[int64]struct{})}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the newest release that passes every filter, or false when there is none.
// candidates is not modified.
func (r *Resolver) Resolve(ctx context.Context, candidates []protocol.Release, currentVersionCode int64, device protocol.DeviceContext) (protocol.Release, bool) {
	ordered := make([]protocol.Release, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].VersionCode > ordered[j].VersionCode
	})

	var deviceBinary *semver.Version
	if device.RuntimeVersion == "" {
		v, err := protocol.ParseVersion(device.BinaryVersion)
		if err != nil {
			log.WithContext(ctx).Debugf("device binary version is not parseable: %v", err)
		}
		deviceBinary = v
	}

	for _, release := range ordered {
		reason := r.evaluate(ctx, release, currentVersionCode, device, deviceBinary)
		if reason == Selected {
			return release, true
		}
		log.WithContext(ctx).Tracef("release %d skipped: %s", release.VersionCode, reason)
	}
	return protocol.Release{}, false
}

func (r *Resolver) evaluate(ctx context.Context, release protocol.Release, current int64, device protocol.DeviceContext, deviceBinary *semver.Version) Reason {
	if release.VersionCode <= current {
		return NotNewer
	}
	if _, ok := r.excluded[release.VersionCode]; ok {
		return Excluded
	}
	if !compatible(release, device, deviceBinary) {
		return Incompatible
	}
	if !targeted(release.Targeting, device) {
		return NotTargeted
	}
	if !cohort.InRollout(device.DeviceID, release.VersionCode, release.EffectiveRollout()) {
		return OutsideRollout
	}
	if r.guardrail != nil && !r.guardrail.IsHealthy(ctx, release) {
		return GuardrailBlocked
	}
	return Selected
}

// compatible checks the runtime tag when the device reports one and the binary range otherwise.
// A release without a binary range, or with one that does not parse, is incompatible with binary matching.
func compatible(release protocol.Release, device protocol.DeviceContext, deviceBinary *semver.Version) bool {
	if device.RuntimeVersion != "" {
		return release.RuntimeVersion != "" && release.RuntimeVersion == device.RuntimeVersion
	}
	if deviceBinary == nil || release.BinaryVersion == "" {
		return false
	}
	rng, err := protocol.ParseVersionRange(release.BinaryVersion)
	if err != nil {
		return false
	}
	return rng.Check(deviceBinary)
}

// targeted treats an absent or unparseable predicate, or a missing device hint, as no constraint
func targeted(t *protocol.Targeting, device protocol.DeviceContext) bool {
	if t == nil {
		return true
	}
	if t.BuildTool != "" && device.BuildToolVersion != "" {
		ok, err := protocol.Satisfies(device.BuildToolVersion, t.BuildTool)
		if err == nil && !ok {
			return false
		}
	}
	if len(t.Arch) > 0 && device.Arch != "" && !t.Arch.Contains(device.Arch) {
		return false
	}
	return true
}
