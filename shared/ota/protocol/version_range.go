package protocol

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// VersionRange is a range expression publishers write into releases, e.g. ">=1.0.0 <2.0.0", "^1.4.0",
// "~2.1", "1.x" or "1.2.3 - 1.4 || >=3". Partial versions follow npm semantics: "<=1.2" admits 1.2.9.
type VersionRange struct {
	raw        string
	constraint *semver.Constraints
}

// ParseVersionRange parses expr. An empty expression is an error, not "any version".
func ParseVersionRange(expr string) (*VersionRange, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty version range")
	}

	c, err := semver.NewConstraint(expr)
	if err != nil {
		return nil, fmt.Errorf("parse range %q: %w", expr, err)
	}
	return &VersionRange{raw: expr, constraint: c}, nil
}

// Check reports whether v satisfies the range
func (r *VersionRange) Check(v *semver.Version) bool {
	return r.constraint.Check(v)
}

func (r *VersionRange) String() string {
	return r.raw
}

// ParseVersion parses a device reported version. Missing minor and patch components read as zero.
func ParseVersion(version string) (*semver.Version, error) {
	v, err := semver.NewVersion(strings.TrimSpace(version))
	if err != nil {
		return nil, fmt.Errorf("parse version %q: %w", version, err)
	}
	return v, nil
}

// Satisfies parses both sides and checks version against expr
func Satisfies(version, expr string) (bool, error) {
	v, err := ParseVersion(version)
	if err != nil {
		return false, err
	}
	r, err := ParseVersionRange(expr)
	if err != nil {
		return false, err
	}
	return r.Check(v), nil
}
