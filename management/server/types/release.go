package types

import (
	"time"

	"github.com/kivyx/ota/shared/management/http/api"
	"github.com/kivyx/ota/shared/ota/protocol"
)

// Release is a row of the release table. One row per app, platform, channel and version code.
type Release struct {
	App            string `gorm:"primaryKey"`
	Platform       string `gorm:"primaryKey"`
	Channel        string `gorm:"primaryKey"`
	VersionCode    int64  `gorm:"primaryKey;autoIncrement:false"`
	Version        string
	BinaryVersion  string
	RuntimeVersion string
	Rollout        float64
	Mandatory      bool
	Targeting      *protocol.Targeting `gorm:"serializer:json"`
	ManifestURL    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ToProtocol converts the row into the entry the resolver works on
func (r *Release) ToProtocol() protocol.Release {
	return protocol.Release{
		Version:        r.Version,
		VersionCode:    r.VersionCode,
		BinaryVersion:  r.BinaryVersion,
		RuntimeVersion: r.RuntimeVersion,
		Rollout:        r.Rollout,
		Mandatory:      r.Mandatory,
		Targeting:      r.Targeting,
		ManifestURL:    r.ManifestURL,
	}
}

// ToAPIResponse converts the row into its HTTP representation
func (r *Release) ToAPIResponse() api.Release {
	resp := api.Release{
		App:            r.App,
		Platform:       r.Platform,
		Channel:        r.Channel,
		Version:        r.Version,
		VersionCode:    r.VersionCode,
		BinaryVersion:  r.BinaryVersion,
		RuntimeVersion: r.RuntimeVersion,
		Rollout:        r.Rollout,
		Mandatory:      r.Mandatory,
		ManifestUrl:    r.ManifestURL,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.Targeting != nil {
		resp.Targeting = &api.Targeting{
			Rn:   r.Targeting.BuildTool,
			Arch: []string(r.Targeting.Arch),
		}
	}
	return resp
}

// ReleaseFromRequest builds a row from a registration request. Channel defaults to Production.
func ReleaseFromRequest(req *api.ReleaseRequest) *Release {
	channel := req.Channel
	if channel == "" {
		channel = protocol.DefaultChannel
	}
	r := &Release{
		App:            req.App,
		Platform:       req.Platform,
		Channel:        channel,
		Version:        req.Version,
		VersionCode:    req.VersionCode,
		BinaryVersion:  req.BinaryVersion,
		RuntimeVersion: req.RuntimeVersion,
		Rollout:        req.Rollout,
		Mandatory:      req.Mandatory,
		ManifestURL:    req.ManifestUrl,
	}
	if req.Targeting != nil {
		r.Targeting = &protocol.Targeting{
			BuildTool: req.Targeting.Rn,
			Arch:      protocol.ArchSet(req.Targeting.Arch),
		}
	}
	return r
}
