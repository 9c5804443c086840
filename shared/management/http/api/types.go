// Package api holds the request and response bodies of the decision service HTTP API.
package api

import (
	"time"
)

// Telemetry event types with a meaning to the service
const (
	EventTypeCrash         = "crash"
	EventTypeUpdateApplied = "update_applied"
	EventTypeRollback      = "rollback"
)

// EligibilityResponse is returned by GET /v1/update when a release is available
type EligibilityResponse struct {
	// ManifestUrl of the selected release
	ManifestUrl string `json:"manifest_url"`

	// VersionCode of the selected release
	VersionCode int64 `json:"version_code"`
}

// RolloutRequest is the body of POST /v1/rollout
type RolloutRequest struct {
	App         string   `json:"app"`
	Platform    string   `json:"platform"`
	Channel     string   `json:"channel,omitempty"`
	VersionCode int64    `json:"version_code"`
	Rollout     *float64 `json:"rollout"`
}

// TelemetryEventRequest is the body of POST /v1/telemetry
type TelemetryEventRequest struct {
	App         string     `json:"app"`
	Platform    string     `json:"platform"`
	Channel     string     `json:"channel"`
	VersionCode int64      `json:"version_code"`
	DeviceId    string     `json:"device_id"`
	EventType   string     `json:"event_type"`
	Timestamp   *time.Time `json:"ts,omitempty"`
}

// Targeting of a release
type Targeting struct {
	Rn   string   `json:"rn,omitempty"`
	Arch []string `json:"arch,omitempty"`
}

// ReleaseRequest is the body of POST /v1/releases
type ReleaseRequest struct {
	App            string     `json:"app"`
	Platform       string     `json:"platform"`
	Channel        string     `json:"channel,omitempty"`
	Version        string     `json:"version"`
	VersionCode    int64      `json:"version_code"`
	BinaryVersion  string     `json:"binary_version,omitempty"`
	RuntimeVersion string     `json:"runtime_version,omitempty"`
	Rollout        float64    `json:"rollout"`
	Mandatory      bool       `json:"mandatory"`
	Targeting      *Targeting `json:"targeting,omitempty"`
	ManifestUrl    string     `json:"manifest_url"`
}

// Release as stored by the service
type Release struct {
	App            string     `json:"app"`
	Platform       string     `json:"platform"`
	Channel        string     `json:"channel"`
	Version        string     `json:"version"`
	VersionCode    int64      `json:"version_code"`
	BinaryVersion  string     `json:"binary_version,omitempty"`
	RuntimeVersion string     `json:"runtime_version,omitempty"`
	Rollout        float64    `json:"rollout"`
	Mandatory      bool       `json:"mandatory"`
	Targeting      *Targeting `json:"targeting,omitempty"`
	ManifestUrl    string     `json:"manifest_url"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ReleaseList is returned by GET /v1/releases, newest first
type ReleaseList struct {
	Items []Release `json:"items"`
}
