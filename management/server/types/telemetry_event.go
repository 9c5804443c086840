package types

import (
	"time"
)

// TelemetryEvent is an append-only device report, e.g. a crash or an applied update
type TelemetryEvent struct {
	ID          string `gorm:"primaryKey"`
	App         string `gorm:"index:idx_telemetry_release"`
	Platform    string `gorm:"index:idx_telemetry_release"`
	Channel     string `gorm:"index:idx_telemetry_release"`
	VersionCode int64  `gorm:"index:idx_telemetry_release"`
	DeviceID    string
	EventType   string
	Timestamp   time.Time `gorm:"index"`
}

// ReleaseKey identifies one release row
type ReleaseKey struct {
	App         string
	Platform    string
	Channel     string
	VersionCode int64
}
