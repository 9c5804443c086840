// Package cohort assigns devices to stable rollout buckets.
package cohort

import (
	"crypto/sha256"
	"encoding/binary"
	"strconv"
)

const bucketSpace = 1 << 32

// Percentile maps the (device, release) pair to a value in [0,100).
// The same pair always lands in the same bucket, and every version code reshuffles devices.
func Percentile(deviceID string, versionCode int64) float64 {
	h := sha256.New()
	h.Write([]byte(deviceID))
	h.Write([]byte{':'})
	h.Write([]byte(strconv.FormatInt(versionCode, 10)))
	sum := h.Sum(nil)

	return float64(binary.BigEndian.Uint32(sum[:4])) / bucketSpace * 100
}

// InRollout reports whether the device is admitted by a rollout percentage
func InRollout(deviceID string, versionCode int64, rollout float64) bool {
	return Percentile(deviceID, versionCode) < rollout
}
