package cohort

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentile_Deterministic(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("device-%d", i)
		assert.Equal(t, Percentile(id, 42), Percentile(id, 42))
	}
}

// first four bytes of sha256("<device>:<version code>") read big endian, scaled to [0,100)
func TestPercentile_KnownValues(t *testing.T) {
	tt := []struct {
		deviceID    string
		versionCode int64
		want        float64
	}{
		{deviceID: "device-1", versionCode: 5, want: 2135417805.0 / (1 << 32) * 100},
		{deviceID: "abc", versionCode: 42, want: 2013189108.0 / (1 << 32) * 100},
		{deviceID: "", versionCode: 1, want: 2284719531.0 / (1 << 32) * 100},
	}
	for _, tc := range tt {
		assert.InDelta(t, tc.want, Percentile(tc.deviceID, tc.versionCode), 1e-9, "%s:%d", tc.deviceID, tc.versionCode)
	}

	assert.True(t, InRollout("device-1", 5, 49.72))
	assert.False(t, InRollout("device-1", 5, 49.71))
}

func TestPercentile_Range(t *testing.T) {
	for i := 0; i < 10000; i++ {
		p := Percentile(fmt.Sprintf("d%d", i), int64(i%7))
		assert.GreaterOrEqual(t, p, 0.0)
		assert.Less(t, p, 100.0)
	}
}

func TestPercentile_Uniform(t *testing.T) {
	const samples = 50000
	var buckets [10]int
	for i := 0; i < samples; i++ {
		p := Percentile(fmt.Sprintf("install-%08d", i), 10)
		buckets[int(p/10)]++
	}

	expected := samples / len(buckets)
	for i, n := range buckets {
		assert.InDelta(t, expected, n, float64(expected)*0.05, "bucket %d", i)
	}
}

func TestPercentile_RerandomizedPerRelease(t *testing.T) {
	const samples = 10000
	early := 0
	both := 0
	for i := 0; i < samples; i++ {
		id := fmt.Sprintf("install-%d", i)
		inFirst := InRollout(id, 100, 10)
		inSecond := InRollout(id, 101, 10)
		if inFirst {
			early++
			if inSecond {
				both++
			}
		}
	}

	// independent assignment puts about 10% of the early cohort into the next one
	assert.InDelta(t, 0.1, float64(both)/float64(early), 0.04)
}

func TestInRollout_Bounds(t *testing.T) {
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("x%d", i)
		assert.False(t, InRollout(id, 3, 0), "zero rollout admits nobody")
		assert.True(t, InRollout(id, 3, 100), "full rollout admits everybody")
	}
}

func TestPercentile_KnownValue(t *testing.T) {
	// sha256("abc:1") starts with 0xbfcf0b9c
	assert.InDelta(t, float64(0xbfcf0b9c)/(1<<32)*100, Percentile("abc", 1), 1e-9)
}
