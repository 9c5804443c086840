// Package delta implements the XOR patch format shipped beside full artifacts.
//
// A patch is an 8 byte header holding the base and target lengths as little-endian uint32,
// followed by the target-length XOR of the zero-extended base and target, compressed with zstd.
package delta

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

const (
	headerSize = 8

	// MaxTargetSize bounds the memory a patch may ask for
	MaxTargetSize = 100 << 20

	// KeepRatio is the share of the full artifact size a patch must stay under to be published
	KeepRatio = 0.6
)

var (
	ErrEmptyTarget  = errors.New("delta target is empty")
	ErrTargetTooBig = errors.New("delta target exceeds size limit")
	ErrMalformed    = errors.New("malformed delta patch")
)

// Encode builds a compressed patch that turns base into updated
func Encode(base, updated []byte) ([]byte, error) {
	if len(updated) == 0 {
		return nil, ErrEmptyTarget
	}
	if len(updated) > MaxTargetSize || uint64(len(base)) > math.MaxUint32 {
		return nil, ErrTargetTooBig
	}

	patch := make([]byte, headerSize+len(updated))
	binary.LittleEndian.PutUint32(patch[0:4], uint32(len(base)))
	binary.LittleEndian.PutUint32(patch[4:8], uint32(len(updated)))
	xorInto(patch[headerSize:], base, updated)

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	defer enc.Close()

	return enc.EncodeAll(patch, nil), nil
}

// Decode applies patch to base. The declared base length is informational: a shorter or longer base
// is zero-extended or truncated to the target length, and the caller verifies the result by its hash.
func Decode(base, patch []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxTargetSize+headerSize))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(patch, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) < headerSize {
		return nil, fmt.Errorf("%w: short header", ErrMalformed)
	}

	targetLen := binary.LittleEndian.Uint32(raw[4:8])
	switch {
	case targetLen == 0:
		return nil, ErrEmptyTarget
	case targetLen > MaxTargetSize:
		return nil, ErrTargetTooBig
	}

	updated := make([]byte, targetLen)
	xorInto(updated, base, raw[headerSize:])
	return updated, nil
}

// KeepDelta reports whether a patch of patchSize bytes is worth publishing beside a full artifact of fullSize bytes
func KeepDelta(patchSize, fullSize int64) bool {
	return fullSize > 0 && float64(patchSize) < float64(fullSize)*KeepRatio
}

// xorInto fills dst with a[i]^b[i], reading missing positions of a or b as zero
func xorInto(dst, a, b []byte) {
	for i := range dst {
		var x, y byte
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		dst[i] = x ^ y
	}
}
