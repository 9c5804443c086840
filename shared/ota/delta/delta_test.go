package delta

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestRoundTrip(t *testing.T) {
	base := randomBytes(t, 4096)
	grown := append(append([]byte{}, base...), randomBytes(t, 1000)...)
	shrunk := append([]byte{}, base[:1500]...)
	edited := append([]byte{}, base...)
	copy(edited[100:], []byte("patched region"))

	tests := []struct {
		name    string
		base    []byte
		updated []byte
	}{
		{name: "empty base", base: nil, updated: []byte("fresh bundle")},
		{name: "target larger than base", base: base, updated: grown},
		{name: "target smaller than base", base: base, updated: shrunk},
		{name: "same length edit", base: base, updated: edited},
		{name: "identical", base: base, updated: base},
		{name: "single byte", base: []byte{0xff}, updated: []byte{0x01}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			patch, err := Encode(tc.base, tc.updated)
			require.NoError(t, err)

			got, err := Decode(tc.base, patch)
			require.NoError(t, err)
			assert.Equal(t, tc.updated, got)
		})
	}
}

func TestEncode_EmptyTargetRejected(t *testing.T) {
	_, err := Encode([]byte("base"), nil)
	assert.ErrorIs(t, err, ErrEmptyTarget)
}

func TestEncode_SmallEditCompresses(t *testing.T) {
	base := randomBytes(t, 64<<10)
	edited := append([]byte{}, base...)
	copy(edited[1000:], []byte("a small change"))

	patch, err := Encode(base, edited)
	require.NoError(t, err)
	assert.True(t, KeepDelta(int64(len(patch)), int64(len(edited))))
}

func rawPatch(t *testing.T, baseLen, targetLen uint32, body []byte) []byte {
	t.Helper()
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], baseLen)
	binary.LittleEndian.PutUint32(header[4:8], targetLen)

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll(append(header, body...), nil)
}

func TestDecode_Rejects(t *testing.T) {
	base := []byte("base content")

	_, err := Decode(base, rawPatch(t, uint32(len(base)), 0, nil))
	assert.ErrorIs(t, err, ErrEmptyTarget)

	_, err = Decode(base, rawPatch(t, uint32(len(base)), MaxTargetSize+1, nil))
	assert.ErrorIs(t, err, ErrTargetTooBig)

	_, err = Decode(base, []byte("definitely not zstd"))
	assert.ErrorIs(t, err, ErrMalformed)

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	short := enc.EncodeAll([]byte{1, 2, 3}, nil)
	require.NoError(t, enc.Close())
	_, err = Decode(base, short)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecode_ShortBodyReadsAsZero(t *testing.T) {
	base := []byte{1, 2, 3, 4}
	// body covers only two of the four target bytes; the tail XORs against zero
	got, err := Decode(base, rawPatch(t, 4, 6, []byte{1, 2}))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 3, 4, 0, 0}, got)
}

func TestDecode_IgnoresDeclaredBaseLength(t *testing.T) {
	base := []byte{0x10, 0x20, 0x30, 0x40, 0x50}

	got, err := Decode(base, rawPatch(t, 3, 4, []byte{1, 2, 3, 4}))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, got)

	got, err = Decode(base[:2], rawPatch(t, 9, 4, []byte{1, 2, 3, 4}))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x11, 0x22, 3, 4}, got)
}

func TestKeepDelta(t *testing.T) {
	assert.True(t, KeepDelta(59, 100))
	assert.False(t, KeepDelta(60, 100))
	assert.False(t, KeepDelta(80, 100))
	assert.False(t, KeepDelta(0, 0))
}

func TestXorInto(t *testing.T) {
	dst := make([]byte, 3)
	xorInto(dst, []byte{0xf0}, []byte{0x0f, 0xaa})
	assert.True(t, bytes.Equal([]byte{0xff, 0xaa, 0x00}, dst))
}
