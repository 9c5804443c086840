package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigest(t *testing.T) {
	// sha256("") in base64
	assert.Equal(t, "47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=", Digest(nil))
	assert.True(t, DigestMatches([]byte("bundle"), Digest([]byte("bundle"))))
	assert.False(t, DigestMatches([]byte("bundle"), Digest([]byte("bundle2"))))

	h := NewDigestHash()
	h.Write([]byte("bun"))
	h.Write([]byte("dle"))
	assert.Equal(t, Digest([]byte("bundle")), EncodeDigest(h.Sum(nil)))
}
