package protocol

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"hash"
)

// Digest returns the standard base64 encoding of the SHA-256 of b
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// DigestMatches compares the digest of b with a published digest in constant time
func DigestMatches(b []byte, published string) bool {
	return subtle.ConstantTimeCompare([]byte(Digest(b)), []byte(published)) == 1
}

// NewDigestHash returns the hash behind Digest for streaming use
func NewDigestHash() hash.Hash {
	return sha256.New()
}

// EncodeDigest encodes a finished NewDigestHash sum
func EncodeDigest(sum []byte) string {
	return base64.StdEncoding.EncodeToString(sum)
}
