package sign

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// KeyRing holds the trusted P-256 public keys by key id
type KeyRing struct {
	keys map[string]*ecdsa.PublicKey
}

// NewKeyRing parses every entry of keys with ParsePublicKey
func NewKeyRing(keys map[string]string) (*KeyRing, error) {
	kr := &KeyRing{keys: make(map[string]*ecdsa.PublicKey, len(keys))}
	for id, encoded := range keys {
		pub, err := ParsePublicKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", id, err)
		}
		kr.Add(id, pub)
	}
	return kr, nil
}

// Add trusts pub under id, replacing any previous key with the same id
func (k *KeyRing) Add(id string, pub *ecdsa.PublicKey) {
	if k.keys == nil {
		k.keys = make(map[string]*ecdsa.PublicKey)
	}
	k.keys[id] = pub
}

// Get returns the key trusted under id
func (k *KeyRing) Get(id string) (*ecdsa.PublicKey, bool) {
	if k == nil || id == "" {
		return nil, false
	}
	pub, ok := k.keys[id]
	return pub, ok
}

// IDs returns the trusted key ids in sorted order
func (k *KeyRing) IDs() []string {
	if k == nil {
		return nil
	}
	ids := make([]string, 0, len(k.keys))
	for id := range k.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ParsePublicKey accepts a P-256 key as hex of the raw uncompressed point (04||X||Y),
// a PEM "PUBLIC KEY" block, or base64 of a DER SubjectPublicKeyInfo.
func ParsePublicKey(encoded string) (*ecdsa.PublicKey, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, errors.New("empty public key")
	}

	if strings.HasPrefix(encoded, "-----BEGIN") {
		block, _ := pem.Decode([]byte(encoded))
		if block == nil {
			return nil, errors.New("invalid PEM block")
		}
		return parsePKIX(block.Bytes)
	}

	if raw, err := hex.DecodeString(encoded); err == nil {
		pub, err := ecdsa.ParseUncompressedPublicKey(elliptic.P256(), raw)
		if err != nil {
			return nil, fmt.Errorf("parse raw public key: %w", err)
		}
		return pub, nil
	}

	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.New("public key is neither hex, PEM nor base64")
	}
	return parsePKIX(der)
}

// LoadPublicKeyFile reads a key file in any format ParsePublicKey understands
func LoadPublicKeyFile(path string) (*ecdsa.PublicKey, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return ParsePublicKey(string(content))
}

func parsePKIX(der []byte) (*ecdsa.PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse PKIX public key: %w", err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, errors.New("public key is not an ECDSA P-256 key")
	}
	return pub, nil
}

// RawPublicKeyHex encodes pub as hex of its uncompressed point
func RawPublicKeyHex(pub *ecdsa.PublicKey) (string, error) {
	key, err := pub.ECDH()
	if err != nil {
		return "", fmt.Errorf("convert public key: %w", err)
	}
	return hex.EncodeToString(key.Bytes()), nil
}
