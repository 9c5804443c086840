package sign

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/kivyx/ota/shared/ota/protocol"
)

// Signer produces a DER encoded ECDSA P-256 signature over the SHA-256 of payload.
// A cloud key management service is expected to sit behind the same interface.
type Signer interface {
	KeyID() string
	Sign(ctx context.Context, payload []byte) ([]byte, error)
}

// ECDSASigner signs with a private key held in memory
type ECDSASigner struct {
	keyID string
	key   *ecdsa.PrivateKey
}

// NewECDSASigner returns a Signer for key published under keyID
func NewECDSASigner(keyID string, key *ecdsa.PrivateKey) *ECDSASigner {
	return &ECDSASigner{keyID: keyID, key: key}
}

// LoadECDSASigner reads a PEM encoded SEC1 or PKCS#8 P-256 private key
func LoadECDSASigner(keyID, path string) (*ECDSASigner, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	block, _ := pem.Decode(content)
	if block == nil {
		return nil, errors.New("private key file holds no PEM block")
	}

	var key *ecdsa.PrivateKey
	switch block.Type {
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		var parsed any
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err == nil {
			var ok bool
			if key, ok = parsed.(*ecdsa.PrivateKey); !ok {
				err = errors.New("private key is not ECDSA")
			}
		}
	default:
		err = fmt.Errorf("unsupported PEM block %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	if key.Curve != elliptic.P256() {
		return nil, errors.New("private key is not on P-256")
	}
	return NewECDSASigner(keyID, key), nil
}

// GenerateKey creates a new P-256 private key
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// MarshalPrivateKeyPEM encodes key as a SEC1 PEM block
func MarshalPrivateKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// KeyID returns the id devices use to look up the public key
func (s *ECDSASigner) KeyID() string {
	return s.keyID
}

// Public returns the verification key
func (s *ECDSASigner) Public() *ecdsa.PublicKey {
	return &s.key.PublicKey
}

// Sign hashes payload with SHA-256 and signs the digest
func (s *ECDSASigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	return ecdsa.SignASN1(rand.Reader, s.key, digest[:])
}

// SignJSON marshals v and signs the result with SignDocument
func SignJSON(ctx context.Context, signer Signer, v any) ([]byte, error) {
	doc, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return SignDocument(ctx, signer, doc)
}

// SignDocument sets key_id to the signer's key, signs the canonical payload and returns the
// document with both the legacy signature and the envelope filled in.
func SignDocument(ctx context.Context, signer Signer, doc []byte) ([]byte, error) {
	obj, err := decodeObject(doc)
	if err != nil {
		return nil, err
	}
	delete(obj, signatureField)
	delete(obj, envelopeField)
	obj[keyIDField] = signer.KeyID()

	payload, err := encodeObject(obj)
	if err != nil {
		return nil, err
	}
	der, err := signer.Sign(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("sign payload with %s: %w", signer.KeyID(), err)
	}

	encoded := base64.StdEncoding.EncodeToString(der)
	obj[signatureField] = encoded
	obj[envelopeField] = protocol.Envelope{
		Alg:   protocol.EnvelopeAlgES256,
		Kid:   signer.KeyID(),
		Sign1: encoded,
	}
	return encodeObject(obj)
}
