// Package sign verifies and produces ECDSA P-256 signatures over canonical JSON documents.
package sign

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/kivyx/ota/shared/ota/protocol"
)

var (
	ErrNoSignature      = errors.New("document carries no signature")
	ErrUnknownKey       = errors.New("document is signed by an unknown key")
	ErrInvalidSignature = errors.New("signature does not match document")
)

// signedHeader holds the members that select the verification path
type signedHeader struct {
	Signature string             `json:"signature"`
	KeyID     string             `json:"key_id"`
	Cose      *protocol.Envelope `json:"cose"`
}

// Verify is the boolean form of VerifyDocument
func Verify(doc []byte, keys *KeyRing) bool {
	_, err := VerifyDocument(doc, keys)
	return err == nil
}

// VerifyDocument checks the signature of doc and returns the id of the key that produced it.
// The envelope form is preferred when it is complete; otherwise the legacy signature and key_id are used.
func VerifyDocument(doc []byte, keys *KeyRing) (string, error) {
	var hdr signedHeader
	if err := json.Unmarshal(doc, &hdr); err != nil {
		return "", fmt.Errorf("decode signature members: %w", err)
	}

	keyID, encodedSig, err := selectSignature(hdr)
	if err != nil {
		return "", err
	}

	pub, ok := keys.Get(keyID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, keyID)
	}

	der, err := base64.StdEncoding.DecodeString(encodedSig)
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	sig, err := DecodeDERSignature(der)
	if err != nil {
		return "", err
	}

	payload, err := CanonicalPayload(doc)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(payload)

	r := new(big.Int).SetBytes(sig[:scalarSize])
	s := new(big.Int).SetBytes(sig[scalarSize:])
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return "", ErrInvalidSignature
	}
	return keyID, nil
}

func selectSignature(hdr signedHeader) (string, string, error) {
	if env := hdr.Cose; env != nil && env.Kid != "" && env.Sign1 != "" {
		if env.Alg != "" && env.Alg != protocol.EnvelopeAlgES256 {
			return "", "", fmt.Errorf("unsupported envelope algorithm %q", env.Alg)
		}
		return env.Kid, env.Sign1, nil
	}
	if hdr.Signature == "" || hdr.KeyID == "" {
		return "", "", ErrNoSignature
	}
	return hdr.KeyID, hdr.Signature, nil
}
