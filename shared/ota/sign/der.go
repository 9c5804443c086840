package sign

import (
	"errors"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

const scalarSize = 32

var errMalformedDER = errors.New("malformed DER signature")

// DecodeDERSignature converts an ASN.1 ECDSA-Sig-Value into the fixed 64 byte r||s form.
// Integers may carry a leading sign byte or be shorter than 32 bytes; both are normalized.
func DecodeDERSignature(der []byte) ([]byte, error) {
	var (
		input = cryptobyte.String(der)
		inner cryptobyte.String
		r, s  cryptobyte.String
	)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) || !input.Empty() {
		return nil, errMalformedDER
	}
	if !inner.ReadASN1(&r, asn1.INTEGER) || !inner.ReadASN1(&s, asn1.INTEGER) || !inner.Empty() {
		return nil, errMalformedDER
	}
	if len(r) == 0 || len(s) == 0 {
		return nil, errMalformedDER
	}

	sig := make([]byte, 2*scalarSize)
	copy(sig[:scalarSize], fixedScalar(r))
	copy(sig[scalarSize:], fixedScalar(s))
	return sig, nil
}

// EncodeDERSignature is the inverse of DecodeDERSignature for a 64 byte r||s signature
func EncodeDERSignature(sig []byte) ([]byte, error) {
	if len(sig) != 2*scalarSize {
		return nil, errors.New("signature must be 64 bytes")
	}
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		addScalar(b, sig[:scalarSize])
		addScalar(b, sig[scalarSize:])
	})
	return b.Bytes()
}

func addScalar(b *cryptobyte.Builder, v []byte) {
	v = trimLeadingZeros(v)
	b.AddASN1(asn1.INTEGER, func(b *cryptobyte.Builder) {
		if len(v) == 0 || v[0]&0x80 != 0 {
			b.AddUint8(0)
		}
		b.AddBytes(v)
	})
}

// fixedScalar left pads v to 32 bytes, keeping the rightmost 32 bytes of longer values
func fixedScalar(v []byte) []byte {
	v = trimLeadingZeros(v)
	if len(v) > scalarSize {
		v = v[len(v)-scalarSize:]
	}
	out := make([]byte, scalarSize)
	copy(out[scalarSize-len(v):], v)
	return out
}

func trimLeadingZeros(v []byte) []byte {
	for len(v) > 0 && v[0] == 0 {
		v = v[1:]
	}
	return v
}
