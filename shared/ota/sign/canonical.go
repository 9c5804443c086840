package sign

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	signatureField = "signature"
	envelopeField  = "cose"
	keyIDField     = "key_id"
)

// CanonicalPayload returns the bytes a signature covers: the JSON object without its signature
// and envelope members, with object keys sorted and numbers kept exactly as written.
func CanonicalPayload(doc []byte) ([]byte, error) {
	obj, err := decodeObject(doc)
	if err != nil {
		return nil, err
	}
	delete(obj, signatureField)
	delete(obj, envelopeField)
	return encodeObject(obj)
}

func decodeObject(doc []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if obj == nil {
		return nil, errors.New("document is not a JSON object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after document")
	}
	return obj, nil
}

func encodeObject(obj map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(obj); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
