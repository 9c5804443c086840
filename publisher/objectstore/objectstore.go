// Package objectstore holds the backends the publisher uploads release files to.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

const (
	ContentTypeJSON   = "application/json"
	ContentTypeZip    = "application/zip"
	ContentTypeBinary = "application/octet-stream"

	// CacheImmutable is used for every versioned or content addressed object
	CacheImmutable = "public, max-age=31536000, immutable"
	// CacheIndex keeps the channel index short lived on CDNs
	CacheIndex = "public, max-age=60"
)

// ErrNotFound is returned by Get when the key holds no object
var ErrNotFound = errors.New("object not found")

// PutOptions describe how an object is served
type PutOptions struct {
	ContentType  string
	CacheControl string
}

// ObjectStore is where published files land. Keys are slash separated and relative.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, opts PutOptions) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// CleanKey validates key and returns its normalized form
func CleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return cleaned, nil
}
