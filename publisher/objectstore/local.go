package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/kivyx/ota/util"
)

// Local writes objects below a directory, typically the one the server's CDN origin serves
type Local struct {
	dir string
}

// NewLocal returns a Local store rooted at dir. The directory is created when missing.
func NewLocal(dir string) (*Local, error) {
	if !filepath.IsAbs(dir) {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolve store dir: %w", err)
		}
		dir = abs
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Put replaces the object atomically. Options are ignored, the CDN origin derives headers itself.
func (l *Local) Put(ctx context.Context, key string, data []byte, _ PutOptions) error {
	file, err := l.path(key)
	if err != nil {
		return err
	}
	if err := util.WriteBytes(ctx, file, data); err != nil {
		return fmt.Errorf("write object %s: %w", key, err)
	}
	// WriteBytes creates 0600 files, the origin may run as another user
	if err := os.Chmod(file, 0644); err != nil {
		return fmt.Errorf("chmod object %s: %w", key, err)
	}
	log.Debugf("stored %s (%d bytes)", file, len(data))
	return nil
}

// Get reads the object stored under key
func (l *Local) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := l.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

func (l *Local) path(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.dir, filepath.FromSlash(cleaned)), nil
}
