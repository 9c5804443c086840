package installer

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"

	nberrors "github.com/kivyx/ota/client/errors"
	"github.com/kivyx/ota/shared/management/status"
	"github.com/kivyx/ota/shared/ota/protocol"
)

const (
	// MaxBundleSize bounds the extracted size of a bundle
	MaxBundleSize int64 = 512 << 20
	// MaxBundleFiles bounds the number of entries in a bundle
	MaxBundleFiles = 50000
)

// DecodeArtifact removes the transfer encoding of a verified artifact
func DecodeArtifact(encoding string, data []byte) ([]byte, error) {
	switch encoding {
	case "", protocol.EncodingIdentity:
		return data, nil
	case protocol.EncodingZstd:
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(MaxBundleSize)))
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		defer dec.Close()

		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, status.Errorf(status.Integrity, "artifact is not valid zstd: %v", err)
		}
		return out, nil
	default:
		return nil, status.Errorf(status.Integrity, "unsupported artifact encoding %q", encoding)
	}
}

// Stage extracts the bundle archive into dst and checks every listed asset.
// Extraction happens in a sibling temp directory that is renamed over dst only after all assets verified,
// so dst either holds the complete bundle or is left as it was.
func Stage(ctx context.Context, archive []byte, assets []protocol.Asset, dst string) error {
	parent := filepath.Dir(dst)
	if err := os.MkdirAll(parent, 0o700); err != nil {
		return fmt.Errorf("create staging parent: %w", err)
	}

	tmp, err := os.MkdirTemp(parent, ".stage-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if err := os.RemoveAll(tmp); err != nil {
			log.Warnf("failed to remove staging dir %s: %v", tmp, err)
		}
	}()

	if err := extract(ctx, archive, tmp); err != nil {
		return err
	}

	if err := VerifyAssets(tmp, assets); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("remove previous %s: %w", dst, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("move staged bundle into place: %w", err)
	}
	committed = true

	log.Debugf("staged %d assets into %s", len(assets), dst)
	return nil
}

// VerifyAssets checks the digest of each asset below root and reports all mismatches together
func VerifyAssets(root string, assets []protocol.Asset) error {
	var merr *multierror.Error
	for _, a := range assets {
		if !protocol.IsLocalPath(a.Path) {
			merr = multierror.Append(merr, fmt.Errorf("asset %q escapes the bundle", a.Path))
			continue
		}
		content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(a.Path)))
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("asset %q: %w", a.Path, err))
			continue
		}
		if !protocol.DigestMatches(content, a.SHA256) {
			merr = multierror.Append(merr, fmt.Errorf("asset %q digest mismatch", a.Path))
		}
	}

	if err := nberrors.FormatErrorOrNil(merr); err != nil {
		return status.Errorf(status.Integrity, "bundle verification failed: %w", err)
	}
	return nil
}

func extract(ctx context.Context, archive []byte, root string) error {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return status.Errorf(status.Integrity, "artifact is not a zip archive: %v", err)
	}
	if len(zr.File) > MaxBundleFiles {
		return status.Errorf(status.Integrity, "bundle has %d entries, limit is %d", len(zr.File), MaxBundleFiles)
	}

	budget := MaxBundleSize
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !protocol.IsLocalPath(f.Name) {
			return status.Errorf(status.Integrity, "bundle entry %q escapes the bundle", f.Name)
		}
		target := filepath.Join(root, filepath.FromSlash(f.Name))

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o700); err != nil {
				return fmt.Errorf("create %s: %w", f.Name, err)
			}
			continue
		}
		if !f.Mode().IsRegular() {
			return status.Errorf(status.Integrity, "bundle entry %q is not a regular file", f.Name)
		}

		n, err := extractFile(f, target, budget)
		if err != nil {
			return err
		}
		budget -= n
	}
	return nil
}

func extractFile(f *zip.File, target string, budget int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return 0, fmt.Errorf("create parent of %s: %w", f.Name, err)
	}

	rc, err := f.Open()
	if err != nil {
		return 0, status.Errorf(status.Integrity, "open bundle entry %q: %v", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", f.Name, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			log.Warnf("error closing %s: %v", target, cerr)
		}
	}()

	n, err := io.Copy(out, io.LimitReader(rc, budget+1))
	if err != nil {
		return n, status.Errorf(status.Integrity, "extract bundle entry %q: %v", f.Name, err)
	}
	if n > budget {
		return n, status.Errorf(status.Integrity, "bundle exceeds %d bytes", MaxBundleSize)
	}
	return n, nil
}
