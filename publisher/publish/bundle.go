package publish

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/kivyx/ota/shared/ota/protocol"
)

// bundleAssets hashes every file of the zip archive
func bundleAssets(bundle []byte) ([]protocol.Asset, error) {
	zr, err := zip.NewReader(bytes.NewReader(bundle), int64(len(bundle)))
	if err != nil {
		return nil, fmt.Errorf("open bundle archive: %w", err)
	}

	seen := make(map[string]struct{}, len(zr.File))
	assets := make([]protocol.Asset, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if !protocol.IsLocalPath(f.Name) {
			return nil, fmt.Errorf("bundle entry %q points outside of the bundle", f.Name)
		}
		if _, ok := seen[f.Name]; ok {
			return nil, fmt.Errorf("bundle holds %q twice", f.Name)
		}
		seen[f.Name] = struct{}{}

		digest, err := hashEntry(f)
		if err != nil {
			return nil, err
		}
		assets = append(assets, protocol.Asset{Path: f.Name, SHA256: digest})
	}
	if len(assets) == 0 {
		return nil, errors.New("bundle archive holds no files")
	}

	sort.Slice(assets, func(i, j int) bool { return assets[i].Path < assets[j].Path })
	return assets, nil
}

func hashEntry(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open bundle entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	h := protocol.NewDigestHash()
	if _, err := io.Copy(h, rc); err != nil {
		return "", fmt.Errorf("hash bundle entry %s: %w", f.Name, err)
	}
	return protocol.EncodeDigest(h.Sum(nil)), nil
}

// encodeArtifact turns the bundle archive into the bytes devices download
func encodeArtifact(bundle []byte, encoding string) ([]byte, error) {
	switch encoding {
	case "", protocol.EncodingIdentity:
		return bundle, nil
	case protocol.EncodingZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(bundle, nil), nil
	default:
		return nil, fmt.Errorf("unsupported artifact encoding %q", encoding)
	}
}
