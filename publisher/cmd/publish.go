package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kivyx/ota/publisher/objectstore"
	"github.com/kivyx/ota/publisher/publish"
	"github.com/kivyx/ota/shared/ota/protocol"
	"github.com/kivyx/ota/shared/ota/sign"
)

var (
	rel          publish.Release
	bundlePath   string
	targetRn     string
	targetArch   []string
	cdnBase      string
	keyID        string
	keyPath      string
	storeDir     string
	s3Cfg        objectstore.S3Config
	serverURL    string
	tlogEntryID  string
	maxBundleMiB int64

	publishCmd = &cobra.Command{
		Use:   "publish",
		Short: "sign and upload a bundle archive as a new release",
		Example: "  ota-publish publish --app shop --platform ios --version 1.4.0 --version-code 140 \\\n" +
			"    --binary-version '>=1.0.0' --bundle dist/bundle.zip --cdn-base https://cdn.example.com \\\n" +
			"    --key-id ota-prod-v1 --key /etc/kivyx-ota/signing.pem --store-dir /var/lib/kivyx-ota/cdn",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withSignalCancel(cmd.Context())
			defer cancel()

			res, err := runPublish(ctx)
			if res != nil {
				cmd.Printf("published %s/%s/%s %s (%d)\n", rel.App, rel.Platform, rel.Channel, rel.Version, rel.VersionCode)
				cmd.Printf("manifest: %s\n", res.ManifestURL)
				if res.DeltaSize > 0 {
					cmd.Printf("delta from %d: %d bytes\n", res.Manifest.Delta.BaseVersionCode, res.DeltaSize)
				}
			}
			return err
		},
	}
)

func init() {
	f := publishCmd.Flags()
	f.StringVar(&rel.App, "app", "", "application name")
	f.StringVar(&rel.Platform, "platform", "", "platform, e.g. ios or android")
	f.StringVar(&rel.Channel, "channel", protocol.DefaultChannel, "release channel")
	f.StringVar(&rel.Version, "version", "", "human readable version, also used in object keys")
	f.Int64Var(&rel.VersionCode, "version-code", 0, "monotonically increasing release number")
	f.StringVar(&rel.BinaryVersion, "binary-version", "", "semver range of compatible host binaries, e.g. '>=1.2.0 <2.0.0'")
	f.StringVar(&rel.RuntimeVersion, "runtime-version", "", "runtime version the bundle requires")
	f.Float64Var(&rel.Rollout, "rollout", 1, "percentage of devices the release is offered to")
	f.BoolVar(&rel.Mandatory, "mandatory", false, "offer the release to every device regardless of rollout")
	f.StringVar(&rel.Encoding, "encoding", protocol.EncodingIdentity, "artifact encoding: identity or zstd")
	f.Int64Var(&rel.BaseVersionCode, "base-version-code", 0, "version code to build the delta against. 0 picks the newest older release")
	f.BoolVar(&rel.NoDelta, "no-delta", false, "skip delta generation")
	f.StringVar(&targetRn, "target-rn", "", "build tool version range the release is limited to")
	f.StringSliceVar(&targetArch, "target-arch", nil, "CPU architectures the release is limited to")

	f.StringVar(&bundlePath, "bundle", "", "bundle zip archive")
	f.Int64Var(&maxBundleMiB, "max-bundle-mib", 100, "refuse bundles larger than this")
	f.StringVar(&cdnBase, "cdn-base", "", "public base URL the store is served under")
	f.StringVar(&keyID, "key-id", "", "id devices know the signing key by")
	f.StringVar(&keyPath, "key", "", "PEM encoded P-256 private key")

	f.StringVar(&storeDir, "store-dir", "", "publish into a local directory")
	f.StringVar(&s3Cfg.Bucket, "s3-bucket", "", "publish into an S3 bucket")
	f.StringVar(&s3Cfg.Prefix, "s3-prefix", "", "key prefix inside the bucket")
	f.StringVar(&s3Cfg.Region, "s3-region", "", "bucket region, defaults to the AWS environment")
	f.StringVar(&s3Cfg.Endpoint, "s3-endpoint", "", "custom S3 endpoint, e.g. a localstack or minio URL")

	f.StringVar(&serverURL, "server", "", "decision service URL to register the release with")
	f.StringVar(&tlogEntryID, "transparency-log-id", "", "transparency log entry id of the attestation, recorded in the manifest provenance")
}

func runPublish(ctx context.Context) (*publish.Result, error) {
	if bundlePath == "" {
		return nil, errors.New("--bundle is required")
	}
	if cdnBase == "" {
		return nil, errors.New("--cdn-base is required")
	}
	if keyID == "" || keyPath == "" {
		return nil, errors.New("--key-id and --key are required")
	}

	info, err := os.Stat(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("bundle: %w", err)
	}
	if info.Size() > maxBundleMiB<<20 {
		return nil, fmt.Errorf("bundle has %d bytes, limit is %d MiB", info.Size(), maxBundleMiB)
	}
	bundle, err := os.ReadFile(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}

	signer, err := sign.LoadECDSASigner(keyID, keyPath)
	if err != nil {
		return nil, err
	}

	store, err := newObjectStore(ctx)
	if err != nil {
		return nil, err
	}

	var opts []publish.Option
	if tlogEntryID != "" {
		opts = append(opts, publish.WithTransparencyLog(publish.StaticTransparencyLog(tlogEntryID)))
	}
	if serverURL != "" {
		opts = append(opts, publish.WithRegistrar(publish.NewHTTPRegistrar(serverURL, nil)))
	}

	r := rel
	if targetRn != "" || len(targetArch) > 0 {
		r.Targeting = &protocol.Targeting{BuildTool: targetRn, Arch: targetArch}
	}

	log.Infof("publishing %s (%d bytes) as %s/%s %s", bundlePath, len(bundle), r.App, r.Platform, r.Version)
	return publish.New(store, signer, cdnBase, opts...).Publish(ctx, r, bundle)
}

func newObjectStore(ctx context.Context) (objectstore.ObjectStore, error) {
	switch {
	case storeDir != "" && s3Cfg.Bucket != "":
		return nil, errors.New("--store-dir and --s3-bucket are mutually exclusive")
	case storeDir != "":
		return objectstore.NewLocal(storeDir)
	case s3Cfg.Bucket != "":
		return objectstore.NewS3(ctx, s3Cfg)
	default:
		return nil, errors.New("one of --store-dir or --s3-bucket is required")
	}
}
