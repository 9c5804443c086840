package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	log "github.com/sirupsen/logrus"
)

// S3API is the part of the S3 client the store uses
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config selects the bucket. Credentials come from the default AWS chain.
type S3Config struct {
	Bucket string
	// Prefix is prepended to every key
	Prefix string
	Region string
	// Endpoint overrides the service endpoint, e.g. for localstack or minio. Enables path style addressing.
	Endpoint string
}

// S3 stores objects in a bucket
type S3 struct {
	client S3API
	bucket string
	prefix string
}

// NewS3 loads the default AWS configuration and returns a store for cfg.Bucket
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(cfg.Endpoint))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	log.Infof("using s3 bucket %s", cfg.Bucket)
	return NewS3WithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3WithClient returns a store using an existing client
func NewS3WithClient(client S3API, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

// Put uploads data under key
func (s *S3) Put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.CacheControl != "" {
		input.CacheControl = aws.String(opts.CacheControl)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, objectKey, err)
	}
	log.Debugf("uploaded s3://%s/%s (%d bytes)", s.bucket, objectKey, len(data))
	return nil
}

// Get downloads the object stored under key
func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, objectKey, err)
	}
	defer func() {
		if err := out.Body.Close(); err != nil {
			log.Warnf("error closing s3 object body: %v", err)
		}
	}()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", s.bucket, objectKey, err)
	}
	return data, nil
}

func (s *S3) objectKey(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return cleaned, nil
	}
	return path.Join(s.prefix, cleaned), nil
}
