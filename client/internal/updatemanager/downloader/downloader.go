package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kivyx/ota/shared/management/status"
	"github.com/kivyx/ota/version"
)

const (
	DefaultTimeout = 60 * time.Second

	// MaxDocumentSize bounds index and manifest bodies
	MaxDocumentSize int64 = 1 << 20
	// MaxArtifactSize bounds artifact and patch bodies
	MaxArtifactSize int64 = 200 << 20
)

// Response of a conditional fetch. Body is empty when NotModified is set.
type Response struct {
	Body        []byte
	ETag        string
	NotModified bool
}

// Downloader fetches update documents and artifacts over HTTP
type Downloader struct {
	client *http.Client
}

// New returns a Downloader using client, or a client with DefaultTimeout when nil
func New(client *http.Client) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Downloader{client: client}
}

// FetchConditional performs a GET revalidating against etag when it is not empty.
// Network failures and unexpected statuses are reported as status.Transport, bodies larger than limit as status.Integrity.
func (d *Downloader) FetchConditional(ctx context.Context, url, etag string, limit int64) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, status.Errorf(status.BadRequest, "failed to create HTTP request: %v", err)
	}

	req.Header.Set("User-Agent", version.UserAgent("client"))
	req.Header.Set("Cache-Control", "no-cache")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, status.Errorf(status.Transport, "failed to perform HTTP request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnf("error closing response body: %v", cerr)
		}
	}()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return &Response{ETag: etagOr(resp.Header.Get("ETag"), etag), NotModified: true}, nil
	case http.StatusOK:
	default:
		return nil, status.Errorf(status.Transport, "unexpected HTTP status %d from %s", resp.StatusCode, url)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, status.Errorf(status.Transport, "failed to read response body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, status.Errorf(status.Integrity, "response from %s exceeds %d bytes", url, limit)
	}

	return &Response{Body: data, ETag: resp.Header.Get("ETag")}, nil
}

// Fetch downloads url unconditionally
func (d *Downloader) Fetch(ctx context.Context, url string, limit int64) ([]byte, error) {
	resp, err := d.FetchConditional(ctx, url, "", limit)
	if err != nil {
		return nil, err
	}
	if resp.NotModified {
		return nil, errors.New("unexpected not modified response")
	}
	return resp.Body, nil
}

func etagOr(etag, fallback string) string {
	if etag == "" {
		return fallback
	}
	return etag
}

// String is used in log lines
func (r *Response) String() string {
	if r.NotModified {
		return fmt.Sprintf("not modified (etag %s)", r.ETag)
	}
	return fmt.Sprintf("%d bytes (etag %s)", len(r.Body), r.ETag)
}
