package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/kivyx/ota/shared/management/http/api"
	"github.com/kivyx/ota/shared/management/http/util"
	"github.com/kivyx/ota/shared/management/status"
	"github.com/kivyx/ota/version"
)

const (
	releasesPath        = "/v1/releases"
	registrarTimeout    = 15 * time.Second
	maxErrorMessageSize = 4096
)

// Registrar tells the decision service about a published release
type Registrar interface {
	Register(ctx context.Context, req api.ReleaseRequest) error
}

// HTTPRegistrar posts releases to the decision service, retrying transport failures and 5xx answers
type HTTPRegistrar struct {
	endpoint   string
	client     *http.Client
	newBackOff func() backoff.BackOff
}

// NewHTTPRegistrar returns a Registrar for the service at serverURL. A nil client uses a client with a short timeout.
func NewHTTPRegistrar(serverURL string, client *http.Client) *HTTPRegistrar {
	if client == nil {
		client = &http.Client{Timeout: registrarTimeout}
	}
	return &HTTPRegistrar{
		endpoint: strings.TrimSuffix(serverURL, "/") + releasesPath,
		client:   client,
		newBackOff: func() backoff.BackOff {
			return &backoff.ExponentialBackOff{
				InitialInterval:     time.Second,
				RandomizationFactor: backoff.DefaultRandomizationFactor,
				Multiplier:          backoff.DefaultMultiplier,
				MaxInterval:         10 * time.Second,
				MaxElapsedTime:      time.Minute,
				Stop:                backoff.Stop,
				Clock:               backoff.SystemClock,
			}
		},
	}
}

// Register upserts the release row
func (r *HTTPRegistrar) Register(ctx context.Context, req api.ReleaseRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal release: %w", err)
	}

	operation := func() error {
		err := r.post(ctx, body)
		if err != nil && status.IsType(err, status.Transport) && ctx.Err() == nil {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	err = backoff.RetryNotify(operation, backoff.WithContext(r.newBackOff(), ctx), func(err error, d time.Duration) {
		log.Warnf("retrying release registration in %v due to error %v", d, err)
	})

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	if err != nil {
		return err
	}
	log.Infof("registered %s/%s %s (%d) with the decision service", req.App, req.Platform, req.Version, req.VersionCode)
	return nil
}

func (r *HTTPRegistrar) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent("publisher"))

	resp, err := r.client.Do(req)
	if err != nil {
		return status.Errorf(status.Transport, "register release: %v", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnf("error closing response body: %v", cerr)
		}
	}()

	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg := http.StatusText(resp.StatusCode)
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorMessageSize))
	var errResp util.ErrorResponse
	if json.Unmarshal(raw, &errResp) == nil && errResp.Message != "" {
		msg = errResp.Message
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return status.Errorf(status.Transport, "decision service answered %d: %s", resp.StatusCode, msg)
	}
	return status.Errorf(status.InvalidArgument, "decision service rejected release (%d): %s", resp.StatusCode, msg)
}
