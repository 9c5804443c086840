// Package reporter sends device telemetry events to the decision service.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kivyx/ota/shared/management/http/api"
	"github.com/kivyx/ota/shared/management/status"
	"github.com/kivyx/ota/version"
)

const (
	telemetryPath  = "/v1/telemetry"
	defaultTimeout = 10 * time.Second
)

// Identity of the reporting device and the channel it follows
type Identity struct {
	App      string
	Platform string
	Channel  string
	DeviceID string
}

// Reporter posts telemetry events. The zero value is not usable, see New.
type Reporter struct {
	endpoint string
	identity Identity
	client   *http.Client
	now      func() time.Time
}

// New returns a Reporter posting to serverURL. A nil client uses a client with a short timeout.
func New(serverURL string, identity Identity, client *http.Client) *Reporter {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Reporter{
		endpoint: strings.TrimSuffix(serverURL, "/") + telemetryPath,
		identity: identity,
		client:   client,
		now:      time.Now,
	}
}

// Report sends one event for versionCode
func (r *Reporter) Report(ctx context.Context, eventType string, versionCode int64) error {
	ts := r.now().UTC()
	body, err := json.Marshal(api.TelemetryEventRequest{
		App:         r.identity.App,
		Platform:    r.identity.Platform,
		Channel:     r.identity.Channel,
		VersionCode: versionCode,
		DeviceId:    r.identity.DeviceID,
		EventType:   eventType,
		Timestamp:   &ts,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent("client"))

	resp, err := r.client.Do(req)
	if err != nil {
		return status.Errorf(status.Transport, "send %s event: %w", eventType, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnf("error closing response body: %v", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return status.Errorf(status.Transport, "telemetry endpoint answered %d", resp.StatusCode)
	}
	log.Debugf("reported %s for version %d", eventType, versionCode)
	return nil
}
