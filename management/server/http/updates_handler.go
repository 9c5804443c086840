package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/kivyx/ota/management/server"
	"github.com/kivyx/ota/management/server/types"
	"github.com/kivyx/ota/shared/management/http/api"
	"github.com/kivyx/ota/shared/management/http/util"
	"github.com/kivyx/ota/shared/management/status"
	"github.com/kivyx/ota/shared/ota/protocol"
)

// maxRequestBodySize bounds JSON request bodies
const maxRequestBodySize = 1 << 20

// UpdatesHandler answers eligibility queries and rollout changes
type UpdatesHandler struct {
	updateManager server.UpdateManager
}

// NewUpdatesHandler creates a new UpdatesHandler HTTP handler
func NewUpdatesHandler(updateManager server.UpdateManager) *UpdatesHandler {
	return &UpdatesHandler{updateManager: updateManager}
}

// GetUpdate returns the manifest URL of the release a device should install, or 204 when there is none
func (h *UpdatesHandler) GetUpdate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var current int64
	if raw := q.Get("current_version_code"); raw != "" {
		vc, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			util.WriteError(r.Context(), status.Errorf(status.BadRequest, "invalid current_version_code %q", raw), w)
			return
		}
		current = vc
	}

	query := server.EligibilityQuery{
		App:                q.Get("app"),
		Platform:           q.Get("platform"),
		Channel:            q.Get("channel"),
		CurrentVersionCode: current,
		Device: protocol.DeviceContext{
			DeviceID:         q.Get("device_id"),
			BinaryVersion:    q.Get("binary_version"),
			RuntimeVersion:   q.Get("runtime_version"),
			BuildToolVersion: q.Get("rn"),
			Arch:             q.Get("arch"),
		},
	}

	release, err := h.updateManager.GetEligibleRelease(r.Context(), query)
	if err != nil {
		util.WriteError(r.Context(), err, w)
		return
	}
	if release == nil {
		util.WriteNoContent(w)
		return
	}

	util.WriteJSONObject(r.Context(), w, &api.EligibilityResponse{
		ManifestUrl: release.ManifestURL,
		VersionCode: release.VersionCode,
	})
}

// SetRollout changes the rollout percentage of one release
func (h *UpdatesHandler) SetRollout(w http.ResponseWriter, r *http.Request) {
	var req api.RolloutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		util.WriteErrorResponse("couldn't parse JSON request", http.StatusBadRequest, w)
		return
	}
	if req.Rollout == nil {
		util.WriteError(r.Context(), status.Errorf(status.BadRequest, "rollout is required"), w)
		return
	}

	key := types.ReleaseKey{
		App:         req.App,
		Platform:    req.Platform,
		Channel:     req.Channel,
		VersionCode: req.VersionCode,
	}
	if err := h.updateManager.SetRollout(r.Context(), key, *req.Rollout); err != nil {
		util.WriteError(r.Context(), err, w)
		return
	}

	util.WriteJSONObject(r.Context(), w, util.OKResponse{OK: true})
}
