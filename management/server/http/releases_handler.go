package http

import (
	"encoding/json"
	"net/http"

	"github.com/kivyx/ota/management/server"
	"github.com/kivyx/ota/management/server/types"
	"github.com/kivyx/ota/shared/management/http/api"
	"github.com/kivyx/ota/shared/management/http/util"
)

// ReleasesHandler lists and registers releases
type ReleasesHandler struct {
	updateManager server.UpdateManager
}

// NewReleasesHandler creates a new ReleasesHandler HTTP handler
func NewReleasesHandler(updateManager server.UpdateManager) *ReleasesHandler {
	return &ReleasesHandler{updateManager: updateManager}
}

// GetAllReleases returns the releases of a channel, newest first
func (h *ReleasesHandler) GetAllReleases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	releases, err := h.updateManager.ListReleases(r.Context(), q.Get("app"), q.Get("platform"), q.Get("channel"))
	if err != nil {
		util.WriteError(r.Context(), err, w)
		return
	}

	items := make([]api.Release, 0, len(releases))
	for _, release := range releases {
		items = append(items, release.ToAPIResponse())
	}
	util.WriteJSONObject(r.Context(), w, &api.ReleaseList{Items: items})
}

// CreateRelease registers a release, replacing one with the same version code
func (h *ReleasesHandler) CreateRelease(w http.ResponseWriter, r *http.Request) {
	var req api.ReleaseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		util.WriteErrorResponse("couldn't parse JSON request", http.StatusBadRequest, w)
		return
	}

	release := types.ReleaseFromRequest(&req)
	if err := h.updateManager.SaveRelease(r.Context(), release); err != nil {
		util.WriteError(r.Context(), err, w)
		return
	}

	util.WriteJSONObject(r.Context(), w, release.ToAPIResponse())
}
