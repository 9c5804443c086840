package http

import (
	"encoding/json"
	"net/http"

	"github.com/kivyx/ota/management/server"
	"github.com/kivyx/ota/management/server/types"
	"github.com/kivyx/ota/shared/management/http/api"
	"github.com/kivyx/ota/shared/management/http/util"
)

// TelemetryHandler ingests device events
type TelemetryHandler struct {
	updateManager server.UpdateManager
}

// NewTelemetryHandler creates a new TelemetryHandler HTTP handler
func NewTelemetryHandler(updateManager server.UpdateManager) *TelemetryHandler {
	return &TelemetryHandler{updateManager: updateManager}
}

// RecordEvent appends one device event
func (h *TelemetryHandler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	var req api.TelemetryEventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		util.WriteErrorResponse("couldn't parse JSON request", http.StatusBadRequest, w)
		return
	}

	event := &types.TelemetryEvent{
		App:         req.App,
		Platform:    req.Platform,
		Channel:     req.Channel,
		VersionCode: req.VersionCode,
		DeviceID:    req.DeviceId,
		EventType:   req.EventType,
	}
	if req.Timestamp != nil {
		event.Timestamp = *req.Timestamp
	}

	if err := h.updateManager.RecordTelemetryEvent(r.Context(), event); err != nil {
		util.WriteError(r.Context(), err, w)
		return
	}

	util.WriteJSONObject(r.Context(), w, util.OKResponse{OK: true})
}
