package util

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kivyx/ota/shared/management/status"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{name: "not found", err: status.NewReleaseNotFoundError("a", "ios", "Production", 3), wantStatus: http.StatusNotFound, wantMsg: "resource not found"},
		{name: "bad request keeps message", err: status.Errorf(status.BadRequest, "missing params"), wantStatus: http.StatusBadRequest, wantMsg: "missing params"},
		{name: "invalid argument", err: status.Errorf(status.InvalidArgument, "rollout must be within [0,100]"), wantStatus: http.StatusUnprocessableEntity, wantMsg: "rollout must be within [0,100]"},
		{name: "unknown error hidden", err: errors.New("dial tcp 10.0.0.1: refused"), wantStatus: http.StatusInternalServerError, wantMsg: "internal server error"},
		{name: "internal hidden", err: status.Errorf(status.Internal, "table releases locked"), wantStatus: http.StatusInternalServerError, wantMsg: "internal server error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(context.Background(), tc.err, rec)

			assert.Equal(t, tc.wantStatus, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tc.wantMsg, body.Message)
			assert.Equal(t, tc.wantStatus, body.Code)
		})
	}
}

func TestSanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "open [path] failed", sanitizeErrorMessage("open /var/lib/ota/store.db failed"))
	assert.Equal(t, "bad [database detail]", sanitizeErrorMessage("bad column: rollout"))
	assert.True(t, strings.HasSuffix(sanitizeErrorMessage(strings.Repeat("x", 500)), "..."))
}

func TestWriteJSONObject(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONObject(context.Background(), rec, OKResponse{OK: true})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=UTF-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}
