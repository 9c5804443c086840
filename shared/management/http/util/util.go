package util

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/kivyx/ota/shared/management/status"
)

const maxErrorMsgLength = 200

var (
	pathRegex  = regexp.MustCompile(`(/[^\s]+|\\[^\s]+|[A-Z]:\\[^\s]+)`)
	stackRegex = regexp.MustCompile(`(?m)^\s+at\s+.*$|goroutine\s+\d+|panic:|runtime\.`)
	dbRegex    = regexp.MustCompile(`(database|table|column|constraint|foreign key|primary key|index)[\s:]+[^\s]+`)
)

// EmptyObject is an empty struct used to return empty JSON object
type EmptyObject struct {
}

// OKResponse acknowledges a write
type OKResponse struct {
	OK bool `json:"ok"`
}

type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func setJSONHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}

// WriteJSONObject writes an object to the HTTP response in JSON format with status 200
func WriteJSONObject(ctx context.Context, w http.ResponseWriter, obj interface{}) {
	setJSONHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		log.WithContext(ctx).Errorf("failed encoding response: %v", err)
	}
}

// WriteNoContent writes an empty 204 response
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteErrorResponse prepares and writes an error response in JSON format
func WriteErrorResponse(errMsg string, httpStatus int, w http.ResponseWriter) {
	setJSONHeaders(w)
	w.WriteHeader(httpStatus)
	err := json.NewEncoder(w).Encode(&ErrorResponse{
		Message: errMsg,
		Code:    httpStatus,
	})
	if err != nil {
		http.Error(w, "failed handling request", http.StatusInternalServerError)
	}
}

// WriteError converts an error to a JSON error response.
// Known status errors map to their HTTP codes; anything else becomes a generic 500.
func WriteError(ctx context.Context, err error, w http.ResponseWriter) {
	log.WithContext(ctx).Errorf("got a handler error: %s", err.Error())

	errStatus, ok := status.FromError(err)
	httpStatus := http.StatusInternalServerError
	msg := "internal server error"

	if ok {
		switch errStatus.Type() {
		case status.NotFound:
			httpStatus = http.StatusNotFound
			msg = "resource not found"
		case status.InvalidArgument:
			httpStatus = http.StatusUnprocessableEntity
			msg = sanitizeErrorMessage(errStatus.Error())
		case status.BadRequest:
			httpStatus = http.StatusBadRequest
			msg = sanitizeErrorMessage(errStatus.Error())
		case status.PreconditionFailed:
			httpStatus = http.StatusPreconditionFailed
			msg = "precondition failed"
		case status.Integrity:
			httpStatus = http.StatusUnprocessableEntity
			msg = "document failed verification"
		case status.Transport:
			httpStatus = http.StatusBadGateway
			msg = "upstream unavailable"
		}
	} else {
		log.WithContext(ctx).Error(fmt.Sprintf("got unhandled error code, error: %s", err.Error()))
	}

	WriteErrorResponse(msg, httpStatus, w)
}

// sanitizeErrorMessage removes paths, stack traces and schema details from messages sent to clients
func sanitizeErrorMessage(errMsg string) string {
	errMsg = pathRegex.ReplaceAllString(errMsg, "[path]")
	errMsg = stackRegex.ReplaceAllString(errMsg, "")
	errMsg = dbRegex.ReplaceAllString(errMsg, "[database detail]")

	if len(errMsg) > maxErrorMsgLength {
		errMsg = errMsg[:maxErrorMsgLength] + "..."
	}
	return strings.TrimSpace(errMsg)
}
