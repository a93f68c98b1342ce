package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/offlinegate/internal/common"
)

// ErrorResponse is the body of every non-2xx control API answer.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// mapError turns a sentinel error into status and code.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrUnknownMessage):
		return http.StatusBadRequest, "UNKNOWN_MESSAGE"
	case errors.Is(err, common.ErrUnknownCollection):
		return http.StatusNotFound, "UNKNOWN_COLLECTION"
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, common.ErrNotActive):
		return http.StatusConflict, "NOT_ACTIVE"
	case errors.Is(err, common.ErrInvalidRecord), errors.Is(err, common.ErrMissingKey):
		return http.StatusBadRequest, "INVALID_RECORD"
	case errors.Is(err, common.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
