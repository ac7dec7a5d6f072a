package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/banshee-data/coordcluster/internal/clustererr"
	"github.com/banshee-data/coordcluster/internal/monitoring"
)

var logf = monitoring.Prefixed("http")

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// WriteJSONError writes a JSON error response with the given status code and message.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorBody{Error: msg})
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logf("failed to encode json response: %v", err)
	}
}

// WriteJSONOK writes a successful JSON response (200 OK).
func WriteJSONOK(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteError maps clustering errors to HTTP statuses:
// validation 400, configuration 422, invalid state 409, anything else 500.
func WriteError(w http.ResponseWriter, err error) {
	status, kind := StatusFor(err)
	if status == http.StatusInternalServerError {
		logf("internal error: %v", err)
	}
	WriteJSON(w, status, ErrorBody{Error: err.Error(), Kind: kind})
}

// StatusFor returns the HTTP status and error kind for err.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, clustererr.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, clustererr.ErrConfiguration):
		return http.StatusUnprocessableEntity, "configuration"
	case errors.Is(err, clustererr.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	default:
		return http.StatusInternalServerError, ""
	}
}

// MethodNotAllowed writes a 405 Method Not Allowed response.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// BadRequest writes a 400 Bad Request response with the given message.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusBadRequest, msg)
}

// NotFound writes a 404 Not Found response.
func NotFound(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusNotFound, msg)
}
