// Package api provides the JSON HTTP handlers for practice, progress and
// training.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayusman/kai/internal/capture"
	"github.com/ayusman/kai/internal/classifier"
	"github.com/ayusman/kai/internal/practice"
	"github.com/ayusman/kai/internal/training"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeFailure maps err to a status code and writes it together with the
// user-facing message of the component that failed.
func writeFailure(w http.ResponseWriter, err error, message string) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error(), Message: message})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, classifier.ErrUnknownVowel),
		errors.Is(err, training.ErrUnknownLabel):
		return http.StatusNotFound
	case errors.Is(err, practice.ErrInvalidTransition),
		errors.Is(err, training.ErrBusy),
		errors.Is(err, training.ErrCameraOff),
		errors.Is(err, capture.ErrCameraNotOpen):
		return http.StatusConflict
	case errors.Is(err, training.ErrHandNotDetected),
		errors.Is(err, training.ErrEmptyDataset):
		return http.StatusUnprocessableEntity
	case errors.Is(err, training.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, classifier.ErrModelUnavailable),
		errors.Is(err, practice.ErrCameraUnavailable),
		errors.Is(err, training.ErrCameraUnavailable),
		errors.Is(err, training.ErrNoEndpoint):
		return http.StatusServiceUnavailable
	case errors.Is(err, training.ErrSubmitFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON request body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
