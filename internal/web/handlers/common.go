package handlers

import (
	"errors"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/kozaktomas/facepass/internal/database"
	"github.com/kozaktomas/facepass/internal/descriptors"
	"github.com/kozaktomas/facepass/internal/enrollment"
	"github.com/kozaktomas/facepass/internal/media"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondEnrollmentError maps domain errors to HTTP responses.
func respondEnrollmentError(w http.ResponseWriter, err error) {
	var storageErr *enrollment.StorageError
	switch {
	case errors.Is(err, enrollment.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrDuplicateIdentity):
		respondError(w, http.StatusConflict, "identity already exists")
	case errors.Is(err, database.ErrIdentityNotFound):
		respondError(w, http.StatusNotFound, "identity not found")
	case errors.Is(err, descriptors.ErrNoIdentities):
		respondError(w, http.StatusConflict, "no identities enrolled")
	case errors.Is(err, media.ErrDeviceUnavailable):
		respondError(w, http.StatusServiceUnavailable, "media device unavailable")
	case errors.As(err, &storageErr):
		respondError(w, http.StatusInternalServerError, "storage error")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
