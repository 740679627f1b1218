package handlers

import (
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/kozaktomas/facepass/internal/constants"
	"github.com/kozaktomas/facepass/internal/database"
	"github.com/kozaktomas/facepass/internal/enrollment"
)

// IdentitiesHandler handles enrollment and identity listing endpoints.
type IdentitiesHandler struct {
	coordinator *enrollment.Coordinator
	store       database.IdentityReader
}

// NewIdentitiesHandler creates a new identities handler.
func NewIdentitiesHandler(coordinator *enrollment.Coordinator, store database.IdentityReader) *IdentitiesHandler {
	return &IdentitiesHandler{
		coordinator: coordinator,
		store:       store,
	}
}

// EnrollResponse is returned after a successful enrollment.
type EnrollResponse struct {
	IdentityID int64  `json:"identity_id"`
	Name       string `json:"name"`
	Samples    int    `json:"samples"`
}

// CheckRequest asks whether a name is enrolled.
type CheckRequest struct {
	Name string `json:"name"`
}

// IdentityResponse is one entry of the identity list.
type IdentityResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	SampleCount int    `json:"sample_count"`
}

// SampleRef identifies a stored sample.
type SampleRef struct {
	SampleID int64 `json:"sample_id"`
}

// readUploadedFile reads one multipart file up to the frame size limit.
func readUploadedFile(fh *multipart.FileHeader) ([]byte, error) {
	file, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %s", fh.Filename)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, constants.MaxFrameSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %s", fh.Filename)
	}
	if len(data) > constants.MaxFrameSize {
		return nil, fmt.Errorf("file too large: %s", fh.Filename)
	}
	return data, nil
}

// Enroll creates an identity from a name and uploaded face images.
func (h *IdentitiesHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	files := r.MultipartForm.File["images[]"]
	if len(files) == 0 {
		files = r.MultipartForm.File["images"]
	}
	samples := make([][]byte, 0, len(files))
	for _, fh := range files {
		data, err := readUploadedFile(fh)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		samples = append(samples, data)
	}

	result, err := h.coordinator.Enroll(r.Context(), r.FormValue("name"), samples)
	if err != nil {
		log.Printf("Enrollment of %q failed: %v", sanitizeForLog(r.FormValue("name")), err)
		respondEnrollmentError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, EnrollResponse{
		IdentityID: result.Identity.ID,
		Name:       result.Identity.Name,
		Samples:    len(result.Samples),
	})
}

// Check reports whether a name is already enrolled.
func (h *IdentitiesHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	exists, err := h.coordinator.Exists(r.Context(), req.Name)
	if err != nil {
		respondEnrollmentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// List returns every enrolled identity.
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	identities, err := h.store.ListIdentities(r.Context())
	if err != nil {
		log.Printf("Listing identities failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list identities")
		return
	}

	result := make([]IdentityResponse, 0, len(identities))
	for _, identity := range identities {
		result = append(result, IdentityResponse{
			ID:          identity.ID,
			Name:        identity.Name,
			SampleCount: identity.SampleCount,
		})
	}
	respondJSON(w, http.StatusOK, result)
}

// ListSamples returns the sample ids of one identity.
func (h *IdentitiesHandler) ListSamples(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid identity id")
		return
	}

	identity, err := h.store.GetIdentity(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get identity")
		return
	}
	if identity == nil {
		respondError(w, http.StatusNotFound, "identity not found")
		return
	}

	ids, err := h.store.ListSampleIDs(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list samples")
		return
	}

	result := make([]SampleRef, 0, len(ids))
	for _, sampleID := range ids {
		result = append(result, SampleRef{SampleID: sampleID})
	}
	respondJSON(w, http.StatusOK, result)
}
