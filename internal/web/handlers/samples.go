package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facepass/internal/constants"
	"github.com/kozaktomas/facepass/internal/database"
	"github.com/kozaktomas/facepass/internal/enrollment"
)

// SamplesHandler handles face sample endpoints.
type SamplesHandler struct {
	coordinator *enrollment.Coordinator
	store       database.IdentityReader
}

// NewSamplesHandler creates a new samples handler.
func NewSamplesHandler(coordinator *enrollment.Coordinator, store database.IdentityReader) *SamplesHandler {
	return &SamplesHandler{
		coordinator: coordinator,
		store:       store,
	}
}

// AddSampleResponse is returned after a sample was stored.
type AddSampleResponse struct {
	SampleID   int64 `json:"sample_id"`
	IdentityID int64 `json:"identity_id"`
}

// Add appends an uploaded image to an enrolled identity.
func (h *SamplesHandler) Add(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	files := r.MultipartForm.File["image"]
	if len(files) != 1 {
		respondError(w, http.StatusBadRequest, "exactly one image is required")
		return
	}
	data, err := readUploadedFile(files[0])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sample, err := h.coordinator.AddSample(r.Context(), r.FormValue("name"), data)
	if err != nil {
		respondEnrollmentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, AddSampleResponse{SampleID: sample.ID, IdentityID: sample.IdentityID})
}

// Image serves the stored JPEG of a sample.
func (h *SamplesHandler) Image(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid sample id")
		return
	}

	sample, err := h.store.GetSample(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get sample")
		return
	}
	if sample == nil {
		respondError(w, http.StatusNotFound, "sample not found")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(sample.Image)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(sample.Image)
}
