package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/kozaktomas/facepass/internal/config"
	"github.com/kozaktomas/facepass/internal/constants"
	"github.com/kozaktomas/facepass/internal/embedding"
	"github.com/kozaktomas/facepass/internal/events"
	"github.com/kozaktomas/facepass/internal/facematch"
	"github.com/kozaktomas/facepass/internal/media"
	"github.com/kozaktomas/facepass/internal/recognition"
)

// Recognition frame sources.
const (
	SourcePush   = "push"
	SourceCamera = "camera"
)

// GalleryFunc builds the descriptor sets a new session matches against.
type GalleryFunc func(ctx context.Context) ([]facematch.DescriptorSet, error)

// CameraFunc acquires the server-side camera.
type CameraFunc func() (media.Source, error)

// RecognitionHandler handles recognition session endpoints.
type RecognitionHandler struct {
	config     *config.Config
	manager    *recognition.Manager
	detector   embedding.Detector
	gallery    GalleryFunc
	openCamera CameraFunc
	publisher  events.Publisher
}

// NewRecognitionHandler creates a new recognition handler. openCamera may be nil
// when no camera is configured.
func NewRecognitionHandler(cfg *config.Config, manager *recognition.Manager, detector embedding.Detector, gallery GalleryFunc, openCamera CameraFunc, publisher events.Publisher) *RecognitionHandler {
	return &RecognitionHandler{
		config:     cfg,
		manager:    manager,
		detector:   detector,
		gallery:    gallery,
		openCamera: openCamera,
		publisher:  publisher,
	}
}

// StartRecognitionRequest starts a session. Zero values fall back to configuration.
type StartRecognitionRequest struct {
	Source       string   `json:"source"`
	Threshold    *float64 `json:"threshold,omitempty"`
	ConfirmVotes *int     `json:"confirm_votes,omitempty"`
	UnknownVotes *int     `json:"unknown_votes,omitempty"`
}

func (req *StartRecognitionRequest) validate() string {
	switch req.Source {
	case "":
		req.Source = SourcePush
	case SourcePush, SourceCamera:
	default:
		return "source must be push or camera"
	}
	if req.Threshold != nil && (*req.Threshold <= 0 || *req.Threshold > 1) {
		return "threshold must be in (0, 1]"
	}
	if req.ConfirmVotes != nil && *req.ConfirmVotes <= 0 {
		return "confirm_votes must be positive"
	}
	if req.UnknownVotes != nil && *req.UnknownVotes <= 0 {
		return "unknown_votes must be positive"
	}
	return ""
}

// Start builds a fresh gallery and starts a recognition session.
func (h *RecognitionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRecognitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	threshold := h.config.Matching.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	opts := recognition.OptionsFromConfig(h.config)
	if req.ConfirmVotes != nil {
		opts.ConfirmVotes = *req.ConfirmVotes
	}
	if req.UnknownVotes != nil {
		opts.UnknownVotes = *req.UnknownVotes
	}

	sets, err := h.gallery(r.Context())
	if err != nil {
		log.Printf("Building gallery failed: %v", err)
		respondEnrollmentError(w, err)
		return
	}
	matcher, err := facematch.NewMatcher(sets, threshold, h.config.Matching.Metric, h.config.Matching.Index)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to build matcher")
		return
	}

	var source media.Source
	switch req.Source {
	case SourceCamera:
		if h.openCamera == nil {
			respondError(w, http.StatusServiceUnavailable, "camera not configured")
			return
		}
		if source, err = h.openCamera(); err != nil {
			respondEnrollmentError(w, err)
			return
		}
	default:
		source = media.NewPushSource(constants.PushFrameBuffer)
	}

	session := recognition.NewSession(source, h.detector, matcher, opts, recognition.WithPublisher(h.publisher))
	h.manager.Start(r.Context(), session)
	log.Printf("Recognition session %s started (source=%s, identities=%d)", session.ID, req.Source, len(sets))

	respondJSON(w, http.StatusCreated, map[string]string{"id": session.ID})
}

func (h *RecognitionHandler) lookup(w http.ResponseWriter, r *http.Request) *recognition.Session {
	session := h.manager.Get(chi.URLParam(r, "id"))
	if session == nil {
		respondError(w, http.StatusNotFound, "session not found")
	}
	return session
}

// PushFrame feeds one JPEG frame to a push session.
func (h *RecognitionHandler) PushFrame(w http.ResponseWriter, r *http.Request) {
	session := h.lookup(w, r)
	if session == nil {
		return
	}
	push, ok := session.Source().(*media.PushSource)
	if !ok {
		respondError(w, http.StatusConflict, "session does not accept frames")
		return
	}
	if session.Status().Terminal() {
		respondError(w, http.StatusConflict, "session finished")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, constants.MaxFrameSize+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read frame")
		return
	}
	if len(data) > constants.MaxFrameSize {
		respondError(w, http.StatusRequestEntityTooLarge, "frame too large")
		return
	}

	if err := push.Push(data); err != nil {
		if errors.Is(err, media.ErrDeviceUnavailable) {
			respondError(w, http.StatusConflict, "session finished")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid frame")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Status returns a snapshot of a session.
func (h *RecognitionHandler) Status(w http.ResponseWriter, r *http.Request) {
	session := h.lookup(w, r)
	if session == nil {
		return
	}
	respondJSON(w, http.StatusOK, session.Snapshot())
}

// Events streams vote and verdict events over SSE.
func (h *RecognitionHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r, func(id string) SSESession {
		session := h.manager.Get(id)
		if session == nil {
			return nil
		}
		return session
	})
}

// Cancel stops a session.
func (h *RecognitionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.manager.Cancel(id) {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}
