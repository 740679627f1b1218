package handlers

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facepass/internal/descriptors"
	"github.com/kozaktomas/facepass/internal/embedding"
	"github.com/kozaktomas/facepass/internal/embedding/embeddingtest"
	"github.com/kozaktomas/facepass/internal/events"
	"github.com/kozaktomas/facepass/internal/facematch"
	"github.com/kozaktomas/facepass/internal/media"
	"github.com/kozaktomas/facepass/internal/recognition"
)

var carolFrame = embeddingtest.JPEG(40)

func recognitionRouter(t *testing.T, gallery GalleryFunc, camera CameraFunc) (*chi.Mux, *recognition.Manager) {
	t.Helper()
	det := embeddingtest.NewDetector()
	det.Set(carolFrame, embedding.Descriptor{0, 0})

	manager := recognition.NewManager(time.Minute, nil)
	t.Cleanup(manager.CancelAll)
	h := NewRecognitionHandler(testConfig(), manager, det, gallery, camera, events.Nop{})

	r := chi.NewRouter()
	r.Post("/recognition", h.Start)
	r.Get("/recognition/{id}", h.Status)
	r.Delete("/recognition/{id}", h.Cancel)
	r.Post("/recognition/{id}/frames", h.PushFrame)
	r.Get("/recognition/{id}/events", h.Events)
	return r, manager
}

func carolGallery(context.Context) ([]facematch.DescriptorSet, error) {
	return []facematch.DescriptorSet{{Label: "carol", Descriptors: []embedding.Descriptor{{0, 0}}}}, nil
}

func startSession(t *testing.T, r http.Handler, body any) string {
	t.Helper()
	recorder := httptest.NewRecorder()
	r.ServeHTTP(recorder, jsonRequest(t, http.MethodPost, "/recognition", body))
	assertStatusCode(t, recorder, http.StatusCreated)

	var result map[string]string
	parseJSONResponse(t, recorder, &result)
	if result["id"] == "" {
		t.Fatal("expected session id")
	}
	return result["id"]
}

func waitForStatus(t *testing.T, manager *recognition.Manager, id string) recognition.Outcome {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if status := manager.Get(id).Status(); status.Terminal() {
			return status
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session %s did not finish", id)
	return ""
}

func TestRecognitionHandler_PushSessionConfirms(t *testing.T) {
	r, manager := recognitionRouter(t, carolGallery, nil)
	confirm := 3
	id := startSession(t, r, StartRecognitionRequest{Source: SourcePush, ConfirmVotes: &confirm})

	for range confirm {
		recorder := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/recognition/"+id+"/frames", bytes.NewReader(carolFrame))
		r.ServeHTTP(recorder, req)
		if recorder.Code != http.StatusAccepted && recorder.Code != http.StatusConflict {
			t.Fatalf("unexpected push status %d: %s", recorder.Code, recorder.Body.String())
		}
	}

	if status := waitForStatus(t, manager, id); status != recognition.OutcomeConfirmed {
		t.Fatalf("expected confirmed, got %s", status)
	}

	recorder := httptest.NewRecorder()
	r.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/recognition/"+id, nil))
	assertStatusCode(t, recorder, http.StatusOK)

	var snap recognition.Snapshot
	parseJSONResponse(t, recorder, &snap)
	if snap.Verdict == nil || snap.Verdict.Label != "carol" || snap.Votes["carol"] != confirm {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	// Frames after the verdict are rejected.
	recorder = httptest.NewRecorder()
	r.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/recognition/"+id+"/frames", bytes.NewReader(carolFrame)))
	assertStatusCode(t, recorder, http.StatusConflict)
}

func TestRecognitionHandler_NoIdentities(t *testing.T) {
	empty := func(context.Context) ([]facematch.DescriptorSet, error) { return nil, descriptors.ErrNoIdentities }
	r, _ := recognitionRouter(t, empty, nil)

	recorder := httptest.NewRecorder()
	r.ServeHTTP(recorder, jsonRequest(t, http.MethodPost, "/recognition", StartRecognitionRequest{Source: SourcePush}))

	assertStatusCode(t, recorder, http.StatusConflict)
	assertJSONError(t, recorder, "no identities enrolled")
}

func TestRecognitionHandler_StartValidation(t *testing.T) {
	r, _ := recognitionRouter(t, carolGallery, nil)
	zero := 0
	badThreshold := 1.5

	tests := []struct {
		name    string
		body    StartRecognitionRequest
		status  int
		message string
	}{
		{"unknown source", StartRecognitionRequest{Source: "usb"}, http.StatusBadRequest, "source must be push or camera"},
		{"threshold", StartRecognitionRequest{Threshold: &badThreshold}, http.StatusBadRequest, "threshold must be in (0, 1]"},
		{"confirm votes", StartRecognitionRequest{ConfirmVotes: &zero}, http.StatusBadRequest, "confirm_votes must be positive"},
		{"unknown votes", StartRecognitionRequest{UnknownVotes: &zero}, http.StatusBadRequest, "unknown_votes must be positive"},
		{"camera not configured", StartRecognitionRequest{Source: SourceCamera}, http.StatusServiceUnavailable, "camera not configured"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			r.ServeHTTP(recorder, jsonRequest(t, http.MethodPost, "/recognition", tc.body))
			assertStatusCode(t, recorder, tc.status)
			assertJSONError(t, recorder, tc.message)
		})
	}
}

func TestRecognitionHandler_CameraSessionRejectsFrames(t *testing.T) {
	camera := func() (media.Source, error) { return media.NewPushSource(1), nil }
	r, manager := recognitionRouter(t, carolGallery, func() (media.Source, error) {
		src, err := camera()
		return cameraOnly{src}, err
	})
	id := startSession(t, r, StartRecognitionRequest{Source: SourceCamera})

	recorder := httptest.NewRecorder()
	r.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/recognition/"+id+"/frames", bytes.NewReader(carolFrame)))
	assertStatusCode(t, recorder, http.StatusConflict)
	assertJSONError(t, recorder, "session does not accept frames")

	manager.Cancel(id)
}

// cameraOnly hides the concrete push source type.
type cameraOnly struct{ media.Source }

func TestRecognitionHandler_CancelAndNotFound(t *testing.T) {
	r, manager := recognitionRouter(t, carolGallery, nil)
	id := startSession(t, r, StartRecognitionRequest{})

	recorder := httptest.NewRecorder()
	r.ServeHTTP(recorder, httptest.NewRequest(http.MethodDelete, "/recognition/"+id, nil))
	assertStatusCode(t, recorder, http.StatusOK)

	if status := waitForStatus(t, manager, id); status != recognition.OutcomeCancelled {
		t.Errorf("expected cancelled, got %s", status)
	}

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		recorder := httptest.NewRecorder()
		r.ServeHTTP(recorder, httptest.NewRequest(method, "/recognition/missing", nil))
		assertStatusCode(t, recorder, http.StatusNotFound)
		assertJSONError(t, recorder, "session not found")
	}
}

func TestRecognitionHandler_EventsStream(t *testing.T) {
	r, _ := recognitionRouter(t, carolGallery, nil)
	server := httptest.NewServer(r)
	defer server.Close()

	confirm := 2
	id := startSession(t, r, StartRecognitionRequest{ConfirmVotes: &confirm})

	resp, err := http.Get(server.URL + "/recognition/" + id + "/events")
	if err != nil {
		t.Fatalf("failed to open event stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %s", ct)
	}

	go func() {
		for range 5 {
			req := httptest.NewRequest(http.MethodPost, "/recognition/"+id+"/frames", bytes.NewReader(carolFrame))
			r.ServeHTTP(httptest.NewRecorder(), req)
			time.Sleep(5 * time.Millisecond)
		}
	}()

	var eventTypes []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			eventTypes = append(eventTypes, name)
		}
	}

	if len(eventTypes) < 2 || eventTypes[0] != "status" || eventTypes[len(eventTypes)-1] != recognition.EventVerdict {
		t.Errorf("unexpected event sequence: %v", eventTypes)
	}
}
