package handlers

import (
	"bytes"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/kozaktomas/facepass/internal/recognition"
)

// SSESession is the interface required by streamSSEEvents to stream session events via SSE.
type SSESession interface {
	AddListener() chan recognition.Event
	RemoveListener(ch chan recognition.Event)
	Snapshot() recognition.Snapshot
}

// setupSSEConnection validates the request, finds the session, and sets up SSE headers.
// Returns the session, flusher, and true on success. On failure, writes an error response and returns zero values with false.
func setupSSEConnection(w http.ResponseWriter, r *http.Request, lookup func(string) SSESession) (SSESession, http.Flusher, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing session ID")
		return nil, nil, false
	}

	session := lookup(id)
	if session == nil {
		respondError(w, http.StatusNotFound, "session not found")
		return nil, nil, false
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return session, flusher, true
}

// streamSSEEvents streams events of a session until it finishes or the client disconnects.
// The first event is a status snapshot; a finished session sends its snapshot and returns.
func streamSSEEvents(w http.ResponseWriter, r *http.Request, lookup func(string) SSESession) {
	session, flusher, ok := setupSSEConnection(w, r, lookup)
	if !ok {
		return
	}

	eventCh := session.AddListener()
	defer session.RemoveListener(eventCh)

	sendSSEEvent(w, flusher, "status", session.Snapshot())

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event.Data)
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}
