package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/kozaktomas/facepass/internal/database/mock"
	"github.com/kozaktomas/facepass/internal/embedding/embeddingtest"
	"github.com/kozaktomas/facepass/internal/enrollment"
)

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func newSamplesHandler() (*SamplesHandler, *mock.MockIdentityStore) {
	store := mock.NewMockIdentityStore()
	return NewSamplesHandler(enrollment.NewCoordinator(store), store), store
}

func TestSamplesHandler_Add(t *testing.T) {
	handler, store := newSamplesHandler()
	alice := store.Seed("alice", embeddingtest.JPEG(0))

	req := multipartRequest(t, "/api/v1/samples", map[string]string{"name": "alice"}, []uploadFile{
		{"image", "extra.jpg", embeddingtest.JPEG(80)},
	})
	recorder := httptest.NewRecorder()
	handler.Add(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var result AddSampleResponse
	parseJSONResponse(t, recorder, &result)
	if result.IdentityID != alice.ID || result.SampleID == 0 {
		t.Errorf("unexpected response: %+v", result)
	}
}

func TestSamplesHandler_AddErrors(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]string
		files   []uploadFile
		inject  error
		status  int
		message string
	}{
		{"unknown identity", map[string]string{"name": "nobody"}, []uploadFile{{"image", "a.jpg", embeddingtest.JPEG(20)}}, nil, http.StatusNotFound, "identity not found"},
		{"missing image", map[string]string{"name": "alice"}, nil, nil, http.StatusBadRequest, "exactly one image is required"},
		{"storage failure", map[string]string{"name": "alice"}, []uploadFile{{"image", "a.jpg", embeddingtest.JPEG(20)}}, errors.New("disk full"), http.StatusInternalServerError, "storage error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler, store := newSamplesHandler()
			store.Seed("alice")
			store.AddSampleError = tc.inject

			recorder := httptest.NewRecorder()
			handler.Add(recorder, multipartRequest(t, "/api/v1/samples", tc.fields, tc.files))

			assertStatusCode(t, recorder, tc.status)
			assertJSONError(t, recorder, tc.message)
		})
	}
}

func TestSamplesHandler_Image(t *testing.T) {
	handler, store := newSamplesHandler()
	img := embeddingtest.JPEG(120)
	store.Seed("alice", img)

	ids, err := store.ListSampleIDs(t.Context(), 1)
	if err != nil || len(ids) != 1 {
		t.Fatalf("expected one seeded sample, got %v (%v)", ids, err)
	}

	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": itoa(ids[0])})
	recorder := httptest.NewRecorder()
	handler.Image(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "image/jpeg")
	if got := recorder.Header().Get("Content-Length"); got != strconv.Itoa(len(img)) {
		t.Errorf("expected Content-Length %d, got %s", len(img), got)
	}
	if !bytes.Equal(recorder.Body.Bytes(), img) {
		t.Error("expected stored image bytes")
	}

	req = requestWithChiParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": "404"})
	recorder = httptest.NewRecorder()
	handler.Image(recorder, req)
	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "sample not found")
}
