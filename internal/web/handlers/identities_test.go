package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/facepass/internal/database/mock"
	"github.com/kozaktomas/facepass/internal/embedding/embeddingtest"
	"github.com/kozaktomas/facepass/internal/enrollment"
)

func newIdentitiesHandler() (*IdentitiesHandler, *mock.MockIdentityStore) {
	store := mock.NewMockIdentityStore()
	return NewIdentitiesHandler(enrollment.NewCoordinator(store), store), store
}

func TestIdentitiesHandler_Enroll(t *testing.T) {
	handler, store := newIdentitiesHandler()

	req := multipartRequest(t, "/api/v1/identities", map[string]string{"name": "alice"}, []uploadFile{
		{"images[]", "neutral.jpg", embeddingtest.JPEG(20)},
		{"images[]", "happy.jpg", embeddingtest.JPEG(40)},
		{"images[]", "surprised.jpg", embeddingtest.JPEG(60)},
	})
	recorder := httptest.NewRecorder()
	handler.Enroll(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var result EnrollResponse
	parseJSONResponse(t, recorder, &result)
	if result.Name != "alice" || result.Samples != 3 || result.IdentityID == 0 {
		t.Errorf("unexpected response: %+v", result)
	}

	identities, samples := store.Counts()
	if identities != 1 || samples != 3 {
		t.Errorf("expected 1 identity and 3 samples, got %d and %d", identities, samples)
	}
}

func TestIdentitiesHandler_EnrollDuplicate(t *testing.T) {
	handler, store := newIdentitiesHandler()
	store.Seed("alice", embeddingtest.JPEG(0))

	req := multipartRequest(t, "/api/v1/identities", map[string]string{"name": "alice"}, []uploadFile{
		{"images[]", "a.jpg", embeddingtest.JPEG(20)},
	})
	recorder := httptest.NewRecorder()
	handler.Enroll(recorder, req)

	assertStatusCode(t, recorder, http.StatusConflict)
	assertJSONError(t, recorder, "identity already exists")
}

func TestIdentitiesHandler_EnrollValidation(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		files  []uploadFile
	}{
		{"missing name", nil, []uploadFile{{"images[]", "a.jpg", embeddingtest.JPEG(20)}}},
		{"no images", map[string]string{"name": "bob"}, nil},
		{"not a jpeg", map[string]string{"name": "bob"}, []uploadFile{{"images[]", "a.txt", []byte("hello")}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler, store := newIdentitiesHandler()
			recorder := httptest.NewRecorder()
			handler.Enroll(recorder, multipartRequest(t, "/api/v1/identities", tc.fields, tc.files))

			assertStatusCode(t, recorder, http.StatusBadRequest)
			if identities, _ := store.Counts(); identities != 0 {
				t.Errorf("expected no identities, got %d", identities)
			}
		})
	}
}

func TestIdentitiesHandler_EnrollNotMultipart(t *testing.T) {
	handler, _ := newIdentitiesHandler()
	recorder := httptest.NewRecorder()
	handler.Enroll(recorder, jsonRequest(t, http.MethodPost, "/api/v1/identities", map[string]string{"name": "x"}))

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "failed to parse multipart form")
}

func TestIdentitiesHandler_Check(t *testing.T) {
	handler, store := newIdentitiesHandler()
	store.Seed("alice")

	tests := []struct {
		name   string
		exists bool
	}{
		{"alice", true},
		{"bob", false},
	}
	for _, tc := range tests {
		recorder := httptest.NewRecorder()
		handler.Check(recorder, jsonRequest(t, http.MethodPost, "/api/v1/identities/check", CheckRequest{Name: tc.name}))

		assertStatusCode(t, recorder, http.StatusOK)
		var result map[string]bool
		parseJSONResponse(t, recorder, &result)
		if result["exists"] != tc.exists {
			t.Errorf("%s: expected exists=%v, got %v", tc.name, tc.exists, result["exists"])
		}
	}

	recorder := httptest.NewRecorder()
	handler.Check(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/identities/check", nil))
	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, errInvalidRequestBody)
}

func TestIdentitiesHandler_List(t *testing.T) {
	handler, store := newIdentitiesHandler()
	store.Seed("alice", embeddingtest.JPEG(0), embeddingtest.JPEG(20))
	store.Seed("bob")

	recorder := httptest.NewRecorder()
	handler.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/identities", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var result []IdentityResponse
	parseJSONResponse(t, recorder, &result)
	if len(result) != 2 {
		t.Fatalf("expected 2 identities, got %d", len(result))
	}
	if result[0].Name != "alice" || result[0].SampleCount != 2 || result[1].Name != "bob" {
		t.Errorf("unexpected identities: %+v", result)
	}
}

func TestIdentitiesHandler_ListEmpty(t *testing.T) {
	handler, _ := newIdentitiesHandler()
	recorder := httptest.NewRecorder()
	handler.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/identities", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	if body := recorder.Body.String(); body != "[]\n" {
		t.Errorf("expected empty JSON array, got %q", body)
	}
}

func TestIdentitiesHandler_ListSamples(t *testing.T) {
	handler, store := newIdentitiesHandler()
	alice := store.Seed("alice", embeddingtest.JPEG(0), embeddingtest.JPEG(20))

	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": itoa(alice.ID)})
	recorder := httptest.NewRecorder()
	handler.ListSamples(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var result []SampleRef
	parseJSONResponse(t, recorder, &result)
	if len(result) != 2 {
		t.Errorf("expected 2 samples, got %d", len(result))
	}

	tests := []struct {
		id     string
		status int
	}{
		{"999", http.StatusNotFound},
		{"abc", http.StatusBadRequest},
	}
	for _, tc := range tests {
		req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": tc.id})
		recorder := httptest.NewRecorder()
		handler.ListSamples(recorder, req)
		assertStatusCode(t, recorder, tc.status)
	}
}
