package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEuclidean(t *testing.T) {
	a := Descriptor{0, 0, 0}
	b := Descriptor{3, 4, 0}

	if got := Euclidean(a, b); got != 5 {
		t.Errorf("Euclidean = %v, want 5", got)
	}
	if got := Euclidean(b, b); got != 0 {
		t.Errorf("Euclidean(x, x) = %v, want 0", got)
	}
	if got := Euclidean(a, Descriptor{1}); !math.IsInf(got, 1) {
		t.Errorf("expected +Inf for length mismatch, got %v", got)
	}
}

func TestCosine(t *testing.T) {
	if got := Cosine(Descriptor{1, 0}, Descriptor{1, 0}); got != 0 {
		t.Errorf("Cosine(identical) = %v, want 0", got)
	}
	if got := Cosine(Descriptor{1, 0}, Descriptor{-1, 0}); got != 2 {
		t.Errorf("Cosine(opposite) = %v, want 2", got)
	}
	if got := Cosine(Descriptor{0, 0}, Descriptor{1, 0}); got != 2 {
		t.Errorf("Cosine(zero vector) = %v, want 2", got)
	}
}

func TestParseMetric(t *testing.T) {
	if _, err := ParseMetric("euclidean"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := ParseMetric("Cosine"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := ParseMetric("manhattan"); err == nil {
		t.Error("expected error for unknown metric")
	}
}

func TestDominant(t *testing.T) {
	label, p := Expressions{"neutral": 0.2, "happy": 0.7, "surprised": 0.1}.Dominant()
	if label != "happy" || p != 0.7 {
		t.Errorf("Dominant = %s/%v, want happy/0.7", label, p)
	}

	label, _ = Expressions{"sad": 0.5, "angry": 0.5}.Dominant()
	if label != "angry" {
		t.Errorf("tie should resolve alphabetically, got %s", label)
	}

	label, _ = Expressions{}.Dominant()
	if label != "" {
		t.Errorf("expected empty label, got %s", label)
	}
}

func TestClient_Detect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("expected multipart file: %v", err)
		}
		json.NewEncoder(w).Encode(FaceResponse{
			FacesCount: 2,
			Faces: []FaceDetection{
				{FaceIndex: 0, Embedding: []float32{0.1, 0.2}},
				{FaceIndex: 1, Embedding: []float32{0.9, 0.9}},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", time.Second)
	d, err := client.Detect(context.Background(), []byte{0xFF, 0xD8, 0xFF, 0, 0, 0, 0, 0})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(d) != 2 || d[0] != 0.1 {
		t.Errorf("expected first face descriptor, got %v", d)
	}
}

func TestClient_DetectNoFace(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"faces_count":0,"faces":[]}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, time.Second).Detect(context.Background(), []byte("img"))
	if !errors.Is(err, ErrNoFace) {
		t.Errorf("expected ErrNoFace, got %v", err)
	}
}

func TestClient_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, time.Second).Detect(context.Background(), []byte("img"))
	if err == nil || errors.Is(err, ErrNoFace) {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestClient_ClassifyExpression(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/expression" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"faces_count":1,"expressions":{"happy":0.9,"neutral":0.1}}`))
	}))
	defer server.Close()

	expr, err := NewClient(server.URL, time.Second).ClassifyExpression(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("ClassifyExpression: %v", err)
	}
	if label, _ := expr.Dominant(); label != "happy" {
		t.Errorf("expected happy, got %s", label)
	}
}
