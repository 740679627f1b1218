package embedding

import (
	"fmt"
	"math"
	"strings"
)

// DistanceFunc returns a non-negative distance; smaller means more similar.
type DistanceFunc func(a, b Descriptor) float64

// Euclidean computes the L2 distance between two descriptors.
// Descriptors of different length are infinitely far apart.
func Euclidean(a, b Descriptor) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Cosine computes the cosine distance between two descriptors.
// Returns a value between 0 (identical) and 2 (opposite)
func Cosine(a, b Descriptor) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0 // Maximum distance for invalid input
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0 // Maximum distance for zero vectors
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}

	return 1 - similarity
}

// ParseMetric returns the distance function for a metric name.
func ParseMetric(name string) (DistanceFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "euclidean":
		return Euclidean, nil
	case "cosine":
		return Cosine, nil
	default:
		return nil, fmt.Errorf("unknown distance metric: %s", name)
	}
}
