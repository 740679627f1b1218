// Package embedding is the client side of the face embedding capability:
// face descriptors, expression probabilities and descriptor distances.
package embedding

import (
	"context"
	"errors"
	"sort"
)

// Descriptor is a fixed-length face embedding vector.
type Descriptor []float32

// ErrNoFace is returned when no face was found in an image. It is not a failure of the capability.
var ErrNoFace = errors.New("no face detected")

// Detector computes a face descriptor for the primary face in an image.
type Detector interface {
	// Detect returns ErrNoFace when the image contains no face
	Detect(ctx context.Context, image []byte) (Descriptor, error)
}

// ExpressionClassifier estimates facial expression probabilities.
type ExpressionClassifier interface {
	// ClassifyExpression returns ErrNoFace when the image contains no face
	ClassifyExpression(ctx context.Context, image []byte) (Expressions, error)
}

// Expressions maps expression labels (neutral, happy, surprised, ...) to probabilities.
type Expressions map[string]float64

// Dominant returns the label with the highest probability.
// Equal probabilities resolve to the alphabetically first label.
func (e Expressions) Dominant() (string, float64) {
	labels := make([]string, 0, len(e))
	for label := range e {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	best, bestProb := "", -1.0
	for _, label := range labels {
		if p := e[label]; p > bestProb {
			best, bestProb = label, p
		}
	}
	if best == "" {
		return "", 0
	}
	return best, bestProb
}
