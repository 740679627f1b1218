// Package facematch matches a face descriptor against enrolled descriptor sets.
package facematch

import (
	"fmt"
	"math"

	"github.com/kozaktomas/facepass/internal/constants"
	"github.com/kozaktomas/facepass/internal/embedding"
)

// DescriptorSet holds the descriptors of one enrolled identity, labelled by its name.
type DescriptorSet struct {
	Label       string
	Descriptors []embedding.Descriptor
}

// Result is the outcome of matching one query descriptor.
// Label is constants.UnknownLabel when nothing is within the threshold.
type Result struct {
	Label    string
	Distance float64
}

// Known reports whether the result names an enrolled identity.
func (r Result) Known() bool {
	return r.Label != constants.UnknownLabel
}

func (r Result) String() string {
	return fmt.Sprintf("%s (%.2f)", r.Label, r.Distance)
}

// Matcher matches query descriptors against a fixed gallery.
type Matcher interface {
	Match(query embedding.Descriptor) Result
}

// Match returns the label of the set holding the sample nearest to query.
// A set's distance is the minimum over its descriptors; ties between sets go to the
// set enumerated first. If the best distance exceeds threshold the result is unknown
// and carries the raw minimum. Empty sets yield unknown with +Inf distance.
func Match(query embedding.Descriptor, sets []DescriptorSet, threshold float64, distance embedding.DistanceFunc) Result {
	best := Result{Label: constants.UnknownLabel, Distance: math.Inf(1)}
	for _, set := range sets {
		for _, d := range set.Descriptors {
			if dist := distance(query, d); dist < best.Distance {
				best = Result{Label: set.Label, Distance: dist}
			}
		}
	}
	if best.Distance > threshold {
		best.Label = constants.UnknownLabel
	}
	return best
}

// Exact is a brute-force Matcher over every descriptor.
type Exact struct {
	sets      []DescriptorSet
	threshold float64
	distance  embedding.DistanceFunc
}

func NewExact(sets []DescriptorSet, threshold float64, distance embedding.DistanceFunc) *Exact {
	if distance == nil {
		distance = embedding.Euclidean
	}
	return &Exact{sets: sets, threshold: threshold, distance: distance}
}

func (m *Exact) Match(query embedding.Descriptor) Result {
	return Match(query, m.sets, m.threshold, m.distance)
}

var _ Matcher = (*Exact)(nil)

// NewMatcher returns an Index when index is "hnsw" and an Exact matcher otherwise.
func NewMatcher(sets []DescriptorSet, threshold float64, metric, index string) (Matcher, error) {
	if index == "hnsw" {
		return NewIndex(sets, threshold, metric)
	}
	distance, err := embedding.ParseMetric(metric)
	if err != nil {
		return nil, err
	}
	return NewExact(sets, threshold, distance), nil
}
