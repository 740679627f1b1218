package facematch

import (
	"math"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/facepass/internal/constants"
	"github.com/kozaktomas/facepass/internal/embedding"
)

const (
	hnswMaxNeighbors = 16
	hnswCandidates   = 32
)

// Index is an approximate Matcher backed by an HNSW graph. Candidates returned by
// the graph are re-ranked with the exact distance, and ties keep set order.
type Index struct {
	graph     *hnsw.Graph[int]
	owner     []int // node key -> set position
	sets      []DescriptorSet
	dims      int
	threshold float64
	distance  embedding.DistanceFunc
}

// NewIndex builds an index over all descriptors. Descriptors whose length differs
// from the first one are left out.
func NewIndex(sets []DescriptorSet, threshold float64, metric string) (*Index, error) {
	distance, err := embedding.ParseMetric(metric)
	if err != nil {
		return nil, err
	}

	g := hnsw.NewGraph[int]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.EuclideanDistance
	if metric == "cosine" {
		g.Distance = hnsw.CosineDistance
	}

	idx := &Index{graph: g, sets: sets, threshold: threshold, distance: distance}
	for setPos, set := range sets {
		for _, d := range set.Descriptors {
			if idx.dims == 0 {
				idx.dims = len(d)
			}
			if len(d) != idx.dims || len(d) == 0 {
				continue
			}
			g.Add(hnsw.MakeNode(len(idx.owner), []float32(d)))
			idx.owner = append(idx.owner, setPos)
		}
	}
	return idx, nil
}

// Len returns the number of indexed descriptors.
func (idx *Index) Len() int {
	return len(idx.owner)
}

func (idx *Index) Match(query embedding.Descriptor) Result {
	best := Result{Label: constants.UnknownLabel, Distance: math.Inf(1)}
	if len(idx.owner) == 0 || len(query) != idx.dims {
		return best
	}

	k := min(hnswCandidates, len(idx.owner))
	bestSet := -1
	for _, n := range idx.graph.Search([]float32(query), k) {
		setPos := idx.owner[n.Key]
		dist := idx.distance(query, embedding.Descriptor(n.Value))
		if dist < best.Distance || (dist == best.Distance && setPos < bestSet) {
			best = Result{Label: idx.sets[setPos].Label, Distance: dist}
			bestSet = setPos
		}
	}
	if best.Distance > idx.threshold {
		best.Label = constants.UnknownLabel
	}
	return best
}

var _ Matcher = (*Index)(nil)
