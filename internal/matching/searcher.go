// Package matching finds descriptor correspondences between the pattern and a frame.
package matching

import (
	"fmt"
	"math"
	"math/bits"
	"sort"

	"github.com/ayusman/targetlock/internal/features"
)

// Neighbor is one k-NN candidate: an index into the train set and its descriptor distance.
type Neighbor struct {
	Index    int
	Distance float64
}

// Searcher retrieves, for every query descriptor, its k nearest train descriptors.
// Implementations may be exact or approximate. A query row may receive fewer than
// k candidates when the train set is small.
type Searcher interface {
	KnnSearch(query, train features.KeypointSet, k int) ([][]Neighbor, error)
}

// LinearSearcher is an exact brute-force Searcher written in Go.
type LinearSearcher struct{}

// NewLinearSearcher creates a LinearSearcher.
func NewLinearSearcher() *LinearSearcher {
	return &LinearSearcher{}
}

// KnnSearch compares every query descriptor with every train descriptor.
func (s *LinearSearcher) KnnSearch(query, train features.KeypointSet, k int) ([][]Neighbor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	dist := descriptorDistance(query.Norm)
	out := make([][]Neighbor, len(query.Descriptors))

	for qi, qd := range query.Descriptors {
		cands := make([]Neighbor, 0, len(train.Descriptors))
		for ti, td := range train.Descriptors {
			if len(td) != len(qd) {
				return nil, fmt.Errorf("descriptor length mismatch: query %d, train %d", len(qd), len(td))
			}
			cands = append(cands, Neighbor{Index: ti, Distance: dist(qd, td)})
		}

		sort.SliceStable(cands, func(i, j int) bool {
			return cands[i].Distance < cands[j].Distance
		})
		if len(cands) > k {
			cands = cands[:k]
		}
		out[qi] = cands
	}

	return out, nil
}

func descriptorDistance(n features.Norm) func(a, b features.Descriptor) float64 {
	if n == features.NormL2 {
		return l2Distance
	}
	return hammingDistance
}

// hammingDistance counts differing bits.
func hammingDistance(a, b features.Descriptor) float64 {
	n := 0
	for i := range a {
		n += bits.OnesCount8(a[i] ^ b[i])
	}
	return float64(n)
}

// l2Distance treats each byte as a vector component.
func l2Distance(a, b features.Descriptor) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
