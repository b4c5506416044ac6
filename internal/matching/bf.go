package matching

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/targetlock/internal/features"
)

// BFSearcher is a Searcher backed by OpenCV's brute-force matcher.
type BFSearcher struct {
	hamming gocv.BFMatcher
	l2      gocv.BFMatcher
	mu      sync.Mutex
}

// NewBFSearcher creates matchers for both descriptor norms.
func NewBFSearcher() *BFSearcher {
	return &BFSearcher{
		hamming: gocv.NewBFMatcherWithParams(gocv.NormHamming, false),
		l2:      gocv.NewBFMatcherWithParams(gocv.NormL2, false),
	}
}

// KnnSearch runs BFMatcher.KnnMatch over the two descriptor sets.
func (s *BFSearcher) KnnSearch(query, train features.KeypointSet, k int) ([][]Neighbor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(query.Descriptors) == 0 {
		return [][]Neighbor{}, nil
	}
	if len(train.Descriptors) == 0 {
		return make([][]Neighbor, len(query.Descriptors)), nil
	}

	q, err := features.DescriptorsToMat(query.Descriptors)
	if err != nil {
		return nil, fmt.Errorf("query descriptors: %w", err)
	}
	defer q.Close()

	t, err := features.DescriptorsToMat(train.Descriptors)
	if err != nil {
		return nil, fmt.Errorf("train descriptors: %w", err)
	}
	defer t.Close()

	if q.Cols() != t.Cols() {
		return nil, fmt.Errorf("descriptor length mismatch: query %d, train %d", q.Cols(), t.Cols())
	}

	s.mu.Lock()
	matcher := s.hamming
	if query.Norm == features.NormL2 {
		matcher = s.l2
	}
	knn := matcher.KnnMatch(q, t, k)
	s.mu.Unlock()

	out := make([][]Neighbor, len(query.Descriptors))
	for _, row := range knn {
		if len(row) == 0 {
			continue
		}
		qi := row[0].QueryIdx
		if qi < 0 || qi >= len(out) {
			continue
		}
		cands := make([]Neighbor, len(row))
		for i, m := range row {
			cands[i] = Neighbor{Index: m.TrainIdx, Distance: float64(m.Distance)}
		}
		out[qi] = cands
	}

	return out, nil
}

// Close releases the OpenCV matchers.
func (s *BFSearcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.hamming.Close()
	if l2Err := s.l2.Close(); err == nil {
		err = l2Err
	}
	return err
}
