package matching

import (
	"errors"
	"fmt"

	"github.com/ayusman/targetlock/internal/features"
)

const (
	// DefaultRatio is the distance-ratio threshold for accepting a match.
	DefaultRatio = 0.7
	// DefaultK is the number of neighbors retrieved per pattern descriptor.
	DefaultK = 2
)

// ErrIndexOutOfRange is returned when a match refers to a keypoint that does not exist.
var ErrIndexOutOfRange = errors.New("match index out of range")

// Match is an accepted correspondence between a pattern keypoint and a frame keypoint.
type Match struct {
	PatternIndex int     `json:"pattern_index"`
	FrameIndex   int     `json:"frame_index"`
	Distance     float64 `json:"distance"`
}

// Matcher pairs pattern descriptors with frame descriptors and keeps only the
// unambiguous correspondences.
type Matcher struct {
	searcher Searcher
	ratio    float64
}

// NewMatcher creates a Matcher. A non-positive ratio uses DefaultRatio.
func NewMatcher(s Searcher, ratio float64) *Matcher {
	if ratio <= 0 {
		ratio = DefaultRatio
	}
	return &Matcher{searcher: s, ratio: ratio}
}

// Ratio returns the distance-ratio threshold in use.
func (m *Matcher) Ratio() float64 {
	return m.ratio
}

// Match returns the accepted correspondences ordered by pattern index.
func (m *Matcher) Match(pattern, frame features.KeypointSet) ([]Match, error) {
	if len(pattern.Descriptors) == 0 || len(frame.Descriptors) == 0 {
		return nil, nil
	}

	knn, err := m.searcher.KnnSearch(pattern, frame, DefaultK)
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}

	return RatioTest(knn, m.ratio), nil
}

// RatioTest keeps, for every query row with exactly two candidates, the best
// candidate when its distance is below ratio times the second-best distance.
// Row index is the pattern index; output preserves row order.
func RatioTest(knn [][]Neighbor, ratio float64) []Match {
	var out []Match
	for qi, cands := range knn {
		if len(cands) != 2 {
			continue
		}
		best, second := cands[0], cands[1]
		if best.Distance < ratio*second.Distance {
			out = append(out, Match{
				PatternIndex: qi,
				FrameIndex:   best.Index,
				Distance:     best.Distance,
			})
		}
	}
	return out
}

// Split projects matches into two position-only keypoint views. Entry i of both
// views belongs to matches[i].
func Split(matches []Match, pattern, frame features.KeypointSet) (patternView, frameView features.KeypointSet, err error) {
	pIdx := make([]int, len(matches))
	fIdx := make([]int, len(matches))
	for i, m := range matches {
		if m.PatternIndex < 0 || m.PatternIndex >= pattern.Len() {
			return features.KeypointSet{}, features.KeypointSet{},
				fmt.Errorf("%w: pattern index %d of %d", ErrIndexOutOfRange, m.PatternIndex, pattern.Len())
		}
		if m.FrameIndex < 0 || m.FrameIndex >= frame.Len() {
			return features.KeypointSet{}, features.KeypointSet{},
				fmt.Errorf("%w: frame index %d of %d", ErrIndexOutOfRange, m.FrameIndex, frame.Len())
		}
		pIdx[i] = m.PatternIndex
		fIdx[i] = m.FrameIndex
	}

	if patternView, err = pattern.Select(pIdx); err != nil {
		return features.KeypointSet{}, features.KeypointSet{}, err
	}
	if frameView, err = frame.Select(fIdx); err != nil {
		return features.KeypointSet{}, features.KeypointSet{}, err
	}
	return patternView, frameView, nil
}
