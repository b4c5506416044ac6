// Package features provides keypoint detection and the index-aligned
// keypoint/descriptor sets consumed by the matcher.
package features

import (
	"fmt"

	"github.com/ayusman/targetlock/internal/geometry"
)

// Keypoint is a detected salient location with its scale and orientation metadata.
type Keypoint struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Size     float64 `json:"size"`
	Angle    float64 `json:"angle"`
	Response float64 `json:"response"`
	Octave   int     `json:"octave"`
}

// Point returns the keypoint position.
func (k Keypoint) Point() geometry.Point2D {
	return geometry.Point2D{X: k.X, Y: k.Y}
}

// Descriptor is one fixed-length descriptor row.
type Descriptor []byte

// Norm selects the distance used to compare descriptors.
type Norm int

const (
	// NormHamming compares binary descriptors bit by bit (ORB, BRISK, AKAZE).
	NormHamming Norm = iota
	// NormL2 compares descriptors as vectors of uint8 components.
	NormL2
)

func (n Norm) String() string {
	switch n {
	case NormHamming:
		return "hamming"
	case NormL2:
		return "l2"
	default:
		return "unknown"
	}
}

// KeypointSet pairs keypoints with their descriptors.
//
// Keypoints[i] is described by Descriptors[i]. Position-only views (see
// matching.Split) carry a nil Descriptors slice.
type KeypointSet struct {
	Keypoints   []Keypoint
	Descriptors []Descriptor
	Norm        Norm
}

// Len returns the number of keypoints.
func (s KeypointSet) Len() int {
	return len(s.Keypoints)
}

// HasDescriptors reports whether the set carries descriptors.
func (s KeypointSet) HasDescriptors() bool {
	return s.Descriptors != nil
}

// Points returns the keypoint positions in order.
func (s KeypointSet) Points() []geometry.Point2D {
	pts := make([]geometry.Point2D, len(s.Keypoints))
	for i, kp := range s.Keypoints {
		pts[i] = kp.Point()
	}
	return pts
}

// Clone returns a deep copy of s.
func (s KeypointSet) Clone() KeypointSet {
	out := KeypointSet{Norm: s.Norm}
	if s.Keypoints != nil {
		out.Keypoints = append([]Keypoint(nil), s.Keypoints...)
	}
	if s.Descriptors != nil {
		out.Descriptors = make([]Descriptor, len(s.Descriptors))
		for i, d := range s.Descriptors {
			out.Descriptors[i] = append(Descriptor(nil), d...)
		}
	}
	return out
}

// Validate checks the alignment invariant and that all descriptors share one length.
func (s KeypointSet) Validate() error {
	if s.Descriptors == nil {
		return nil
	}
	if len(s.Descriptors) != len(s.Keypoints) {
		return fmt.Errorf("keypoint set misaligned: %d keypoints, %d descriptors",
			len(s.Keypoints), len(s.Descriptors))
	}
	for i, d := range s.Descriptors {
		if len(d) != len(s.Descriptors[0]) {
			return fmt.Errorf("descriptor %d has length %d, want %d", i, len(d), len(s.Descriptors[0]))
		}
	}
	return nil
}

// Select returns a position-only view of the keypoints at the given indices.
func (s KeypointSet) Select(indices []int) (KeypointSet, error) {
	kps := make([]Keypoint, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(s.Keypoints) {
			return KeypointSet{}, fmt.Errorf("keypoint index %d out of range [0,%d)", idx, len(s.Keypoints))
		}
		kps[i] = s.Keypoints[idx]
	}
	return KeypointSet{Keypoints: kps, Norm: s.Norm}, nil
}
