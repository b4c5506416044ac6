// Package pattern builds the reference target the tracker searches for in every frame.
package pattern

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/ayusman/targetlock/internal/features"
	"github.com/ayusman/targetlock/internal/geometry"
)

var (
	// ErrLoad is returned when the reference image cannot be read.
	ErrLoad = errors.New("cannot load reference image")
	// ErrNoKeypoints is returned when the reference image has no usable features.
	ErrNoKeypoints = errors.New("reference image has no keypoints")
)

// Pattern is the immutable description of the target: its features, its pixel
// size and its corners in pattern-plane and object coordinates. It keeps its
// own copy of the features, so nothing a caller does to a set passed in or
// handed out changes it.
type Pattern struct {
	features  features.KeypointSet
	width     int
	height    int
	corners   [4]geometry.Point2D
	corners3D [4]geometry.Point3D
}

// Load reads the reference image at path as grayscale and builds a Pattern from it.
func Load(path string, ex features.Extractor) (*Pattern, error) {
	img := gocv.IMRead(path, gocv.IMReadGrayScale)
	defer img.Close()

	if img.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrLoad, path)
	}

	p, err := New(img, ex)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// New extracts features from img and builds a Pattern.
func New(img gocv.Mat, ex features.Extractor) (*Pattern, error) {
	if img.Empty() {
		return nil, ErrLoad
	}

	set, err := ex.Extract(img)
	if err != nil {
		return nil, fmt.Errorf("extract pattern features: %w", err)
	}

	return FromFeatures(set, img.Cols(), img.Rows())
}

// FromFeatures builds a Pattern from precomputed features of a w x h image.
func FromFeatures(set features.KeypointSet, w, h int) (*Pattern, error) {
	if set.Len() == 0 || len(set.Descriptors) == 0 {
		return nil, ErrNoKeypoints
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}

	return &Pattern{
		features:  set.Clone(),
		width:     w,
		height:    h,
		corners:   Corners(w, h),
		corners3D: Corners3D(w, h),
	}, nil
}

// Corners returns the image corners of a w x h pattern ordered top-left,
// bottom-left, bottom-right, top-right.
func Corners(w, h int) [4]geometry.Point2D {
	fw, fh := float64(w-1), float64(h-1)
	return [4]geometry.Point2D{
		{X: 0, Y: 0},
		{X: 0, Y: fh},
		{X: fw, Y: fh},
		{X: fw, Y: 0},
	}
}

// Corners3D returns the physical corners of a w x h pattern on the z = 0 plane,
// centered on the target and ordered like Corners.
func Corners3D(w, h int) [4]geometry.Point3D {
	hw, hh := float64(w/2), float64(h/2)
	return [4]geometry.Point3D{
		{X: -hw + 1, Y: -hh + 1},
		{X: -hw + 1, Y: hh - 1},
		{X: hw - 1, Y: hh - 1},
		{X: hw - 1, Y: -hh + 1},
	}
}

// Len returns the number of pattern keypoints.
func (p *Pattern) Len() int {
	return p.features.Len()
}

// Features returns a copy of the pattern keypoints and descriptors.
func (p *Pattern) Features() features.KeypointSet {
	return p.features.Clone()
}

// Width returns the reference image width in pixels.
func (p *Pattern) Width() int { return p.width }

// Height returns the reference image height in pixels.
func (p *Pattern) Height() int { return p.height }

// Corners returns the reference image corners, ordered like the package
// function Corners.
func (p *Pattern) Corners() [4]geometry.Point2D { return p.corners }

// Corners3D returns the object-space corners.
func (p *Pattern) Corners3D() [4]geometry.Point3D { return p.corners3D }
