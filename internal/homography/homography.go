// Package homography fits the pattern-plane to frame transform from matched points.
package homography

import (
	"errors"

	"github.com/ayusman/targetlock/internal/geometry"
)

// DefaultThreshold is the reprojection error, in pixels, under which a
// correspondence counts as an inlier.
const DefaultThreshold = 5.0

// MinPoints is the smallest number of correspondences that determines a homography.
const MinPoints = 4

var (
	// ErrDegenerate is returned when no transform can be produced from the points.
	ErrDegenerate = errors.New("degenerate point configuration")
	// ErrMismatch is returned when the source and destination lists differ in length.
	ErrMismatch = errors.New("source and destination point counts differ")
)

// Estimator robustly fits a homography mapping src onto dst.
//
// The returned mask is index-aligned with src and marks the inliers of the
// final model.
type Estimator interface {
	Estimate(src, dst []geometry.Point2D) (geometry.Homography, []bool, error)
}

// CountInliers returns the number of set entries in mask.
func CountInliers(mask []bool) int {
	n := 0
	for _, in := range mask {
		if in {
			n++
		}
	}
	return n
}

// ReprojectionError returns the distance between h(src) and dst. A point mapped
// to infinity has infinite error.
func ReprojectionError(h geometry.Homography, src, dst geometry.Point2D) float64 {
	p, err := h.Apply(src)
	if err != nil {
		return inf
	}
	return geometry.Distance(p, dst)
}

func checkInput(src, dst []geometry.Point2D) error {
	if len(src) != len(dst) {
		return ErrMismatch
	}
	if len(src) < MinPoints {
		return ErrDegenerate
	}
	return nil
}
