// Package geometry provides the planar primitives used by the recognition pipeline:
// points, projective transforms and the bounding quadrilateral checks.
package geometry

import (
	"errors"
	"image"
	"math"
)

// ErrPointAtInfinity is returned when a transform maps a point onto the line at infinity.
var ErrPointAtInfinity = errors.New("point maps to infinity")

// Point2D is a point in image or pattern-plane coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Point3D is a point in the target-centered object frame.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Point2D) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// ImagePoint rounds p to the nearest integer pixel.
func (p Point2D) ImagePoint() image.Point {
	return image.Point{X: int(math.Round(p.X)), Y: int(math.Round(p.Y))}
}

// Homography is a 3x3 projective transform stored row-major.
type Homography [9]float64

// Identity returns the identity transform.
func Identity() Homography {
	return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Apply maps p through h.
func (h Homography) Apply(p Point2D) (Point2D, error) {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if w == 0 || math.IsNaN(w) {
		return Point2D{}, ErrPointAtInfinity
	}
	return Point2D{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}, nil
}

// Normalized returns h scaled so that h[8] == 1. If h[8] is zero h is returned unchanged.
func (h Homography) Normalized() Homography {
	if h[8] == 0 {
		return h
	}
	var out Homography
	for i := range h {
		out[i] = h[i] / h[8]
	}
	return out
}

// At returns the element at row r, column c.
func (h Homography) At(r, c int) float64 {
	return h[r*3+c]
}
