// Package pose recovers the rotation and translation of the planar target
// relative to the camera.
package pose

import (
	"errors"
	"fmt"
	"math"

	"github.com/ayusman/targetlock/internal/geometry"
)

// ErrInvalidIntrinsics is returned for a projection matrix or distortion vector
// the solver cannot use.
var ErrInvalidIntrinsics = errors.New("invalid camera intrinsics")

// Intrinsics is the pinhole camera model: the row-major 3x3 projection matrix K
// and the distortion vector D (k1, k2, p1, p2[, k3[, k4, k5, k6]]).
type Intrinsics struct {
	K [9]float64 `json:"k"`
	D []float64  `json:"d"`
}

// NewIntrinsics builds Intrinsics from focal lengths, principal point and distortion.
func NewIntrinsics(fx, fy, cx, cy float64, d ...float64) Intrinsics {
	return Intrinsics{
		K: [9]float64{fx, 0, cx, 0, fy, cy, 0, 0, 1},
		D: append([]float64(nil), d...),
	}
}

// Validate checks that K is a usable projection matrix and D has a supported length.
func (in Intrinsics) Validate() error {
	if in.K[0] <= 0 || in.K[4] <= 0 {
		return fmt.Errorf("%w: focal lengths must be positive", ErrInvalidIntrinsics)
	}
	if in.K[3] != 0 || in.K[6] != 0 || in.K[7] != 0 || in.K[8] != 1 {
		return fmt.Errorf("%w: K must be upper triangular with K[2][2] = 1", ErrInvalidIntrinsics)
	}
	for _, v := range in.K {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite K", ErrInvalidIntrinsics)
		}
	}
	switch len(in.D) {
	case 0, 4, 5, 8:
	default:
		return fmt.Errorf("%w: distortion vector of length %d", ErrInvalidIntrinsics, len(in.D))
	}
	return nil
}

// Clone returns a deep copy.
func (in Intrinsics) Clone() Intrinsics {
	in.D = append([]float64(nil), in.D...)
	return in
}

type distortion struct {
	k1, k2, p1, p2, k3, k4, k5, k6 float64
}

func (in Intrinsics) distortion() distortion {
	var c [8]float64
	copy(c[:], in.D)
	return distortion{c[0], c[1], c[2], c[3], c[4], c[5], c[6], c[7]}
}

// radial returns the radial scale factor at squared radius r2.
func (d distortion) radial(r2 float64) float64 {
	r4 := r2 * r2
	r6 := r4 * r2
	num := 1 + d.k1*r2 + d.k2*r4 + d.k3*r6
	den := 1 + d.k4*r2 + d.k5*r4 + d.k6*r6
	return num / den
}

// Project maps a point in camera coordinates to pixel coordinates. ok is false
// when the point is behind the camera.
func (in Intrinsics) Project(pc [3]float64) (p geometry.Point2D, ok bool) {
	if pc[2] <= 0 {
		return geometry.Point2D{}, false
	}
	x, y := pc[0]/pc[2], pc[1]/pc[2]

	d := in.distortion()
	r2 := x*x + y*y
	rad := d.radial(r2)
	xd := x*rad + 2*d.p1*x*y + d.p2*(r2+2*x*x)
	yd := y*rad + d.p1*(r2+2*y*y) + 2*d.p2*x*y

	return geometry.Point2D{
		X: in.K[0]*xd + in.K[1]*yd + in.K[2],
		Y: in.K[4]*yd + in.K[5],
	}, true
}

// Normalize maps a pixel to undistorted normalized image coordinates.
func (in Intrinsics) Normalize(p geometry.Point2D) geometry.Point2D {
	fx, skew, cx := in.K[0], in.K[1], in.K[2]
	fy, cy := in.K[4], in.K[5]

	y0 := (p.Y - cy) / fy
	x0 := (p.X - cx - skew*y0) / fx
	if len(in.D) == 0 {
		return geometry.Point2D{X: x0, Y: y0}
	}

	d := in.distortion()
	x, y := x0, y0
	for i := 0; i < 20; i++ {
		r2 := x*x + y*y
		icdist := 1 / d.radial(r2)
		dx := 2*d.p1*x*y + d.p2*(r2+2*x*x)
		dy := d.p1*(r2+2*y*y) + 2*d.p2*x*y
		x = (x0 - dx) * icdist
		y = (y0 - dy) * icdist
	}
	return geometry.Point2D{X: x, Y: y}
}
