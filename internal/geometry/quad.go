package geometry

import (
	"fmt"
	"image"
)

// Quad is a bounding quadrilateral. Corner order follows the pattern corners:
// top-left, bottom-left, bottom-right, top-right.
type Quad [4]Point2D

// ProjectQuad maps the pattern corners through h, preserving their order.
func ProjectQuad(h Homography, corners [4]Point2D) (Quad, error) {
	var q Quad
	for i, c := range corners {
		p, err := h.Apply(c)
		if err != nil {
			return Quad{}, fmt.Errorf("project corner %d: %w", i, err)
		}
		q[i] = p
	}
	return q, nil
}

// Points returns the corners as a slice.
func (q Quad) Points() []Point2D {
	return q[:]
}

// ImagePoints returns the corners rounded to integer pixels, for drawing.
func (q Quad) ImagePoints() []image.Point {
	pts := make([]image.Point, len(q))
	for i, p := range q {
		pts[i] = p.ImagePoint()
	}
	return pts
}

// SideLengths returns the lengths of the sides c0->c1, c1->c2, c2->c3, c3->c0.
func SideLengths(points []Point2D) (a, b, c, d float64) {
	a = Distance(points[0], points[1])
	b = Distance(points[1], points[2])
	c = Distance(points[2], points[3])
	d = Distance(points[3], points[0])
	return a, b, c, d
}

// DefaultSideRatio is the minimum ratio allowed between opposite sides.
const DefaultSideRatio = 0.7

// QuadVerifier rejects quadrilaterals whose opposite sides differ too much in length.
// XRatio bounds the a/c pair, YRatio the b/d pair.
type QuadVerifier struct {
	XRatio float64
	YRatio float64
}

// DefaultQuadVerifier returns a verifier with both ratios set to DefaultSideRatio.
func DefaultQuadVerifier() QuadVerifier {
	return QuadVerifier{XRatio: DefaultSideRatio, YRatio: DefaultSideRatio}
}

// Verify reports whether points form a valid detection. Anything other than
// exactly four points is rejected.
func (v QuadVerifier) Verify(points []Point2D) bool {
	if len(points) != 4 {
		return false
	}
	return v.VerifySides(SideLengths(points))
}

// VerifySides applies the opposite-side ratio test to precomputed side lengths.
// Comparisons are written so that NaN ratios (zero-length sides) fail.
func (v QuadVerifier) VerifySides(a, b, c, d float64) bool {
	return a/c >= v.XRatio && c/a >= v.XRatio &&
		b/d >= v.YRatio && d/b >= v.YRatio
}
