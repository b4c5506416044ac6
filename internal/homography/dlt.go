package homography

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/ayusman/targetlock/internal/geometry"
)

var inf = math.Inf(1)

// DLTEstimator fits with RANSAC over minimal four-point samples, solving each
// sample with the normalized direct linear transform, then refits the best
// model on all of its inliers.
type DLTEstimator struct {
	Threshold     float64
	MaxIterations int
	Confidence    float64
	// Seed makes sampling reproducible. Each Estimate call starts from it.
	Seed int64
}

// NewDLTEstimator creates an estimator using threshold as the inlier limit.
// A non-positive threshold uses DefaultThreshold.
func NewDLTEstimator(threshold float64) *DLTEstimator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &DLTEstimator{
		Threshold:     threshold,
		MaxIterations: 2000,
		Confidence:    0.995,
		Seed:          1,
	}
}

// Estimate implements Estimator.
func (e *DLTEstimator) Estimate(src, dst []geometry.Point2D) (geometry.Homography, []bool, error) {
	if err := checkInput(src, dst); err != nil {
		return geometry.Homography{}, nil, err
	}

	n := len(src)
	rng := rand.New(rand.NewSource(e.Seed))

	var (
		bestH     geometry.Homography
		bestCount = 0
		maxIter   = e.MaxIterations
		idx       [MinPoints]int
		s, d      = make([]geometry.Point2D, MinPoints), make([]geometry.Point2D, MinPoints)
	)

	for iter := 0; iter < maxIter; iter++ {
		sampleIndices(rng, n, idx[:])
		for i, j := range idx {
			s[i], d[i] = src[j], dst[j]
		}
		if hasCollinearTriple(s) || hasCollinearTriple(d) {
			continue
		}

		h, ok := solveDLT(s, d)
		if !ok {
			continue
		}

		count := 0
		for i := range src {
			if ReprojectionError(h, src[i], dst[i]) < e.Threshold {
				count++
			}
		}
		if count > bestCount {
			bestCount = count
			bestH = h
			if k := requiredIterations(count, n, e.Confidence); k < maxIter {
				maxIter = k
			}
		}
	}

	if bestCount < MinPoints {
		return geometry.Homography{}, nil, ErrDegenerate
	}

	mask := e.inlierMask(bestH, src, dst)

	// Refit on the consensus set and keep the refit only if it does not lose support.
	var is, id []geometry.Point2D
	for i, in := range mask {
		if in {
			is = append(is, src[i])
			id = append(id, dst[i])
		}
	}
	if refit, ok := solveDLT(is, id); ok {
		if refitMask := e.inlierMask(refit, src, dst); CountInliers(refitMask) >= CountInliers(mask) {
			bestH, mask = refit, refitMask
		}
	}

	return bestH, mask, nil
}

func (e *DLTEstimator) inlierMask(h geometry.Homography, src, dst []geometry.Point2D) []bool {
	mask := make([]bool, len(src))
	for i := range src {
		mask[i] = ReprojectionError(h, src[i], dst[i]) < e.Threshold
	}
	return mask
}

// Fit returns the least-squares homography through all correspondences, with
// no outlier rejection.
func Fit(src, dst []geometry.Point2D) (geometry.Homography, error) {
	if err := checkInput(src, dst); err != nil {
		return geometry.Homography{}, err
	}
	h, ok := solveDLT(src, dst)
	if !ok {
		return geometry.Homography{}, ErrDegenerate
	}
	return h, nil
}

// requiredIterations returns the number of samples needed to draw one
// all-inlier sample with the given confidence.
func requiredIterations(inliers, total int, confidence float64) int {
	w := float64(inliers) / float64(total)
	p := math.Pow(w, MinPoints)
	if p >= 1 {
		return 0
	}
	if p <= 0 {
		return math.MaxInt32
	}
	k := math.Log(1-confidence) / math.Log(1-p)
	if math.IsNaN(k) || k > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Ceil(k))
}

// sampleIndices fills out with distinct indices in [0,n).
func sampleIndices(rng *rand.Rand, n int, out []int) {
	for i := 0; i < len(out); {
		v := rng.Intn(n)
		if !containsIndex(out[:i], v) {
			out[i] = v
			i++
		}
	}
}

func containsIndex(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func hasCollinearTriple(pts []geometry.Point2D) bool {
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			for k := j + 1; k < len(pts); k++ {
				a, b, c := pts[i], pts[j], pts[k]
				area := (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
				if math.Abs(area) < 1e-6 {
					return true
				}
			}
		}
	}
	return false
}

// normalization returns the similarity that moves the centroid of pts to the
// origin and scales their mean distance from it to sqrt(2).
func normalization(pts []geometry.Point2D) (scale, cx, cy float64, ok bool) {
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(len(pts))
	cy /= float64(len(pts))

	var mean float64
	for _, p := range pts {
		mean += math.Hypot(p.X-cx, p.Y-cy)
	}
	mean /= float64(len(pts))
	if mean < 1e-12 {
		return 0, 0, 0, false
	}
	return math.Sqrt2 / mean, cx, cy, true
}

// solveDLT returns the least-squares homography for at least four correspondences.
func solveDLT(src, dst []geometry.Point2D) (geometry.Homography, bool) {
	n := len(src)
	if n < MinPoints || n != len(dst) {
		return geometry.Homography{}, false
	}

	ss, sx, sy, ok := normalization(src)
	if !ok {
		return geometry.Homography{}, false
	}
	ds, dx, dy, ok := normalization(dst)
	if !ok {
		return geometry.Homography{}, false
	}

	a := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		x, y := ss*(src[i].X-sx), ss*(src[i].Y-sy)
		u, v := ds*(dst[i].X-dx), ds*(dst[i].Y-dy)
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return geometry.Homography{}, false
	}
	vals := svd.Values(nil)
	if len(vals) < 8 || vals[7] < 1e-9*vals[0] {
		return geometry.Homography{}, false
	}
	var v mat.Dense
	svd.VTo(&v)

	hn := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		hn.Set(i/3, i%3, v.At(i, 8))
	}

	t1 := mat.NewDense(3, 3, []float64{
		ss, 0, -ss * sx,
		0, ss, -ss * sy,
		0, 0, 1,
	})
	t2inv := mat.NewDense(3, 3, []float64{
		1 / ds, 0, dx,
		0, 1 / ds, dy,
		0, 0, 1,
	})

	var tmp, full mat.Dense
	tmp.Mul(t2inv, hn)
	full.Mul(&tmp, t1)

	var h geometry.Homography
	for i := 0; i < 9; i++ {
		h[i] = full.At(i/3, i%3)
	}
	if math.Abs(h[8]) > 1e-12 {
		h = h.Normalized()
	}
	if !finite(h) {
		return geometry.Homography{}, false
	}
	return h, true
}

func finite(h geometry.Homography) bool {
	for _, v := range h {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
