package pose

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/ayusman/targetlock/internal/geometry"
	"github.com/ayusman/targetlock/internal/homography"
)

const (
	// DefaultIterations bounds the number of RANSAC samples.
	DefaultIterations = 10
	// DefaultThreshold is the pixel reprojection error under which a point is an inlier.
	DefaultThreshold = 10.0
	// MinPoints is the smallest correspondence count the planar solver accepts.
	MinPoints = 4
)

var (
	// ErrTooFewPoints is returned when fewer than MinPoints correspondences are given.
	ErrTooFewPoints = errors.New("too few correspondences for pose")
	// ErrNonPlanar is returned when the object points do not lie on z = 0.
	ErrNonPlanar = errors.New("object points are not planar")
	// ErrNoSolution is returned when no sample yields a pose with inliers.
	ErrNoSolution = errors.New("no pose found")
)

// Pose is the target's rotation and translation in the camera frame.
type Pose struct {
	// Rotation is the row-major rotation matrix.
	Rotation [9]float64 `json:"rotation"`
	// RVec is the same rotation as a Rodrigues vector.
	RVec [3]float64 `json:"rvec"`
	TVec [3]float64 `json:"tvec"`
	// Inliers holds the indices of the correspondences consistent with the pose.
	Inliers []int `json:"inliers"`
	// Error is the mean pixel reprojection error over the inliers.
	Error float64 `json:"error"`
}

// Solver recovers a pose from 3D-2D correspondences.
type Solver interface {
	Solve(object []geometry.Point3D, image []geometry.Point2D, in Intrinsics) (*Pose, error)
}

// RansacPnP solves planar PnP robustly. Each sample is initialized from the
// homography between the target plane and normalized image coordinates and
// refined with Levenberg-Marquardt on pixel reprojection error.
type RansacPnP struct {
	Iterations int
	Threshold  float64
	Seed       int64
}

// NewRansacPnP creates a solver. Non-positive values use the defaults.
func NewRansacPnP(iterations int, threshold float64) *RansacPnP {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &RansacPnP{Iterations: iterations, Threshold: threshold, Seed: 1}
}

// Solve implements Solver.
func (s *RansacPnP) Solve(object []geometry.Point3D, image []geometry.Point2D, in Intrinsics) (*Pose, error) {
	if len(object) != len(image) {
		return nil, fmt.Errorf("pose: %d object points, %d image points", len(object), len(image))
	}
	if len(object) < MinPoints {
		return nil, ErrTooFewPoints
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	for _, p := range object {
		if math.Abs(p.Z) > 1e-9 {
			return nil, ErrNonPlanar
		}
	}

	n := len(object)
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	var (
		best        *Pose
		bestInliers []int
	)
	consider := func(subset []int) {
		p, ok := solveSubset(object, image, in, subset)
		if !ok {
			return
		}
		inliers := s.inliers(p, object, image, in)
		if len(inliers) > len(bestInliers) {
			best, bestInliers = p, inliers
		}
	}

	if n == MinPoints {
		consider(all)
	} else {
		rng := rand.New(rand.NewSource(s.Seed))
		for iter := 0; iter < s.Iterations; iter++ {
			consider(rng.Perm(n)[:MinPoints])
			if len(bestInliers) == n {
				break
			}
		}
	}

	if best == nil || len(bestInliers) < MinPoints {
		return nil, ErrNoSolution
	}

	if len(bestInliers) > MinPoints || n == MinPoints {
		if p, ok := solveSubset(object, image, in, bestInliers); ok {
			if inl := s.inliers(p, object, image, in); len(inl) >= len(bestInliers) {
				best, bestInliers = p, inl
			}
		}
	}

	best.Inliers = bestInliers
	best.Error = meanError(best, object, image, in, bestInliers)
	return best, nil
}

func (s *RansacPnP) inliers(p *Pose, object []geometry.Point3D, image []geometry.Point2D, in Intrinsics) []int {
	var out []int
	for i := range object {
		if reprojectionError(p.Rotation, p.TVec, object[i], image[i], in) < s.Threshold {
			out = append(out, i)
		}
	}
	return out
}

func meanError(p *Pose, object []geometry.Point3D, image []geometry.Point2D, in Intrinsics, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, i := range idx {
		sum += reprojectionError(p.Rotation, p.TVec, object[i], image[i], in)
	}
	return sum / float64(len(idx))
}

func reprojectionError(r [9]float64, t [3]float64, obj geometry.Point3D, img geometry.Point2D, in Intrinsics) float64 {
	pc := rotate(r, [3]float64{obj.X, obj.Y, obj.Z})
	pc[0] += t[0]
	pc[1] += t[1]
	pc[2] += t[2]
	p, ok := in.Project(pc)
	if !ok {
		return math.Inf(1)
	}
	return geometry.Distance(p, img)
}

// solveSubset estimates a pose from the correspondences at idx.
func solveSubset(object []geometry.Point3D, image []geometry.Point2D, in Intrinsics, idx []int) (*Pose, bool) {
	plane := make([]geometry.Point2D, len(idx))
	norm := make([]geometry.Point2D, len(idx))
	for i, j := range idx {
		plane[i] = geometry.Point2D{X: object[j].X, Y: object[j].Y}
		norm[i] = in.Normalize(image[j])
	}

	h, err := homography.Fit(plane, norm)
	if err != nil {
		return nil, false
	}

	r, t, ok := decompose(h)
	if !ok {
		return nil, false
	}

	rvec := RotationVector(r)
	rvec, t = refine(rvec, t, object, image, in, idx)
	r = Rodrigues(rvec)

	return &Pose{Rotation: r, RVec: rvec, TVec: t}, true
}

// decompose splits a plane-to-normalized-image homography into R and t.
func decompose(h geometry.Homography) (r [9]float64, t [3]float64, ok bool) {
	h1 := [3]float64{h[0], h[3], h[6]}
	h2 := [3]float64{h[1], h[4], h[7]}
	h3 := [3]float64{h[2], h[5], h[8]}

	n1, n2 := norm3(h1), norm3(h2)
	if n1 < 1e-12 || n2 < 1e-12 {
		return r, t, false
	}
	lambda := 2 / (n1 + n2)
	if h3[2] < 0 {
		lambda = -lambda
	}

	var r1, r2 [3]float64
	for i := 0; i < 3; i++ {
		r1[i] = lambda * h1[i]
		r2[i] = lambda * h2[i]
		t[i] = lambda * h3[i]
	}
	r3 := cross(r1, r2)

	approx := mat.NewDense(3, 3, []float64{
		r1[0], r2[0], r3[0],
		r1[1], r2[1], r3[1],
		r1[2], r2[2], r3[2],
	})

	var svd mat.SVD
	if !svd.Factorize(approx, mat.SVDFull) {
		return r, t, false
	}
	var u, v, nearest mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	nearest.Mul(&u, v.T())
	if mat.Det(&nearest) < 0 {
		return r, t, false
	}

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i*3+j] = nearest.At(i, j)
		}
	}
	return r, t, true
}

// refine runs Levenberg-Marquardt over (rvec, t) on pixel reprojection error.
func refine(rvec, t [3]float64, object []geometry.Point3D, image []geometry.Point2D, in Intrinsics, idx []int) ([3]float64, [3]float64) {
	const (
		maxIter = 30
		step    = 1e-7
	)

	params := [6]float64{rvec[0], rvec[1], rvec[2], t[0], t[1], t[2]}
	m := 2 * len(idx)

	residuals := func(p [6]float64) ([]float64, float64) {
		r := Rodrigues([3]float64{p[0], p[1], p[2]})
		res := make([]float64, m)
		var cost float64
		for k, i := range idx {
			pc := rotate(r, [3]float64{object[i].X, object[i].Y, object[i].Z})
			pc[0] += p[3]
			pc[1] += p[4]
			pc[2] += p[5]
			proj, ok := in.Project(pc)
			if !ok {
				return nil, math.Inf(1)
			}
			res[2*k] = proj.X - image[i].X
			res[2*k+1] = proj.Y - image[i].Y
			cost += res[2*k]*res[2*k] + res[2*k+1]*res[2*k+1]
		}
		return res, cost
	}

	res, cost := residuals(params)
	if math.IsInf(cost, 1) {
		return rvec, t
	}

	mu := 1e-3
	for iter := 0; iter < maxIter && cost > 1e-18; iter++ {
		jac := mat.NewDense(m, 6, nil)
		for j := 0; j < 6; j++ {
			h := step * math.Max(1, math.Abs(params[j]))
			shifted := params
			shifted[j] += h
			r2, c2 := residuals(shifted)
			if math.IsInf(c2, 1) {
				return [3]float64{params[0], params[1], params[2]}, [3]float64{params[3], params[4], params[5]}
			}
			for i := 0; i < m; i++ {
				jac.Set(i, j, (r2[i]-res[i])/h)
			}
		}

		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		var g mat.VecDense
		g.MulVec(jac.T(), mat.NewVecDense(m, res))

		improved := false
		for attempt := 0; attempt < 10; attempt++ {
			a := mat.DenseCopyOf(&jtj)
			for d := 0; d < 6; d++ {
				a.Set(d, d, a.At(d, d)*(1+mu))
			}
			var delta mat.VecDense
			if err := delta.SolveVec(a, &g); err != nil {
				mu *= 10
				continue
			}

			next := params
			for d := 0; d < 6; d++ {
				next[d] -= delta.AtVec(d)
			}
			nres, ncost := residuals(next)
			if ncost < cost {
				params, res, cost = next, nres, ncost
				mu = math.Max(mu/10, 1e-12)
				improved = true
				break
			}
			mu *= 10
		}
		if !improved {
			break
		}
	}

	return [3]float64{params[0], params[1], params[2]}, [3]float64{params[3], params[4], params[5]}
}
