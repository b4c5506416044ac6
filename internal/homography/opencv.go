package homography

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/ayusman/targetlock/internal/geometry"
)

// OpenCVEstimator fits with cv::findHomography in RANSAC mode.
type OpenCVEstimator struct {
	Threshold     float64
	MaxIterations int
	Confidence    float64
}

// NewOpenCVEstimator creates an estimator using threshold as the RANSAC
// reprojection limit. A non-positive threshold uses DefaultThreshold.
func NewOpenCVEstimator(threshold float64) *OpenCVEstimator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &OpenCVEstimator{
		Threshold:     threshold,
		MaxIterations: 2000,
		Confidence:    0.995,
	}
}

// Estimate implements Estimator.
func (e *OpenCVEstimator) Estimate(src, dst []geometry.Point2D) (geometry.Homography, []bool, error) {
	if err := checkInput(src, dst); err != nil {
		return geometry.Homography{}, nil, err
	}

	srcMat := pointsToMat(src)
	defer srcMat.Close()
	dstMat := pointsToMat(dst)
	defer dstMat.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	H := gocv.FindHomography(srcMat, dstMat, gocv.HomographyMethodRANSAC, e.Threshold, &mask, e.MaxIterations, e.Confidence)
	defer H.Close()

	if H.Empty() || H.Rows() != 3 || H.Cols() != 3 {
		return geometry.Homography{}, nil, ErrDegenerate
	}

	var h geometry.Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			h[r*3+c] = H.GetDoubleAt(r, c)
		}
	}
	if !finite(h) {
		return geometry.Homography{}, nil, fmt.Errorf("%w: non-finite transform", ErrDegenerate)
	}

	inliers := make([]bool, len(src))
	if !mask.Empty() && mask.Rows() == len(src) {
		for i := range inliers {
			inliers[i] = mask.GetUCharAt(i, 0) != 0
		}
	} else {
		for i := range inliers {
			inliers[i] = ReprojectionError(h, src[i], dst[i]) < e.Threshold
		}
	}

	return h, inliers, nil
}

// pointsToMat packs points into an Nx1 CV_32FC2 Mat.
func pointsToMat(pts []geometry.Point2D) gocv.Mat {
	m := gocv.NewMatWithSize(len(pts), 1, gocv.MatTypeCV32FC2)
	for i, p := range pts {
		m.SetFloatAt(i, 0, float32(p.X))
		m.SetFloatAt(i, 1, float32(p.Y))
	}
	return m
}
