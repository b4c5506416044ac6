package features

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// ORBExtractor implements Extractor with OpenCV's ORB detector.
type ORBExtractor struct {
	orb gocv.ORB
	mu  sync.Mutex
}

// NewORBExtractor creates an ORB extractor with the given configuration.
func NewORBExtractor(cfg Config) *ORBExtractor {
	n := cfg.MaxFeatures
	if n <= 0 {
		n = DefaultConfig().MaxFeatures
	}

	return &ORBExtractor{
		orb: gocv.NewORBWithParams(n, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20),
	}
}

// Extract detects ORB keypoints and computes their binary descriptors.
// Color images are converted to grayscale first.
func (e *ORBExtractor) Extract(img gocv.Mat) (KeypointSet, error) {
	if img.Empty() {
		return KeypointSet{}, ErrEmptyImage
	}

	gray := ToGray(img)
	defer gray.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	e.mu.Lock()
	kps, desc := e.orb.DetectAndCompute(gray, mask)
	e.mu.Unlock()
	defer desc.Close()

	set := KeypointSet{
		Keypoints: FromGocvKeyPoints(kps),
		Norm:      NormHamming,
	}

	if len(kps) == 0 || desc.Empty() {
		set.Keypoints = []Keypoint{}
		set.Descriptors = []Descriptor{}
		return set, nil
	}

	descriptors, err := DescriptorsFromMat(desc)
	if err != nil {
		return KeypointSet{}, fmt.Errorf("read descriptors: %w", err)
	}
	set.Descriptors = descriptors

	if err := set.Validate(); err != nil {
		return KeypointSet{}, err
	}
	return set, nil
}

// Close releases the ORB detector.
func (e *ORBExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orb.Close()
}

// ToGray returns a single-channel copy of img. The caller must close the result.
func ToGray(img gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	switch img.Channels() {
	case 1:
		img.CopyTo(&gray)
	case 4:
		gocv.CvtColor(img, &gray, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	}
	return gray
}

// FromGocvKeyPoints converts OpenCV keypoints.
func FromGocvKeyPoints(kps []gocv.KeyPoint) []Keypoint {
	out := make([]Keypoint, len(kps))
	for i, kp := range kps {
		out[i] = Keypoint{
			X:        kp.X,
			Y:        kp.Y,
			Size:     kp.Size,
			Angle:    kp.Angle,
			Response: kp.Response,
			Octave:   kp.Octave,
		}
	}
	return out
}

// ToGocvKeyPoints converts keypoints back to OpenCV's representation, for drawing.
func ToGocvKeyPoints(kps []Keypoint) []gocv.KeyPoint {
	out := make([]gocv.KeyPoint, len(kps))
	for i, kp := range kps {
		out[i] = gocv.KeyPoint{
			X:        kp.X,
			Y:        kp.Y,
			Size:     kp.Size,
			Angle:    kp.Angle,
			Response: kp.Response,
			Octave:   kp.Octave,
			ClassID:  -1,
		}
	}
	return out
}

// DescriptorsFromMat copies an 8-bit single-channel descriptor matrix into rows.
func DescriptorsFromMat(m gocv.Mat) ([]Descriptor, error) {
	if m.Type() != gocv.MatTypeCV8U {
		return nil, fmt.Errorf("unsupported descriptor type %v", m.Type())
	}

	rows, cols := m.Rows(), m.Cols()
	data := m.ToBytes()
	if len(data) != rows*cols {
		return nil, fmt.Errorf("descriptor buffer has %d bytes, want %d", len(data), rows*cols)
	}

	out := make([]Descriptor, rows)
	for r := 0; r < rows; r++ {
		row := make(Descriptor, cols)
		copy(row, data[r*cols:(r+1)*cols])
		out[r] = row
	}
	return out, nil
}

// DescriptorsToMat packs descriptor rows into an 8-bit matrix. The caller must close it.
func DescriptorsToMat(ds []Descriptor) (gocv.Mat, error) {
	if len(ds) == 0 {
		return gocv.NewMat(), nil
	}

	cols := len(ds[0])
	data := make([]byte, 0, len(ds)*cols)
	for i, d := range ds {
		if len(d) != cols {
			return gocv.Mat{}, fmt.Errorf("descriptor %d has length %d, want %d", i, len(d), cols)
		}
		data = append(data, d...)
	}
	m, err := gocv.NewMatFromBytes(len(ds), cols, gocv.MatTypeCV8U, data)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer m.Close()
	// The Mat may alias data; hand back an owned copy.
	return m.Clone(), nil
}
