package features

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockExtractor is a test implementation of the Extractor interface.
// It allows tests to control the extraction results.
type MockExtractor struct {
	mu    sync.Mutex
	set   KeypointSet
	err   error
	calls int
}

// NewMockExtractor creates a new MockExtractor instance.
func NewMockExtractor() *MockExtractor {
	return &MockExtractor{}
}

// SetResult sets the keypoint set that will be returned by Extract.
func (m *MockExtractor) SetResult(set KeypointSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set = set
}

// SetError sets the error that will be returned by Extract.
func (m *MockExtractor) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Extract has been called.
func (m *MockExtractor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Extract returns the pre-configured set or error.
func (m *MockExtractor) Extract(img gocv.Mat) (KeypointSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return KeypointSet{}, m.err
	}
	return m.set, nil
}

// Close is a no-op for the mock extractor.
func (m *MockExtractor) Close() error {
	return nil
}

// GridKeypoints returns n keypoints laid out on a grid with the given spacing,
// each carrying a distinct 32-byte descriptor. Useful for driving the matcher
// in tests without an image.
func GridKeypoints(n, cols int, spacing float64) KeypointSet {
	if cols <= 0 {
		cols = 1
	}
	set := KeypointSet{
		Keypoints:   make([]Keypoint, n),
		Descriptors: make([]Descriptor, n),
		Norm:        NormHamming,
	}
	for i := 0; i < n; i++ {
		set.Keypoints[i] = Keypoint{
			X:    float64(i%cols) * spacing,
			Y:    float64(i/cols) * spacing,
			Size: 31,
		}
		d := make(Descriptor, 32)
		for j := range d {
			d[j] = byte((i*37 + j*11) ^ (i >> 3))
		}
		set.Descriptors[i] = d
	}
	return set
}
