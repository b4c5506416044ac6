package features

import (
	"errors"

	"gocv.io/x/gocv"
)

// ErrEmptyImage is returned when an extractor is given an empty Mat.
var ErrEmptyImage = errors.New("empty image")

// Extractor detects salient points in an image and describes each with a
// fixed-length descriptor.
type Extractor interface {
	// Extract returns the keypoints and descriptors found in img.
	// An image without salient points yields an empty set, not an error.
	Extract(img gocv.Mat) (KeypointSet, error)

	// Close releases any resources held by the extractor.
	Close() error
}

// Config holds options for the ORB extractor.
type Config struct {
	// MaxFeatures caps the number of keypoints retained per image.
	MaxFeatures int
}

// DefaultConfig returns the ORB defaults (500 features).
func DefaultConfig() Config {
	return Config{
		MaxFeatures: 500,
	}
}
