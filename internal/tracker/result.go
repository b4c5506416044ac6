package tracker

import (
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/targetlock/internal/geometry"
	"github.com/ayusman/targetlock/internal/pose"
)

// Outcome is the terminal state of one Process call.
type Outcome int

const (
	// OutcomeTooFewKeypoints: the frame is returned unchanged.
	OutcomeTooFewKeypoints Outcome = iota + 1
	// OutcomeTooFewMatches: failure overlay, no quad.
	OutcomeTooFewMatches
	// OutcomeRejected: the homography could not be fitted or its quad failed
	// verification. Failure overlay, with the quad when one was projected.
	OutcomeRejected
	// OutcomeDetected: verified quad drawn in the success color.
	OutcomeDetected
)

var outcomeNames = map[Outcome]string{
	OutcomeTooFewKeypoints: "too_few_keypoints",
	OutcomeTooFewMatches:   "too_few_matches",
	OutcomeRejected:        "rejected",
	OutcomeDetected:        "detected",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText decodes an outcome name.
func (o *Outcome) UnmarshalText(b []byte) error {
	for k, v := range outcomeNames {
		if v == string(b) {
			*o = k
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", b)
}

// Success reports whether the target was found.
func (o Outcome) Success() bool {
	return o == OutcomeDetected
}

// Result is the product of one Process call. The caller owns Frame.
type Result struct {
	Frame   gocv.Mat
	Outcome Outcome

	Keypoints int
	Matches   int
	// Inliers counts homography inliers; zero when no fit was made.
	Inliers int

	Homography *geometry.Homography
	Quad       *geometry.Quad
	// Pose is set only for detections made while intrinsics were available.
	Pose *pose.Pose

	Duration time.Duration
}

// Close releases the frame.
func (r *Result) Close() error {
	return r.Frame.Close()
}
