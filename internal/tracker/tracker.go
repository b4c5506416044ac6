// Package tracker runs the per-frame recognition pipeline: extract, match,
// fit, verify, optionally solve pose, and annotate.
package tracker

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/targetlock/internal/annotate"
	"github.com/ayusman/targetlock/internal/features"
	"github.com/ayusman/targetlock/internal/geometry"
	"github.com/ayusman/targetlock/internal/homography"
	"github.com/ayusman/targetlock/internal/logger"
	"github.com/ayusman/targetlock/internal/matching"
	"github.com/ayusman/targetlock/internal/pattern"
	"github.com/ayusman/targetlock/internal/pose"
)

// Minimum-evidence defaults.
const (
	DefaultMinKeypoints = 15
	DefaultMinMatches   = 15
)

// ErrEmptyFrame is returned by Process for an empty Mat.
var ErrEmptyFrame = errors.New("empty frame")

// Config holds the tracker thresholds. Zero values fall back to the defaults.
type Config struct {
	MinKeypoints int
	MinMatches   int
	Ratio        float64
	// RansacThreshold is the homography inlier limit in pixels.
	RansacThreshold float64
	XRatio          float64
	YRatio          float64
	PnPIterations   int
	PnPThreshold    float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MinKeypoints:    DefaultMinKeypoints,
		MinMatches:      DefaultMinMatches,
		Ratio:           matching.DefaultRatio,
		RansacThreshold: homography.DefaultThreshold,
		XRatio:          geometry.DefaultSideRatio,
		YRatio:          geometry.DefaultSideRatio,
		PnPIterations:   pose.DefaultIterations,
		PnPThreshold:    pose.DefaultThreshold,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinKeypoints <= 0 {
		c.MinKeypoints = d.MinKeypoints
	}
	if c.MinMatches <= 0 {
		c.MinMatches = d.MinMatches
	}
	if c.Ratio <= 0 {
		c.Ratio = d.Ratio
	}
	if c.RansacThreshold <= 0 {
		c.RansacThreshold = d.RansacThreshold
	}
	if c.XRatio <= 0 {
		c.XRatio = d.XRatio
	}
	if c.YRatio <= 0 {
		c.YRatio = d.YRatio
	}
	if c.PnPIterations <= 0 {
		c.PnPIterations = d.PnPIterations
	}
	if c.PnPThreshold <= 0 {
		c.PnPThreshold = d.PnPThreshold
	}
	return c
}

// Components are the pluggable pipeline stages. Nil fields get the default
// implementation, which the Tracker then owns and closes.
type Components struct {
	Extractor features.Extractor
	Searcher  matching.Searcher
	Estimator homography.Estimator
	Solver    pose.Solver
	Annotator annotate.Annotator
}

// Tracker recognizes one pattern in a stream of frames. Process is meant to be
// called from a single goroutine; SetIntrinsics may be called from any goroutine.
type Tracker struct {
	pattern   *pattern.Pattern
	features  features.KeypointSet
	corners   [4]geometry.Point2D
	object    []geometry.Point3D
	cfg       Config
	extractor features.Extractor
	matcher   *matching.Matcher
	estimator homography.Estimator
	verifier  geometry.QuadVerifier
	solver    pose.Solver
	annotator annotate.Annotator
	logger    *slog.Logger

	intrinsics atomic.Pointer[pose.Intrinsics]
	owned      []io.Closer
}

// New creates a Tracker for p.
func New(p *pattern.Pattern, c Components, cfg Config, l *slog.Logger) (*Tracker, error) {
	if p == nil {
		return nil, errors.New("tracker: nil pattern")
	}
	cfg = cfg.withDefaults()

	corners3D := p.Corners3D()
	t := &Tracker{
		pattern:  p,
		features: p.Features(),
		corners:  p.Corners(),
		object:   corners3D[:],
		cfg:      cfg,
		verifier: geometry.QuadVerifier{XRatio: cfg.XRatio, YRatio: cfg.YRatio},
		logger:   logger.Component(l, "tracker"),
	}

	if c.Extractor == nil {
		ex := features.NewORBExtractor(features.DefaultConfig())
		c.Extractor = ex
		t.owned = append(t.owned, ex)
	}
	if c.Searcher == nil {
		bf := matching.NewBFSearcher()
		c.Searcher = bf
		t.owned = append(t.owned, bf)
	}
	if c.Estimator == nil {
		c.Estimator = homography.NewOpenCVEstimator(cfg.RansacThreshold)
	}
	if c.Solver == nil {
		c.Solver = pose.NewRansacPnP(cfg.PnPIterations, cfg.PnPThreshold)
	}
	if c.Annotator == nil {
		c.Annotator = annotate.NewOverlay()
	}

	t.extractor = c.Extractor
	t.matcher = matching.NewMatcher(c.Searcher, cfg.Ratio)
	t.estimator = c.Estimator
	t.solver = c.Solver
	t.annotator = c.Annotator

	return t, nil
}

// Config returns the effective thresholds.
func (t *Tracker) Config() Config {
	return t.cfg
}

// Pattern returns the target being tracked.
func (t *Tracker) Pattern() *pattern.Pattern {
	return t.pattern
}

// SetIntrinsics replaces the camera model used for pose. The latest value wins.
func (t *Tracker) SetIntrinsics(in pose.Intrinsics) error {
	if err := in.Validate(); err != nil {
		return err
	}
	c := in.Clone()
	t.intrinsics.Store(&c)
	return nil
}

// ClearIntrinsics forgets the camera model; pose is skipped until the next SetIntrinsics.
func (t *Tracker) ClearIntrinsics() {
	t.intrinsics.Store(nil)
}

// Intrinsics returns the current camera model, if one has been set.
func (t *Tracker) Intrinsics() (pose.Intrinsics, bool) {
	in := t.intrinsics.Load()
	if in == nil {
		return pose.Intrinsics{}, false
	}
	return in.Clone(), true
}

// Process runs the pipeline on frame and returns a Result owning a new Mat.
// Insufficient evidence and geometric rejection are outcomes, not errors; an
// error means the frame itself could not be processed.
func (t *Tracker) Process(frame gocv.Mat) (*Result, error) {
	start := time.Now()
	if frame.Empty() {
		return nil, ErrEmptyFrame
	}

	set, err := t.extractor.Extract(frame)
	if err != nil {
		return nil, fmt.Errorf("extract frame features: %w", err)
	}

	res := &Result{Keypoints: set.Len()}
	defer func() { res.Duration = time.Since(start) }()

	if set.Len() < t.cfg.MinKeypoints {
		res.Outcome = OutcomeTooFewKeypoints
		res.Frame = frame.Clone()
		return res, nil
	}

	matches, err := t.matcher.Match(t.features, set)
	if err != nil {
		return nil, fmt.Errorf("match frame: %w", err)
	}
	res.Matches = len(matches)

	patternView, frameView, err := matching.Split(matches, t.features, set)
	if err != nil {
		return nil, fmt.Errorf("split matches: %w", err)
	}

	if len(matches) < t.cfg.MinMatches {
		res.Outcome = OutcomeTooFewMatches
		return t.draw(res, frame, set, frameView, nil, false)
	}

	h, mask, err := t.estimator.Estimate(patternView.Points(), frameView.Points())
	if err != nil {
		t.logger.Debug("homography fit failed", "matches", len(matches), "error", err)
		res.Outcome = OutcomeRejected
		return t.draw(res, frame, set, frameView, nil, false)
	}
	res.Homography = &h
	res.Inliers = homography.CountInliers(mask)

	quad, err := geometry.ProjectQuad(h, t.corners)
	if err != nil {
		t.logger.Debug("quad projection failed", "error", err)
		res.Outcome = OutcomeRejected
		return t.draw(res, frame, set, frameView, nil, false)
	}
	res.Quad = &quad

	if !t.verifier.Verify(quad.Points()) {
		res.Outcome = OutcomeRejected
		return t.draw(res, frame, set, frameView, &quad, false)
	}

	// Read once so a concurrent update cannot change the model mid-frame.
	if in := t.intrinsics.Load(); in != nil {
		p, err := t.solver.Solve(t.object, quad.Points(), *in)
		if err != nil {
			t.logger.Debug("pose solve failed", "error", err)
		} else {
			res.Pose = p
		}
	}

	res.Outcome = OutcomeDetected
	return t.draw(res, frame, set, frameView, &quad, true)
}

func (t *Tracker) draw(res *Result, frame gocv.Mat, all, matched features.KeypointSet, quad *geometry.Quad, success bool) (*Result, error) {
	out, err := t.annotator.Annotate(frame, all, matched, quad, success)
	if err != nil {
		return nil, fmt.Errorf("annotate frame: %w", err)
	}
	res.Frame = out
	return res, nil
}

// Close releases the stages the Tracker created itself.
func (t *Tracker) Close() error {
	var errs []error
	for _, c := range t.owned {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	t.owned = nil
	return errors.Join(errs...)
}
