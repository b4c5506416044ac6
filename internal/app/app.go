// Package app provides the main application logic: it feeds frames from a
// camera or an external producer into the tracker and publishes the results.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/ayusman/targetlock/internal/capture"
	"github.com/ayusman/targetlock/internal/geometry"
	"github.com/ayusman/targetlock/internal/logger"
	"github.com/ayusman/targetlock/internal/pose"
	"github.com/ayusman/targetlock/internal/smoothing"
	"github.com/ayusman/targetlock/internal/tracker"
)

// DefaultOutputBuffer is the capacity of the output channel.
const DefaultOutputBuffer = 5

// ErrNoTracker is returned by New when Config.Tracker is nil.
var ErrNoTracker = errors.New("app requires a tracker")

// Config holds configuration options for the application.
type Config struct {
	Tracker *tracker.Tracker
	// Codec converts inbound frames to BGR and outbound frames to its encoding.
	// Nil means bgr8.
	Codec *capture.Codec
	// Camera is optional; without one frames arrive only through SubmitFrame.
	Camera       capture.Camera
	OutputBuffer int
	Logger       *slog.Logger
}

// Output is one published frame. Outcome is zero for frames passed through
// while detection is disabled.
type Output struct {
	Frame     capture.Frame   `json:"frame"`
	Outcome   tracker.Outcome `json:"outcome,omitempty"`
	Keypoints int             `json:"keypoints"`
	Matches   int             `json:"matches"`
	Inliers   int             `json:"inliers"`
	Quad      *geometry.Quad  `json:"quad,omitempty"`
	Pose      *pose.Pose      `json:"pose,omitempty"`
	Duration  time.Duration   `json:"duration"`
}

// App is the main application that orchestrates capture, tracking and output.
type App struct {
	config  Config
	tracker *tracker.Tracker
	codec   *capture.Codec
	camera  capture.Camera
	logger  *slog.Logger

	slot    *frameSlot
	outputs chan Output
	enabled atomic.Bool

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup

	stats stats

	latestMu sync.RWMutex
	latest   gocv.Mat
}

// New creates a new App instance with the given configuration. Detection
// starts enabled.
func New(config Config) (*App, error) {
	if config.Tracker == nil {
		return nil, ErrNoTracker
	}
	if config.OutputBuffer <= 0 {
		config.OutputBuffer = DefaultOutputBuffer
	}
	codec := config.Codec
	if codec == nil {
		var err error
		if codec, err = capture.NewCodec(capture.EncodingBGR8); err != nil {
			return nil, err
		}
	}

	a := &App{
		config:  config,
		tracker: config.Tracker,
		codec:   codec,
		camera:  config.Camera,
		logger:  logger.Component(config.Logger, "app"),
		slot:    newFrameSlot(),
		outputs: make(chan Output, config.OutputBuffer),
		latest:  gocv.NewMat(),
		stats:   stats{latency: smoothing.New()},
	}
	a.enabled.Store(true)
	return a, nil
}

// SetEnabled enables or disables detection. Disabled frames are published unchanged.
func (a *App) SetEnabled(enabled bool) {
	if a.enabled.Swap(enabled) != enabled {
		a.logger.Info("detection toggled", "enabled", enabled)
	}
}

// IsEnabled returns whether detection is currently enabled.
func (a *App) IsEnabled() bool {
	return a.enabled.Load()
}

// Outputs returns the channel of published frames. It is never closed.
func (a *App) Outputs() <-chan Output {
	return a.outputs
}

// Tracker returns the tracker.
func (a *App) Tracker() *tracker.Tracker {
	return a.tracker
}

// Camera returns the camera, or nil.
func (a *App) Camera() capture.Camera {
	return a.camera
}

// Codec returns the frame codec.
func (a *App) Codec() *capture.Codec {
	return a.codec
}

// SubmitFrame queues f for processing, replacing any frame still waiting.
// It never blocks on the tracker.
func (a *App) SubmitFrame(f capture.Frame) error {
	m, err := a.codec.Decode(f)
	if err != nil {
		return fmt.Errorf("submit frame: %w", err)
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	a.slot.Put(&input{frame: m, src: f})
	return nil
}

// submitMat queues a BGR Mat for processing and takes ownership of it.
func (a *App) submitMat(m gocv.Mat) {
	a.slot.Put(&input{frame: m, src: frameHeader(m)})
}

// UpdateIntrinsics replaces the camera model used for pose estimation.
func (a *App) UpdateIntrinsics(in pose.Intrinsics) error {
	if err := a.tracker.SetIntrinsics(in); err != nil {
		return err
	}
	a.logger.Info("intrinsics updated", "fx", in.K[0], "fy", in.K[4], "distortion", len(in.D))
	return nil
}

// Intrinsics returns the current camera model, if any.
func (a *App) Intrinsics() (pose.Intrinsics, bool) {
	return a.tracker.Intrinsics()
}

// ClearIntrinsics disables pose estimation.
func (a *App) ClearIntrinsics() {
	a.tracker.ClearIntrinsics()
	a.logger.Info("intrinsics cleared")
}

// Start opens the camera, if any, and begins processing.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopCh != nil {
		return nil
	}

	if a.camera != nil {
		if err := a.camera.Open(); err != nil {
			return fmt.Errorf("open camera: %w", err)
		}
	}

	a.stopCh = make(chan struct{})
	a.wg.Add(1)
	go a.runPipeline(a.stopCh)
	if a.camera != nil {
		a.wg.Add(1)
		go a.runCamera(a.stopCh)
	}

	a.logger.Info("pipeline started", "camera", a.camera != nil, "encoding", a.codec.Encoding())
	return nil
}

// Stop halts processing between frames and closes the camera. The tracker is
// left open.
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopCh == nil {
		return
	}
	close(a.stopCh)
	a.stopCh = nil
	a.wg.Wait()
	a.slot.Drain()

	if a.camera != nil {
		if err := a.camera.Close(); err != nil {
			a.logger.Warn("closing camera", "error", err)
		}
	}

	a.logger.Info("pipeline stopped")
}

// IsRunning reports whether the pipeline is started.
func (a *App) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopCh != nil
}

// LatestFrame returns a clone of the most recent annotated frame in BGR. The
// caller closes it.
func (a *App) LatestFrame() (gocv.Mat, bool) {
	a.latestMu.RLock()
	defer a.latestMu.RUnlock()
	if a.latest.Empty() {
		return gocv.NewMat(), false
	}
	return a.latest.Clone(), true
}

func (a *App) setLatest(m gocv.Mat) {
	a.latestMu.Lock()
	defer a.latestMu.Unlock()
	m.CopyTo(&a.latest)
}

// Close stops the pipeline and releases the latest frame.
func (a *App) Close() error {
	a.Stop()
	a.latestMu.Lock()
	defer a.latestMu.Unlock()
	return a.latest.Close()
}

func frameHeader(m gocv.Mat) capture.Frame {
	return capture.Frame{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Width:     m.Cols(),
		Height:    m.Rows(),
		Encoding:  capture.EncodingBGR8,
		Step:      m.Cols() * m.Channels(),
	}
}
