package app

import (
	"errors"
	"time"

	"github.com/ayusman/targetlock/internal/capture"
	"github.com/ayusman/targetlock/internal/tracker"
)

// runPipeline processes the newest pending frame each time the slot signals.
// Frames that arrive while one is being processed replace each other, so the
// loop never falls behind the source.
func (a *App) runPipeline(stop <-chan struct{}) {
	defer a.wg.Done()

	for {
		select {
		case <-stop:
			return
		case <-a.slot.Ready():
			in := a.slot.Take()
			if in == nil {
				continue
			}
			a.process(in)
		}
	}
}

// runCamera reads frames at the camera's rate into the slot until stopped or
// the source ends.
func (a *App) runCamera(stop <-chan struct{}) {
	defer a.wg.Done()

	fps := a.camera.FPS()
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if cur := a.camera.FPS(); cur != fps {
				fps = cur
				ticker.Reset(time.Second / time.Duration(fps))
			}

			frame, err := a.camera.ReadFrame()
			if errors.Is(err, capture.ErrEndOfStream) {
				a.logger.Info("camera stream ended")
				return
			}
			if err != nil {
				a.logger.Warn("reading frame", "error", err)
				continue
			}
			a.submitMat(*frame)
		}
	}
}

func (a *App) process(in *input) {
	defer in.frame.Close()

	if !a.IsEnabled() {
		a.setLatest(in.frame)
		out, err := a.outbound(in)
		if err != nil {
			a.stats.errors.Add(1)
			a.logger.Warn("encoding passthrough frame", "frame", in.src.ID, "error", err)
			return
		}
		a.publish(Output{Frame: out})
		return
	}

	res, err := a.tracker.Process(in.frame)
	if err != nil {
		a.stats.errors.Add(1)
		a.logger.Warn("processing frame", "frame", in.src.ID, "error", err)
		return
	}
	defer res.Close()

	a.stats.record(res)
	a.setLatest(res.Frame)
	a.logger.Debug("frame processed",
		"frame", in.src.ID,
		"outcome", res.Outcome,
		"keypoints", res.Keypoints,
		"matches", res.Matches,
		"inliers", res.Inliers,
		"duration", res.Duration,
	)

	var out capture.Frame
	if res.Outcome == tracker.OutcomeTooFewKeypoints {
		out, err = a.outbound(in)
	} else {
		out, err = a.codec.Encode(res.Frame, in.src)
	}
	if err != nil {
		a.stats.errors.Add(1)
		a.logger.Warn("encoding output frame", "frame", in.src.ID, "error", err)
		return
	}

	a.publish(Output{
		Frame:     out,
		Outcome:   res.Outcome,
		Keypoints: res.Keypoints,
		Matches:   res.Matches,
		Inliers:   res.Inliers,
		Quad:      res.Quad,
		Pose:      res.Pose,
		Duration:  res.Duration,
	})
}

// outbound returns the frame to publish for an unchanged input. Submitted
// frames already in the output encoding are republished byte for byte.
func (a *App) outbound(in *input) (capture.Frame, error) {
	if in.src.Data != nil && in.src.Encoding == a.codec.Encoding() {
		return in.src, nil
	}
	return a.codec.Encode(in.frame, in.src)
}

// publish delivers o without blocking. When the buffer is full the new output
// is dropped.
func (a *App) publish(o Output) {
	select {
	case a.outputs <- o:
	default:
		a.stats.outputDropped.Add(1)
	}
}
