// Package annotate renders detection results onto frames.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/targetlock/internal/features"
	"github.com/ayusman/targetlock/internal/geometry"
)

// Default overlay colors. gocv takes RGBA and draws in BGR order.
var (
	Neutral = color.RGBA{R: 20, G: 20, B: 0, A: 0}
	Success = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	Failure = color.RGBA{R: 255, G: 0, B: 0, A: 0}
)

// DefaultThickness is the quad outline width in pixels.
const DefaultThickness = 3

// Annotator draws the keypoints, matches and quad for one frame.
type Annotator interface {
	// Annotate returns a new BGR Mat; frame is not modified. quad may be nil.
	Annotate(frame gocv.Mat, all, matched features.KeypointSet, quad *geometry.Quad, success bool) (gocv.Mat, error)
}

// Overlay is the gocv-backed Annotator.
type Overlay struct {
	Neutral   color.RGBA
	Success   color.RGBA
	Failure   color.RGBA
	Thickness int
}

// NewOverlay returns an Overlay with the default colors and thickness.
func NewOverlay() *Overlay {
	return &Overlay{
		Neutral:   Neutral,
		Success:   Success,
		Failure:   Failure,
		Thickness: DefaultThickness,
	}
}

// Annotate implements Annotator.
func (o *Overlay) Annotate(frame gocv.Mat, all, matched features.KeypointSet, quad *geometry.Quad, success bool) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.NewMat(), fmt.Errorf("annotate: empty frame")
	}

	out, err := toBGR(frame)
	if err != nil {
		return gocv.NewMat(), err
	}

	c := o.Failure
	if success {
		c = o.Success
	}

	if all.Len() > 0 {
		gocv.DrawKeyPoints(out, features.ToGocvKeyPoints(all.Keypoints), &out, o.Neutral, gocv.DrawDefault)
	}
	if matched.Len() > 0 {
		gocv.DrawKeyPoints(out, features.ToGocvKeyPoints(matched.Keypoints), &out, c, gocv.DrawDefault)
	}
	if quad != nil {
		pv := gocv.NewPointsVectorFromPoints([][]image.Point{quad.ImagePoints()})
		gocv.Polylines(&out, pv, true, c, o.Thickness)
		pv.Close()
	}

	return out, nil
}

// toBGR returns a 3-channel copy of frame.
func toBGR(frame gocv.Mat) (gocv.Mat, error) {
	out := gocv.NewMat()
	switch frame.Channels() {
	case 3:
		frame.CopyTo(&out)
	case 1:
		gocv.CvtColor(frame, &out, gocv.ColorGrayToBGR)
	case 4:
		gocv.CvtColor(frame, &out, gocv.ColorBGRAToBGR)
	default:
		out.Close()
		return gocv.NewMat(), fmt.Errorf("annotate: unsupported channel count %d", frame.Channels())
	}
	return out, nil
}
