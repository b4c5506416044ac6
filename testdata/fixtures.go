// Package testdata generates synthetic targets and scenes for tests, so no
// binary fixtures need to be checked in.
package testdata

import (
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/ayusman/targetlock/internal/geometry"
)

// Target draws a textured grayscale target of w x h pixels. The same seed
// always produces the same image.
func Target(w, h int, seed int64) gocv.Mat {
	rng := rand.New(rand.NewSource(seed))
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 0, 0, 0), h, w, gocv.MatTypeCV8U)

	for i := 0; i < 60; i++ {
		v := uint8(rng.Intn(256))
		c := color.RGBA{R: v, G: v, B: v, A: 0}
		x, y := rng.Intn(w), rng.Intn(h)
		switch i % 3 {
		case 0:
			r := image.Rect(x, y, x+8+rng.Intn(w/5), y+8+rng.Intn(h/5))
			gocv.Rectangle(&img, r, c, -1)
		case 1:
			gocv.Circle(&img, image.Pt(x, y), 4+rng.Intn(w/12), c, -1)
		default:
			gocv.Line(&img, image.Pt(x, y), image.Pt(rng.Intn(w), rng.Intn(h)), c, 2+rng.Intn(3))
		}
	}

	// A dark frame keeps the target boundary distinct from the scene.
	gocv.Rectangle(&img, image.Rect(0, 0, w-1, h-1), color.RGBA{}, 3)
	return img
}

// WriteTarget writes Target(w, h, seed) as a PNG in dir and returns its path.
func WriteTarget(dir string, w, h int, seed int64) (string, error) {
	img := Target(w, h, seed)
	defer img.Close()

	path := filepath.Join(dir, fmt.Sprintf("target-%d.png", seed))
	if !gocv.IMWrite(path, img) {
		return "", fmt.Errorf("write %s", path)
	}
	return path, nil
}

// Scene warps target through h onto a uniform BGR canvas of w x h2 pixels.
func Scene(target gocv.Mat, h geometry.Homography, w, h2 int) gocv.Mat {
	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer m.Close()
	for i, v := range h {
		m.SetDoubleAt(i/3, i%3, v)
	}

	warped := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 0, 0, 0), h2, w, gocv.MatTypeCV8U)
	defer warped.Close()
	gocv.WarpPerspectiveWithParams(target, &warped, m, image.Pt(w, h2), gocv.InterpolationLinear, gocv.BorderTransparent, color.RGBA{})

	scene := gocv.NewMat()
	gocv.CvtColor(warped, &scene, gocv.ColorGrayToBGR)
	return scene
}

// Flat returns a uniform BGR frame with no features.
func Flat(w, h int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(90, 90, 90, 0), h, w, gocv.MatTypeCV8UC3)
}

// Noise returns a BGR frame of seeded uniform noise.
func Noise(w, h int, seed int64) gocv.Mat {
	rng := rand.New(rand.NewSource(seed))
	buf := make([]byte, w*h*3)
	rng.Read(buf)
	m, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, buf)
	if err != nil {
		return gocv.NewMat()
	}
	defer m.Close()
	// Clone so the Mat does not alias buf.
	return m.Clone()
}

// Translation returns a homography that shifts by (dx, dy).
func Translation(dx, dy float64) geometry.Homography {
	return geometry.Homography{1, 0, dx, 0, 1, dy, 0, 0, 1}
}

// Sequence returns n scenes of target, shifted by step pixels per frame.
func Sequence(target gocv.Mat, n int, step float64, w, h int) []*gocv.Mat {
	frames := make([]*gocv.Mat, n)
	for i := range frames {
		f := Scene(target, Translation(80+step*float64(i), 60), w, h)
		frames[i] = &f
	}
	return frames
}
