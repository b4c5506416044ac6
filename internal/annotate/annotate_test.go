package annotate

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/targetlock/internal/features"
	"github.com/ayusman/targetlock/internal/geometry"
)

// countColor counts pixels of a BGR Mat equal to c.
func countColor(m gocv.Mat, c color.RGBA) int {
	n := 0
	for y := 0; y < m.Rows(); y++ {
		for x := 0; x < m.Cols(); x++ {
			px := m.GetVecbAt(y, x)
			if px[0] == c.B && px[1] == c.G && px[2] == c.R {
				n++
			}
		}
	}
	return n
}

func blackFrame(t *testing.T, channels int) gocv.Mat {
	t.Helper()
	typ := gocv.MatTypeCV8UC3
	if channels == 1 {
		typ = gocv.MatTypeCV8U
	}
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 200, 200, typ)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestOverlay_Colors(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping drawing test in short mode")
	}

	all := features.GridKeypoints(20, 5, 30)
	matched, err := all.Select([]int{6, 7, 8, 12})
	require.NoError(t, err)
	quad := &geometry.Quad{{X: 20, Y: 20}, {X: 20, Y: 180}, {X: 180, Y: 180}, {X: 180, Y: 20}}

	tests := []struct {
		name      string
		quad      *geometry.Quad
		success   bool
		wantColor color.RGBA
		absent    color.RGBA
	}{
		{"failure without quad", nil, false, Failure, Success},
		{"failure with rejected quad", quad, false, Failure, Success},
		{"success with quad", quad, true, Success, Failure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := blackFrame(t, 3)
			out, err := NewOverlay().Annotate(frame, all, matched, tt.quad, tt.success)
			require.NoError(t, err)
			defer out.Close()

			assert.Greater(t, countColor(out, tt.wantColor), 0)
			assert.Zero(t, countColor(out, tt.absent))
			assert.Greater(t, countColor(out, Neutral), 0, "unmatched keypoints are drawn in the neutral color")
			assert.Equal(t, 200*200, countColor(frame, color.RGBA{}), "input frame must not be modified")
		})
	}
}

func TestOverlay_QuadOutline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping drawing test in short mode")
	}

	quad := &geometry.Quad{{X: 20, Y: 20}, {X: 20, Y: 180}, {X: 180, Y: 180}, {X: 180, Y: 20}}
	o := NewOverlay()

	withQuad, err := o.Annotate(blackFrame(t, 3), features.KeypointSet{}, features.KeypointSet{}, quad, true)
	require.NoError(t, err)
	defer withQuad.Close()

	without, err := o.Annotate(blackFrame(t, 3), features.KeypointSet{}, features.KeypointSet{}, nil, true)
	require.NoError(t, err)
	defer without.Close()

	// A point on the left edge of the quad.
	px := withQuad.GetVecbAt(100, 20)
	assert.Equal(t, []uint8{0, 255, 0}, []uint8{px[0], px[1], px[2]})
	assert.Zero(t, countColor(without, Success))
}

func TestOverlay_GrayInput(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping drawing test in short mode")
	}

	out, err := NewOverlay().Annotate(blackFrame(t, 1), features.GridKeypoints(4, 2, 40), features.KeypointSet{}, nil, false)
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, 3, out.Channels())
	assert.Equal(t, 200, out.Rows())
}

func TestOverlay_EmptyFrame(t *testing.T) {
	_, err := NewOverlay().Annotate(gocv.NewMat(), features.KeypointSet{}, features.KeypointSet{}, nil, false)
	assert.Error(t, err)
}
