package capture

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestNewCamera(t *testing.T) {
	tests := []struct {
		name   string
		camera Camera
	}{
		{name: "default device", camera: NewCamera(0)},
		{name: "device 2", camera: NewCamera(2)},
		{name: "video file", camera: NewVideoFile("clip.avi")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, DefaultFPS, tt.camera.FPS())
			assert.False(t, tt.camera.IsOpen(), "camera should not be running initially")
		})
	}
}

func TestCamera_SetFPS(t *testing.T) {
	cam := NewCamera(0)

	tests := []struct {
		name    string
		fps     int
		wantFPS int
	}{
		{name: "set to 10", fps: 10, wantFPS: 10},
		{name: "set to 30", fps: 30, wantFPS: 30},
		{name: "set to 1", fps: 1, wantFPS: 1},
		{name: "set to 0 should keep previous", fps: 0, wantFPS: 1},
		{name: "set to negative should keep previous", fps: -5, wantFPS: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam.SetFPS(tt.fps)
			assert.Equal(t, tt.wantFPS, cam.FPS())
		})
	}
}

func TestCamera_ReadFrame_NotOpened(t *testing.T) {
	cam := NewCamera(0)

	_, err := cam.ReadFrame()
	assert.ErrorIs(t, err, ErrCameraNotOpen)
}

func TestCamera_Close_NotOpened(t *testing.T) {
	cam := NewCamera(0)
	assert.NoError(t, cam.Close(), "Close() on a camera that was never opened")
}

func TestCamera_OpenClose_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cam := NewCamera(0)
	if err := cam.Open(); err != nil {
		t.Skipf("skipping test - camera not available: %v", err)
	}
	assert.True(t, cam.IsOpen())

	mat, err := cam.ReadFrame()
	if assert.NoError(t, err) {
		assert.False(t, mat.Empty(), "ReadFrame() returned empty mat")
		mat.Close()
	}

	require.NoError(t, cam.Close())
	assert.False(t, cam.IsOpen())
}

func TestVideoFile_EndOfStream(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping video file test in short mode")
	}

	path := filepath.Join(t.TempDir(), "clip.avi")
	w, err := gocv.VideoWriterFile(path, "MJPG", 10, 64, 48, true)
	if err != nil {
		t.Skipf("skipping test - video writer not available: %v", err)
	}
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 200, 30, 0), 48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Write(frame))
	}
	w.Close()

	cam := NewVideoFile(path)
	if err := cam.Open(); err != nil {
		t.Skipf("skipping test - video backend not available: %v", err)
	}
	defer cam.Close()

	read := 0
	for {
		m, err := cam.ReadFrame()
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		require.NoError(t, err)
		m.Close()
		read++
		require.LessOrEqual(t, read, 10, "video file did not end")
	}

	assert.Equal(t, 3, read)
}
