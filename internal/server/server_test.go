package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/targetlock/internal/app"
	"github.com/ayusman/targetlock/internal/capture"
	"github.com/ayusman/targetlock/internal/pose"
	"github.com/ayusman/targetlock/internal/store"
	"github.com/ayusman/targetlock/internal/tracker"
)

// fakePipeline records calls and serves a fixed frame.
type fakePipeline struct {
	mu         sync.Mutex
	enabled    bool
	intrinsics *pose.Intrinsics
	submitted  []capture.Frame
	status     app.Status
	frame      gocv.Mat
	outputs    chan app.Output
}

func newFakePipeline(t *testing.T) *fakePipeline {
	t.Helper()
	p := &fakePipeline{
		enabled: true,
		outputs: make(chan app.Output, app.DefaultOutputBuffer),
		frame:   gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 255, 0, 0), 48, 64, gocv.MatTypeCV8UC3),
		status: app.Status{
			Running:     true,
			Enabled:     true,
			Processed:   3,
			Outcomes:    map[string]uint64{"detected": 3},
			LastOutcome: tracker.OutcomeDetected,
		},
	}
	t.Cleanup(func() { p.frame.Close() })
	return p
}

func (p *fakePipeline) UpdateIntrinsics(in pose.Intrinsics) error {
	if err := in.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c := in.Clone()
	p.intrinsics = &c
	return nil
}

func (p *fakePipeline) ClearIntrinsics() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intrinsics = nil
}

func (p *fakePipeline) Intrinsics() (pose.Intrinsics, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.intrinsics == nil {
		return pose.Intrinsics{}, false
	}
	return *p.intrinsics, true
}

func (p *fakePipeline) SubmitFrame(f capture.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted = append(p.submitted, f)

	// Echo the frame back as a detection, dropping it when the queue is full.
	out := app.Output{Frame: f, Outcome: tracker.OutcomeDetected, Matches: 20, Inliers: 18}
	out.Frame.Data = bytes.Clone(f.Data)
	select {
	case p.outputs <- out:
	default:
	}
	return nil
}

func (p *fakePipeline) Outputs() <-chan app.Output {
	return p.outputs
}

func (p *fakePipeline) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
}

func (p *fakePipeline) IsEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func (p *fakePipeline) Status() app.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *fakePipeline) LatestFrame() (gocv.Mat, bool) {
	return p.frame.Clone(), true
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	s := New(cfg)
	t.Cleanup(s.Close)
	return s
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, Config{})

	t.Run("returns 200 with JSON response", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/api/health", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var response map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
		assert.Equal(t, "ok", response["status"])
		for _, field := range []string{"uptime", "goroutines"} {
			assert.Contains(t, response, field)
		}
	})

	t.Run("only allows GET method", func(t *testing.T) {
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch} {
			rec := do(t, s, method, "/api/health", "")
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
		}
	})
}

func TestServer_RoutesWithoutDependencies(t *testing.T) {
	s := newTestServer(t, Config{})

	for _, path := range []string{"/api/status", "/api/stream", "/api/outputs", "/api/intrinsics", "/api/profiles", "/"} {
		assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, path, "").Code, path)
	}
}

func TestServer_StaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>targetlock</html>"), 0o644))

	s := newTestServer(t, Config{StaticDir: dir})
	rec := do(t, s, http.MethodGet, "/", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "targetlock")
}

func TestServer_Status(t *testing.T) {
	p := newFakePipeline(t)
	s := newTestServer(t, Config{Pipeline: p})

	rec := do(t, s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st app.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, uint64(3), st.Processed)
	assert.Equal(t, tracker.OutcomeDetected, st.LastOutcome)
	assert.Equal(t, uint64(3), st.Outcomes["detected"])
}

func TestServer_Detection(t *testing.T) {
	p := newFakePipeline(t)
	db := newTestStore(t)
	s := newTestServer(t, Config{Pipeline: p, Store: db})

	rec := do(t, s, http.MethodPut, "/api/detection", `{"enabled": false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"enabled": false}`, rec.Body.String())
	assert.False(t, p.IsEnabled())
	assert.False(t, db.Settings().GetBool(store.SettingDetectionEnabled, true))

	rec = do(t, s, http.MethodGet, "/api/detection", "")
	assert.JSONEq(t, `{"enabled": false}`, rec.Body.String())

	rec = do(t, s, http.MethodPut, "/api/detection", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Intrinsics(t *testing.T) {
	p := newFakePipeline(t)
	s := newTestServer(t, Config{Pipeline: p})

	rec := do(t, s, http.MethodGet, "/api/intrinsics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := `{"k": [600, 0, 320, 0, 600, 240, 0, 0, 1], "d": [0.1, 0, 0, 0, 0]}`
	rec = do(t, s, http.MethodPut, "/api/intrinsics", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	in, ok := p.Intrinsics()
	require.True(t, ok)
	assert.Equal(t, pose.NewIntrinsics(600, 600, 320, 240, 0.1, 0, 0, 0, 0), in)

	rec = do(t, s, http.MethodGet, "/api/intrinsics", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodPut, "/api/intrinsics", `{"k": [0, 0, 0, 0, 0, 0, 0, 0, 1]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodDelete, "/api/intrinsics", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok = p.Intrinsics()
	assert.False(t, ok)
}

func TestServer_Frames(t *testing.T) {
	p := newFakePipeline(t)
	s := newTestServer(t, Config{Pipeline: p})

	req := httptest.NewRequest(http.MethodPost, "/api/frames?width=2&height=1&encoding=rgb8", bytes.NewReader([]byte{1, 2, 3, 4, 5, 6}))
	req.Header.Set("X-Frame-Id", "f-1")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"id": "f-1"}`, rec.Body.String())
	require.Len(t, p.submitted, 1)
	assert.Equal(t, 6, p.submitted[0].Step)
	assert.Equal(t, capture.EncodingRGB8, p.submitted[0].Encoding)

	tests := []struct {
		name   string
		target string
		body   string
	}{
		{"missing width", "/api/frames?height=1", "abc"},
		{"short body", "/api/frames?width=2&height=2", "abc"},
		{"bad encoding", "/api/frames?width=1&height=1&encoding=yuv", "abc"},
		{"bad step", "/api/frames?width=1&height=1&step=x", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, http.MethodGet, "/api/frames", "").Code)
}

func TestServer_Stream(t *testing.T) {
	p := newFakePipeline(t)
	ts := httptest.NewServer(newTestServer(t, Config{Pipeline: p, StreamFPS: 50}))
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/api/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", line)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Content-Type: image/jpeg\r\n", line)
}

func TestServer_StatusWebSocket(t *testing.T) {
	p := newFakePipeline(t)
	srv := newTestServer(t, Config{Pipeline: p, StreamFPS: 50})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var st app.Status
	require.NoError(t, conn.ReadJSON(&st))
	assert.Equal(t, uint64(3), st.Processed)

	require.Eventually(t, func() bool { return srv.status.Clients() == 1 }, time.Second, 5*time.Millisecond)

	p.mu.Lock()
	p.status.Processed = 4
	p.mu.Unlock()

	// A snapshot taken before the update may still be in flight.
	for st.Processed != 4 {
		require.NoError(t, conn.ReadJSON(&st))
	}
}

func TestServer_OutputsWebSocket(t *testing.T) {
	p := newFakePipeline(t)
	srv := newTestServer(t, Config{Pipeline: p})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/outputs"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, 1, srv.outputs.Clients())

	data := make([]byte, 4*3*3)
	for i := range data {
		data[i] = byte(i)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/frames?width=4&height=3&encoding=bgr8", bytes.NewReader(data))
	req.Header.Set("X-Frame-Id", "out-1")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)

	var out app.Output
	require.NoError(t, json.Unmarshal(msg, &out))
	assert.Equal(t, "out-1", out.Frame.ID)
	assert.Equal(t, 4, out.Frame.Width)
	assert.Equal(t, 3, out.Frame.Height)
	assert.Equal(t, capture.EncodingBGR8, out.Frame.Encoding)
	assert.Equal(t, tracker.OutcomeDetected, out.Outcome)
	assert.Equal(t, 18, out.Inliers)

	kind, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, data, msg)
}

func TestServer_OutputsDrainedWithoutClients(t *testing.T) {
	p := newFakePipeline(t)
	srv := newTestServer(t, Config{Pipeline: p})

	for i := 0; i < 2*app.DefaultOutputBuffer; i++ {
		rec := do(t, srv, http.MethodPost, "/api/frames?width=1&height=1", "abc")
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	assert.Eventually(t, func() bool { return len(p.outputs) == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, srv.outputs.Clients())

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/outputs", "").Code)
}
