package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/targetlock/internal/app"
	"github.com/ayusman/targetlock/internal/capture"
	"github.com/ayusman/targetlock/internal/features"
	"github.com/ayusman/targetlock/internal/pattern"
	"github.com/ayusman/targetlock/internal/server"
	"github.com/ayusman/targetlock/internal/store"
	"github.com/ayusman/targetlock/internal/tracker"
	"github.com/ayusman/targetlock/testdata"
)

type env struct {
	app     *app.App
	client  *http.Client
	url     string
	frame   capture.Frame
	outputs *websocket.Conn
}

func setup(t *testing.T) *env {
	t.Helper()
	tmpDir := t.TempDir()

	s, err := store.New(filepath.Join(tmpDir, "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	targetPath, err := testdata.WriteTarget(tmpDir, 240, 180, 42)
	require.NoError(t, err)

	ex := features.NewORBExtractor(features.DefaultConfig())
	t.Cleanup(func() { ex.Close() })

	p, err := pattern.Load(targetPath, ex)
	require.NoError(t, err)

	tr, err := tracker.New(p, tracker.Components{Extractor: ex}, tracker.DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })

	a, err := app.New(app.Config{Tracker: tr})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	require.NoError(t, a.Start())

	srv := server.New(server.Config{Store: s, Pipeline: a})
	t.Cleanup(srv.Close)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/outputs", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	target := testdata.Target(240, 180, 42)
	defer target.Close()
	scene := testdata.Scene(target, testdata.Translation(150, 120), 640, 480)
	defer scene.Close()
	codec, err := capture.NewCodec(capture.EncodingBGR8)
	require.NoError(t, err)
	frame, err := codec.FromMat(scene)
	require.NoError(t, err)

	return &env{app: a, client: ts.Client(), url: ts.URL, frame: frame, outputs: conn}
}

func (e *env) submit(t *testing.T) {
	t.Helper()
	u := fmt.Sprintf("%s/api/frames?width=%d&height=%d&encoding=%s", e.url, e.frame.Width, e.frame.Height, e.frame.Encoding)
	resp, err := e.client.Post(u, "application/octet-stream", bytes.NewReader(e.frame.Data))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

// next reads one output from /api/outputs: a JSON header, then the frame bytes.
func (e *env) next(t *testing.T) app.Output {
	t.Helper()
	e.outputs.SetReadDeadline(time.Now().Add(5 * time.Second))

	var out app.Output
	require.NoError(t, e.outputs.ReadJSON(&out), "output header")
	kind, data, err := e.outputs.ReadMessage()
	require.NoError(t, err, "output frame")
	require.Equal(t, websocket.BinaryMessage, kind)
	out.Frame.Data = data
	return out
}

func TestE2E_CompleteWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	e := setup(t)

	t.Run("DetectWithoutIntrinsics", func(t *testing.T) {
		e.submit(t)
		out := e.next(t)

		require.Equal(t, tracker.OutcomeDetected, out.Outcome, "matches=%d inliers=%d", out.Matches, out.Inliers)
		assert.Nil(t, out.Pose, "no pose without intrinsics")
		assert.Equal(t, 640, out.Frame.Width)
		assert.Equal(t, 480, out.Frame.Height)
		assert.Equal(t, capture.EncodingBGR8, out.Frame.Encoding)
		require.Len(t, out.Frame.Data, len(e.frame.Data))
		assert.NotEqual(t, e.frame.Data, out.Frame.Data, "detected frame should carry the overlay")
	})

	var profileID string
	t.Run("CreateAndApplyProfile", func(t *testing.T) {
		body := `{"name": "synthetic", "width": 640, "height": 480,
			"intrinsics": {"k": [600, 0, 320, 0, 600, 240, 0, 0, 1]}}`
		resp, err := e.client.Post(e.url+"/api/profiles", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var created struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
		profileID = created.ID

		resp, err = e.client.Post(e.url+"/api/profiles/"+profileID+"/apply", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("DetectWithPose", func(t *testing.T) {
		e.submit(t)
		out := e.next(t)

		require.Equal(t, tracker.OutcomeDetected, out.Outcome)
		require.NotNil(t, out.Pose, "pose once intrinsics are applied")
		assert.Positive(t, out.Pose.TVec[2], "target should be in front of the camera")
	})

	t.Run("Status", func(t *testing.T) {
		resp, err := e.client.Get(e.url + "/api/status")
		require.NoError(t, err)
		defer resp.Body.Close()

		var st app.Status
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
		assert.Equal(t, uint64(2), st.Processed)
		assert.Equal(t, uint64(2), st.Outcomes["detected"])
		assert.True(t, st.HasIntrinsics)
		assert.NotNil(t, st.LastPose)
	})

	t.Run("DisabledPassesFramesThrough", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPut, e.url+"/api/detection", strings.NewReader(`{"enabled": false}`))
		resp, err := e.client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		e.submit(t)
		out := e.next(t)
		assert.Zero(t, out.Outcome, "no outcome while disabled")
		assert.True(t, bytes.Equal(out.Frame.Data, e.frame.Data), "disabled output should equal the input")
	})

	t.Run("APIStillWorks", func(t *testing.T) {
		resp, err := e.client.Get(e.url + "/api/health")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
