package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/ayusman/targetlock/internal/capture"
)

// maxFrameBytes bounds a submitted frame (4K RGBA).
const maxFrameBytes = 3840 * 2160 * 4

// FrameHandler accepts raw frames for processing.
//
//	POST /api/frames?width=W&height=H&encoding=bgr8[&step=S]
//
// The body is the raster. The response is 202 once the frame is queued; a
// newer frame may replace it before it is processed.
type FrameHandler struct {
	pipeline Pipeline
}

// NewFrameHandler creates a new FrameHandler.
func NewFrameHandler(p Pipeline) *FrameHandler {
	return &FrameHandler{pipeline: p}
}

type submitResponse struct {
	ID string `json:"id"`
}

func (h *FrameHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	f := capture.Frame{
		ID:       r.Header.Get("X-Frame-Id"),
		Encoding: q.Get("encoding"),
	}
	var err error
	if f.Width, err = strconv.Atoi(q.Get("width")); err != nil {
		writeError(w, http.StatusBadRequest, "width is required")
		return
	}
	if f.Height, err = strconv.Atoi(q.Get("height")); err != nil {
		writeError(w, http.StatusBadRequest, "height is required")
		return
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Encoding == "" {
		f.Encoding = capture.EncodingBGR8
	}
	if s := q.Get("step"); s != "" {
		if f.Step, err = strconv.Atoi(s); err != nil {
			writeError(w, http.StatusBadRequest, "invalid step")
			return
		}
	} else if capture.ValidEncoding(f.Encoding) {
		f.Step = f.Width * capture.Channels(f.Encoding)
	}

	f.Data, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Frame too large")
		return
	}

	if err := h.pipeline.SubmitFrame(f); err != nil {
		if errors.Is(err, capture.ErrBadFrame) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to submit frame")
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{ID: f.ID})
}
