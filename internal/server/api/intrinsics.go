package api

import (
	"errors"
	"net/http"

	"github.com/ayusman/targetlock/internal/pose"
)

// IntrinsicsHandler reads and replaces the camera model used for pose estimation.
//
//	GET    /api/intrinsics  current model, 404 when none
//	PUT    /api/intrinsics  {"k": [9]float, "d": [...]}
//	DELETE /api/intrinsics  disable pose estimation
type IntrinsicsHandler struct {
	pipeline Pipeline
}

// NewIntrinsicsHandler creates a new IntrinsicsHandler.
func NewIntrinsicsHandler(p Pipeline) *IntrinsicsHandler {
	return &IntrinsicsHandler{pipeline: p}
}

func (h *IntrinsicsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		in, ok := h.pipeline.Intrinsics()
		if !ok {
			writeError(w, http.StatusNotFound, "No intrinsics set")
			return
		}
		writeJSON(w, http.StatusOK, in)

	case http.MethodPut:
		var in pose.Intrinsics
		if !decodeJSON(w, r, &in) {
			return
		}
		if err := h.pipeline.UpdateIntrinsics(in); err != nil {
			if errors.Is(err, pose.ErrInvalidIntrinsics) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "Failed to update intrinsics")
			return
		}
		writeJSON(w, http.StatusOK, in)

	case http.MethodDelete:
		h.pipeline.ClearIntrinsics()
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
