// Package api provides the HTTP API handlers for targetlock.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ayusman/targetlock/internal/capture"
	"github.com/ayusman/targetlock/internal/pose"
)

// Pipeline is the part of the running application the API controls.
type Pipeline interface {
	UpdateIntrinsics(in pose.Intrinsics) error
	ClearIntrinsics()
	Intrinsics() (pose.Intrinsics, bool)
	SubmitFrame(f capture.Frame) error
	SetEnabled(enabled bool)
	IsEnabled() bool
}

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
