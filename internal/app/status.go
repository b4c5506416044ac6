package app

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayusman/targetlock/internal/geometry"
	"github.com/ayusman/targetlock/internal/pose"
	"github.com/ayusman/targetlock/internal/smoothing"
	"github.com/ayusman/targetlock/internal/tracker"
)

// Status is a snapshot of the pipeline counters.
type Status struct {
	Running        bool              `json:"running"`
	Enabled        bool              `json:"enabled"`
	HasIntrinsics  bool              `json:"has_intrinsics"`
	Processed      uint64            `json:"processed"`
	Errors         uint64            `json:"errors"`
	DroppedInputs  uint64            `json:"dropped_inputs"`
	DroppedOutputs uint64            `json:"dropped_outputs"`
	Outcomes       map[string]uint64 `json:"outcomes"`
	LastOutcome    tracker.Outcome   `json:"last_outcome,omitempty"`
	LastQuad       *geometry.Quad    `json:"last_quad,omitempty"`
	LastPose       *pose.Pose        `json:"last_pose,omitempty"`
	// LatencyMs averages the processing time of the last few frames.
	LatencyMs float64   `json:"latency_ms"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

type stats struct {
	errors        atomic.Uint64
	outputDropped atomic.Uint64

	mu        sync.Mutex
	processed uint64
	outcomes  map[tracker.Outcome]uint64
	last      tracker.Outcome
	quad      *geometry.Quad
	pose      *pose.Pose
	latency   *smoothing.Window
	latencyMs float64
	updated   time.Time
}

func (s *stats) record(res *tracker.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outcomes == nil {
		s.outcomes = make(map[tracker.Outcome]uint64)
	}
	s.processed++
	s.outcomes[res.Outcome]++
	s.last = res.Outcome
	s.quad = res.Quad
	s.pose = res.Pose
	s.updated = time.Now()

	// The window only ever sees scalars, so the dimension check cannot fail.
	if sum, err := s.latency.PushScalar(float64(res.Duration) / float64(time.Millisecond)); err == nil {
		s.latencyMs = sum / float64(s.latency.Len())
	}
}

// Status returns a snapshot of the pipeline state.
func (a *App) Status() Status {
	_, hasIntrinsics := a.tracker.Intrinsics()

	st := Status{
		Running:        a.IsRunning(),
		Enabled:        a.IsEnabled(),
		HasIntrinsics:  hasIntrinsics,
		Errors:         a.stats.errors.Load(),
		DroppedInputs:  a.slot.Dropped(),
		DroppedOutputs: a.stats.outputDropped.Load(),
		Outcomes:       make(map[string]uint64),
	}

	a.stats.mu.Lock()
	defer a.stats.mu.Unlock()
	st.Processed = a.stats.processed
	for o, n := range a.stats.outcomes {
		st.Outcomes[o.String()] = n
	}
	st.LastOutcome = a.stats.last
	st.LastQuad = a.stats.quad
	st.LastPose = a.stats.pose
	st.LatencyMs = a.stats.latencyMs
	st.UpdatedAt = a.stats.updated
	return st
}
