// Package server provides the HTTP server for targetlock.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"gocv.io/x/gocv"

	"github.com/ayusman/targetlock/internal/app"
	"github.com/ayusman/targetlock/internal/logger"
	"github.com/ayusman/targetlock/internal/server/api"
	"github.com/ayusman/targetlock/internal/store"
)

// Pipeline is what the server needs from the running application.
type Pipeline interface {
	api.Pipeline
	Status() app.Status
	LatestFrame() (gocv.Mat, bool)
	Outputs() <-chan app.Output
}

// Config holds the server configuration. Routes whose dependency is nil are
// not registered.
type Config struct {
	StaticDir string
	Store     *store.Store
	Pipeline  Pipeline
	// StreamFPS caps the MJPEG and status broadcast rates. Zero means 15.
	StreamFPS int
	Logger    *slog.Logger
}

// Server represents the HTTP server for the targetlock application.
type Server struct {
	config  Config
	mux     *http.ServeMux
	start   time.Time
	logger  *slog.Logger
	status  *StatusHandler
	outputs *OutputHandler
	proc    *process.Process
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.StreamFPS <= 0 {
		config.StreamFPS = 15
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		logger: logger.Component(config.Logger, "server"),
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = p
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if p := s.config.Pipeline; p != nil {
		s.status = NewStatusHandler(p, s.interval(), s.logger)
		s.mux.Handle("/api/status", s.status)
		s.outputs = NewOutputHandler(p, s.logger)
		s.mux.Handle("/api/outputs", s.outputs)
		s.mux.Handle("/api/stream", NewStreamHandler(p, s.interval()))
		s.mux.Handle("/api/intrinsics", api.NewIntrinsicsHandler(p))
		s.mux.Handle("/api/frames", api.NewFrameHandler(p))
		s.mux.HandleFunc("/api/detection", s.handleDetection)
	}

	if s.config.Store != nil {
		var p api.Pipeline
		if s.config.Pipeline != nil {
			p = s.config.Pipeline
		}
		profiles := api.NewProfileHandler(s.config.Store, p)
		s.mux.Handle("/api/profiles", profiles)
		s.mux.Handle("/api/profiles/", profiles)
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

func (s *Server) interval() time.Duration {
	return time.Second / time.Duration(s.config.StreamFPS)
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type healthResponse struct {
	Status     string  `json:"status"`
	Uptime     string  `json:"uptime"`
	Goroutines int     `json:"goroutines"`
	RSSBytes   uint64  `json:"rss_bytes,omitempty"`
	CPUPercent float64 `json:"cpu_percent,omitempty"`
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := healthResponse{
		Status:     "ok",
		Uptime:     time.Since(s.start).String(),
		Goroutines: runtime.NumGoroutine(),
	}
	if s.proc != nil {
		ctx := r.Context()
		if mem, err := s.proc.MemoryInfoWithContext(ctx); err == nil {
			resp.RSSBytes = mem.RSS
		}
		if cpu, err := s.proc.CPUPercentWithContext(ctx); err == nil {
			resp.CPUPercent = cpu
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type detectionRequest struct {
	Enabled bool `json:"enabled"`
}

// handleDetection reads (GET) or sets (PUT) whether detection runs. The
// setting is persisted when a store is configured.
func (s *Server) handleDetection(w http.ResponseWriter, r *http.Request) {
	p := s.config.Pipeline
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var req detectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		p.SetEnabled(req.Enabled)
		if s.config.Store != nil {
			if err := s.config.Store.Settings().SetBool(store.SettingDetectionEnabled, req.Enabled); err != nil {
				s.logger.Warn("saving detection setting", "error", err)
			}
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, detectionRequest{Enabled: p.IsEnabled()})
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		// Streaming handlers watch the request context, so derive it from ctx.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops the status broadcast and output relay loops.
func (s *Server) Close() {
	if s.status != nil {
		s.status.Close()
	}
	if s.outputs != nil {
		s.outputs.Close()
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("encoding response", "error", err)
	}
}
