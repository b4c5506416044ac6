package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/ayusman/targetlock/internal/app"
	"github.com/ayusman/targetlock/internal/capture"
	"github.com/ayusman/targetlock/internal/config"
	"github.com/ayusman/targetlock/internal/features"
	"github.com/ayusman/targetlock/internal/homography"
	"github.com/ayusman/targetlock/internal/logger"
	"github.com/ayusman/targetlock/internal/matching"
	"github.com/ayusman/targetlock/internal/pattern"
	"github.com/ayusman/targetlock/internal/server"
	"github.com/ayusman/targetlock/internal/store"
	"github.com/ayusman/targetlock/internal/tracker"
	"github.com/ayusman/targetlock/internal/tray"
)

const (
	lockFile = "targetlock.lock"
	dbFile   = "targetlock.db"
)

func run(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.Setup(cfg.LogLevel, os.Stderr)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("cannot create data directory: %w", err)
	}
	unlock, err := acquireLock(filepath.Join(cfg.DataDir, lockFile))
	if err != nil {
		return err
	}
	defer unlock()

	st, err := store.New(filepath.Join(cfg.DataDir, dbFile))
	if err != nil {
		return err
	}
	defer st.Close()

	extractor := features.NewORBExtractor(features.DefaultConfig())
	defer extractor.Close()

	patternPath, err := cfg.ResolvePatternPath()
	if err != nil {
		return err
	}
	p, err := pattern.Load(patternPath, extractor)
	if err != nil {
		return fmt.Errorf("cannot load reference image: %w", err)
	}
	log.Info("pattern loaded", "path", patternPath, "keypoints", p.Len(), "width", p.Width(), "height", p.Height())

	tr, err := tracker.New(p, components(cfg, extractor), cfg.TrackerConfig(), log)
	if err != nil {
		return err
	}
	defer tr.Close()

	codec, err := capture.NewCodec(cfg.Encoding)
	if err != nil {
		return err
	}

	a, err := app.New(app.Config{
		Tracker:      tr,
		Codec:        codec,
		Camera:       camera(cfg),
		OutputBuffer: cfg.OutputBuffer,
		Logger:       log,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	restoreSettings(a, st, log)

	if err := a.Start(); err != nil {
		return err
	}

	srv := server.New(server.Config{
		StaticDir: findWebDir(cfg.DataDir),
		Store:     st,
		Pipeline:  a,
		Logger:    log,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.Tray {
		return serve(ctx, srv, cfg.ListenAddr)
	}

	t := tray.New(a.IsEnabled())
	t.OnToggle(func(enabled bool) {
		a.SetEnabled(enabled)
		if err := st.Settings().SetBool(store.SettingDetectionEnabled, enabled); err != nil {
			log.Warn("saving detection setting", "error", err)
		}
	})
	t.OnOpen(func() { openBrowser(cfg.ListenAddr, log) })
	t.OnQuit(stop)

	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(ctx, srv, cfg.ListenAddr)
		t.Quit()
	}()
	go t.Watch(ctx, a, 500*time.Millisecond)

	// systray needs the main goroutine.
	t.Run()
	stop()
	return <-errCh
}

func serve(ctx context.Context, srv *server.Server, addr string) error {
	if err := srv.Run(ctx, addr); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// components selects the pipeline stages named in the config.
func components(cfg *config.Config, ex features.Extractor) tracker.Components {
	c := tracker.Components{Extractor: ex}
	if cfg.Tracker.Homography == config.HomographyDLT {
		c.Estimator = homography.NewDLTEstimator(cfg.Tracker.RansacThreshold)
	}
	if cfg.Tracker.Searcher == config.SearcherLinear {
		c.Searcher = matching.NewLinearSearcher()
	}
	return c
}

func camera(cfg *config.Config) capture.Camera {
	switch {
	case opts.video != "":
		return capture.NewVideoFile(opts.video)
	case cfg.CameraID < 0:
		return nil
	default:
		return capture.NewCamera(cfg.CameraID)
	}
}

// restoreSettings applies the persisted detection flag and camera profile.
func restoreSettings(a *app.App, st *store.Store, log *slog.Logger) {
	a.SetEnabled(st.Settings().GetBool(store.SettingDetectionEnabled, true))

	id, err := st.Settings().Get(store.SettingActiveProfile)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		log.Warn("reading active profile", "error", err)
		return
	}
	prof, err := st.Profiles().GetByID(id)
	if err != nil {
		log.Warn("active profile unavailable", "id", id, "error", err)
		return
	}
	if err := a.UpdateIntrinsics(prof.Intrinsics); err != nil {
		log.Warn("applying profile", "profile", prof.Name, "error", err)
		return
	}
	log.Info("camera profile applied", "profile", prof.Name)
}

// acquireLock takes the single-instance lock for the data directory.
func acquireLock(path string) (func(), error) {
	l := flock.New(path)
	locked, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("cannot acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another targetlock instance is running (lock: %s)", path)
	}
	return func() { _ = l.Unlock() }, nil
}

// findWebDir returns the first existing static directory among --web, "web",
// "../web" and <dataDir>/web, or "".
func findWebDir(dataDir string) string {
	candidates := []string{"web", "../web", filepath.Join(dataDir, "web")}
	if opts.webDir != "" {
		candidates = []string{opts.webDir}
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}

func openBrowser(addr string, log *slog.Logger) {
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	url := "http://" + host + "/api/stream"

	var c *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		c = exec.Command("open", url)
	case "windows":
		c = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		c = exec.Command("xdg-open", url)
	}
	if err := c.Start(); err != nil {
		log.Warn("opening browser", "url", url, "error", err)
	}
}
