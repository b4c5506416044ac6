// Package config loads targetlock settings from <data_dir>/targetlock.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/targetlock/internal/capture"
	"github.com/ayusman/targetlock/internal/tracker"
)

// FileName is the name of the config file inside the data directory.
const FileName = "targetlock.yaml"

// DefaultPatternPath is resolved against the executable's directory.
const DefaultPatternPath = "../data/target.jpg"

// Homography estimator names.
const (
	HomographyOpenCV = "opencv"
	HomographyDLT    = "dlt"
)

// Searcher names.
const (
	SearcherBF     = "bf"
	SearcherLinear = "linear"
)

// Tracker mirrors tracker.Config with YAML names and the stage selections.
type Tracker struct {
	MinKeypoints    int     `yaml:"min_keypoints"`
	MinMatches      int     `yaml:"min_matches"`
	Ratio           float64 `yaml:"ratio"`
	RansacThreshold float64 `yaml:"ransac_threshold"`
	XRatio          float64 `yaml:"x_ratio"`
	YRatio          float64 `yaml:"y_ratio"`
	PnPIterations   int     `yaml:"pnp_iterations"`
	PnPThreshold    float64 `yaml:"pnp_threshold"`
	Homography      string  `yaml:"homography"`
	Searcher        string  `yaml:"searcher"`
}

// Config is the in-memory representation of targetlock.yaml.
type Config struct {
	Encoding     string  `yaml:"encoding"`
	PatternPath  string  `yaml:"pattern_path"`
	CameraID     int     `yaml:"camera_id"`
	ListenAddr   string  `yaml:"listen_addr"`
	DataDir      string  `yaml:"data_dir"`
	LogLevel     string  `yaml:"log_level"`
	OutputBuffer int     `yaml:"output_buffer"`
	Tray         bool    `yaml:"tray"`
	Tracker      Tracker `yaml:"tracker"`
}

// DefaultDataDir returns ~/.targetlock.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".targetlock"), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	dataDir, err := DefaultDataDir()
	if err != nil {
		dataDir = ".targetlock"
	}
	tc := tracker.DefaultConfig()
	return &Config{
		Encoding:     capture.EncodingBGR8,
		PatternPath:  DefaultPatternPath,
		CameraID:     0,
		ListenAddr:   ":8080",
		DataDir:      dataDir,
		LogLevel:     "info",
		OutputBuffer: 5,
		Tracker: Tracker{
			MinKeypoints:    tc.MinKeypoints,
			MinMatches:      tc.MinMatches,
			Ratio:           tc.Ratio,
			RansacThreshold: tc.RansacThreshold,
			XRatio:          tc.XRatio,
			YRatio:          tc.YRatio,
			PnPIterations:   tc.PnPIterations,
			PnPThreshold:    tc.PnPThreshold,
			Homography:      HomographyOpenCV,
			Searcher:        SearcherBF,
		},
	}
}

// Path returns the config file path inside dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// Load reads <dataDir>/targetlock.yaml over the defaults. A missing file is
// not an error.
func Load(dataDir string) (*Config, error) {
	cfg := Default()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	path := Path(cfg.DataDir)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// Save writes cfg to <cfg.DataDir>/targetlock.yaml.
func Save(cfg *Config) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("cannot create data directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	path := Path(cfg.DataDir)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if !capture.ValidEncoding(c.Encoding) {
		return fmt.Errorf("unsupported encoding %q (want one of %s)", c.Encoding, strings.Join(capture.Encodings(), ", "))
	}
	if c.PatternPath == "" {
		return errors.New("pattern_path must be set")
	}
	if c.OutputBuffer <= 0 {
		return fmt.Errorf("output_buffer must be positive, got %d", c.OutputBuffer)
	}

	t := c.Tracker
	switch {
	case t.MinKeypoints <= 0:
		return fmt.Errorf("tracker.min_keypoints must be positive, got %d", t.MinKeypoints)
	case t.MinMatches <= 0:
		return fmt.Errorf("tracker.min_matches must be positive, got %d", t.MinMatches)
	case t.Ratio <= 0:
		return fmt.Errorf("tracker.ratio must be positive, got %g", t.Ratio)
	case t.RansacThreshold <= 0:
		return fmt.Errorf("tracker.ransac_threshold must be positive, got %g", t.RansacThreshold)
	case t.XRatio <= 0 || t.YRatio <= 0:
		return fmt.Errorf("tracker.x_ratio and tracker.y_ratio must be positive, got %g and %g", t.XRatio, t.YRatio)
	case t.PnPIterations <= 0:
		return fmt.Errorf("tracker.pnp_iterations must be positive, got %d", t.PnPIterations)
	case t.PnPThreshold <= 0:
		return fmt.Errorf("tracker.pnp_threshold must be positive, got %g", t.PnPThreshold)
	}

	switch t.Homography {
	case HomographyOpenCV, HomographyDLT:
	default:
		return fmt.Errorf("unknown tracker.homography %q", t.Homography)
	}
	switch t.Searcher {
	case SearcherBF, SearcherLinear:
	default:
		return fmt.Errorf("unknown tracker.searcher %q", t.Searcher)
	}
	return nil
}

// TrackerConfig converts the thresholds to a tracker.Config.
func (c *Config) TrackerConfig() tracker.Config {
	t := c.Tracker
	return tracker.Config{
		MinKeypoints:    t.MinKeypoints,
		MinMatches:      t.MinMatches,
		Ratio:           t.Ratio,
		RansacThreshold: t.RansacThreshold,
		XRatio:          t.XRatio,
		YRatio:          t.YRatio,
		PnPIterations:   t.PnPIterations,
		PnPThreshold:    t.PnPThreshold,
	}
}

// ResolvePatternPath returns PatternPath as an absolute path. Relative paths
// are taken from the directory of the running executable.
func (c *Config) ResolvePatternPath() (string, error) {
	p := c.PatternPath
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot expand ~: %w", err)
		}
		p = filepath.Join(home, p[1:])
	}
	if filepath.IsAbs(p) {
		return p, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("cannot locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), p), nil
}
