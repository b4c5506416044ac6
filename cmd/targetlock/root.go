package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ayusman/targetlock/internal/config"
)

type flags struct {
	dataDir   string
	pattern   string
	encoding  string
	camera    int
	video     string
	listen    string
	logLevel  string
	tray      bool
	webDir    string
	writeConf bool
}

var opts flags

var rootCmd = &cobra.Command{
	Use:          "targetlock",
	Short:        "targetlock: planar target recognition and pose tracking",
	SilenceUsage: true, // don't print usage on operational errors
	Long: `targetlock finds a reference image in every camera frame, outlines it,
and estimates the camera pose when intrinsics are known. Settings are read
from <data-dir>/targetlock.yaml; flags override them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if opts.writeConf {
			if err := config.Save(cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", config.Path(cfg.DataDir))
			return nil
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&opts.dataDir, "data-dir", "", "data directory (default ~/.targetlock)")
	f.StringVar(&opts.pattern, "pattern", "", "reference image path")
	f.StringVar(&opts.encoding, "encoding", "", "output frame encoding")
	f.IntVar(&opts.camera, "camera", 0, "camera device ID; negative disables capture")
	f.StringVar(&opts.video, "video", "", "read frames from a video file instead of a camera")
	f.StringVar(&opts.listen, "listen", "", "HTTP listen address")
	f.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	f.BoolVar(&opts.tray, "tray", false, "show a system tray icon")
	f.StringVar(&opts.webDir, "web", "", "static files to serve at /")
	f.BoolVar(&opts.writeConf, "write-config", false, "write the effective configuration and exit")
}

// loadConfig reads the config file and applies the flags that were set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(opts.dataDir)
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	if f.Changed("pattern") {
		cfg.PatternPath = opts.pattern
	}
	if f.Changed("encoding") {
		cfg.Encoding = opts.encoding
	}
	if f.Changed("camera") {
		cfg.CameraID = opts.camera
	}
	if f.Changed("listen") {
		cfg.ListenAddr = opts.listen
	}
	if f.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if f.Changed("tray") {
		cfg.Tray = opts.tray
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Execute is called by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
