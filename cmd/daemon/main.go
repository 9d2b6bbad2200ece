// SPDX-License-Identifier: MIT

// maskd is the video segmentation orchestrator daemon: it admits video
// sessions, accepts object prompts, and runs mask propagation jobs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ManuGH/maskd/internal/api"
	"github.com/ManuGH/maskd/internal/config"
	"github.com/ManuGH/maskd/internal/daemon"
	"github.com/ManuGH/maskd/internal/jobs"
	"github.com/ManuGH/maskd/internal/log"
	"github.com/ManuGH/maskd/internal/segment"
	"github.com/ManuGH/maskd/internal/session"
	"github.com/ManuGH/maskd/internal/version"
	"github.com/ManuGH/maskd/internal/video"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("maskd %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	log.Configure(log.Config{
		Level:   "info",
		Service: "maskd",
		Version: version.Version,
	})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config path: explicit via --config, otherwise auto-load
	// ${MASKD_DATA}/config.yaml if it exists.
	effectivePath := strings.TrimSpace(*configPath)
	if effectivePath == "" {
		dataDir := strings.TrimSpace(config.ParseString("MASKD_DATA", ""))
		if dataDir != "" {
			autoPath := filepath.Join(dataDir, "config.yaml")
			if _, err := os.Stat(autoPath); err == nil {
				effectivePath = autoPath
			}
		}
	}

	cfg, err := config.Load(effectivePath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "config.load_failed").
			Str(log.FieldPath, effectivePath).
			Msg("failed to load configuration")
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "maskd",
		Version: version.Version,
	})

	framesDir := filepath.Join(cfg.DataDir, "frames")
	if err := os.MkdirAll(framesDir, 0o750); err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "storage.init_failed").
			Str(log.FieldPath, framesDir).
			Msg("failed to create frame store directory")
	}

	var source video.FrameSource
	switch cfg.FrameSource {
	case "ffmpeg":
		source = video.NewFFmpegSource()
	default:
		source = video.NewSyntheticSource(640, 480, 120, 25)
	}

	// Config validation pins cfg.Segmenter to a known backend.
	seg := segment.NewSimulator()

	store := video.NewFrameStore(framesDir, cfg.FrameJPEGQuality)
	sessions := session.NewManager(session.Options{
		MaxConcurrent: cfg.MaxConcurrentSessions,
		MaxFrames:     cfg.MaxVideoFrames,
		MaxDimension:  cfg.MaxFrameDimension,
		Timeout:       cfg.SessionTimeout,
		TouchEvery:    cfg.TouchEvery,
		ProgressEvery: cfg.ProgressLogEvery,
	}, source, store, seg)
	jobManager := jobs.NewManager(cfg.MaxWorkers)

	srv := api.New(api.Config{
		Version:        version.Version,
		SegmenterMode:  cfg.Segmenter,
		JobRetention:   cfg.JobRetention,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		TracingService: "maskd",
	}, sessions, jobManager)

	mgr := daemon.NewManager(daemon.Options{
		ListenAddr:    cfg.ListenAddr,
		MetricsAddr:   cfg.MetricsAddr,
		SweepInterval: cfg.SweepInterval,
		JobRetention:  cfg.JobRetention,
	}, srv.Router(), sessions, jobManager)

	logger.Info().
		Str(log.FieldEvent, "daemon.starting").
		Str("version", version.Version).
		Str("listen_addr", cfg.ListenAddr).
		Str("metrics_addr", cfg.MetricsAddr).
		Str("segmenter", cfg.Segmenter).
		Str("frame_source", cfg.FrameSource).
		Int("max_sessions", cfg.MaxConcurrentSessions).
		Int("max_workers", cfg.MaxWorkers).
		Msg("starting maskd")

	if err := mgr.Start(ctx); err != nil {
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "daemon.failed").
			Msg("daemon exited with error")
		os.Exit(1)
	}
	logger.Info().Str(log.FieldEvent, "daemon.exited").Msg("maskd exited cleanly")
}
