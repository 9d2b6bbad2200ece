// SPDX-License-Identifier: MIT

// Package config loads maskd configuration with ENV > file > defaults
// precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds every runtime knob of the orchestrator.
type Config struct {
	// Server
	ListenAddr  string `yaml:"listenAddr"`
	MetricsAddr string `yaml:"metricsAddr"` // empty disables the metrics listener
	LogLevel    string `yaml:"logLevel"`

	// Storage
	DataDir string `yaml:"dataDir"` // root for per-session frame scratch dirs

	// Session admission and eviction
	SessionTimeout        time.Duration `yaml:"sessionTimeout"`
	MaxConcurrentSessions int           `yaml:"maxConcurrentSessions"`
	MaxVideoFrames        int           `yaml:"maxVideoFrames"`
	MaxFrameDimension     int           `yaml:"maxFrameDimension"`
	FrameJPEGQuality      int           `yaml:"frameJpegQuality"`

	// Propagation jobs
	MaxWorkers       int           `yaml:"maxWorkers"`
	JobRetention     time.Duration `yaml:"jobRetention"`
	ProgressLogEvery int           `yaml:"progressLogEvery"` // frames between progress updates
	TouchEvery       int           `yaml:"touchEvery"`       // frames between session keep-alive touches
	SweepInterval    time.Duration `yaml:"sweepInterval"`

	// Backends
	Segmenter   string `yaml:"segmenter"`   // "sim" (deterministic simulator)
	FrameSource string `yaml:"frameSource"` // "ffmpeg" or "synthetic"

	// Ingress protection
	RateLimitRPS   int `yaml:"rateLimitRps"` // 0 disables rate limiting
	RateLimitBurst int `yaml:"rateLimitBurst"`
}

// Defaults mirrors the original service defaults: small admission cap, short
// timeout, 300-frame budget, 1920px working cap, JPEG quality 95.
func Defaults() Config {
	return Config{
		ListenAddr:            ":8080",
		MetricsAddr:           ":9090",
		LogLevel:              "info",
		DataDir:               filepath.Join(os.TempDir(), "maskd"),
		SessionTimeout:        5 * time.Minute,
		MaxConcurrentSessions: 2,
		MaxVideoFrames:        300,
		MaxFrameDimension:     1920,
		FrameJPEGQuality:      95,
		MaxWorkers:            2,
		JobRetention:          time.Hour,
		ProgressLogEvery:      50,
		TouchEvery:            10,
		SweepInterval:         time.Minute,
		Segmenter:             "sim",
		FrameSource:           "ffmpeg",
		RateLimitRPS:          0,
		RateLimitBurst:        20,
	}
}

// FromEnv overlays MASKD_* environment variables onto cfg.
func FromEnv(cfg Config) Config {
	cfg.ListenAddr = ParseString("MASKD_LISTEN", cfg.ListenAddr)
	cfg.MetricsAddr = ParseString("MASKD_METRICS_ADDR", cfg.MetricsAddr)
	if !ParseBool("MASKD_METRICS_ENABLED", true) {
		cfg.MetricsAddr = ""
	}
	cfg.LogLevel = ParseString("MASKD_LOG_LEVEL", cfg.LogLevel)
	cfg.DataDir = ParseString("MASKD_DATA", cfg.DataDir)
	cfg.SessionTimeout = ParseDuration("MASKD_SESSION_TIMEOUT", cfg.SessionTimeout)
	cfg.MaxConcurrentSessions = ParseInt("MASKD_MAX_CONCURRENT_SESSIONS", cfg.MaxConcurrentSessions)
	cfg.MaxVideoFrames = ParseInt("MASKD_MAX_VIDEO_FRAMES", cfg.MaxVideoFrames)
	cfg.MaxFrameDimension = ParseInt("MASKD_MAX_FRAME_DIMENSION", cfg.MaxFrameDimension)
	cfg.FrameJPEGQuality = ParseInt("MASKD_FRAME_JPEG_QUALITY", cfg.FrameJPEGQuality)
	cfg.MaxWorkers = ParseInt("MASKD_MAX_WORKERS", cfg.MaxWorkers)
	cfg.JobRetention = ParseDuration("MASKD_JOB_RETENTION", cfg.JobRetention)
	cfg.ProgressLogEvery = ParseInt("MASKD_PROGRESS_LOG_EVERY", cfg.ProgressLogEvery)
	cfg.TouchEvery = ParseInt("MASKD_TOUCH_EVERY", cfg.TouchEvery)
	cfg.SweepInterval = ParseDuration("MASKD_SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.Segmenter = ParseString("MASKD_SEGMENTER", cfg.Segmenter)
	cfg.FrameSource = ParseString("MASKD_FRAME_SOURCE", cfg.FrameSource)
	cfg.RateLimitRPS = ParseInt("MASKD_RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = ParseInt("MASKD_RATE_LIMIT_BURST", cfg.RateLimitBurst)
	return cfg
}

// Load builds the effective configuration: defaults, then the optional YAML
// file at path, then environment overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		fileCfg, err := loadFile(path, cfg)
		if err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
		cfg = fileCfg
	}
	cfg = FromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the orchestrator cannot run with.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir must not be empty")
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("session timeout must be positive, got %s", c.SessionTimeout)
	}
	if c.MaxConcurrentSessions <= 0 {
		return fmt.Errorf("max concurrent sessions must be positive, got %d", c.MaxConcurrentSessions)
	}
	if c.MaxVideoFrames <= 0 {
		return fmt.Errorf("max video frames must be positive, got %d", c.MaxVideoFrames)
	}
	if c.MaxFrameDimension <= 0 {
		return fmt.Errorf("max frame dimension must be positive, got %d", c.MaxFrameDimension)
	}
	if c.FrameJPEGQuality < 1 || c.FrameJPEGQuality > 100 {
		return fmt.Errorf("frame JPEG quality must be in [1, 100], got %d", c.FrameJPEGQuality)
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max workers must be positive, got %d", c.MaxWorkers)
	}
	if c.TouchEvery <= 0 || c.ProgressLogEvery <= 0 {
		return fmt.Errorf("touch/progress cadences must be positive, got %d/%d", c.TouchEvery, c.ProgressLogEvery)
	}
	switch c.Segmenter {
	case "sim":
	default:
		return fmt.Errorf("unknown segmenter backend %q", c.Segmenter)
	}
	switch c.FrameSource {
	case "ffmpeg", "synthetic":
	default:
		return fmt.Errorf("unknown frame source %q", c.FrameSource)
	}
	return nil
}
