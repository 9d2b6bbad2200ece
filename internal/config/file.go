// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// fileSchema is the YAML shape of the config file. Pointer fields
// distinguish "absent" from "zero" so the file only overrides what it sets.
// Durations accept Go duration strings ("5m") or bare seconds ("300").
type fileSchema struct {
	ListenAddr            *string `yaml:"listenAddr"`
	MetricsAddr           *string `yaml:"metricsAddr"`
	LogLevel              *string `yaml:"logLevel"`
	DataDir               *string `yaml:"dataDir"`
	SessionTimeout        *string `yaml:"sessionTimeout"`
	MaxConcurrentSessions *int    `yaml:"maxConcurrentSessions"`
	MaxVideoFrames        *int    `yaml:"maxVideoFrames"`
	MaxFrameDimension     *int    `yaml:"maxFrameDimension"`
	FrameJPEGQuality      *int    `yaml:"frameJpegQuality"`
	MaxWorkers            *int    `yaml:"maxWorkers"`
	JobRetention          *string `yaml:"jobRetention"`
	ProgressLogEvery      *int    `yaml:"progressLogEvery"`
	TouchEvery            *int    `yaml:"touchEvery"`
	SweepInterval         *string `yaml:"sweepInterval"`
	Segmenter             *string `yaml:"segmenter"`
	FrameSource           *string `yaml:"frameSource"`
	RateLimitRPS          *int    `yaml:"rateLimitRps"`
	RateLimitBurst        *int    `yaml:"rateLimitBurst"`
}

// loadFile overlays the YAML file at path onto base. Unknown keys are
// rejected so typos fail fast instead of silently keeping defaults.
func loadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var schema fileSchema
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&schema); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}

	cfg := base
	setString(&cfg.ListenAddr, schema.ListenAddr)
	setString(&cfg.MetricsAddr, schema.MetricsAddr)
	setString(&cfg.LogLevel, schema.LogLevel)
	setString(&cfg.DataDir, schema.DataDir)
	setString(&cfg.Segmenter, schema.Segmenter)
	setString(&cfg.FrameSource, schema.FrameSource)
	setInt(&cfg.MaxConcurrentSessions, schema.MaxConcurrentSessions)
	setInt(&cfg.MaxVideoFrames, schema.MaxVideoFrames)
	setInt(&cfg.MaxFrameDimension, schema.MaxFrameDimension)
	setInt(&cfg.FrameJPEGQuality, schema.FrameJPEGQuality)
	setInt(&cfg.MaxWorkers, schema.MaxWorkers)
	setInt(&cfg.ProgressLogEvery, schema.ProgressLogEvery)
	setInt(&cfg.TouchEvery, schema.TouchEvery)
	setInt(&cfg.RateLimitRPS, schema.RateLimitRPS)
	setInt(&cfg.RateLimitBurst, schema.RateLimitBurst)
	if err := setDuration(&cfg.SessionTimeout, schema.SessionTimeout, "sessionTimeout"); err != nil {
		return Config{}, err
	}
	if err := setDuration(&cfg.JobRetention, schema.JobRetention, "jobRetention"); err != nil {
		return Config{}, err
	}
	if err := setDuration(&cfg.SweepInterval, schema.SweepInterval, "sweepInterval"); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string, key string) error {
	if src == nil {
		return nil
	}
	if d, err := time.ParseDuration(*src); err == nil {
		*dst = d
		return nil
	}
	if secs, err := strconv.Atoi(*src); err == nil && secs >= 0 {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	return fmt.Errorf("invalid duration for %s: %q", key, *src)
}
