// Package config loads engine settings from compiled defaults, TOML files
// and the settings store, in that order of precedence.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/llehouerou/wavecore/internal/engine"
	"github.com/llehouerou/wavecore/internal/fade"
	"github.com/llehouerou/wavecore/internal/tuner"
)

const appName = "wavecore"

type Config struct {
	Database string `koanf:"database"` // empty means the XDG data dir

	Engine  EngineConfig  `koanf:"engine"`
	Output  OutputConfig  `koanf:"output"`
	Decoder DecoderConfig `koanf:"decoder"`
	Fade    FadeConfig    `koanf:"fade"`
	Tuner   TunerConfig   `koanf:"tuner"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
	Desktop DesktopConfig `koanf:"desktop"`
}

// EngineConfig holds buffering and timing thresholds, in milliseconds.
type EngineConfig struct {
	ReadyThresholdMs        int `koanf:"ready_threshold_ms"`         // default: 3000
	FirstPassageThresholdMs int `koanf:"first_passage_threshold_ms"` // default: 500
	PrefixMs                int `koanf:"prefix_ms"`                  // default: 15000
	ResumeThresholdMs       int `koanf:"resume_threshold_ms"`        // default: 1000
	ResumeFadeMs            int `koanf:"resume_fade_ms"`             // default: 500
	PositionIntervalMs      int `koanf:"position_interval_ms"`       // default: 100
	ProgressIntervalMs      int `koanf:"progress_interval_ms"`       // default: 1000
	TimelineTimeoutMs       int `koanf:"timeline_timeout_ms"`        // default: 2000
	Lookahead               int `koanf:"lookahead"`                  // passages decoded ahead (1-8, default: 2)
}

// OutputConfig holds device output settings.
type OutputConfig struct {
	Device         string `koanf:"device"`           // "speaker" or "null" (default: "speaker")
	BufferFrames   int    `koanf:"buffer_frames"`    // device callback size (default: 2048)
	RingFrames     int    `koanf:"ring_frames"`      // ring buffer capacity (default: 4x buffer_frames)
	TickIntervalMs int    `koanf:"tick_interval_ms"` // mixer check interval (default: 10)
}

// DecoderConfig holds decoder pool settings.
type DecoderConfig struct {
	Workers     int `koanf:"workers"`      // default: half the CPUs, at most 4
	ChunkFrames int `koanf:"chunk_frames"` // default: 4096
}

// FadeConfig holds the fades applied to passages played from the CLI.
type FadeConfig struct {
	Curve     string `koanf:"curve"`      // linear, logarithmic, exponential, s-curve, equal-power
	FadeInMs  int    `koanf:"fade_in_ms"` // default: 0
	FadeOutMs int    `koanf:"fade_out_ms"`
	OverlapMs int    `koanf:"overlap_ms"` // 0 means no cap
}

// TunerConfig holds auto-tuner settings.
type TunerConfig struct {
	TrialMs     int   `koanf:"trial_ms"`     // default: 2000
	BufferSizes []int `koanf:"buffer_sizes"` // default: 512, 1024, 2048, 4096
	IntervalsMs []int `koanf:"intervals_ms"` // default: 5, 10, 20, 50
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level"` // trace, debug, info, warn, error (default: info)
	Pretty *bool  `koanf:"pretty"`
	File   string `koanf:"file"`
}

// MetricsConfig holds the prometheus endpoint settings.
type MetricsConfig struct {
	Addr string `koanf:"addr"` // e.g. "127.0.0.1:9464", empty disables
}

// DesktopConfig holds desktop integration settings (Linux only).
type DesktopConfig struct {
	MediaControls   bool `koanf:"media_controls"`    // expose playback over MPRIS
	Notify          bool `koanf:"notify"`            // show passage and song changes
	NotifyTimeoutMs int  `koanf:"notify_timeout_ms"` // default: 5000
}

// SettingsSource is the persistent settings store.
type SettingsSource interface {
	Settings(ctx context.Context) (map[string]string, error)
}

// Load reads the config files and then the settings store, which may be nil.
func Load(ctx context.Context, store SettingsSource) (*Config, error) {
	return load(ctx, getConfigPaths(), store)
}

func load(ctx context.Context, paths []string, store SettingsSource) (*Config, error) {
	k := koanf.New(".")

	// Try config files in order of priority (last wins)
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	if store != nil {
		if err := k.Load(settingsProvider(ctx, store), nil); err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	if cfg.Database != "" {
		cfg.Database = expandPath(cfg.Database)
	}
	if cfg.Log.File != "" {
		cfg.Log.File = expandPath(cfg.Log.File)
	}
	cfg.Output.Device = strings.ToLower(strings.TrimSpace(cfg.Output.Device))

	return cfg, nil
}

func getConfigPaths() []string {
	return []string{
		// 1. $XDG_CONFIG_HOME/wavecore/config.toml
		filepath.Join(xdg.ConfigHome, appName, "config.toml"),
		// 2. ./config.toml (pwd, highest priority)
		"config.toml",
	}
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// GetEngineConfig returns the engine configuration with defaults applied.
func (c *Config) GetEngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	e := c.Engine

	if e.ReadyThresholdMs > 0 {
		cfg.Buffer.ReadyThreshold = ms(e.ReadyThresholdMs)
	}
	if e.FirstPassageThresholdMs > 0 {
		cfg.Buffer.FirstPassageThreshold = ms(e.FirstPassageThresholdMs)
	}
	// The first passage never waits longer than later ones.
	cfg.Buffer.FirstPassageThreshold = min(cfg.Buffer.FirstPassageThreshold, cfg.Buffer.ReadyThreshold)
	if e.PrefixMs > 0 {
		cfg.Buffer.PrefixDuration = ms(e.PrefixMs)
	}
	// A queued passage must be able to reach the ready threshold.
	cfg.Buffer.PrefixDuration = max(cfg.Buffer.PrefixDuration, cfg.Buffer.ReadyThreshold)
	if e.ResumeThresholdMs > 0 {
		cfg.Mixer.ResumeThreshold = ms(e.ResumeThresholdMs)
	}
	if e.ResumeFadeMs > 0 {
		cfg.Mixer.ResumeFade = ms(e.ResumeFadeMs)
	}
	if e.PositionIntervalMs > 0 {
		cfg.Mixer.PositionInterval = ms(e.PositionIntervalMs)
	}
	if e.ProgressIntervalMs > 0 {
		cfg.Tracker.ProgressInterval = ms(e.ProgressIntervalMs)
	}
	if e.TimelineTimeoutMs > 0 {
		cfg.Tracker.LoadTimeout = ms(e.TimelineTimeoutMs)
	}
	if e.Lookahead > 0 && e.Lookahead <= 8 {
		cfg.Lookahead = e.Lookahead
	}

	o := c.GetOutputConfig()
	cfg.RingFrames = o.RingFrames
	cfg.TickInterval = ms(o.TickIntervalMs)
	cfg.GraceFrames = 2 * o.BufferFrames

	if c.Decoder.Workers > 0 && c.Decoder.Workers <= 16 {
		cfg.Pool.Workers = c.Decoder.Workers
	}
	if c.Decoder.ChunkFrames > 0 {
		cfg.Pool.ChunkFrames = c.Decoder.ChunkFrames
	}
	return cfg
}

// GetOutputConfig returns the output configuration with defaults applied.
func (c *Config) GetOutputConfig() OutputConfig {
	cfg := c.Output

	// Apply defaults
	if cfg.Device != "null" {
		cfg.Device = "speaker"
	}
	if cfg.BufferFrames <= 0 {
		cfg.BufferFrames = 2048
	}
	if cfg.RingFrames < 2*cfg.BufferFrames {
		cfg.RingFrames = 4 * cfg.BufferFrames
	}
	if cfg.TickIntervalMs <= 0 || cfg.TickIntervalMs > 100 {
		cfg.TickIntervalMs = 10
	}

	return cfg
}

// GetDesktopConfig returns the desktop configuration with defaults applied.
func (c *Config) GetDesktopConfig() DesktopConfig {
	cfg := c.Desktop
	if cfg.NotifyTimeoutMs <= 0 {
		cfg.NotifyTimeoutMs = 5000
	}
	return cfg
}

// GetFades returns the default fade-in, fade-out and overlap cap.
func (c *Config) GetFades() (in, out fade.Fade, overlap time.Duration, err error) {
	curve := fade.EqualPower
	if c.Fade.Curve != "" {
		if curve, err = fade.ParseCurve(c.Fade.Curve); err != nil {
			return in, out, 0, err
		}
	}
	in = fade.Fade{Curve: curve, Duration: ms(max(c.Fade.FadeInMs, 0))}
	out = fade.Fade{Curve: curve, Duration: ms(max(c.Fade.FadeOutMs, 0))}
	return in, out, ms(max(c.Fade.OverlapMs, 0)), nil
}

// GetTunerConfig returns the tuner configuration with defaults applied.
func (c *Config) GetTunerConfig() tuner.Config {
	cfg := tuner.DefaultConfig()
	if c.Tuner.TrialMs > 0 {
		cfg.TrialDuration = ms(c.Tuner.TrialMs)
	}
	if sizes := positive(c.Tuner.BufferSizes); len(sizes) > 0 {
		cfg.BufferSizes = sizes
	}
	if intervals := positive(c.Tuner.IntervalsMs); len(intervals) > 0 {
		cfg.Intervals = make([]time.Duration, len(intervals))
		for i, v := range intervals {
			cfg.Intervals[i] = ms(v)
		}
	}
	return cfg
}

func positive(vs []int) []int {
	var out []int
	for _, v := range vs {
		if v > 0 {
			out = append(out, v)
		}
	}
	return out
}
