// Package config holds the per-run settings of a capture session.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"loopcap/dsp"
	"loopcap/segment"
)

// ErrInvalid is returned for out-of-range settings. Values are never clamped.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	// Device is the exact name of the output device to capture. Empty means
	// the system default output.
	Device     string        `yaml:"device"`
	SampleRate int           `yaml:"sample_rate"`
	Channels   int           `yaml:"channels"`
	Chunk      time.Duration `yaml:"chunk"`

	// MaxDuration stops the session after this much captured audio. Zero
	// records until interrupted or the source ends.
	MaxDuration time.Duration `yaml:"max_duration"`

	Silence SilenceConfig `yaml:"silence"`
	Effects EffectsConfig `yaml:"effects"`
	Output  OutputConfig  `yaml:"output"`
}

type SilenceConfig struct {
	Threshold float64       `yaml:"threshold"`
	Duration  time.Duration `yaml:"duration"`
}

type EffectsConfig struct {
	HighPassHz         float64 `yaml:"highpass_hz"`
	CompThresholdDB    float64 `yaml:"compressor_threshold_db"`
	CompRatio          float64 `yaml:"compressor_ratio"`
	CompAttackMs       float64 `yaml:"compressor_attack_ms"`
	CompReleaseMs      float64 `yaml:"compressor_release_ms"`
	GainDB             float64 `yaml:"gain_db"`
	LimiterThresholdDB float64 `yaml:"limiter_threshold_db"`
	LimiterReleaseMs   float64 `yaml:"limiter_release_ms"`
}

type OutputConfig struct {
	Dir    string `yaml:"dir"`
	Prefix string `yaml:"prefix"`
	Format string `yaml:"format"`
}

func Default() Config {
	p := dsp.DefaultParams()
	return Config{
		SampleRate: 44100,
		Channels:   2,
		Chunk:      500 * time.Millisecond,
		Silence: SilenceConfig{
			Threshold: 0.003,
			Duration:  time.Second,
		},
		Effects: EffectsConfig{
			HighPassHz:         p.HighPassHz,
			CompThresholdDB:    p.CompThresholdDB,
			CompRatio:          p.CompRatio,
			CompAttackMs:       p.CompAttackMs,
			CompReleaseMs:      p.CompReleaseMs,
			GainDB:             p.GainDB,
			LimiterThresholdDB: p.LimiterThresholdDB,
			LimiterReleaseMs:   p.LimiterReleaseMs,
		},
		Output: OutputConfig{
			Dir:    ".",
			Prefix: "recording",
			Format: "wav",
		},
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %w", ErrInvalid, path, err)
	}
	return cfg, nil
}

func (c Config) Segmentation() segment.Config {
	return segment.Config{Threshold: c.Silence.Threshold, MinSilence: c.Silence.Duration}
}

func (c Config) DSP() dsp.Params {
	e := c.Effects
	return dsp.Params{
		HighPassHz:         e.HighPassHz,
		CompThresholdDB:    e.CompThresholdDB,
		CompRatio:          e.CompRatio,
		CompAttackMs:       e.CompAttackMs,
		CompReleaseMs:      e.CompReleaseMs,
		GainDB:             e.GainDB,
		LimiterThresholdDB: e.LimiterThresholdDB,
		LimiterReleaseMs:   e.LimiterReleaseMs,
	}
}

// Validate rejects the configuration before any device is opened.
func (c Config) Validate() error {
	if c.SampleRate < 8000 || c.SampleRate > 384000 {
		return fmt.Errorf("%w: sample rate %d Hz", ErrInvalid, c.SampleRate)
	}
	if c.Channels < 1 || c.Channels > 8 {
		return fmt.Errorf("%w: %d channels (1-8 supported)", ErrInvalid, c.Channels)
	}
	if c.Chunk <= 0 {
		return fmt.Errorf("%w: chunk duration %s must be positive", ErrInvalid, c.Chunk)
	}
	if c.MaxDuration < 0 {
		return fmt.Errorf("%w: max duration %s must not be negative", ErrInvalid, c.MaxDuration)
	}
	if int64(c.Chunk)*int64(c.SampleRate) < int64(time.Second) {
		return fmt.Errorf("%w: chunk duration %s shorter than one frame", ErrInvalid, c.Chunk)
	}
	if err := c.Segmentation().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := c.DSP().Validate(c.SampleRate); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	switch c.Output.Format {
	case "wav", "flac":
	default:
		return fmt.Errorf("%w: output format %q (use wav or flac)", ErrInvalid, c.Output.Format)
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("%w: empty output directory", ErrInvalid)
	}
	if c.Output.Prefix == "" {
		return fmt.Errorf("%w: empty file prefix", ErrInvalid)
	}
	return nil
}
