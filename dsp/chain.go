// Package dsp holds the level meter and the mastering chain applied to every
// finished segment.
//
// Stages work on interleaved float32 buffers and keep no state between calls:
// each segment is processed as if the filters started from rest.
package dsp

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidParams is returned when a stage parameter is out of range.
var ErrInvalidParams = errors.New("invalid effect parameters")

// Stage transforms an interleaved buffer in place.
type Stage interface {
	Name() string
	Process(buf []float32, channels, sampleRate int)
}

// Params holds the fixed per-run parameters of the chain.
type Params struct {
	HighPassHz         float64
	CompThresholdDB    float64
	CompRatio          float64
	CompAttackMs       float64
	CompReleaseMs      float64
	GainDB             float64
	LimiterThresholdDB float64
	LimiterReleaseMs   float64
}

func DefaultParams() Params {
	return Params{
		HighPassHz:         20,
		CompThresholdDB:    -16,
		CompRatio:          4,
		CompAttackMs:       1,
		CompReleaseMs:      100,
		GainDB:             3,
		LimiterThresholdDB: -1,
		LimiterReleaseMs:   100,
	}
}

func (p Params) Validate(sampleRate int) error {
	nyquist := float64(sampleRate) / 2
	switch {
	case sampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrInvalidParams, sampleRate)
	case !(p.HighPassHz > 0) || p.HighPassHz >= nyquist:
		return fmt.Errorf("%w: high-pass cutoff %.1f Hz outside (0, %.0f)", ErrInvalidParams, p.HighPassHz, nyquist)
	case p.CompThresholdDB > 0 || math.IsNaN(p.CompThresholdDB):
		return fmt.Errorf("%w: compressor threshold %.1f dB above 0 dBFS", ErrInvalidParams, p.CompThresholdDB)
	case !(p.CompRatio >= 1):
		return fmt.Errorf("%w: compressor ratio %.2f below 1", ErrInvalidParams, p.CompRatio)
	case p.CompAttackMs < 0 || p.CompReleaseMs < 0 || p.LimiterReleaseMs < 0:
		return fmt.Errorf("%w: negative time constant", ErrInvalidParams)
	case math.IsNaN(p.GainDB) || math.IsInf(p.GainDB, 0):
		return fmt.Errorf("%w: gain %.1f dB", ErrInvalidParams, p.GainDB)
	case p.LimiterThresholdDB > 0 || math.IsNaN(p.LimiterThresholdDB):
		return fmt.Errorf("%w: limiter threshold %.1f dB above 0 dBFS", ErrInvalidParams, p.LimiterThresholdDB)
	}
	return nil
}

// Chain runs its stages strictly in order.
type Chain struct {
	stages []Stage
}

// NewChain builds the fixed mastering chain:
// high-pass, compressor, gain, limiter.
func NewChain(p Params, sampleRate int) (*Chain, error) {
	if err := p.Validate(sampleRate); err != nil {
		return nil, err
	}
	return &Chain{stages: []Stage{
		HighPass{CutoffHz: p.HighPassHz},
		Compressor{ThresholdDB: p.CompThresholdDB, Ratio: p.CompRatio, AttackMs: p.CompAttackMs, ReleaseMs: p.CompReleaseMs},
		Gain{DB: p.GainDB},
		Limiter{ThresholdDB: p.LimiterThresholdDB, ReleaseMs: p.LimiterReleaseMs},
	}}, nil
}

func (c *Chain) Stages() []Stage { return c.stages }

// Process returns a processed copy of samples. The input is not modified and
// an empty input is returned as is.
func (c *Chain) Process(samples []float32, channels, sampleRate int) []float32 {
	if len(samples) == 0 || channels <= 0 {
		return samples
	}
	out := make([]float32, len(samples))
	copy(out, samples)
	for _, s := range c.stages {
		s.Process(out, channels, sampleRate)
	}
	return out
}

// timeCoeff is the one-pole smoothing coefficient for a time constant.
func timeCoeff(ms float64, sampleRate int) float64 {
	if ms <= 0 {
		return 0
	}
	return math.Exp(-1 / (ms / 1000 * float64(sampleRate)))
}
