package dsp

import (
	"errors"
	"math"
	"slices"
	"testing"
)

const testRate = 44100

func genTone(freq, amp float64, frames, channels int) []float32 {
	buf := make([]float32, frames*channels)
	for i := 0; i < frames; i++ {
		s := float32(amp * math.Sin(2*math.Pi*freq*float64(i)/testRate))
		for ch := 0; ch < channels; ch++ {
			buf[i*channels+ch] = s
		}
	}
	return buf
}

func peak(buf []float32) float64 {
	var p float64
	for _, s := range buf {
		p = math.Max(p, math.Abs(float64(s)))
	}
	return p
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		want float64
	}{
		{"empty", nil, 0},
		{"zeros", make([]float32, 128), 0},
		{"constant", []float32{0.5, -0.5, 0.5, -0.5}, 0.5},
		{"mixed", []float32{1, 0, 0, 0}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RMS(tt.in); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RMS = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestRMSSine(t *testing.T) {
	got := RMS(genTone(441, 0.5, testRate, 2))
	want := 0.5 / math.Sqrt2
	if math.Abs(got-want) > 1e-3 {
		t.Errorf("RMS = %f, want %f", got, want)
	}
}

func TestDBConversions(t *testing.T) {
	if got := DBToLinear(0); got != 1 {
		t.Errorf("DBToLinear(0) = %f", got)
	}
	if got := DBToLinear(-20); math.Abs(got-0.1) > 1e-12 {
		t.Errorf("DBToLinear(-20) = %f", got)
	}
	if got := LinearToDB(DBToLinear(-16)); math.Abs(got+16) > 1e-9 {
		t.Errorf("round trip = %f", got)
	}
}

func TestHighPassRemovesDC(t *testing.T) {
	buf := make([]float32, testRate)
	for i := range buf {
		buf[i] = 0.5
	}
	HighPass{CutoffHz: 20}.Process(buf, 1, testRate)
	tail := buf[len(buf)-1000:]
	if p := peak(tail); p > 1e-3 {
		t.Errorf("DC not removed, tail peak %f", p)
	}
}

func TestHighPassPassesAudioBand(t *testing.T) {
	buf := genTone(1000, 0.5, testRate/2, 1)
	HighPass{CutoffHz: 20}.Process(buf, 1, testRate)
	if p := peak(buf[len(buf)/2:]); math.Abs(p-0.5) > 0.01 {
		t.Errorf("1 kHz peak after high-pass = %f, want ~0.5", p)
	}
}

func TestCompressorReducesLoudSignal(t *testing.T) {
	loud := genTone(440, 0.9, testRate/2, 2)
	Compressor{ThresholdDB: -16, Ratio: 4, AttackMs: 1, ReleaseMs: 100}.Process(loud, 2, testRate)
	if p := peak(loud[len(loud)/2:]); p >= 0.9 {
		t.Errorf("compressor did not reduce peak: %f", p)
	}

	quiet := genTone(440, 0.05, testRate/2, 2)
	orig := slices.Clone(quiet)
	Compressor{ThresholdDB: -16, Ratio: 4, AttackMs: 1, ReleaseMs: 100}.Process(quiet, 2, testRate)
	if !slices.Equal(quiet, orig) {
		t.Error("compressor altered a signal below threshold")
	}
}

func TestGain(t *testing.T) {
	buf := []float32{0.1, -0.2}
	Gain{DB: 6}.Process(buf, 1, testRate)
	k := DBToLinear(6)
	if math.Abs(float64(buf[0])-0.1*k) > 1e-6 || math.Abs(float64(buf[1])+0.2*k) > 1e-6 {
		t.Errorf("gain result %v", buf)
	}
}

func TestLimiterCeiling(t *testing.T) {
	buf := genTone(440, 1.5, testRate/4, 2)
	Limiter{ThresholdDB: -1, ReleaseMs: 100}.Process(buf, 2, testRate)
	ceiling := DBToLinear(-1)
	if p := peak(buf); p > ceiling+1e-6 {
		t.Errorf("limiter peak %f above ceiling %f", p, ceiling)
	}
}

func TestChainOrderAndCeiling(t *testing.T) {
	c, err := NewChain(DefaultParams(), testRate)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, s := range c.Stages() {
		names = append(names, s.Name())
	}
	want := []string{"highpass", "compressor", "gain", "limiter"}
	if !slices.Equal(names, want) {
		t.Fatalf("stages = %v, want %v", names, want)
	}

	out := c.Process(genTone(440, 1.0, testRate, 2), 2, testRate)
	if p := peak(out); p > DBToLinear(-1)+1e-6 {
		t.Errorf("chain output peak %f above limiter ceiling", p)
	}
}

func TestChainDeterministicAndPure(t *testing.T) {
	c, err := NewChain(DefaultParams(), testRate)
	if err != nil {
		t.Fatal(err)
	}
	in := genTone(220, 0.7, testRate/2, 2)
	orig := slices.Clone(in)

	a := c.Process(in, 2, testRate)
	b := c.Process(in, 2, testRate)
	if !slices.Equal(a, b) {
		t.Error("two runs over the same input differ")
	}
	if !slices.Equal(in, orig) {
		t.Error("Process modified its input")
	}
}

func TestChainEmptyIsNoop(t *testing.T) {
	c, err := NewChain(DefaultParams(), testRate)
	if err != nil {
		t.Fatal(err)
	}
	if out := c.Process(nil, 2, testRate); out != nil {
		t.Errorf("expected nil, got %v", out)
	}
	empty := []float32{}
	if out := c.Process(empty, 2, testRate); len(out) != 0 {
		t.Errorf("expected empty, got %v", out)
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero cutoff", func(p *Params) { p.HighPassHz = 0 }},
		{"cutoff above nyquist", func(p *Params) { p.HighPassHz = 30000 }},
		{"positive comp threshold", func(p *Params) { p.CompThresholdDB = 3 }},
		{"ratio below one", func(p *Params) { p.CompRatio = 0.5 }},
		{"nan gain", func(p *Params) { p.GainDB = math.NaN() }},
		{"positive limiter", func(p *Params) { p.LimiterThresholdDB = 1 }},
		{"negative release", func(p *Params) { p.LimiterReleaseMs = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			if _, err := NewChain(p, testRate); !errors.Is(err, ErrInvalidParams) {
				t.Errorf("err = %v, want ErrInvalidParams", err)
			}
		})
	}
	if err := DefaultParams().Validate(testRate); err != nil {
		t.Errorf("defaults rejected: %v", err)
	}
}
