package dsp

import "math"

// HighPass is a second-order Butterworth high-pass filter (RBJ biquad,
// Q = 1/sqrt(2)), run independently on each channel.
type HighPass struct {
	CutoffHz float64
}

func (HighPass) Name() string { return "highpass" }

func (h HighPass) Process(buf []float32, channels, sampleRate int) {
	w0 := 2 * math.Pi * h.CutoffHz / float64(sampleRate)
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / math.Sqrt2 // sin(w0) / 2Q

	a0 := 1 + alpha
	b0 := (1 + cosw) / 2 / a0
	b1 := -(1 + cosw) / a0
	b2 := b0
	a1 := -2 * cosw / a0
	a2 := (1 - alpha) / a0

	for ch := 0; ch < channels; ch++ {
		var x1, x2, y1, y2 float64
		for i := ch; i < len(buf); i += channels {
			x := float64(buf[i])
			y := b0*x + b1*x1 + b2*x2 - a1*y1 - a2*y2
			x2, x1 = x1, x
			y2, y1 = y1, y
			buf[i] = float32(y)
		}
	}
}

// Compressor reduces gain above ThresholdDB by Ratio. Detection is a peak
// envelope linked across channels.
type Compressor struct {
	ThresholdDB float64
	Ratio       float64
	AttackMs    float64
	ReleaseMs   float64
}

func (Compressor) Name() string { return "compressor" }

func (c Compressor) Process(buf []float32, channels, sampleRate int) {
	if c.Ratio <= 1 {
		return
	}
	attack := timeCoeff(c.AttackMs, sampleRate)
	release := timeCoeff(c.ReleaseMs, sampleRate)
	slope := 1 - 1/c.Ratio

	var env float64
	for f := 0; f+channels <= len(buf); f += channels {
		peak := framePeak(buf[f : f+channels])
		if peak > env {
			env = attack*env + (1-attack)*peak
		} else {
			env = release*env + (1-release)*peak
		}
		if env <= 0 {
			continue
		}
		over := LinearToDB(env) - c.ThresholdDB
		if over <= 0 {
			continue
		}
		g := float32(DBToLinear(-over * slope))
		for i := f; i < f+channels; i++ {
			buf[i] *= g
		}
	}
}

// Gain applies a uniform boost or cut in dB.
type Gain struct {
	DB float64
}

func (Gain) Name() string { return "gain" }

func (g Gain) Process(buf []float32, _, _ int) {
	if g.DB == 0 {
		return
	}
	k := float32(DBToLinear(g.DB))
	for i := range buf {
		buf[i] *= k
	}
}

// Limiter keeps every sample at or below ThresholdDB. Gain reduction is
// applied instantly and recovers over ReleaseMs; a final clip catches what
// the envelope lets through.
type Limiter struct {
	ThresholdDB float64
	ReleaseMs   float64
}

func (Limiter) Name() string { return "limiter" }

func (l Limiter) Process(buf []float32, channels, sampleRate int) {
	ceiling := DBToLinear(l.ThresholdDB)
	release := timeCoeff(l.ReleaseMs, sampleRate)
	c32 := float32(ceiling)

	gain := 1.0
	for f := 0; f+channels <= len(buf); f += channels {
		peak := framePeak(buf[f : f+channels])
		target := 1.0
		if peak > ceiling {
			target = ceiling / peak
		}
		if target < gain {
			gain = target
		} else {
			gain = release*gain + (1-release)*target
		}
		g := float32(gain)
		for i := f; i < f+channels; i++ {
			v := buf[i] * g
			if v > c32 {
				v = c32
			} else if v < -c32 {
				v = -c32
			}
			buf[i] = v
		}
	}
}

func framePeak(frame []float32) float64 {
	var peak float64
	for _, s := range frame {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	return peak
}
