package doctor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/mewkiz/flac"

	"loopcap/audio"
	"loopcap/dsp"
	"loopcap/encoder"
)

// Options selects what the checks exercise.
type Options struct {
	Device     string
	OutputDir  string
	SampleRate int
	Channels   int
	// Listen is how long to capture from the loopback source.
	Listen time.Duration
}

// Run executes the diagnostic checks against the platform audio backend and
// returns an exit code (0=all pass, 1=any fail).
func Run(opts Options) int {
	defer setupInterruptHandler()()

	fmt.Println("loopcap doctor - system diagnostics")
	fmt.Println("===================================")

	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Println()
		fmt.Println("[1/4] Audio backend")
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		fmt.Println()
		fmt.Println("Some checks failed. See details above.")
		return 1
	}
	defer ctx.Close()

	return RunChecks(os.Stdout, ctx, opts)
}

// RunChecks runs every check against ctx, writing a report to w.
func RunChecks(w io.Writer, ctx audio.Context, opts Options) int {
	if opts.Listen <= 0 {
		opts.Listen = 2 * time.Second
	}

	allPass := true
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[1/4] Audio backend")
	fmt.Fprintln(w, "  PASS: connected")

	dev, ok := checkDevice(w, ctx, opts.Device)
	if !ok {
		allPass = false
	}
	if ok && !checkCapture(w, ctx, dev, opts) {
		allPass = false
	}
	if !checkOutputDir(w, opts.OutputDir) {
		allPass = false
	}
	if !checkEncoders(w, opts.SampleRate, opts.Channels) {
		allPass = false
	}

	fmt.Fprintln(w)
	if allPass {
		fmt.Fprintln(w, "All checks passed!")
		return 0
	}
	fmt.Fprintln(w, "Some checks failed. See details above.")
	return 1
}

func checkDevice(w io.Writer, ctx audio.Context, name string) (*audio.DeviceInfo, bool) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[2/4] Loopback source")

	if devices, err := ctx.Devices(); err == nil {
		for _, d := range devices {
			fmt.Fprintf(w, "  found: %s\n", d.Name)
		}
	}
	dev, err := audio.FindDevice(ctx, name)
	if err != nil {
		fmt.Fprintf(w, "  FAIL: %v\n", err)
		return nil, false
	}
	if dev == nil {
		fmt.Fprintln(w, "  PASS: using system default output")
	} else {
		fmt.Fprintf(w, "  PASS: using %s\n", dev.Name)
	}
	return dev, true
}

func checkCapture(w io.Writer, ctx audio.Context, dev *audio.DeviceInfo, opts Options) bool {
	fmt.Fprintf(w, "  Capturing for %s...\n", opts.Listen)

	config := audio.CaptureConfig{SampleRate: uint32(opts.SampleRate), Channels: uint32(opts.Channels)}
	capture, err := ctx.NewCapture(dev, config)
	if err != nil {
		fmt.Fprintf(w, "  FAIL: cannot open capture: %v\n", err)
		return false
	}
	defer capture.Close()

	stream, err := audio.OpenStream(capture, config, audio.StreamConfig{ChunkDuration: 100 * time.Millisecond})
	if err != nil {
		fmt.Fprintf(w, "  FAIL: %v\n", err)
		return false
	}
	defer stream.Close()

	rctx, cancel := context.WithTimeout(context.Background(), opts.Listen)
	defer cancel()

	var chunks int
	var peak float64
	for {
		c, err := stream.ReadChunk(rctx)
		if err != nil {
			if errors.Is(err, io.EOF) || rctx.Err() != nil {
				break
			}
			fmt.Fprintf(w, "  FAIL: read error: %v\n", err)
			return false
		}
		chunks++
		peak = math.Max(peak, dsp.RMS(c.Samples))
	}

	if chunks == 0 {
		fmt.Fprintln(w, "  FAIL: no audio delivered by the capture device")
		return false
	}
	fmt.Fprintf(w, "  PASS: %d chunks, peak level %.4f (%.1f dBFS)\n", chunks, peak, dsp.LinearToDB(peak))
	if peak == 0 {
		fmt.Fprintln(w, "  note: nothing is playing; every chunk was digital silence")
	}
	if n := stream.Overruns(); n > 0 {
		fmt.Fprintf(w, "  note: %d chunks dropped\n", n)
	}
	return true
}

func checkOutputDir(w io.Writer, dir string) bool {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[3/4] Output directory")

	if err := os.MkdirAll(dir, 0755); err != nil {
		fmt.Fprintf(w, "  FAIL: %v\n", err)
		return false
	}
	f, err := os.CreateTemp(dir, ".loopcap-doctor-*")
	if err != nil {
		fmt.Fprintf(w, "  FAIL: %s not writable: %v\n", dir, err)
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	fmt.Fprintf(w, "  PASS: %s is writable\n", dir)
	return true
}

func checkEncoders(w io.Writer, sampleRate, channels int) bool {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[4/4] Encoders")

	frames := sampleRate / 10
	tone := make([]float32, frames*channels)
	for i := 0; i < frames; i++ {
		v := float32(0.5 * math.Sin(2*math.Pi*1000*float64(i)/float64(sampleRate)))
		for ch := 0; ch < channels; ch++ {
			tone[i*channels+ch] = v
		}
	}

	pass := true
	for _, format := range []string{"wav", "flac"} {
		got, err := roundTrip(format, tone, sampleRate, channels)
		switch {
		case err != nil:
			fmt.Fprintf(w, "  FAIL: %s: %v\n", format, err)
			pass = false
		case got != frames:
			fmt.Fprintf(w, "  FAIL: %s: decoded %d frames, want %d\n", format, got, frames)
			pass = false
		default:
			fmt.Fprintf(w, "  PASS: %s round trip (%d frames)\n", format, got)
		}
	}
	return pass
}

// roundTrip encodes samples and decodes them back, returning the frame count.
func roundTrip(format string, samples []float32, sampleRate, channels int) (int, error) {
	enc, err := encoder.New(format, sampleRate, channels)
	if err != nil {
		return 0, err
	}
	if err := enc.EncodeBlock(samples); err != nil {
		return 0, err
	}
	if err := enc.Close(); err != nil {
		return 0, err
	}

	switch format {
	case "wav":
		wav, err := audio.DecodeWAV(enc.Bytes())
		if err != nil {
			return 0, err
		}
		return len(wav.Samples) / wav.Channels, nil
	default:
		stream, err := flac.New(bytes.NewReader(enc.Bytes()))
		if err != nil {
			return 0, err
		}
		defer stream.Close()
		frames := 0
		for {
			f, err := stream.ParseNext()
			if err == io.EOF {
				return frames, nil
			}
			if err != nil {
				return 0, err
			}
			frames += int(f.Subframes[0].NSamples)
		}
	}
}
