package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/term"

	"loopcap/audio"
	"loopcap/config"
	"loopcap/doctor"
	"loopcap/dsp"
	"loopcap/log"
	"loopcap/recorder"
	"loopcap/shutdown"
	"loopcap/sink"
)

var version = "dev"

var stderr io.Writer = os.Stderr

func main() {
	os.Exit(run(os.Args[1:]))
}

type flags struct {
	fs *flag.FlagSet

	config   *string
	device   *string
	list     *bool
	out      *string
	prefix   *string
	format   *string
	rate     *int
	channels *int
	chunk    *time.Duration
	duration *time.Duration

	threshold     *float64
	silence       *time.Duration
	highpass      *float64
	compThreshold *float64
	compRatio     *float64
	gain          *float64
	limit         *float64

	input    *string
	realtime *bool
	tui      *bool
	logPath  *string
	doctor   *bool
	version  *bool
}

func newFlags() *flags {
	d := config.Default()
	fs := flag.NewFlagSet("loopcap", flag.ContinueOnError)
	return &flags{
		fs:       fs,
		config:   fs.String("config", "", "YAML config file (flags override its values)"),
		device:   fs.String("device", d.Device, "Capture the named output device (default: system default output)"),
		list:     fs.Bool("list", false, "List capturable output devices and exit"),
		out:      fs.String("out", d.Output.Dir, "Directory for segment files"),
		prefix:   fs.String("prefix", d.Output.Prefix, "Segment file name prefix"),
		format:   fs.String("format", d.Output.Format, "Segment format: wav or flac"),
		rate:     fs.Int("rate", d.SampleRate, "Capture sample rate in Hz"),
		channels: fs.Int("channels", d.Channels, "Capture channel count"),
		chunk:    fs.Duration("chunk", d.Chunk, "Analysis chunk length"),
		duration: fs.Duration("duration", d.MaxDuration, "Stop after this much audio (0 records until interrupted)"),

		threshold:     fs.Float64("threshold", d.Silence.Threshold, "RMS level below which a chunk is silent (0-1)"),
		silence:       fs.Duration("silence", d.Silence.Duration, "Continuous silence that closes a segment"),
		highpass:      fs.Float64("highpass", d.Effects.HighPassHz, "High-pass cutoff in Hz"),
		compThreshold: fs.Float64("comp-threshold", d.Effects.CompThresholdDB, "Compressor threshold in dBFS"),
		compRatio:     fs.Float64("comp-ratio", d.Effects.CompRatio, "Compressor ratio"),
		gain:          fs.Float64("gain", d.Effects.GainDB, "Make-up gain in dB"),
		limit:         fs.Float64("limit", d.Effects.LimiterThresholdDB, "Limiter ceiling in dBFS"),

		input:    fs.String("input", "", "Replay a WAV file instead of capturing"),
		realtime: fs.Bool("realtime", false, "Pace -input replay at its sample rate"),
		tui:      fs.Bool("tui", true, "Run with terminal UI when stdout is a terminal"),
		logPath:  fs.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)"),
		doctor:   fs.Bool("doctor", false, "Run system diagnostics and exit"),
		version:  fs.Bool("version", false, "Print version and exit"),
	}
}

// resolveConfig loads the config file, if any, and applies flags that were
// set explicitly on the command line.
func (f *flags) resolveConfig() (config.Config, error) {
	cfg := config.Default()
	if *f.config != "" {
		var err error
		if cfg, err = config.Load(*f.config); err != nil {
			return cfg, err
		}
	}
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "device":
			cfg.Device = *f.device
		case "out":
			cfg.Output.Dir = *f.out
		case "prefix":
			cfg.Output.Prefix = *f.prefix
		case "format":
			cfg.Output.Format = *f.format
		case "rate":
			cfg.SampleRate = *f.rate
		case "channels":
			cfg.Channels = *f.channels
		case "chunk":
			cfg.Chunk = *f.chunk
		case "duration":
			cfg.MaxDuration = *f.duration
		case "threshold":
			cfg.Silence.Threshold = *f.threshold
		case "silence":
			cfg.Silence.Duration = *f.silence
		case "highpass":
			cfg.Effects.HighPassHz = *f.highpass
		case "comp-threshold":
			cfg.Effects.CompThresholdDB = *f.compThreshold
		case "comp-ratio":
			cfg.Effects.CompRatio = *f.compRatio
		case "gain":
			cfg.Effects.GainDB = *f.gain
		case "limit":
			cfg.Effects.LimiterThresholdDB = *f.limit
		}
	})
	return cfg, nil
}

func run(args []string) int {
	f := newFlags()
	if err := f.fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *f.version {
		fmt.Printf("loopcap %s\n", version)
		return 0
	}

	cfg, err := f.resolveConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(*f.logPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(stderr, "Warning: could not create log directory: %v\n", err)
	}
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	if crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *f.doctor {
		return doctor.Run(doctor.Options{
			Device:     cfg.Device,
			OutputDir:  cfg.Output.Dir,
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
		})
	}

	if *f.list {
		return listDevices()
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	ctx, cancel := shutdown.Context(context.Background())
	defer cancel()

	actx, lossless, err := audioContext(&cfg, *f.input, *f.realtime)
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer actx.Close()

	// Replay takes its format from the input file.
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	src, err := openSource(actx, cfg, lossless)
	if err != nil {
		log.Errorf("capture init error: %v", err)
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer src.Close()

	chain, err := dsp.NewChain(cfg.DSP(), cfg.SampleRate)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	out, err := sink.NewFileSink(cfg.Output.Dir, cfg.Output.Prefix, cfg.Output.Format)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	log.SessionStart(log.Session{
		Device:       src.name,
		Format:       cfg.Output.Format,
		SampleRate:   src.stream.SampleRate(),
		Channels:     src.stream.Channels(),
		ChunkMs:      float64(cfg.Chunk.Microseconds()) / 1000,
		Threshold:    cfg.Silence.Threshold,
		SilenceS:     cfg.Silence.Duration.Seconds(),
		MaxDurationS: cfg.MaxDuration.Seconds(),
		OutputDir:    cfg.Output.Dir,
		EffectsChain: describeChain(chain),
	})

	rcfg := recorder.Config{Segmentation: cfg.Segmentation(), Chain: chain, MaxDuration: cfg.MaxDuration}
	header := fmt.Sprintf("%s | %d Hz %dch | %s -> %s", src.name, src.stream.SampleRate(), src.stream.Channels(), strings.ToUpper(cfg.Output.Format), cfg.Output.Dir)
	if cfg.MaxDuration > 0 {
		header += fmt.Sprintf(" | stop after %s", cfg.MaxDuration)
	}

	var summary recorder.Summary
	var runErr error
	if *f.tui && term.IsTerminal(int(os.Stdout.Fd())) {
		p := NewTUIProgram(newTUIModel(header, cfg.Silence.Threshold, cancel))
		rcfg.Reporter = tuiReporter{p: p}
		done := make(chan struct{})
		go func() {
			defer close(done)
			summary, runErr = recorder.Run(ctx, src.stream, rcfg, out)
			p.Send(doneMsg{})
		}()
		if _, err := p.Run(); err != nil {
			log.Errorf("TUI error: %v", err)
		}
		cancel()
		<-done
	} else {
		fmt.Fprintf(stderr, "loopcap %s: capturing %s (ctrl+c to stop)\n", version, header)
		rcfg.Reporter = plainReporter{w: os.Stdout}
		summary, runErr = recorder.Run(ctx, src.stream, rcfg, out)
	}

	log.SessionEnd(log.Totals{
		Segments: summary.Segments,
		Written:  summary.Written,
		Failed:   summary.Failed,
		AudioS:   summary.Duration.Seconds(),
		Overruns: summary.Overruns,
	})
	printSummary(os.Stdout, summary)

	if runErr != nil {
		log.Errorf("capture aborted: %v", runErr)
		fmt.Fprintf(stderr, "Error: %v\n", runErr)
		return 1
	}
	return 0
}

func describeChain(c *dsp.Chain) string {
	names := make([]string, 0, len(c.Stages()))
	for _, s := range c.Stages() {
		names = append(names, s.Name())
	}
	return strings.Join(names, ">")
}

func listDevices() int {
	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
		return 1
	}
	defer ctx.Close()

	devices, err := ctx.Devices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing devices: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(os.Stderr, audio.ErrDeviceUnavailable)
		return 1
	}
	for _, d := range devices {
		fmt.Println(d.Name)
	}
	return 0
}
