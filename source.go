package main

import (
	"fmt"
	"path/filepath"

	"loopcap/audio"
	"loopcap/config"
)

// audioContext returns the platform backend, or a replay context when input
// names a WAV file. Replay overrides the configured format with the file's
// and reports whether the stream should apply backpressure instead of
// dropping chunks.
func audioContext(cfg *config.Config, input string, realtime bool) (audio.Context, bool, error) {
	if input == "" {
		ctx, err := audio.NewContext()
		if err != nil {
			return nil, false, fmt.Errorf("initializing audio: %w", err)
		}
		return ctx, false, nil
	}

	fake, err := audio.NewFakeContext(input, realtime)
	if err != nil {
		return nil, false, err
	}
	format := fake.Format()
	cfg.SampleRate = int(format.SampleRate)
	cfg.Channels = int(format.Channels)
	cfg.Device = ""
	return fake, !realtime, nil
}

type source struct {
	stream  *audio.Stream
	capture audio.CaptureDevice
	name    string
}

func openSource(ctx audio.Context, cfg config.Config, lossless bool) (*source, error) {
	dev, err := audio.FindDevice(ctx, cfg.Device)
	if err != nil {
		return nil, err
	}

	captureConfig := audio.CaptureConfig{
		SampleRate: uint32(cfg.SampleRate),
		Channels:   uint32(cfg.Channels),
	}
	capture, err := ctx.NewCapture(dev, captureConfig)
	if err != nil {
		return nil, fmt.Errorf("initializing capture device: %w", err)
	}

	stream, err := audio.OpenStream(capture, captureConfig, audio.StreamConfig{
		ChunkDuration: cfg.Chunk,
		Lossless:      lossless,
	})
	if err != nil {
		capture.Close()
		return nil, err
	}

	name := capture.DeviceName()
	if _, ok := ctx.(*audio.FakeContext); ok {
		name = "replay " + filepath.Base(name)
	}
	return &source{stream: stream, capture: capture, name: name}, nil
}

func (s *source) Close() {
	s.stream.Close()
	s.capture.Close()
}
