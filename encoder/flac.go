package encoder

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

type FlacEncoder struct {
	buf         bytes.Buffer
	enc         *flac.Encoder
	sampleRate  int
	channels    int
	pending     []float32
	frameNum    uint64
	totalFrames uint64
	encodeTime  time.Duration
	mu          sync.Mutex
}

func NewFlac(sampleRate, channels int) (*FlacEncoder, error) {
	if channels < 1 || channels > 8 {
		return nil, fmt.Errorf("flac: unsupported channel count %d", channels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("flac: invalid sample rate %d", sampleRate)
	}
	e := &FlacEncoder{sampleRate: sampleRate, channels: channels}
	info := &meta.StreamInfo{
		BlockSizeMin:  BlockSize,
		BlockSizeMax:  BlockSize,
		SampleRate:    uint32(sampleRate),
		NChannels:     uint8(channels),
		BitsPerSample: BitsPerSample,
		NSamples:      0,
	}
	enc, err := flac.NewEncoder(&e.buf, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	e.enc = enc
	return e, nil
}

// EncodeBlock buffers frames and writes every complete BlockSize frame.
func (e *FlacEncoder) EncodeBlock(block []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(block)%e.channels != 0 {
		return fmt.Errorf("flac: block of %d samples is not a multiple of %d channels", len(block), e.channels)
	}
	e.pending = append(e.pending, block...)
	size := BlockSize * e.channels
	for len(e.pending) >= size {
		if err := e.writeFrame(e.pending[:size]); err != nil {
			return err
		}
		e.pending = e.pending[size:]
	}
	return nil
}

func (e *FlacEncoder) writeFrame(interleaved []float32) error {
	n := len(interleaved) / e.channels
	subframes := make([]*frame.Subframe, e.channels)
	for ch := range subframes {
		samples := make([]int32, n)
		for i := range samples {
			samples[i] = ToPCM24(interleaved[i*e.channels+ch])
		}
		subframes[ch] = &frame.Subframe{
			SubHeader: frame.SubHeader{
				Pred: frame.PredVerbatim,
			},
			Samples:  samples,
			NSamples: n,
		}
	}

	f := &frame.Frame{
		Header: frame.Header{
			HasFixedBlockSize: true,
			BlockSize:         uint16(n),
			SampleRate:        uint32(e.sampleRate),
			Channels:          frame.Channels(e.channels - 1),
			BitsPerSample:     BitsPerSample,
			Num:               e.frameNum,
		},
		Subframes: subframes,
	}

	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	e.frameNum++
	e.totalFrames += uint64(n)
	return nil
}

// Close writes the final short frame, if any, and finishes the stream.
func (e *FlacEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending) > 0 {
		if err := e.writeFrame(e.pending); err != nil {
			return err
		}
		e.pending = nil
	}
	return e.enc.Close()
}

func (e *FlacEncoder) Bytes() []byte {
	return e.buf.Bytes()
}

func (e *FlacEncoder) TotalFrames() uint64 {
	return e.totalFrames
}

func (e *FlacEncoder) Format() string { return "flac" }
func (e *FlacEncoder) Ext() string    { return ".flac" }

func (e *FlacEncoder) AddEncodeTime(d time.Duration) {
	e.mu.Lock()
	e.encodeTime += d
	e.mu.Unlock()
}

func (e *FlacEncoder) EncodeTime() time.Duration {
	return e.encodeTime
}
