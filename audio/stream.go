package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const defaultQueueChunks = 64

// StreamConfig controls how callback data is cut into chunks.
type StreamConfig struct {
	ChunkDuration time.Duration
	// QueueChunks bounds the number of finished chunks waiting to be read.
	QueueChunks int
	// Lossless makes the device callback wait for queue space instead of
	// dropping the chunk. Only meant for non real-time sources.
	Lossless bool
}

// Stream turns a callback-driven CaptureDevice into a blocking reader of
// fixed-length chunks.
type Stream struct {
	dev         CaptureDevice
	sampleRate  int
	channels    int
	chunkFrames int
	lossless    bool

	mu      sync.Mutex
	pending []float32
	emitted int64 // frames handed to the queue (or dropped)
	ended   bool

	ch       chan Chunk
	done     chan struct{}
	doneOnce sync.Once
	overruns atomic.Int64
}

// audioDoner is implemented by sources that have a natural end.
type audioDoner interface {
	AudioDone() <-chan struct{}
}

// OpenStream installs the chunking callback and starts the device.
func OpenStream(dev CaptureDevice, config CaptureConfig, sc StreamConfig) (*Stream, error) {
	if config.SampleRate == 0 || config.Channels == 0 {
		return nil, fmt.Errorf("invalid capture config: %d Hz, %d channels", config.SampleRate, config.Channels)
	}
	frames := int(sc.ChunkDuration * time.Duration(config.SampleRate) / time.Second)
	if frames <= 0 {
		return nil, fmt.Errorf("chunk duration %s too short for %d Hz", sc.ChunkDuration, config.SampleRate)
	}
	queue := sc.QueueChunks
	if queue <= 0 {
		queue = defaultQueueChunks
	}

	s := &Stream{
		dev:         dev,
		sampleRate:  int(config.SampleRate),
		channels:    int(config.Channels),
		chunkFrames: frames,
		lossless:    sc.Lossless,
		ch:          make(chan Chunk, queue),
		done:        make(chan struct{}),
	}

	dev.SetCallback(s.feed)
	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		return nil, fmt.Errorf("starting capture: %w", err)
	}

	if d, ok := dev.(audioDoner); ok {
		go func() {
			select {
			case <-d.AudioDone():
				s.finish()
			case <-s.done:
			}
		}()
	}
	return s, nil
}

func (s *Stream) SampleRate() int  { return s.sampleRate }
func (s *Stream) Channels() int    { return s.channels }
func (s *Stream) ChunkFrames() int { return s.chunkFrames }

// Overruns reports how many chunks were dropped because the queue was full.
func (s *Stream) Overruns() int64 { return s.overruns.Load() }

func (s *Stream) feed(samples []float32, _ uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.pending = append(s.pending, samples...)
	size := s.chunkFrames * s.channels
	for len(s.pending) >= size {
		buf := make([]float32, size)
		copy(buf, s.pending[:size])
		s.pending = s.pending[size:]
		s.push(buf)
	}
	if len(s.pending) == 0 {
		s.pending = s.pending[:0:0]
	}
}

// push must be called with s.mu held.
func (s *Stream) push(buf []float32) {
	c := Chunk{
		Samples:    buf,
		Channels:   s.channels,
		SampleRate: s.sampleRate,
		Offset:     FramesToDuration(int(s.emitted), s.sampleRate),
	}
	s.emitted += int64(s.chunkFrames)

	if s.lossless {
		select {
		case s.ch <- c:
		case <-s.done:
		}
		return
	}
	select {
	case s.ch <- c:
	default:
		s.overruns.Add(1)
	}
}

// finish pads the trailing partial chunk and marks the stream exhausted.
func (s *Stream) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if len(s.pending) > 0 {
		buf := make([]float32, s.chunkFrames*s.channels)
		copy(buf, s.pending)
		s.pending = nil
		s.push(buf)
	}
	s.ended = true
	close(s.ch)
}

// ReadChunk blocks until the next chunk is available. It returns io.EOF once
// a finite source is exhausted and ctx.Err() on cancellation.
func (s *Stream) ReadChunk(ctx context.Context) (Chunk, error) {
	select {
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	case c, ok := <-s.ch:
		if !ok {
			return Chunk{}, io.EOF
		}
		return c, nil
	case <-s.done:
		return Chunk{}, ErrStreamClosed
	}
}

var ErrStreamClosed = errors.New("stream closed")

// Close stops the device and releases any blocked callback.
func (s *Stream) Close() {
	s.doneOnce.Do(func() { close(s.done) })
	s.dev.Stop()
	s.dev.ClearCallback()
}
