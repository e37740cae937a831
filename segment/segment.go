// Package segment decides where one recording ends and the next begins.
//
// Only chunks at or above the silence threshold are kept. A silence run of at
// least MinSilence closes the open segment if it holds any audio; silence is
// never part of a segment, so short pauses inside a recording are cut out.
package segment

import (
	"errors"
	"fmt"
	"time"

	"loopcap/audio"
)

type State int

const (
	// Idle: no silence run active.
	Idle State = iota
	// InSilence: a silence run is active and the open segment is not yet closed.
	InSilence
	// Flushed: the silence run that closed the last segment is still going.
	Flushed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InSilence:
		return "in_silence"
	case Flushed:
		return "flushed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var ErrInvalidConfig = errors.New("invalid segmentation config")

type Config struct {
	// Threshold is the RMS level, as a fraction of full scale, below which a
	// chunk counts as silence.
	Threshold float64
	// MinSilence is the continuous silence needed to close a segment.
	MinSilence time.Duration
}

func (c Config) Validate() error {
	if !(c.Threshold > 0 && c.Threshold < 1) {
		return fmt.Errorf("%w: threshold %g not in (0, 1)", ErrInvalidConfig, c.Threshold)
	}
	if c.MinSilence <= 0 {
		return fmt.Errorf("%w: silence duration %s must be positive", ErrInvalidConfig, c.MinSilence)
	}
	return nil
}

// Segmenter owns the open segment buffer and the silence run. It is not safe
// for concurrent use.
type Segmenter struct {
	cfg      Config
	state    State
	runStart time.Duration
	buf      []audio.Chunk
	frames   int
	rate     int
}

func New(cfg Config) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Segmenter{cfg: cfg}, nil
}

func (s *Segmenter) State() State { return s.state }

// Buffered returns the audio held by the open segment.
func (s *Segmenter) Buffered() time.Duration {
	return audio.FramesToDuration(s.frames, s.rate)
}

// Len returns the number of chunks in the open segment.
func (s *Segmenter) Len() int { return len(s.buf) }

// Push feeds one chunk with its level. When the chunk completes a silence run
// long enough to end a non-empty segment, the closed segment is returned with
// ok set; ownership passes to the caller.
func (s *Segmenter) Push(c audio.Chunk, level float64) (closed []audio.Chunk, ok bool) {
	if level >= s.cfg.Threshold {
		s.state = Idle
		s.buf = append(s.buf, c)
		s.frames += c.Frames()
		s.rate = c.SampleRate
		return nil, false
	}

	switch s.state {
	case Idle:
		s.state = InSilence
		s.runStart = c.Offset
	case InSilence:
		if c.Offset-s.runStart >= s.cfg.MinSilence && len(s.buf) > 0 {
			s.state = Flushed
			return s.take(), true
		}
	case Flushed:
	}
	return nil, false
}

// Finish closes the open segment at end of stream, whatever the silence
// state. ok is false when nothing was buffered.
func (s *Segmenter) Finish() (closed []audio.Chunk, ok bool) {
	if len(s.buf) == 0 {
		return nil, false
	}
	return s.take(), true
}

func (s *Segmenter) take() []audio.Chunk {
	closed := s.buf
	s.buf = nil
	s.frames = 0
	return closed
}

// Join concatenates the interleaved samples of a closed segment.
func Join(chunks []audio.Chunk) []float32 {
	n := 0
	for _, c := range chunks {
		n += len(c.Samples)
	}
	out := make([]float32, 0, n)
	for _, c := range chunks {
		out = append(out, c.Samples...)
	}
	return out
}
