// Package recorder drives the capture loop: read a chunk, measure it, let the
// segmenter decide, and hand closed segments through the effects chain to a
// sink. Everything happens on the caller's goroutine, one segment at a time.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"loopcap/audio"
	"loopcap/config"
	"loopcap/dsp"
	"loopcap/log"
	"loopcap/segment"
	"loopcap/sink"
)

var (
	ErrCaptureRead = errors.New("capture read failed")
	ErrSinkWrite   = errors.New("sink write failed")
)

// CaptureError aborts a run. Audio buffered before the failure has already
// been flushed when it is returned.
type CaptureError struct {
	Offset time.Duration
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture read at %s: %v", e.Offset, e.Err)
}

func (e *CaptureError) Unwrap() []error { return []error{ErrCaptureRead, e.Err} }

// SinkError reports a segment that could not be persisted. It does not stop
// the run.
type SinkError struct {
	Seq int
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("segment %d: %v", e.Seq, e.Err)
}

func (e *SinkError) Unwrap() []error { return []error{ErrSinkWrite, e.Err} }

// Source yields fixed-length chunks. ReadChunk returns io.EOF when the source
// is exhausted and the context error when cancelled.
type Source interface {
	ReadChunk(ctx context.Context) (audio.Chunk, error)
}

type overrunCounter interface {
	Overruns() int64
}

// Reporter receives progress. Calls are made from the capture loop and must
// not block.
type Reporter interface {
	Progress(level float64, buffered time.Duration)
	SegmentWritten(res sink.Result)
	SegmentFailed(err *SinkError)
}

type Config struct {
	Segmentation segment.Config

	// Chain is applied to every closed segment. Nil writes audio untouched.
	Chain    *dsp.Chain
	Reporter Reporter

	// MaxDuration ends the run once this much stream time has been read.
	// Zero means no limit.
	MaxDuration time.Duration
}

type Summary struct {
	// Segments counts closed segments handed to the sink, failed or not.
	Segments int
	Written  int
	Failed   int
	// Duration is the audio persisted by successful writes.
	Duration time.Duration
	Chunks   int
	Overruns int64
	Results  []sink.Result
	Errors   []error
}

type loop struct {
	cfg     Config
	sink    sink.Sink
	seg     *segment.Segmenter
	summary Summary
	seq     int
	pos     time.Duration // stream time after the last chunk read
}

// Run blocks until ctx is cancelled, the source is exhausted, MaxDuration is
// reached or a read fails. Any buffered signal is flushed before returning.
// Only a read failure returns an error, as a *CaptureError. An invalid
// segmentation config is rejected with config.ErrInvalid before reading.
func Run(ctx context.Context, src Source, cfg Config, s sink.Sink) (Summary, error) {
	if cfg.MaxDuration < 0 {
		return Summary{}, fmt.Errorf("%w: max duration %s must not be negative", config.ErrInvalid, cfg.MaxDuration)
	}
	seg, err := segment.New(cfg.Segmentation)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	if cfg.Reporter == nil {
		cfg.Reporter = nopReporter{}
	}
	l := &loop{cfg: cfg, sink: s, seg: seg}

	var reported int64
	for {
		if ctx.Err() != nil {
			l.finish(ctx)
			break
		}

		chunk, err := src.ReadChunk(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				l.finish(ctx)
				break
			}
			l.finish(ctx)
			l.summary.Overruns = overruns(src)
			return l.summary, &CaptureError{Offset: l.pos, Err: err}
		}
		l.summary.Chunks++
		l.pos = chunk.Offset + chunk.Duration()

		level := dsp.RMS(chunk.Samples)
		if closed, ok := l.seg.Push(chunk, level); ok {
			l.flush(ctx, closed)
		}
		cfg.Reporter.Progress(level, l.seg.Buffered())

		if n := overruns(src); n > reported {
			log.CaptureOverrun(n - reported)
			reported = n
		}

		if cfg.MaxDuration > 0 && l.pos >= cfg.MaxDuration {
			l.finish(ctx)
			break
		}
	}

	l.summary.Overruns = overruns(src)
	return l.summary, nil
}

// finish flushes whatever signal is buffered.
func (l *loop) finish(ctx context.Context) {
	if closed, ok := l.seg.Finish(); ok {
		l.flush(ctx, closed)
	}
}

// flush runs the chain over a closed segment and writes it. Cancellation
// never interrupts a write that has started.
func (l *loop) flush(ctx context.Context, chunks []audio.Chunk) {
	ctx = context.WithoutCancel(ctx)
	l.seq++
	first := chunks[0]
	samples := segment.Join(chunks)

	start := time.Now()
	if l.cfg.Chain != nil {
		samples = l.cfg.Chain.Process(samples, first.Channels, first.SampleRate)
	}
	effectsTime := time.Since(start)

	l.summary.Segments++
	seg := sink.Segment{
		Seq:        l.seq,
		Samples:    samples,
		SampleRate: first.SampleRate,
		Channels:   first.Channels,
	}

	writeStart := time.Now()
	res, err := l.sink.Write(ctx, seg)
	if err != nil {
		serr := &SinkError{Seq: l.seq, Err: err}
		l.summary.Failed++
		l.summary.Errors = append(l.summary.Errors, serr)
		log.SegmentFailed(l.seq, err)
		l.cfg.Reporter.SegmentFailed(serr)
		return
	}

	l.summary.Written++
	l.summary.Duration += res.Duration
	l.summary.Results = append(l.summary.Results, res)
	log.SegmentWritten(log.SegmentMetrics{
		Seq:          res.Seq,
		Path:         res.Path,
		Format:       res.Format,
		AudioS:       res.Duration.Seconds(),
		Bytes:        res.Bytes,
		Chunks:       len(chunks),
		EffectsMs:    float64(effectsTime.Microseconds()) / 1000,
		EncodeTimeMs: float64(res.EncodeTime.Microseconds()) / 1000,
		WriteTimeMs:  float64(time.Since(writeStart).Microseconds()) / 1000,
	})
	l.cfg.Reporter.SegmentWritten(res)
}

func overruns(src Source) int64 {
	if oc, ok := src.(overrunCounter); ok {
		return oc.Overruns()
	}
	return 0
}

type nopReporter struct{}

func (nopReporter) Progress(float64, time.Duration) {}
func (nopReporter) SegmentWritten(sink.Result)      {}
func (nopReporter) SegmentFailed(*SinkError)        {}
