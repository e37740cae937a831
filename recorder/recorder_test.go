package recorder

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"loopcap/audio"
	"loopcap/config"
	"loopcap/dsp"
	"loopcap/segment"
	"loopcap/sink"
)

const (
	testRate     = 8000
	testChannels = 2
	chunkDur     = 500 * time.Millisecond
	chunkFrames  = testRate / 2
	toneAmp      = 0.5
	quietAmp     = 0.0005
)

var segCfg = segment.Config{Threshold: 0.003, MinSilence: time.Second}

// square returns d of a full-scale-alternating square wave whose RMS is amp.
func square(amp float32, d time.Duration) []float32 {
	frames := int(d * testRate / time.Second)
	buf := make([]float32, frames*testChannels)
	for i := 0; i < frames; i++ {
		v := amp
		if i%2 == 1 {
			v = -amp
		}
		buf[i*testChannels] = v
		buf[i*testChannels+1] = v
	}
	return buf
}

func concat(parts ...[]float32) []float32 {
	var out []float32
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// sliceSource serves pre-cut chunks, optionally failing or cancelling at a
// given chunk index.
type sliceSource struct {
	chunks   []audio.Chunk
	pos      int
	failAt   int
	failErr  error
	cancelAt int
	cancel   context.CancelFunc
}

func newSliceSource(samples []float32) *sliceSource {
	s := &sliceSource{failAt: -1, cancelAt: -1}
	size := chunkFrames * testChannels
	for i := 0; i+size <= len(samples); i += size {
		s.chunks = append(s.chunks, audio.Chunk{
			Samples:    samples[i : i+size],
			Channels:   testChannels,
			SampleRate: testRate,
			Offset:     audio.FramesToDuration(i/testChannels, testRate),
		})
	}
	return s
}

func (s *sliceSource) ReadChunk(ctx context.Context) (audio.Chunk, error) {
	if s.pos == s.cancelAt && s.cancel != nil {
		s.cancel()
	}
	if err := ctx.Err(); err != nil {
		return audio.Chunk{}, err
	}
	if s.pos == s.failAt {
		return audio.Chunk{}, s.failErr
	}
	if s.pos >= len(s.chunks) {
		return audio.Chunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

type memSink struct {
	t      *testing.T
	mu     sync.Mutex
	failOn map[int]bool
	calls  []int
	segs   []sink.Segment
}

func (m *memSink) Write(_ context.Context, seg sink.Segment) (sink.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(seg.Samples) == 0 {
		m.t.Errorf("sink called with empty segment %d", seg.Seq)
	}
	m.calls = append(m.calls, seg.Seq)
	if m.failOn[seg.Seq] {
		return sink.Result{}, errors.New("disk full")
	}
	m.segs = append(m.segs, seg)
	return sink.Result{Seq: seg.Seq, Duration: seg.Duration(), Bytes: int64(len(seg.Samples) * 3)}, nil
}

type recReporter struct {
	progress int
	written  []int
	failed   []int
}

func (r *recReporter) Progress(float64, time.Duration) { r.progress++ }
func (r *recReporter) SegmentWritten(res sink.Result)  { r.written = append(r.written, res.Seq) }
func (r *recReporter) SegmentFailed(err *SinkError)    { r.failed = append(r.failed, err.Seq) }

func TestToneSilenceToneProducesTwoSegments(t *testing.T) {
	src := newSliceSource(concat(
		square(toneAmp, 2*time.Second),
		square(quietAmp, 1500*time.Millisecond),
		square(toneAmp, 2*time.Second),
	))
	ms := &memSink{t: t}
	rep := &recReporter{}

	sum, err := Run(context.Background(), src, Config{Segmentation: segCfg, Reporter: rep}, ms)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Segments != 2 || sum.Written != 2 || len(ms.segs) != 2 {
		t.Fatalf("summary = %+v, sink got %d", sum, len(ms.segs))
	}
	for i, seg := range ms.segs {
		if seg.Seq != i+1 {
			t.Errorf("segment %d has seq %d", i, seg.Seq)
		}
		if seg.Duration() != 2*time.Second {
			t.Errorf("segment %d duration = %s, want 2s", i, seg.Duration())
		}
		for j, s := range seg.Samples {
			if math.Abs(float64(s)) != toneAmp {
				t.Fatalf("segment %d sample %d = %v: silence leaked into output", i, j, s)
			}
		}
	}
	if sum.Duration != 4*time.Second {
		t.Errorf("Duration = %s, want 4s", sum.Duration)
	}
	if sum.Chunks != 11 || rep.progress != 11 {
		t.Errorf("chunks = %d, progress calls = %d, want 11", sum.Chunks, rep.progress)
	}
	if len(rep.written) != 2 {
		t.Errorf("reporter saw %v", rep.written)
	}
}

func TestContinuousToneFlushesAtEnd(t *testing.T) {
	src := newSliceSource(square(toneAmp, 5*time.Second))
	ms := &memSink{t: t}

	sum, err := Run(context.Background(), src, Config{Segmentation: segCfg}, ms)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Segments != 1 || len(ms.segs) != 1 {
		t.Fatalf("segments = %d, want 1", sum.Segments)
	}
	if d := ms.segs[0].Duration(); d != 5*time.Second {
		t.Errorf("duration = %s, want 5s", d)
	}
}

func TestContinuousSilenceProducesNothing(t *testing.T) {
	src := newSliceSource(concat(square(quietAmp, 3*time.Second), square(0, 3*time.Second)))
	ms := &memSink{t: t}

	sum, err := Run(context.Background(), src, Config{Segmentation: segCfg}, ms)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Segments != 0 || len(ms.calls) != 0 {
		t.Errorf("segments = %d, sink calls = %v", sum.Segments, ms.calls)
	}
}

func TestSinkFailureIsIsolated(t *testing.T) {
	src := newSliceSource(concat(
		square(toneAmp, time.Second),
		square(0, 1500*time.Millisecond),
		square(toneAmp, time.Second),
	))
	ms := &memSink{t: t, failOn: map[int]bool{1: true}}
	rep := &recReporter{}

	sum, err := Run(context.Background(), src, Config{Segmentation: segCfg, Reporter: rep}, ms)
	if err != nil {
		t.Fatalf("sink failure aborted the run: %v", err)
	}
	if sum.Segments != 2 || sum.Written != 1 || sum.Failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(ms.calls) != 2 || ms.calls[0] != 1 || ms.calls[1] != 2 {
		t.Errorf("sink calls = %v, want [1 2]", ms.calls)
	}
	if len(sum.Errors) != 1 || !errors.Is(sum.Errors[0], ErrSinkWrite) {
		t.Errorf("errors = %v", sum.Errors)
	}
	var serr *SinkError
	if !errors.As(sum.Errors[0], &serr) || serr.Seq != 1 {
		t.Errorf("expected SinkError for seq 1, got %v", sum.Errors[0])
	}
	if len(rep.failed) != 1 || len(rep.written) != 1 || rep.written[0] != 2 {
		t.Errorf("reporter failed=%v written=%v", rep.failed, rep.written)
	}
}

func TestCaptureFailureFlushesThenAborts(t *testing.T) {
	src := newSliceSource(square(toneAmp, 3*time.Second))
	src.failAt = 3
	src.failErr = errors.New("device unplugged")
	ms := &memSink{t: t}

	sum, err := Run(context.Background(), src, Config{Segmentation: segCfg}, ms)
	if !errors.Is(err, ErrCaptureRead) {
		t.Fatalf("err = %v, want ErrCaptureRead", err)
	}
	var cerr *CaptureError
	if !errors.As(err, &cerr) || cerr.Offset != 1500*time.Millisecond {
		t.Errorf("capture error = %v", err)
	}
	if sum.Segments != 1 || len(ms.segs) != 1 || ms.segs[0].Duration() != 1500*time.Millisecond {
		t.Errorf("buffered audio not flushed: %+v", sum)
	}
}

func TestCancellationFlushesAndReturnsNil(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newSliceSource(square(toneAmp, 5*time.Second))
	src.cancelAt = 4
	src.cancel = cancel
	ms := &memSink{t: t}

	sum, err := Run(ctx, src, Config{Segmentation: segCfg}, ms)
	if err != nil {
		t.Fatalf("cancellation reported as error: %v", err)
	}
	if sum.Segments != 1 || ms.segs[0].Duration() != 2*time.Second {
		t.Errorf("final flush = %+v", sum)
	}
}

func TestChainAppliedToSegments(t *testing.T) {
	chain, err := dsp.NewChain(dsp.DefaultParams(), testRate)
	if err != nil {
		t.Fatal(err)
	}
	src := newSliceSource(square(0.9, 2*time.Second))
	ms := &memSink{t: t}

	if _, err := Run(context.Background(), src, Config{Segmentation: segCfg, Chain: chain}, ms); err != nil {
		t.Fatal(err)
	}
	ceiling := dsp.DBToLinear(-1)
	for _, s := range ms.segs[0].Samples {
		if math.Abs(float64(s)) > ceiling+1e-6 {
			t.Fatalf("sample %v above limiter ceiling", s)
		}
	}
}

func TestInvalidSegmentationRejected(t *testing.T) {
	_, err := Run(context.Background(), newSliceSource(nil), Config{Segmentation: segment.Config{Threshold: 2, MinSilence: time.Second}}, &memSink{t: t})
	if !errors.Is(err, segment.ErrInvalidConfig) || !errors.Is(err, config.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalidConfig wrapped in config.ErrInvalid", err)
	}
	_, err = Run(context.Background(), newSliceSource(nil), Config{Segmentation: segCfg, MaxDuration: -time.Second}, &memSink{t: t})
	if !errors.Is(err, config.ErrInvalid) {
		t.Errorf("negative max duration: err = %v, want config.ErrInvalid", err)
	}
}

func TestMaxDurationStopsAndFlushes(t *testing.T) {
	src := newSliceSource(square(toneAmp, 10*time.Second))
	ms := &memSink{t: t}

	sum, err := Run(context.Background(), src, Config{Segmentation: segCfg, MaxDuration: 2 * time.Second}, ms)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Chunks != 4 {
		t.Errorf("read %d chunks, want 4", sum.Chunks)
	}
	if sum.Segments != 1 || len(ms.segs) != 1 {
		t.Fatalf("segments = %d, want 1", sum.Segments)
	}
	if d := ms.segs[0].Duration(); d != 2*time.Second {
		t.Errorf("duration = %s, want 2s", d)
	}
}

func TestMaxDurationRoundsUpToChunk(t *testing.T) {
	src := newSliceSource(square(toneAmp, 5*time.Second))
	ms := &memSink{t: t}

	sum, err := Run(context.Background(), src, Config{Segmentation: segCfg, MaxDuration: 1200 * time.Millisecond}, ms)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Chunks != 3 || ms.segs[0].Duration() != 1500*time.Millisecond {
		t.Errorf("chunks = %d, segment = %s, want 3 chunks of 1.5s", sum.Chunks, ms.segs[0].Duration())
	}
}

func TestStreamToFileSink(t *testing.T) {
	samples := concat(
		square(toneAmp, 2*time.Second),
		square(quietAmp, 1500*time.Millisecond),
		square(toneAmp, 2*time.Second),
	)
	fake := audio.NewFakeContextFromSamples(samples, testRate, testChannels, false)
	dev, err := fake.NewCapture(nil, fake.Format())
	if err != nil {
		t.Fatal(err)
	}
	stream, err := audio.OpenStream(dev, fake.Format(), audio.StreamConfig{ChunkDuration: chunkDur, QueueChunks: 2, Lossless: true})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	dir := t.TempDir()
	fs, err := sink.NewFileSink(dir, "rec", "wav")
	if err != nil {
		t.Fatal(err)
	}
	chain, err := dsp.NewChain(dsp.DefaultParams(), testRate)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sum, err := Run(ctx, stream, Config{Segmentation: segCfg, Chain: chain}, fs)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Written != 2 {
		t.Fatalf("written = %d, want 2", sum.Written)
	}
	for _, name := range []string{"rec_0001.wav", "rec_0002.wav"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		wav, err := audio.DecodeWAV(data)
		if err != nil {
			t.Fatal(err)
		}
		if got := len(wav.Samples) / wav.Channels; got != 2*testRate {
			t.Errorf("%s has %d frames, want %d", name, got, 2*testRate)
		}
	}
	if sum.Overruns != 0 {
		t.Errorf("lossless stream reported %d overruns", sum.Overruns)
	}
}
