package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"loopcap/audio"
	"loopcap/encoder"
)

// Segment is one finished, processed recording ready to persist.
type Segment struct {
	Seq        int
	Samples    []float32 // interleaved
	SampleRate int
	Channels   int
}

func (s Segment) Duration() time.Duration {
	if s.Channels <= 0 {
		return 0
	}
	return audio.FramesToDuration(len(s.Samples)/s.Channels, s.SampleRate)
}

// Result describes a persisted segment.
type Result struct {
	Seq        int
	Path       string
	Format     string
	Duration   time.Duration
	Bytes      int64
	EncodeTime time.Duration
}

// Sink persists finished segments. A failed Write must leave the sink usable
// for the next sequence number.
type Sink interface {
	Write(ctx context.Context, seg Segment) (Result, error)
}

// FileSink encodes each segment into its own file in Dir. The file name is a
// pure function of the sequence number, so rewriting a sequence number
// replaces the same file.
type FileSink struct {
	Dir    string
	Prefix string
	Format string
}

func NewFileSink(dir, prefix, format string) (*FileSink, error) {
	if _, err := encoder.New(format, 44100, 1); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &FileSink{Dir: dir, Prefix: prefix, Format: format}, nil
}

// Path returns the file a sequence number is written to.
func (s *FileSink) Path(seq int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s_%04d.%s", s.Prefix, seq, s.Format))
}

func (s *FileSink) Write(ctx context.Context, seg Segment) (Result, error) {
	if len(seg.Samples) == 0 {
		return Result{}, fmt.Errorf("segment %d: empty", seg.Seq)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	enc, err := encoder.New(s.Format, seg.SampleRate, seg.Channels)
	if err != nil {
		return Result{}, fmt.Errorf("segment %d: %w", seg.Seq, err)
	}
	start := time.Now()
	for i := 0; i < len(seg.Samples); i += encoder.BlockSize * seg.Channels {
		end := min(i+encoder.BlockSize*seg.Channels, len(seg.Samples))
		if err := enc.EncodeBlock(seg.Samples[i:end]); err != nil {
			return Result{}, fmt.Errorf("segment %d: %w", seg.Seq, err)
		}
	}
	if err := enc.Close(); err != nil {
		return Result{}, fmt.Errorf("segment %d: %w", seg.Seq, err)
	}
	enc.AddEncodeTime(time.Since(start))

	path := s.Path(seg.Seq)
	data := enc.Bytes()
	if err := writeFileAtomic(path, data); err != nil {
		return Result{}, fmt.Errorf("segment %d: %w", seg.Seq, err)
	}

	return Result{
		Seq:        seg.Seq,
		Path:       path,
		Format:     enc.Format(),
		Duration:   audio.FramesToDuration(int(enc.TotalFrames()), seg.SampleRate),
		Bytes:      int64(len(data)),
		EncodeTime: enc.EncodeTime(),
	}, nil
}

// writeFileAtomic writes to a temporary file and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
