package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"loopcap/audio"
)

func tone(frames, channels int) []float32 {
	buf := make([]float32, frames*channels)
	for i := range buf {
		buf[i] = 0.25
	}
	return buf
}

func TestFileSinkWritesWAV(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, "rec", "wav")
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Write(context.Background(), Segment{Seq: 1, Samples: tone(44100, 2), SampleRate: 44100, Channels: 2})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if want := filepath.Join(dir, "rec_0001.wav"); res.Path != want {
		t.Errorf("Path = %q, want %q", res.Path, want)
	}
	if res.Duration != time.Second {
		t.Errorf("Duration = %s, want 1s", res.Duration)
	}
	info, err := os.Stat(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != res.Bytes {
		t.Errorf("Bytes = %d, file size %d", res.Bytes, info.Size())
	}

	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	wav, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatal(err)
	}
	if wav.Channels != 2 || len(wav.Samples) != 44100*2 {
		t.Errorf("decoded %d ch, %d samples", wav.Channels, len(wav.Samples))
	}
}

func TestFileSinkIdempotentNaming(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, "rec", "flac")
	if err != nil {
		t.Fatal(err)
	}
	if s.Path(7) != s.Path(7) || s.Path(7) == s.Path(8) {
		t.Fatal("Path is not a function of the sequence number")
	}

	seg := Segment{Seq: 7, Samples: tone(1000, 1), SampleRate: 8000, Channels: 1}
	for i := 0; i < 2; i++ {
		if _, err := s.Write(context.Background(), seg); err != nil {
			t.Fatalf("Write #%d: %v", i, err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "rec_0007.flac" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contents = %v, want [rec_0007.flac]", names)
	}
}

func TestFileSinkFailureIsIsolated(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, "rec", "wav")
	if err != nil {
		t.Fatal(err)
	}

	// A directory squatting on the target name makes the rename fail.
	if err := os.Mkdir(s.Path(1), 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write(context.Background(), Segment{Seq: 1, Samples: tone(100, 1), SampleRate: 8000, Channels: 1}); err == nil {
		t.Fatal("expected error writing over a directory")
	}
	if _, err := s.Write(context.Background(), Segment{Seq: 2, Samples: tone(100, 1), SampleRate: 8000, Channels: 1}); err != nil {
		t.Fatalf("segment 2 after failure: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}
}

func TestFileSinkRejectsEmptyAndUnknownFormat(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewFileSink(dir, "rec", "ogg"); err == nil {
		t.Error("expected error for unknown format")
	}
	s, err := NewFileSink(dir, "rec", "wav")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write(context.Background(), Segment{Seq: 1, SampleRate: 8000, Channels: 1}); err == nil {
		t.Error("expected error for empty segment")
	}
}

func TestSegmentDuration(t *testing.T) {
	s := Segment{Samples: make([]float32, 16000), SampleRate: 8000, Channels: 2}
	if s.Duration() != time.Second {
		t.Errorf("Duration = %s", s.Duration())
	}
}
