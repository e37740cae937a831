package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog     zerolog.Logger
	diagFile    *os.File
	segmentFile *os.File
	logMu       sync.Mutex
	logReady    bool
	pid         int
	dir         string
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		if !filepath.IsAbs(flagPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, flagPath), nil
		}
		return flagPath, nil
	}

	// Priority 2: LOOPCAP_LOG_PATH environment variable
	envPath := os.Getenv("LOOPCAP_LOG_PATH")
	if envPath != "" {
		if !filepath.IsAbs(envPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, envPath), nil
		}
		return envPath, nil
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	segmentPath := filepath.Join(dir, "segments_log.txt")
	segmentFile, err = os.OpenFile(segmentPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if segmentFile != nil {
		segmentFile.Close()
		segmentFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

type Session struct {
	Device       string
	Format       string
	SampleRate   int
	Channels     int
	ChunkMs      float64
	Threshold    float64
	SilenceS     float64
	MaxDurationS float64
	OutputDir    string
	EffectsChain string
}

func SessionStart(s Session) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("device", s.Device).
		Str("format", s.Format).
		Int("sample_rate", s.SampleRate).
		Int("channels", s.Channels).
		Float64("chunk_ms", s.ChunkMs).
		Float64("threshold", s.Threshold).
		Float64("silence_s", s.SilenceS).
		Float64("max_duration_s", s.MaxDurationS).
		Str("out", s.OutputDir).
		Str("effects", s.EffectsChain).
		Msg("session_start")
}

type Totals struct {
	Segments int
	Written  int
	Failed   int
	AudioS   float64
	Overruns int64
}

func SessionEnd(t Totals) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("segments", t.Segments).
		Int("written", t.Written).
		Int("failed", t.Failed).
		Float64("audio_s", t.AudioS).
		Int64("overruns", t.Overruns).
		Msg("session_end")
}

type SegmentMetrics struct {
	Seq          int
	Path         string
	Format       string
	AudioS       float64
	Bytes        int64
	Chunks       int
	EffectsMs    float64
	EncodeTimeMs float64
	WriteTimeMs  float64
}

// SegmentWritten records a persisted segment in the diagnostics log and
// appends a line to the segment ledger.
func SegmentWritten(m SegmentMetrics) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("seq", m.Seq).
		Str("path", m.Path).
		Str("format", m.Format).
		Float64("audio_s", m.AudioS).
		Int64("bytes", m.Bytes).
		Int("chunks", m.Chunks).
		Float64("effects_ms", m.EffectsMs).
		Float64("encode_ms", m.EncodeTimeMs).
		Float64("write_ms", m.WriteTimeMs).
		Msg("segment_written")

	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%d\t%s\t%.2f\t%d\n",
		time.Now().Format("2006-01-02 15:04:05"), pid, m.Seq, m.Path, m.AudioS, m.Bytes)
	segmentFile.WriteString(line)
}

func SegmentFailed(seq int, err error) {
	if !logReady {
		return
	}
	diagLog.Error().Int("seq", seq).Err(err).Msg("segment_failed")
}

func CaptureOverrun(dropped int64) {
	if !logReady {
		return
	}
	diagLog.Warn().Int64("dropped_chunks", dropped).Msg("capture_overrun")
}
