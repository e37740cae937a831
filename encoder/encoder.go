package encoder

import (
	"fmt"
	"math"
	"time"
)

const (
	BitsPerSample = 24
	BlockSize     = 4096

	maxPCM24 = 1<<23 - 1
	minPCM24 = -1 << 23
)

// Encoder turns interleaved float32 frames into an in-memory file.
type Encoder interface {
	// EncodeBlock appends interleaved frames; len(block) must be a multiple
	// of the channel count.
	EncodeBlock(block []float32) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	Format() string
	Ext() string
	AddEncodeTime(d time.Duration)
	EncodeTime() time.Duration
}

// New returns an encoder for format "wav" or "flac".
func New(format string, sampleRate, channels int) (Encoder, error) {
	var (
		enc Encoder
		err error
	)
	switch format {
	case "wav":
		enc, err = NewWAV(sampleRate, channels)
	case "flac":
		enc, err = NewFlac(sampleRate, channels)
	default:
		return nil, fmt.Errorf("unknown format %q (use wav or flac)", format)
	}
	if err != nil {
		return nil, err
	}
	return enc, nil
}

// ToPCM24 quantizes a float sample in [-1, 1] to a signed 24-bit integer,
// clipping out-of-range values.
func ToPCM24(s float32) int32 {
	v := math.Round(float64(s) * maxPCM24)
	if v > maxPCM24 {
		return maxPCM24
	}
	if v < minPCM24 {
		return minPCM24
	}
	return int32(v)
}
