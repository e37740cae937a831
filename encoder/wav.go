package encoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

const wavHeaderSize = 44

// WAVEncoder writes 24-bit little-endian PCM. The RIFF header is written on
// Close, once the data size is known.
type WAVEncoder struct {
	data        bytes.Buffer
	out         []byte
	sampleRate  int
	channels    int
	totalFrames uint64
	encodeTime  time.Duration
	closed      bool
	mu          sync.Mutex
}

func NewWAV(sampleRate, channels int) (*WAVEncoder, error) {
	if channels < 1 || channels > 0xFFFF {
		return nil, fmt.Errorf("wav: unsupported channel count %d", channels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wav: invalid sample rate %d", sampleRate)
	}
	return &WAVEncoder{sampleRate: sampleRate, channels: channels}, nil
}

func (e *WAVEncoder) EncodeBlock(block []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("wav: encode after close")
	}
	if len(block)%e.channels != 0 {
		return fmt.Errorf("wav: block of %d samples is not a multiple of %d channels", len(block), e.channels)
	}
	var b [3]byte
	for _, s := range block {
		v := ToPCM24(s)
		b[0] = byte(v)
		b[1] = byte(v >> 8)
		b[2] = byte(v >> 16)
		e.data.Write(b[:])
	}
	e.totalFrames += uint64(len(block) / e.channels)
	return nil
}

func (e *WAVEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	dataSize := e.data.Len()
	pad := dataSize % 2 // RIFF chunks are word aligned
	blockAlign := e.channels * BitsPerSample / 8
	buf := make([]byte, wavHeaderSize, wavHeaderSize+dataSize+pad)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(wavHeaderSize-8+dataSize+pad))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(e.channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(e.sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(e.sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	buf = append(buf, e.data.Bytes()...)
	if pad == 1 {
		buf = append(buf, 0)
	}

	e.out = buf
	e.data.Reset()
	return nil
}

// Bytes returns the complete file after Close, nil before.
func (e *WAVEncoder) Bytes() []byte {
	return e.out
}

func (e *WAVEncoder) TotalFrames() uint64 {
	return e.totalFrames
}

func (e *WAVEncoder) Format() string { return "wav" }
func (e *WAVEncoder) Ext() string    { return ".wav" }

func (e *WAVEncoder) AddEncodeTime(d time.Duration) {
	e.mu.Lock()
	e.encodeTime += d
	e.mu.Unlock()
}

func (e *WAVEncoder) EncodeTime() time.Duration {
	return e.encodeTime
}
