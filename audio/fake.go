package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"
)

const (
	fakeFrameSize = 1024

	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// WAVData is a decoded WAV file as interleaved float32 samples.
type WAVData struct {
	Samples       []float32
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DecodeWAV parses a RIFF/WAVE file holding 16, 24 or 32-bit integer PCM or
// 32-bit float samples.
func DecodeWAV(data []byte) (*WAVData, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, errors.New("invalid WAV file: missing RIFF/WAVE header")
	}

	var (
		format, channels, bits uint16
		rate                   uint32
		haveFmt                bool
		pcm                    []byte
	)
	for pos := 12; pos+8 <= len(data); {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := data[pos+8:]
		if size > len(body) {
			size = len(body)
		}
		body = body[:size]
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, errors.New("invalid WAV file: short fmt chunk")
			}
			format = binary.LittleEndian.Uint16(body[0:2])
			channels = binary.LittleEndian.Uint16(body[2:4])
			rate = binary.LittleEndian.Uint32(body[4:8])
			bits = binary.LittleEndian.Uint16(body[14:16])
			if format == wavFormatExtensible && size >= 26 {
				format = binary.LittleEndian.Uint16(body[24:26])
			}
			haveFmt = true
		case "data":
			pcm = body
		}
		pos += 8 + size + size%2
	}
	if !haveFmt {
		return nil, errors.New("invalid WAV file: missing fmt chunk")
	}
	if pcm == nil {
		return nil, errors.New("invalid WAV file: missing data chunk")
	}
	if channels == 0 || rate == 0 {
		return nil, fmt.Errorf("invalid WAV file: %d channels at %d Hz", channels, rate)
	}

	var samples []float32
	switch {
	case format == wavFormatPCM && bits == 16:
		samples = make([]float32, len(pcm)/2)
		for i := range samples {
			samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
		}
	case format == wavFormatPCM && bits == 24:
		samples = make([]float32, len(pcm)/3)
		for i := range samples {
			b := pcm[i*3:]
			v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			samples[i] = float32(v) / 8388608
		}
	case format == wavFormatPCM && bits == 32:
		samples = make([]float32, len(pcm)/4)
		for i := range samples {
			samples[i] = float32(float64(int32(binary.LittleEndian.Uint32(pcm[i*4:]))) / 2147483648)
		}
	case format == wavFormatFloat && bits == 32:
		samples = make([]float32, len(pcm)/4)
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(pcm[i*4:]))
		}
	default:
		return nil, fmt.Errorf("unsupported WAV encoding: format %d, %d bits", format, bits)
	}

	// Drop a trailing partial frame.
	samples = samples[:len(samples)-len(samples)%int(channels)]
	return &WAVData{
		Samples:       samples,
		SampleRate:    int(rate),
		Channels:      int(channels),
		BitsPerSample: int(bits),
	}, nil
}

// FakeContext replays a WAV file as if it were a capture device.
type FakeContext struct {
	name     string
	wav      *WAVData
	realtime bool
}

func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	wav, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", wavPath, err)
	}
	return &FakeContext{name: wavPath, wav: wav, realtime: realtime}, nil
}

// NewFakeContextFromSamples replays in-memory interleaved samples.
func NewFakeContextFromSamples(samples []float32, sampleRate, channels int, realtime bool) *FakeContext {
	return &FakeContext{
		name:     "fake",
		wav:      &WAVData{Samples: samples, SampleRate: sampleRate, Channels: channels},
		realtime: realtime,
	}
}

// Format reports the capture configuration that matches the replayed data.
func (f *FakeContext) Format() CaptureConfig {
	return CaptureConfig{SampleRate: uint32(f.wav.SampleRate), Channels: uint32(f.wav.Channels)}
}

// Realtime reports whether replay is paced at the sample rate.
func (f *FakeContext) Realtime() bool { return f.realtime }

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: f.name, Name: f.name}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	if config != f.Format() {
		return nil, fmt.Errorf("replay source is %d Hz/%d ch, requested %d Hz/%d ch",
			f.wav.SampleRate, f.wav.Channels, config.SampleRate, config.Channels)
	}
	return &FakeCapture{
		name:      f.name,
		samples:   f.wav.Samples,
		channels:  f.wav.Channels,
		rate:      f.wav.SampleRate,
		realtime:  f.realtime,
		audioDone: make(chan struct{}),
	}, nil
}

type FakeCapture struct {
	name      string
	samples   []float32
	channels  int
	rate      int
	realtime  bool
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

// AudioDone is closed after the last sample has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return f.name }

func (f *FakeCapture) feedChunk(cb DataCallback, pos int) int {
	end := min(pos+fakeFrameSize*f.channels, len(f.samples))
	chunk := make([]float32, end-pos)
	copy(chunk, f.samples[pos:end])
	cb(chunk, uint32(len(chunk)/f.channels))
	return end
}

func (f *FakeCapture) Start() error {
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})

	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(f.rate)
	go func() {
		defer close(f.feedDone)
		for pos := 0; pos < len(f.samples); {
			select {
			case <-f.stopCh:
				return
			default:
			}

			f.mu.Lock()
			cb := f.cb
			f.mu.Unlock()
			if cb == nil {
				time.Sleep(time.Millisecond)
				continue
			}
			pos = f.feedChunk(cb, pos)

			if f.realtime {
				select {
				case <-f.stopCh:
					return
				case <-time.After(interval):
				}
			}
		}
		close(f.audioDone)
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	<-f.feedDone
}

func (f *FakeCapture) Close() {}
