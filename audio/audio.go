package audio

import (
	"errors"
	"time"
)

// ErrDeviceUnavailable is returned when no usable loopback source exists.
var ErrDeviceUnavailable = errors.New("no loopback capture device available")

// DataCallback receives interleaved float32 samples from the capture backend.
// The slice is only valid for the duration of the call.
type DataCallback func(samples []float32, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	// Devices lists output devices whose mix can be captured.
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

// Chunk is a fixed-length block of interleaved samples. Offset is the stream
// time of its first frame.
type Chunk struct {
	Samples    []float32
	Channels   int
	SampleRate int
	Offset     time.Duration
}

func (c Chunk) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

func (c Chunk) Duration() time.Duration {
	return FramesToDuration(c.Frames(), c.SampleRate)
}

func FramesToDuration(frames, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(frames) * int64(time.Second) / int64(sampleRate))
}

// FindDevice returns the device whose name matches exactly. An empty name
// selects the backend default (nil device).
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, errors.Join(ErrDeviceUnavailable, err)
	}
	if len(devices) == 0 {
		return nil, ErrDeviceUnavailable
	}
	if name == "" {
		return nil, nil
	}
	for i := range devices {
		if devices[i].Name == name {
			return &devices[i], nil
		}
	}
	return nil, errors.Join(ErrDeviceUnavailable, errors.New("device not found: "+name))
}
