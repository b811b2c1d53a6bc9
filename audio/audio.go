package audio

import (
	"errors"
	"strings"
)

const (
	TargetSampleRate = 16000
	WAVHeaderSize    = 44
)

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
	ErrAlreadyCapturing  = errors.New("capture already running")
	ErrNotCapturing      = errors.New("capture not running")
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// FrameBatch is the payload of one capture callback: interleaved float32
// samples at the device's native rate.
type FrameBatch struct {
	Samples    []float32
	SampleRate uint32
	Channels   uint32
}

// Frames returns the number of sample frames in the batch.
func (b FrameBatch) Frames() int {
	if b.Channels <= 1 {
		return len(b.Samples)
	}
	return len(b.Samples) / int(b.Channels)
}

// DataCallback runs on the platform audio thread. It must not block.
type DataCallback func(batch FrameBatch)

// ErrorCallback is invoked at most once when the device stops on its own
// (disconnect, server restart). It may run on the audio thread.
type ErrorCallback func(err error)

type CaptureConfig struct {
	SampleRate uint32 // 0 = device native rate
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SampleRate() uint32
	Channels() uint32
	DeviceName() string
	SetCallback(cb DataCallback)
	ClearCallback()
	OnError(cb ErrorCallback)
}
