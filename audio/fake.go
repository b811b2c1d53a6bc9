package audio

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

const fakeFrameSize = 1024

// FakeContext stands in for the platform audio stack. Captures either replay
// a preloaded recording or wait for test code to call Deliver.
type FakeContext struct {
	rate     uint32
	samples  []float32
	realtime bool

	mu        sync.Mutex
	noDevices bool
	openErr   error
	captures  []*FakeCapture
}

// NewFakeContext returns a context whose captures run at rate and deliver
// nothing on their own.
func NewFakeContext(rate uint32) *FakeContext {
	return &FakeContext{rate: rate}
}

// NewFakeContextFromWAV replays a mono 16-bit PCM WAV file at the rate in its
// header. In realtime mode chunks are paced at that rate; otherwise the whole
// file is delivered during Start.
func NewFakeContextFromWAV(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	rate, channels, err := WAVFormat(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", wavPath, err)
	}
	if channels != 1 || rate == 0 {
		return nil, fmt.Errorf("%s: want mono PCM, got %d channel(s) at %d Hz", wavPath, channels, rate)
	}
	samples, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", wavPath, err)
	}
	return &FakeContext{rate: rate, samples: samples, realtime: realtime}, nil
}

// SetNoDevices makes Devices report an empty list.
func (f *FakeContext) SetNoDevices(v bool) {
	f.mu.Lock()
	f.noDevices = v
	f.mu.Unlock()
}

// SetOpenError makes NewCapture fail with err.
func (f *FakeContext) SetOpenError(err error) {
	f.mu.Lock()
	f.openErr = err
	f.mu.Unlock()
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noDevices {
		return nil, nil
	}
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	c := &FakeCapture{
		rate:      f.rate,
		samples:   f.samples,
		realtime:  f.realtime,
		audioDone: make(chan struct{}),
	}
	f.captures = append(f.captures, c)
	return c, nil
}

// Last returns the most recently opened capture, or nil.
func (f *FakeContext) Last() *FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.captures) == 0 {
		return nil
	}
	return f.captures[len(f.captures)-1]
}

type FakeCapture struct {
	rate      uint32
	samples   []float32
	realtime  bool
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	onErr    ErrorCallback
	running  bool
	closed   bool
	stopCh   chan struct{}
	feedDone chan struct{}
}

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

func (f *FakeCapture) OnError(cb ErrorCallback) {
	f.mu.Lock()
	f.onErr = cb
	f.mu.Unlock()
}

func (f *FakeCapture) SampleRate() uint32 { return f.rate }
func (f *FakeCapture) Channels() uint32   { return 1 }
func (f *FakeCapture) DeviceName() string { return "fake" }

// Running reports whether the capture is started and still has a callback
// installed.
func (f *FakeCapture) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running && f.cb != nil
}

// Closed reports whether Close was called.
func (f *FakeCapture) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Deliver pushes one batch through the installed callback, as the audio
// thread would. It is dropped when the capture is not running.
func (f *FakeCapture) Deliver(samples []float32) {
	f.mu.Lock()
	cb := f.cb
	running := f.running
	f.mu.Unlock()
	if cb == nil || !running {
		return
	}
	batch := make([]float32, len(samples))
	copy(batch, samples)
	cb(FrameBatch{Samples: batch, SampleRate: f.rate, Channels: 1})
}

// Fail simulates the device disappearing mid-capture.
func (f *FakeCapture) Fail(err error) {
	if err == nil {
		err = errors.New("fake device disconnected")
	}
	f.mu.Lock()
	cb := f.onErr
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (f *FakeCapture) feedChunk(pos int) int {
	end := min(pos+fakeFrameSize, len(f.samples))
	f.Deliver(f.samples[pos:end])
	return end
}

func (f *FakeCapture) Start() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return errors.New("fake capture closed")
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	f.mu.Unlock()

	if len(f.samples) == 0 {
		close(f.feedDone)
		return nil
	}

	if !f.realtime {
		for pos := 0; pos < len(f.samples); {
			pos = f.feedChunk(pos)
		}
		close(f.audioDone)
		close(f.feedDone)
		return nil
	}

	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(f.rate)
	go func() {
		defer close(f.feedDone)
		pos := 0
		for pos < len(f.samples) {
			pos = f.feedChunk(pos)
			select {
			case <-f.stopCh:
				return
			case <-time.After(interval):
			}
		}
		close(f.audioDone)
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	stopCh, feedDone := f.stopCh, f.feedDone
	f.running = false
	f.mu.Unlock()
	if stopCh == nil {
		return
	}
	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-feedDone
}

func (f *FakeCapture) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}
