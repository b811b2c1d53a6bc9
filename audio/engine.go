package audio

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"kalam/log"
)

// reserveSeconds sizes the initial buffer reservation.
const reserveSeconds = 30

type engineState int

const (
	engineStopped engineState = iota
	engineStarting
	engineCapturing
)

// Resampled is one finished recording at TargetSampleRate, mono.
type Resampled struct {
	Samples    []float32
	SampleRate uint32
}

func (r *Resampled) Duration() time.Duration {
	if r == nil || r.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(len(r.Samples)) / float64(r.SampleRate) * float64(time.Second))
}

// Engine owns the microphone stream for one recording at a time. Start while
// already capturing returns ErrAlreadyCapturing.
type Engine struct {
	audio Context
	perm  Permission

	mu      sync.Mutex
	state   engineState
	device  *DeviceInfo
	capture CaptureDevice
	started time.Time
	fault   error
	faults  chan error

	bufMu     sync.Mutex
	buf       *SampleBuffer
	accepting bool

	level atomic.Uint64
}

type EngineOption func(*Engine)

func WithDevice(d *DeviceInfo) EngineOption {
	return func(e *Engine) { e.device = d }
}

func WithPermission(p Permission) EngineOption {
	return func(e *Engine) { e.perm = p }
}

func NewEngine(ctx Context, opts ...EngineOption) *Engine {
	e := &Engine{
		audio:  ctx,
		perm:   Granted{},
		buf:    NewSampleBuffer(0),
		faults: make(chan error, 1),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start asks for microphone permission, opens the input device at its
// native format and begins buffering.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != engineStopped {
		e.mu.Unlock()
		return ErrAlreadyCapturing
	}
	e.state = engineStarting
	device := e.device
	e.mu.Unlock()

	capture, err := e.open(ctx, device)
	if err != nil {
		e.mu.Lock()
		e.state = engineStopped
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.bufMu.Lock()
	e.buf.Reset(int(capture.SampleRate()) * reserveSeconds)
	e.accepting = true
	e.bufMu.Unlock()
	e.level.Store(0)

	capture.SetCallback(e.onFrames)
	capture.OnError(func(err error) { go e.abort(capture, err) })

	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		capture.Close()
		e.bufMu.Lock()
		e.accepting = false
		e.bufMu.Unlock()
		e.state = engineStopped
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	e.capture = capture
	e.started = time.Now()
	e.fault = nil
	e.faults = make(chan error, 1)
	e.state = engineCapturing
	log.RecordingStart(capture.DeviceName())
	return nil
}

func (e *Engine) open(ctx context.Context, device *DeviceInfo) (CaptureDevice, error) {
	granted, err := e.perm.Request(ctx)
	if err != nil {
		return nil, fmt.Errorf("permission request: %w", err)
	}
	if !granted {
		return nil, ErrPermissionDenied
	}

	devices, err := e.audio.Devices()
	if err == nil && len(devices) == 0 {
		return nil, fmt.Errorf("%w: no capture devices found", ErrDeviceUnavailable)
	}

	capture, err := e.audio.NewCapture(device, CaptureConfig{Channels: 1})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return capture, nil
}

func (e *Engine) onFrames(batch FrameBatch) {
	e.level.Store(math.Float64bits(Level(batch.Samples)))

	e.bufMu.Lock()
	if e.accepting {
		e.buf.Append(batch)
	}
	e.bufMu.Unlock()
}

// abort tears down a capture that failed underneath us. The fault is kept
// for the next Stop and published on Faults.
func (e *Engine) abort(capture CaptureDevice, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != engineCapturing || e.capture != capture {
		return
	}
	log.CaptureFault(err)
	e.teardown()
	e.bufMu.Lock()
	e.buf.Reset(0)
	e.bufMu.Unlock()

	e.fault = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	select {
	case e.faults <- e.fault:
	default:
	}
}

// teardown stops the device and removes the tap. Callers hold e.mu.
func (e *Engine) teardown() {
	e.capture.Stop()
	e.capture.ClearCallback()
	e.capture.Close()

	e.bufMu.Lock()
	e.accepting = false
	e.bufMu.Unlock()

	e.level.Store(0)
	e.state = engineStopped
}

// Stop ends capture and returns the recording resampled to TargetSampleRate.
// It returns nil, nil when no samples were captured. If the device failed
// during capture, the fault is returned instead.
func (e *Engine) Stop() (*Resampled, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != engineCapturing {
		if e.fault != nil {
			err := e.fault
			e.fault = nil
			return nil, err
		}
		return nil, ErrNotCapturing
	}

	rate := e.capture.SampleRate()
	e.teardown()
	e.capture = nil

	e.bufMu.Lock()
	samples := e.buf.DrainResampled(rate, TargetSampleRate)
	e.bufMu.Unlock()

	if len(samples) == 0 {
		return nil, nil
	}
	return &Resampled{Samples: samples, SampleRate: TargetSampleRate}, nil
}

func (e *Engine) Capturing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == engineCapturing
}

// Level returns the most recent 0..1 meter value.
func (e *Engine) Level() float64 {
	return math.Float64frombits(e.level.Load())
}

// Elapsed returns how long the current capture has been running.
func (e *Engine) Elapsed() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != engineCapturing {
		return 0
	}
	return time.Since(e.started)
}

// Faults delivers a device failure for the current capture session.
func (e *Engine) Faults() <-chan error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.faults
}
