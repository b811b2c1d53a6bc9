package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sine(n int, rate uint32, freq float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func startFake(t *testing.T, rate uint32) (*Engine, *FakeCapture) {
	t.Helper()
	fc := NewFakeContext(rate)
	e := NewEngine(fc)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c := fc.Last()
	if c == nil || !c.Running() {
		t.Fatal("capture not running after Start")
	}
	return e, c
}

func TestEngineStopWithoutAudio(t *testing.T) {
	e, c := startFake(t, 48000)
	rec, err := e.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec != nil {
		t.Errorf("got %d samples, want none", len(rec.Samples))
	}
	if c.Running() || !c.Closed() {
		t.Error("capture should be stopped and closed")
	}
	if e.Capturing() {
		t.Error("engine still capturing")
	}
}

func TestEngineResamplesToTarget(t *testing.T) {
	e, c := startFake(t, 48000)

	// One second at 48 kHz, in device-sized batches.
	tone := sine(48000, 48000, 440)
	for pos := 0; pos < len(tone); pos += 480 {
		c.Deliver(tone[pos:min(pos+480, len(tone))])
	}
	if lvl := e.Level(); lvl <= 0 || lvl > 1 {
		t.Errorf("Level = %v, want (0, 1]", lvl)
	}

	rec, err := e.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec == nil {
		t.Fatal("no recording")
	}
	if rec.SampleRate != TargetSampleRate {
		t.Errorf("SampleRate = %d, want %d", rec.SampleRate, TargetSampleRate)
	}
	if len(rec.Samples) != 16000 {
		t.Errorf("len = %d, want 16000", len(rec.Samples))
	}
	if d := rec.Duration(); d != time.Second {
		t.Errorf("Duration = %v, want 1s", d)
	}
	if e.Level() != 0 {
		t.Errorf("Level after Stop = %v, want 0", e.Level())
	}
}

func TestEngineIgnoresLateFrames(t *testing.T) {
	e, c := startFake(t, 16000)
	c.Deliver(make([]float32, 160))
	if _, err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	// The tap is gone, so this must not reach the buffer.
	c.Deliver(make([]float32, 160))

	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	rec, err := e.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Errorf("second session got %d stale samples", len(rec.Samples))
	}
}

func TestEngineSessionsAreIndependent(t *testing.T) {
	fc := NewFakeContext(16000)
	e := NewEngine(fc)
	for i, n := range []int{1600, 320} {
		if err := e.Start(context.Background()); err != nil {
			t.Fatalf("session %d Start: %v", i, err)
		}
		fc.Last().Deliver(make([]float32, n))
		rec, err := e.Stop()
		if err != nil {
			t.Fatalf("session %d Stop: %v", i, err)
		}
		if rec == nil || len(rec.Samples) != n {
			t.Fatalf("session %d: got %v, want %d samples", i, rec, n)
		}
	}
}

func TestEngineAlreadyCapturing(t *testing.T) {
	e, _ := startFake(t, 16000)
	defer e.Stop()
	if err := e.Start(context.Background()); !errors.Is(err, ErrAlreadyCapturing) {
		t.Errorf("got %v, want ErrAlreadyCapturing", err)
	}
}

func TestEngineStopNotCapturing(t *testing.T) {
	e := NewEngine(NewFakeContext(16000))
	if _, err := e.Stop(); !errors.Is(err, ErrNotCapturing) {
		t.Errorf("got %v, want ErrNotCapturing", err)
	}
}

func TestEnginePermissionDenied(t *testing.T) {
	fc := NewFakeContext(16000)
	deny := CallbackPermission(func(resolve func(bool)) { resolve(false) })
	e := NewEngine(fc, WithPermission(deny))

	err := e.Start(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("got %v, want ErrPermissionDenied", err)
	}
	if fc.Last() != nil {
		t.Error("device opened despite denied permission")
	}
	if e.Capturing() {
		t.Error("engine capturing after denial")
	}
}

func TestEngineNoDevices(t *testing.T) {
	fc := NewFakeContext(16000)
	fc.SetNoDevices(true)
	e := NewEngine(fc)
	if err := e.Start(context.Background()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("got %v, want ErrDeviceUnavailable", err)
	}

	fc.SetNoDevices(false)
	fc.SetOpenError(errors.New("busy"))
	if err := e.Start(context.Background()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("got %v, want ErrDeviceUnavailable", err)
	}

	// A failed start leaves the engine usable.
	fc.SetOpenError(nil)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start after recovery: %v", err)
	}
	e.Stop()
}

func TestEngineDeviceFault(t *testing.T) {
	e, c := startFake(t, 16000)
	faults := e.Faults()
	c.Deliver(make([]float32, 160))
	c.Fail(errors.New("unplugged"))

	select {
	case err := <-faults:
		if !errors.Is(err, ErrDeviceUnavailable) {
			t.Errorf("fault = %v, want ErrDeviceUnavailable", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fault delivered")
	}

	if e.Capturing() {
		t.Error("engine still capturing after fault")
	}
	if !c.Closed() {
		t.Error("capture not closed after fault")
	}
	if _, err := e.Stop(); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Stop after fault = %v, want ErrDeviceUnavailable", err)
	}
	if _, err := e.Stop(); !errors.Is(err, ErrNotCapturing) {
		t.Errorf("second Stop = %v, want ErrNotCapturing", err)
	}
}

func TestEngineReplaysWAV(t *testing.T) {
	path := t.TempDir() + "/in.wav"
	if err := WriteWAVFile(path, sine(8000, 16000, 220), 16000); err != nil {
		t.Fatal(err)
	}
	fc, err := NewFakeContextFromWAV(path, false)
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(fc)
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-fc.Last().AudioDone()
	rec, err := e.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || len(rec.Samples) != 8000 {
		t.Fatalf("got %v, want 8000 samples", rec)
	}
}

func TestEngineReplaysWAVAtHeaderRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speech48k.wav")
	if err := WriteWAVFile(path, sine(48000, 48000, 440), 48000); err != nil {
		t.Fatal(err)
	}
	fc, err := NewFakeContextFromWAV(path, false)
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(fc)
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := fc.Last().SampleRate(); got != 48000 {
		t.Errorf("capture rate = %d, want 48000", got)
	}
	<-fc.Last().AudioDone()
	rec, err := e.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || len(rec.Samples) != 16000 {
		t.Fatalf("got %v, want one second at 16 kHz", rec)
	}
}

func TestFakeContextFromWAVRejectsStereo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	data := EncodeWAV(make([]float32, 100), 16000)
	binary.LittleEndian.PutUint16(data[22:], 2)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFakeContextFromWAV(path, false); err == nil || !strings.Contains(err.Error(), "mono") {
		t.Errorf("got %v, want mono error", err)
	}
}
