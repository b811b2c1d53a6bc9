package transcriber

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeBackend returns canned text. It records every load, close and
// transcription so tests can check model lifecycle and concurrency.
type FakeBackend struct {
	mu        sync.Mutex
	text      string
	err       error
	loadErr   error
	delay     time.Duration
	events    []string
	languages []string
	live      int
	inflight  int
	peak      int
	loads     int
	closes    int
}

func NewFake(text string, err error) *FakeBackend {
	return &FakeBackend{text: text, err: err}
}

func (f *FakeBackend) Name() string { return "fake" }

func (f *FakeBackend) SetText(text string) {
	f.mu.Lock()
	f.text = text
	f.mu.Unlock()
}

// SetDelay makes each Transcribe take at least d.
func (f *FakeBackend) SetDelay(d time.Duration) {
	f.mu.Lock()
	f.delay = d
	f.mu.Unlock()
}

func (f *FakeBackend) SetLoadError(err error) {
	f.mu.Lock()
	f.loadErr = err
	f.mu.Unlock()
}

func (f *FakeBackend) Load(_ context.Context, path string) (Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		f.events = append(f.events, "load-failed "+path)
		return nil, f.loadErr
	}
	f.loads++
	f.live++
	f.events = append(f.events, "load "+path)
	return &fakeModel{backend: f, path: path}, nil
}

// Events lists "load <path>", "load-failed <path>" and "close <path>" in order.
func (f *FakeBackend) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *FakeBackend) Loads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

func (f *FakeBackend) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// Live is the number of models loaded and not yet closed.
func (f *FakeBackend) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

// MaxConcurrent is the highest number of Transcribe calls seen in flight.
func (f *FakeBackend) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

// Languages lists the language passed to each Transcribe call.
func (f *FakeBackend) Languages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.languages...)
}

type fakeModel struct {
	backend *FakeBackend
	path    string
	closed  bool
}

func (m *fakeModel) Transcribe(ctx context.Context, _ []float32, language string) (string, error) {
	f := m.backend
	f.mu.Lock()
	if m.closed {
		f.mu.Unlock()
		return "", fmt.Errorf("fake model %s used after close", m.path)
	}
	f.inflight++
	f.peak = max(f.peak, f.inflight)
	f.languages = append(f.languages, language)
	text, err, delay := f.text, f.err, f.delay
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", fmt.Errorf("fake transcriber error: %w", err)
	}
	return text, nil
}

func (m *fakeModel) Close() error {
	f := m.backend
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	f.live--
	f.closes++
	f.events = append(f.events, "close "+m.path)
	return nil
}
