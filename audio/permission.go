package audio

import (
	"context"
	"sync"
)

// Permission gates access to the microphone. Request may block until the
// user answers a platform prompt.
type Permission interface {
	Request(ctx context.Context) (bool, error)
}

// Granted is the Permission for platforms without a microphone prompt.
type Granted struct{}

func (Granted) Request(context.Context) (bool, error) { return true, nil }

// CallbackPermission adapts a continuation-style platform API: the function
// starts the prompt and eventually calls resolve. Only the first resolve
// counts; later calls, or a resolve after ctx is done, are dropped.
type CallbackPermission func(resolve func(granted bool))

func (p CallbackPermission) Request(ctx context.Context) (bool, error) {
	sig := newSignal()
	go p(sig.resolve)
	select {
	case granted := <-sig.ch:
		return granted, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

type signal struct {
	once sync.Once
	ch   chan bool
}

func newSignal() *signal {
	return &signal{ch: make(chan bool, 1)}
}

func (s *signal) resolve(v bool) {
	s.once.Do(func() { s.ch <- v })
}
