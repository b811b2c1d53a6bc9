//go:build !whisper

package whisper

import (
	"context"
	"errors"

	"kalam/transcriber"
)

var _ transcriber.Backend = (*Backend)(nil)

const Available = false

var errDisabled = errors.New("whisper.cpp support is disabled in this build (rebuild with -tags whisper or use the exec backend)")

type Backend struct{}

func New() *Backend { return &Backend{} }

func (b *Backend) Name() string { return "whisper" }

func (b *Backend) Load(context.Context, string) (transcriber.Model, error) {
	return nil, errDisabled
}
