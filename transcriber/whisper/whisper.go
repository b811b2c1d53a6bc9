//go:build whisper

// Package whisper runs whisper.cpp models in-process through the CGO
// bindings. Build with -tags whisper and libwhisper on LIBRARY_PATH and
// C_INCLUDE_PATH; without the tag, Load always fails.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"kalam/log"
	"kalam/transcriber"
)

var _ transcriber.Backend = (*Backend)(nil)

// Available reports whether this binary was built with whisper.cpp.
const Available = true

type Backend struct {
	threads uint
}

func New() *Backend {
	return &Backend{threads: uint(max(1, runtime.NumCPU()-1))}
}

func (b *Backend) Name() string { return "whisper" }

func (b *Backend) Load(_ context.Context, modelPath string) (transcriber.Model, error) {
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return &whisperModel{model: model, threads: b.threads}, nil
}

type whisperModel struct {
	model   whisperlib.Model
	threads uint
}

// Transcribe uses a fresh context per call; contexts are not reusable
// across audio buffers.
func (m *whisperModel) Transcribe(ctx context.Context, samples []float32, language string) (string, error) {
	wctx, err := m.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	wctx.SetThreads(m.threads)

	lang := language
	if lang == "" {
		lang = transcriber.AutoLanguage
	}
	if m.model.IsMultilingual() {
		if err := wctx.SetLanguage(lang); err != nil {
			log.Warnf("whisper: language %q rejected, using auto: %v", lang, err)
		}
	}

	keepGoing := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, keepGoing, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

func (m *whisperModel) Close() error {
	return m.model.Close()
}
