package transcriber

import (
	"context"
	"errors"
	"time"
)

var (
	ErrModelNotFound         = errors.New("model not found")
	ErrInitializationFailed  = errors.New("model initialization failed")
	ErrContextNotInitialized = errors.New("model context not initialized")
	ErrProcessingFailed      = errors.New("transcription produced no text")
	ErrInvalidAudioFile      = errors.New("invalid audio file")
	ErrPermissionDenied      = errors.New("model runtime permission denied")
)

// SampleRate is the rate every Model expects its input at.
const SampleRate = 16000

// AutoLanguage asks the model to detect the spoken language.
const AutoLanguage = "auto"

// Backend creates Models from files on disk. Implementations: whisper.cpp
// (CGO), an external CLI, and a fake for tests.
type Backend interface {
	Name() string
	Load(ctx context.Context, modelPath string) (Model, error)
}

// Model is one loaded model. Transcribe is never called concurrently on the
// same Model; Session guarantees that. An empty language means auto-detect.
type Model interface {
	Transcribe(ctx context.Context, samples []float32, language string) (string, error)
	Close() error
}

type Result struct {
	ID       string
	Text     string
	Language string
	Model    string

	// Duration is the length of the recorded audio. Zero for file input.
	Duration time.Duration

	// SourceFile is the base name of the transcribed file, if any.
	SourceFile string

	CreatedAt time.Time
	InferTime time.Duration
}

func normalizeLanguage(lang string) string {
	if lang == AutoLanguage {
		return ""
	}
	return lang
}
