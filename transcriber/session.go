package transcriber

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"kalam/audio"
	"kalam/log"
	"kalam/metrics"
)

type loaded struct {
	id    string
	path  string
	model Model
}

// Session owns at most one loaded Model. Loads, unloads and transcriptions
// are serialised: a caller waits for the one in flight, or gives up when its
// context is done.
type Session struct {
	backend Backend
	metrics *metrics.Metrics
	now     func() time.Time

	sem *semaphore.Weighted

	mu     sync.Mutex
	active *loaded
}

type SessionOption func(*Session)

func WithMetrics(m *metrics.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

func NewSession(backend Backend, opts ...SessionOption) *Session {
	s := &Session{
		backend: backend,
		now:     time.Now,
		sem:     semaphore.NewWeighted(1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) Backend() string { return s.backend.Name() }

// ActiveModel returns the id of the loaded model, or "".
func (s *Session) ActiveModel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.id
}

// LoadModel makes id the active model. It returns immediately if id is
// already loaded from path. Any other model is closed before the new one
// loads; if that load fails nothing is left loaded.
func (s *Session) LoadModel(ctx context.Context, id, path string) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)
	return s.load(ctx, id, path)
}

// load requires s.sem.
func (s *Session) load(ctx context.Context, id, path string) error {
	s.mu.Lock()
	cur := s.active
	s.mu.Unlock()
	if cur != nil && cur.id == id && cur.path == path {
		return nil
	}
	s.unload()

	ctx, span := metrics.StartSpan(ctx, "transcriber.load",
		trace.WithAttributes(attribute.String("model", id)))
	defer span.End()

	if path == "" {
		err := fmt.Errorf("%w: no path for model %q", ErrInitializationFailed, id)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if _, err := os.Stat(path); err != nil {
		err = fmt.Errorf("%w: %v", ErrInitializationFailed, err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	start := s.now()
	m, err := s.backend.Load(ctx, path)
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrInitializationFailed, id, err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	took := s.now().Sub(start)

	s.mu.Lock()
	s.active = &loaded{id: id, path: path, model: m}
	s.mu.Unlock()

	log.ModelLoad(id, took)
	s.metrics.RecordModelLoad(ctx, id, took)
	return nil
}

// unload requires s.sem.
func (s *Session) unload() {
	s.mu.Lock()
	cur := s.active
	s.active = nil
	s.mu.Unlock()
	if cur == nil {
		return
	}
	if err := cur.model.Close(); err != nil {
		log.Warnf("model %s close: %v", cur.id, err)
	}
	log.ModelUnload(cur.id)
}

// Unload releases the active model. It is a no-op when nothing is loaded.
func (s *Session) Unload() {
	// Acquire only fails on a done context.
	_ = s.sem.Acquire(context.Background(), 1)
	defer s.sem.Release(1)
	s.unload()
}

func (s *Session) Close() error {
	s.Unload()
	return nil
}

// Transcribe runs samples (16 kHz mono) through modelID, loading it from
// modelPath first if needed. With an empty modelID the active model is
// used as is. language "" or "auto" lets the model detect it.
func (s *Session) Transcribe(ctx context.Context, samples []float32, modelID, modelPath, language string) (*Result, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrInvalidAudioFile)
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	if modelID != "" {
		if err := s.load(ctx, modelID, modelPath); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	cur := s.active
	s.mu.Unlock()
	if cur == nil {
		return nil, ErrContextNotInitialized
	}

	lang := normalizeLanguage(language)
	ctx, span := metrics.StartSpan(ctx, "transcriber.transcribe",
		trace.WithAttributes(
			attribute.String("model", cur.id),
			attribute.Int("samples", len(samples)),
		))
	defer span.End()

	start := s.now()
	text, err := cur.model.Transcribe(ctx, samples, lang)
	took := s.now().Sub(start)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordTranscription(ctx, cur.id, "error", took)
		if errors.Is(err, ErrPermissionDenied) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrProcessingFailed, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.metrics.RecordTranscription(ctx, cur.id, "empty", took)
		return nil, ErrProcessingFailed
	}
	s.metrics.RecordTranscription(ctx, cur.id, "ok", took)

	if lang == "" {
		lang = AutoLanguage
	}
	res := &Result{
		ID:        uuid.NewString(),
		Text:      text,
		Language:  lang,
		Model:     cur.id,
		Duration:  time.Duration(float64(len(samples)) / SampleRate * float64(time.Second)),
		CreatedAt: s.now(),
		InferTime: took,
	}
	log.Transcription(log.TranscriptionData{
		Model:    res.Model,
		Language: res.Language,
		AudioS:   res.Duration.Seconds(),
		InferMs:  float64(took.Microseconds()) / 1000,
		Chars:    len(text),
	})
	return res, nil
}

// TranscribeFile transcribes a 16 kHz mono 16-bit WAV file. The header is
// skipped, not parsed. The result carries the file's base name and no
// duration.
func (s *Session) TranscribeFile(ctx context.Context, path, modelID, modelPath, language string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudioFile, err)
	}
	samples, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudioFile, err)
	}
	res, err := s.Transcribe(ctx, samples, modelID, modelPath, language)
	if err != nil {
		return nil, err
	}
	res.SourceFile = filepath.Base(path)
	res.Duration = 0
	return res, nil
}
