// Package pipeline drives one dictation at a time through
// Idle → Recording → Processing → Idle, tying the capture engine to the
// model session and handing results to the outside collaborators.
package pipeline

import (
	"context"
	"sync"
	"time"

	"kalam/audio"
	"kalam/log"
	"kalam/metrics"
	"kalam/transcriber"
)

type State int

const (
	Idle State = iota
	Recording
	Processing
	// Error is reported to the Sink when a run fails. The pipeline moves on
	// to Idle straight after, so State never returns it.
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Processing:
		return "processing"
	case Error:
		return "error"
	}
	return "unknown"
}

const defaultTickInterval = 100 * time.Millisecond

// Recorder is the capture side; *audio.Engine implements it.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() (*audio.Resampled, error)
	Level() float64
	Elapsed() time.Duration
	Faults() <-chan error
}

// Transcriber is the model side; *transcriber.Session implements it.
type Transcriber interface {
	LoadModel(ctx context.Context, id, path string) error
	Transcribe(ctx context.Context, samples []float32, modelID, modelPath, language string) (*transcriber.Result, error)
	TranscribeFile(ctx context.Context, path, modelID, modelPath, language string) (*transcriber.Result, error)
}

// Models maps a model id to an installed file; *transcriber.Catalog
// implements it.
type Models interface {
	Resolve(id string) (string, error)
}

// Sink receives everything the UI shows. Calls come from the goroutine that
// caused them and from the meter ticker; implementations must not block.
type Sink interface {
	StateChanged(State)
	Level(level float64)
	Duration(d time.Duration)
	Transcription(res *transcriber.Result)
	Failed(message string, err error)
}

type History interface {
	Save(ctx context.Context, res *transcriber.Result) error
}

// Deliverer puts finished text where the user wants it (clipboard, cursor).
type Deliverer interface {
	Deliver(text string) error
}

type Archiver interface {
	Save(rec *audio.Resampled) (string, error)
}

type Config struct {
	Recorder    Recorder
	Transcriber Transcriber
	Models      Models

	// Optional collaborators.
	Sink    Sink
	History History
	Deliver Deliverer
	Archive Archiver
	Metrics *metrics.Metrics

	Model    string
	Language string

	// TickInterval paces Level and Duration updates. Default 100ms.
	TickInterval time.Duration
}

type Pipeline struct {
	cfg  Config
	sink Sink

	mu       sync.Mutex
	state    State
	starting bool
	model    string
	lang     string
	stopTick chan struct{}
	count    int
}

func New(cfg Config) *Pipeline {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.Model == "" {
		cfg.Model = transcriber.DefaultModel
	}
	sink := cfg.Sink
	if sink == nil {
		sink = nopSink{}
	}
	return &Pipeline{
		cfg:   cfg,
		sink:  sink,
		model: cfg.Model,
		lang:  cfg.Language,
	}
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Count is the number of successful transcriptions so far.
func (p *Pipeline) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// SetModel switches the model used from the next run on. The session swaps
// the loaded model lazily.
func (p *Pipeline) SetModel(id string) {
	p.mu.Lock()
	p.model = id
	p.mu.Unlock()
}

func (p *Pipeline) SetLanguage(lang string) {
	p.mu.Lock()
	p.lang = lang
	p.mu.Unlock()
}

func (p *Pipeline) Model() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model
}

func (p *Pipeline) Language() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lang
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.sink.StateChanged(s)
}

// Preload loads the configured model ahead of the first recording.
func (p *Pipeline) Preload(ctx context.Context) error {
	model := p.Model()
	path, err := p.cfg.Models.Resolve(model)
	if err == nil {
		err = p.cfg.Transcriber.LoadModel(ctx, model, path)
	}
	if err != nil {
		log.Errorf("preload %s: %v", model, err)
		p.report(ctx, err)
		return err
	}
	return nil
}

// Start begins a recording. It needs the configured model to be installed
// and fails with ErrBusy unless the pipeline is Idle. On failure the
// pipeline stays Idle.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != Idle || p.starting {
		p.mu.Unlock()
		return ErrBusy
	}
	p.starting = true
	model := p.model
	p.mu.Unlock()

	err := p.start(ctx, model)

	p.mu.Lock()
	p.starting = false
	if err == nil {
		p.state = Recording
		p.stopTick = make(chan struct{})
		go p.tick(p.stopTick)
	}
	p.mu.Unlock()

	if err != nil {
		p.report(ctx, err)
		return err
	}
	p.sink.StateChanged(Recording)
	return nil
}

func (p *Pipeline) start(ctx context.Context, model string) error {
	if _, err := p.cfg.Models.Resolve(model); err != nil {
		return err
	}
	return p.cfg.Recorder.Start(ctx)
}

// tick publishes the meter while recording and turns a device fault into a
// failed run.
func (p *Pipeline) tick(stop <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()
	faults := p.cfg.Recorder.Faults()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.sink.Level(p.cfg.Recorder.Level())
			p.sink.Duration(p.cfg.Recorder.Elapsed())
		case err := <-faults:
			log.Errorf("recording aborted: %v", err)
			p.Stop(context.Background())
			return
		}
	}
}

// Stop ends the recording and transcribes it. With no captured audio the
// pipeline goes straight back to Idle and Stop returns nil, nil. Every other
// path passes through Processing and ends in Idle.
func (p *Pipeline) Stop(ctx context.Context) (*transcriber.Result, error) {
	p.mu.Lock()
	if p.state != Recording {
		p.mu.Unlock()
		return nil, ErrNotRecording
	}
	p.state = Processing
	close(p.stopTick)
	p.stopTick = nil
	model, lang := p.model, p.lang
	p.mu.Unlock()

	rec, err := p.cfg.Recorder.Stop()
	if err != nil {
		p.fail(ctx, err)
		return nil, err
	}
	if rec == nil {
		log.NoAudio()
		p.setState(Idle)
		return nil, nil
	}
	p.sink.StateChanged(Processing)

	dur := rec.Duration()
	log.RecordingStop(dur)
	p.cfg.Metrics.RecordRecording(ctx, dur)

	if p.cfg.Archive != nil {
		if path, err := p.cfg.Archive.Save(rec); err != nil {
			log.Warnf("archive: %v", err)
		} else {
			log.Info("archived " + path)
		}
	}

	path, err := p.cfg.Models.Resolve(model)
	if err != nil {
		p.fail(ctx, err)
		return nil, err
	}
	res, err := p.cfg.Transcriber.Transcribe(ctx, rec.Samples, model, path, lang)
	if err != nil {
		p.fail(ctx, err)
		return nil, err
	}

	p.save(ctx, res)
	if p.cfg.Deliver != nil {
		if err := p.cfg.Deliver.Deliver(res.Text); err != nil {
			log.Warnf("deliver: %v", err)
		}
	}
	p.succeed(res)
	return res, nil
}

// TranscribeFile runs a WAV file through the model with the same state
// transitions as a recording. The text goes to history only.
func (p *Pipeline) TranscribeFile(ctx context.Context, file string) (*transcriber.Result, error) {
	p.mu.Lock()
	if p.state != Idle || p.starting {
		p.mu.Unlock()
		return nil, ErrBusy
	}
	p.state = Processing
	model, lang := p.model, p.lang
	p.mu.Unlock()
	p.sink.StateChanged(Processing)

	path, err := p.cfg.Models.Resolve(model)
	if err != nil {
		p.fail(ctx, err)
		return nil, err
	}
	res, err := p.cfg.Transcriber.TranscribeFile(ctx, file, model, path, lang)
	if err != nil {
		p.fail(ctx, err)
		return nil, err
	}
	p.save(ctx, res)
	p.succeed(res)
	return res, nil
}

func (p *Pipeline) save(ctx context.Context, res *transcriber.Result) {
	if p.cfg.History == nil {
		return
	}
	if err := p.cfg.History.Save(ctx, res); err != nil {
		log.Warnf("history: %v", err)
	}
}

func (p *Pipeline) succeed(res *transcriber.Result) {
	log.TranscriptionText(res.Text)
	p.mu.Lock()
	p.count++
	p.mu.Unlock()
	p.sink.Transcription(res)
	p.setState(Idle)
}

func (p *Pipeline) fail(ctx context.Context, err error) {
	p.sink.StateChanged(Error)
	p.report(ctx, err)
	p.setState(Idle)
}

func (p *Pipeline) report(ctx context.Context, err error) {
	log.Errorf("%s: %v", kind(err), err)
	p.cfg.Metrics.RecordError(ctx, kind(err))
	p.sink.Failed(Message(err), err)
}

type nopSink struct{}

func (nopSink) StateChanged(State)                {}
func (nopSink) Level(float64)                     {}
func (nopSink) Duration(time.Duration)            {}
func (nopSink) Transcription(*transcriber.Result) {}
func (nopSink) Failed(string, error)              {}
