package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"kalam/audio"
	"kalam/config"
	"kalam/history"
	"kalam/pipeline"
	"kalam/transcriber"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestParseFlagsOverrides(t *testing.T) {
	fs := flag.NewFlagSet("kalam", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	o, set, err := parseFlags(fs, []string{"-model", "tiny", "-clipboard=false", "-append", "-archive", "/tmp/rec"})
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Language = "de"
	applyFlags(cfg, o, set)

	if cfg.Model.ID != "tiny" || cfg.Output.Clipboard || !cfg.Output.ClipboardAppend || cfg.Output.ArchiveDir != "/tmp/rec" {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.Language != "de" {
		t.Errorf("unset -lang overrode file value: %q", cfg.Language)
	}
}

func TestParseFlagsRejectsUnknown(t *testing.T) {
	fs := flag.NewFlagSet("kalam", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if _, _, err := parseFlags(fs, []string{"-stream"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestNewBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Model.Backend = "exec"
	b, err := newBackend(cfg)
	if err != nil || b.Name() != "exec" {
		t.Fatalf("exec backend: %v, %v", b, err)
	}
	cfg.Model.Backend = "whisper"
	if b, err = newBackend(cfg); err != nil || b.Name() != "whisper" {
		t.Fatalf("whisper backend: %v, %v", b, err)
	}
	cfg.Model.Backend = "cloud"
	if _, err := newBackend(cfg); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestMeterBar(t *testing.T) {
	tests := []struct {
		level float64
		want  string
	}{
		{0, "[    ]"},
		{0.5, "[##  ]"},
		{1, "[####]"},
		{2, "[####]"},
		{-1, "[    ]"},
	}
	for _, tt := range tests {
		if got := meterBar(tt.level, 4); got != tt.want {
			t.Errorf("meterBar(%v) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestTerminalSink(t *testing.T) {
	var out bytes.Buffer
	s := newTerminalSink(&out)
	s.StateChanged(pipeline.Recording)
	s.Level(0.7)
	s.Duration(time.Second)
	s.StateChanged(pipeline.Processing)
	s.Transcription(&transcriber.Result{Text: "hello", Model: "base", Duration: 1500 * time.Millisecond})
	s.Failed("No audio input device found.", errors.New("x"))

	got := out.String()
	for _, want := range []string{"recording", "transcribing", "» hello", "1.5s audio, base", "✗ No audio input device found."} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "[#") {
		t.Error("meter drawn on a non-terminal writer")
	}
}

type harness struct {
	p     *pipeline.Pipeline
	fc    *audio.FakeContext
	store *history.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ggml-base.bin"), []byte("ggml"), 0644); err != nil {
		t.Fatal(err)
	}
	store, err := history.Open(context.Background(), filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	fc := audio.NewFakeContext(16000)
	p := pipeline.New(pipeline.Config{
		Recorder:     audio.NewEngine(fc),
		Transcriber:  transcriber.NewSession(transcriber.NewFake("dictated words", nil)),
		Models:       transcriber.NewCatalog(dir),
		History:      store,
		TickInterval: 5 * time.Millisecond,
	})
	return &harness{p: p, fc: fc, store: store}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRunInteractive(t *testing.T) {
	h := newHarness(t)
	inR, inW := io.Pipe()
	out := &syncBuffer{}

	done := make(chan error, 1)
	go func() { done <- runInteractive(context.Background(), h.p, h.store, inR, out) }()

	io.WriteString(inW, "\n")
	waitFor(t, "recording", func() bool { return h.p.State() == pipeline.Recording })
	h.fc.Last().Deliver(make([]float32, 8000))

	io.WriteString(inW, "\n")
	waitFor(t, "transcription", func() bool { return h.p.Count() == 1 && h.p.State() == pipeline.Idle })

	io.WriteString(inW, "m tiny\nm huge\nl de\nh\nq\n")
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	got := out.String()
	for _, want := range []string{"model: tiny", `unknown model "huge"`, "language: de", "dictated words"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if h.p.Model() != "tiny" || h.p.Language() != "de" {
		t.Errorf("model=%q language=%q", h.p.Model(), h.p.Language())
	}
}

func TestRunInteractiveStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	inR, inW := io.Pipe()
	defer inW.Close()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- runInteractive(ctx, h.p, h.store, inR, io.Discard) }()

	io.WriteString(inW, "\n")
	waitFor(t, "recording", func() bool { return h.p.State() == pipeline.Recording })
	h.fc.Last().Deliver(make([]float32, 1600))
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if h.p.State() != pipeline.Idle || h.p.Count() != 1 {
		t.Errorf("recording in flight was not finished: state=%v count=%d", h.p.State(), h.p.Count())
	}
}

func TestRunTestMode(t *testing.T) {
	wav := filepath.Join(t.TempDir(), "speech.wav")
	if err := audio.WriteWAVFile(wav, make([]float32, 3200), 16000); err != nil {
		t.Fatal(err)
	}
	fc, err := audio.NewFakeContextFromWAV(wav, true)
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t)
	h.p = pipeline.New(pipeline.Config{
		Recorder:    audio.NewEngine(fc),
		Transcriber: transcriber.NewSession(transcriber.NewFake("from wav", nil)),
		Models:      transcriber.NewCatalog(filepath.Dir(mustModel(t))),
		History:     h.store,
	})

	script := "START\nWAIT_AUDIO_DONE\nSTOP\nWAIT\nBOGUS\nSLEEP 1\nQUIT\n"
	if code := runTestMode(context.Background(), h.p, fc, strings.NewReader(script)); code != 0 {
		t.Fatalf("exit code %d", code)
	}
	entries, err := h.store.List(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Text != "from wav" {
		t.Errorf("history = %+v", entries)
	}
}

func mustModel(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "ggml-base.bin")
	if err := os.WriteFile(p, []byte("ggml"), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestHistoryCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "history.db")
	cfgPath := filepath.Join(dir, "kalam.yaml")
	if err := os.WriteFile(cfgPath, []byte("output:\n  history: "+dbPath+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	store, err := history.Open(ctx, dbPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, text := range []string{"buy milk", "call the bank"} {
		if err := store.Save(ctx, &transcriber.Result{ID: text, Text: text}); err != nil {
			t.Fatal(err)
		}
	}
	store.Close()

	run := func(args ...string) (int, string, string) {
		var stdout, stderr bytes.Buffer
		code := historyCommand(ctx, append([]string{"-config", cfgPath}, args...), &stdout, &stderr)
		return code, stdout.String(), stderr.String()
	}

	code, out, _ := run()
	if code != 0 || !strings.Contains(out, "buy milk") || !strings.Contains(out, "call the bank") {
		t.Errorf("list: code=%d out=%q", code, out)
	}
	code, out, _ = run("MILK")
	if code != 0 || !strings.Contains(out, "buy milk") || strings.Contains(out, "bank") {
		t.Errorf("search: code=%d out=%q", code, out)
	}
	if code, _, _ = run("delete", "buy milk"); code != 0 {
		t.Errorf("delete: code=%d", code)
	}
	if code, _, errOut := run("delete", "buy milk"); code != 1 || !strings.Contains(errOut, "not found") {
		t.Errorf("second delete: code=%d err=%q", code, errOut)
	}
	code, out, _ = run("clear")
	if code != 0 || !strings.Contains(out, "Deleted 1") {
		t.Errorf("clear: code=%d out=%q", code, out)
	}
	code, out, _ = run()
	if code != 0 || !strings.Contains(out, "(no transcriptions)") {
		t.Errorf("empty list: code=%d out=%q", code, out)
	}
}
