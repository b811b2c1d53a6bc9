package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFromReaderOverridesDefaults(t *testing.T) {
	src := `
model:
  id: small
  backend: exec
  command: whisper-cli --threads 4
language: de
capture:
  device: USB Mic
output:
  clipboard: false
  clipboard_append: true
  archive_dir: /tmp/rec
  archive_format: flac
metrics:
  addr: 127.0.0.1:9464
`
	cfg, err := LoadFromReader(strings.NewReader(src))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model.ID != "small" || cfg.Model.Backend != "exec" || cfg.Model.Command != "whisper-cli --threads 4" {
		t.Errorf("model = %+v", cfg.Model)
	}
	if cfg.Language != "de" || cfg.Capture.Device != "USB Mic" {
		t.Errorf("language=%q device=%q", cfg.Language, cfg.Capture.Device)
	}
	if cfg.Output.Clipboard || !cfg.Output.ClipboardAppend {
		t.Errorf("clipboard=%v append=%v", cfg.Output.Clipboard, cfg.Output.ClipboardAppend)
	}
	if cfg.Output.ArchiveFormat != "flac" || cfg.Metrics.Addr != "127.0.0.1:9464" {
		t.Errorf("output=%+v metrics=%+v", cfg.Output, cfg.Metrics)
	}
	// Untouched fields keep their defaults.
	if cfg.Model.Dir != Default().Model.Dir || cfg.Output.History != Default().Output.History {
		t.Errorf("defaults lost: dir=%q history=%q", cfg.Model.Dir, cfg.Output.History)
	}
}

func TestLoadFromReaderEmpty(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model.ID != "base" || cfg.Language != "auto" || !cfg.Output.Clipboard || cfg.Output.ClipboardAppend {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("model:\n  size: huge\n"))
	if err == nil || !strings.Contains(err.Error(), "size") {
		t.Errorf("got %v, want unknown field error", err)
	}
}

func TestValidateReportsAll(t *testing.T) {
	cfg := Default()
	cfg.Model.ID = "huge"
	cfg.Model.Backend = "cloud"
	cfg.Language = ""
	cfg.Output.ArchiveDir = "/tmp"
	cfg.Output.ArchiveFormat = "mp3"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"model.id", "model.backend", "language", "output.archive_format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidateExecNeedsCommand(t *testing.T) {
	cfg := Default()
	cfg.Model.Backend = "exec"
	cfg.Model.Command = ""
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "model.command") {
		t.Errorf("got %v", err)
	}
	if err := Validate(Default()); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "none.yaml")
	cfg, err := Load(path, false)
	if err != nil || cfg.Model.ID != "base" {
		t.Fatalf("optional missing file: %v, %v", cfg, err)
	}
	if _, err := Load(path, true); err == nil {
		t.Error("expected error for required missing file")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kalam.yaml")
	if err := os.WriteFile(path, []byte("model:\n  id: tiny\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model.ID != "tiny" {
		t.Errorf("Model.ID = %q", cfg.Model.ID)
	}

	if err := os.WriteFile(path, []byte("model:\n  id: [\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, true); err == nil || !strings.Contains(err.Error(), path) {
		t.Errorf("got %v, want parse error naming the file", err)
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvPath, "/env/kalam.yaml")
	if got := ResolvePath("/flag.yaml"); got != "/flag.yaml" {
		t.Errorf("flag: got %q", got)
	}
	if got := ResolvePath(""); got != "/env/kalam.yaml" {
		t.Errorf("env: got %q", got)
	}
	t.Setenv(EnvPath, "")
	if got := ResolvePath(""); filepath.Base(got) != "config.yaml" || filepath.Base(filepath.Dir(got)) != "kalam" {
		t.Errorf("default: got %q", got)
	}
}
