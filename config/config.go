// Package config loads the optional kalam.yaml settings file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// EnvPath names the config file when -config is not given.
const EnvPath = "KALAM_CONFIG"

var (
	validModels   = []string{"tiny", "base", "small", "medium", "large"}
	validBackends = []string{"whisper", "exec"}
	validFormats  = []string{"wav", "flac"}
)

type Config struct {
	Model    ModelConfig   `yaml:"model"`
	Language string        `yaml:"language"`
	Capture  CaptureConfig `yaml:"capture"`
	Output   OutputConfig  `yaml:"output"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

type ModelConfig struct {
	ID      string `yaml:"id"`
	Dir     string `yaml:"dir"`
	Backend string `yaml:"backend"`
	// Command is the exec backend's command line, split with shell rules.
	Command string `yaml:"command"`
}

type CaptureConfig struct {
	// Device is an input device name. Empty means the system default.
	Device string `yaml:"device"`
}

type OutputConfig struct {
	Clipboard bool `yaml:"clipboard"`
	// ClipboardAppend adds each transcription after the current clipboard
	// text instead of replacing it.
	ClipboardAppend bool `yaml:"clipboard_append"`
	// History is the SQLite file. Empty disables history.
	History       string `yaml:"history"`
	ArchiveDir    string `yaml:"archive_dir"`
	ArchiveFormat string `yaml:"archive_format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the settings used when no file exists. Paths live under
// the user's config directory.
func Default() *Config {
	base := appDir()
	return &Config{
		Model: ModelConfig{
			ID:      "base",
			Dir:     filepath.Join(base, "models"),
			Backend: "whisper",
			Command: "whisper-cli",
		},
		Language: "auto",
		Output: OutputConfig{
			Clipboard:     true,
			History:       filepath.Join(base, "history.db"),
			ArchiveFormat: "wav",
		},
	}
}

func appDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "kalam")
}

// ResolvePath picks the config file: flag value, then $KALAM_CONFIG, then
// <user config dir>/kalam/config.yaml.
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return filepath.Join(appDir(), "config.yaml")
}

// Load reads path over the defaults. A missing file is not an error unless
// required is set.
func Load(path string, required bool) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r on top of Default and validates it.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	var errs []error
	if !slices.Contains(validModels, cfg.Model.ID) {
		errs = append(errs, fmt.Errorf("model.id %q is invalid; valid values: %v", cfg.Model.ID, validModels))
	}
	if cfg.Model.Dir == "" {
		errs = append(errs, errors.New("model.dir is required"))
	}
	if !slices.Contains(validBackends, cfg.Model.Backend) {
		errs = append(errs, fmt.Errorf("model.backend %q is invalid; valid values: %v", cfg.Model.Backend, validBackends))
	}
	if cfg.Model.Backend == "exec" && cfg.Model.Command == "" {
		errs = append(errs, errors.New("model.command is required for the exec backend"))
	}
	if cfg.Language == "" {
		errs = append(errs, errors.New(`language is required; use "auto" to detect`))
	}
	if cfg.Output.ArchiveDir != "" && !slices.Contains(validFormats, cfg.Output.ArchiveFormat) {
		errs = append(errs, fmt.Errorf("output.archive_format %q is invalid; valid values: %v", cfg.Output.ArchiveFormat, validFormats))
	}
	return errors.Join(errs...)
}
