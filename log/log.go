package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const envLogPath = "KALAM_LOG_PATH"

var (
	diagLog        zerolog.Logger
	diagFile       *os.File
	transcribeFile *os.File
	logMu          sync.Mutex
	logReady       atomic.Bool
	pid            int
	dir            string
)

// ResolveDir picks the log directory: the -logpath flag, then
// KALAM_LOG_PATH, then the OS default. Relative paths resolve against the
// working directory.
func ResolveDir(flagPath string) (string, error) {
	for _, p := range []string{flagPath, os.Getenv(envLogPath)} {
		if p == "" {
			continue
		}
		if filepath.IsAbs(p) {
			return p, nil
		}
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(wd, p), nil
	}
	return getDefaultDir()
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	transcribePath := filepath.Join(dir, "transcribe_log.txt")
	transcribeFile, err = os.OpenFile(transcribePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady.Store(true)
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	logReady.Store(false)
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcribeFile != nil {
		transcribeFile.Close()
		transcribeFile = nil
	}
}

func Info(msg string) {
	if logReady.Load() {
		diagLog.Info().Msg(msg)
	}
}

func Error(msg string) {
	if logReady.Load() {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady.Load() {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady.Load() {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady.Load() {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionStart(backend, model, language string) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Str("backend", backend).
		Str("model", model).
		Str("lang", language).
		Msg("session_start")
}

func SessionEnd(count int) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Int("count", count).
		Msg("session_end")
}

func RecordingStart(device string) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().Str("device", device).Msg("recording_start")
}

func RecordingStop(audio time.Duration) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().Float64("audio_s", audio.Seconds()).Msg("recording_stop")
}

func NoAudio() {
	if logReady.Load() {
		diagLog.Info().Msg("no_audio")
	}
}

func CaptureFault(err error) {
	if logReady.Load() {
		diagLog.Error().Err(err).Msg("capture_fault")
	}
}

func ModelLoad(model string, took time.Duration) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Str("model", model).
		Float64("load_ms", float64(took.Microseconds())/1000).
		Msg("model_load")
}

func ModelUnload(model string) {
	if logReady.Load() {
		diagLog.Info().Str("model", model).Msg("model_unload")
	}
}

type TranscriptionData struct {
	Model    string
	Language string
	Source   string
	AudioS   float64
	InferMs  float64
	Chars    int
}

func Transcription(d TranscriptionData) {
	if !logReady.Load() {
		return
	}
	ev := diagLog.Info().
		Str("model", d.Model).
		Str("lang", d.Language)
	if d.Source != "" {
		ev = ev.Str("source", d.Source)
	}
	ev.Float64("audio_s", d.AudioS).
		Float64("infer_ms", d.InferMs).
		Int("chars", d.Chars).
		Msg("transcription")
}

// TranscriptionText appends one line to transcribe_log.txt.
func TranscriptionText(text string) {
	if !logReady.Load() {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if transcribeFile == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, text)
	transcribeFile.WriteString(line)
}
