package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"

	"kalam/audio"
)

// DefaultCommand is the whisper.cpp command-line tool.
const DefaultCommand = "whisper-cli"

// ExecBackend runs an external whisper.cpp-compatible CLI per transcription.
// The audio goes through a temporary WAV file; the command is invoked as
//
//	<command> -m <model> -f <wav> [-l <lang>] -nt -np
//
// and its trimmed stdout is the transcript.
type ExecBackend struct {
	cmd []string
}

func NewExecBackend(command string) (*ExecBackend, error) {
	if command == "" {
		command = DefaultCommand
	}
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse transcribe command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcribe command is empty")
	}
	return &ExecBackend{cmd: args}, nil
}

func (b *ExecBackend) Name() string { return "exec" }

func (b *ExecBackend) Load(_ context.Context, modelPath string) (Model, error) {
	if _, err := exec.LookPath(b.cmd[0]); err != nil {
		return nil, fmt.Errorf("%s: %w", b.cmd[0], err)
	}
	return &execModel{cmd: b.cmd, path: modelPath}, nil
}

type execModel struct {
	cmd  []string
	path string
}

func (m *execModel) Transcribe(ctx context.Context, samples []float32, language string) (string, error) {
	file, err := os.CreateTemp("", "kalam_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	name := file.Name()
	file.Close()
	defer os.Remove(name)

	if err := audio.WriteWAVFile(name, samples, SampleRate); err != nil {
		return "", err
	}

	args := append([]string{}, m.cmd[1:]...)
	args = append(args, "-m", m.path, "-f", name)
	if language != "" {
		args = append(args, "-l", language)
	} else {
		args = append(args, "-l", AutoLanguage)
	}
	args = append(args, "-nt", "-np")

	command := exec.CommandContext(ctx, m.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return "", fmt.Errorf("%s failed: %w: %s", m.cmd[0], err, strings.TrimSpace(stderr.String()))
	}
	return joinLines(stdout.String()), nil
}

func (m *execModel) Close() error { return nil }

// joinLines collapses the CLI's one-segment-per-line output into one string.
func joinLines(out string) string {
	var parts []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}
