package pipeline

import (
	"context"
	"errors"

	"kalam/audio"
	"kalam/transcriber"
)

var (
	ErrBusy         = errors.New("pipeline busy")
	ErrNotRecording = errors.New("not recording")
)

var messages = []struct {
	err  error
	kind string
	msg  string
}{
	{audio.ErrPermissionDenied, "mic_permission", "Microphone permission denied. Please enable in System Settings."},
	{audio.ErrDeviceUnavailable, "no_device", "No audio input device found."},
	{transcriber.ErrPermissionDenied, "model_permission", "Speech recognition permission denied. Please enable in System Settings."},
	{transcriber.ErrModelNotFound, "model_not_found", "Whisper model not found. Please download it first."},
	{transcriber.ErrInitializationFailed, "model_init", "Failed to initialize Whisper model."},
	{transcriber.ErrContextNotInitialized, "no_context", "Whisper context not initialized."},
	{transcriber.ErrProcessingFailed, "processing", "Failed to process audio."},
	{transcriber.ErrInvalidAudioFile, "invalid_audio", "Invalid audio file format."},
	{ErrBusy, "busy", "Still working on the previous recording."},
	{context.Canceled, "canceled", "Cancelled."},
	{context.DeadlineExceeded, "timeout", "Timed out."},
}

// Message returns the user-facing text for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range messages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return err.Error()
}

// kind labels err for the error counter.
func kind(err error) string {
	for _, m := range messages {
		if errors.Is(err, m.err) {
			return m.kind
		}
	}
	return "other"
}
