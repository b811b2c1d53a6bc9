// Package doctor runs the interactive checks behind `kalam -doctor`.
package doctor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"kalam/audio"
	"kalam/clipboard"
	"kalam/transcriber"
)

// Checks holds what the diagnostics exercise. A nil Clipboard or a zero
// Record skips that step.
type Checks struct {
	Audio     audio.Context
	Device    *audio.DeviceInfo
	Models    *transcriber.Catalog
	Session   *transcriber.Session
	ModelID   string
	Language  string
	Clipboard clipboard.Board

	// Record is how long the microphone check listens.
	Record time.Duration

	Out io.Writer
	In  io.Reader
}

type check struct {
	title string
	run   func(ctx context.Context, c *Checks, r *bufio.Reader) bool
}

var checks = []check{
	{"Audio devices", checkDevices},
	{"Model", checkModel},
	{"Microphone and transcription", checkMicAndTranscription},
	{"Clipboard", checkClipboard},
}

// Run executes the checks in order and returns an exit code (0=all pass,
// 1=any fail). Later checks are skipped once one fails.
func Run(ctx context.Context, c Checks) int {
	fmt.Fprintln(c.Out, "kalam doctor - system diagnostics")
	fmt.Fprintln(c.Out, "=================================")

	r := bufio.NewReader(c.In)
	allPass := true
	for i, ch := range checks {
		fmt.Fprintln(c.Out)
		fmt.Fprintf(c.Out, "[%d/%d] %s\n", i+1, len(checks), ch.title)
		if !ch.run(ctx, &c, r) {
			allPass = false
			break
		}
	}

	fmt.Fprintln(c.Out)
	if allPass {
		fmt.Fprintln(c.Out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(c.Out, "Some checks failed. See details above.")
	return 1
}

func checkDevices(_ context.Context, c *Checks, _ *bufio.Reader) bool {
	devices, err := c.Audio.Devices()
	if err != nil {
		fmt.Fprintf(c.Out, "  FAIL: cannot list devices: %v\n", err)
		return false
	}
	if len(devices) == 0 {
		fmt.Fprintln(c.Out, "  FAIL: no capture devices found")
		return false
	}
	for _, d := range devices {
		tag := ""
		if audio.IsBluetooth(d.Name) {
			tag = " (bluetooth: expect lower quality)"
		}
		fmt.Fprintf(c.Out, "  - %s%s\n", d.Name, tag)
	}
	name := "system default"
	if c.Device != nil {
		name = c.Device.Name
	}
	fmt.Fprintf(c.Out, "  PASS: %d device(s), using %s\n", len(devices), name)
	return true
}

func checkModel(ctx context.Context, c *Checks, _ *bufio.Reader) bool {
	path, err := c.Models.Resolve(c.ModelID)
	if err != nil {
		fmt.Fprintf(c.Out, "  FAIL: %v\n", err)
		fmt.Fprintf(c.Out, "  Download ggml models into %s\n", c.Models.Dir())
		return false
	}
	start := time.Now()
	if err := c.Session.LoadModel(ctx, c.ModelID, path); err != nil {
		fmt.Fprintf(c.Out, "  FAIL: %v\n", err)
		return false
	}
	fmt.Fprintf(c.Out, "  PASS: %s loaded with %s backend in %s\n",
		c.ModelID, c.Session.Backend(), time.Since(start).Round(time.Millisecond))
	return true
}

func checkMicAndTranscription(ctx context.Context, c *Checks, r *bufio.Reader) bool {
	if c.Record <= 0 {
		fmt.Fprintln(c.Out, "  SKIP")
		return true
	}
	fmt.Fprintf(c.Out, "Press Enter and speak for %s...", c.Record)
	r.ReadString('\n')

	engine := audio.NewEngine(c.Audio, audio.WithDevice(c.Device))
	if err := engine.Start(ctx); err != nil {
		fmt.Fprintf(c.Out, "\n  FAIL: recording error: %v\n", err)
		return false
	}
	select {
	case <-time.After(c.Record):
	case <-ctx.Done():
	}
	rec, err := engine.Stop()
	if err != nil {
		fmt.Fprintf(c.Out, "\n  FAIL: recording error: %v\n", err)
		return false
	}
	if rec == nil {
		fmt.Fprintln(c.Out, "\n  FAIL: no audio captured")
		return false
	}
	fmt.Fprintf(c.Out, "\n  Recorded %.1fs (level %.2f), transcribing...\n",
		rec.Duration().Seconds(), audio.Level(rec.Samples))

	path, _ := c.Models.Resolve(c.ModelID)
	res, err := c.Session.Transcribe(ctx, rec.Samples, c.ModelID, path, c.Language)
	if err != nil {
		fmt.Fprintf(c.Out, "  FAIL: transcription error: %v\n", err)
		return false
	}
	fmt.Fprintf(c.Out, "\n  Transcribed text: %s\n\n", res.Text)

	fmt.Fprint(c.Out, "Is this correct? [y/n]: ")
	confirm, _ := r.ReadString('\n')
	confirm = strings.TrimSpace(strings.ToLower(confirm))
	if confirm == "y" || confirm == "yes" {
		fmt.Fprintln(c.Out, "  PASS: transcription verified by user")
		return true
	}
	fmt.Fprintln(c.Out, "  FAIL: transcription not confirmed")
	return false
}

func checkClipboard(_ context.Context, c *Checks, _ *bufio.Reader) bool {
	if c.Clipboard == nil {
		fmt.Fprintln(c.Out, "  SKIP: clipboard output disabled")
		return true
	}
	prev, _ := c.Clipboard.ReadAll()

	sentinel := fmt.Sprintf("kalam-doctor-%d", time.Now().UnixNano())
	if err := c.Clipboard.WriteAll(sentinel); err != nil {
		fmt.Fprintf(c.Out, "  FAIL: clipboard copy failed: %v\n", err)
		return false
	}
	got, err := c.Clipboard.ReadAll()
	if prev != "" {
		c.Clipboard.WriteAll(prev)
	}
	if err != nil {
		fmt.Fprintf(c.Out, "  FAIL: could not read clipboard: %v\n", err)
		return false
	}
	if got != sentinel {
		fmt.Fprintf(c.Out, "  FAIL: clipboard round trip (got %q, want %q)\n", got, sentinel)
		return false
	}
	fmt.Fprintln(c.Out, "  PASS: clipboard round trip")
	return true
}
