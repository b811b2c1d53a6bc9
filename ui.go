package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"kalam/history"
	"kalam/log"
	"kalam/pipeline"
	"kalam/transcriber"
)

const meterWidth = 30

// terminalSink prints pipeline progress. The live meter line is only drawn
// when out is a terminal.
type terminalSink struct {
	mu      sync.Mutex
	out     io.Writer
	live    bool
	elapsed time.Duration
	metered bool

	recStyle  lipgloss.Style
	busyStyle lipgloss.Style
	textStyle lipgloss.Style
	dimStyle  lipgloss.Style
	errStyle  lipgloss.Style
}

func newTerminalSink(out io.Writer) *terminalSink {
	live := false
	if f, ok := out.(*os.File); ok {
		live = term.IsTerminal(int(f.Fd()))
	}
	r := lipgloss.NewRenderer(out)
	return &terminalSink{
		out:       out,
		live:      live,
		recStyle:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		busyStyle: r.NewStyle().Foreground(lipgloss.Color("214")),
		textStyle: r.NewStyle().Bold(true),
		dimStyle:  r.NewStyle().Foreground(lipgloss.Color("245")),
		errStyle:  r.NewStyle().Foreground(lipgloss.Color("160")),
	}
}

// clearMeter ends the meter line. Callers hold s.mu.
func (s *terminalSink) clearMeter() {
	if s.metered {
		fmt.Fprint(s.out, "\r\033[K")
		s.metered = false
	}
}

func (s *terminalSink) StateChanged(st pipeline.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearMeter()
	switch st {
	case pipeline.Recording:
		s.elapsed = 0
		fmt.Fprintln(s.out, s.recStyle.Render("● recording")+s.dimStyle.Render(" (Enter to stop)"))
	case pipeline.Processing:
		fmt.Fprintln(s.out, s.busyStyle.Render("… transcribing"))
	}
}

func (s *terminalSink) Duration(d time.Duration) {
	s.mu.Lock()
	s.elapsed = d
	s.mu.Unlock()
}

func (s *terminalSink) Level(level float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live {
		return
	}
	fmt.Fprintf(s.out, "\r\033[K%5.1fs %s", s.elapsed.Seconds(), s.recStyle.Render(meterBar(level, meterWidth)))
	s.metered = true
}

func meterBar(level float64, width int) string {
	n := int(level*float64(width) + 0.5)
	n = max(0, min(width, n))
	return "[" + strings.Repeat("#", n) + strings.Repeat(" ", width-n) + "]"
}

func (s *terminalSink) Transcription(res *transcriber.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearMeter()
	meta := fmt.Sprintf("%s, %s", res.Model, res.InferTime.Round(time.Millisecond))
	if res.Duration > 0 {
		meta = fmt.Sprintf("%.1fs audio, %s", res.Duration.Seconds(), meta)
	}
	fmt.Fprintf(s.out, "» %s\n  %s\n", s.textStyle.Render(res.Text), s.dimStyle.Render("("+meta+")"))
}

func (s *terminalSink) Failed(message string, _ error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearMeter()
	fmt.Fprintln(s.out, s.errStyle.Render("✗ "+message))
}

const interactiveHelp = `Enter      start/stop recording
m <id>     switch model (tiny, base, small, medium, large)
l <code>   set language ("auto" detects)
h [n]      show the last n transcriptions
q          quit`

// runInteractive reads commands from in until EOF, "q" or ctx is done. An
// empty line toggles recording.
func runInteractive(ctx context.Context, p *pipeline.Pipeline, store *history.Store, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, interactiveHelp)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			stopIfRecording(p)
			return ctx.Err()
		case line, ok = <-lines:
		}
		if !ok {
			stopIfRecording(p)
			return nil
		}

		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "":
			toggle(ctx, p)
		case "q", "quit":
			stopIfRecording(p)
			return nil
		case "m":
			if !transcriber.Known(arg) {
				fmt.Fprintf(out, "unknown model %q\n", arg)
				continue
			}
			p.SetModel(arg)
			fmt.Fprintf(out, "model: %s\n", arg)
		case "l":
			if arg == "" {
				arg = transcriber.AutoLanguage
			}
			p.SetLanguage(arg)
			fmt.Fprintf(out, "language: %s\n", arg)
		case "h":
			showHistory(ctx, store, arg, out)
		default:
			fmt.Fprintln(out, interactiveHelp)
		}
	}
}

func toggle(ctx context.Context, p *pipeline.Pipeline) {
	switch p.State() {
	case pipeline.Idle:
		// Failures already reached the sink.
		p.Start(ctx)
	case pipeline.Recording:
		go p.Stop(context.WithoutCancel(ctx))
	default:
		log.Info("toggle ignored while processing")
	}
}

// stopIfRecording finishes any recording in flight and waits for its
// transcription.
func stopIfRecording(p *pipeline.Pipeline) {
	if p.State() == pipeline.Recording {
		p.Stop(context.Background())
	}
	waitIdle(p)
}

func waitIdle(p *pipeline.Pipeline) {
	for p.State() != pipeline.Idle {
		time.Sleep(20 * time.Millisecond)
	}
}

func showHistory(ctx context.Context, store *history.Store, arg string, out io.Writer) {
	if store == nil {
		fmt.Fprintln(out, "history is disabled")
		return
	}
	n := 10
	if arg != "" {
		v, err := strconv.Atoi(arg)
		if err != nil || v <= 0 {
			fmt.Fprintf(out, "invalid count %q\n", arg)
			return
		}
		n = v
	}
	entries, err := store.List(ctx, n)
	if err != nil {
		fmt.Fprintf(out, "history: %v\n", err)
		return
	}
	printEntries(out, entries)
}

func printEntries(out io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "(no transcriptions)")
		return
	}
	for _, e := range entries {
		label := e.SourceFile
		if label == "" {
			label = fmt.Sprintf("%.1fs", e.Duration.Seconds())
		}
		fmt.Fprintf(out, "%s  %s  [%s] %s\n", e.CreatedAt.Local().Format("2006-01-02 15:04"), e.ID[:min(8, len(e.ID))], label, e.Text)
	}
}
