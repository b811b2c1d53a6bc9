package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"kalam/audio"
	"kalam/pipeline"
)

// runTestMode drives the pipeline from a script on in, one command per
// line: START, STOP, WAIT, WAIT_AUDIO_DONE, SLEEP <ms>, QUIT. The fake
// context replays the -test WAV file as microphone input.
func runTestMode(ctx context.Context, p *pipeline.Pipeline, fc *audio.FakeContext, in io.Reader) int {
	var stopDone chan struct{}
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch {
		case cmd == "START":
			if err := p.Start(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "start: %v\n", err)
			}
		case cmd == "STOP":
			done := make(chan struct{})
			stopDone = done
			go func() {
				defer close(done)
				p.Stop(context.WithoutCancel(ctx))
			}()
		case cmd == "WAIT":
			if stopDone != nil {
				<-stopDone
				stopDone = nil
			}
		case cmd == "WAIT_AUDIO_DONE":
			if c := fc.Last(); c != nil {
				select {
				case <-c.AudioDone():
				case <-ctx.Done():
				}
			}
		case cmd == "QUIT":
			stopIfRecording(p)
			return 0
		case strings.HasPrefix(cmd, "SLEEP "):
			if ms, err := strconv.Atoi(cmd[6:]); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case cmd == "":
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		}
	}
	stopIfRecording(p)
	return 0
}
