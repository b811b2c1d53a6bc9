// Package clipboard delivers finished transcriptions to the system clipboard.
package clipboard

import (
	"strings"

	cb "github.com/atotto/clipboard"
)

// Board is the system clipboard. Swapped out in tests.
type Board interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

type system struct{}

func (system) ReadAll() (string, error)   { return cb.ReadAll() }
func (system) WriteAll(text string) error { return cb.WriteAll(text) }

// System returns the real clipboard.
func System() Board { return system{} }

// Supported reports whether a clipboard tool is available on this machine.
func Supported() bool {
	return !cb.Unsupported
}

// Deliverer copies each transcription to the clipboard. With Append set the
// text is added after whatever the clipboard already holds.
type Deliverer struct {
	board  Board
	Append bool
}

func New() *Deliverer {
	return &Deliverer{board: system{}}
}

func NewWithBoard(b Board) *Deliverer {
	return &Deliverer{board: b}
}

func (d *Deliverer) Deliver(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if d.Append {
		if prev, err := d.board.ReadAll(); err == nil && strings.TrimSpace(prev) != "" {
			text = strings.TrimRight(prev, " \n") + " " + text
		}
	}
	return d.board.WriteAll(text)
}
