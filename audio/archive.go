package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Archiver keeps a copy of each finished recording on disk.
type Archiver struct {
	dir    string
	format string
	now    func() time.Time
}

func NewArchiver(dir, format string) (*Archiver, error) {
	switch format {
	case "", "wav":
		format = "wav"
	case "flac":
	default:
		return nil, fmt.Errorf("unknown archive format %q (use wav or flac)", format)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Archiver{dir: dir, format: format, now: time.Now}, nil
}

// Save writes rec as <timestamp>.<format> and returns the file path.
func (a *Archiver) Save(rec *Resampled) (string, error) {
	name := a.now().Format("20060102-150405.000") + "." + a.format
	path := filepath.Join(a.dir, name)

	var err error
	if a.format == "flac" {
		err = WriteFLACFile(path, rec.Samples, rec.SampleRate)
	} else {
		err = WriteWAVFile(path, rec.Samples, rec.SampleRate)
	}
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", name, err)
	}
	return path, nil
}
