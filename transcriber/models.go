package transcriber

import (
	"fmt"
	"os"
	"path/filepath"
)

type ModelInfo struct {
	ID          string
	DisplayName string
	FileName    string
	Size        string
	Description string
	Installed   bool
}

var knownModels = []ModelInfo{
	{ID: "tiny", DisplayName: "Tiny", FileName: "ggml-tiny.bin", Size: "~70 MB", Description: "Fast, lower accuracy"},
	{ID: "base", DisplayName: "Base", FileName: "ggml-base.bin", Size: "~140 MB", Description: "Balanced - recommended"},
	{ID: "small", DisplayName: "Small", FileName: "ggml-small.bin", Size: "~470 MB", Description: "Better accuracy"},
	{ID: "medium", DisplayName: "Medium", FileName: "ggml-medium.bin", Size: "~1.5 GB", Description: "High accuracy"},
	{ID: "large", DisplayName: "Large", FileName: "ggml-large-v3.bin", Size: "~3.1 GB", Description: "Best accuracy (large-v3)"},
}

// DefaultModel is used when no model is configured.
const DefaultModel = "base"

// Catalog resolves model ids to files in one directory. Downloading models
// into it is left to the user.
type Catalog struct {
	dir string
}

func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir}
}

func (c *Catalog) Dir() string { return c.dir }

func lookup(id string) (ModelInfo, bool) {
	for _, m := range knownModels {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// Known reports whether id names a catalog model.
func Known(id string) bool {
	_, ok := lookup(id)
	return ok
}

// Path returns where model id lives. Unknown ids get ErrModelNotFound.
func (c *Catalog) Path(id string) (string, error) {
	m, ok := lookup(id)
	if !ok {
		return "", fmt.Errorf("%w: unknown model %q", ErrModelNotFound, id)
	}
	return filepath.Join(c.dir, m.FileName), nil
}

func (c *Catalog) Installed(id string) bool {
	p, err := c.Path(id)
	if err != nil {
		return false
	}
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

// Resolve returns the path of an installed model, or ErrModelNotFound.
func (c *Catalog) Resolve(id string) (string, error) {
	p, err := c.Path(id)
	if err != nil {
		return "", err
	}
	if !c.Installed(id) {
		return "", fmt.Errorf("%w: %s (expected %s)", ErrModelNotFound, id, p)
	}
	return p, nil
}

func (c *Catalog) List() []ModelInfo {
	out := make([]ModelInfo, len(knownModels))
	for i, m := range knownModels {
		m.Installed = c.Installed(m.ID)
		out[i] = m
	}
	return out
}
