//go:build !whisper

package whisper

import (
	"context"
	"testing"
)

func TestStubLoadFails(t *testing.T) {
	if Available {
		t.Fatal("stub build reports whisper available")
	}
	if _, err := New().Load(context.Background(), "model.bin"); err == nil {
		t.Fatal("expected error from stub backend")
	}
}
