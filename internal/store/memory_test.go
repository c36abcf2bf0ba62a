package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryCopiesBlobs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	blob := []byte("abc")
	if err := m.Save(ctx, "k", blob); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	blob[0] = 'z'

	got, err := m.Load(ctx, "k")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("stored blob was aliased: %q", got)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
	if _, err := m.Load(ctx, "other"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
