package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("cmt")
	if !strings.HasPrefix(id, "cmt_") {
		t.Fatalf("NewID(%q) = %q, want prefix", "cmt", id)
	}
	if len(id) != len("cmt_")+32 {
		t.Fatalf("unexpected id length %d for %q", len(id), id)
	}
	if NewID("cmt") == id {
		t.Fatal("expected distinct ids")
	}
	if bare := NewID(""); strings.Contains(bare, "_") {
		t.Fatalf("expected bare id without prefix, got %q", bare)
	}
}
