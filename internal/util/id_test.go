package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefixAndUniqueness(t *testing.T) {
	a := NewID("tsk")
	b := NewID("tsk")
	if a == b {
		t.Fatalf("expected unique ids, got %q twice", a)
	}
	if !strings.HasPrefix(a, "tsk_") || len(a) != len("tsk_")+32 {
		t.Fatalf("unexpected id shape %q", a)
	}
	if strings.Contains(NewID(""), "_") {
		t.Fatalf("expected bare id without prefix")
	}
}
