// Package sha256 includes tests for the hashing helpers.
package sha256

import "testing"

// TestHexDeterministic ensures repeated hashing yields the same digest.
func TestHexDeterministic(t *testing.T) {
	t.Parallel()

	got := Hex([]byte("hello world"))
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if again := Hex([]byte("hello world")); again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

func TestShort(t *testing.T) {
	t.Parallel()

	if got := Short("hello world", 8); got != "b94d27b9" {
		t.Fatalf("expected b94d27b9, got %s", got)
	}
	if got := Short("hello world", 0); len(got) != 64 {
		t.Fatalf("n<=0 should return the full digest, got %d chars", len(got))
	}
	if got := Short("hello world", 500); len(got) != 64 {
		t.Fatalf("oversized n should clamp to digest length, got %d chars", len(got))
	}
}
