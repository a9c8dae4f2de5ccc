package workq_test

import (
	"testing"

	"github.com/vireo/workq"
)

func TestSHA224Digest_KnownVector(t *testing.T) {
	// SHA-224 of the empty string.
	const want = "d14a028c2a3a2bc9476102bb288234c415a2b01f828ea62ac5b3e42f"
	if got := workq.SHA224Digest(nil); got != want {
		t.Errorf("SHA224Digest(nil) = %q, want %q", got, want)
	}
}

func TestSHA224Digest_FixedWidthAndDeterministic(t *testing.T) {
	a := workq.SHA224Digest([]byte("item-a"))
	b := workq.SHA224Digest([]byte("item-b"))

	if len(a) != 56 || len(b) != 56 {
		t.Fatalf("digest lengths = %d, %d, want 56", len(a), len(b))
	}
	if a == b {
		t.Fatal("different items must not share a digest")
	}
	if a != workq.SHA224Digest([]byte("item-a")) {
		t.Fatal("digest must be deterministic")
	}
}
