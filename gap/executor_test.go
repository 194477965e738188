package gap

import (
	"testing"
	"time"
)

func TestClampTTLBoundsByPriority(t *testing.T) {
	got := clampTTL(1000*TTLDecrement, 2)
	want := 5 * TTLDecrement
	if got != want {
		t.Fatalf("expected clamp to (priority+3)*TTLDecrement = %s, got %s", want, got)
	}
}

func TestClampTTLLeavesNonPositiveTTLAlone(t *testing.T) {
	got := clampTTL(time.Duration(0), 2)
	if got != 0 {
		t.Fatalf("expected non-positive ttl to pass through unchanged, got %s", got)
	}
}

func TestClampTTLLeavesSmallerTTLUnchanged(t *testing.T) {
	small := 1 * TTLDecrement
	if got := clampTTL(small, 10); got != small {
		t.Fatalf("expected ttl already under bound to be unchanged, got %s", got)
	}
}

func TestRandPermutationCoversAllIndices(t *testing.T) {
	n := 7
	perm := randPermutation(n)
	if len(perm) != n {
		t.Fatalf("expected permutation of length %d, got %d", n, len(perm))
	}
	seen := make(map[int]bool, n)
	for _, v := range perm {
		if v < 0 || v >= n {
			t.Fatalf("index %d out of range [0,%d)", v, n)
		}
		if seen[v] {
			t.Fatalf("index %d repeated in permutation", v)
		}
		seen[v] = true
	}
}
