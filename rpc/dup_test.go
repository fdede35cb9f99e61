package rpc

import (
	"math/rand"
	"testing"
)

func TestDupTrackerSequential(t *testing.T) {
	d := NewDupTracker()
	for i := int64(0); i < 100; i++ {
		if !d.IsNew(i) {
			t.Errorf("IsNew(%d) = false on first call", i)
		}
		if d.IsNew(i) {
			t.Errorf("IsNew(%d) = true on second call", i)
		}
		if got := d.LowestStillTracked(); got != i {
			t.Errorf("LowestStillTracked() = %d, want %d", got, i)
		}
	}
	// The contiguous prefix should have been evicted down to one entry.
	if len(d.set) != 1 || len(d.heap) != 1 {
		t.Errorf("tracker retained %d set entries, %d heap entries", len(d.set), len(d.heap))
	}
}

func TestDupTrackerOutOfOrder(t *testing.T) {
	d := NewDupTracker()
	for _, n := range []int64{1, 0, 3, 2} {
		if !d.IsNew(n) {
			t.Errorf("IsNew(%d) = false on first call", n)
		}
	}
	if got := d.LowestStillTracked(); got != 3 {
		t.Errorf("LowestStillTracked() = %d, want 3", got)
	}
	// A gap holds the low-water mark in place.
	d.IsNew(10)
	if got := d.LowestStillTracked(); got != 3 {
		t.Errorf("LowestStillTracked() = %d after gap, want 3", got)
	}
	for _, n := range []int64{3, 1, 10} {
		if d.IsNew(n) {
			t.Errorf("IsNew(%d) = true on repeat call", n)
		}
	}
}

func TestDupTrackerShuffled(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	d := NewDupTracker()
	nums := rng.Perm(500)
	seen := make(map[int64]bool)
	last := int64(-1)
	for _, v := range nums {
		n := int64(v)
		want := !seen[n]
		if got := d.IsNew(n); got != want {
			t.Fatalf("IsNew(%d) = %v, want %v", n, got, want)
		}
		seen[n] = true
		if low := d.LowestStillTracked(); low < last {
			t.Fatalf("LowestStillTracked() decreased from %d to %d", last, low)
		} else {
			last = low
		}
		// Replay a random earlier value.
		replay := int64(nums[rng.Intn(len(nums))])
		if seen[replay] && d.IsNew(replay) {
			t.Fatalf("IsNew(%d) = true on replay", replay)
		}
	}
	if got := d.LowestStillTracked(); got != 499 {
		t.Errorf("LowestStillTracked() = %d after all values, want 499", got)
	}
}
