package sync

import (
	"math/rand/v2"
	"testing"
	"time"
)

func TestBackoffCeilingDoublesAndCaps(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second}
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{60, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := b.Ceiling(tt.retry); got != tt.want {
			t.Errorf("Ceiling(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

func TestBackoffCeilingMonotonic(t *testing.T) {
	b := DefaultBackoff()
	prev := time.Duration(0)
	for i := 1; i < 200; i++ {
		d := b.Ceiling(i)
		if d < prev {
			t.Fatalf("Ceiling(%d) = %v < Ceiling(%d) = %v", i, d, i-1, prev)
		}
		if d > b.Max {
			t.Fatalf("Ceiling(%d) = %v exceeds max %v", i, d, b.Max)
		}
		prev = d
	}
}

func TestBackoffDelayWithinJitterBounds(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute, Jitter: 0.25}
	r := rand.New(rand.NewPCG(1, 2))
	for retry := 1; retry <= 10; retry++ {
		ceil := b.Ceiling(retry)
		floor := ceil - time.Duration(float64(ceil)*0.25)
		for i := 0; i < 100; i++ {
			d := b.Delay(retry, r)
			if d < floor || d > ceil {
				t.Fatalf("Delay(%d) = %v, want in [%v, %v]", retry, d, floor, ceil)
			}
		}
	}
}

func TestBackoffDelayWithoutRand(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute, Jitter: 0.5}
	if got := b.Delay(3, nil); got != 4*time.Second {
		t.Errorf("Delay without rand = %v, want 4s", got)
	}
}

func TestBackoffOrDefault(t *testing.T) {
	if got := (Backoff{}).orDefault(); got != DefaultBackoff() {
		t.Errorf("zero backoff = %+v, want default", got)
	}
	b := Backoff{Base: time.Minute, Max: time.Second}.orDefault()
	if b.Max != time.Minute {
		t.Errorf("max below base not raised: %+v", b)
	}
}
