package queue

import (
	"testing"
	"time"
)

func TestBackoffDelayDoubles(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 0, want: 0},
		{attempts: 1, want: time.Second},
		{attempts: 2, want: 2 * time.Second},
		{attempts: 3, want: 4 * time.Second},
		{attempts: 40, want: maxBackoff},
	}
	for _, tc := range cases {
		if got := backoffDelay(time.Second, tc.attempts); got != tc.want {
			t.Errorf("backoffDelay(1s, %d) = %s, want %s", tc.attempts, got, tc.want)
		}
	}
}

func TestBackoffDelayDisabled(t *testing.T) {
	if got := backoffDelay(0, 3); got != 0 {
		t.Fatalf("expected zero delay without base, got %s", got)
	}
}
