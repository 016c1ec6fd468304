package scheduler

import "testing"

func TestPriorityBoundaries(t *testing.T) {
	step := MaxFileSize / 20
	cases := []struct {
		size int64
		want int
	}{
		{size: -5, want: 1},
		{size: 0, want: 1},
		{size: 1, want: 1},
		{size: step, want: 1},
		{size: step + 1, want: 2},
		{size: MaxFileSize / 2, want: 10},
		{size: MaxFileSize - 1, want: 20},
		{size: MaxFileSize, want: 20},
		{size: 2 * MaxFileSize, want: 20},
		{size: 1 << 62, want: 20},
	}
	for _, tc := range cases {
		if got := Priority(tc.size); got != tc.want {
			t.Errorf("Priority(%d) = %d, want %d", tc.size, got, tc.want)
		}
	}
}

func TestPriorityMonotonic(t *testing.T) {
	prev := Priority(0)
	for size := int64(0); size <= 2*MaxFileSize; size += 997 * 1024 {
		p := Priority(size)
		if p < MinPriority || p > MaxPriority {
			t.Fatalf("priority %d out of range for size %d", p, size)
		}
		if p < prev {
			t.Fatalf("priority decreased from %d to %d at size %d", prev, p, size)
		}
		prev = p
	}
}
