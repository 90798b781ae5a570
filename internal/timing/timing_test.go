package timing

import (
	"testing"
	"time"
)

func TestClock(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{-time.Second, "00:00:00"},
		{59 * time.Second, "00:00:59"},
		{61 * time.Second, "00:01:01"},
		{2*time.Hour + 3*time.Minute + 4*time.Second + 900*time.Millisecond, "02:03:04"},
		{100 * time.Hour, "100:00:00"},
	}
	for _, tc := range tests {
		if got := Clock(tc.in); got != tc.want {
			t.Errorf("Clock(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMillis(t *testing.T) {
	if got := Millis(1500); got != 1500*time.Millisecond {
		t.Fatalf("Millis(1500) = %v", got)
	}
}
