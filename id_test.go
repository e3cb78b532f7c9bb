package hive

import (
	"net/http"
	"testing"
	"time"
)

func TestNewIDUniqueAndSortable(t *testing.T) {
	seen := make(map[string]bool)
	prev := ""
	for i := 0; i < 1000; i++ {
		id := NewID()
		if len(id) != 36 {
			t.Fatalf("NewID() = %q, want 36 chars", id)
		}
		if id[14] != '7' {
			t.Fatalf("NewID() = %q, want UUID version 7", id)
		}
		if seen[id] {
			t.Fatalf("NewID() repeated %q", id)
		}
		seen[id] = true
		if id < prev {
			t.Fatalf("NewID() not monotonic: %q after %q", id, prev)
		}
		prev = id
	}
}

func TestNowUnix(t *testing.T) {
	got := NowUnix()
	now := time.Now().Unix()
	if got < now-2 || got > now+2 {
		t.Errorf("NowUnix() = %d, want about %d", got, now)
	}
}

func TestParseRetryAfter(t *testing.T) {
	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)

	tests := []struct {
		in      string
		min     time.Duration
		max     time.Duration
	}{
		{"", 0, 0},
		{"120", 120 * time.Second, 120 * time.Second},
		{"0", 0, 0},
		{"-5", 0, 0},
		{"soon", 0, 0},
		{future, 85 * time.Second, 90 * time.Second},
		{past, 0, 0},
	}
	for _, tt := range tests {
		got := ParseRetryAfter(tt.in)
		if got < tt.min || got > tt.max {
			t.Errorf("ParseRetryAfter(%q) = %v, want within [%v, %v]", tt.in, got, tt.min, tt.max)
		}
	}
}
