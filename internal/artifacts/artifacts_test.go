package artifacts

import (
	"testing"
	"time"
)

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		seconds  float64
		expected string
	}{
		{0, "00:00:00.000"},
		{65.5, "00:01:05.500"},
		{3661, "01:01:01.000"},
	}
	for _, tt := range tests {
		got := formatTimestamp(time.Duration(tt.seconds * float64(time.Second)))
		if got != tt.expected {
			t.Errorf("formatTimestamp(%v) = %s, expected %s", tt.seconds, got, tt.expected)
		}
	}
}

func TestTruncateKeepsTail(t *testing.T) {
	s := "0123456789"
	if got := truncate(s, 4); got != "6789" {
		t.Errorf("expected tail truncation, got %q", got)
	}
	if got := truncate(s, 100); got != s {
		t.Errorf("expected untruncated string, got %q", got)
	}
}
