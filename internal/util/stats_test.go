package util

import (
	"strings"
	"testing"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{100, " 0.1 KiB"},
		{1536, " 1.5 KiB"},
		{3 * 1024 * 1024, " 3.0 MiB"},
	}
	for _, tt := range tests {
		got := formatBytes(tt.in)
		if got != tt.want {
			t.Errorf("formatBytes(%v) = %q, want %q", tt.in, got, tt.want)
		}
		if len(got) != 8 {
			t.Errorf("formatBytes(%v) width = %d, want 8", tt.in, len(got))
		}
	}
}

func TestFormatStatsReportsDelta(t *testing.T) {
	prev := snapshot{in: 3, out: 2, started: 1}
	cur := snapshot{in: 8, out: 4, dropped: 1, started: 2, ended: 1, recorded: 2048}

	got := formatStats(prev, cur)
	for _, want := range []string{"  5↓", "  2↑", " 1 dropped", " 1 started", " 1 ended", " 2.0 KiB"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatStats = %q, missing %q", got, want)
		}
	}
}
