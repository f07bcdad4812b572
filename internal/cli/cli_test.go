package cli

import (
	"testing"
	"time"
)

func TestParseAt(t *testing.T) {
	got, err := parseAt("2024-01-09T01:30:00-08:00")
	if err != nil {
		t.Fatalf("parseAt() error: %v", err)
	}
	want := time.Date(2024, 1, 9, 9, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("parseAt() = %v, want %v", got, want)
	}

	if _, err := parseAt("yesterday"); err == nil {
		t.Error("parseAt(yesterday) should fail")
	}
	if now, err := parseAt(""); err != nil || time.Since(now) > time.Minute {
		t.Errorf("parseAt(\"\") = %v, %v; want now", now, err)
	}
}

func TestMask(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"abc", "****"},
		{"sk_live_123456", "****3456"},
	}
	for _, tt := range tests {
		if got := mask(tt.in); got != tt.want {
			t.Errorf("mask(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRunCommandRejectsUnknownJob(t *testing.T) {
	if err := runCmd.Args(runCmd, []string{"dance"}); err == nil {
		t.Error("run should reject an unknown job")
	}
	if err := runCmd.Args(runCmd, []string{"evaluate"}); err != nil {
		t.Errorf("run evaluate rejected: %v", err)
	}
}
