package main

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"samplecart/internal/daemonctl"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Daemon:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestToolLines(t *testing.T) {
	tools := []daemonctl.ToolStatus{
		{Name: "lsblk", Available: false, Detail: "not found in PATH", Severity: "error"},
		{Name: "udisksctl", Available: false, Optional: true, Detail: "not found in PATH", Severity: "warn"},
		{Name: "lsblk", Available: true, Detail: "/usr/bin/lsblk", Severity: "ok"},
	}
	lines := toolLines(tools, false)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "[ERROR] not found in PATH") {
		t.Fatalf("expected error line, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "[WARN] not found in PATH (optional)") {
		t.Fatalf("expected optional warn line, got %q", lines[1])
	}
	if !strings.Contains(lines[2], "[OK] /usr/bin/lsblk") {
		t.Fatalf("expected ok line, got %q", lines[2])
	}
}

func TestStatusKindFromSeverity(t *testing.T) {
	cases := map[string]statusKind{
		"ok":      statusOK,
		"WARNING": statusWarn,
		" error ": statusError,
		"":        statusInfo,
	}
	for in, want := range cases {
		if got := statusKindFromSeverity(in); got != want {
			t.Fatalf("statusKindFromSeverity(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}
