package daemonctl_test

import (
	"context"
	"path/filepath"
	"testing"

	"samplecart/internal/api"
	"samplecart/internal/daemonctl"
	"samplecart/internal/testsupport"
)

func TestResolveToolsFindsStubs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(0, "lsblk", "udisksctl"))
	cfg.Devices.UseUdisks = true

	tools := daemonctl.ResolveTools(context.Background(), cfg)
	if len(tools) != 2 {
		t.Fatalf("expected two tools, got %d", len(tools))
	}
	for _, tool := range tools {
		if !tool.Available || tool.Severity != "ok" {
			t.Fatalf("expected %s to be available: %+v", tool.Name, tool)
		}
		if tool.Optional {
			t.Fatalf("udisks mode should make %s required", tool.Name)
		}
	}
}

func TestStatusSnapshotOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithJournal())
	t.Setenv("PATH", t.TempDir())

	snap := daemonctl.BuildStatusSnapshot(context.Background(), filepath.Join(t.TempDir(), "none.sock"), cfg)
	if snap.Daemon != nil {
		t.Fatalf("expected no daemon status, got %+v", snap.Daemon)
	}
	labels := map[string]daemonctl.StatusLine{}
	for _, line := range snap.Lines {
		labels[line.Label] = line
	}
	if labels["Daemon"].Severity != "warn" {
		t.Fatalf("expected daemon warning, got %+v", labels["Daemon"])
	}
	if labels["Transfer journal"].Detail != cfg.JournalPath() {
		t.Fatalf("expected journal path, got %+v", labels["Transfer journal"])
	}
	if labels["Tools"].Severity != "error" {
		t.Fatalf("expected missing lsblk to be flagged, got %+v", snap.Lines)
	}
}

func TestStatusLinesRunning(t *testing.T) {
	status := &api.DaemonStatus{
		Running:    true,
		StartedAt:  "2026-01-02T03:04:05Z",
		APIAddress: "127.0.0.1:7487",
		Watcher:    api.Component{Running: true},
	}
	lines := daemonctl.BuildStatusLines(nil, status, nil)
	if len(lines) != 3 {
		t.Fatalf("expected daemon, watcher and api rows, got %+v", lines)
	}
	if lines[2].Detail != "127.0.0.1:7487" {
		t.Fatalf("unexpected api row: %+v", lines[2])
	}
}
