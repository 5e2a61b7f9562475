package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"samplecart/internal/api"
	"samplecart/internal/faults"
	"samplecart/internal/testsupport"
	"samplecart/internal/transfer"
)

func TestVolumesCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"volumes", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("volumes list: %v", err)
	}
	requireContains(t, out, "CARD")
	requireContains(t, out, env.cardRoot)

	vols := env.daemon.Gateway().EnumerateVolumes()
	out, _, err = runCLI(t, []string{"volumes", "info", vols[0].ID}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("volumes info: %v", err)
	}
	requireContains(t, out, "1234-5678")

	_, _, err = runCLI(t, []string{"volumes", "info", "nope"}, env.socketPath, env.configPath)
	if !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFileCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	src := filepath.Join(env.cardRoot, "Loops", "Snare 01.wav")
	payload := testsupport.WriteFile(t, src, 2048)

	dst := filepath.Join(env.localRoot, "Snare.wav")
	out, _, err := runCLI(t, []string{"cp", src, dst}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("cp: %v", err)
	}
	requireContains(t, out, "Copied")
	got, err := os.ReadFile(dst)
	if err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("copy mismatch: %v", err)
	}

	out, _, err = runCLI(t, []string{"ls", filepath.Dir(src)}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	requireContains(t, out, "Snare 01.wav")

	out, _, err = runCLI(t, []string{"search", "snare", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var found []map[string]any
	if err := json.Unmarshal([]byte(out), &found); err != nil || len(found) != 2 {
		t.Fatalf("search results = %s (%v)", out, err)
	}

	backup := filepath.Join(env.localRoot, "backup")
	out, _, err = runCLI(t, []string{"cp", "-r", filepath.Join(env.cardRoot, "Loops"), backup}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("cp -r: %v", err)
	}
	requireContains(t, out, "1 copied, 0 failed")

	if _, _, err := runCLI(t, []string{"rm", "-r", backup}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("rm -r: %v", err)
	}
	if _, err := os.Stat(backup); !os.IsNotExist(err) {
		t.Fatalf("expected backup removed, got %v", err)
	}

	if _, _, err := runCLI(t, []string{"mkdir", filepath.Join(env.localRoot, "new")}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, _, err := runCLI(t, []string{"ls", "/etc"}, env.socketPath, env.configPath); !errors.Is(err, faults.ErrPathSecurity) {
		t.Fatalf("expected path security error, got %v", err)
	}
}

func TestConvertCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	src := filepath.Join(env.cardRoot, "tone.wav")
	tone := testsupport.Sine(4800, 48000, 440, 0.5, 24)
	testsupport.WriteWAV(t, src, 48000, 24, [][]int32{tone, tone})

	dst := filepath.Join(env.localRoot, "tone.wav")
	out, _, err := runCLI(t, []string{"convert", src, dst, "--rate", "44100", "--bits", "16", "--mono"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	requireContains(t, out, "Converted")
	rate, bits, channels := testsupport.ReadWAVSamples(t, dst)
	if rate != 44100 || bits != 16 || len(channels) != 1 {
		t.Fatalf("unexpected output format: %d Hz %d-bit %dch", rate, bits, len(channels))
	}

	if _, _, err := runCLI(t, []string{"convert", src, dst, "--bits", "12"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected invalid bit depth to be rejected")
	}
}

func TestBatchCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	a := filepath.Join(env.localRoot, "a.wav")
	b := filepath.Join(env.localRoot, "b.wav")
	testsupport.WriteFile(t, a, 1024)
	testsupport.WriteFile(t, b, 1024)

	out, _, err := runCLI(t, []string{"batch", "submit", "--wait",
		a, filepath.Join(env.cardRoot, "a.wav"),
		b, filepath.Join(env.cardRoot, "b.wav"),
	}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("batch submit: %v", err)
	}
	requireContains(t, out, "2 succeeded, 0 failed")

	batches := env.daemon.Gateway().ListBatches()
	if len(batches) != 1 {
		t.Fatalf("expected one batch, got %d", len(batches))
	}
	id := batches[0].ID

	out, _, err = runCLI(t, []string{"batch", "status", id}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("batch status: %v", err)
	}
	requireContains(t, out, "finished, 2/2 done")

	out, _, err = runCLI(t, []string{"batch", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("batch list: %v", err)
	}
	requireContains(t, out, id)

	if _, _, err := runCLI(t, []string{"batch", "retry", id}, env.socketPath, env.configPath); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected retry without failures to report not found, got %v", err)
	}
	if _, _, err := runCLI(t, []string{"batch", "release", id}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("batch release: %v", err)
	}
	if got := env.daemon.Gateway().ListBatches(); len(got) != 0 {
		t.Fatalf("expected released batch to be gone, got %+v", got)
	}

	if _, _, err := runCLI(t, []string{"batch", "submit", a}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected odd argument count to fail")
	}
}

func TestBatchManifest(t *testing.T) {
	env := setupCLITestEnv(t)
	src := filepath.Join(env.localRoot, "kick.wav")
	testsupport.WriteFile(t, src, 512)
	manifest := filepath.Join(t.TempDir(), "batch.json")
	reqs := []transfer.Request{{SourcePath: src, DestPath: filepath.Join(env.cardRoot, "kick.wav")}}
	data, _ := json.Marshal(reqs)
	if err := os.WriteFile(manifest, data, 0o644); err != nil {
		t.Fatal(err)
	}
	out, _, err := runCLI(t, []string{"batch", "submit", "--manifest", manifest}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("batch submit manifest: %v", err)
	}
	requireContains(t, out, "(1 items)")
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"status", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var snap struct {
		Daemon *struct {
			Running bool `json:"running"`
			Volumes int  `json:"volumes"`
		} `json:"daemon"`
	}
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if snap.Daemon == nil || !snap.Daemon.Running || snap.Daemon.Volumes != 1 {
		t.Fatalf("unexpected status: %s", out)
	}

	out, _, err = runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "System Status")
	requireContains(t, out, "Held batches")
}

func TestConfigInitAndShow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "show"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "# Config path: "+env.configPath)
	requireContains(t, out, env.localRoot)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, ""); err == nil {
		t.Fatal("expected second init without --overwrite to fail")
	}
}

func TestWatchRejectsUnknownEvent(t *testing.T) {
	env := setupCLITestEnv(t)
	addr := env.daemon.Status().APIAddress
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := watchEvents(ctx, addr, "", []string{"bogus"}, func(api.Frame) {})
	if err == nil || !strings.Contains(err.Error(), "not_found") {
		t.Fatalf("expected error frame, got %v", err)
	}
}
