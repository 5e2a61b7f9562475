package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"samplecart/internal/config"
	"samplecart/internal/daemon"
	"samplecart/internal/devices"
	"samplecart/internal/ipc"
	"samplecart/internal/logging"
	"samplecart/internal/testsupport"
)

type cardProber struct {
	card devices.Candidate
}

func (p cardProber) Probe(context.Context) ([]devices.Candidate, error) {
	return []devices.Candidate{p.card}, nil
}

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	socketPath string
	configPath string
	localRoot  string
	cardRoot   string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	t.Setenv("SAMPLECART_LOCAL_ROOTS", "")

	cfg := testsupport.NewConfig(t)
	base := testsupport.BaseDir(cfg)
	cfg.Paths.SocketPath = filepath.Join(base, "cli.sock")
	cardRoot := testsupport.MustMkdir(t, filepath.Join(testsupport.MediaRoot(cfg), "CARD"))

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	logger := logging.NewNop()
	prober := cardProber{card: devices.Candidate{
		Device:     "/dev/sdz1",
		MountPath:  cardRoot,
		FSType:     "exfat",
		Label:      "CARD",
		UUID:       "1234-5678",
		Removable:  true,
		TotalBytes: 8 << 30,
		FreeBytes:  4 << 30,
	}}
	d, err := daemon.New(context.Background(), cfg, logger,
		daemon.WithWatcherOptions(devices.WithProber(prober), devices.WithProcessScanner(nil)))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		cancel()
		_ = d.Close()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon start: %v", err)
	}

	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = d.Close()
	})

	waitFor(t, 5*time.Second, func() bool {
		return d.Status().Volumes == 1
	})

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		socketPath: cfg.Paths.SocketPath,
		configPath: configPath,
		localRoot:  testsupport.LocalRoot(cfg),
		cardRoot:   cardRoot,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
