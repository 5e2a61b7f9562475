package config_test

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"samplecart/internal/config"
)

func loadDefaults(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SAMPLECART_LOCAL_ROOTS", "")
	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	return cfg
}

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("USER", "tester")
	t.Setenv("SAMPLECART_LOCAL_ROOTS", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "samplecart")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Paths.SocketPath != filepath.Join(wantState, "samplecart.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.Paths.SocketPath)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7391" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if len(cfg.Paths.LocalRoots) != 1 || cfg.Paths.LocalRoots[0] != tempHome {
		t.Fatalf("expected home as the only local root, got %v", cfg.Paths.LocalRoots)
	}
	found := false
	for _, root := range cfg.Devices.MountRoots {
		if root == "/run/media/tester" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected $USER expansion in mount roots, got %v", cfg.Devices.MountRoots)
	}
	if cfg.Transfer.ConvertWorkers != runtime.NumCPU() {
		t.Fatalf("expected convert workers to default to NumCPU, got %d", cfg.Transfer.ConvertWorkers)
	}
	if cfg.Transfer.CopyWorkers != 2 {
		t.Fatalf("expected 2 copy workers, got %d", cfg.Transfer.CopyWorkers)
	}
	if cfg.Conversion.NormalizeCeilingDB != -0.1 {
		t.Fatalf("unexpected normalize ceiling %v", cfg.Conversion.NormalizeCeilingDB)
	}
	if cfg.JournalPath() != filepath.Join(wantState, "transfers.db") {
		t.Fatalf("unexpected journal path %q", cfg.JournalPath())
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("SAMPLECART_LOCAL_ROOTS", "")
	configPath := filepath.Join(tempDir, "samplecart.toml")
	samples := filepath.Join(tempDir, "samples")

	type payload struct {
		Paths struct {
			StateDir   string   `toml:"state_dir"`
			LocalRoots []string `toml:"local_roots"`
		} `toml:"paths"`
		Transfer struct {
			CopyWorkers  int  `toml:"copy_workers"`
			VerifyCopies bool `toml:"verify_copies"`
		} `toml:"transfer"`
		Devices struct {
			Filesystems []string `toml:"filesystems"`
		} `toml:"devices"`
		Logging struct {
			Format string `toml:"format"`
		} `toml:"logging"`
	}
	custom := payload{}
	custom.Paths.StateDir = filepath.Join(tempDir, "state")
	custom.Paths.LocalRoots = []string{samples, samples + "/"}
	custom.Transfer.CopyWorkers = 1
	custom.Transfer.VerifyCopies = true
	custom.Devices.Filesystems = []string{" VFAT ", "exfat"}
	custom.Logging.Format = "JSON"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Paths.LogDir != filepath.Join(tempDir, "state", "logs") {
		t.Fatalf("expected log dir under state dir when unset, got %q", cfg.Paths.LogDir)
	}
	if len(cfg.Paths.LocalRoots) != 1 || cfg.Paths.LocalRoots[0] != samples {
		t.Fatalf("expected deduplicated local roots, got %v", cfg.Paths.LocalRoots)
	}
	if cfg.Transfer.CopyWorkers != 1 || !cfg.Transfer.VerifyCopies {
		t.Fatalf("unexpected transfer section: %+v", cfg.Transfer)
	}
	if cfg.Devices.Filesystems[0] != "vfat" {
		t.Fatalf("expected filesystem names lowercased and trimmed, got %v", cfg.Devices.Filesystems)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected json format, got %q", cfg.Logging.Format)
	}
}

func TestLocalRootsEnvOverride(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SAMPLECART_LOCAL_ROOTS", first+string(os.PathListSeparator)+second)

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.Paths.LocalRoots) != 2 || cfg.Paths.LocalRoots[0] != first || cfg.Paths.LocalRoots[1] != second {
		t.Fatalf("unexpected local roots: %v", cfg.Paths.LocalRoots)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "normalize_ceiling_db") {
		t.Fatalf("sample config missing conversion section: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.StateDir, "samplecart") {
		t.Fatalf("expected state dir to contain samplecart, got %q", cfg.Paths.StateDir)
	}
	if cfg.Devices.PollInterval != 3 {
		t.Fatalf("expected poll interval 3, got %d", cfg.Devices.PollInterval)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	base := loadDefaults(t)

	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero poll interval", func(c *config.Config) { c.Devices.PollInterval = 0 }},
		{"backoff below interval", func(c *config.Config) { c.Devices.MaxBackoff = 1; c.Devices.PollInterval = 5 }},
		{"zero copy workers", func(c *config.Config) { c.Transfer.CopyWorkers = 0 }},
		{"positive ceiling", func(c *config.Config) { c.Conversion.NormalizeCeilingDB = 0.5 }},
		{"non-negative silence", func(c *config.Config) { c.Conversion.SilenceThresholdDB = 0 }},
		{"bad float depth", func(c *config.Config) { c.Conversion.FloatTargetDepth = 20 }},
		{"relative local root", func(c *config.Config) { c.Paths.LocalRoots = []string{"samples"} }},
		{"filesystem root", func(c *config.Config) { c.Paths.LocalRoots = []string{"/"} }},
		{"unknown log format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"unknown file level", func(c *config.Config) { c.Logging.FileLevel = "trace" }},
		{"no filesystems", func(c *config.Config) { c.Devices.Filesystems = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := *base
			cfg.Paths.LocalRoots = append([]string(nil), base.Paths.LocalRoots...)
			cfg.Devices.Filesystems = append([]string(nil), base.Devices.Filesystems...)
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("expected loaded defaults to validate, got %v", err)
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := loadDefaults(t)
	root := t.TempDir()
	cfg.Paths.StateDir = filepath.Join(root, "state")
	cfg.Paths.LogDir = filepath.Join(root, "logs")
	cfg.Paths.SocketPath = filepath.Join(root, "run", "samplecart.sock")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir, filepath.Dir(cfg.Paths.SocketPath)} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist", dir)
		}
	}
}
