package testsupport

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"samplecart/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The "local" directory under the temp root is the only local root, and
// "media" is the only mount root.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SocketPath = filepath.Join(base, "state", "samplecart.sock")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Paths.LocalRoots = []string{filepath.Join(base, "local")}
	cfgVal.Devices.MountRoots = []string{filepath.Join(base, "media")}
	cfgVal.Devices.Netlink = false
	cfgVal.Devices.WatchMounts = false
	cfgVal.Devices.UseUdisks = false
	cfgVal.Devices.ScanOpenFiles = false
	cfgVal.Transfer.ConvertWorkers = 2
	cfgVal.Transfer.Journal = false

	for _, dir := range append(append([]string{}, cfgVal.Paths.LocalRoots...), cfgVal.Devices.MountRoots...) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithJournal enables the SQLite transfer journal.
func WithJournal() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Transfer.Journal = true
	}
}

// WithWorkers overrides the conversion and copy worker caps.
func WithWorkers(convert, copy int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Transfer.ConvertWorkers = convert
		b.cfg.Transfer.CopyWorkers = copy
	}
}

// WithStubbedBinaries writes stub executables that exit with code and
// prepends them to PATH.
func WithStubbedBinaries(code int, names ...string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit " + strconv.Itoa(code) + "\n")
		for _, name := range names {
			if err := os.WriteFile(filepath.Join(binDir, name), script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// LocalRoot returns the generated local root.
func LocalRoot(cfg *config.Config) string {
	return cfg.Paths.LocalRoots[0]
}

// MediaRoot returns the generated mount root.
func MediaRoot(cfg *config.Config) string {
	return cfg.Devices.MountRoots[0]
}
