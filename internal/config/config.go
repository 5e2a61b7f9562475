package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory, socket and bind address configuration.
type Paths struct {
	StateDir   string   `toml:"state_dir"`
	LogDir     string   `toml:"log_dir"`
	SocketPath string   `toml:"socket_path"`
	APIBind    string   `toml:"api_bind"`
	APIToken   string   `toml:"api_token"`
	LocalRoots []string `toml:"local_roots"`
}

// Devices contains configuration for removable volume detection and eject.
type Devices struct {
	PollInterval   int      `toml:"poll_interval"`
	MaxBackoff     int      `toml:"max_backoff"`
	MountRoots     []string `toml:"mount_roots"`
	Filesystems    []string `toml:"filesystems"`
	Netlink        bool     `toml:"netlink"`
	WatchMounts    bool     `toml:"watch_mounts"`
	UseUdisks      bool     `toml:"use_udisks"`
	EjectTimeout   int      `toml:"eject_timeout"`
	ScanOpenFiles  bool     `toml:"scan_open_files"`
	IncludeFixed   bool     `toml:"include_fixed"`
	ProbeTimeout   int      `toml:"probe_timeout"`
	RescanDebounce int      `toml:"rescan_debounce_ms"`
}

// Transfer contains configuration for the batch orchestrator.
type Transfer struct {
	ConvertWorkers int  `toml:"convert_workers"`
	CopyWorkers    int  `toml:"copy_workers"`
	VerifyCopies   bool `toml:"verify_copies"`
	Overwrite      bool `toml:"overwrite"`
	Journal        bool `toml:"journal"`
	BufferKiB      int  `toml:"buffer_kib"`
}

// Conversion contains audio processing defaults.
type Conversion struct {
	NormalizeCeilingDB float64 `toml:"normalize_ceiling_db"`
	SilenceThresholdDB float64 `toml:"silence_threshold_db"`
	ResampleTaps       int     `toml:"resample_taps"`
	FloatTargetDepth   int     `toml:"float_target_depth"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format     string `toml:"format"`
	Level      string `toml:"level"`
	FileLevel  string `toml:"file_level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Config encapsulates all configuration values for samplecart.
//
// Configuration sections by subsystem:
//   - Paths: state/log directories, IPC socket, API bind, recognized local roots
//   - Devices: removable volume watcher and eject behaviour
//   - Transfer: batch worker caps and copy verification
//   - Conversion: normalization ceiling, silence threshold, resampler quality
//   - Logging: log format, level, and rotation
type Config struct {
	Paths      Paths      `toml:"paths"`
	Devices    Devices    `toml:"devices"`
	Transfer   Transfer   `toml:"transfer"`
	Conversion Conversion `toml:"conversion"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("samplecart.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if dir := filepath.Dir(c.Paths.SocketPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create socket directory %q: %w", dir, err)
		}
	}
	return nil
}

// JournalPath returns the SQLite transfer journal location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.StateDir, "transfers.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "samplecartd.lock")
}

// PIDPath returns the daemon PID file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "samplecartd.pid")
}

// LogPath returns the rotating daemon log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "samplecart.log")
}

// PollInterval returns the device watcher poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Devices.PollInterval) * time.Second
}

// MaxBackoff returns the ceiling for watcher retry backoff.
func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.Devices.MaxBackoff) * time.Second
}

// EjectTimeout bounds a single eject attempt.
func (c *Config) EjectTimeout() time.Duration {
	return time.Duration(c.Devices.EjectTimeout) * time.Second
}

// ProbeTimeout bounds external probe commands such as lsblk.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Devices.ProbeTimeout) * time.Second
}

// RescanDebounce coalesces bursts of hot-plug events into one rescan.
func (c *Config) RescanDebounce() time.Duration {
	return time.Duration(c.Devices.RescanDebounce) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	pathValue = os.Expand(pathValue, func(key string) string {
		if key == "USER" {
			if user := os.Getenv("USER"); user != "" {
				return user
			}
		}
		return os.Getenv(key)
	})
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
