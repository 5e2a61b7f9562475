package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeDevices(); err != nil {
		return err
	}
	c.normalizeTransfer()
	c.normalizeConversion()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		c.Paths.SocketPath = filepath.Join(c.Paths.StateDir, "samplecart.sock")
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)

	if value, ok := os.LookupEnv("SAMPLECART_LOCAL_ROOTS"); ok && strings.TrimSpace(value) != "" {
		c.Paths.LocalRoots = filepath.SplitList(value)
	}
	roots, err := expandList(c.Paths.LocalRoots)
	if err != nil {
		return fmt.Errorf("paths.local_roots: %w", err)
	}
	c.Paths.LocalRoots = roots
	return nil
}

func (c *Config) normalizeDevices() error {
	if c.Devices.PollInterval <= 0 {
		c.Devices.PollInterval = defaultPollInterval
	}
	if c.Devices.MaxBackoff <= 0 {
		c.Devices.MaxBackoff = defaultMaxBackoff
	}
	if c.Devices.EjectTimeout <= 0 {
		c.Devices.EjectTimeout = defaultEjectTimeout
	}
	if c.Devices.ProbeTimeout <= 0 {
		c.Devices.ProbeTimeout = defaultProbeTimeout
	}
	if c.Devices.RescanDebounce < 0 {
		c.Devices.RescanDebounce = 0
	}
	if len(c.Devices.MountRoots) == 0 {
		c.Devices.MountRoots = append([]string(nil), defaultMountRoots...)
	}
	roots, err := expandList(c.Devices.MountRoots)
	if err != nil {
		return fmt.Errorf("devices.mount_roots: %w", err)
	}
	c.Devices.MountRoots = roots

	if len(c.Devices.Filesystems) == 0 {
		c.Devices.Filesystems = append([]string(nil), defaultFilesystems...)
	}
	filesystems := make([]string, 0, len(c.Devices.Filesystems))
	for _, fsType := range c.Devices.Filesystems {
		if trimmed := strings.ToLower(strings.TrimSpace(fsType)); trimmed != "" {
			filesystems = append(filesystems, trimmed)
		}
	}
	c.Devices.Filesystems = filesystems
	return nil
}

func (c *Config) normalizeTransfer() {
	if c.Transfer.ConvertWorkers <= 0 {
		c.Transfer.ConvertWorkers = runtime.NumCPU()
	}
	if c.Transfer.CopyWorkers <= 0 {
		c.Transfer.CopyWorkers = defaultCopyWorkers
	}
	if c.Transfer.BufferKiB <= 0 {
		c.Transfer.BufferKiB = defaultBufferKiB
	}
}

func (c *Config) normalizeConversion() {
	if c.Conversion.ResampleTaps <= 0 {
		c.Conversion.ResampleTaps = defaultResampleTaps
	}
	if c.Conversion.FloatTargetDepth == 0 {
		c.Conversion.FloatTargetDepth = defaultFloatTargetDepth
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.FileLevel = strings.ToLower(strings.TrimSpace(c.Logging.FileLevel))
	if c.Logging.FileLevel == "" {
		c.Logging.FileLevel = c.Logging.Level
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups < 0 {
		c.Logging.MaxBackups = 0
	}
	if c.Logging.MaxAgeDays < 0 {
		c.Logging.MaxAgeDays = 0
	}
}

func expandList(values []string) ([]string, error) {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		expanded, err := expandPath(strings.TrimSpace(value))
		if err != nil {
			return nil, err
		}
		if _, ok := seen[expanded]; ok {
			continue
		}
		seen[expanded] = struct{}{}
		out = append(out, expanded)
	}
	return out, nil
}
