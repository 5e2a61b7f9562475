package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var supportedBitDepths = map[int]struct{}{8: {}, 16: {}, 24: {}, 32: {}}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateDevices(); err != nil {
		return err
	}
	if err := c.validateTransfer(); err != nil {
		return err
	}
	if err := c.validateConversion(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		return errors.New("paths.socket_path must be set")
	}
	for _, root := range c.Paths.LocalRoots {
		if !filepath.IsAbs(root) {
			return fmt.Errorf("paths.local_roots entry %q must be absolute", root)
		}
		if root == string(filepath.Separator) {
			return errors.New("paths.local_roots must not include the filesystem root")
		}
	}
	return nil
}

func (c *Config) validateDevices() error {
	if err := ensurePositiveMap(map[string]int{
		"devices.poll_interval": c.Devices.PollInterval,
		"devices.max_backoff":   c.Devices.MaxBackoff,
		"devices.eject_timeout": c.Devices.EjectTimeout,
		"devices.probe_timeout": c.Devices.ProbeTimeout,
	}); err != nil {
		return err
	}
	if c.Devices.MaxBackoff < c.Devices.PollInterval {
		return errors.New("devices.max_backoff must be >= devices.poll_interval")
	}
	if len(c.Devices.Filesystems) == 0 {
		return errors.New("devices.filesystems must include at least one filesystem type")
	}
	return nil
}

func (c *Config) validateTransfer() error {
	return ensurePositiveMap(map[string]int{
		"transfer.convert_workers": c.Transfer.ConvertWorkers,
		"transfer.copy_workers":    c.Transfer.CopyWorkers,
		"transfer.buffer_kib":      c.Transfer.BufferKiB,
	})
}

func (c *Config) validateConversion() error {
	if c.Conversion.NormalizeCeilingDB > 0 {
		return errors.New("conversion.normalize_ceiling_db must be <= 0 dBFS")
	}
	if c.Conversion.NormalizeCeilingDB < -60 {
		return errors.New("conversion.normalize_ceiling_db must be >= -60 dBFS")
	}
	if c.Conversion.SilenceThresholdDB >= 0 {
		return errors.New("conversion.silence_threshold_db must be negative")
	}
	if c.Conversion.ResampleTaps < 4 || c.Conversion.ResampleTaps > 256 {
		return errors.New("conversion.resample_taps must be between 4 and 256")
	}
	if _, ok := supportedBitDepths[c.Conversion.FloatTargetDepth]; !ok {
		return fmt.Errorf("conversion.float_target_depth must be one of 8, 16, 24, 32 (got %d)", c.Conversion.FloatTargetDepth)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	for key, value := range map[string]string{"logging.level": c.Logging.Level, "logging.file_level": c.Logging.FileLevel} {
		if key == "logging.file_level" && value == "" {
			continue
		}
		switch value {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("%s: unsupported value %q", key, value)
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
