package config

import "runtime"

const (
	defaultConfigPath         = "~/.config/samplecart/config.toml"
	defaultStateDir           = "~/.local/share/samplecart"
	defaultLogDir             = "~/.local/share/samplecart/logs"
	defaultSocketPath         = "~/.local/share/samplecart/samplecart.sock"
	defaultAPIBind            = "127.0.0.1:7391"
	defaultPollInterval       = 3
	defaultMaxBackoff         = 60
	defaultEjectTimeout       = 30
	defaultProbeTimeout       = 10
	defaultRescanDebounceMS   = 250
	defaultCopyWorkers        = 2
	defaultBufferKiB          = 1024
	defaultNormalizeCeilingDB = -0.1
	defaultSilenceThresholdDB = -60.0
	defaultResampleTaps       = 32
	defaultFloatTargetDepth   = 24
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogMaxSizeMB       = 20
	defaultLogMaxBackups      = 5
	defaultLogMaxAgeDays      = 30
)

var defaultMountRoots = []string{"/media", "/run/media/${USER}", "/mnt"}

var defaultFilesystems = []string{"vfat", "exfat", "ntfs", "ntfs3", "hfsplus", "ext2", "ext3", "ext4", "btrfs", "f2fs"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
			SocketPath: defaultSocketPath,
			APIBind:    defaultAPIBind,
			LocalRoots: []string{"~"},
		},
		Devices: Devices{
			PollInterval:   defaultPollInterval,
			MaxBackoff:     defaultMaxBackoff,
			MountRoots:     append([]string(nil), defaultMountRoots...),
			Filesystems:    append([]string(nil), defaultFilesystems...),
			Netlink:        true,
			WatchMounts:    true,
			UseUdisks:      true,
			EjectTimeout:   defaultEjectTimeout,
			ScanOpenFiles:  true,
			ProbeTimeout:   defaultProbeTimeout,
			RescanDebounce: defaultRescanDebounceMS,
		},
		Transfer: Transfer{
			ConvertWorkers: runtime.NumCPU(),
			CopyWorkers:    defaultCopyWorkers,
			Journal:        true,
			BufferKiB:      defaultBufferKiB,
		},
		Conversion: Conversion{
			NormalizeCeilingDB: defaultNormalizeCeilingDB,
			SilenceThresholdDB: defaultSilenceThresholdDB,
			ResampleTaps:       defaultResampleTaps,
			FloatTargetDepth:   defaultFloatTargetDepth,
		},
		Logging: Logging{
			Format:     defaultLogFormat,
			Level:      defaultLogLevel,
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
			MaxAgeDays: defaultLogMaxAgeDays,
		},
	}
}
