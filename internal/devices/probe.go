package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"

	"samplecart/internal/logging"
)

// Prober lists currently mounted partitions.
type Prober interface {
	Probe(ctx context.Context) ([]Candidate, error)
}

type commandRunner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execCommandRunner struct{}

func (execCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	return cmd.Output()
}

// systemProber reads partitions and usage through gopsutil and enriches
// them with lsblk, sysfs and /dev/disk/by-uuid.
type systemProber struct {
	runner  commandRunner
	sysRoot string
	devRoot string
	logger  *slog.Logger
}

func newSystemProber(logger *slog.Logger) *systemProber {
	return &systemProber{
		runner:  execCommandRunner{},
		sysRoot: "/sys",
		devRoot: "/dev",
		logger:  logger,
	}
}

type blockInfo struct {
	uuid      string
	serial    string
	label     string
	fstype    string
	removable bool
	parent    string
}

func (p *systemProber) Probe(ctx context.Context) ([]Candidate, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	blocks, err := p.lsblk(ctx)
	if err != nil {
		p.logger.Debug("lsblk unavailable; identity falls back to sysfs", logging.Error(err))
	}

	candidates := make([]Candidate, 0, len(parts))
	for _, part := range parts {
		if !strings.HasPrefix(part.Device, "/dev/") || part.Mountpoint == "" {
			continue
		}
		c := Candidate{
			Device:    part.Device,
			MountPath: filepath.Clean(part.Mountpoint),
			FSType:    strings.ToLower(part.Fstype),
		}
		if info, ok := blocks[part.Device]; ok {
			c.UUID = info.uuid
			c.Serial = info.serial
			c.Label = info.label
			c.Removable = info.removable
			if c.Serial == "" && info.parent != "" {
				c.Serial = blocks[info.parent].serial
			}
			if info.fstype != "" {
				c.FSType = info.fstype
			}
		}
		if !c.Removable {
			c.Removable = p.sysRemovable(part.Device)
		}
		if c.UUID == "" {
			c.UUID = p.uuidFromLinks(part.Device)
		}
		usage, err := disk.UsageWithContext(ctx, part.Mountpoint)
		if err != nil {
			p.logger.Debug("usage probe failed", logging.String("mount_path", part.Mountpoint), logging.Error(err))
		} else {
			c.TotalBytes = usage.Total
			c.FreeBytes = usage.Free
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

func (p *systemProber) lsblk(ctx context.Context) (map[string]blockInfo, error) {
	output, err := p.runner.Output(ctx, "lsblk", "-P", "-o", "PATH,PKNAME,UUID,SERIAL,LABEL,FSTYPE,RM,HOTPLUG")
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("lsblk exited %d", exitErr.ExitCode())
		}
		return nil, fmt.Errorf("lsblk: %w", err)
	}
	blocks := make(map[string]blockInfo)
	for _, row := range parseLSBLK(string(output)) {
		path := row["PATH"]
		if path == "" {
			continue
		}
		info := blockInfo{
			uuid:      row["UUID"],
			serial:    strings.TrimSpace(row["SERIAL"]),
			label:     row["LABEL"],
			fstype:    strings.ToLower(row["FSTYPE"]),
			removable: row["RM"] == "1" || row["HOTPLUG"] == "1",
		}
		if parent := row["PKNAME"]; parent != "" {
			info.parent = "/dev/" + parent
		}
		blocks[path] = info
	}
	// Partitions inherit the removable flag of their parent disk.
	for path, info := range blocks {
		if !info.removable && info.parent != "" && blocks[info.parent].removable {
			info.removable = true
			blocks[path] = info
		}
	}
	return blocks, nil
}

// sysRemovable reads /sys/class/block/<dev>/removable, consulting the parent
// disk for partitions.
func (p *systemProber) sysRemovable(device string) bool {
	name := filepath.Base(device)
	classDir := filepath.Join(p.sysRoot, "class", "block", name)
	if readFlag(filepath.Join(classDir, "removable")) {
		return true
	}
	if _, err := os.Stat(filepath.Join(classDir, "partition")); err != nil {
		return false
	}
	resolved, err := filepath.EvalSymlinks(classDir)
	if err != nil {
		return false
	}
	return readFlag(filepath.Join(filepath.Dir(resolved), "removable"))
}

func readFlag(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "1"
}

func (p *systemProber) uuidFromLinks(device string) string {
	dir := filepath.Join(p.devRoot, "disk", "by-uuid")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		target, err := filepath.EvalSymlinks(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		if filepath.Base(target) == filepath.Base(device) {
			return entry.Name()
		}
	}
	return ""
}
