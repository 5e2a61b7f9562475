package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"samplecart/internal/faults"
	"samplecart/internal/logging"
)

// Unmounter detaches a volume from the filesystem.
type Unmounter interface {
	Unmount(ctx context.Context, v Volume) error
}

// systemUnmounter prefers udisksctl, which also powers the card down, and
// falls back to umount(2).
type systemUnmounter struct {
	runner    commandRunner
	useUdisks bool
	lookPath  func(string) (string, error)
	unmount   func(target string, flags int) error
	logger    *slog.Logger
}

func newSystemUnmounter(useUdisks bool, logger *slog.Logger) *systemUnmounter {
	return &systemUnmounter{
		runner:    execCommandRunner{},
		useUdisks: useUdisks,
		lookPath:  exec.LookPath,
		unmount:   unix.Unmount,
		logger:    logger,
	}
}

func (u *systemUnmounter) Unmount(ctx context.Context, v Volume) error {
	if u.useUdisks && v.Device != "" {
		if _, err := u.lookPath("udisksctl"); err == nil {
			return u.udisks(ctx, v)
		}
		u.logger.Debug("udisksctl not found; using umount(2)")
	}
	if err := u.unmount(v.MountPath, 0); err != nil {
		return classifyUnmount(v, err)
	}
	return nil
}

func (u *systemUnmounter) udisks(ctx context.Context, v Volume) error {
	if out, err := u.runner.Output(ctx, "udisksctl", "unmount", "--no-user-interaction", "-b", v.Device); err != nil {
		msg := strings.ToLower(commandMessage(out, err))
		if strings.Contains(msg, "busy") {
			return faults.Wrap(faults.ErrDeviceBusy, "devices", "unmount", v.MountPath+": target is busy", err)
		}
		if strings.Contains(msg, "not mounted") {
			return faults.Wrap(faults.ErrNotFound, "devices", "unmount", v.MountPath+": not mounted", err)
		}
		return faults.Wrap(nil, "devices", "unmount", fmt.Sprintf("udisksctl unmount %s: %s", v.Device, msg), err)
	}
	if _, err := u.runner.Output(ctx, "udisksctl", "power-off", "--no-user-interaction", "-b", v.Device); err != nil {
		logging.WarnWithContext(u.logger, "power-off after unmount failed", "power_off_failed",
			logging.String("device", v.Device),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the card is unmounted and safe to remove"),
			logging.String(logging.FieldImpact, "device stays powered"),
		)
	}
	return nil
}

func commandMessage(out []byte, err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return strings.TrimSpace(string(exitErr.Stderr))
	}
	if len(out) > 0 {
		return strings.TrimSpace(string(out))
	}
	return err.Error()
}

func classifyUnmount(v Volume, err error) error {
	switch {
	case errors.Is(err, unix.EBUSY):
		return faults.Wrap(faults.ErrDeviceBusy, "devices", "unmount", v.MountPath, err)
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOENT):
		return faults.Wrap(faults.ErrNotFound, "devices", "unmount", v.MountPath+": not mounted", err)
	default:
		return faults.FromOS("devices", "unmount", v.MountPath, err)
	}
}
