package faults

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"golang.org/x/sys/unix"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrPermission        = errors.New("permission denied")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrCorruptFile       = errors.New("corrupt file")
	ErrInsufficientSpace = errors.New("insufficient space")
	ErrDeviceBusy        = errors.New("device busy")
	ErrDeviceGone        = errors.New("device gone")
	ErrCollision         = errors.New("destination collision")
	ErrPathSecurity      = errors.New("path security violation")
	ErrCancelled         = errors.New("cancelled")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		if err != nil {
			return fmt.Errorf("%s: %w", detail, err)
		}
		return errors.New(detail)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FromOS classifies a filesystem or syscall error into the taxonomy. Errors
// that already carry a marker are returned unchanged; unknown errors are
// wrapped without a marker so callers still see the operation context.
func FromOS(component, operation, path string, err error) error {
	if err == nil {
		return nil
	}
	if Code(err) != CodeInternal {
		return err
	}
	var marker error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		marker = ErrCancelled
	case errors.Is(err, fs.ErrNotExist):
		marker = ErrNotFound
	case errors.Is(err, fs.ErrPermission), errors.Is(err, unix.EROFS):
		marker = ErrPermission
	case errors.Is(err, unix.ENOSPC), errors.Is(err, unix.EDQUOT):
		marker = ErrInsufficientSpace
	case errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENXIO), errors.Is(err, unix.EIO), errors.Is(err, unix.ESTALE):
		marker = ErrDeviceGone
	case errors.Is(err, unix.EBUSY):
		marker = ErrDeviceBusy
	case errors.Is(err, fs.ErrExist):
		marker = ErrCollision
	}
	return Wrap(marker, component, operation, path, err)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "operation failed"
	}
	return strings.Join(parts, ": ")
}
