package fsops

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"samplecart/internal/faults"
	"samplecart/internal/fileutil"
	"samplecart/internal/logging"
)

// CopyFile copies src to dst through a partial file in the destination
// directory, checking the device guard between chunks. With Options.Verify
// the result is compared by SHA-256.
func (d *Directory) CopyFile(ctx context.Context, src, dst string) (int64, error) {
	src, dst = filepath.Clean(src), filepath.Clean(dst)
	if err := d.guard(src, dst); err != nil {
		return 0, err
	}
	if src == dst {
		return 0, faults.Wrap(faults.ErrCollision, "fsops", "copy", "source and destination are the same file", nil)
	}
	info, err := os.Stat(src)
	if err != nil {
		return 0, faults.FromOS("fsops", "copy", src, err)
	}
	if !info.Mode().IsRegular() {
		return 0, faults.Wrap(nil, "fsops", "copy", src+" is not a regular file", nil)
	}

	releaseSrc := d.track(src)
	defer releaseSrc()
	releaseDst := d.track(fileutil.PartialName(dst))
	defer releaseDst()

	started := time.Now()
	written, err := fileutil.CopyFile(ctx, src, dst, fileutil.CopyOptions{
		BufferSize: d.opts.BufferSize,
		Overwrite:  d.opts.Overwrite,
		Verify:     d.opts.Verify,
		Check:      func() error { return d.guard(src, dst) },
	})
	if err != nil {
		return written, faults.FromOS("fsops", "copy", dst, err)
	}
	d.logger.Debug("file copied",
		logging.String("source", src),
		logging.String("destination", dst),
		logging.Int64("size_bytes", written),
		logging.Duration("duration", time.Since(started)),
	)
	return written, nil
}

// CopyDirectory copies the contents of src into dst, creating dst if
// needed. Without recursive only the files directly inside src are copied.
// The copy is best-effort: failures are counted and the walk continues.
func (d *Directory) CopyDirectory(ctx context.Context, src, dst string, recursive bool) (Counts, error) {
	src, dst = filepath.Clean(src), filepath.Clean(dst)
	var counts Counts
	if err := d.guard(src, dst); err != nil {
		return counts, err
	}
	if fileutil.Within(src, dst) {
		return counts, faults.Wrap(faults.ErrPathSecurity, "fsops", "copydir", "destination lies inside source", nil)
	}
	info, err := os.Stat(src)
	if err != nil {
		return counts, faults.FromOS("fsops", "copydir", src, err)
	}
	if !info.IsDir() {
		return counts, faults.Wrap(nil, "fsops", "copydir", src+" is not a directory", nil)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return counts, faults.FromOS("fsops", "copydir", dst, err)
	}

	err = d.copyTree(ctx, src, dst, recursive, &counts)
	if counts.Failed > 0 {
		logging.WarnWithContext(d.logger, "directory copy incomplete", "copy_incomplete",
			logging.String("source", src),
			logging.String("destination", dst),
			logging.Int("succeeded", counts.Succeeded),
			logging.Int("failed", counts.Failed),
			logging.String(logging.FieldImpact, "destination holds a partial copy"),
		)
	}
	return counts, err
}

func (d *Directory) copyTree(ctx context.Context, src, dst string, recursive bool, counts *Counts) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		counts.fail(src, faults.FromOS("fsops", "copydir", src, err))
		return nil
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return faults.FromOS("fsops", "copydir", src, err)
		}
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if !recursive {
				continue
			}
			if err := os.Mkdir(to, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
				counts.fail(to, faults.FromOS("fsops", "copydir", to, err))
				continue
			}
			if err := d.copyTree(ctx, from, to, recursive, counts); err != nil {
				return err
			}
			continue
		}
		if _, err := d.CopyFile(ctx, from, to); err != nil {
			counts.fail(from, err)
			if errors.Is(err, faults.ErrDeviceGone) || errors.Is(err, faults.ErrCancelled) {
				return err
			}
			continue
		}
		counts.ok()
	}
	return nil
}
