package fsops

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"samplecart/internal/faults"
	"samplecart/internal/logging"
)

// CreateDirectory creates one directory. The parent must exist; an
// existing entry at path is a Collision.
func (d *Directory) CreateDirectory(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	if err := d.guard(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return faults.FromOS("fsops", "mkdir", path, err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		return faults.FromOS("fsops", "mkdir", path, err)
	}
	d.logger.Debug("directory created", logging.String("path", path))
	return nil
}

// DeleteFile removes a single non-directory entry.
func (d *Directory) DeleteFile(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	if err := d.guard(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return faults.FromOS("fsops", "delete", path, err)
	}
	info, err := os.Lstat(path)
	if err != nil {
		return faults.FromOS("fsops", "delete", path, err)
	}
	if info.IsDir() {
		return faults.Wrap(nil, "fsops", "delete", path+" is a directory", nil)
	}
	if err := os.Remove(path); err != nil {
		return faults.FromOS("fsops", "delete", path, err)
	}
	d.logger.Debug("file deleted", logging.String("path", path))
	return nil
}

// DeleteDirectory removes dir. Without recursive the directory must be
// empty. With recursive, entries are removed depth-first; failures are
// recorded and the walk continues, so a partial delete leaves only the
// entries that failed and their ancestors.
func (d *Directory) DeleteDirectory(ctx context.Context, dir string, recursive bool) (Counts, error) {
	dir = filepath.Clean(dir)
	var counts Counts
	if err := d.guard(dir); err != nil {
		return counts, err
	}
	info, err := os.Lstat(dir)
	if err != nil {
		return counts, faults.FromOS("fsops", "rmdir", dir, err)
	}
	if !info.IsDir() {
		return counts, faults.Wrap(nil, "fsops", "rmdir", dir+" is not a directory", nil)
	}
	if !recursive {
		if err := os.Remove(dir); err != nil {
			return counts, faults.FromOS("fsops", "rmdir", dir, err)
		}
		counts.ok()
		return counts, nil
	}

	err = d.deleteTree(ctx, dir, &counts)
	if counts.Failed > 0 || err != nil {
		logging.WarnWithContext(d.logger, "recursive delete incomplete", "delete_incomplete",
			logging.String("path", dir),
			logging.Int("succeeded", counts.Succeeded),
			logging.Int("failed", counts.Failed),
			logging.String(logging.FieldImpact, "some entries remain on disk"),
		)
	}
	return counts, err
}

func (d *Directory) deleteTree(ctx context.Context, dir string, counts *Counts) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		counts.fail(dir, faults.FromOS("fsops", "rmdir", dir, err))
		return nil
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return faults.FromOS("fsops", "rmdir", dir, err)
		}
		path := filepath.Join(dir, entry.Name())
		if err := d.guard(path); err != nil {
			counts.fail(path, err)
			if errors.Is(err, faults.ErrDeviceGone) {
				return err
			}
			continue
		}
		if entry.IsDir() {
			if err := d.deleteTree(ctx, path, counts); err != nil {
				return err
			}
			continue
		}
		if err := os.Remove(path); err != nil {
			counts.fail(path, faults.FromOS("fsops", "delete", path, err))
			continue
		}
		counts.ok()
	}
	if err := os.Remove(dir); err != nil {
		counts.fail(dir, faults.FromOS("fsops", "rmdir", dir, err))
		return nil
	}
	counts.ok()
	return nil
}
