package fileutil

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"samplecart/internal/faults"
)

// PartialSuffix marks in-progress writes. Files carrying it are never valid
// outputs and are removed on failure.
const PartialSuffix = ".samplecart-partial"

const defaultBufferSize = 1 << 20

// PartialName returns the hidden temp path used while writing dst.
func PartialName(dst string) string {
	return filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+PartialSuffix)
}

// PartialFile is a destination being written through a temp file in the
// same directory. Commit renames it into place; Abort removes it.
type PartialFile struct {
	*os.File
	final     string
	overwrite bool
	done      bool
}

// CreatePartial opens the temp file for dst. When overwrite is false an
// existing dst is rejected with faults.ErrCollision.
func CreatePartial(dst string, mode os.FileMode, overwrite bool) (*PartialFile, error) {
	if !overwrite {
		if err := ensureAbsent(dst); err != nil {
			return nil, err
		}
	}
	if mode == 0 {
		mode = 0o644
	}
	file, err := os.OpenFile(PartialName(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return nil, err
	}
	return &PartialFile{File: file, final: dst, overwrite: overwrite}, nil
}

// Final returns the path the file will be renamed to.
func (p *PartialFile) Final() string { return p.final }

// Commit flushes, closes and renames the temp file into place.
func (p *PartialFile) Commit() error {
	if p.done {
		return errors.New("partial file already finished")
	}
	p.done = true
	tmp := p.Name()
	if err := p.Sync(); err != nil {
		_ = p.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := p.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if !p.overwrite {
		if err := ensureAbsent(p.final); err != nil {
			_ = os.Remove(tmp)
			return err
		}
	}
	if err := os.Rename(tmp, p.final); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Abort discards the temp file. It is safe to call after Commit.
func (p *PartialFile) Abort() {
	if p.done {
		return
	}
	p.done = true
	_ = p.Close()
	_ = os.Remove(p.Name())
}

func ensureAbsent(path string) error {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return faults.Wrap(faults.ErrCollision, "fileutil", "create", path+" already exists", nil)
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return err
	}
}

// CopyOptions tunes CopyFile.
type CopyOptions struct {
	BufferSize int
	Overwrite  bool
	// Verify hashes both sides of the stream with SHA-256 and compares sizes
	// after the copy.
	Verify bool
	// Check runs before every chunk; a non-nil error aborts the copy.
	Check func() error
	// Progress receives cumulative bytes written after every chunk.
	Progress func(written, total int64)
}

// CopyFile streams src to dst through a partial temp file. Cancellation of
// ctx and Check failures are observed between chunks; any failure removes
// the partial file so no truncated destination is left behind.
func CopyFile(ctx context.Context, src, dst string, opts CopyOptions) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("copy %s: source is a directory", src)
	}

	out, err := CreatePartial(dst, info.Mode().Perm(), opts.Overwrite)
	if err != nil {
		return 0, err
	}
	defer out.Abort()

	var reader io.Reader = in
	var writer io.Writer = out
	srcHasher := sha256.New()
	dstHasher := sha256.New()
	if opts.Verify {
		reader = io.TeeReader(in, srcHasher)
		writer = io.MultiWriter(out, dstHasher)
	}

	size := opts.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	buf := make([]byte, size)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if opts.Check != nil {
			if err := opts.Check(); err != nil {
				return written, err
			}
		}
		n, readErr := reader.Read(buf)
		if n > 0 {
			w, err := writer.Write(buf[:n])
			written += int64(w)
			if err != nil {
				return written, err
			}
			if opts.Progress != nil {
				opts.Progress(written, info.Size())
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, readErr
		}
	}

	if opts.Verify {
		if written != info.Size() {
			return written, faults.Wrap(faults.ErrCorruptFile, "fileutil", "verify",
				fmt.Sprintf("copy size mismatch: source %d bytes, copied %d bytes", info.Size(), written), nil)
		}
		if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
			return written, faults.Wrap(faults.ErrCorruptFile, "fileutil", "verify", "copy hash mismatch", nil)
		}
	}
	if err := out.Commit(); err != nil {
		return written, err
	}
	_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	return written, nil
}

// RemoveStalePartials deletes leftover temp files in dir, returning how many
// were removed.
func RemoveStalePartials(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, ".*"+PartialSuffix))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, match := range matches {
		if err := os.Remove(match); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Within reports whether path equals root or lies beneath it. Both are
// cleaned first; no symlinks are resolved.
func Within(root, path string) bool {
	root = filepath.Clean(root)
	path = filepath.Clean(path)
	if root == path {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
