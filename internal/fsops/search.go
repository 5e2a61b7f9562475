package fsops

import (
	"context"
	"io/fs"
	"iter"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"

	"samplecart/internal/faults"
	"samplecart/internal/logging"
)

// SearchOptions bounds a search.
type SearchOptions struct {
	// MaxResults stops the walk after this many matches. Zero means no
	// limit.
	MaxResults int
}

// Search lazily yields entries under root whose name contains query under
// Unicode case folding. Cancellation is checked between entries; when ctx
// ends the sequence yields one Cancelled error and stops. Unreadable
// subdirectories are skipped.
func (d *Directory) Search(ctx context.Context, query, root string, opts SearchOptions) iter.Seq2[Entry, error] {
	root = filepath.Clean(root)
	return func(yield func(Entry, error) bool) {
		if err := d.guard(root); err != nil {
			yield(Entry{}, err)
			return
		}
		caser := cases.Fold()
		needle := caser.String(strings.TrimSpace(query))
		found := 0

		err := filepath.WalkDir(root, func(path string, de fs.DirEntry, walkErr error) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if walkErr != nil {
				if path == root {
					return walkErr
				}
				d.logger.Debug("search skipping unreadable path", logging.String("path", path), logging.Error(walkErr))
				if de != nil && de.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if path == root {
				return nil
			}
			if !strings.Contains(caser.String(de.Name()), needle) {
				return nil
			}
			info, err := de.Info()
			if err != nil {
				return nil
			}
			if !yield(entryFromInfo(path, info), nil) {
				return fs.SkipAll
			}
			found++
			if opts.MaxResults > 0 && found >= opts.MaxResults {
				return fs.SkipAll
			}
			return nil
		})
		if err != nil {
			yield(Entry{}, faults.FromOS("fsops", "search", root, err))
		}
	}
}
