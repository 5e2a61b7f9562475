package fsops

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dhowden/tag"
	"golang.org/x/text/cases"

	"samplecart/internal/audio"
	"samplecart/internal/config"
	"samplecart/internal/faults"
	"samplecart/internal/logging"
)

// Options configures a Directory.
type Options struct {
	BufferSize int
	Verify     bool
	Overwrite  bool
	// Guard fails when a path lives on a removed volume.
	Guard func(path string) error
	// Track registers an open file and returns its release func.
	Track func(path string) func()
}

// OptionsFromConfig maps the [transfer] section. Hooks are left unset.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BufferSize: cfg.Transfer.BufferKiB * 1024,
		Verify:     cfg.Transfer.VerifyCopies,
		Overwrite:  cfg.Transfer.Overwrite,
	}
}

// Directory performs filesystem operations. It is safe for concurrent use.
type Directory struct {
	opts   Options
	logger *slog.Logger
}

// New constructs a Directory.
func New(opts Options, logger *slog.Logger) *Directory {
	return &Directory{
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "fsops"),
	}
}

func (d *Directory) guard(paths ...string) error {
	if d.opts.Guard == nil {
		return nil
	}
	for _, p := range paths {
		if err := d.opts.Guard(p); err != nil {
			return err
		}
	}
	return nil
}

func (d *Directory) track(path string) func() {
	if d.opts.Track == nil {
		return func() {}
	}
	return d.opts.Track(path)
}

// List returns the entries of dir, directories first, then by
// case-insensitive name. Entries that vanish or cannot be stat'ed while
// listing are skipped.
func (d *Directory) List(ctx context.Context, dir string) ([]Entry, error) {
	dir = filepath.Clean(dir)
	if err := d.guard(dir); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, faults.FromOS("fsops", "list", dir, err)
	}

	release := d.track(dir)
	dirents, err := os.ReadDir(dir)
	release()
	if err != nil {
		return nil, faults.FromOS("fsops", "list", dir, err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		path := filepath.Join(dir, de.Name())
		info, err := os.Stat(path)
		if err != nil {
			d.logger.Debug("skipping unreadable entry", logging.String("path", path), logging.Error(err))
			continue
		}
		entries = append(entries, entryFromInfo(path, info))
	}
	sortEntries(entries)
	return entries, nil
}

func sortEntries(entries []Entry) {
	caser := cases.Fold()
	keys := make(map[string]string, len(entries))
	for _, e := range entries {
		keys[e.Path] = caser.String(e.Name)
	}
	slices.SortStableFunc(entries, func(a, b Entry) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		if c := strings.Compare(keys[a.Path], keys[b.Path]); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
}

var taggedExtensions = map[string]struct{}{
	"mp3": {}, "flac": {}, "m4a": {}, "mp4": {}, "ogg": {}, "wav": {}, "aif": {}, "aiff": {},
}

// Stat returns a single entry. Audio files additionally carry their probed
// PCM format and any embedded tags; failures to read either are not
// errors.
func (d *Directory) Stat(ctx context.Context, path string) (Entry, error) {
	path = filepath.Clean(path)
	if err := d.guard(path); err != nil {
		return Entry{}, err
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, faults.FromOS("fsops", "stat", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, faults.FromOS("fsops", "stat", path, err)
	}
	entry := entryFromInfo(path, info)
	if entry.IsDir() {
		return entry, nil
	}

	if _, ok := audio.ContainerForPath(path); ok {
		release := d.track(path)
		if format, err := audio.Probe(ctx, path); err == nil {
			entry.Audio = &format
		} else {
			d.logger.Debug("audio probe failed", logging.String("path", path), logging.Error(err))
		}
		release()
	}
	if _, ok := taggedExtensions[entry.Extension]; ok {
		entry.Tags = d.readTags(path)
	}
	return entry, nil
}

func (d *Directory) readTags(path string) *Tags {
	release := d.track(path)
	defer release()
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()
	meta, err := tag.ReadFrom(file)
	if err != nil {
		return nil
	}
	tags := &Tags{
		Title:  meta.Title(),
		Artist: meta.Artist(),
		Album:  meta.Album(),
		Genre:  meta.Genre(),
		Year:   meta.Year(),
	}
	if *tags == (Tags{}) {
		return nil
	}
	return tags
}
