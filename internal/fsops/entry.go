package fsops

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"samplecart/internal/audio"
	"samplecart/internal/faults"
)

// Kind distinguishes files from directories.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// Tags holds embedded metadata read from audio files.
type Tags struct {
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
	Genre  string `json:"genre,omitempty"`
	Year   int    `json:"year,omitempty"`
}

// Entry describes one file or directory.
type Entry struct {
	Path       string        `json:"path"`
	Name       string        `json:"name"`
	Kind       Kind          `json:"kind"`
	SizeBytes  int64         `json:"sizeBytes"`
	ModifiedAt time.Time     `json:"modifiedAt"`
	Extension  string        `json:"extension"`
	Audio      *audio.Format `json:"audio,omitempty"`
	Tags       *Tags         `json:"tags,omitempty"`
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool { return e.Kind == KindDirectory }

func entryFromInfo(path string, info os.FileInfo) Entry {
	e := Entry{
		Path:       path,
		Name:       info.Name(),
		Kind:       KindFile,
		ModifiedAt: info.ModTime().UTC(),
	}
	if info.IsDir() {
		e.Kind = KindDirectory
		return e
	}
	e.SizeBytes = info.Size()
	e.Extension = strings.TrimPrefix(strings.ToLower(filepath.Ext(info.Name())), ".")
	return e
}

// Failure records one entry that a directory-level operation could not
// process.
type Failure struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Counts summarizes a best-effort directory operation. Completed entries
// are never rolled back.
type Counts struct {
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Errors    []Failure `json:"errors,omitempty"`
}

func (c *Counts) ok() { c.Succeeded++ }

func (c *Counts) fail(path string, err error) {
	c.Failed++
	c.Errors = append(c.Errors, Failure{Path: path, Code: faults.Code(err), Message: err.Error(), Err: err})
}

func (c *Counts) merge(other Counts) {
	c.Succeeded += other.Succeeded
	c.Failed += other.Failed
	c.Errors = append(c.Errors, other.Errors...)
}
