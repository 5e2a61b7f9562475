package devices

import (
	"path/filepath"
	"sort"
	"sync"

	"samplecart/internal/fileutil"
)

// Registry counts files currently held open by this process. Every open in
// the filesystem and conversion code registers here so eject can refuse
// while work is in progress.
type Registry struct {
	mu   sync.Mutex
	open map[string]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{open: make(map[string]int)}
}

// Track records path as open and returns the release func. Release is
// idempotent.
func (r *Registry) Track(path string) func() {
	path = filepath.Clean(path)
	r.mu.Lock()
	r.open[path]++
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.open[path] <= 1 {
				delete(r.open, path)
				return
			}
			r.open[path]--
		})
	}
}

// OpenUnder lists tracked paths beneath root.
func (r *Registry) OpenUnder(root string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var paths []string
	for path := range r.open {
		if fileutil.Within(root, path) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

// Len reports the number of distinct open paths.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}
