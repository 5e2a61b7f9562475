package devices

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"samplecart/internal/logging"
)

// mountWatcher watches the mount roots and their direct children so a
// mount directory appearing or vanishing triggers a rescan.
type mountWatcher struct {
	roots    []string
	logger   *slog.Logger
	onChange func(path string)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func newMountWatcher(roots []string, logger *slog.Logger, onChange func(string)) *mountWatcher {
	return &mountWatcher{
		roots:    roots,
		logger:   logging.NewComponentLogger(logger, "mount-watcher"),
		onChange: onChange,
	}
}

// Start adds watches for every existing root. Missing roots are skipped;
// an fsnotify failure is logged and leaves polling as the only trigger.
func (m *mountWatcher) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher != nil {
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logging.WarnWithContext(m.logger, "mount root watch unavailable", "mount_watch_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "raise fs.inotify.max_user_instances"),
			logging.String(logging.FieldImpact, "mount changes noticed on the next poll"),
		)
		return
	}

	watched := 0
	for _, root := range m.roots {
		if m.addTree(w, root) {
			watched++
		}
	}
	if watched == 0 {
		m.logger.Debug("no mount roots exist; mount watcher idle")
	}
	m.watcher = w
	m.done = make(chan struct{})
	go m.loop(w, m.done)
}

func (m *mountWatcher) addTree(w *fsnotify.Watcher, root string) bool {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return false
	}
	if err := w.Add(root); err != nil {
		m.logger.Debug("watch mount root failed", logging.String("path", root), logging.Error(err))
		return false
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return true
	}
	for _, entry := range entries {
		if entry.IsDir() {
			_ = w.Add(filepath.Join(root, entry.Name()))
		}
	}
	return true
}

// Stop closes the fsnotify watcher and waits for the loop.
func (m *mountWatcher) Stop() {
	m.mu.Lock()
	w, done := m.watcher, m.done
	m.watcher, m.done = nil, nil
	m.mu.Unlock()
	if w == nil {
		return
	}
	_ = w.Close()
	<-done
}

func (m *mountWatcher) loop(w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if ev.Has(fsnotify.Create) && m.isRootChild(ev.Name) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			if m.onChange != nil {
				m.onChange(ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.logger.Debug("mount watcher error", logging.Error(err))
		}
	}
}

func (m *mountWatcher) isRootChild(path string) bool {
	parent := filepath.Dir(path)
	for _, root := range m.roots {
		if filepath.Clean(root) == parent {
			return true
		}
	}
	return false
}
