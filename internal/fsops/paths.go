package fsops

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"samplecart/internal/faults"
	"samplecart/internal/fileutil"
)

func pathSecurity(path, msg string) error {
	return faults.Wrap(faults.ErrPathSecurity, "fsops", "confine", fmt.Sprintf("%q %s", path, msg), nil)
}

// Confine validates a path received from an untrusted caller. The path
// must be absolute, must not contain ".." elements, and must lie under one
// of roots both lexically and after resolving symlinks in its existing
// prefix. It returns the cleaned path.
func Confine(path string, roots []string) (string, error) {
	if path == "" {
		return "", pathSecurity(path, "is empty")
	}
	if !filepath.IsAbs(path) {
		return "", pathSecurity(path, "is not absolute")
	}
	if slices.Contains(strings.Split(filepath.ToSlash(path), "/"), "..") {
		return "", pathSecurity(path, "contains a parent reference")
	}
	clean := filepath.Clean(path)
	root, ok := matchRoot(roots, clean)
	if !ok {
		return "", pathSecurity(clean, "is outside every recognized root")
	}
	resolved, err := resolveExisting(clean)
	if err != nil {
		return "", faults.FromOS("fsops", "confine", clean, err)
	}
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		resolvedRoot = root
	}
	if !fileutil.Within(resolvedRoot, resolved) {
		return "", pathSecurity(clean, "escapes its root through a symlink")
	}
	return clean, nil
}

func matchRoot(roots []string, path string) (string, bool) {
	best := ""
	for _, root := range roots {
		if root == "" {
			continue
		}
		if fileutil.Within(root, path) && len(root) > len(best) {
			best = filepath.Clean(root)
		}
	}
	return best, best != ""
}

// resolveExisting evaluates symlinks in the longest existing prefix of path
// and re-appends the missing tail.
func resolveExisting(path string) (string, error) {
	tail := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, tail), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path, nil
		}
		tail = filepath.Join(filepath.Base(current), tail)
		current = parent
	}
}
