package devices

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"samplecart/internal/fileutil"
)

// OpenFile is a file held by another process.
type OpenFile struct {
	PID  int32
	Name string
	Path string
}

// ProcessScanner finds other processes holding files beneath a mount.
type ProcessScanner interface {
	OpenUnder(ctx context.Context, root string) ([]OpenFile, error)
}

type gopsutilScanner struct {
	self int32
}

func newProcessScanner() ProcessScanner {
	return gopsutilScanner{self: int32(os.Getpid())}
}

// OpenUnder walks every visible process. Processes whose fd table cannot be
// read (other users, exited mid-scan) are skipped.
func (s gopsutilScanner) OpenUnder(ctx context.Context, root string) ([]OpenFile, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	var found []OpenFile
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		if p.Pid == s.self {
			continue
		}
		var paths []string
		if cwd, err := p.CwdWithContext(ctx); err == nil && cwd != "" {
			paths = append(paths, cwd)
		}
		if files, err := p.OpenFilesWithContext(ctx); err == nil {
			for _, f := range files {
				paths = append(paths, f.Path)
			}
		}
		for _, path := range paths {
			if !strings.HasPrefix(path, "/") || !fileutil.Within(root, path) {
				continue
			}
			name, _ := p.NameWithContext(ctx)
			found = append(found, OpenFile{PID: p.Pid, Name: name, Path: path})
			break
		}
	}
	return found, nil
}

func describeHolders(files []OpenFile) string {
	parts := make([]string, 0, len(files))
	for i, f := range files {
		if i == 3 {
			parts = append(parts, fmt.Sprintf("and %d more", len(files)-i))
			break
		}
		parts = append(parts, fmt.Sprintf("%s[%d]", f.Name, f.PID))
	}
	return strings.Join(parts, ", ")
}
