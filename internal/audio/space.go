package audio

import (
	"fmt"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"

	"samplecart/internal/faults"
)

const headerAllowance = 4096

// FreeBytes reports the free space of the filesystem holding dir.
func FreeBytes(dir string) (uint64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// EstimateSize is the encoded size of f plus a header allowance.
func EstimateSize(f Format) int64 {
	return headerAllowance + f.Frames*int64(f.Channels*f.bytesPerSample())
}

func ensureSpace(freeFn func(string) (uint64, error), dst string, need int64) error {
	if freeFn == nil {
		return nil
	}
	dir := filepath.Dir(dst)
	free, err := freeFn(dir)
	if err != nil {
		// Unknown free space is not fatal; ENOSPC during the write still classifies.
		return nil
	}
	if uint64(need) > free {
		return faults.Wrap(faults.ErrInsufficientSpace, "audio", "space",
			fmt.Sprintf("%s needs %d bytes, %d free", dir, need, free), nil)
	}
	return nil
}
