package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement defines an external command samplecart shells out to.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Path        string
	Detail      string
}

// VolumeTools lists the commands used for volume discovery and eject.
// udisksctl becomes required once the config routes ejects through it.
func VolumeTools(useUdisks bool) []Requirement {
	return []Requirement{
		{Name: "lsblk", Command: "lsblk", Description: "block device metadata for volume identity"},
		{Name: "udisksctl", Command: "udisksctl", Description: "unprivileged unmount and power-off", Optional: !useUdisks},
	}
}

// CheckBinaries resolves each requirement against PATH.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		path, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = path
		results = append(results, status)
	}
	return results
}
