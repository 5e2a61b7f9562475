package daemonctl

import (
	"context"
	"strings"

	"samplecart/internal/api"
	"samplecart/internal/config"
	"samplecart/internal/deps"
	"samplecart/internal/ipc"
)

// ToolStatus reports whether an external command the watcher shells out to
// is on PATH.
type ToolStatus struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail"`
	Severity    string `json:"severity"`
}

// StatusLine is one labelled row of the status report.
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// Snapshot is everything `samplecart status` prints. Daemon is nil when
// the socket did not answer.
type Snapshot struct {
	Daemon *api.DaemonStatus `json:"daemon,omitempty"`
	Tools  []ToolStatus      `json:"tools"`
	Lines  []StatusLine      `json:"lines"`
}

// BuildStatusSnapshot queries the daemon when reachable and fills in the
// configuration and tool checks either way.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) Snapshot {
	var snap Snapshot
	if client, err := ipc.Dial(socketPath); err == nil {
		if resp, statusErr := client.Status(); statusErr == nil {
			status := resp.DaemonStatus
			snap.Daemon = &status
		}
		_ = client.Close()
	}
	snap.Tools = ResolveTools(ctx, cfg)
	snap.Lines = BuildStatusLines(cfg, snap.Daemon, snap.Tools)
	return snap
}

// ResolveTools checks the external commands used for volume discovery and
// eject.
func ResolveTools(_ context.Context, cfg *config.Config) []ToolStatus {
	useUdisks := cfg != nil && cfg.Devices.UseUdisks
	results := deps.CheckBinaries(deps.VolumeTools(useUdisks))
	tools := make([]ToolStatus, 0, len(results))
	for _, res := range results {
		tool := ToolStatus{
			Name:        res.Name,
			Description: res.Description,
			Optional:    res.Optional,
			Available:   res.Available,
			Detail:      res.Detail,
		}
		switch {
		case res.Available:
			tool.Detail = res.Path
			tool.Severity = "ok"
		case res.Optional:
			tool.Severity = "warn"
		default:
			tool.Severity = "error"
		}
		tools = append(tools, tool)
	}
	return tools
}

// BuildStatusLines combines runtime state and configuration into report rows.
func BuildStatusLines(cfg *config.Config, daemon *api.DaemonStatus, tools []ToolStatus) []StatusLine {
	lines := make([]StatusLine, 0, 6)
	switch {
	case daemon == nil:
		lines = append(lines, StatusLine{Label: "Daemon", Severity: "warn", Detail: "Not running (run `samplecart daemon start`)"})
	case !daemon.Running:
		lines = append(lines, StatusLine{Label: "Daemon", Severity: "warn", Detail: "Paused (watcher and API stopped)"})
	default:
		lines = append(lines, StatusLine{Label: "Daemon", Severity: "ok", Detail: "Running since " + daemon.StartedAt})
		watcher := StatusLine{Label: "Volume watcher", Severity: "ok", Detail: "Active"}
		if !daemon.Watcher.Running {
			watcher.Severity, watcher.Detail = "warn", "Stopped"
		}
		lines = append(lines, watcher)
		apiLine := StatusLine{Label: "HTTP API", Severity: "info", Detail: "Disabled"}
		if daemon.APIAddress != "" {
			apiLine.Severity, apiLine.Detail = "ok", daemon.APIAddress
		}
		lines = append(lines, apiLine)
	}

	if cfg != nil {
		roots := StatusLine{Label: "Local roots", Severity: "ok", Detail: strings.Join(cfg.Paths.LocalRoots, ", ")}
		if len(cfg.Paths.LocalRoots) == 0 {
			roots.Severity, roots.Detail = "warn", "None configured"
		}
		lines = append(lines, roots)
		journal := StatusLine{Label: "Transfer journal", Severity: "info", Detail: "Disabled"}
		if cfg.Transfer.Journal {
			journal.Severity, journal.Detail = "ok", cfg.JournalPath()
		}
		lines = append(lines, journal)
	}

	missing := 0
	for _, tool := range tools {
		if !tool.Available && !tool.Optional {
			missing++
		}
	}
	if missing > 0 {
		lines = append(lines, StatusLine{Label: "Tools", Severity: "error", Detail: "Required commands missing"})
	}
	return lines
}
