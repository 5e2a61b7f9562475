package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"samplecart/internal/audio"
	"samplecart/internal/fsops"
)

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func entrySize(e fsops.Entry) string {
	if e.IsDir() {
		return "-"
	}
	return formatBytes(uint64(e.SizeBytes))
}

func entryFormat(e fsops.Entry) string {
	if e.Audio == nil {
		return ""
	}
	return e.Audio.String()
}

func entryRows(entries []fsops.Entry, full bool) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name
		if full {
			name = e.Path
		}
		if e.IsDir() {
			name += "/"
		}
		rows = append(rows, []string{name, entrySize(e), formatTime(e.ModifiedAt), entryFormat(e)})
	}
	return rows
}

// specFlags binds the conversion flags shared by convert and batch submit.
type specFlags struct {
	rate      int
	bits      int
	container string
	mono      bool
	normalize bool
	trim      bool
}

func (f *specFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.rate, "rate", 0, "Target sample rate in Hz")
	cmd.Flags().IntVar(&f.bits, "bits", 0, "Target bit depth (8, 16, 24 or 32)")
	cmd.Flags().StringVar(&f.container, "container", "", "Target container (wav or aiff)")
	cmd.Flags().BoolVar(&f.mono, "mono", false, "Downmix to mono")
	cmd.Flags().BoolVar(&f.normalize, "normalize", false, "Peak-normalize to the configured ceiling")
	cmd.Flags().BoolVar(&f.trim, "trim", false, "Trim leading silence")
}

func (f *specFlags) spec(cmd *cobra.Command) (audio.Spec, error) {
	var spec audio.Spec
	flags := cmd.Flags()
	if flags.Changed("rate") {
		rate := f.rate
		spec.SampleRate = &rate
	}
	if flags.Changed("bits") {
		bits := f.bits
		spec.BitDepth = &bits
	}
	if strings.TrimSpace(f.container) != "" {
		c, err := audio.ParseContainer(f.container)
		if err != nil {
			return spec, err
		}
		spec.Container = &c
	}
	if flags.Changed("mono") {
		mono := f.mono
		spec.MonoDownmix = &mono
	}
	if flags.Changed("normalize") {
		normalize := f.normalize
		spec.Normalize = &normalize
	}
	if flags.Changed("trim") {
		trim := f.trim
		spec.TrimLeadingSilence = &trim
	}
	return spec, spec.Validate()
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
