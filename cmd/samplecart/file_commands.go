package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"samplecart/internal/fsops"
	"samplecart/internal/ipc"
)

func newFileCommands(ctx *commandContext) []*cobra.Command {
	var lsJSON bool
	lsCmd := &cobra.Command{
		Use:   "ls <dir>",
		Short: "List a directory inside a local root or mounted volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				entries, err := client.List(args[0])
				if err != nil {
					return err
				}
				if lsJSON {
					return writeJSON(cmd, entries)
				}
				printEntries(cmd.OutOrStdout(), entries, false)
				return nil
			})
		},
	}
	lsCmd.Flags().BoolVar(&lsJSON, "json", false, "Output as JSON")

	statCmd := &cobra.Command{
		Use:   "stat <path>",
		Short: "Show file details including audio format and tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				entry, err := client.Stat(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, statRows(entry), nil))
				return nil
			})
		},
	}

	mkdirCmd := &cobra.Command{
		Use:   "mkdir <dir>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				return client.CreateDirectory(args[0])
			})
		},
	}

	var rmRecursive bool
	rmCmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file, or a directory with -r",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				entry, err := client.Stat(args[0])
				if err != nil {
					return err
				}
				if !entry.IsDir() {
					return client.DeleteFile(args[0])
				}
				counts, err := client.DeleteDirectory(args[0], rmRecursive)
				printCounts(cmd.OutOrStdout(), "deleted", counts)
				return err
			})
		},
	}
	rmCmd.Flags().BoolVarP(&rmRecursive, "recursive", "r", false, "Delete directory contents recursively")

	var cpRecursive bool
	cpCmd := &cobra.Command{
		Use:   "cp <src> <dst>",
		Short: "Copy a file, or a directory with -r",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				entry, err := client.Stat(args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !entry.IsDir() {
					n, err := client.CopyFile(args[0], args[1])
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Copied %s\n", formatBytes(uint64(n)))
					return nil
				}
				counts, err := client.CopyDirectory(args[0], args[1], cpRecursive)
				printCounts(out, "copied", counts)
				return err
			})
		},
	}
	cpCmd.Flags().BoolVarP(&cpRecursive, "recursive", "r", false, "Copy subdirectories too")

	var searchRoot string
	var searchLimit int
	var searchJSON bool
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find files by name across every root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				entries, err := client.Search(ipc.SearchRequest{Query: args[0], Root: searchRoot, Limit: searchLimit})
				if err != nil {
					return err
				}
				if searchJSON {
					return writeJSON(cmd, entries)
				}
				printEntries(cmd.OutOrStdout(), entries, true)
				return nil
			})
		},
	}
	searchCmd.Flags().StringVar(&searchRoot, "root", "", "Restrict the search to this directory")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "Maximum results (default 500)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Output as JSON")

	return []*cobra.Command{lsCmd, statCmd, mkdirCmd, rmCmd, cpCmd, searchCmd}
}

func printEntries(out io.Writer, entries []fsops.Entry, full bool) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No entries")
		return
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Name", "Size", "Modified", "Format"},
		entryRows(entries, full),
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
	))
}

func printCounts(out io.Writer, verb string, counts fsops.Counts) {
	fmt.Fprintf(out, "%d %s, %d failed\n", counts.Succeeded, verb, counts.Failed)
	for _, failure := range counts.Errors {
		fmt.Fprintf(out, "  %s: %s (%s)\n", failure.Path, failure.Message, failure.Code)
	}
}

func statRows(e fsops.Entry) [][]string {
	rows := [][]string{
		{"Path", e.Path},
		{"Kind", string(e.Kind)},
		{"Size", entrySize(e)},
		{"Modified", formatTime(e.ModifiedAt)},
	}
	if e.Audio != nil {
		rows = append(rows,
			[]string{"Format", e.Audio.String()},
			[]string{"Duration", e.Audio.Duration().Round(time.Millisecond).String()},
			[]string{"Frames", strconv.FormatInt(e.Audio.Frames, 10)},
		)
	}
	if e.Tags != nil {
		for _, kv := range [][2]string{{"Title", e.Tags.Title}, {"Artist", e.Tags.Artist}, {"Album", e.Tags.Album}, {"Genre", e.Tags.Genre}} {
			if kv[1] != "" {
				rows = append(rows, []string{kv[0], kv[1]})
			}
		}
		if e.Tags.Year > 0 {
			rows = append(rows, []string{"Year", strconv.Itoa(e.Tags.Year)})
		}
	}
	return rows
}
