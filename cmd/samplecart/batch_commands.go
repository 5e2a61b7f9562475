package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"samplecart/internal/ipc"
	"samplecart/internal/transfer"
)

const batchPollInterval = 250 * time.Millisecond

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Submit and manage transfer batches",
	}

	var flags specFlags
	var manifest string
	var wait bool
	submitCmd := &cobra.Command{
		Use:   "submit [<src> <dst>]...",
		Short: "Submit source/destination pairs as one batch",
		Long: "Submit source/destination pairs as one batch. Conversion flags apply to every pair " +
			"given on the command line; --manifest reads a JSON array of " +
			`{"sourcePath","destPath","spec"} objects instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := batchRequests(cmd, &flags, manifest, args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				info, err := client.SubmitBatch(reqs)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Submitted batch %s (%d items)\n", info.ID, info.Total)
				if !wait {
					return nil
				}
				return followBatch(cmd.Context(), client, info.ID, out, cmd.ErrOrStderr())
			})
		},
	}
	flags.register(submitCmd)
	submitCmd.Flags().StringVar(&manifest, "manifest", "", "JSON file listing requests")
	submitCmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the batch and show progress")

	var statusJSON bool
	var statusWait bool
	statusCmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show per-item state for a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if statusWait {
					if err := followBatch(cmd.Context(), client, args[0], io.Discard, cmd.ErrOrStderr()); err != nil {
						return err
					}
				}
				info, err := client.BatchStatus(args[0])
				if err != nil {
					return err
				}
				if statusJSON {
					return writeJSON(cmd, info)
				}
				printBatch(cmd.OutOrStdout(), info)
				return nil
			})
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	statusCmd.Flags().BoolVarP(&statusWait, "wait", "w", false, "Wait for the batch to finish first")

	var listHistory bool
	var historyLimit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List batches held by the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				out := cmd.OutOrStdout()
				if listHistory {
					records, err := client.BatchHistory(historyLimit)
					if err != nil {
						return err
					}
					printHistory(out, records)
					return nil
				}
				batches, err := client.ListBatches()
				if err != nil {
					return err
				}
				if len(batches) == 0 {
					fmt.Fprintln(out, "No batches")
					return nil
				}
				rows := make([][]string, 0, len(batches))
				for _, b := range batches {
					rows = append(rows, []string{b.ID, batchState(b), fmt.Sprintf("%d/%d", b.Completed, b.Total), strconv.Itoa(b.Failed), formatTime(b.CreatedAt)})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "State", "Done", "Failed", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	listCmd.Flags().BoolVar(&listHistory, "history", false, "List journaled batches instead of live ones")
	listCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum history rows")

	cancelCmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel items that have not started",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.CancelBatch(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancel requested for %s\n", args[0])
				return nil
			})
		},
	}

	retryCmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Resubmit the failed items of a finished batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				info, err := client.RetryBatch(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted retry batch %s (%d items)\n", info.ID, info.Total)
				return nil
			})
		},
	}

	releaseCmd := &cobra.Command{
		Use:   "release <id>",
		Short: "Forget a finished batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.ReleaseBatch(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Released %s\n", args[0])
				return nil
			})
		},
	}

	batchCmd.AddCommand(submitCmd, statusCmd, listCmd, cancelCmd, retryCmd, releaseCmd)
	return batchCmd
}

func batchRequests(cmd *cobra.Command, flags *specFlags, manifest string, args []string) ([]transfer.Request, error) {
	if manifest != "" {
		if len(args) > 0 {
			return nil, errors.New("use either --manifest or positional pairs, not both")
		}
		data, err := os.ReadFile(manifest)
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}
		var reqs []transfer.Request
		if err := json.Unmarshal(data, &reqs); err != nil {
			return nil, fmt.Errorf("parse manifest %s: %w", manifest, err)
		}
		return reqs, nil
	}
	if len(args) == 0 || len(args)%2 != 0 {
		return nil, errors.New("expected one or more <src> <dst> pairs")
	}
	spec, err := flags.spec(cmd)
	if err != nil {
		return nil, err
	}
	reqs := make([]transfer.Request, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		reqs = append(reqs, transfer.Request{SourcePath: args[i], DestPath: args[i+1], Spec: spec})
	}
	return reqs, nil
}

// followBatch polls until the batch finishes, drawing a progress bar on
// terminals, then prints the result summary. Cancelling ctx stops following;
// the batch keeps running in the daemon.
func followBatch(ctx context.Context, client *ipc.Client, id string, out, progressOut io.Writer) error {
	info, err := client.BatchStatus(id)
	if err != nil {
		return err
	}
	var bar *progressbar.ProgressBar
	if shouldColorize(progressOut) {
		bar = progressbar.NewOptions(info.Total,
			progressbar.OptionSetWriter(progressOut),
			progressbar.OptionSetDescription("transferring"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	for !info.Done {
		if bar != nil {
			_ = bar.Set(info.Completed)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(batchPollInterval):
		}
		if info, err = client.BatchStatus(id); err != nil {
			return err
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	fmt.Fprintf(out, "Batch %s finished: %d succeeded, %d failed\n", id, info.Succeeded, info.Failed)
	for _, item := range info.Items {
		if item.Status == transfer.StatusFailed {
			fmt.Fprintf(out, "  %s: %s (%s)\n", item.SourcePath, item.Error, item.Code)
		}
	}
	return nil
}

func batchState(info transfer.Info) string {
	switch {
	case info.Done && info.Cancelled:
		return "cancelled"
	case info.Done:
		return "finished"
	default:
		return "running"
	}
}

func printBatch(out io.Writer, info transfer.Info) {
	fmt.Fprintf(out, "Batch %s: %s, %d/%d done, %d failed\n", info.ID, batchState(info), info.Completed, info.Total, info.Failed)
	rows := make([][]string, 0, len(info.Items))
	for _, item := range info.Items {
		detail := item.Error
		if item.Status == transfer.StatusDone && item.ByteCopy {
			detail = "byte copy"
		}
		rows = append(rows, []string{strconv.Itoa(item.Index), string(item.Status), item.SourcePath, item.DestPath, detail})
	}
	fmt.Fprintln(out, renderTable([]string{"#", "Status", "Source", "Destination", "Detail"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft}))
}

func printHistory(out io.Writer, records []transfer.BatchRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No journaled batches")
		return
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		finished := "-"
		if r.FinishedAt != nil {
			finished = formatTime(*r.FinishedAt)
		}
		rows = append(rows, []string{r.ID, strconv.Itoa(r.ItemCount), strconv.Itoa(r.Succeeded), strconv.Itoa(r.Failed), formatTime(r.CreatedAt), finished})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "Items", "OK", "Failed", "Created", "Finished"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
	))
}
