package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"samplecart/internal/devices"
	"samplecart/internal/ipc"
)

func newVolumesCommand(ctx *commandContext) *cobra.Command {
	volumesCmd := &cobra.Command{
		Use:     "volumes",
		Aliases: []string{"vol"},
		Short:   "List, inspect and eject removable volumes",
	}

	var listJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List mounted removable volumes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				vols, err := client.EnumerateVolumes()
				if err != nil {
					return err
				}
				if listJSON {
					return writeJSON(cmd, vols)
				}
				out := cmd.OutOrStdout()
				if len(vols) == 0 {
					fmt.Fprintln(out, "No removable volumes mounted")
					return nil
				}
				rows := make([][]string, 0, len(vols))
				for _, v := range vols {
					rows = append(rows, []string{v.ID, v.Name, v.MountPath, v.FileSystemType, formatBytes(v.FreeBytes), formatBytes(v.TotalBytes)})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Name", "Mount", "FS", "Free", "Size"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
				))
				return nil
			})
		},
	}
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")

	infoCmd := &cobra.Command{
		Use:   "info <id>",
		Short: "Show details for one volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				v, err := client.GetVolumeInfo(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, volumeRows(v), nil))
				return nil
			})
		},
	}

	ejectCmd := &cobra.Command{
		Use:   "eject <id>",
		Short: "Unmount a volume so it can be removed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.EjectVolume(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Ejected %s; safe to remove\n", args[0])
				return nil
			})
		},
	}

	volumesCmd.AddCommand(listCmd, infoCmd, ejectCmd)
	return volumesCmd
}

func volumeRows(v devices.Volume) [][]string {
	return [][]string{
		{"ID", v.ID},
		{"Name", v.Name},
		{"Mount", v.MountPath},
		{"Device", v.Device},
		{"Filesystem", v.FileSystemType},
		{"UUID", v.UUID},
		{"Serial", v.Serial},
		{"Removable", yesNo(v.Removable)},
		{"State", string(v.State)},
		{"Free", formatBytes(v.FreeBytes)},
		{"Size", formatBytes(v.TotalBytes)},
	}
}
