package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"samplecart/internal/ipc"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var flags specFlags
	cmd := &cobra.Command{
		Use:   "convert <src> <dst>",
		Short: "Convert one file to a target format, or copy it when nothing changes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := flags.spec(cmd)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				item, err := client.ConvertAndCopy(args[0], args[1], spec)
				if err != nil {
					return err
				}
				action := "Converted"
				if item.ByteCopy {
					action = "Copied"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s (%s)\n", action, item.SourcePath, item.DestPath, formatBytes(uint64(item.Bytes)))
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}
