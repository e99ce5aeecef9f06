package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newRollbackCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback <journal-path>",
		Short: "Undo a transaction left behind by a crash, from its journal on disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := root.newContext()
			if err != nil {
				return err
			}
			if err := ctx.RollbackJournal(args[0]); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "rolled back %s\n", args[0])
			return nil
		},
	}
	return cmd
}
