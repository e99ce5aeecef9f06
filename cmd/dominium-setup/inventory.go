package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newInventoryCmd(root *rootFlags) *cobra.Command {
	var installRoot string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "List what is installed where, from the installed-state record",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := root.newContext()
			if err != nil {
				return err
			}
			statePath := installRoot + "/" + ctx.Config().StateRelPath
			state, err := ctx.LoadState(statePath)
			if err != nil {
				return err
			}
			if state == nil {
				return fmt.Errorf("dominium-setup inventory: no installed state found at %s", statePath)
			}

			rep := ctx.InventoryReport(state)
			if asJSON {
				buf, err := rep.Marshal()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(buf))
				return nil
			}

			out := cmd.OutOrStdout()
			bold := color.New(color.Bold)
			bold.Fprintf(out, "%s %s (scope=%s platform=%s)\n", rep.ProductID, rep.ProductVersion, rep.Scope, rep.Platform)
			for _, c := range rep.Components {
				fmt.Fprintf(out, "  %-24s %-10s %d files  %s\n", c.ID, c.Version, c.FileCount, humanize.Bytes(c.TotalBytes))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&installRoot, "install-root", "", "installed product's install root")
	_ = cmd.MarkFlagRequired("install-root")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON instead of a human-readable table")
	return cmd
}

func newUninstallPreviewCmd(root *rootFlags) *cobra.Command {
	var installRoot string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "uninstall-preview",
		Short: "Preview what an uninstall would remove, without mutating anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := root.newContext()
			if err != nil {
				return err
			}
			statePath := installRoot + "/" + ctx.Config().StateRelPath
			state, err := ctx.LoadState(statePath)
			if err != nil {
				return err
			}
			if state == nil {
				return fmt.Errorf("dominium-setup uninstall-preview: no installed state found at %s", statePath)
			}

			ids := args
			if len(ids) == 0 {
				for _, c := range state.Components {
					ids = append(ids, c.ID)
				}
			}
			rep := ctx.UninstallPreviewReport(state, ids)

			if asJSON {
				buf, err := rep.Marshal()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(buf))
				return nil
			}

			out := cmd.OutOrStdout()
			red := color.New(color.FgRed)
			green := color.New(color.FgGreen)
			for _, f := range rep.Files {
				if f.Removed {
					red.Fprintf(out, "  remove   %s  (%s)\n", f.RelPath, f.ComponentID)
				} else {
					green.Fprintf(out, "  keep     %s  (%s, %s)\n", f.RelPath, f.ComponentID, f.Ownership)
				}
			}
			fmt.Fprintf(out, "\nremoved=%d kept=%d\n", rep.RemovedCount, rep.KeptCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&installRoot, "install-root", "", "installed product's install root")
	_ = cmd.MarkFlagRequired("install-root")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON instead of a human-readable table")
	return cmd
}
