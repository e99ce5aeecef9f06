package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dominium/dsu/state/report"
)

func newVerifyCmd(root *rootFlags) *cobra.Command {
	var installRoot string
	var includeExtra bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-hash installed files and classify them ok/missing/modified",
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
				return fmt.Errorf("dominium-setup verify: no installed state found at %s", statePath)
			}

			rep, err := ctx.VerifyReport(state, includeExtra)
			if err != nil {
				return err
			}

			if asJSON {
				buf, err := rep.Marshal()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(buf))
				return nil
			}
			printVerifyReport(cmd, rep)
			return nil
		},
	}
	cmd.Flags().StringVar(&installRoot, "install-root", "", "installed product's install root")
	_ = cmd.MarkFlagRequired("install-root")
	cmd.Flags().BoolVar(&includeExtra, "extra", false, "also report untracked files under the install root")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON instead of a human-readable table")
	return cmd
}

func printVerifyReport(cmd *cobra.Command, rep *report.VerifyReport) {
	out := cmd.OutOrStdout()
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	for _, f := range rep.Files {
		switch f.Status {
		case report.StatusOK:
			green.Fprintf(out, "  ok        %s\n", f.RelPath)
		case report.StatusMissing:
			red.Fprintf(out, "  missing   %s\n", f.RelPath)
		case report.StatusModified:
			red.Fprintf(out, "  modified  %s\n", f.RelPath)
		case report.StatusExtra:
			yellow.Fprintf(out, "  extra     %s\n", f.RelPath)
		}
	}
	fmt.Fprintf(out, "\n%s %s: checked=%d ok=%d missing=%d modified=%d extra=%d\n",
		rep.ProductID, rep.ProductVersion, rep.Checked, rep.OK, rep.Missing, rep.Modified, rep.Extra)
}
