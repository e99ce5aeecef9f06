package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dominium/dsu/logic/manifest"
	"github.com/dominium/dsu/logic/resolver"
	"github.com/dominium/dsu/orchestration/txn"
	"github.com/dominium/dsu/state/installstate"
)

// manifestShellFor builds a minimal manifest the resolver can run an
// uninstall against: one component entry per installed component (no
// deps/payloads, since uninstall derives its file list from the
// installed-state record, not the manifest) and the install
// root the product is actually installed at.
func manifestShellFor(prior *installstate.State) *manifest.Manifest {
	m := &manifest.Manifest{
		ProductID:       prior.ProductID,
		ProductVersion:  prior.ProductVersion,
		PlatformTargets: []string{prior.Platform},
		InstallRoots:    []manifest.InstallRoot{{Scope: prior.Scope, Platform: prior.Platform, Path: primaryRootPath(prior)}},
	}
	for _, c := range prior.Components {
		m.Components = append(m.Components, manifest.Component{ID: c.ID, Version: c.Version, Kind: c.Kind})
	}
	m.Canonicalize()
	return m
}

func primaryRootPath(s *installstate.State) string {
	for _, r := range s.InstallRoots {
		if r.Role == installstate.RolePrimary {
			return r.PathAbs
		}
	}
	return ""
}

// mutateFlags are the flags install/upgrade/repair/uninstall share.
type mutateFlags struct {
	manifestPath string
	installRoot  string
	scope        string
	platform     string
	payloadRoot  string
	dryRun       bool
	journalPath  string
	txnRoot      string
}

func addMutateFlags(cmd *cobra.Command, f *mutateFlags, requireManifest bool) {
	if requireManifest {
		cmd.Flags().StringVar(&f.manifestPath, "manifest", "", "manifest file (.manifest TLV, or .yaml/.yml source)")
		_ = cmd.MarkFlagRequired("manifest")
		cmd.Flags().StringVar(&f.payloadRoot, "payload-root", ".", "directory ContainerPath payload references are relative to")
	}
	cmd.Flags().StringVar(&f.installRoot, "install-root", "", "install root whose installed-state record is read (defaults to the manifest's root for --scope)")
	cmd.Flags().StringVar(&f.scope, "scope", "system", "install scope: system, user, or portable")
	cmd.Flags().StringVar(&f.platform, "platform", "", "target platform (defaults to the manifest's sole platform target)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "resolve and plan without touching disk")
	cmd.Flags().StringVar(&f.journalPath, "journal-path", "", "override the default journal file location")
	cmd.Flags().StringVar(&f.txnRoot, "txn-root", "", "override the default transaction root directory")
}

func newInstallCmd(root *rootFlags) *cobra.Command {
	f := &mutateFlags{}
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install components from a manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutate(cmd, root, f, resolver.OpInstall, args)
		},
	}
	addMutateFlags(cmd, f, true)
	cmd.Flags().StringSlice("components", nil, "component ids to install (defaults to DEFAULT_SELECTED)")
	cmd.Flags().StringSlice("exclude", nil, "component ids to exclude")
	return cmd
}

func newUpgradeCmd(root *rootFlags) *cobra.Command {
	f := &mutateFlags{}
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade installed components to the manifest's versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutate(cmd, root, f, resolver.OpUpgrade, args)
		},
	}
	addMutateFlags(cmd, f, true)
	cmd.Flags().StringSlice("components", nil, "component ids to upgrade (defaults to every installed component)")
	cmd.Flags().StringSlice("exclude", nil, "component ids to exclude")
	return cmd
}

func newRepairCmd(root *rootFlags) *cobra.Command {
	f := &mutateFlags{}
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Reinstall any tampered or missing files for installed components",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutate(cmd, root, f, resolver.OpRepair, args)
		},
	}
	addMutateFlags(cmd, f, true)
	cmd.Flags().StringSlice("components", nil, "component ids to repair (defaults to every installed component)")
	cmd.Flags().StringSlice("exclude", nil, "component ids to exclude")
	return cmd
}

func newUninstallCmd(root *rootFlags) *cobra.Command {
	f := &mutateFlags{}
	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove installed components, preserving user_data and cache files",
		Args:  cobra.MinimumNArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUninstall(cmd, root, f, args)
		},
	}
	addMutateFlags(cmd, f, false)
	_ = cmd.MarkFlagRequired("install-root")
	cmd.Flags().StringSlice("components", nil, "component ids to uninstall (defaults to every installed component)")
	return cmd
}

func runMutate(cmd *cobra.Command, root *rootFlags, f *mutateFlags, op resolver.Operation, _ []string) error {
	ctx, err := root.newContext()
	if err != nil {
		return err
	}

	m, err := loadManifestPath(ctx, f.manifestPath)
	if err != nil {
		return err
	}

	installRoot := f.installRoot
	if installRoot == "" {
		for _, r := range m.InstallRoots {
			if r.Scope == f.scope {
				installRoot = r.Path
				break
			}
		}
	}
	statePath := installRoot + "/" + ctx.Config().StateRelPath
	prior, err := ctx.LoadState(statePath)
	if err != nil {
		return err
	}

	requested, _ := cmd.Flags().GetStringSlice("components")
	excluded, _ := cmd.Flags().GetStringSlice("exclude")
	set, err := ctx.Resolve(m, prior, resolver.Request{
		Operation: op, Scope: f.scope, TargetPlatform: f.platform, Requested: requested, Excluded: excluded,
	})
	if err != nil {
		return err
	}

	plan, err := ctx.BuildPlan(m, set)
	if err != nil {
		return err
	}

	result, err := ctx.ApplyPlan(plan, set, f.payloadRoot, prior, txn.Options{
		DryRun: f.dryRun, JournalPath: f.journalPath, TxnRoot: f.txnRoot,
	})
	if err != nil {
		return err
	}

	printResult(cmd, op, result)
	return nil
}

func runUninstall(cmd *cobra.Command, root *rootFlags, f *mutateFlags, _ []string) error {
	ctx, err := root.newContext()
	if err != nil {
		return err
	}

	statePath := f.installRoot + "/" + ctx.Config().StateRelPath
	prior, err := ctx.LoadState(statePath)
	if err != nil {
		return err
	}
	if prior == nil {
		return fmt.Errorf("dominium-setup uninstall: no installed state found at %s", statePath)
	}

	requested, _ := cmd.Flags().GetStringSlice("components")
	if len(requested) == 0 {
		for _, c := range prior.Components {
			requested = append(requested, c.ID)
		}
	}

	// Uninstall resolves against a manifest shell built from prior state: one
	// entry per installed component plus the recorded scope, platform and
	// install root.
	m := manifestShellFor(prior)
	set, err := ctx.Resolve(m, prior, resolver.Request{
		Operation: resolver.OpUninstall, Scope: prior.Scope, TargetPlatform: prior.Platform, Requested: requested,
	})
	if err != nil {
		return err
	}
	plan, err := ctx.BuildPlan(m, set)
	if err != nil {
		return err
	}

	result, err := ctx.UninstallState(plan, set, prior, txn.Options{
		DryRun: f.dryRun, JournalPath: f.journalPath, TxnRoot: f.txnRoot,
	})
	if err != nil {
		return err
	}
	printResult(cmd, resolver.OpUninstall, result)
	return nil
}

func printResult(cmd *cobra.Command, op resolver.Operation, result *txn.Result) {
	out := cmd.OutOrStdout()
	ok := color.New(color.FgGreen, color.Bold)
	ok.Fprintf(out, "%s complete\n", op)
	fmt.Fprintf(out, "  journal_id        %x\n", result.JournalID)
	fmt.Fprintf(out, "  plan_digest64     %x\n", result.Digest64)
	fmt.Fprintf(out, "  install_root      %s\n", result.InstallRoot)
	fmt.Fprintf(out, "  staged_files      %d\n", result.StagedFileCount)
	fmt.Fprintf(out, "  journal_entries   %d\n", result.JournalEntryCount)
}
