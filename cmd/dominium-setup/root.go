package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dominium/dsu/adaptor/configloader"
	"github.com/dominium/dsu/adaptor/logfile"
	"github.com/dominium/dsu/entrypoint/setup"
	"github.com/dominium/dsu/logic/manifest"
	"github.com/dominium/dsu/state/config"
)

// rootFlags are the flags every subcommand shares: where the engine's
// run-options file lives and where to mirror structured log output.
type rootFlags struct {
	configPath string
	logDir     string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "dominium-setup",
		Short:         "Deterministic setup engine for Dominium products",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "engine run-options YAML file (optional)")
	cmd.PersistentFlags().StringVar(&flags.logDir, "log-dir", "", "mirror structured logs to a rotating file in this directory (optional)")

	cmd.AddCommand(
		newInstallCmd(flags),
		newUpgradeCmd(flags),
		newRepairCmd(flags),
		newUninstallCmd(flags),
		newVerifyCmd(flags),
		newInventoryCmd(flags),
		newUninstallPreviewCmd(flags),
		newRollbackCmd(flags),
	)
	return cmd
}

// newContext builds a setup.Context from the shared flags. The run-options
// file is loaded first so that the same config sizing the transaction engine
// also sizes the rotating log sink; when --log-dir is set, log output is
// mirrored to that sink alongside stderr.
func (f *rootFlags) newContext() (*setup.Context, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		cfg, err = configloader.LoadEngine(f.configPath)
		if err != nil {
			return nil, err
		}
	}
	logger := slog.New(slog.NewTextHandler(f.logOutput(cfg), nil))
	return setup.New(cfg, logger), nil
}

func (f *rootFlags) logOutput(cfg config.Engine) io.Writer {
	if f.logDir == "" {
		return os.Stderr
	}
	sink := logfile.NewSink(f.logDir, "dominium-setup.log", cfg.LogMaxBytes, cfg.LogMaxFiles)
	return io.MultiWriter(os.Stderr, sink)
}

// loadManifestPath picks the TLV or YAML loader by file extension:
// ".yaml"/".yml" compiles a human-authored source (logic/manifestyaml),
// anything else is read as the binary framed-TLV manifest.
func loadManifestPath(ctx *setup.Context, path string) (*manifest.Manifest, error) {
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		return ctx.LoadManifestYAML(path)
	}
	return ctx.LoadManifest(path)
}
