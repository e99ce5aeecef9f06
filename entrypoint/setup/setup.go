// Package setup wires configuration, adaptors, logic, and orchestration
// together into the engine's full API surface: create/destroy
// context, load manifest, resolve components, build plan, write/read plan,
// apply plan, verify state, uninstall state, rollback journal, load/save
// state, and produce reports. cmd/dominium-setup is a thin cobra front-end
// over this package; any other caller (a test harness, a future daemon) can
// use Context directly instead of going through the CLI.
package setup

import (
	"log/slog"
	"os"

	"github.com/dominium/dsu/adaptor/configloader"
	"github.com/dominium/dsu/adaptor/manifestsig"
	"github.com/dominium/dsu/adaptor/platformfs"
	"github.com/dominium/dsu/logic/dsuerr"
	"github.com/dominium/dsu/logic/manifest"
	"github.com/dominium/dsu/logic/manifestyaml"
	"github.com/dominium/dsu/logic/planner"
	"github.com/dominium/dsu/logic/resolver"
	"github.com/dominium/dsu/orchestration/txn"
	"github.com/dominium/dsu/state/config"
	"github.com/dominium/dsu/state/installstate"
	"github.com/dominium/dsu/state/report"
)

// Context owns the adaptors and configuration one setup run needs. It holds
// no mutable install-specific state of its own; every operation takes its
// inputs explicitly and returns its outputs, so a Context is safe to reuse
// across unrelated install roots (though not concurrently against the same
// one).
type Context struct {
	fs     *platformfs.Operator
	logger *slog.Logger
	cfg    config.Engine
	engine *txn.Engine
}

// New creates a setup Context from an already-loaded engine configuration.
//
//	ctx := setup.New(config.Default(), slog.Default())
func New(cfg config.Engine, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	fs := platformfs.New()
	return &Context{
		fs:     fs,
		logger: logger,
		cfg:    cfg,
		engine: txn.NewEngine(fs, logger, cfg),
	}
}

// NewFromFile loads the engine run-options file at configPath (falling back
// to config.Default() when absent, per adaptor/configloader.LoadEngine) and
// creates a Context from it.
//
//	ctx, err := setup.NewFromFile("/etc/dominium/dsu.yml", slog.Default())
func NewFromFile(configPath string, logger *slog.Logger) (*Context, error) {
	cfg, err := configloader.LoadEngine(configPath)
	if err != nil {
		return nil, dsuerr.Wrap(dsuerr.KindIO, err, "setup.NewFromFile: load config")
	}
	return New(cfg, logger), nil
}

// Close releases any resources the Context holds. The engine and adaptors
// here carry no open handles between calls, so Close is currently a no-op
// kept for API symmetry with the create/destroy contract.
func (c *Context) Close() error { return nil }

// LoadManifest reads a framed TLV manifest file from path. Use
// LoadManifestYAML instead for the human-authored source format.
//
//	m, err := ctx.LoadManifest("product.manifest")
func (c *Context) LoadManifest(path string) (*manifest.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dsuerr.New(dsuerr.KindIO, "setup.LoadManifest", err)
	}
	m, err := manifest.Decode(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadManifestYAML compiles a human-authored YAML manifest source file into
// a validated manifest.Manifest (logic/manifestyaml).
//
//	m, err := ctx.LoadManifestYAML("product.manifest.yaml")
func (c *Context) LoadManifestYAML(path string) (*manifest.Manifest, error) {
	return manifestyaml.CompileFile(path)
}

// VerifyManifestSignature checks a detached PKCS7 signature over a
// manifest's canonical byte image before it is accepted (adaptor/manifestsig).
// The signature is checked against the certificates in its own envelope; the
// embedded CA chain is not consulted. Manifest signing is optional: callers that
// never present a signature never call this.
//
//	content, err := ctx.VerifyManifestSignature(sigBytes, manifestBytes)
func (c *Context) VerifyManifestSignature(signature, content []byte) ([]byte, error) {
	v, err := manifestsig.NewVerifier()
	if err != nil {
		return nil, dsuerr.Wrap(dsuerr.KindInternal, err, "setup.VerifyManifestSignature: create verifier")
	}
	out, err := v.Verify(signature, content)
	if err != nil {
		return nil, dsuerr.Wrap(dsuerr.KindIntegrity, err, "setup.VerifyManifestSignature")
	}
	return out, nil
}

// LoadState loads the installed-state record at path, or returns (nil, nil)
// if no state file exists yet (a fresh install target).
//
//	prior, err := ctx.LoadState("/opt/acme/.dsu/installed_state.dsustate")
func (c *Context) LoadState(path string) (*installstate.State, error) {
	info, err := c.fs.PathInfo(path)
	if err != nil {
		return nil, dsuerr.Wrap(dsuerr.KindIO, err, "setup.LoadState: stat")
	}
	if !info.Exists {
		return nil, nil
	}
	return installstate.Load(path)
}

// SaveState canonicalizes and atomically writes s to path.
func (c *Context) SaveState(path string, s *installstate.State) error {
	return installstate.Save(path, s)
}

// Resolve computes the deterministic resolved set for a request against a
// manifest and optional prior state.
//
//	set, err := ctx.Resolve(m, prior, resolver.Request{Operation: resolver.OpInstall, Scope: "system"})
func (c *Context) Resolve(m *manifest.Manifest, prior *installstate.State, req resolver.Request) (*resolver.Set, error) {
	return resolver.Resolve(m, prior, req)
}

// BuildPlan expands a resolved set into a canonical plan.
func (c *Context) BuildPlan(m *manifest.Manifest, set *resolver.Set) (*planner.Plan, error) {
	return planner.Build(m, set)
}

// WritePlan serializes a plan to its framed TLV byte image and writes it to
// path, so a caller can build a plan once and apply it later.
func (c *Context) WritePlan(path string, p *planner.Plan) error {
	buf := planner.Encode(p)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return dsuerr.New(dsuerr.KindIO, "setup.WritePlan", err)
	}
	return nil
}

// ReadPlan reads and decodes a plan written by WritePlan.
func (c *Context) ReadPlan(path string) (*planner.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dsuerr.New(dsuerr.KindIO, "setup.ReadPlan", err)
	}
	return planner.Decode(data)
}

// ApplyPlan stages/verifies/commits plan, rolling back to
// the pre-transaction state on any failure.
//
//	result, err := ctx.ApplyPlan(plan, set, payloadRoot, prior, txn.Options{})
func (c *Context) ApplyPlan(p *planner.Plan, set *resolver.Set, payloadRootAbs string, prior *installstate.State, opts txn.Options) (*txn.Result, error) {
	return c.engine.ApplyPlan(p, set, payloadRootAbs, prior, opts)
}

// UninstallState removes a resolved uninstall set's owned files and
// reconciles the installed-state record.
func (c *Context) UninstallState(p *planner.Plan, set *resolver.Set, prior *installstate.State, opts txn.Options) (*txn.Result, error) {
	return c.engine.UninstallState(p, set, prior, opts)
}

// RollbackJournal undoes a transaction left behind by a crash, reading the
// journal from disk rather than memory.
func (c *Context) RollbackJournal(journalPath string) error {
	return c.engine.RollbackJournal(journalPath)
}

// VerifyReport re-hashes every file a state record tracks and classifies it
// ok/missing/modified, optionally enumerating untracked "extra" files.
//
//	rep, err := ctx.VerifyReport(state, true)
func (c *Context) VerifyReport(state *installstate.State, includeExtra bool) (*report.VerifyReport, error) {
	return report.Verify(c.fs, state, includeExtra)
}

// InventoryReport summarizes an installed-state record without touching the
// filesystem.
func (c *Context) InventoryReport(state *installstate.State) *report.InventoryReport {
	return report.Inventory(state)
}

// UninstallPreviewReport previews the effect of uninstalling componentIDs
// against state, without mutating anything.
func (c *Context) UninstallPreviewReport(state *installstate.State, componentIDs []string) *report.UninstallPreviewReport {
	return report.UninstallPreview(state, componentIDs)
}

// Config returns the engine configuration this Context was built with.
func (c *Context) Config() config.Engine { return c.cfg }

// Logger returns the structured logger this Context was built with.
func (c *Context) Logger() *slog.Logger { return c.logger }
