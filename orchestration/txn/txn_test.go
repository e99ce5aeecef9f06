package txn

import (
	"crypto/sha256"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/dominium/dsu/adaptor/platformfs"
	"github.com/dominium/dsu/logic/dsuerr"
	"github.com/dominium/dsu/logic/manifest"
	"github.com/dominium/dsu/logic/planner"
	"github.com/dominium/dsu/logic/resolver"
	"github.com/dominium/dsu/state/config"
	"github.com/dominium/dsu/state/installstate"
	"github.com/dominium/dsu/state/journal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine() *Engine {
	return NewEngine(platformfs.New(), discardLogger(), config.Default())
}

// fixture builds a two-file, two-component manifest, writes the payload
// bytes under payloadRoot, and resolves+plans an install of both components
// into installRoot.
type fixture struct {
	manifest *manifest.Manifest
	set      *resolver.Set
	plan     *planner.Plan
}

func writePayload(t *testing.T, path string, content []byte) (sha256sum [32]byte, size uint64) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return sha256.Sum256(content), uint64(len(content))
}

func newFixture(t *testing.T, payloadRoot, installRoot string) *fixture {
	t.Helper()

	coreSum, coreSize := writePayload(t, filepath.Join(payloadRoot, "payload/core.bin"), []byte("core binary content"))
	cfgSum, cfgSize := writePayload(t, filepath.Join(payloadRoot, "payload/cfg.json"), []byte(`{"mode":"default"}`))

	m := &manifest.Manifest{
		ProductID:       "acme-suite",
		ProductVersion:  "1.0.0",
		PlatformTargets: []string{"linux-x86_64"},
		InstallRoots:    []manifest.InstallRoot{{Scope: "system", Platform: "linux-x86_64", Path: installRoot}},
		Components: []manifest.Component{
			{
				ID:      "core",
				Version: "1.0.0",
				Flags:   []string{"DEFAULT_SELECTED"},
				Payloads: []manifest.Payload{
					{Kind: manifest.PayloadFileset, ContainerPath: "payload/core.bin", SHA256: coreSum, Size: coreSize, TargetRel: "bin/core.bin"},
				},
			},
			{
				ID:      "config",
				Version: "1.0.0",
				Flags:   []string{"DEFAULT_SELECTED"},
				Payloads: []manifest.Payload{
					{Kind: manifest.PayloadFileset, ContainerPath: "payload/cfg.json", SHA256: cfgSum, Size: cfgSize, TargetRel: "data/cfg.json"},
				},
			},
		},
	}

	set, err := resolver.Resolve(m, nil, resolver.Request{Operation: resolver.OpInstall, Scope: "system", TargetPlatform: "linux-x86_64"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	plan, err := planner.Build(m, set)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return &fixture{manifest: m, set: set, plan: plan}
}

func TestApplyPlan_InstallsFilesAndWritesState(t *testing.T) {
	installRoot := t.TempDir()
	payloadRoot := t.TempDir()
	fx := newFixture(t, payloadRoot, installRoot)

	e := testEngine()
	result, err := e.ApplyPlan(fx.plan, fx.set, payloadRoot, nil, Options{})
	if err != nil {
		t.Fatalf("ApplyPlan: %v", err)
	}
	if result.StagedFileCount != 2 {
		t.Fatalf("got staged file count %d, want 2", result.StagedFileCount)
	}

	for _, rel := range []string{"bin/core.bin", "data/cfg.json"} {
		if _, err := os.Stat(filepath.Join(installRoot, rel)); err != nil {
			t.Fatalf("expected %s to exist: %v", rel, err)
		}
	}

	stateAbs := filepath.Join(installRoot, config.Default().StateRelPath)
	state, err := installstate.Load(stateAbs)
	if err != nil {
		t.Fatalf("Load installed state: %v", err)
	}
	if len(state.Components) != 2 {
		t.Fatalf("got %d components in state, want 2", len(state.Components))
	}

	if _, err := os.Stat(result.TxnRoot); err == nil {
		t.Fatal("expected txn_root to be cleaned up after a successful commit")
	}
}

func TestApplyPlan_VerifyState_AllFilesMatch(t *testing.T) {
	installRoot := t.TempDir()
	payloadRoot := t.TempDir()
	fx := newFixture(t, payloadRoot, installRoot)

	e := testEngine()
	if _, err := e.ApplyPlan(fx.plan, fx.set, payloadRoot, nil, Options{}); err != nil {
		t.Fatalf("ApplyPlan: %v", err)
	}

	stateAbs := filepath.Join(installRoot, config.Default().StateRelPath)
	state, err := installstate.Load(stateAbs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	result, err := e.VerifyState(state)
	if err != nil {
		t.Fatalf("VerifyState: %v", err)
	}
	if result.VerifiedOK != 2 || result.VerifiedMissing != 0 || result.VerifiedMismatch != 0 {
		t.Fatalf("got %+v, want 2 ok, 0 missing, 0 mismatch", result)
	}
}

func TestApplyPlan_VerifyState_DetectsMissingAndModified(t *testing.T) {
	installRoot := t.TempDir()
	payloadRoot := t.TempDir()
	fx := newFixture(t, payloadRoot, installRoot)

	e := testEngine()
	if _, err := e.ApplyPlan(fx.plan, fx.set, payloadRoot, nil, Options{}); err != nil {
		t.Fatalf("ApplyPlan: %v", err)
	}
	stateAbs := filepath.Join(installRoot, config.Default().StateRelPath)
	state, err := installstate.Load(stateAbs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := os.Remove(filepath.Join(installRoot, "bin/core.bin")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(installRoot, "data/cfg.json"), []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := e.VerifyState(state)
	if err != nil {
		t.Fatalf("VerifyState: %v", err)
	}
	if result.VerifiedMissing != 1 || result.VerifiedMismatch != 1 || result.VerifiedOK != 0 {
		t.Fatalf("got %+v, want 1 missing, 1 mismatch, 0 ok", result)
	}
}

// assertPristine confirms an install root left behind by a failed transaction
// has no target files, no installed-state file and no txn root left in the
// default "<installRoot>.txn" directory. The journal file is not checked.
func assertPristine(t *testing.T, installRoot, journalPath string) {
	t.Helper()
	for _, rel := range []string{"bin/core.bin", "data/cfg.json", config.Default().StateRelPath} {
		if _, err := os.Stat(filepath.Join(installRoot, rel)); err == nil {
			t.Fatalf("expected %s not to exist after rollback", rel)
		}
	}
	if entries, err := os.ReadDir(installRoot + config.Default().TxnRootSuffix); err == nil && len(entries) != 0 {
		t.Fatal("expected txn_root to be removed after rollback")
	}
	_ = journalPath
}

func TestApplyPlan_FailpointAfterStageWrite_RollsBackCleanly(t *testing.T) {
	installRoot := t.TempDir()
	payloadRoot := t.TempDir()
	fx := newFixture(t, payloadRoot, installRoot)

	t.Setenv("DSU_FAILPOINT", "after_stage_write")
	e := testEngine()
	_, err := e.ApplyPlan(fx.plan, fx.set, payloadRoot, nil, Options{})
	if err == nil {
		t.Fatal("expected injected failure, got nil")
	}
	assertPristine(t, installRoot, "")
}

func TestApplyPlan_FailpointAfterVerify_RollsBackCleanly(t *testing.T) {
	installRoot := t.TempDir()
	payloadRoot := t.TempDir()
	fx := newFixture(t, payloadRoot, installRoot)

	t.Setenv("DSU_FAILPOINT", "after_verify")
	e := testEngine()
	_, err := e.ApplyPlan(fx.plan, fx.set, payloadRoot, nil, Options{})
	if err == nil {
		t.Fatal("expected injected failure, got nil")
	}
	assertPristine(t, installRoot, "")
}

func TestApplyPlan_FailpointMidCommit_RollsBackCleanly(t *testing.T) {
	for _, n := range []uint32{1, 2, 3} {
		n := n
		t.Run("mid_commit_"+strconv.Itoa(int(n)), func(t *testing.T) {
			installRoot := t.TempDir()
			payloadRoot := t.TempDir()
			fx := newFixture(t, payloadRoot, installRoot)

			t.Setenv("DSU_FAILPOINT", "mid_commit:"+strconv.Itoa(int(n)))
			e := testEngine()
			_, err := e.ApplyPlan(fx.plan, fx.set, payloadRoot, nil, Options{})
			if err == nil {
				t.Fatal("expected injected failure, got nil")
			}
			assertPristine(t, installRoot, "")
		})
	}
}

func TestApplyPlan_FailpointBeforeStateWrite_RollsBackCleanly(t *testing.T) {
	installRoot := t.TempDir()
	payloadRoot := t.TempDir()
	fx := newFixture(t, payloadRoot, installRoot)

	t.Setenv("DSU_FAILPOINT", "before_state_write")
	e := testEngine()
	_, err := e.ApplyPlan(fx.plan, fx.set, payloadRoot, nil, Options{})
	if err == nil {
		t.Fatal("expected injected failure, got nil")
	}
	assertPristine(t, installRoot, "")
}

func TestApplyPlan_FailAfterEntries_RollsBackCleanly(t *testing.T) {
	installRoot := t.TempDir()
	payloadRoot := t.TempDir()
	fx := newFixture(t, payloadRoot, installRoot)

	e := testEngine()
	_, err := e.ApplyPlan(fx.plan, fx.set, payloadRoot, nil, Options{FailAfterEntries: 2})
	if err == nil {
		t.Fatal("expected injected failure, got nil")
	}
	assertPristine(t, installRoot, "")
}

func TestApplyPlan_UpgradeOverExistingInstall_BacksUpAndRestoresOnFailure(t *testing.T) {
	installRoot := t.TempDir()
	payloadRoot := t.TempDir()
	fx := newFixture(t, payloadRoot, installRoot)

	e := testEngine()
	if _, err := e.ApplyPlan(fx.plan, fx.set, payloadRoot, nil, Options{}); err != nil {
		t.Fatalf("initial install: %v", err)
	}
	stateAbs := filepath.Join(installRoot, config.Default().StateRelPath)
	prior, err := installstate.Load(stateAbs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	original, err := os.ReadFile(filepath.Join(installRoot, "bin/core.bin"))
	if err != nil {
		t.Fatal(err)
	}

	upgradedPayloadRoot := t.TempDir()
	newSum, newSize := writePayload(t, filepath.Join(upgradedPayloadRoot, "payload/core.bin"), []byte("core binary content v2, longer"))
	writePayload(t, filepath.Join(upgradedPayloadRoot, "payload/cfg.json"), []byte(`{"mode":"default"}`))

	fx.manifest.ProductVersion = "1.1.0"
	fx.manifest.Components[0].Version = "1.1.0"
	fx.manifest.Components[0].Payloads[0].SHA256 = newSum
	fx.manifest.Components[0].Payloads[0].Size = newSize

	set, err := resolver.Resolve(fx.manifest, prior, resolver.Request{Operation: resolver.OpUpgrade, Scope: "system", TargetPlatform: "linux-x86_64"})
	if err != nil {
		t.Fatalf("resolve upgrade: %v", err)
	}
	plan, err := planner.Build(fx.manifest, set)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	t.Setenv("DSU_FAILPOINT", "before_state_write")
	_, err = e.ApplyPlan(plan, set, upgradedPayloadRoot, prior, Options{})
	if err == nil {
		t.Fatal("expected injected failure, got nil")
	}

	got, err := os.ReadFile(filepath.Join(installRoot, "bin/core.bin"))
	if err != nil {
		t.Fatalf("expected bin/core.bin to survive rollback: %v", err)
	}
	if string(got) != string(original) {
		t.Fatalf("expected rollback to restore the pre-upgrade content, got %q want %q", got, original)
	}
	if entries, err := os.ReadDir(installRoot + config.Default().TxnRootSuffix); err == nil && len(entries) != 0 {
		t.Fatal("expected txn_root to be removed after rollback")
	}
}

func TestApplyPlan_UpgradePreservesInstallInstanceID(t *testing.T) {
	installRoot := t.TempDir()
	payloadRoot := t.TempDir()
	fx := newFixture(t, payloadRoot, installRoot)

	e := testEngine()
	if _, err := e.ApplyPlan(fx.plan, fx.set, payloadRoot, nil, Options{}); err != nil {
		t.Fatalf("initial install: %v", err)
	}
	stateAbs := filepath.Join(installRoot, config.Default().StateRelPath)
	prior, err := installstate.Load(stateAbs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if prior.InstallInstanceID == "" {
		t.Fatal("expected a non-empty install_instance_id after install")
	}

	upgradedPayloadRoot := t.TempDir()
	newSum, newSize := writePayload(t, filepath.Join(upgradedPayloadRoot, "payload/core.bin"), []byte("core binary content v2"))
	writePayload(t, filepath.Join(upgradedPayloadRoot, "payload/cfg.json"), []byte(`{"mode":"default"}`))
	fx.manifest.ProductVersion = "2.0.0"
	fx.manifest.Components[0].Version = "2.0.0"
	fx.manifest.Components[0].Payloads[0].SHA256 = newSum
	fx.manifest.Components[0].Payloads[0].Size = newSize

	set, err := resolver.Resolve(fx.manifest, prior, resolver.Request{Operation: resolver.OpUpgrade, Scope: "system", TargetPlatform: "linux-x86_64"})
	if err != nil {
		t.Fatalf("resolve upgrade: %v", err)
	}
	plan, err := planner.Build(fx.manifest, set)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := e.ApplyPlan(plan, set, upgradedPayloadRoot, prior, Options{}); err != nil {
		t.Fatalf("upgrade: %v", err)
	}

	next, err := installstate.Load(stateAbs)
	if err != nil {
		t.Fatalf("Load upgraded state: %v", err)
	}
	if next.ProductVersion != "2.0.0" {
		t.Fatalf("got product version %q, want 2.0.0", next.ProductVersion)
	}
	if next.InstallInstanceID != prior.InstallInstanceID {
		t.Fatalf("install_instance_id changed across upgrade: %q -> %q", prior.InstallInstanceID, next.InstallInstanceID)
	}
	got, err := os.ReadFile(filepath.Join(installRoot, "bin/core.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "core binary content v2" {
		t.Fatalf("got %q after upgrade", got)
	}
}

func TestApplyPlan_RepairRestoresTamperedFile(t *testing.T) {
	installRoot := t.TempDir()
	payloadRoot := t.TempDir()
	fx := newFixture(t, payloadRoot, installRoot)

	e := testEngine()
	if _, err := e.ApplyPlan(fx.plan, fx.set, payloadRoot, nil, Options{}); err != nil {
		t.Fatalf("install: %v", err)
	}
	stateAbs := filepath.Join(installRoot, config.Default().StateRelPath)
	prior, err := installstate.Load(stateAbs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := os.Remove(filepath.Join(installRoot, "bin/core.bin")); err != nil {
		t.Fatal(err)
	}
	untouched, err := os.ReadFile(filepath.Join(installRoot, "data/cfg.json"))
	if err != nil {
		t.Fatal(err)
	}

	set, err := resolver.Resolve(fx.manifest, prior, resolver.Request{Operation: resolver.OpRepair, Scope: "system", TargetPlatform: "linux-x86_64"})
	if err != nil {
		t.Fatalf("resolve repair: %v", err)
	}
	plan, err := planner.Build(fx.manifest, set)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := e.ApplyPlan(plan, set, payloadRoot, prior, Options{}); err != nil {
		t.Fatalf("repair: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(installRoot, "bin/core.bin"))
	if err != nil {
		t.Fatalf("expected bin/core.bin restored by repair: %v", err)
	}
	if string(got) != "core binary content" {
		t.Fatalf("repaired content %q does not match payload", got)
	}
	after, err := os.ReadFile(filepath.Join(installRoot, "data/cfg.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != string(untouched) {
		t.Fatal("unrelated file changed across repair")
	}
}

func TestUninstallState_RemovesFilesAndEmptyDirs(t *testing.T) {
	installRoot := t.TempDir()
	payloadRoot := t.TempDir()
	fx := newFixture(t, payloadRoot, installRoot)

	e := testEngine()
	if _, err := e.ApplyPlan(fx.plan, fx.set, payloadRoot, nil, Options{}); err != nil {
		t.Fatalf("install: %v", err)
	}
	stateAbs := filepath.Join(installRoot, config.Default().StateRelPath)
	prior, err := installstate.Load(stateAbs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	set, err := resolver.Resolve(fx.manifest, prior, resolver.Request{Operation: resolver.OpUninstall, Scope: "system", TargetPlatform: "linux-x86_64", Requested: []string{"core"}})
	if err != nil {
		t.Fatalf("resolve uninstall: %v", err)
	}
	plan, err := planner.Build(fx.manifest, set)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if _, err := e.UninstallState(plan, set, prior, Options{}); err != nil {
		t.Fatalf("UninstallState: %v", err)
	}

	if _, err := os.Stat(filepath.Join(installRoot, "bin/core.bin")); err == nil {
		t.Fatal("expected bin/core.bin to be removed")
	}
	if _, err := os.Stat(filepath.Join(installRoot, "bin")); err == nil {
		t.Fatal("expected now-empty bin dir to be removed")
	}
	if _, err := os.Stat(filepath.Join(installRoot, "data/cfg.json")); err != nil {
		t.Fatalf("expected data/cfg.json (still owned by config) to survive: %v", err)
	}

	newState, err := installstate.Load(stateAbs)
	if err != nil {
		t.Fatalf("Load new state: %v", err)
	}
	if _, ok := newState.ComponentByID("core"); ok {
		t.Fatal("expected core to be absent from the installed-state record")
	}
	if _, ok := newState.ComponentByID("config"); !ok {
		t.Fatal("expected config to remain in the installed-state record")
	}
}

func TestUninstallState_LastComponentRemovesStateFile(t *testing.T) {
	installRoot := t.TempDir()
	payloadRoot := t.TempDir()
	fx := newFixture(t, payloadRoot, installRoot)

	e := testEngine()
	if _, err := e.ApplyPlan(fx.plan, fx.set, payloadRoot, nil, Options{}); err != nil {
		t.Fatalf("install: %v", err)
	}
	stateAbs := filepath.Join(installRoot, config.Default().StateRelPath)
	prior, err := installstate.Load(stateAbs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	set, err := resolver.Resolve(fx.manifest, prior, resolver.Request{Operation: resolver.OpUninstall, Scope: "system", TargetPlatform: "linux-x86_64", Requested: []string{"core", "config"}})
	if err != nil {
		t.Fatalf("resolve uninstall: %v", err)
	}
	plan, err := planner.Build(fx.manifest, set)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := e.UninstallState(plan, set, prior, Options{}); err != nil {
		t.Fatalf("UninstallState: %v", err)
	}

	if _, err := os.Stat(stateAbs); err == nil {
		t.Fatal("expected the installed-state file to be removed with the last component")
	}
	for _, rel := range []string{"bin/core.bin", "data/cfg.json"} {
		if _, err := os.Stat(filepath.Join(installRoot, rel)); err == nil {
			t.Fatalf("expected %s to be removed", rel)
		}
	}
}

func TestUninstallState_PreservesUserDataFiles(t *testing.T) {
	installRoot := t.TempDir()
	payloadRoot := t.TempDir()
	fx := newFixture(t, payloadRoot, installRoot)

	e := testEngine()
	if _, err := e.ApplyPlan(fx.plan, fx.set, payloadRoot, nil, Options{}); err != nil {
		t.Fatalf("install: %v", err)
	}
	stateAbs := filepath.Join(installRoot, config.Default().StateRelPath)
	prior, err := installstate.Load(stateAbs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// A settings file the product wrote at runtime: tracked by core, but
	// tagged user_data so uninstall must leave it on disk.
	if err := os.MkdirAll(filepath.Join(installRoot, "user"), 0o755); err != nil {
		t.Fatal(err)
	}
	userSum, userSize := writePayload(t, filepath.Join(installRoot, "user/settings.json"), []byte(`{"theme":"dark"}`))
	for i := range prior.Components {
		if prior.Components[i].ID == "core" {
			prior.Components[i].Files = append(prior.Components[i].Files, installstate.File{
				RootIndex: 0, RelPath: "user/settings.json", SHA256: userSum, Size: userSize, Ownership: installstate.OwnershipUserData,
			})
		}
	}
	prior.Canonicalize()

	set, err := resolver.Resolve(fx.manifest, prior, resolver.Request{Operation: resolver.OpUninstall, Scope: "system", TargetPlatform: "linux-x86_64", Requested: []string{"core"}})
	if err != nil {
		t.Fatalf("resolve uninstall: %v", err)
	}
	plan, err := planner.Build(fx.manifest, set)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := e.UninstallState(plan, set, prior, Options{}); err != nil {
		t.Fatalf("UninstallState: %v", err)
	}

	if _, err := os.Stat(filepath.Join(installRoot, "bin/core.bin")); err == nil {
		t.Fatal("expected owned bin/core.bin to be removed")
	}
	got, err := os.ReadFile(filepath.Join(installRoot, "user/settings.json"))
	if err != nil {
		t.Fatalf("expected user/settings.json to survive uninstall: %v", err)
	}
	if string(got) != `{"theme":"dark"}` {
		t.Fatalf("user data content changed across uninstall: %q", got)
	}
}

func TestRollbackJournal_RecoversFromCrashMidCommit(t *testing.T) {
	installRoot := t.TempDir()
	payloadRoot := t.TempDir()
	fx := newFixture(t, payloadRoot, installRoot)

	journalPath := filepath.Join(t.TempDir(), "crash.dsuj")
	t.Setenv("DSU_FAILPOINT", "mid_commit:1")
	e := testEngine()
	_, err := e.ApplyPlan(fx.plan, fx.set, payloadRoot, nil, Options{JournalPath: journalPath, TxnRoot: filepath.Join(installRoot, ".txn", "crash")})
	if err == nil {
		t.Fatal("expected injected mid-commit failure, got nil")
	}

	// A live failure already rolled the transaction back and removed the txn
	// root; re-running RollbackJournal against the same (already-undone)
	// journal must still be a safe no-op, simulating a second crash-recovery
	// pass finding nothing left to undo.
	if err := e.RollbackJournal(journalPath); err != nil {
		t.Fatalf("RollbackJournal: %v", err)
	}
	if _, err := os.Stat(filepath.Join(installRoot, "bin/core.bin")); err == nil {
		t.Fatal("expected bin/core.bin not to exist")
	}
}

func TestApplyPlan_StageRejectsCorruptPayload(t *testing.T) {
	installRoot := t.TempDir()
	payloadRoot := t.TempDir()
	fx := newFixture(t, payloadRoot, installRoot)

	if err := os.WriteFile(filepath.Join(payloadRoot, "payload/core.bin"), []byte("corrupted, does not match manifest digest"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := testEngine()
	_, err := e.ApplyPlan(fx.plan, fx.set, payloadRoot, nil, Options{})
	if err == nil {
		t.Fatal("expected a staging integrity error, got nil")
	}
	if dsuerr.KindOf(err) != dsuerr.KindIntegrity {
		t.Fatalf("got kind %v, want IntegrityError", dsuerr.KindOf(err))
	}
	assertPristine(t, installRoot, "")
}

func TestApplyPlan_DryRunMakesNoChanges(t *testing.T) {
	installRoot := t.TempDir()
	payloadRoot := t.TempDir()
	fx := newFixture(t, payloadRoot, installRoot)

	e := testEngine()
	result, err := e.ApplyPlan(fx.plan, fx.set, payloadRoot, nil, Options{DryRun: true})
	if err != nil {
		t.Fatalf("ApplyPlan dry-run: %v", err)
	}
	if result.StagedFileCount != 0 {
		t.Fatalf("expected no staging in dry-run, got %d", result.StagedFileCount)
	}
	entries, err := os.ReadDir(installRoot)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected install root untouched by dry-run, got entries %v", entries)
	}
}

func TestApplyPlan_IsDeterministicAcrossRuns(t *testing.T) {
	t.Setenv("DSU_TEST_SEED", "100")

	installRootA := t.TempDir()
	payloadRootA := t.TempDir()
	fxA := newFixture(t, payloadRootA, installRootA)
	eA := testEngine()
	resultA, err := eA.ApplyPlan(fxA.plan, fxA.set, payloadRootA, nil, Options{})
	if err != nil {
		t.Fatalf("ApplyPlan A: %v", err)
	}

	installRootB := t.TempDir()
	payloadRootB := t.TempDir()
	fxB := newFixture(t, payloadRootB, installRootB)
	eB := testEngine()
	resultB, err := eB.ApplyPlan(fxB.plan, fxB.set, payloadRootB, nil, Options{})
	if err != nil {
		t.Fatalf("ApplyPlan B: %v", err)
	}

	if resultA.JournalID != resultB.JournalID {
		t.Fatalf("expected identical seeded journal ids, got %d and %d", resultA.JournalID, resultB.JournalID)
	}
}

func TestJournalRead_RejectsTamperedChecksum(t *testing.T) {
	installRoot := t.TempDir()
	payloadRoot := t.TempDir()
	fx := newFixture(t, payloadRoot, installRoot)

	journalPath := filepath.Join(t.TempDir(), "ok.dsuj")
	e := testEngine()
	if _, err := e.ApplyPlan(fx.plan, fx.set, payloadRoot, nil, Options{JournalPath: journalPath}); err != nil {
		t.Fatalf("ApplyPlan: %v", err)
	}

	buf, err := os.ReadFile(journalPath)
	if err != nil {
		t.Fatal(err)
	}
	buf[journal.HeaderSize+20] ^= 0xFF
	if err := os.WriteFile(journalPath, buf, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = journal.Read(journalPath)
	if err == nil {
		t.Fatal("expected a checksum integrity error from a tampered journal, got nil")
	}
	if dsuerr.KindOf(err) != dsuerr.KindIntegrity {
		t.Fatalf("got kind %v, want IntegrityError", dsuerr.KindOf(err))
	}
}
