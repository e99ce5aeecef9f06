// Package txn drives the two-phase commit pipeline that turns a plan into a
// durable filesystem change: Stage, Verify, Commit, and (on any failure)
// Rollback. Every mutation is journaled before its
// visible effect becomes durable, and every durable mutation has a
// documented reverse, so a crash at any point leaves either the
// pre-transaction tree or a fully-committed one, never something between.
package txn

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dominium/dsu/adaptor/platformfs"
	"github.com/dominium/dsu/logic/canon"
	"github.com/dominium/dsu/logic/digest"
	"github.com/dominium/dsu/logic/dsuerr"
	"github.com/dominium/dsu/logic/planner"
	"github.com/dominium/dsu/logic/resolver"
	"github.com/dominium/dsu/state/auditlog"
	"github.com/dominium/dsu/state/config"
	"github.com/dominium/dsu/state/installstate"
	"github.com/dominium/dsu/state/journal"
	"github.com/google/uuid"
)

// Options is the caller-facing control surface for ApplyPlan/UninstallState.
type Options struct {
	DryRun           bool
	JournalPath      string
	TxnRoot          string
	FailAfterEntries uint32
}

// Result is the outcome of a transaction.
type Result struct {
	JournalID         uint64
	Digest64          uint64
	InstallRoot       string
	TxnRoot           string
	JournalPath       string
	StateRelPath      string
	JournalEntryCount uint32
	CommitProgress    uint32
	StagedFileCount   uint32
	VerifiedOK        uint32
	VerifiedMissing   uint32
	VerifiedMismatch  uint32
}

// Engine drives transactions against one install root at a time. It is not
// safe for concurrent use against the same install root; serializing
// concurrent callers is the caller's contract.
type Engine struct {
	fs           *platformfs.Operator
	logger       *slog.Logger
	cfg          config.Engine
	newJournalID func() uint64
}

// NewEngine creates a transaction engine over the given filesystem operator
// and run-options. If DSU_TEST_SEED is set to a parseable uint64, journal
// ids are generated as a deterministic incrementing sequence from that seed
// instead of randomly, for reproducible tests.
//
//	e := txn.NewEngine(platformfs.New(), slog.Default(), config.Default())
func NewEngine(fs *platformfs.Operator, logger *slog.Logger, cfg config.Engine) *Engine {
	return &Engine{fs: fs, logger: logger, cfg: cfg, newJournalID: journalIDSource()}
}

func journalIDSource() func() uint64 {
	if seed, err := strconv.ParseUint(os.Getenv("DSU_TEST_SEED"), 10, 64); err == nil {
		next := seed
		return func() uint64 {
			id := next
			next++
			return id
		}
	}
	return func() uint64 {
		id := uuid.New()
		return binary.LittleEndian.Uint64(id[:8])
	}
}

// failpoint is the parsed form of DSU_FAILPOINT: a label, and for
// "mid_commit:<N>" an associated entry count.
type failpoint struct {
	label string
	n     uint32
}

func currentFailpoint() failpoint {
	raw := os.Getenv("DSU_FAILPOINT")
	if raw == "" {
		return failpoint{}
	}
	label, arg, hasArg := strings.Cut(raw, ":")
	fp := failpoint{label: label}
	if hasArg {
		if n, err := strconv.ParseUint(arg, 10, 32); err == nil {
			fp.n = uint32(n)
		}
	}
	return fp
}

func (f failpoint) matches(label string) bool { return f.label == label }

func (f failpoint) matchesCommitEntry(n uint32) bool {
	return f.label == "mid_commit" && f.n == n
}

func errInjected(label string) error {
	return dsuerr.New(dsuerr.KindInternal, "txn", errFailpoint(label))
}

type errFailpoint string

func (e errFailpoint) Error() string { return "txn: injected failure at " + string(e) }

func joinRel(root, rel string) string {
	if rel == "" {
		return root
	}
	return root + "/" + rel
}

// Root labels recorded on journal entries instead of absolute paths, so a
// journal stays interpretable regardless of where the install/txn roots are
// mounted on the host that resumes it (the NOOP metadata record carries
// their concrete absolute paths).
const (
	rootInstall = "install_root"
	rootTxn     = "txn_root"
)

func resolveRoot(meta journal.NoopMetadata, label string) string {
	switch label {
	case rootInstall:
		return meta.InstallRootAbs
	case rootTxn:
		return meta.TxnRootAbs
	default:
		return label
	}
}

// txnState accumulates the mutable bookkeeping one ApplyPlan/UninstallState
// call needs across Stage, Verify, Commit, and a possible Rollback.
type txnState struct {
	e           *Engine
	w           *journal.Writer
	meta        journal.NoopMetadata
	written     []journal.Entry // forward entries journaled, in write order
	applied     []bool          // parallel to written: whether the durable effect landed
	fp          failpoint
	failAfter   uint32
	entryCount  uint32
	auditLog    *auditlog.Accumulator
}

func (e *Engine) newTxnState(w *journal.Writer, meta journal.NoopMetadata, opts Options) *txnState {
	return &txnState{
		e:         e,
		w:         w,
		meta:      meta,
		fp:        currentFailpoint(),
		failAfter: opts.FailAfterEntries,
		auditLog:  auditlog.NewAccumulator(),
	}
}

// journalAndApply writes entry to the journal, then performs the durable
// filesystem action via apply, recording whether it landed so Rollback knows
// whether to undo it. It also evaluates the commit-entry failpoints after
// the entry is durable but before returning success, matching a process
// that crashes immediately after completing one forward action.
func (ts *txnState) journalAndApply(entry journal.Entry, apply func() error) error {
	if err := ts.w.WriteEntry(entry); err != nil {
		return dsuerr.Wrap(dsuerr.KindIO, err, "txn.journalAndApply: write entry")
	}
	if err := ts.w.Sync(); err != nil {
		return dsuerr.Wrap(dsuerr.KindIO, err, "txn.journalAndApply: sync entry")
	}
	ts.written = append(ts.written, entry)
	ts.applied = append(ts.applied, false)

	if err := apply(); err != nil {
		return dsuerr.Wrap(dsuerr.KindIO, err, "txn.journalAndApply: apply entry")
	}
	ts.applied[len(ts.applied)-1] = true
	ts.entryCount++

	if interval := ts.e.cfg.ProgressCheckpointInterval; interval > 0 && ts.entryCount%interval == 0 {
		if err := ts.w.WriteProgress(ts.entryCount); err != nil {
			return dsuerr.Wrap(dsuerr.KindIO, err, "txn.journalAndApply: write progress")
		}
		if err := ts.w.Sync(); err != nil {
			return dsuerr.Wrap(dsuerr.KindIO, err, "txn.journalAndApply: sync progress")
		}
	}

	if ts.fp.matchesCommitEntry(ts.entryCount) {
		return errInjected("mid_commit:" + strconv.FormatUint(uint64(ts.entryCount), 10))
	}
	if ts.failAfter != 0 && ts.entryCount == ts.failAfter {
		return errInjected("fail_after_entries:" + strconv.FormatUint(uint64(ts.failAfter), 10))
	}
	return nil
}

// rollback undoes every journaled entry in reverse write order. Entries that
// were journaled but never durably applied (a crash between writing the
// entry and performing its effect) are skipped on the apply side but their
// rollback-relevant backups, if any, are still honored since the backup
// itself is the first half of the apply and may already have landed; undo is
// written generically enough to be a no-op when there is nothing to undo.
func (ts *txnState) rollback() error {
	for i := len(ts.written) - 1; i >= 0; i-- {
		entry := ts.written[i]
		if err := undoEntry(ts.e.fs, ts.meta, entry); err != nil {
			return dsuerr.Wrap(dsuerr.KindIO, err, "txn.rollback: undo entry %d", i)
		}
	}
	return nil
}

// undoEntry reverses one forward journal entry. It tolerates a crash at any
// point inside the original apply: a restore-from-backup only happens if the
// backup actually exists, and every delete is already idempotent, so calling
// undoEntry on an entry whose apply never ran, partially ran, or fully ran
// always converges on the pre-transaction state.
func undoEntry(fs *platformfs.Operator, meta journal.NoopMetadata, entry journal.Entry) error {
	target := joinRel(resolveRoot(meta, entry.TargetRoot), entry.TargetPath)

	switch entry.Type {
	case journal.RecordCreateDir:
		return fs.Rmdir(target)
	case journal.RecordRemoveDir:
		return fs.Mkdir(target)
	case journal.RecordCopyFile:
		return fs.Remove(target)
	case journal.RecordMoveFile, journal.RecordDeleteFile, journal.RecordWriteState:
		if entry.Flags&journal.TargetPreexisted != 0 {
			rollback := joinRel(resolveRoot(meta, entry.RollbackRoot), entry.RollbackPath)
			info, err := fs.PathInfo(rollback)
			if err != nil {
				return err
			}
			if info.Exists {
				return fs.Rename(rollback, target, true)
			}
			return nil
		}
		return fs.Remove(target)
	default:
		return nil
	}
}

// stagedFile pairs one plan file intent with the absolute path its content
// was staged to.
type stagedFile struct {
	intent planner.FileIntent
	path   string
}

// stage copies every plan file from the manifest's payload root into a
// staging directory under txnRootAbs, verifying each copy's SHA-256 and size
// against the plan's declared values as it streams.
func stage(fs *platformfs.Operator, cfg config.Engine, payloadRootAbs, txnRootAbs string, files []planner.FileIntent) ([]stagedFile, error) {
	stageDir := txnRootAbs + "/staged"
	if err := fs.MkdirAll(stageDir); err != nil {
		return nil, dsuerr.Wrap(dsuerr.KindIO, err, "txn.stage: create staging dir")
	}

	out := make([]stagedFile, 0, len(files))
	for i, f := range files {
		src := payloadRootAbs + "/" + f.PayloadRef.ContainerPath
		dst := stageDir + "/" + strconv.Itoa(i)

		in, err := os.Open(src)
		if err != nil {
			return nil, dsuerr.Wrap(dsuerr.KindIO, err, "txn.stage: open payload %q", src)
		}
		sum, size, err := copyAndSum(in, dst, cfg.StageBufferBytes)
		closeErr := in.Close()
		if err != nil {
			return nil, dsuerr.Wrap(dsuerr.KindIO, err, "txn.stage: copy payload %q", src)
		}
		if closeErr != nil {
			return nil, dsuerr.Wrap(dsuerr.KindIO, closeErr, "txn.stage: close payload %q", src)
		}
		if uint64(size) != f.Size || sum != f.SHA256 {
			return nil, dsuerr.New(dsuerr.KindIntegrity, "txn.stage",
				errMsg("staged payload %q does not match manifest digest/size", src))
		}
		out = append(out, stagedFile{intent: f, path: dst})
	}
	return out, nil
}

// copyAndSum streams in to a newly-created dst through a bufSize buffer
// (cfg.StageBufferBytes), computing the SHA-256 and size of the bytes
// written in the same pass.
func copyAndSum(in *os.File, dst string, bufSize int) ([32]byte, int64, error) {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return [32]byte{}, 0, err
	}
	defer func() { _ = out.Close() }()

	h := sha256.New()
	size, err := io.CopyBuffer(io.MultiWriter(h, out), in, make([]byte, bufSize))
	if err != nil {
		return [32]byte{}, 0, err
	}
	if err := out.Close(); err != nil {
		return [32]byte{}, 0, err
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, size, nil
}

// verify checks that free disk space covers the staged payload with
// headroom, re-confirms every staged file still matches its declared digest,
// and asserts no prefix of any path about to be written has become a
// symlink/reparse point. deadline, if non-zero,
// bounds the whole pass.
func verify(fs *platformfs.Operator, cfg config.Engine, installRootAbs string, staged []stagedFile) error {
	deadline := time.Time{}
	if cfg.VerifyTimeout > 0 {
		deadline = time.Now().Add(cfg.VerifyTimeout)
	}

	var total uint64
	for _, s := range staged {
		total += s.intent.Size
	}
	free, err := fs.DiskFreeBytes(installRootAbs)
	if err != nil {
		return dsuerr.Wrap(dsuerr.KindIO, err, "txn.verify: disk free")
	}
	if free < total+uint64(cfg.DiskFreeSafetyHeadroomBytes) {
		return dsuerr.New(dsuerr.KindIO, "txn.verify", errMsg("insufficient free disk space: need %d, have %d", total+uint64(cfg.DiskFreeSafetyHeadroomBytes), free))
	}

	for _, s := range staged {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return dsuerr.New(dsuerr.KindIO, "txn.verify", errMsg("verify pass exceeded timeout"))
		}
		sum, size, err := digest.SHA256File(s.path)
		if err != nil {
			return dsuerr.Wrap(dsuerr.KindIO, err, "txn.verify: re-read staged %q", s.path)
		}
		if uint64(size) != s.intent.Size || sum != s.intent.SHA256 {
			return dsuerr.New(dsuerr.KindIntegrity, "txn.verify", errMsg("staged file %q changed since Stage", s.path))
		}
		if _, err := canon.ResolveUnderRoot(installRootAbs, s.intent.RelTarget, fs.Lstat); err != nil {
			return err
		}
	}
	return nil
}

func errMsg(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

// ApplyPlan stages, verifies, and commits a resolved plan for an
// install/upgrade/repair operation, journaling every mutation as it lands.
// On any failure it rolls the transaction back to the pre-transaction state
// and returns the failure, never a half-applied tree. payloadRootAbs is the
// directory the plan's ContainerPath
// values are relative to.
//
//	result, err := engine.ApplyPlan(plan, set, payloadRoot, prior, txn.Options{})
func (e *Engine) ApplyPlan(plan *planner.Plan, set *resolver.Set, payloadRootAbs string, prior *installstate.State, opts Options) (*Result, error) {
	journalID := e.newJournalID()
	installRootAbs := plan.InstallRoot
	txnRootAbs := opts.TxnRoot
	if txnRootAbs == "" {
		txnRootAbs = installRootAbs + e.cfg.TxnRootSuffix + "/" + strconv.FormatUint(journalID, 16)
	}

	result := &Result{
		JournalID:    journalID,
		Digest64:     plan.IDHash64,
		InstallRoot:  installRootAbs,
		TxnRoot:      txnRootAbs,
		StateRelPath: e.cfg.StateRelPath,
	}

	if opts.DryRun {
		return result, nil
	}

	if err := e.fs.MkdirAll(txnRootAbs); err != nil {
		return nil, dsuerr.Wrap(dsuerr.KindIO, err, "txn.ApplyPlan: create txn root")
	}

	staged, err := stage(e.fs, e.cfg, payloadRootAbs, txnRootAbs, plan.Files)
	if err != nil {
		_ = e.fs.RemoveAll(txnRootAbs)
		return nil, err
	}
	result.StagedFileCount = uint32(len(staged))

	fp := currentFailpoint()
	if fp.matches("after_stage_write") {
		_ = e.fs.RemoveAll(txnRootAbs)
		return nil, errInjected("after_stage_write")
	}

	if err := verify(e.fs, e.cfg, installRootAbs, staged); err != nil {
		_ = e.fs.RemoveAll(txnRootAbs)
		return nil, err
	}
	if fp.matches("after_verify") {
		_ = e.fs.RemoveAll(txnRootAbs)
		return nil, errInjected("after_verify")
	}

	journalPath := opts.JournalPath
	if journalPath == "" {
		journalDir := e.cfg.JournalDir
		if !strings.HasPrefix(journalDir, "/") {
			journalDir = installRootAbs + "/" + journalDir
		}
		if err := e.fs.MkdirAll(journalDir); err != nil {
			_ = e.fs.RemoveAll(txnRootAbs)
			return nil, dsuerr.Wrap(dsuerr.KindIO, err, "txn.ApplyPlan: create journal dir")
		}
		journalPath = journalDir + "/" + strconv.FormatUint(journalID, 16) + ".dsuj"
	}
	result.JournalPath = journalPath

	w, err := journal.Create(journalPath, journalID, plan.IDHash64)
	if err != nil {
		_ = e.fs.RemoveAll(txnRootAbs)
		return nil, dsuerr.Wrap(dsuerr.KindIO, err, "txn.ApplyPlan: create journal")
	}
	defer func() { _ = w.Close() }()

	meta := journal.NoopMetadata{InstallRootAbs: installRootAbs, TxnRootAbs: txnRootAbs, StateRel: e.cfg.StateRelPath}
	if err := w.WriteMetadata(meta.InstallRootAbs, meta.TxnRootAbs, meta.StateRel); err != nil {
		_ = e.fs.RemoveAll(txnRootAbs)
		return nil, dsuerr.Wrap(dsuerr.KindIO, err, "txn.ApplyPlan: write journal metadata")
	}

	ts := e.newTxnState(w, meta, opts)
	for _, entry := range set.Log {
		ts.auditLog.Add(entry.Code, entry.ArgA, entry.ArgB)
	}

	committed, err := e.commitPlan(ts, installRootAbs, txnRootAbs, plan, staged)
	if err == nil && ts.fp.matches("before_state_write") {
		err = errInjected("before_state_write")
	}
	var auditBuf []byte
	if err == nil {
		newState := buildNextState(prior, plan, set, committed, journalID)
		if buf, mErr := ts.auditLog.Marshal(); mErr == nil {
			auditBuf = buf
			newState.HasAuditLogDigest64 = true
			newState.LastAuditLogDigest64 = ts.auditLog.Digest64(buf)
		}
		err = e.writeState(ts, installRootAbs, txnRootAbs, newState)
	}
	if err != nil {
		if rbErr := ts.rollback(); rbErr != nil {
			e.logger.Error("txn: rollback failed", "journal_id", journalID, "error", rbErr)
			_ = e.fs.RemoveAll(txnRootAbs)
			return nil, dsuerr.Wrap(dsuerr.KindInternal, rbErr, "txn.ApplyPlan: rollback after %v", err)
		}
		_ = e.fs.RemoveAll(txnRootAbs)
		return nil, err
	}

	if auditBuf != nil {
		if wErr := os.WriteFile(installRootAbs+"/.dsu/audit.json", auditBuf, 0o644); wErr != nil {
			e.logger.Warn("txn: audit log export failed", "journal_id", journalID, "error", wErr)
		}
	}

	_ = e.fs.RemoveAll(txnRootAbs)

	result.JournalEntryCount = uint32(len(ts.written))
	result.CommitProgress = ts.entryCount
	return result, nil
}

// commitPlan journals and applies the directory and file mutations a
// non-dry-run ApplyPlan needs, returning the files that landed per plan
// component index so the caller can fold them into the next installed-state
// record.
func (e *Engine) commitPlan(ts *txnState, installRootAbs, txnRootAbs string, plan *planner.Plan, staged []stagedFile) (map[int][]installstate.File, error) {
	for _, dir := range plan.Dirs {
		dirAbs := joinRel(installRootAbs, dir)
		info, err := e.fs.PathInfo(dirAbs)
		if err != nil {
			return nil, dsuerr.Wrap(dsuerr.KindIO, err, "txn.commitPlan: stat dir %q", dir)
		}
		if info.Exists {
			continue
		}
		dir := dir
		err = ts.journalAndApply(journal.Entry{Type: journal.RecordCreateDir, TargetRoot: rootInstall, TargetPath: dir},
			func() error { return e.fs.Mkdir(dirAbs) })
		if err != nil {
			return nil, err
		}
	}

	committed := make(map[int][]installstate.File, len(plan.Components))
	for i, s := range staged {
		relTarget := s.intent.RelTarget
		targetAbs := joinRel(installRootAbs, relTarget)
		backupRel := "backup/" + strconv.Itoa(i)
		backupAbs := joinRel(txnRootAbs, backupRel)

		info, err := e.fs.PathInfo(targetAbs)
		if err != nil {
			return nil, dsuerr.Wrap(dsuerr.KindIO, err, "txn.commitPlan: stat target %q", relTarget)
		}
		var flags journal.EntryFlag
		if info.Exists {
			flags = journal.TargetPreexisted
		}

		stagedRel := "staged/" + strconv.Itoa(i)
		entry := journal.Entry{
			Type:         journal.RecordMoveFile,
			TargetRoot:   rootInstall,
			TargetPath:   relTarget,
			SourceRoot:   rootTxn,
			SourcePath:   stagedRel,
			RollbackRoot: rootTxn,
			RollbackPath: backupRel,
			Flags:        flags,
		}
		stagedAbs := s.path
		err = ts.journalAndApply(entry, func() error {
			if flags&journal.TargetPreexisted != 0 {
				if err := e.fs.MkdirAll(joinRel(txnRootAbs, "backup")); err != nil {
					return err
				}
				if err := e.fs.Rename(targetAbs, backupAbs, true); err != nil {
					return err
				}
			}
			return e.fs.Rename(stagedAbs, targetAbs, true)
		})
		if err != nil {
			return nil, err
		}

		sum, size, hashErr := digest.SHA256File(targetAbs)
		if hashErr != nil {
			sum, size = s.intent.SHA256, int64(s.intent.Size)
		}
		d := digest.NewDigest64()
		d.WriteStringField(relTarget)
		d.Write(sum[:])
		committed[s.intent.ComponentIx] = append(committed[s.intent.ComponentIx], installstate.File{
			RootIndex: 0,
			RelPath:   relTarget,
			SHA256:    sum,
			Size:      uint64(size),
			Digest64:  d.Sum(),
			Ownership: installstate.OwnershipOwned,
		})
	}

	return committed, nil
}

// writeState folds newState into its journaled WRITE_STATE entry, backing up
// any existing state file first so rollback can restore it.
func (e *Engine) writeState(ts *txnState, installRootAbs, txnRootAbs string, newState *installstate.State) error {
	stateRel := e.cfg.StateRelPath
	stateAbs := joinRel(installRootAbs, stateRel)
	backupRel := "backup/state"
	backupAbs := joinRel(txnRootAbs, backupRel)

	info, err := e.fs.PathInfo(stateAbs)
	if err != nil {
		return dsuerr.Wrap(dsuerr.KindIO, err, "txn.writeState: stat %q", stateAbs)
	}
	var flags journal.EntryFlag
	if info.Exists {
		flags = journal.TargetPreexisted
	}

	entry := journal.Entry{
		Type:         journal.RecordWriteState,
		TargetRoot:   rootInstall,
		TargetPath:   stateRel,
		RollbackRoot: rootTxn,
		RollbackPath: backupRel,
		Flags:        flags,
	}
	return ts.journalAndApply(entry, func() error {
		if flags&journal.TargetPreexisted != 0 {
			if err := e.fs.MkdirAll(joinRel(txnRootAbs, "backup")); err != nil {
				return err
			}
			if err := e.fs.Rename(stateAbs, backupAbs, true); err != nil {
				return err
			}
		}
		return installstate.Save(stateAbs, newState)
	})
}

// deleteState removes the installed-state file itself, journaled with a
// backup so rollback can restore it. Used when an uninstall removes the last
// remaining component: a product with nothing installed keeps no state file.
func (e *Engine) deleteState(ts *txnState, installRootAbs, txnRootAbs string) error {
	stateRel := e.cfg.StateRelPath
	stateAbs := joinRel(installRootAbs, stateRel)
	backupRel := "backup/state"
	backupAbs := joinRel(txnRootAbs, backupRel)

	info, err := e.fs.PathInfo(stateAbs)
	if err != nil {
		return dsuerr.Wrap(dsuerr.KindIO, err, "txn.deleteState: stat %q", stateAbs)
	}
	if !info.Exists {
		return nil
	}

	entry := journal.Entry{
		Type:         journal.RecordDeleteFile,
		TargetRoot:   rootInstall,
		TargetPath:   stateRel,
		RollbackRoot: rootTxn,
		RollbackPath: backupRel,
		Flags:        journal.TargetPreexisted,
	}
	return ts.journalAndApply(entry, func() error {
		if err := e.fs.MkdirAll(joinRel(txnRootAbs, "backup")); err != nil {
			return err
		}
		return e.fs.Rename(stateAbs, backupAbs, true)
	})
}

// UninstallState removes a previously-installed component set from disk and
// from the installed-state record, journaling every deletion the same way
// ApplyPlan journals installs.
//
//	result, err := engine.UninstallState(plan, set, prior, txn.Options{})
func (e *Engine) UninstallState(plan *planner.Plan, set *resolver.Set, prior *installstate.State, opts Options) (*Result, error) {
	journalID := e.newJournalID()
	installRootAbs := plan.InstallRoot
	txnRootAbs := opts.TxnRoot
	if txnRootAbs == "" {
		txnRootAbs = installRootAbs + e.cfg.TxnRootSuffix + "/" + strconv.FormatUint(journalID, 16)
	}

	result := &Result{
		JournalID:    journalID,
		Digest64:     plan.IDHash64,
		InstallRoot:  installRootAbs,
		TxnRoot:      txnRootAbs,
		StateRelPath: e.cfg.StateRelPath,
	}
	if opts.DryRun {
		return result, nil
	}

	if err := e.fs.MkdirAll(txnRootAbs); err != nil {
		return nil, dsuerr.Wrap(dsuerr.KindIO, err, "txn.UninstallState: create txn root")
	}

	journalPath := opts.JournalPath
	if journalPath == "" {
		journalDir := e.cfg.JournalDir
		if !strings.HasPrefix(journalDir, "/") {
			journalDir = installRootAbs + "/" + journalDir
		}
		if err := e.fs.MkdirAll(journalDir); err != nil {
			_ = e.fs.RemoveAll(txnRootAbs)
			return nil, dsuerr.Wrap(dsuerr.KindIO, err, "txn.UninstallState: create journal dir")
		}
		journalPath = journalDir + "/" + strconv.FormatUint(journalID, 16) + ".dsuj"
	}
	result.JournalPath = journalPath

	w, err := journal.Create(journalPath, journalID, plan.IDHash64)
	if err != nil {
		_ = e.fs.RemoveAll(txnRootAbs)
		return nil, dsuerr.Wrap(dsuerr.KindIO, err, "txn.UninstallState: create journal")
	}
	defer func() { _ = w.Close() }()

	meta := journal.NoopMetadata{InstallRootAbs: installRootAbs, TxnRootAbs: txnRootAbs, StateRel: e.cfg.StateRelPath}
	if err := w.WriteMetadata(meta.InstallRootAbs, meta.TxnRootAbs, meta.StateRel); err != nil {
		_ = e.fs.RemoveAll(txnRootAbs)
		return nil, dsuerr.Wrap(dsuerr.KindIO, err, "txn.UninstallState: write journal metadata")
	}

	ts := e.newTxnState(w, meta, opts)
	for _, entry := range set.Log {
		ts.auditLog.Add(entry.Code, entry.ArgA, entry.ArgB)
	}

	removedIDs := make(map[string]bool)
	for _, c := range set.Components {
		if c.Action == resolver.ActionUninstall {
			removedIDs[c.ID] = true
		}
	}

	fail := func(cause error) (*Result, error) {
		if rbErr := ts.rollback(); rbErr != nil {
			e.logger.Error("txn: rollback failed", "journal_id", journalID, "error", rbErr)
			_ = e.fs.RemoveAll(txnRootAbs)
			return nil, dsuerr.Wrap(dsuerr.KindInternal, rbErr, "txn.UninstallState: rollback after %v", cause)
		}
		_ = e.fs.RemoveAll(txnRootAbs)
		return nil, cause
	}

	// Files tagged user_data or cache are never removed; only owned files
	// are journaled for deletion.
	dirsTouched := make(map[string]bool)
	if prior != nil {
		for _, comp := range prior.Components {
			if !removedIDs[comp.ID] {
				continue
			}
			for i, f := range comp.Files {
				if f.Ownership != installstate.OwnershipOwned {
					continue
				}
				targetAbs := joinRel(installRootAbs, f.RelPath)
				backupRel := "backup/" + comp.ID + "/" + strconv.Itoa(i)
				backupAbs := joinRel(txnRootAbs, backupRel)

				entry := journal.Entry{
					Type:         journal.RecordDeleteFile,
					TargetRoot:   rootInstall,
					TargetPath:   f.RelPath,
					RollbackRoot: rootTxn,
					RollbackPath: backupRel,
					Flags:        journal.TargetPreexisted,
				}
				err := ts.journalAndApply(entry, func() error {
					if err := e.fs.MkdirAll(joinRel(txnRootAbs, "backup/"+comp.ID)); err != nil {
						return err
					}
					return e.fs.Rename(targetAbs, backupAbs, true)
				})
				if err != nil {
					return fail(err)
				}
				dirsTouched[parentDirOf(f.RelPath)] = true
			}
		}
	}

	// Empty directories are pruned children-first; descending lexicographic
	// order visits every directory before its parent and keeps the journal's
	// record order identical across runs.
	candidates := make(map[string]bool)
	for dir := range dirsTouched {
		for dir != "" && dir != "." {
			candidates[dir] = true
			dir = parentDirOf(dir)
		}
	}
	dirs := make([]string, 0, len(candidates))
	for dir := range candidates {
		dirs = append(dirs, dir)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, dir := range dirs {
		dirAbs := joinRel(installRootAbs, dir)
		entries, err := e.fs.ListDir(dirAbs)
		if err != nil || len(entries) != 0 {
			continue
		}
		dir := dir
		err = ts.journalAndApply(journal.Entry{Type: journal.RecordRemoveDir, TargetRoot: rootInstall, TargetPath: dir},
			func() error { return e.fs.Rmdir(dirAbs) })
		if err != nil {
			return fail(err)
		}
	}

	var stateErr error
	var auditBuf []byte
	if ts.fp.matches("before_state_write") {
		stateErr = errInjected("before_state_write")
	} else {
		newState := buildNextState(prior, plan, set, nil, journalID)
		if buf, mErr := ts.auditLog.Marshal(); mErr == nil {
			auditBuf = buf
			newState.HasAuditLogDigest64 = true
			newState.LastAuditLogDigest64 = ts.auditLog.Digest64(buf)
		}
		if len(newState.Components) == 0 {
			stateErr = e.deleteState(ts, installRootAbs, txnRootAbs)
		} else {
			stateErr = e.writeState(ts, installRootAbs, txnRootAbs, newState)
		}
	}
	if stateErr != nil {
		return fail(stateErr)
	}

	if auditBuf != nil {
		if wErr := os.WriteFile(installRootAbs+"/.dsu/audit.json", auditBuf, 0o644); wErr != nil {
			e.logger.Warn("txn: audit log export failed", "journal_id", journalID, "error", wErr)
		}
	}

	_ = e.fs.RemoveAll(txnRootAbs)
	result.JournalEntryCount = uint32(len(ts.written))
	result.CommitProgress = ts.entryCount
	return result, nil
}

func parentDirOf(relPath string) string {
	idx := strings.LastIndexByte(relPath, '/')
	if idx < 0 {
		return ""
	}
	return relPath[:idx]
}

// VerifyState re-reads every tracked file under an installed-state record
// and classifies it as matching, missing, or content-mismatched against the
// recorded SHA-256 and size. It performs no mutation.
//
//	result, err := engine.VerifyState(state)
func (e *Engine) VerifyState(state *installstate.State) (*Result, error) {
	result := &Result{InstallRoot: primaryRootPath(state)}
	for _, comp := range state.Components {
		for _, f := range comp.Files {
			if f.RootIndex < 0 || f.RootIndex >= len(state.InstallRoots) {
				result.VerifiedMismatch++
				continue
			}
			abs := joinRel(state.InstallRoots[f.RootIndex].PathAbs, f.RelPath)
			info, err := e.fs.PathInfo(abs)
			if err != nil {
				return nil, dsuerr.Wrap(dsuerr.KindIO, err, "txn.VerifyState: stat %q", abs)
			}
			if !info.Exists {
				result.VerifiedMissing++
				continue
			}
			sum, size, err := digest.SHA256File(abs)
			if err != nil {
				return nil, dsuerr.Wrap(dsuerr.KindIO, err, "txn.VerifyState: hash %q", abs)
			}
			if sum != f.SHA256 || uint64(size) != f.Size {
				result.VerifiedMismatch++
				continue
			}
			result.VerifiedOK++
		}
	}
	return result, nil
}

func primaryRootPath(state *installstate.State) string {
	for _, r := range state.InstallRoots {
		if r.Role == installstate.RolePrimary {
			return r.PathAbs
		}
	}
	return ""
}

// RollbackJournal aborts a transaction left behind by a crash: it reads the
// journal at path and undoes every forward entry it recorded, in reverse
// order, the same way a live ApplyPlan/UninstallState failure would. Callers
// must not invoke this against a journal whose transaction already completed
// successfully: a completed transaction's txn_root (and its backups) is
// removed on success, so this is only meaningful for a journal left behind by
// a crash mid-transaction.
//
//	err := engine.RollbackJournal("/opt/app/.dsu/journal/1a2b3c.dsuj")
func (e *Engine) RollbackJournal(path string) error {
	j, err := journal.Read(path)
	if err != nil {
		return err
	}
	meta := journal.NoopMetadata{InstallRootAbs: j.InstallRootAbs, TxnRootAbs: j.TxnRootAbs, StateRel: j.StateRel}
	for i := len(j.Entries) - 1; i >= 0; i-- {
		if err := undoEntry(e.fs, meta, j.Entries[i]); err != nil {
			return dsuerr.Wrap(dsuerr.KindIO, err, "txn.RollbackJournal: undo entry %d", i)
		}
	}
	if j.TxnRootAbs != "" {
		_ = e.fs.RemoveAll(j.TxnRootAbs)
	}
	return nil
}

// buildNextState folds a committed plan's results into the next
// installed-state record, preserving the install instance id and any
// untouched components from prior. committed maps a plan
// component index to the files that landed for it.
func buildNextState(prior *installstate.State, plan *planner.Plan, set *resolver.Set, committed map[int][]installstate.File, journalID uint64) *installstate.State {
	s := &installstate.State{}
	if prior != nil {
		*s = *prior
	}

	s.ProductID = plan.ProductID
	s.ProductVersion = plan.ProductVersion
	s.Platform = set.Platform
	s.Scope = set.Scope
	s.ManifestDigest64 = set.ManifestDigest64
	s.ResolvedDigest64 = set.ResolvedDigest64
	s.PlanDigest64 = plan.IDHash64
	s.LastOperation = plan.Operation
	s.LastJournalID = journalID

	if s.InstallInstanceID == "" {
		s.InstallInstanceID = uuid.NewString()
	}
	if len(s.InstallRoots) == 0 {
		s.InstallRoots = []installstate.InstallRoot{{Role: installstate.RolePrimary, PathAbs: plan.InstallRoot}}
	} else {
		s.InstallRoots = append([]installstate.InstallRoot(nil), s.InstallRoots...)
		for i := range s.InstallRoots {
			if s.InstallRoots[i].Role == installstate.RolePrimary {
				s.InstallRoots[i].PathAbs = plan.InstallRoot
			}
		}
	}

	byID := make(map[string]installstate.Component, len(s.Components))
	for _, c := range s.Components {
		byID[c.ID] = c
	}

	for ix, ref := range plan.Components {
		comp, isKnown := set.ComponentByID(ref.ID)
		if !isKnown {
			continue
		}
		switch comp.Action {
		case resolver.ActionUninstall:
			delete(byID, ref.ID)
		case resolver.ActionInstall, resolver.ActionUpgrade, resolver.ActionRepair:
			existing := byID[ref.ID]
			existing.ID = ref.ID
			existing.Version = comp.Version
			existing.Kind = ref.Kind
			if files, ok := committed[ix]; ok {
				existing.Files = files
			}
			byID[ref.ID] = existing
		}
	}

	components := make([]installstate.Component, 0, len(byID))
	for _, c := range byID {
		components = append(components, c)
	}
	s.Components = components
	s.Canonicalize()
	return s
}
