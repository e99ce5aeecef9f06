// Package config defines the engine's run-options struct and its defaults.
// These are pure data types with no I/O; loading is handled by adaptor/configloader.
package config

import "time"

// Engine holds the settings that shape how the transaction engine runs,
// loaded from an optional YAML run-options file by adaptor/configloader. No
// environment variables are applied to it; DSU_FAILPOINT and DSU_TEST_SEED
// are read by the transaction engine directly.
type Engine struct {
	// TxnRootSuffix is appended to the install root to form the default
	// txn_root_abs when Options.TxnRoot is unset: the engine
	// builds "<install_root><TxnRootSuffix>/<journal_id_hex>".
	TxnRootSuffix string
	// StateRelPath is the canonical location of the installed-state file
	// under every install root.
	StateRelPath string
	// JournalDir is the directory (absolute, or relative to install_root)
	// where ApplyPlan writes its journal file when Options.JournalPath is
	// unset.
	JournalDir string

	// VerifyTimeout bounds the Verify phase of one ApplyPlan; zero means
	// unbounded. VerifyState and the reports do not read it.
	VerifyTimeout time.Duration

	// LogMaxBytes caps one engine log file before it is rotated aside
	// (adaptor/logfile).
	LogMaxBytes int64
	// LogMaxFiles is how many rotated log generations are kept; the oldest
	// is dropped when a rotation would exceed it.
	LogMaxFiles int

	// ProgressCheckpointInterval is the fixed entry count between
	// commit-progress NOOPs.
	ProgressCheckpointInterval uint32
	// DiskFreeSafetyHeadroomBytes is added to the total payload size when
	// checking free disk space during Verify.
	DiskFreeSafetyHeadroomBytes int64
	// StageBufferBytes is the streaming copy buffer size used while staging
	// files, the same 32 KiB default the file hasher streams through.
	StageBufferBytes int

	// Deterministic is loaded from the run-options file; the engine does
	// not read it. Journal ids come from a seeded sequence only when
	// DSU_TEST_SEED is set, and from random uuids otherwise.
	Deterministic bool
}

// Default returns an Engine config with the engine's built-in defaults.
//
//	cfg := config.Default()
//	cfg.JournalDir = "/var/lib/dominium/journals"
func Default() Engine {
	return Engine{
		TxnRootSuffix:               ".txn",
		StateRelPath:                ".dsu/installed_state.dsustate",
		JournalDir:                  ".dsu/journal",
		ProgressCheckpointInterval:  16,
		DiskFreeSafetyHeadroomBytes: 16 * 1024 * 1024,
		StageBufferBytes:            32 * 1024,
		LogMaxBytes:                 16 * 1024 * 1024,
		LogMaxFiles:                 4,
	}
}
