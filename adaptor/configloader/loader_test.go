package configloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dominium/dsu/state/config"
)

// TestLoadEngineOverridesDefaults verifies that YAML values override defaults
// while unset values retain defaults. This is the core config loading
// behavior.
func TestLoadEngineOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dsu.yml")
	data := `
journal_dir: /var/lib/dominium/journals
progress_checkpoint_interval: 4
stage_buffer_bytes: 65536
verify_timeout_seconds: 30
log_max_bytes: 1048576
log_max_files: 2
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadEngine(path)
	if err != nil {
		t.Fatalf("LoadEngine: %v", err)
	}

	if cfg.JournalDir != "/var/lib/dominium/journals" {
		t.Errorf("JournalDir = %q", cfg.JournalDir)
	}
	if cfg.ProgressCheckpointInterval != 4 {
		t.Errorf("ProgressCheckpointInterval = %d", cfg.ProgressCheckpointInterval)
	}
	if cfg.StageBufferBytes != 65536 {
		t.Errorf("StageBufferBytes = %d", cfg.StageBufferBytes)
	}
	if cfg.VerifyTimeout != 30*time.Second {
		t.Errorf("VerifyTimeout = %v", cfg.VerifyTimeout)
	}
	if cfg.LogMaxBytes != 1048576 {
		t.Errorf("LogMaxBytes = %d", cfg.LogMaxBytes)
	}
	if cfg.LogMaxFiles != 2 {
		t.Errorf("LogMaxFiles = %d", cfg.LogMaxFiles)
	}
	// Unset values should keep defaults.
	if cfg.StateRelPath != config.Default().StateRelPath {
		t.Errorf("StateRelPath should keep default, got %q", cfg.StateRelPath)
	}
	if cfg.TxnRootSuffix != config.Default().TxnRootSuffix {
		t.Errorf("TxnRootSuffix should keep default, got %q", cfg.TxnRootSuffix)
	}
}

// TestLoadEngineZeroValuesAreExplicit verifies that pointer-typed fields
// distinguish "absent" from "explicitly zero": an explicit 0 headroom must
// survive the overlay instead of being replaced by the default.
func TestLoadEngineZeroValuesAreExplicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dsu.yml")
	data := `
disk_free_safety_headroom_bytes: 0
deterministic: true
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadEngine(path)
	if err != nil {
		t.Fatalf("LoadEngine: %v", err)
	}
	if cfg.DiskFreeSafetyHeadroomBytes != 0 {
		t.Errorf("DiskFreeSafetyHeadroomBytes = %d, want explicit 0", cfg.DiskFreeSafetyHeadroomBytes)
	}
	if !cfg.Deterministic {
		t.Error("Deterministic should be true")
	}
}

// TestLoadEngineMissingFileReturnsDefaults verifies a missing file is not an
// error: the engine runs on defaults alone.
func TestLoadEngineMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadEngine(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	if err != nil {
		t.Fatalf("LoadEngine: %v", err)
	}
	if cfg != config.Default() {
		t.Errorf("got %+v, want Default()", cfg)
	}
}

// TestLoadEngineInvalidYAML verifies malformed config files fail loudly
// instead of silently falling back to defaults.
func TestLoadEngineInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dsu.yml")
	if err := os.WriteFile(path, []byte("journal_dir: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadEngine(path); err == nil {
		t.Fatal("expected a parse error for invalid YAML, got nil")
	}
}

// TestLoadEngineEmptyFile verifies an empty file behaves like a missing one.
func TestLoadEngineEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dsu.yml")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadEngine(path)
	if err != nil {
		t.Fatalf("LoadEngine: %v", err)
	}
	if cfg != config.Default() {
		t.Errorf("got %+v, want Default()", cfg)
	}
}
