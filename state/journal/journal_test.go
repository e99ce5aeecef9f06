package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dominium/dsu/logic/dsuerr"
)

func writeSampleJournal(t *testing.T, path string) {
	t.Helper()
	w, err := Create(path, 0x1234, 0x5678)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.WriteMetadata("/opt/acme-suite", "/opt/acme-suite.txn/1234", "state/installed.dsustate"); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}
	if err := w.WriteEntry(Entry{Type: RecordCreateDir, TargetRoot: "/opt/acme-suite", TargetPath: "bin"}); err != nil {
		t.Fatalf("WriteEntry CreateDir: %v", err)
	}
	if err := w.WriteEntry(Entry{
		Type:       RecordCopyFile,
		TargetRoot: "/opt/acme-suite", TargetPath: "bin/core.bin",
		SourceRoot: "/opt/acme-suite.txn/1234/staged", SourcePath: "bin/core.bin",
	}); err != nil {
		t.Fatalf("WriteEntry CopyFile: %v", err)
	}
	if err := w.WriteProgress(1); err != nil {
		t.Fatalf("WriteProgress: %v", err)
	}
	if err := w.WriteEntry(Entry{Type: RecordWriteState, TargetRoot: "/opt/acme-suite", TargetPath: "state/installed.dsustate"}); err != nil {
		t.Fatalf("WriteEntry WriteState: %v", err)
	}
	if err := w.WriteProgress(2); err != nil {
		t.Fatalf("WriteProgress: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txn.dsujournal")
	writeSampleJournal(t, path)

	j, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if j.JournalID != 0x1234 || j.PlanDigest != 0x5678 {
		t.Fatalf("got journal id/digest %x/%x, want 1234/5678", j.JournalID, j.PlanDigest)
	}
	if j.InstallRootAbs != "/opt/acme-suite" || j.StateRel != "state/installed.dsustate" {
		t.Fatalf("metadata not round-tripped: %+v", j)
	}
	if len(j.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(j.Entries))
	}
	if j.Entries[0].Type != RecordCreateDir || j.Entries[1].Type != RecordCopyFile || j.Entries[2].Type != RecordWriteState {
		t.Fatalf("entries out of order or wrong type: %+v", j.Entries)
	}
	if j.Entries[1].SourcePath != "bin/core.bin" {
		t.Fatalf("entry field not round-tripped: %+v", j.Entries[1])
	}
	if len(j.ProgressMarks) != 2 || j.ProgressMarks[0] != 1 || j.ProgressMarks[1] != 2 {
		t.Fatalf("got progress marks %v, want [1 2]", j.ProgressMarks)
	}
}

func TestRead_RejectsFlippedEntryByte(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txn.dsujournal")
	writeSampleJournal(t, path)

	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Flip a byte inside the first metadata record's install-root-abs string
	// content (the first byte after the 6-byte record header and the 6-byte
	// field header), so the record stream
	// stays structurally well-formed and only its checksum fails to match.
	buf[HeaderSize+12] ^= 0xFF
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = Read(path)
	if err == nil {
		t.Fatal("expected a checksum integrity error, got nil")
	}
	if dsuerr.KindOf(err) != dsuerr.KindIntegrity {
		t.Fatalf("got kind %v, want IntegrityError", dsuerr.KindOf(err))
	}
}

func TestRead_RejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txn.dsujournal")
	writeSampleJournal(t, path)

	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	buf[0] = 'X'
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = Read(path)
	if err == nil {
		t.Fatal("expected a parse error for bad magic, got nil")
	}
}

func TestRead_RejectsTruncatedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txn.dsujournal")
	if err := os.WriteFile(path, []byte{'D', 'S', 'U', 'J'}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(path); err == nil {
		t.Fatal("expected an error for a truncated header, got nil")
	}
}

func TestWriteEntry_StampsEntryVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txn.dsujournal")
	w, err := Create(path, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteEntry(Entry{Type: RecordCreateDir, TargetPath: "bin"}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	j, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if j.Entries[0].EntryVersion != entryVersion {
		t.Fatalf("got entry version %d, want %d", j.Entries[0].EntryVersion, entryVersion)
	}
}
