package journal

import (
	"encoding/binary"
	"os"

	"github.com/dominium/dsu/logic/dsuerr"
	"github.com/dominium/dsu/logic/tlv"
)

// endianMarker is the fixed little-endian sentinel written into every
// journal header, mirroring the manifest/plan/installed-state frame format.
const endianMarker uint16 = 0xFFFE

// Writer appends records to a journal file. A Writer is not safe for
// concurrent use; the transaction engine owns exactly one at a time.
type Writer struct {
	f *os.File
}

// Create opens a new journal file at path, truncating any existing content,
// and writes its 24-byte header.
//
//	w, err := journal.Create(path, journalID, planDigest)
func Create(path string, journalID, planDigest uint64) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, dsuerr.Wrap(dsuerr.KindIO, err, "journal.Create: open %q", path)
	}

	var hdr [HeaderSize]byte
	copy(hdr[0:4], Magic[:])
	binary.LittleEndian.PutUint16(hdr[4:6], Version)
	binary.LittleEndian.PutUint16(hdr[6:8], endianMarker)
	binary.LittleEndian.PutUint64(hdr[8:16], journalID)
	binary.LittleEndian.PutUint64(hdr[16:24], planDigest)
	if _, err := f.Write(hdr[:]); err != nil {
		f.Close()
		return nil, dsuerr.Wrap(dsuerr.KindIO, err, "journal.Create: write header %q", path)
	}
	return &Writer{f: f}, nil
}

func (w *Writer) writeRecord(typ RecordType, body []byte) error {
	rw := tlv.NewWriter()
	rw.Put(uint16(typ), body)
	if _, err := w.f.Write(rw.Bytes()); err != nil {
		return dsuerr.Wrap(dsuerr.KindIO, err, "journal.writeRecord")
	}
	return nil
}

// WriteMetadata appends the install-root/txn-root/state-path announcement.
// The transaction engine writes this once, immediately after the header.
func (w *Writer) WriteMetadata(installRootAbs, txnRootAbs, stateRel string) error {
	return w.writeRecord(RecordNOOP, encodeNoopMetadata(NoopMetadata{
		InstallRootAbs: installRootAbs,
		TxnRootAbs:     txnRootAbs,
		StateRel:       stateRel,
	}))
}

// WriteEntry appends one forward mutation record with its terminal
// checksum. EntryVersion is stamped automatically.
func (w *Writer) WriteEntry(e Entry) error {
	e.EntryVersion = entryVersion
	return w.writeRecord(e.Type, encodeEntryBody(e))
}

// WriteProgress appends a commit-progress checkpoint: the number of forward
// entries durably applied to the filesystem so far. The transaction engine
// writes one after every ProgressCheckpointInterval applied entries. Read
// returns the checkpoints as Journal.ProgressMarks; RollbackJournal does not
// consult them and undoes every forward entry in the journal.
func (w *Writer) WriteProgress(commitProgress uint32) error {
	return w.writeRecord(RecordNOOP, encodeNoopProgress(commitProgress))
}

// Sync flushes the journal to stable storage. The transaction engine calls
// this after every WriteEntry/WriteProgress so a crash cannot observe an
// entry without its checksum, or a commit marker without its entry.
func (w *Writer) Sync() error {
	if err := w.f.Sync(); err != nil {
		return dsuerr.Wrap(dsuerr.KindIO, err, "journal.Sync")
	}
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	return w.f.Close()
}
