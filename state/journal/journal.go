// Package journal implements the append-only binary log of intended and
// completed transaction-engine actions. Every
// mutation the transaction engine performs is journaled before its visible
// effect becomes durable, and the reader rejects any entry whose terminal
// checksum does not match its payload byte-for-byte.
package journal

import (
	"encoding/binary"

	"github.com/dominium/dsu/logic/digest"
	"github.com/dominium/dsu/logic/dsuerr"
	"github.com/dominium/dsu/logic/tlv"
)

// Magic is the fixed 4-byte journal file magic ("DSUJ").
var Magic = [4]byte{'D', 'S', 'U', 'J'}

// Version is the only journal format version this engine writes or reads.
const Version uint16 = 1

// HeaderSize is the bespoke 24-byte journal header: magic(4) + version(2) +
// endian marker(2) + journal_id(8) + plan_digest(8). Unlike the manifest,
// plan, and installed-state formats, the journal header carries no payload
// length or checksum field of its own; records follow directly and each
// forward record carries its own terminal CHECKSUM64.
const HeaderSize = 24

// RecordType is the outer record's type tag.
type RecordType uint16

const (
	RecordNOOP       RecordType = 0
	RecordCreateDir  RecordType = 1
	RecordRemoveDir  RecordType = 2
	RecordCopyFile   RecordType = 3
	RecordMoveFile   RecordType = 4
	RecordDeleteFile RecordType = 5
	RecordWriteState RecordType = 6
)

// EntryFlag is a bitmask carried on a forward entry.
type EntryFlag uint32

// TargetPreexisted marks a MOVE_FILE, DELETE_FILE or WRITE_STATE entry whose
// target path already held a file before the transaction began: the
// pre-existing file is backed up before it is replaced or removed.
const TargetPreexisted EntryFlag = 1 << 0

// Entry is one forward mutation record's inner payload.
type Entry struct {
	Type         RecordType
	EntryVersion uint16
	TargetRoot   string
	TargetPath   string
	SourceRoot   string
	SourcePath   string
	RollbackRoot string
	RollbackPath string
	Flags        EntryFlag
}

const entryVersion uint16 = 1

const (
	eEntryVersion uint16 = 1
	eTargetRoot   uint16 = 2
	eTargetPath   uint16 = 3
	eSourceRoot   uint16 = 4
	eSourcePath   uint16 = 5
	eRollbackRoot uint16 = 6
	eRollbackPath uint16 = 7
	eFlags        uint16 = 8
	eChecksum64   uint16 = 9

	nInstallRootAbs uint16 = 1
	nTxnRootAbs     uint16 = 2
	nStateRel       uint16 = 3
	nCommitProgress uint16 = 4
)

// encodeEntryBody serializes an entry's fields (excluding its terminal
// checksum) followed by the CHECKSUM64 record computed over them, so the
// checksum is always the final 14 bytes (6-byte TLV header + 8-byte value)
// of the returned buffer.
func encodeEntryBody(e Entry) []byte {
	return encodeBodyWithChecksum(e.Type, func(w *tlv.Writer) {
		w.PutU32(eEntryVersion, uint32(e.EntryVersion))
		w.PutString(eTargetRoot, e.TargetRoot)
		w.PutString(eTargetPath, e.TargetPath)
		w.PutString(eSourceRoot, e.SourceRoot)
		w.PutString(eSourcePath, e.SourcePath)
		w.PutString(eRollbackRoot, e.RollbackRoot)
		w.PutString(eRollbackPath, e.RollbackPath)
		w.PutU32(eFlags, uint32(e.Flags))
	})
}

// checksumFor folds entry_type ‖ payload_excluding_checksum into a 64-bit
// digest.
func checksumFor(entryType RecordType, body []byte) uint64 {
	d := digest.NewDigest64()
	var typeBuf [2]byte
	binary.LittleEndian.PutUint16(typeBuf[:], uint16(entryType))
	d.Write(typeBuf[:])
	d.Write(body)
	return d.Sum()
}

// checksumRecordSize is the fixed byte size of a terminal CHECKSUM64 TLV
// record: 2-byte type + 4-byte length + 8-byte value.
const checksumRecordSize = 6 + 8

func decodeEntryBody(typ RecordType, buf []byte) (Entry, error) {
	e := Entry{Type: typ}
	body, err := verifyAndSplitChecksum(typ, buf)
	if err != nil {
		return e, err
	}

	it := tlv.NewReader(body)
	for {
		rec, ok, err := it.Next()
		if err != nil {
			return e, err
		}
		if !ok {
			break
		}
		switch rec.Type {
		case eEntryVersion:
			v, err := tlv.ReadU32(rec.Value)
			if err != nil {
				return e, err
			}
			e.EntryVersion = uint16(v)
		case eTargetRoot:
			e.TargetRoot = string(rec.Value)
		case eTargetPath:
			e.TargetPath = string(rec.Value)
		case eSourceRoot:
			e.SourceRoot = string(rec.Value)
		case eSourcePath:
			e.SourcePath = string(rec.Value)
		case eRollbackRoot:
			e.RollbackRoot = string(rec.Value)
		case eRollbackPath:
			e.RollbackPath = string(rec.Value)
		case eFlags:
			v, err := tlv.ReadU32(rec.Value)
			if err != nil {
				return e, err
			}
			e.Flags = EntryFlag(v)
		}
	}
	return e, nil
}

// encodeBodyWithChecksum writes the fields a caller supplies, then appends a
// terminal CHECKSUM64 record computed over entry_type ‖ those fields, so
// every record's integrity (forward entries and NOOPs alike) is checked the
// same way on read.
func encodeBodyWithChecksum(typ RecordType, fields func(w *tlv.Writer)) []byte {
	w := tlv.NewWriter()
	fields(w)
	checksum := checksumFor(typ, w.Bytes())
	w.PutU64(eChecksum64, checksum)
	return w.Bytes()
}

// verifyAndSplitChecksum validates a record body's terminal CHECKSUM64 and
// returns the field bytes that precede it.
func verifyAndSplitChecksum(typ RecordType, buf []byte) ([]byte, error) {
	if len(buf) < checksumRecordSize {
		return nil, dsuerr.New(dsuerr.KindIntegrity, "journal.verifyAndSplitChecksum", errNoChecksum)
	}
	bodyEnd := len(buf) - checksumRecordSize
	body, checksumRecord := buf[:bodyEnd], buf[bodyEnd:]

	checksumType := binary.LittleEndian.Uint16(checksumRecord[0:2])
	checksumLen := binary.LittleEndian.Uint32(checksumRecord[2:6])
	if checksumType != eChecksum64 || checksumLen != 8 {
		return nil, dsuerr.New(dsuerr.KindIntegrity, "journal.verifyAndSplitChecksum", errNoChecksum)
	}
	wantChecksum := binary.LittleEndian.Uint64(checksumRecord[6:14])
	if gotChecksum := checksumFor(typ, body); gotChecksum != wantChecksum {
		return nil, dsuerr.New(dsuerr.KindIntegrity, "journal.verifyAndSplitChecksum", errChecksumMismatch)
	}
	return body, nil
}

// NoopMetadata is the install-root/txn-root/state-path announcement written
// once near the start of a journal.
type NoopMetadata struct {
	InstallRootAbs string
	TxnRootAbs     string
	StateRel       string
}

func encodeNoopMetadata(m NoopMetadata) []byte {
	return encodeBodyWithChecksum(RecordNOOP, func(w *tlv.Writer) {
		w.PutString(nInstallRootAbs, m.InstallRootAbs)
		w.PutString(nTxnRootAbs, m.TxnRootAbs)
		w.PutString(nStateRel, m.StateRel)
	})
}

func decodeNoopMetadata(buf []byte) (NoopMetadata, error) {
	var m NoopMetadata
	body, err := verifyAndSplitChecksum(RecordNOOP, buf)
	if err != nil {
		return m, err
	}
	it := tlv.NewReader(body)
	for {
		rec, ok, err := it.Next()
		if err != nil {
			return m, err
		}
		if !ok {
			break
		}
		switch rec.Type {
		case nInstallRootAbs:
			m.InstallRootAbs = string(rec.Value)
		case nTxnRootAbs:
			m.TxnRootAbs = string(rec.Value)
		case nStateRel:
			m.StateRel = string(rec.Value)
		}
	}
	return m, nil
}

// encodeNoopProgress builds a commit-progress checkpoint record: the number
// of journal entries durably applied so far.
func encodeNoopProgress(commitProgress uint32) []byte {
	return encodeBodyWithChecksum(RecordNOOP, func(w *tlv.Writer) {
		w.PutU32(nCommitProgress, commitProgress)
	})
}

func decodeNoopProgress(buf []byte) (uint32, bool, error) {
	body, err := verifyAndSplitChecksum(RecordNOOP, buf)
	if err != nil {
		return 0, false, err
	}
	it := tlv.NewReader(body)
	for {
		rec, ok, err := it.Next()
		if err != nil {
			return 0, false, err
		}
		if !ok {
			break
		}
		if rec.Type == nCommitProgress {
			v, err := tlv.ReadU32(rec.Value)
			if err != nil {
				return 0, false, err
			}
			return v, true, nil
		}
	}
	return 0, false, nil
}

type sentinel string

func (e sentinel) Error() string { return string(e) }

const (
	errNoChecksum       sentinel = "journal: entry missing terminal checksum"
	errChecksumMismatch sentinel = "journal: entry checksum mismatch"
	errBadMagic         sentinel = "journal: bad magic"
	errBadEndian        sentinel = "journal: bad endian marker"
	errTruncatedHeader  sentinel = "journal: truncated header"
)
