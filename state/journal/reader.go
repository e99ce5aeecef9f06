package journal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/dominium/dsu/logic/dsuerr"
	"github.com/dominium/dsu/logic/tlv"
)

// Journal is the fully-decoded contents of a journal file: the metadata
// announced near its start, every forward mutation entry in write order,
// and every commit-progress checkpoint observed.
type Journal struct {
	JournalID      uint64
	PlanDigest     uint64
	InstallRootAbs string
	TxnRootAbs     string
	StateRel       string
	Entries        []Entry
	ProgressMarks  []uint32
}

// Read loads and verifies a journal file in full. Read rejects any record
// whose terminal checksum does not match its payload: a journal failing
// this check is never partially trusted.
//
//	j, err := journal.Read(path)
func Read(path string) (*Journal, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, dsuerr.Wrap(dsuerr.KindIO, err, "journal.Read: open %q", path)
	}
	return Decode(buf)
}

// Decode parses an already-loaded journal byte image.
func Decode(buf []byte) (*Journal, error) {
	if len(buf) < HeaderSize {
		return nil, dsuerr.New(dsuerr.KindParse, "journal.Decode", errTruncatedHeader)
	}
	if !bytes.Equal(buf[0:4], Magic[:]) {
		return nil, dsuerr.New(dsuerr.KindParse, "journal.Decode", errBadMagic)
	}
	version := binary.LittleEndian.Uint16(buf[4:6])
	if version != Version {
		return nil, dsuerr.New(dsuerr.KindUnsupportedVersion, "journal.Decode", errMsg("unsupported journal version %d", version))
	}
	if endian := binary.LittleEndian.Uint16(buf[6:8]); endian != endianMarker {
		return nil, dsuerr.New(dsuerr.KindParse, "journal.Decode", errBadEndian)
	}

	j := &Journal{
		JournalID:  binary.LittleEndian.Uint64(buf[8:16]),
		PlanDigest: binary.LittleEndian.Uint64(buf[16:24]),
	}

	r := tlv.NewReader(buf[HeaderSize:])
	for {
		rec, ok, err := r.Next()
		if err != nil {
			return nil, dsuerr.Wrap(dsuerr.KindParse, err, "journal.Decode: record stream")
		}
		if !ok {
			break
		}

		typ := RecordType(rec.Type)
		if typ == RecordNOOP {
			if progress, isProgress, err := decodeNoopProgress(rec.Value); err != nil {
				return nil, err
			} else if isProgress {
				j.ProgressMarks = append(j.ProgressMarks, progress)
				continue
			}
			meta, err := decodeNoopMetadata(rec.Value)
			if err != nil {
				return nil, err
			}
			j.InstallRootAbs = meta.InstallRootAbs
			j.TxnRootAbs = meta.TxnRootAbs
			j.StateRel = meta.StateRel
			continue
		}

		e, err := decodeEntryBody(typ, rec.Value)
		if err != nil {
			return nil, err
		}
		j.Entries = append(j.Entries, e)
	}
	return j, nil
}

func errMsg(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
