// Package auditlog accumulates the structured decision and mutation record
// a transaction produces and exports it as a single JSON document (the
// WRITE_LOG plan step). It is read-only history: the
// transaction engine feeds it, nothing ever replays it.
package auditlog

import (
	"os"

	"github.com/dominium/dsu/logic/digest"
	"github.com/dominium/dsu/logic/dsuerr"
	goccyjson "github.com/goccy/go-json"
)

// Entry is one recorded decision or mutation, in the same (code, argA, argB)
// shape the resolver's decision log already uses, so both sources read the
// same way once exported.
type Entry struct {
	Code string `json:"code"`
	ArgA string `json:"arg_a,omitempty"`
	ArgB string `json:"arg_b,omitempty"`
}

// Accumulator collects entries in append order for one transaction.
type Accumulator struct {
	entries []Entry
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Add appends one entry.
func (a *Accumulator) Add(code, argA, argB string) {
	a.entries = append(a.entries, Entry{Code: code, ArgA: argA, ArgB: argB})
}

// AddAll appends a batch of entries, e.g. a resolver decision log.
func (a *Accumulator) AddAll(code string, pairs [][2]string) {
	for _, p := range pairs {
		a.Add(code, p[0], p[1])
	}
}

// Entries returns the accumulated entries in append order.
func (a *Accumulator) Entries() []Entry {
	return a.entries
}

// document is the exported file's top-level shape.
type document struct {
	Entries []Entry `json:"entries"`
}

// Marshal renders the accumulated entries as their canonical JSON byte
// image (entries in append order, since append order is already
// deterministic given a deterministic resolve/plan/commit sequence).
func (a *Accumulator) Marshal() ([]byte, error) {
	buf, err := goccyjson.Marshal(document{Entries: a.entries})
	if err != nil {
		return nil, dsuerr.Wrap(dsuerr.KindInternal, err, "auditlog.Marshal")
	}
	return buf, nil
}

// Digest64 folds the exported byte image into a 64-bit digest, recorded as
// State.LastAuditLogDigest64. No verify or report path compares the log on
// disk against it.
func (a *Accumulator) Digest64(buf []byte) uint64 {
	d := digest.NewDigest64()
	d.Write(buf)
	return d.Sum()
}

// Export writes the accumulated entries to path as JSON and returns the
// exported bytes' digest.
//
//	digest64, err := accumulator.Export("install/.dsu/audit.json")
func (a *Accumulator) Export(path string) (uint64, error) {
	buf, err := a.Marshal()
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return 0, dsuerr.New(dsuerr.KindIO, "auditlog.Export", err)
	}
	return a.Digest64(buf), nil
}
