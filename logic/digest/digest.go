// Package digest implements the engine's deterministic content digests:
// a streaming 64-bit digest backed by xxhash for collision-resistant
// equality checks, a streaming 32-bit digest (FNV-1a) retained only for
// stable external display, and SHA-256 file hashing streamed through a
// fixed-size buffer. Feeding identical byte sequences, including the
// explicit single-byte separators callers insert between logical fields,
// always yields identical digests.
package digest

import (
	"crypto/sha256"
	"hash"
	"hash/fnv"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/dominium/dsu/logic/dsuerr"
)

// sepByte is the explicit one-byte separator folded between logical fields
// so that e.g. ("ab","c") and ("a","bc") never collide.
const sepByte = 0x1f

// Digest64 is a streaming 64-bit content digest.
type Digest64 struct {
	h *xxhash.Digest
}

// NewDigest64 creates a 64-bit digest, seeded deterministically.
func NewDigest64() *Digest64 {
	return &Digest64{h: xxhash.New()}
}

// Write folds raw bytes into the digest.
func (d *Digest64) Write(p []byte) { _, _ = d.h.Write(p) }

// WriteField folds one logical field followed by a single separator byte, so
// that field boundaries are distinguishable in the final digest.
func (d *Digest64) WriteField(p []byte) {
	_, _ = d.h.Write(p)
	_, _ = d.h.Write([]byte{sepByte})
}

// WriteStringField is WriteField for a string.
func (d *Digest64) WriteStringField(s string) { d.WriteField([]byte(s)) }

// WriteU64Field folds a little-endian uint64 field plus separator.
func (d *Digest64) WriteU64Field(v uint64) {
	var b [8]byte
	putU64(b[:], v)
	d.WriteField(b[:])
}

// WriteU32Field folds a little-endian uint32 field plus separator.
func (d *Digest64) WriteU32Field(v uint32) {
	var b [4]byte
	putU32(b[:], v)
	d.WriteField(b[:])
}

// Sum returns the current digest value without consuming state.
func (d *Digest64) Sum() uint64 { return d.h.Sum64() }

// Digest32 is a streaming 32-bit content digest, used only where a stable,
// compact external display value is needed; it is never relied on for
// collision-resistant equality (that is Digest64's job).
type Digest32 struct {
	h hash.Hash32
}

// NewDigest32 creates a 32-bit digest, seeded deterministically.
func NewDigest32() *Digest32 {
	return &Digest32{h: fnv.New32a()}
}

// WriteField folds one logical field followed by a separator byte.
func (d *Digest32) WriteField(p []byte) {
	_, _ = d.h.Write(p)
	_, _ = d.h.Write([]byte{sepByte})
}

// WriteStringField is WriteField for a string.
func (d *Digest32) WriteStringField(s string) { d.WriteField([]byte(s)) }

// WriteU64Field folds a little-endian uint64 field plus separator.
func (d *Digest32) WriteU64Field(v uint64) {
	var b [8]byte
	putU64(b[:], v)
	d.WriteField(b[:])
}

// WriteU32Field folds a little-endian uint32 field plus separator.
func (d *Digest32) WriteU32Field(v uint32) {
	var b [4]byte
	putU32(b[:], v)
	d.WriteField(b[:])
}

// Sum returns the current digest value.
func (d *Digest32) Sum() uint32 { return d.h.Sum32() }

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putU32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// sha256BufSize is the fixed streaming read buffer size.
const sha256BufSize = 32 * 1024

// SHA256File streams a file's contents through a 32 KiB buffer and returns
// its SHA-256 digest plus the number of bytes read.
//
//	sum, size, err := digest.SHA256File("/opt/app/bin/hello.txt")
func SHA256File(path string) (sum [32]byte, size int64, err error) {
	f, openErr := os.Open(path)
	if openErr != nil {
		return sum, 0, dsuerr.New(dsuerr.KindIO, "digest.SHA256File", openErr)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	buf := make([]byte, sha256BufSize)
	n, copyErr := io.CopyBuffer(h, f, buf)
	if copyErr != nil {
		return sum, 0, dsuerr.New(dsuerr.KindIO, "digest.SHA256File", copyErr)
	}
	copy(sum[:], h.Sum(nil))
	return sum, n, nil
}

// SHA256Reader is SHA256File for an already-open reader, used when staging
// a file so the hash can be computed in the same pass as the copy.
func SHA256Reader(r io.Reader) (sum [32]byte, size int64, err error) {
	h := sha256.New()
	buf := make([]byte, sha256BufSize)
	n, copyErr := io.CopyBuffer(h, r, buf)
	if copyErr != nil {
		return sum, 0, dsuerr.New(dsuerr.KindIO, "digest.SHA256Reader", copyErr)
	}
	copy(sum[:], h.Sum(nil))
	return sum, n, nil
}
