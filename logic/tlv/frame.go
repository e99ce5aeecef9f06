package tlv

import (
	"encoding/binary"

	"github.com/dominium/dsu/logic/dsuerr"
)

// EndianMarker is the fixed little-endian sentinel written in every frame
// header.
const EndianMarker = 0xFFFE

// FrameHeaderSize is the fixed 20-byte header: 4 magic + 2 version + 2 endian
// + 4 header-size + 4 payload-length + 4 checksum.
const FrameHeaderSize = 20

// Frame is the common header shared by manifest, plan, and installed-state
// files: 4-byte magic, 2-byte format version, 2-byte endian marker, 4-byte
// header size, 4-byte payload length, 4-byte header checksum (sum of the
// first 16 header bytes).
type Frame struct {
	Magic   [4]byte
	Version uint16
	Payload []byte
}

// Encode serializes the frame: header followed by the single root TLV
// payload given in f.Payload.
func (f Frame) Encode() []byte {
	out := make([]byte, FrameHeaderSize+len(f.Payload))
	copy(out[0:4], f.Magic[:])
	binary.LittleEndian.PutUint16(out[4:6], f.Version)
	binary.LittleEndian.PutUint16(out[6:8], EndianMarker)
	binary.LittleEndian.PutUint32(out[8:12], FrameHeaderSize)
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(f.Payload)))
	var sum uint32
	for _, b := range out[0:16] {
		sum += uint32(b)
	}
	binary.LittleEndian.PutUint32(out[16:20], sum)
	copy(out[FrameHeaderSize:], f.Payload)
	return out
}

// Decode parses and validates a frame, checking magic, endian marker, header
// checksum, and payload-length bounds. wantMagic must match exactly.
// wantVersions lists the format versions this caller accepts; an empty list
// accepts any version (the caller is expected to check explicitly).
func Decode(buf []byte, wantMagic [4]byte, wantVersions []uint16) (Frame, error) {
	if len(buf) < FrameHeaderSize {
		return Frame{}, dsuerr.New(dsuerr.KindParse, "tlv.Decode", errTruncated)
	}
	var magic [4]byte
	copy(magic[:], buf[0:4])
	if magic != wantMagic {
		return Frame{}, dsuerr.New(dsuerr.KindParse, "tlv.Decode", errBadMagic)
	}
	version := binary.LittleEndian.Uint16(buf[4:6])
	endian := binary.LittleEndian.Uint16(buf[6:8])
	if endian != EndianMarker {
		return Frame{}, dsuerr.New(dsuerr.KindParse, "tlv.Decode", errBadEndian)
	}
	headerSize := binary.LittleEndian.Uint32(buf[8:12])
	payloadLen := binary.LittleEndian.Uint32(buf[12:16])
	wantChecksum := binary.LittleEndian.Uint32(buf[16:20])

	var sum uint32
	for _, b := range buf[0:16] {
		sum += uint32(b)
	}
	if sum != wantChecksum {
		return Frame{}, dsuerr.New(dsuerr.KindIntegrity, "tlv.Decode", errBadChecksum)
	}
	if headerSize != FrameHeaderSize {
		return Frame{}, dsuerr.New(dsuerr.KindParse, "tlv.Decode", errBadHeaderSize)
	}
	if uint64(headerSize)+uint64(payloadLen) != uint64(len(buf)) {
		return Frame{}, dsuerr.New(dsuerr.KindParse, "tlv.Decode", errTruncated)
	}
	if len(wantVersions) > 0 {
		ok := false
		for _, v := range wantVersions {
			if v == version {
				ok = true
				break
			}
		}
		if !ok {
			return Frame{}, dsuerr.New(dsuerr.KindUnsupportedVersion, "tlv.Decode", errUnsupportedVersion)
		}
	}

	return Frame{Magic: magic, Version: version, Payload: buf[headerSize:]}, nil
}

const (
	errBadMagic           sentinel = "tlv: bad magic"
	errBadEndian          sentinel = "tlv: bad endian marker"
	errBadChecksum        sentinel = "tlv: header checksum mismatch"
	errBadHeaderSize      sentinel = "tlv: unexpected header size"
	errUnsupportedVersion sentinel = "tlv: unsupported format version"
)
