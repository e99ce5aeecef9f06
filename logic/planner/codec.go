package planner

import (
	"github.com/dominium/dsu/logic/dsuerr"
	"github.com/dominium/dsu/logic/manifest"
	"github.com/dominium/dsu/logic/tlv"
)

// Magic is the 4-byte frame magic for plan files ("DSUP").
var Magic = [4]byte{'D', 'S', 'U', 'P'}

// CurrentVersion is the plan format version.
const CurrentVersion uint16 = 3

const (
	tFlags          uint16 = 1
	tOperation      uint16 = 2
	tScope          uint16 = 3
	tProductID      uint16 = 4
	tProductVersion uint16 = 5
	tInstallRoot    uint16 = 6
	tComponent      uint16 = 7
	tStep           uint16 = 8
	tDir            uint16 = 9
	tFile           uint16 = 10
	tIDHash32       uint16 = 11
	tIDHash64       uint16 = 12

	tCompID      uint16 = 1
	tCompVersion uint16 = 2
	tCompKind    uint16 = 3

	tStepKind uint16 = 1
	tStepArg  uint16 = 2

	tFileComponentIx   uint16 = 1
	tFileRelTarget     uint16 = 2
	tFilePayloadKind   uint16 = 3
	tFileContainerPath uint16 = 4
	tFileMemberPath    uint16 = 5
	tFileSize          uint16 = 6
	tFileSHA256        uint16 = 7
)

// Encode serializes the plan to its framed TLV byte image.
func Encode(p *Plan) []byte {
	root := tlv.NewWriter()
	root.PutU32(tFlags, p.Flags)
	root.PutString(tOperation, p.Operation)
	root.PutString(tScope, p.Scope)
	root.PutString(tProductID, p.ProductID)
	root.PutString(tProductVersion, p.ProductVersion)
	root.PutString(tInstallRoot, p.InstallRoot)
	for _, c := range p.Components {
		w := tlv.NewWriter()
		w.PutString(tCompID, c.ID)
		w.PutString(tCompVersion, c.Version)
		w.PutString(tCompKind, c.Kind)
		root.Put(tComponent, w.Bytes())
	}
	for _, s := range p.Steps {
		w := tlv.NewWriter()
		w.PutString(tStepKind, string(s.Kind))
		w.PutString(tStepArg, s.Arg)
		root.Put(tStep, w.Bytes())
	}
	for _, d := range p.Dirs {
		root.PutString(tDir, d)
	}
	for _, f := range p.Files {
		w := tlv.NewWriter()
		w.PutU32(tFileComponentIx, uint32(f.ComponentIx))
		w.PutString(tFileRelTarget, f.RelTarget)
		w.PutString(tFilePayloadKind, string(f.PayloadRef.Kind))
		w.PutString(tFileContainerPath, f.PayloadRef.ContainerPath)
		w.PutString(tFileMemberPath, f.PayloadRef.MemberPath)
		w.PutU64(tFileSize, f.Size)
		w.Put(tFileSHA256, f.SHA256[:])
		root.Put(tFile, w.Bytes())
	}
	root.PutU32(tIDHash32, p.IDHash32)
	root.PutU64(tIDHash64, p.IDHash64)

	return tlv.Frame{Magic: Magic, Version: CurrentVersion, Payload: root.Bytes()}.Encode()
}

// Decode parses a framed plan byte image.
func Decode(buf []byte) (*Plan, error) {
	frame, err := tlv.Decode(buf, Magic, []uint16{CurrentVersion})
	if err != nil {
		return nil, err
	}

	p := &Plan{}
	r := tlv.NewReader(frame.Payload)
	for {
		rec, ok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		switch rec.Type {
		case tFlags:
			v, err := tlv.ReadU32(rec.Value)
			if err != nil {
				return nil, err
			}
			p.Flags = v
		case tOperation:
			p.Operation = string(rec.Value)
		case tScope:
			p.Scope = string(rec.Value)
		case tProductID:
			p.ProductID = string(rec.Value)
		case tProductVersion:
			p.ProductVersion = string(rec.Value)
		case tInstallRoot:
			p.InstallRoot = string(rec.Value)
		case tComponent:
			c, err := decodeComponentRef(rec.Value)
			if err != nil {
				return nil, err
			}
			p.Components = append(p.Components, c)
		case tStep:
			s, err := decodeStep(rec.Value)
			if err != nil {
				return nil, err
			}
			p.Steps = append(p.Steps, s)
		case tDir:
			p.Dirs = append(p.Dirs, string(rec.Value))
		case tFile:
			f, err := decodeFile(rec.Value)
			if err != nil {
				return nil, err
			}
			p.Files = append(p.Files, f)
		case tIDHash32:
			v, err := tlv.ReadU32(rec.Value)
			if err != nil {
				return nil, err
			}
			p.IDHash32 = v
		case tIDHash64:
			v, err := tlv.ReadU64(rec.Value)
			if err != nil {
				return nil, err
			}
			p.IDHash64 = v
		}
	}
	return p, nil
}

func decodeComponentRef(buf []byte) (ComponentRef, error) {
	var c ComponentRef
	it := tlv.NewReader(buf)
	for {
		rec, ok, err := it.Next()
		if err != nil {
			return c, err
		}
		if !ok {
			break
		}
		switch rec.Type {
		case tCompID:
			c.ID = string(rec.Value)
		case tCompVersion:
			c.Version = string(rec.Value)
		case tCompKind:
			c.Kind = string(rec.Value)
		}
	}
	return c, nil
}

func decodeStep(buf []byte) (Step, error) {
	var s Step
	it := tlv.NewReader(buf)
	for {
		rec, ok, err := it.Next()
		if err != nil {
			return s, err
		}
		if !ok {
			break
		}
		switch rec.Type {
		case tStepKind:
			s.Kind = StepKind(rec.Value)
		case tStepArg:
			s.Arg = string(rec.Value)
		}
	}
	return s, nil
}

func decodeFile(buf []byte) (FileIntent, error) {
	var f FileIntent
	it := tlv.NewReader(buf)
	for {
		rec, ok, err := it.Next()
		if err != nil {
			return f, err
		}
		if !ok {
			break
		}
		switch rec.Type {
		case tFileComponentIx:
			v, err := tlv.ReadU32(rec.Value)
			if err != nil {
				return f, err
			}
			f.ComponentIx = int(v)
		case tFileRelTarget:
			f.RelTarget = string(rec.Value)
		case tFilePayloadKind:
			f.PayloadRef.Kind = manifest.PayloadKind(rec.Value)
		case tFileContainerPath:
			f.PayloadRef.ContainerPath = string(rec.Value)
		case tFileMemberPath:
			f.PayloadRef.MemberPath = string(rec.Value)
		case tFileSize:
			v, err := tlv.ReadU64(rec.Value)
			if err != nil {
				return f, err
			}
			f.Size = v
		case tFileSHA256:
			if len(rec.Value) != 32 {
				return f, dsuerr.New(dsuerr.KindParse, "planner.decodeFile", nil)
			}
			copy(f.SHA256[:], rec.Value)
		}
	}
	return f, nil
}
