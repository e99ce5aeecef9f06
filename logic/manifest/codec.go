package manifest

import (
	"github.com/dominium/dsu/logic/digest"
	"github.com/dominium/dsu/logic/dsuerr"
	"github.com/dominium/dsu/logic/tlv"
)

// Magic is the 4-byte frame magic for manifest files ("DSUM").
var Magic = [4]byte{'D', 'S', 'U', 'M'}

// TLV field type tags. Grouped by nesting level; component/payload/dep
// records are themselves TLV-framed sub-streams nested as values.
const (
	tField        uint16 = 1
	tProductID    uint16 = 2
	tProductVer   uint16 = 3
	tBuildChannel uint16 = 4
	tPlatform     uint16 = 5
	tInstallRoot  uint16 = 6
	tComponent    uint16 = 7

	// InstallRoot sub-fields.
	tRootScope    uint16 = 1
	tRootPlatform uint16 = 2
	tRootPath     uint16 = 3

	// Component sub-fields.
	tCompID        uint16 = 1
	tCompVersion   uint16 = 2
	tCompKind      uint16 = 3
	tCompFlag      uint16 = 4
	tCompDep       uint16 = 5
	tCompConflict  uint16 = 6
	tCompPayload   uint16 = 7
	tCompAction    uint16 = 8

	// Dependency sub-fields.
	tDepID         uint16 = 1
	tDepConstraint uint16 = 2

	// Payload sub-fields.
	tPayloadKind      uint16 = 1
	tPayloadContainer uint16 = 2
	tPayloadMember    uint16 = 3
	tPayloadSHA256    uint16 = 4
	tPayloadSize      uint16 = 5
	tPayloadTarget    uint16 = 6
)

// Encode serializes the manifest to its framed TLV byte image.
// Callers should call Canonicalize first if determinism across hosts matters.
func Encode(m *Manifest) []byte {
	root := tlv.NewWriter()
	root.PutU32(tField, uint32(CurrentVersion))
	root.PutString(tProductID, m.ProductID)
	root.PutString(tProductVer, m.ProductVersion)
	root.PutString(tBuildChannel, m.BuildChannel)
	for _, p := range m.PlatformTargets {
		root.PutString(tPlatform, p)
	}
	for _, r := range m.InstallRoots {
		root.Put(tInstallRoot, encodeInstallRoot(r))
	}
	for _, c := range m.Components {
		root.Put(tComponent, encodeComponent(c))
	}

	return tlv.Frame{Magic: Magic, Version: CurrentVersion, Payload: root.Bytes()}.Encode()
}

func encodeInstallRoot(r InstallRoot) []byte {
	w := tlv.NewWriter()
	w.PutString(tRootScope, r.Scope)
	w.PutString(tRootPlatform, r.Platform)
	w.PutString(tRootPath, r.Path)
	return w.Bytes()
}

func encodeComponent(c Component) []byte {
	w := tlv.NewWriter()
	w.PutString(tCompID, c.ID)
	w.PutString(tCompVersion, c.Version)
	w.PutString(tCompKind, c.Kind)
	for _, f := range c.Flags {
		w.PutString(tCompFlag, f)
	}
	for _, d := range c.Deps {
		w.Put(tCompDep, encodeDep(d))
	}
	for _, conflict := range c.Conflicts {
		w.PutString(tCompConflict, conflict)
	}
	for _, p := range c.Payloads {
		w.Put(tCompPayload, encodePayload(p))
	}
	for _, a := range c.Actions {
		w.PutString(tCompAction, a)
	}
	return w.Bytes()
}

func encodeDep(d Dependency) []byte {
	w := tlv.NewWriter()
	w.PutString(tDepID, d.ID)
	w.PutString(tDepConstraint, d.Constraint)
	return w.Bytes()
}

func encodePayload(p Payload) []byte {
	w := tlv.NewWriter()
	w.PutString(tPayloadKind, string(p.Kind))
	w.PutString(tPayloadContainer, p.ContainerPath)
	w.PutString(tPayloadMember, p.MemberPath)
	w.Put(tPayloadSHA256, p.SHA256[:])
	w.PutU64(tPayloadSize, p.Size)
	w.PutString(tPayloadTarget, p.TargetRel)
	return w.Bytes()
}

// Decode parses a framed manifest byte image, validating it, and returns the
// parsed Manifest. Fails with UnsupportedVersion if the root version exceeds
// CurrentVersion, ParseError on malformed fields, IntegrityError on a
// truncated/checksum-mismatched frame.
func Decode(buf []byte) (*Manifest, error) {
	frame, err := tlv.Decode(buf, Magic, nil)
	if err != nil {
		return nil, err
	}
	if frame.Version > CurrentVersion {
		return nil, dsuerr.New(dsuerr.KindUnsupportedVersion, "manifest.Decode", nil)
	}

	m := &Manifest{SchemaVersion: frame.Version}
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
		case tField:
			// schema version marker; already captured from the frame header.
		case tProductID:
			m.ProductID = string(rec.Value)
		case tProductVer:
			m.ProductVersion = string(rec.Value)
		case tBuildChannel:
			m.BuildChannel = string(rec.Value)
		case tPlatform:
			m.PlatformTargets = append(m.PlatformTargets, string(rec.Value))
		case tInstallRoot:
			root, err := decodeInstallRoot(rec.Value)
			if err != nil {
				return nil, err
			}
			m.InstallRoots = append(m.InstallRoots, root)
		case tComponent:
			comp, err := decodeComponent(rec.Value)
			if err != nil {
				return nil, err
			}
			m.Components = append(m.Components, comp)
		default:
			// Unknown field: forward-compatible readers ignore it.
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeInstallRoot(buf []byte) (InstallRoot, error) {
	var r InstallRoot
	it := tlv.NewReader(buf)
	for {
		rec, ok, err := it.Next()
		if err != nil {
			return r, err
		}
		if !ok {
			break
		}
		switch rec.Type {
		case tRootScope:
			r.Scope = string(rec.Value)
		case tRootPlatform:
			r.Platform = string(rec.Value)
		case tRootPath:
			r.Path = string(rec.Value)
		}
	}
	return r, nil
}

func decodeComponent(buf []byte) (Component, error) {
	var c Component
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
		case tCompFlag:
			c.Flags = append(c.Flags, string(rec.Value))
		case tCompDep:
			dep, err := decodeDep(rec.Value)
			if err != nil {
				return c, err
			}
			c.Deps = append(c.Deps, dep)
		case tCompConflict:
			c.Conflicts = append(c.Conflicts, string(rec.Value))
		case tCompPayload:
			p, err := decodePayload(rec.Value)
			if err != nil {
				return c, err
			}
			c.Payloads = append(c.Payloads, p)
		case tCompAction:
			c.Actions = append(c.Actions, string(rec.Value))
		}
	}
	return c, nil
}

func decodeDep(buf []byte) (Dependency, error) {
	var d Dependency
	it := tlv.NewReader(buf)
	for {
		rec, ok, err := it.Next()
		if err != nil {
			return d, err
		}
		if !ok {
			break
		}
		switch rec.Type {
		case tDepID:
			d.ID = string(rec.Value)
		case tDepConstraint:
			d.Constraint = string(rec.Value)
		}
	}
	return d, nil
}

func decodePayload(buf []byte) (Payload, error) {
	var p Payload
	it := tlv.NewReader(buf)
	for {
		rec, ok, err := it.Next()
		if err != nil {
			return p, err
		}
		if !ok {
			break
		}
		switch rec.Type {
		case tPayloadKind:
			p.Kind = PayloadKind(rec.Value)
		case tPayloadContainer:
			p.ContainerPath = string(rec.Value)
		case tPayloadMember:
			p.MemberPath = string(rec.Value)
		case tPayloadSHA256:
			if len(rec.Value) != 32 {
				return p, dsuerr.New(dsuerr.KindParse, "manifest.decodePayload", nil)
			}
			copy(p.SHA256[:], rec.Value)
		case tPayloadSize:
			v, err := tlv.ReadU64(rec.Value)
			if err != nil {
				return p, err
			}
			p.Size = v
		case tPayloadTarget:
			p.TargetRel = string(rec.Value)
		}
	}
	return p, nil
}

// CanonicalDigest64 folds the manifest's canonical byte image into a 64-bit
// digest, used as manifest_digest64 in the resolved set. The manifest is
// canonicalized (components/deps/conflicts/payloads
// sorted) before folding so that equal manifests always yield equal digests
// regardless of on-disk field order.
func CanonicalDigest64(m *Manifest) uint64 {
	clone := *m
	clone.Components = append([]Component(nil), m.Components...)
	clone.Canonicalize()

	d := digest.NewDigest64()
	d.WriteStringField(clone.ProductID)
	d.WriteStringField(clone.ProductVersion)
	d.WriteStringField(clone.BuildChannel)
	for _, p := range clone.PlatformTargets {
		d.WriteStringField(p)
	}
	for _, r := range clone.InstallRoots {
		d.WriteStringField(r.Scope)
		d.WriteStringField(r.Platform)
		d.WriteStringField(r.Path)
	}
	for _, c := range clone.Components {
		d.WriteStringField(c.ID)
		d.WriteStringField(c.Version)
		d.WriteStringField(c.Kind)
		for _, f := range c.Flags {
			d.WriteStringField(f)
		}
		for _, dep := range c.Deps {
			d.WriteStringField(dep.ID)
			d.WriteStringField(dep.Constraint)
		}
		for _, conflict := range c.Conflicts {
			d.WriteStringField(conflict)
		}
		for _, p := range c.Payloads {
			d.WriteStringField(string(p.Kind))
			d.WriteStringField(p.ContainerPath)
			d.WriteStringField(p.TargetRel)
			d.WriteField(p.SHA256[:])
			d.WriteU64Field(p.Size)
		}
	}
	return d.Sum()
}
