package installstate

import (
	"os"
	"path/filepath"

	"github.com/dominium/dsu/logic/dsuerr"
	"github.com/dominium/dsu/logic/tlv"
	"github.com/google/uuid"
)

// Magic is the 4-byte frame magic for installed-state files ("DSUS").
var Magic = [4]byte{'D', 'S', 'U', 'S'}

// Supported format versions. Version 1 predates HasAuditLogDigest64;
// version 2 adds it. Both are read; Save always writes the current version.
const (
	VersionLegacy  uint16 = 1
	CurrentVersion uint16 = 2
)

var supportedVersions = []uint16{VersionLegacy, CurrentVersion}

const (
	tRootSchemaVersion uint16 = 1
	tProductID         uint16 = 2
	tProductVersion    uint16 = 3
	tBuildChannel      uint16 = 4
	tPlatform          uint16 = 5
	tScope             uint16 = 6
	tInstallInstanceID uint16 = 7
	tInstallRoot       uint16 = 8
	tManifestDigest64  uint16 = 9
	tResolvedDigest64  uint16 = 10
	tPlanDigest64      uint16 = 11
	tLastOperation     uint16 = 12
	tLastJournalID     uint16 = 13
	tLastAuditDigest64 uint16 = 14
	tComponent         uint16 = 15

	tRootRole uint16 = 1
	tRootPath uint16 = 2

	tCompID         uint16 = 1
	tCompVersion    uint16 = 2
	tCompKind       uint16 = 3
	tCompPolicy     uint16 = 4
	tCompReg        uint16 = 5
	tCompMarker     uint16 = 6
	tCompFile       uint16 = 7

	tFileRootIndex uint16 = 1
	tFileRelPath   uint16 = 2
	tFileSHA256    uint16 = 3
	tFileSize      uint16 = 4
	tFileDigest64  uint16 = 5
	tFileOwnership uint16 = 6
	tFileFlag      uint16 = 7
)

// Encode serializes the state to its framed TLV byte image. The caller
// should Canonicalize first; Save does this automatically.
func Encode(s *State) []byte {
	root := tlv.NewWriter()
	root.PutU32(tRootSchemaVersion, uint32(CurrentVersion))
	root.PutString(tProductID, s.ProductID)
	root.PutString(tProductVersion, s.ProductVersion)
	root.PutString(tBuildChannel, s.BuildChannel)
	root.PutString(tPlatform, s.Platform)
	root.PutString(tScope, s.Scope)
	root.PutString(tInstallInstanceID, s.InstallInstanceID)
	for _, r := range s.InstallRoots {
		w := tlv.NewWriter()
		w.PutString(tRootRole, string(r.Role))
		w.PutString(tRootPath, r.PathAbs)
		root.Put(tInstallRoot, w.Bytes())
	}
	root.PutU64(tManifestDigest64, s.ManifestDigest64)
	root.PutU64(tResolvedDigest64, s.ResolvedDigest64)
	root.PutU64(tPlanDigest64, s.PlanDigest64)
	root.PutString(tLastOperation, s.LastOperation)
	root.PutU64(tLastJournalID, s.LastJournalID)
	if s.HasAuditLogDigest64 {
		root.PutU64(tLastAuditDigest64, s.LastAuditLogDigest64)
	}
	for _, c := range s.Components {
		root.Put(tComponent, encodeComponent(c))
	}

	return tlv.Frame{Magic: Magic, Version: CurrentVersion, Payload: root.Bytes()}.Encode()
}

func encodeComponent(c Component) []byte {
	w := tlv.NewWriter()
	w.PutString(tCompID, c.ID)
	w.PutString(tCompVersion, c.Version)
	w.PutString(tCompKind, c.Kind)
	w.PutString(tCompPolicy, c.InstallTimePolicy)
	for _, r := range c.Registrations {
		w.PutString(tCompReg, r)
	}
	for _, m := range c.Markers {
		w.PutString(tCompMarker, m)
	}
	for _, f := range c.Files {
		w.Put(tCompFile, encodeFile(f))
	}
	return w.Bytes()
}

func encodeFile(f File) []byte {
	w := tlv.NewWriter()
	w.PutU32(tFileRootIndex, uint32(f.RootIndex))
	w.PutString(tFileRelPath, f.RelPath)
	w.Put(tFileSHA256, f.SHA256[:])
	w.PutU64(tFileSize, f.Size)
	w.PutU64(tFileDigest64, f.Digest64)
	w.PutString(tFileOwnership, string(f.Ownership))
	for _, flag := range f.Flags {
		w.PutString(tFileFlag, flag)
	}
	return w.Bytes()
}

// Decode parses a framed installed-state byte image, validating it.
func Decode(buf []byte) (*State, error) {
	frame, err := tlv.Decode(buf, Magic, supportedVersions)
	if err != nil {
		return nil, err
	}

	s := &State{RootSchemaVersion: frame.Version}
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
		case tProductID:
			s.ProductID = string(rec.Value)
		case tProductVersion:
			s.ProductVersion = string(rec.Value)
		case tBuildChannel:
			s.BuildChannel = string(rec.Value)
		case tPlatform:
			s.Platform = string(rec.Value)
		case tScope:
			s.Scope = string(rec.Value)
		case tInstallInstanceID:
			s.InstallInstanceID = string(rec.Value)
		case tInstallRoot:
			root, err := decodeInstallRoot(rec.Value)
			if err != nil {
				return nil, err
			}
			s.InstallRoots = append(s.InstallRoots, root)
		case tManifestDigest64:
			v, err := tlv.ReadU64(rec.Value)
			if err != nil {
				return nil, err
			}
			s.ManifestDigest64 = v
		case tResolvedDigest64:
			v, err := tlv.ReadU64(rec.Value)
			if err != nil {
				return nil, err
			}
			s.ResolvedDigest64 = v
		case tPlanDigest64:
			v, err := tlv.ReadU64(rec.Value)
			if err != nil {
				return nil, err
			}
			s.PlanDigest64 = v
		case tLastOperation:
			s.LastOperation = string(rec.Value)
		case tLastJournalID:
			v, err := tlv.ReadU64(rec.Value)
			if err != nil {
				return nil, err
			}
			s.LastJournalID = v
		case tLastAuditDigest64:
			v, err := tlv.ReadU64(rec.Value)
			if err != nil {
				return nil, err
			}
			s.HasAuditLogDigest64 = true
			s.LastAuditLogDigest64 = v
		case tComponent:
			c, err := decodeComponent(rec.Value)
			if err != nil {
				return nil, err
			}
			s.Components = append(s.Components, c)
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
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
		case tRootRole:
			r.Role = InstallRootRole(rec.Value)
		case tRootPath:
			r.PathAbs = string(rec.Value)
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
		case tCompPolicy:
			c.InstallTimePolicy = string(rec.Value)
		case tCompReg:
			c.Registrations = append(c.Registrations, string(rec.Value))
		case tCompMarker:
			c.Markers = append(c.Markers, string(rec.Value))
		case tCompFile:
			f, err := decodeFile(rec.Value)
			if err != nil {
				return c, err
			}
			c.Files = append(c.Files, f)
		}
	}
	return c, nil
}

func decodeFile(buf []byte) (File, error) {
	var f File
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
		case tFileRootIndex:
			v, err := tlv.ReadU32(rec.Value)
			if err != nil {
				return f, err
			}
			f.RootIndex = int(v)
		case tFileRelPath:
			f.RelPath = string(rec.Value)
		case tFileSHA256:
			if len(rec.Value) != 32 {
				return f, dsuerr.New(dsuerr.KindParse, "installstate.decodeFile", nil)
			}
			copy(f.SHA256[:], rec.Value)
		case tFileSize:
			v, err := tlv.ReadU64(rec.Value)
			if err != nil {
				return f, err
			}
			f.Size = v
		case tFileDigest64:
			v, err := tlv.ReadU64(rec.Value)
			if err != nil {
				return f, err
			}
			f.Digest64 = v
		case tFileOwnership:
			f.Ownership = Ownership(rec.Value)
		case tFileFlag:
			f.Flags = append(f.Flags, string(rec.Value))
		}
	}
	return f, nil
}

// Load reads and parses an installed-state file from path.
//
//	s, err := installstate.Load("install/.dsu/installed_state.dsustate")
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dsuerr.New(dsuerr.KindIO, "installstate.Load", err)
	}
	return Decode(data)
}

// Save canonicalizes s and atomically writes it to path via a tmp file plus
// rename in the same directory, so a crash mid-write never leaves a
// truncated state file in place of a valid one.
//
//	err := installstate.Save("install/.dsu/installed_state.dsustate", s)
func Save(path string, s *State) error {
	s.Canonicalize()
	if err := s.Validate(); err != nil {
		return err
	}

	buf := Encode(s)
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, ".tmp-"+uuid.NewString()+".dsustate")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dsuerr.New(dsuerr.KindIO, "installstate.Save", err)
	}
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return dsuerr.New(dsuerr.KindIO, "installstate.Save", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return dsuerr.New(dsuerr.KindIO, "installstate.Save", err)
	}
	return nil
}
