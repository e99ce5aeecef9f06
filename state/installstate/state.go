// Package installstate models the canonical, validated record of what is
// installed where. It is produced by a successful transaction and rewritten
// atomically on every subsequent successful transaction; it is never
// mutated in place. The package holds only the data model and its codec;
// reconciliation across operations lives in logic/resolver and the
// transaction engine.
package installstate

import (
	"fmt"
	"sort"

	"github.com/dominium/dsu/logic/canon"
	"github.com/dominium/dsu/logic/dsuerr"
)

// Ownership classifies who is responsible for a file's lifecycle.
type Ownership string

const (
	OwnershipOwned    Ownership = "owned"
	OwnershipUserData Ownership = "user_data"
	OwnershipCache    Ownership = "cache"
)

// InstallRootRole distinguishes the primary install root from any
// secondary roots a multi-root product declares.
type InstallRootRole string

const (
	RolePrimary   InstallRootRole = "primary"
	RoleSecondary InstallRootRole = "secondary"
)

// InstallRoot is one absolute mutation target recorded in the state.
type InstallRoot struct {
	Role    InstallRootRole
	PathAbs string
}

// File is one installed artifact belonging to a component.
type File struct {
	RootIndex int
	RelPath   string
	SHA256    [32]byte
	Size      uint64
	Digest64  uint64
	Ownership Ownership
	Flags     []string
}

// Component is one installed product component and the files it owns.
type Component struct {
	ID                string
	Version           string
	Kind              string
	InstallTimePolicy string
	Registrations     []string
	Markers           []string
	Files             []File
}

// State is the fully parsed, validated installed-state record.
type State struct {
	RootSchemaVersion    uint16
	ProductID            string
	ProductVersion       string
	BuildChannel         string
	Platform             string
	Scope                string
	InstallInstanceID    string
	InstallRoots         []InstallRoot
	ManifestDigest64     uint64
	ResolvedDigest64     uint64
	PlanDigest64         uint64
	LastOperation        string
	LastJournalID        uint64
	HasAuditLogDigest64  bool
	LastAuditLogDigest64 uint64
	Components           []Component
}

// ComponentByID returns the component with the given ID, or false if absent.
func (s *State) ComponentByID(id string) (Component, bool) {
	for _, c := range s.Components {
		if c.ID == id {
			return c, true
		}
	}
	return Component{}, false
}

// Canonicalize sorts components by id, each component's files by
// (root_index, rel_path), and registrations/markers lexicographically.
// Sorting InstallRoots remaps every File.RootIndex so that
// file-to-root references stay correct under reordering. Save calls this
// automatically.
func (s *State) Canonicalize() {
	sort.Slice(s.Components, func(i, j int) bool { return s.Components[i].ID < s.Components[j].ID })

	if len(s.InstallRoots) > 0 {
		oldOrder := append([]InstallRoot(nil), s.InstallRoots...)
		indices := make([]int, len(oldOrder))
		for i := range indices {
			indices[i] = i
		}
		sort.Slice(indices, func(a, b int) bool { return oldOrder[indices[a]].PathAbs < oldOrder[indices[b]].PathAbs })

		remap := make([]int, len(oldOrder)) // remap[oldIndex] = newIndex
		newRoots := make([]InstallRoot, len(oldOrder))
		for newIx, oldIx := range indices {
			newRoots[newIx] = oldOrder[oldIx]
			remap[oldIx] = newIx
		}
		s.InstallRoots = newRoots

		for i := range s.Components {
			files := s.Components[i].Files
			for j := range files {
				if files[j].RootIndex >= 0 && files[j].RootIndex < len(remap) {
					files[j].RootIndex = remap[files[j].RootIndex]
				}
			}
		}
	}

	for i := range s.Components {
		c := &s.Components[i]
		sort.Strings(c.Registrations)
		sort.Strings(c.Markers)
		sort.Slice(c.Files, func(a, b int) bool {
			if c.Files[a].RootIndex != c.Files[b].RootIndex {
				return c.Files[a].RootIndex < c.Files[b].RootIndex
			}
			return c.Files[a].RelPath < c.Files[b].RelPath
		})
	}
}

// Validate enforces the record's invariants: components sorted by
// id, files sorted by (root_index, rel_path) with no duplicate (root_index,
// rel_path) across components, every root_index valid, every rel_path
// canonical, exactly one primary install root. Call Canonicalize first if
// the state was not already built in canonical order.
func (s *State) Validate() error {
	if s.ProductID == "" {
		return dsuerr.New(dsuerr.KindParse, "installstate.Validate", errMsg("product_id is required"))
	}
	if len(s.InstallRoots) == 0 {
		return dsuerr.New(dsuerr.KindParse, "installstate.Validate", errMsg("at least one install root is required"))
	}

	primaries := 0
	for _, r := range s.InstallRoots {
		if r.Role == RolePrimary {
			primaries++
		}
	}
	if primaries != 1 {
		return dsuerr.New(dsuerr.KindParse, "installstate.Validate", errMsg("exactly one primary install root is required, found %d", primaries))
	}

	for i := 1; i < len(s.Components); i++ {
		if s.Components[i-1].ID >= s.Components[i].ID {
			return dsuerr.New(dsuerr.KindParse, "installstate.Validate", errMsg("components not sorted by id at index %d", i))
		}
	}

	seenPaths := make(map[string]string)
	for _, c := range s.Components {
		for i, f := range c.Files {
			if f.RootIndex < 0 || f.RootIndex >= len(s.InstallRoots) {
				return dsuerr.New(dsuerr.KindParse, "installstate.Validate",
					errMsg("component %q file %q has out-of-range root_index %d", c.ID, f.RelPath, f.RootIndex))
			}
			if cleaned, err := canon.Clean(f.RelPath); err != nil || cleaned != f.RelPath {
				return dsuerr.New(dsuerr.KindParse, "installstate.Validate",
					errMsg("component %q file %q is not a canonical rel_path", c.ID, f.RelPath))
			}
			if i > 0 {
				prev := c.Files[i-1]
				if prev.RootIndex > f.RootIndex || (prev.RootIndex == f.RootIndex && prev.RelPath >= f.RelPath) {
					return dsuerr.New(dsuerr.KindParse, "installstate.Validate",
						errMsg("component %q files not sorted by (root_index, rel_path)", c.ID))
				}
			}
			key := keyOf(f.RootIndex, f.RelPath)
			if owner, dup := seenPaths[key]; dup {
				return dsuerr.New(dsuerr.KindParse, "installstate.Validate",
					errMsg("file (root %d, %q) owned by both %q and %q", f.RootIndex, f.RelPath, owner, c.ID))
			}
			seenPaths[key] = c.ID
		}
	}

	return nil
}

func keyOf(rootIndex int, relPath string) string {
	return fmt.Sprintf("%d\x00%s", rootIndex, relPath)
}

func errMsg(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
