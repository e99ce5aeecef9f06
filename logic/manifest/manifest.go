// Package manifest parses and validates the declarative product description
// that drives every later stage of the pipeline. The on-disk format is a
// framed TLV file (magic "DSUM"); in-memory it is a plain Go value type with
// no behavior beyond validation, keeping the wire format and the parsed
// struct strictly separate.
package manifest

import (
	"fmt"
	"sort"

	"github.com/dominium/dsu/logic/dsuerr"
)

// CurrentVersion is the highest manifest schema version this loader accepts.
const CurrentVersion = 1

// PayloadKind identifies the source of a component's installed file. Only
// Fileset is implemented; archive expansion is handled by the payload
// build pipeline before a manifest is produced.
type PayloadKind string

const (
	PayloadFileset PayloadKind = "fileset"
)

// Dependency is one edge in a component's dependency DAG.
type Dependency struct {
	ID         string
	Constraint string
}

// Payload describes one file a component installs. ContainerPath is the
// path to the source bytes relative to the manifest's payload root;
// MemberPath is reserved for future archive-member payloads and is empty
// for Fileset payloads.
type Payload struct {
	Kind          PayloadKind
	ContainerPath string
	MemberPath    string
	SHA256        [32]byte
	Size          uint64
	// TargetRel is the canonical path, relative to the install root, the
	// payload is installed at.
	TargetRel string
}

// Component is one node in the manifest's dependency DAG.
type Component struct {
	ID          string
	Version     string
	Kind        string
	Flags       []string
	Deps        []Dependency
	Conflicts   []string
	Payloads    []Payload
	Actions     []string
}

// HasFlag reports whether the component carries the named flag (e.g.
// "DEFAULT_SELECTED").
func (c Component) HasFlag(flag string) bool {
	for _, f := range c.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// InstallRoot is one declared mutation target for a (scope, platform) pair.
type InstallRoot struct {
	Scope    string
	Platform string
	Path     string
}

// Manifest is the fully parsed, validated product description. It is
// read-only after Decode/Validate returns successfully.
type Manifest struct {
	SchemaVersion   uint16
	ProductID       string
	ProductVersion  string
	BuildChannel    string
	PlatformTargets []string
	InstallRoots    []InstallRoot
	Components      []Component
}

// ComponentByID returns the component with the given ID, or false if absent.
func (m *Manifest) ComponentByID(id string) (Component, bool) {
	for _, c := range m.Components {
		if c.ID == id {
			return c, true
		}
	}
	return Component{}, false
}

// Validate enforces the manifest's structural invariants:
// conflicts symmetric, deps and conflicts reference existing components, and
// no duplicate component IDs. It does not check component order; Canonicalize
// sorts the components. Decode calls this automatically;
// it is exported so manifests built programmatically (e.g. by
// logic/manifestyaml) can be checked before being handed to the planner.
func (m *Manifest) Validate() error {
	if m.ProductID == "" {
		return dsuerr.New(dsuerr.KindParse, "manifest.Validate", errMsg("product_id is required"))
	}
	if m.ProductVersion == "" {
		return dsuerr.New(dsuerr.KindParse, "manifest.Validate", errMsg("product_version is required"))
	}
	if len(m.PlatformTargets) == 0 {
		return dsuerr.New(dsuerr.KindParse, "manifest.Validate", errMsg("at least one platform_target is required"))
	}

	seen := make(map[string]bool, len(m.Components))
	for _, c := range m.Components {
		if c.ID == "" {
			return dsuerr.New(dsuerr.KindParse, "manifest.Validate", errMsg("component with empty id"))
		}
		if seen[c.ID] {
			return dsuerr.New(dsuerr.KindParse, "manifest.Validate", errMsg("duplicate component id %q", c.ID))
		}
		seen[c.ID] = true
	}
	for _, c := range m.Components {
		for _, d := range c.Deps {
			if !seen[d.ID] {
				return dsuerr.New(dsuerr.KindParse, "manifest.Validate", errMsg("component %q depends on unknown component %q", c.ID, d.ID))
			}
		}
		for _, conflict := range c.Conflicts {
			if !seen[conflict] {
				return dsuerr.New(dsuerr.KindParse, "manifest.Validate", errMsg("component %q conflicts with unknown component %q", c.ID, conflict))
			}
		}
	}
	// Conflicts must be symmetric.
	conflictSets := make(map[string]map[string]bool, len(m.Components))
	for _, c := range m.Components {
		set := make(map[string]bool, len(c.Conflicts))
		for _, other := range c.Conflicts {
			set[other] = true
		}
		conflictSets[c.ID] = set
	}
	for id, set := range conflictSets {
		for other := range set {
			if !conflictSets[other][id] {
				return dsuerr.New(dsuerr.KindParse, "manifest.Validate",
					errMsg("conflict between %q and %q is not symmetric", id, other))
			}
		}
	}

	if len(m.InstallRoots) == 0 {
		return dsuerr.New(dsuerr.KindParse, "manifest.Validate", errMsg("at least one install_root is required"))
	}

	return nil
}

// Canonicalize sorts Components by ID (byte-wise), the canonical traversal
// order every deterministic digest is folded in.
func (m *Manifest) Canonicalize() {
	sort.Slice(m.Components, func(i, j int) bool { return m.Components[i].ID < m.Components[j].ID })
	for i := range m.Components {
		sort.Slice(m.Components[i].Deps, func(a, b int) bool {
			return m.Components[i].Deps[a].ID < m.Components[i].Deps[b].ID
		})
		sort.Strings(m.Components[i].Conflicts)
		sort.Slice(m.Components[i].Payloads, func(a, b int) bool {
			return m.Components[i].Payloads[a].TargetRel < m.Components[i].Payloads[b].TargetRel
		})
	}
}

func errMsg(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
