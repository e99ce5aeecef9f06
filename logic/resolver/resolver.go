// Package resolver computes the deterministic set of components to
// install/upgrade/repair/uninstall from a manifest, a request, and an
// optional prior installed-state. Reconciliation against the prior state
// (merge on upgrade/repair, component removal on uninstall) happens here,
// one layer above the pure load/save codec in state/installstate.
package resolver

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dominium/dsu/logic/digest"
	"github.com/dominium/dsu/logic/dsuerr"
	"github.com/dominium/dsu/logic/manifest"
	"github.com/dominium/dsu/state/installstate"
)

// Operation is the high-level action the caller requested.
type Operation string

const (
	OpInstall   Operation = "install"
	OpUpgrade   Operation = "upgrade"
	OpRepair    Operation = "repair"
	OpUninstall Operation = "uninstall"
)

// Source classifies how a component entered the resolved set.
type Source string

const (
	SourceDefault    Source = "default"
	SourceUser       Source = "user"
	SourceDependency Source = "dependency"
)

// Action is the per-component mutation the planner must perform.
type Action string

const (
	ActionInstall   Action = "install"
	ActionUpgrade   Action = "upgrade"
	ActionRepair    Action = "repair"
	ActionUninstall Action = "uninstall"
	ActionNone      Action = "none"
)

// Request describes what the caller wants resolved.
type Request struct {
	Operation      Operation
	Scope          string
	TargetPlatform string
	Requested      []string
	Excluded       []string
}

// Component is one entry in the resolved set.
type Component struct {
	ID      string
	Version string
	Source  Source
	Action  Action
}

// LogEntry is one structured decision recorded during resolution, in
// canonical order, so reports built from it are deterministic.
type LogEntry struct {
	Code string
	ArgA string
	ArgB string
}

// Set is the deterministic output of Resolve.
type Set struct {
	Operation        Operation
	Platform         string
	Scope            string
	InstallRoot      string
	Components       []Component
	ManifestDigest64 uint64
	ResolvedDigest64 uint64
	Log              []LogEntry
}

// ComponentByID returns the resolved component with the given ID.
func (s *Set) ComponentByID(id string) (Component, bool) {
	for _, c := range s.Components {
		if c.ID == id {
			return c, true
		}
	}
	return Component{}, false
}

// Resolve computes the resolved set: platform and install-root selection,
// seeding, dependency closure, conflict detection, operation
// reconciliation, canonical ordering, and digesting, in that order.
//
//	set, err := resolver.Resolve(m, priorState, resolver.Request{Operation: resolver.OpInstall, Scope: "system"})
func Resolve(m *manifest.Manifest, prior *installstate.State, req Request) (*Set, error) {
	if overlap := intersect(req.Requested, req.Excluded); len(overlap) > 0 {
		sort.Strings(overlap)
		return nil, dsuerr.New(dsuerr.KindInvalidArgs, "resolver.Resolve",
			errMsg("component(s) %s present in both requested and excluded", strings.Join(overlap, ", ")))
	}

	var log []LogEntry

	// Step 1: platform selection.
	platform, err := selectPlatform(m, req.TargetPlatform)
	if err != nil {
		return nil, err
	}
	log = append(log, LogEntry{Code: "platform_selected", ArgA: platform})

	// Step 2: install-root selection.
	root, err := selectInstallRoot(m, req.Scope, platform)
	if err != nil {
		return nil, err
	}
	log = append(log, LogEntry{Code: "install_root_selected", ArgA: root.Path})

	// Step 3: seed set.
	seeds := make(map[string]Source)
	for _, id := range req.Requested {
		seeds[id] = SourceUser
	}
	if req.Operation == OpInstall {
		for _, c := range m.Components {
			if c.HasFlag("DEFAULT_SELECTED") {
				if _, exists := seeds[c.ID]; !exists {
					seeds[c.ID] = SourceDefault
				}
			}
		}
	}
	// Upgrade and repair with nothing requested cover every installed component.
	if len(req.Requested) == 0 && prior != nil && (req.Operation == OpUpgrade || req.Operation == OpRepair) {
		for _, c := range prior.Components {
			seeds[c.ID] = SourceDefault
		}
	}
	excluded := make(map[string]bool, len(req.Excluded))
	for _, id := range req.Excluded {
		excluded[id] = true
	}
	for id := range seeds {
		if excluded[id] {
			delete(seeds, id)
		}
	}

	// Step 4: dependency closure (BFS).
	selected := make(map[string]Source, len(seeds))
	for id, src := range seeds {
		selected[id] = src
	}
	queue := make([]string, 0, len(seeds))
	for id := range seeds {
		queue = append(queue, id)
	}
	sort.Strings(queue)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		comp, ok := m.ComponentByID(id)
		if !ok {
			return nil, dsuerr.New(dsuerr.KindMissingComponent, "resolver.Resolve", errMsg("requested component %q not found in manifest", id))
		}
		deps := append([]manifest.Dependency(nil), comp.Deps...)
		sort.Slice(deps, func(i, j int) bool { return deps[i].ID < deps[j].ID })
		for _, dep := range deps {
			if excluded[dep.ID] {
				return nil, dsuerr.New(dsuerr.KindInvalidArgs, "resolver.Resolve",
					errMsg("component %q is required by %q but was excluded", dep.ID, id))
			}
			if _, exists := selected[dep.ID]; !exists {
				selected[dep.ID] = SourceDependency
				queue = append(queue, dep.ID)
				log = append(log, LogEntry{Code: "dependency_added", ArgA: dep.ID, ArgB: id})
			}
		}
	}

	// Step 5: conflicts.
	ids := make([]string, 0, len(selected))
	for id := range selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		comp, _ := m.ComponentByID(id)
		for _, conflict := range comp.Conflicts {
			if _, present := selected[conflict]; present {
				return nil, dsuerr.New(dsuerr.KindExplicitConflict, "resolver.Resolve",
					errMsg("selected components %q and %q conflict", id, conflict))
			}
		}
	}

	// Step 6: operation reconciliation.
	components := make([]Component, 0, len(ids))
	switch req.Operation {
	case OpInstall:
		for _, id := range ids {
			comp, _ := m.ComponentByID(id)
			action := ActionInstall
			if prior != nil {
				if existing, already := prior.ComponentByID(id); already {
					if compareVersions(comp.Version, existing.Version) != 0 {
						return nil, dsuerr.New(dsuerr.KindInvalidRequest, "resolver.Resolve",
							errMsg("component %q is already installed at version %q; use upgrade", id, existing.Version))
					}
					action = ActionNone
				}
			}
			components = append(components, Component{ID: id, Version: comp.Version, Source: selected[id], Action: action})
			log = append(log, LogEntry{Code: "action_" + string(action), ArgA: id, ArgB: comp.Version})
		}
	case OpUpgrade:
		if prior == nil {
			return nil, dsuerr.New(dsuerr.KindInvalidRequest, "resolver.Resolve", errMsg("upgrade requested with no prior installed state"))
		}
		if prior.Scope != req.Scope {
			return nil, dsuerr.New(dsuerr.KindInvalidRequest, "resolver.Resolve",
				errMsg("upgrade requested in scope %q but product is installed in scope %q", req.Scope, prior.Scope))
		}
		for _, id := range ids {
			comp, _ := m.ComponentByID(id)
			action := ActionInstall
			if existing, already := prior.ComponentByID(id); already {
				cmp := compareVersions(comp.Version, existing.Version)
				switch {
				case cmp == 0:
					action = ActionNone
				case cmp > 0:
					action = ActionUpgrade
				default:
					return nil, dsuerr.New(dsuerr.KindIllegalDowngrade, "resolver.Resolve",
						errMsg("manifest version %q is older than installed version %q for %q", comp.Version, existing.Version, id))
				}
			}
			components = append(components, Component{ID: id, Version: comp.Version, Source: selected[id], Action: action})
			log = append(log, LogEntry{Code: "action_" + string(action), ArgA: id, ArgB: comp.Version})
		}
	case OpRepair:
		if prior == nil {
			return nil, dsuerr.New(dsuerr.KindInvalidRequest, "resolver.Resolve", errMsg("repair requested with no prior installed state"))
		}
		for _, id := range ids {
			comp, _ := m.ComponentByID(id)
			action := ActionInstall
			if _, already := prior.ComponentByID(id); already {
				action = ActionRepair
			}
			components = append(components, Component{ID: id, Version: comp.Version, Source: selected[id], Action: action})
			log = append(log, LogEntry{Code: "action_" + string(action), ArgA: id, ArgB: comp.Version})
		}
	case OpUninstall:
		if prior == nil {
			return nil, dsuerr.New(dsuerr.KindInvalidRequest, "resolver.Resolve", errMsg("uninstall requested with no prior installed state"))
		}
		for _, id := range ids {
			existing, already := prior.ComponentByID(id)
			if !already {
				return nil, dsuerr.New(dsuerr.KindInvalidRequest, "resolver.Resolve",
					errMsg("component %q is not installed, cannot uninstall", id))
			}
			components = append(components, Component{ID: id, Version: existing.Version, Source: selected[id], Action: ActionUninstall})
			log = append(log, LogEntry{Code: "action_uninstall", ArgA: id})
		}
	default:
		return nil, dsuerr.New(dsuerr.KindInvalidArgs, "resolver.Resolve", errMsg("unknown operation %q", req.Operation))
	}

	// Step 7: canonical ordering + digests.
	sort.Slice(components, func(i, j int) bool { return components[i].ID < components[j].ID })

	resolvedDigest := digest.NewDigest64()
	resolvedDigest.WriteStringField(platform)
	resolvedDigest.WriteStringField(req.Scope)
	for _, c := range components {
		resolvedDigest.WriteStringField(c.ID)
		resolvedDigest.WriteStringField(c.Version)
	}

	return &Set{
		Operation:        req.Operation,
		Platform:         platform,
		Scope:            req.Scope,
		InstallRoot:      root.Path,
		Components:       components,
		ManifestDigest64: manifest.CanonicalDigest64(m),
		ResolvedDigest64: resolvedDigest.Sum(),
		Log:              log,
	}, nil
}

func selectPlatform(m *manifest.Manifest, requested string) (string, error) {
	var candidates []string
	if requested == "" {
		candidates = append(candidates, m.PlatformTargets...)
	} else {
		for _, p := range m.PlatformTargets {
			if p == requested {
				candidates = append(candidates, p)
			}
		}
	}
	if len(candidates) == 0 {
		return "", dsuerr.New(dsuerr.KindInvalidRequest, "resolver.selectPlatform", errMsg("no manifest platform target matches %q", requested))
	}
	if len(candidates) > 1 {
		return "", dsuerr.New(dsuerr.KindInvalidRequest, "resolver.selectPlatform",
			errMsg("multiple platform targets match and none was explicitly selected: %s", strings.Join(candidates, ", ")))
	}
	return candidates[0], nil
}

func selectInstallRoot(m *manifest.Manifest, scope, platform string) (manifest.InstallRoot, error) {
	for _, r := range m.InstallRoots {
		if r.Scope == scope && r.Platform == platform {
			return r, nil
		}
	}
	return manifest.InstallRoot{}, dsuerr.New(dsuerr.KindPlatformIncompatible, "resolver.selectInstallRoot",
		errMsg("no install root declared for scope %q platform %q", scope, platform))
}

func intersect(a, b []string) []string {
	bset := make(map[string]bool, len(b))
	for _, x := range b {
		bset[x] = true
	}
	var out []string
	seen := make(map[string]bool)
	for _, x := range a {
		if bset[x] && !seen[x] {
			out = append(out, x)
			seen[x] = true
		}
	}
	return out
}

// compareVersions compares two dotted-numeric version strings segment by
// segment, numerically where both segments parse as integers and
// lexicographically otherwise. Returns <0, 0, >0 like strings.Compare.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		av, bv := "0", "0"
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		an, aerr := strconv.Atoi(av)
		bn, berr := strconv.Atoi(bv)
		if aerr == nil && berr == nil {
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
			continue
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func errMsg(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
