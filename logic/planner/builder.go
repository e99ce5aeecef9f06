package planner

import (
	"fmt"
	"sort"

	"github.com/dominium/dsu/logic/canon"
	"github.com/dominium/dsu/logic/digest"
	"github.com/dominium/dsu/logic/dsuerr"
	"github.com/dominium/dsu/logic/manifest"
	"github.com/dominium/dsu/logic/resolver"
)

// Build expands a resolved set into an ordered, canonical plan for an
// install/upgrade/repair operation. Components whose resolved action is
// ActionNone are listed (for traceability) but receive no step and
// contribute no files, since nothing about them is mutated.
//
//	plan, err := planner.Build(m, resolvedSet)
func Build(m *manifest.Manifest, set *resolver.Set) (*Plan, error) {
	p := &Plan{
		Flags:          DeterministicFlag,
		Operation:      string(set.Operation),
		Scope:          set.Scope,
		ProductID:      m.ProductID,
		ProductVersion: m.ProductVersion,
		InstallRoot:    set.InstallRoot,
	}

	p.Steps = append(p.Steps, Step{Kind: StepDeclareInstallRoot, Arg: set.InstallRoot})

	for _, c := range set.Components {
		componentKind := ""
		if comp, ok := m.ComponentByID(c.ID); ok {
			componentKind = comp.Kind
		}
		p.Components = append(p.Components, ComponentRef{ID: c.ID, Version: c.Version, Kind: componentKind})

		var kind StepKind
		switch c.Action {
		case resolver.ActionInstall:
			kind = StepInstallComponent
		case resolver.ActionUpgrade:
			kind = StepUpgradeComponent
		case resolver.ActionRepair:
			kind = StepRepairComponent
		case resolver.ActionUninstall:
			kind = StepUninstallComponent
		case resolver.ActionNone:
			continue
		default:
			return nil, dsuerr.New(dsuerr.KindInternal, "planner.Build", errMsg("unknown action %q for component %q", c.Action, c.ID))
		}
		p.Steps = append(p.Steps, Step{Kind: kind, Arg: c.ID})

		if c.Action == resolver.ActionUninstall {
			continue // file removal is derived from installed-state, not the manifest.
		}

		comp, ok := m.ComponentByID(c.ID)
		if !ok {
			return nil, dsuerr.New(dsuerr.KindMissingComponent, "planner.Build", errMsg("component %q not found in manifest", c.ID))
		}
		ix := len(p.Components) - 1
		for _, payload := range comp.Payloads {
			relTarget, err := canon.Clean(payload.TargetRel)
			if err != nil {
				return nil, dsuerr.Wrap(dsuerr.KindInvalidArgs, err, "planner.Build: component %q target %q", c.ID, payload.TargetRel)
			}
			p.Files = append(p.Files, FileIntent{
				ComponentIx: ix,
				RelTarget:   relTarget,
				PayloadRef:  PayloadRef{Kind: payload.Kind, ContainerPath: payload.ContainerPath, MemberPath: payload.MemberPath},
				Size:        payload.Size,
				SHA256:      payload.SHA256,
			})
		}
	}

	sort.Slice(p.Files, func(i, j int) bool {
		if p.Files[i].ComponentIx != p.Files[j].ComponentIx {
			return p.Files[i].ComponentIx < p.Files[j].ComponentIx
		}
		return p.Files[i].RelTarget < p.Files[j].RelTarget
	})
	p.Dirs = dirsForFiles(p.Files)

	p.Steps = append(p.Steps, Step{Kind: StepWriteState}, Step{Kind: StepWriteLog})

	p.IDHash32, p.IDHash64 = identityHashes(set.ManifestDigest64, set.ResolvedDigest64, p)
	return p, nil
}

// identityHashes folds (manifest_digest64, resolved_digest64, operation,
// scope, product_id, version, install_root, components[], steps[]) with
// explicit separators, so logically equal plans on any host produce
// identical hashes.
func identityHashes(manifestDigest64, resolvedDigest64 uint64, p *Plan) (uint32, uint64) {
	d64 := digest.NewDigest64()
	d32 := digest.NewDigest32()

	fold := func(s string) {
		d64.WriteStringField(s)
		d32.WriteStringField(s)
	}
	foldU64 := func(v uint64) {
		d64.WriteU64Field(v)
		d32.WriteU64Field(v)
	}

	foldU64(manifestDigest64)
	foldU64(resolvedDigest64)
	fold(p.Operation)
	fold(p.Scope)
	fold(p.ProductID)
	fold(p.ProductVersion)
	fold(p.InstallRoot)
	for _, c := range p.Components {
		fold(c.ID)
		fold(c.Version)
		fold(c.Kind)
	}
	for _, s := range p.Steps {
		fold(string(s.Kind))
		fold(s.Arg)
	}

	return d32.Sum(), d64.Sum()
}

func errMsg(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
