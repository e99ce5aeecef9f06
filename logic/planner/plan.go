// Package planner expands a resolved component selection into an ordered,
// canonical plan with explicit directory, file, and state-write steps, and
// computes the plan's stable identity hashes.
package planner

import (
	"sort"

	"github.com/dominium/dsu/logic/manifest"
)

// StepKind identifies one forward action the transaction engine executes,
// in plan order.
type StepKind string

const (
	StepDeclareInstallRoot StepKind = "DECLARE_INSTALL_ROOT"
	StepInstallComponent   StepKind = "INSTALL_COMPONENT"
	StepUpgradeComponent   StepKind = "UPGRADE_COMPONENT"
	StepRepairComponent    StepKind = "REPAIR_COMPONENT"
	StepUninstallComponent StepKind = "UNINSTALL_COMPONENT"
	StepWriteState         StepKind = "WRITE_STATE"
	StepWriteLog           StepKind = "WRITE_LOG"
)

// Step is one plan step; Arg carries the step's single argument (an install
// root path or a component id, depending on Kind).
type Step struct {
	Kind StepKind
	Arg  string
}

// PayloadRef names a plan file's payload source. Only Fileset is
// implemented; MemberPath is reserved for archive-member payloads.
type PayloadRef struct {
	Kind          manifest.PayloadKind
	ContainerPath string
	MemberPath    string
}

// ComponentRef is one plan-level component summary.
type ComponentRef struct {
	ID      string
	Version string
	Kind    string
}

// FileIntent is one file the transaction engine must stage and commit.
type FileIntent struct {
	ComponentIx int
	RelTarget   string
	PayloadRef  PayloadRef
	Size        uint64
	SHA256      [32]byte
}

// Plan is the fully built, immutable instruction set the transaction engine
// applies. Flags is a bitmask; DeterministicFlag is the only flag defined by
// the core.
type Plan struct {
	Flags          uint32
	Operation      string
	Scope          string
	ProductID      string
	ProductVersion string
	InstallRoot    string
	Components     []ComponentRef
	Steps          []Step
	Dirs           []string
	Files          []FileIntent
	IDHash32       uint32
	IDHash64       uint64
}

// DeterministicFlag marks a plan built with determinism enforced:
// identical inputs always produce byte-identical plans.
const DeterministicFlag uint32 = 1 << 0

// dirsForFiles derives the mkdir-able parent directory set for a sorted
// file list, in canonical (shortest-first, then lexicographic) order so
// that a parent is always created before its children.
func dirsForFiles(files []FileIntent) []string {
	set := make(map[string]bool)
	for _, f := range files {
		dir := parentDir(f.RelTarget)
		for dir != "" && dir != "." {
			set[dir] = true
			dir = parentDir(dir)
		}
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i], out[j]
		if len(di) != len(dj) {
			return len(di) < len(dj)
		}
		return di < dj
	})
	return out
}

func parentDir(relPath string) string {
	idx := -1
	for i := len(relPath) - 1; i >= 0; i-- {
		if relPath[i] == '/' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ""
	}
	return relPath[:idx]
}
