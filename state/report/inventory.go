package report

import (
	"sort"

	goccyjson "github.com/goccy/go-json"

	"github.com/dominium/dsu/logic/dsuerr"
	"github.com/dominium/dsu/state/installstate"
)

// InventoryComponent is one installed component's summary in an
// InventoryReport.
type InventoryComponent struct {
	ID         string `json:"id"`
	Version    string `json:"version"`
	Kind       string `json:"kind"`
	FileCount  int    `json:"file_count"`
	TotalBytes uint64 `json:"total_bytes"`
}

// InventoryReport lists what an installed-state record says is installed
// where, without touching the filesystem.
type InventoryReport struct {
	ProductID      string                `json:"product_id"`
	ProductVersion string                `json:"product_version"`
	Scope          string                `json:"scope"`
	Platform       string                `json:"platform"`
	InstallRoots   []string              `json:"install_roots"`
	Components     []InventoryComponent  `json:"components"`
}

// Inventory builds an InventoryReport from a loaded installed-state record.
// Components are already sorted by id per installstate.State's invariant.
//
//	rep := report.Inventory(state)
func Inventory(state *installstate.State) *InventoryReport {
	rep := &InventoryReport{
		ProductID:      state.ProductID,
		ProductVersion: state.ProductVersion,
		Scope:          state.Scope,
		Platform:       state.Platform,
	}
	for _, r := range state.InstallRoots {
		rep.InstallRoots = append(rep.InstallRoots, r.PathAbs)
	}
	for _, c := range state.Components {
		var total uint64
		for _, f := range c.Files {
			total += f.Size
		}
		rep.Components = append(rep.Components, InventoryComponent{ID: c.ID, Version: c.Version, Kind: c.Kind, FileCount: len(c.Files), TotalBytes: total})
	}
	return rep
}

// Marshal renders rep as its canonical JSON byte image.
func (rep *InventoryReport) Marshal() ([]byte, error) {
	buf, err := goccyjson.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, dsuerr.Wrap(dsuerr.KindInternal, err, "report.InventoryReport.Marshal")
	}
	return buf, nil
}

// UninstallFile is one file an uninstall preview would remove or preserve.
type UninstallFile struct {
	ComponentID string                `json:"component_id"`
	RootIndex   int                   `json:"root_index"`
	RelPath     string                `json:"rel_path"`
	Ownership   installstate.Ownership `json:"ownership"`
	Removed     bool                  `json:"removed"`
}

// UninstallPreviewReport previews the effect of uninstalling a set of
// component ids, without mutating anything: files tagged owned would be
// removed, files tagged user_data or cache are preserved. Files sort by
// (root_index, rel_path) then owning component id.
type UninstallPreviewReport struct {
	ComponentIDs []string        `json:"component_ids"`
	Files        []UninstallFile `json:"files"`
	RemovedCount int             `json:"removed_count"`
	KeptCount    int             `json:"kept_count"`
}

// UninstallPreview computes what UninstallState would remove for the given
// component ids against a loaded installed-state record.
//
//	rep := report.UninstallPreview(state, []string{"core"})
func UninstallPreview(state *installstate.State, componentIDs []string) *UninstallPreviewReport {
	ids := append([]string(nil), componentIDs...)
	sort.Strings(ids)
	targeted := make(map[string]bool, len(ids))
	for _, id := range ids {
		targeted[id] = true
	}

	rep := &UninstallPreviewReport{ComponentIDs: ids}
	for _, comp := range state.Components {
		if !targeted[comp.ID] {
			continue
		}
		for _, f := range comp.Files {
			removed := f.Ownership == installstate.OwnershipOwned
			rep.Files = append(rep.Files, UninstallFile{ComponentID: comp.ID, RootIndex: f.RootIndex, RelPath: f.RelPath, Ownership: f.Ownership, Removed: removed})
			if removed {
				rep.RemovedCount++
			} else {
				rep.KeptCount++
			}
		}
	}

	sort.Slice(rep.Files, func(i, j int) bool {
		a, b := rep.Files[i], rep.Files[j]
		if a.RootIndex != b.RootIndex {
			return a.RootIndex < b.RootIndex
		}
		if a.RelPath != b.RelPath {
			return a.RelPath < b.RelPath
		}
		return a.ComponentID < b.ComponentID
	})
	return rep
}

// Marshal renders rep as its canonical JSON byte image.
func (rep *UninstallPreviewReport) Marshal() ([]byte, error) {
	buf, err := goccyjson.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, dsuerr.Wrap(dsuerr.KindInternal, err, "report.UninstallPreviewReport.Marshal")
	}
	return buf, nil
}
