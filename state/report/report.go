// Package report builds the deterministic, JSON-serializable reports the
// collaborating CLI prints and exports: verify/inventory classification and
// an uninstall preview. No report mutates the
// filesystem; VerifyReport re-hashes file content, the others only read the
// installed-state record.
package report

import (
	"fmt"
	"sort"

	goccyjson "github.com/goccy/go-json"

	"github.com/dominium/dsu/adaptor/platformfs"
	"github.com/dominium/dsu/logic/canon"
	"github.com/dominium/dsu/logic/digest"
	"github.com/dominium/dsu/logic/dsuerr"
	"github.com/dominium/dsu/state/installstate"
)

// FileStatus classifies one tracked or untracked file against the
// installed-state record.
type FileStatus string

const (
	StatusOK       FileStatus = "ok"
	StatusMissing  FileStatus = "missing"
	StatusModified FileStatus = "modified"
	StatusExtra    FileStatus = "extra"
)

// VerifyFile is one classified file in a VerifyReport, in
// (root_index, rel_path) order.
type VerifyFile struct {
	ComponentID string     `json:"component_id,omitempty"`
	RootIndex   int        `json:"root_index"`
	RelPath     string     `json:"rel_path"`
	Status      FileStatus `json:"status"`
}

// VerifyReport is the deterministic result of re-hashing every file an
// installed-state record tracks, plus (optionally) the untracked files
// found under its install roots.
type VerifyReport struct {
	ProductID      string       `json:"product_id"`
	ProductVersion string       `json:"product_version"`
	Checked        int          `json:"checked"`
	OK             int          `json:"ok"`
	Missing        int          `json:"missing"`
	Modified       int          `json:"modified"`
	Extra          int          `json:"extra"`
	Files          []VerifyFile `json:"files"`
}

// ignoredDir is never walked or reported as extra: it holds the engine's own
// bookkeeping (installed-state, journals), not product files.
const ignoredDir = ".dsu"

// Verify re-hashes every file state declares and classifies it
// ok/missing/modified. When includeExtra is true, it also walks every
// install root (excluding .dsu/) and reports files state does not own as
// "extra". Reports are built in sorted order and are byte-identical across
// runs for the same on-disk state.
//
//	rep, err := report.Verify(fs, state, true)
func Verify(fs *platformfs.Operator, state *installstate.State, includeExtra bool) (*VerifyReport, error) {
	rep := &VerifyReport{ProductID: state.ProductID, ProductVersion: state.ProductVersion}

	owned := make(map[string]map[string]bool, len(state.InstallRoots))
	for _, comp := range state.Components {
		for _, f := range comp.Files {
			abs, err := rootRelAbs(fs, state, f.RootIndex, f.RelPath)
			if err != nil {
				return nil, err
			}
			status, err := classify(fs, abs, f)
			if err != nil {
				return nil, err
			}
			rep.Files = append(rep.Files, VerifyFile{ComponentID: comp.ID, RootIndex: f.RootIndex, RelPath: f.RelPath, Status: status})
			rep.Checked++
			switch status {
			case StatusOK:
				rep.OK++
			case StatusMissing:
				rep.Missing++
			case StatusModified:
				rep.Modified++
			}

			if set, ok := owned[rootKey(f.RootIndex)]; ok {
				set[f.RelPath] = true
			} else {
				owned[rootKey(f.RootIndex)] = map[string]bool{f.RelPath: true}
			}
		}
	}

	if includeExtra {
		extras, err := findExtra(fs, state, owned)
		if err != nil {
			return nil, err
		}
		rep.Extra = len(extras)
		rep.Files = append(rep.Files, extras...)
	}

	sort.Slice(rep.Files, func(i, j int) bool {
		a, b := rep.Files[i], rep.Files[j]
		if a.RootIndex != b.RootIndex {
			return a.RootIndex < b.RootIndex
		}
		return a.RelPath < b.RelPath
	})
	return rep, nil
}

func rootKey(rootIndex int) string { return string(rune('A' + rootIndex)) }

// rootRelAbs resolves a tracked file under its declared root, refusing to
// follow any prefix that has become a symlink since install.
func rootRelAbs(fs *platformfs.Operator, state *installstate.State, rootIndex int, relPath string) (string, error) {
	if rootIndex < 0 || rootIndex >= len(state.InstallRoots) {
		return "", dsuerr.New(dsuerr.KindInternal, "report.rootRelAbs", errMsg("root_index %d out of range", rootIndex))
	}
	return canon.ResolveUnderRoot(state.InstallRoots[rootIndex].PathAbs, relPath, fs.Lstat)
}

func classify(fs *platformfs.Operator, abs string, f installstate.File) (FileStatus, error) {
	info, err := fs.PathInfo(abs)
	if err != nil {
		return "", dsuerr.Wrap(dsuerr.KindIO, err, "report.classify: stat %q", abs)
	}
	if !info.Exists {
		return StatusMissing, nil
	}
	sum, size, err := digest.SHA256File(abs)
	if err != nil {
		return "", dsuerr.Wrap(dsuerr.KindIO, err, "report.classify: hash %q", abs)
	}
	if sum != f.SHA256 || uint64(size) != f.Size {
		return StatusModified, nil
	}
	return StatusOK, nil
}

// findExtra walks every install root looking for files owned has no record
// of, skipping the .dsu/ bookkeeping directory.
func findExtra(fs *platformfs.Operator, state *installstate.State, owned map[string]map[string]bool) ([]VerifyFile, error) {
	var out []VerifyFile
	for i, root := range state.InstallRoots {
		set := owned[rootKey(i)]
		var walk func(rel string) error
		walk = func(rel string) error {
			dirAbs := root.PathAbs
			if rel != "" {
				dirAbs += "/" + rel
			}
			entries, err := fs.ListDir(dirAbs)
			if err != nil {
				return dsuerr.Wrap(dsuerr.KindIO, err, "report.findExtra: list %q", dirAbs)
			}
			for _, e := range entries {
				if rel == "" && e.Name == ignoredDir {
					continue
				}
				childRel := e.Name
				if rel != "" {
					childRel = rel + "/" + e.Name
				}
				if e.IsDir {
					if err := walk(childRel); err != nil {
						return err
					}
					continue
				}
				if !set[childRel] {
					out = append(out, VerifyFile{RootIndex: i, RelPath: childRel, Status: StatusExtra})
				}
			}
			return nil
		}
		if err := walk(""); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Marshal renders rep as its canonical JSON byte image.
func (rep *VerifyReport) Marshal() ([]byte, error) {
	buf, err := goccyjson.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, dsuerr.Wrap(dsuerr.KindInternal, err, "report.VerifyReport.Marshal")
	}
	return buf, nil
}

func errMsg(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
