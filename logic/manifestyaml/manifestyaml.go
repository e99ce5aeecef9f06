// Package manifestyaml compiles a human-authored YAML manifest source into
// the binary manifest.Manifest the rest of the engine consumes: a raw YAML
// shape on one side, the validated in-memory type it is converted into on
// the other.
package manifestyaml

import (
	"fmt"
	"os"

	"github.com/dominium/dsu/logic/dsuerr"
	"github.com/dominium/dsu/logic/manifest"
	"gopkg.in/yaml.v3"
)

type rawManifest struct {
	ProductID       string            `yaml:"product_id"`
	ProductVersion  string            `yaml:"product_version"`
	BuildChannel    string            `yaml:"build_channel"`
	PlatformTargets []string          `yaml:"platform_targets"`
	InstallRoots    []rawInstallRoot  `yaml:"install_roots"`
	Components      []rawComponent    `yaml:"components"`
}

type rawInstallRoot struct {
	Scope    string `yaml:"scope"`
	Platform string `yaml:"platform"`
	Path     string `yaml:"path"`
}

type rawComponent struct {
	ID        string       `yaml:"id"`
	Version   string       `yaml:"version"`
	Kind      string       `yaml:"kind"`
	Flags     []string     `yaml:"flags"`
	Deps      []rawDep     `yaml:"deps"`
	Conflicts []string     `yaml:"conflicts"`
	Payloads  []rawPayload `yaml:"payloads"`
	Actions   []string     `yaml:"actions"`
}

type rawDep struct {
	ID         string `yaml:"id"`
	Constraint string `yaml:"constraint"`
}

type rawPayload struct {
	Kind          string `yaml:"kind"`
	ContainerPath string `yaml:"container_path"`
	MemberPath    string `yaml:"member_path"`
	SHA256        string `yaml:"sha256"`
	Size          uint64 `yaml:"size"`
	TargetRel     string `yaml:"target_rel"`
}

// Compile parses YAML manifest source and produces a validated, canonicalized
// manifest.Manifest. The source format exists only to make hand-authoring
// manifests practical; every engine component downstream consumes the TLV
// form produced by manifest.Encode.
//
//	m, err := manifestyaml.Compile(yamlBytes)
func Compile(data []byte) (*manifest.Manifest, error) {
	var raw rawManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, dsuerr.New(dsuerr.KindParse, "manifestyaml.Compile", fmt.Errorf("parse yaml: %w", err))
	}

	m := &manifest.Manifest{
		SchemaVersion:   manifest.CurrentVersion,
		ProductID:       raw.ProductID,
		ProductVersion:  raw.ProductVersion,
		BuildChannel:    raw.BuildChannel,
		PlatformTargets: raw.PlatformTargets,
	}
	for _, r := range raw.InstallRoots {
		m.InstallRoots = append(m.InstallRoots, manifest.InstallRoot{
			Scope:    r.Scope,
			Platform: r.Platform,
			Path:     r.Path,
		})
	}
	for _, c := range raw.Components {
		comp := manifest.Component{
			ID:        c.ID,
			Version:   c.Version,
			Kind:      c.Kind,
			Flags:     c.Flags,
			Conflicts: c.Conflicts,
			Actions:   c.Actions,
		}
		for _, d := range c.Deps {
			comp.Deps = append(comp.Deps, manifest.Dependency{ID: d.ID, Constraint: d.Constraint})
		}
		for _, p := range c.Payloads {
			payload, err := decodePayload(p)
			if err != nil {
				return nil, dsuerr.New(dsuerr.KindParse, "manifestyaml.Compile",
					fmt.Errorf("component %q payload %q: %w", c.ID, p.ContainerPath, err))
			}
			comp.Payloads = append(comp.Payloads, payload)
		}
		m.Components = append(m.Components, comp)
	}

	m.Canonicalize()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// CompileFile reads path and compiles its contents as YAML manifest source.
//
//	m, err := manifestyaml.CompileFile("product.manifest.yaml")
func CompileFile(path string) (*manifest.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dsuerr.New(dsuerr.KindIO, "manifestyaml.CompileFile", err)
	}
	return Compile(data)
}

func decodePayload(p rawPayload) (manifest.Payload, error) {
	var out manifest.Payload
	kind := manifest.PayloadKind(p.Kind)
	if kind == "" {
		kind = manifest.PayloadFileset
	}
	if kind != manifest.PayloadFileset {
		return out, fmt.Errorf("unsupported payload kind %q", p.Kind)
	}

	sha, err := decodeHexSHA256(p.SHA256)
	if err != nil {
		return out, err
	}

	out = manifest.Payload{
		Kind:          kind,
		ContainerPath: p.ContainerPath,
		MemberPath:    p.MemberPath,
		SHA256:        sha,
		Size:          p.Size,
		TargetRel:     p.TargetRel,
	}
	return out, nil
}

func decodeHexSHA256(s string) ([32]byte, error) {
	var out [32]byte
	if len(s) != 64 {
		return out, fmt.Errorf("sha256 must be 64 hex characters, got %d", len(s))
	}
	for i := 0; i < 32; i++ {
		hi, ok1 := hexNibble(s[i*2])
		lo, ok2 := hexNibble(s[i*2+1])
		if !ok1 || !ok2 {
			return out, fmt.Errorf("sha256 contains non-hex character at position %d", i*2)
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
