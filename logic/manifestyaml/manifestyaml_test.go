package manifestyaml

import (
	"strings"
	"testing"

	"github.com/dominium/dsu/logic/dsuerr"
)

const sampleYAML = `
product_id: acme-suite
product_version: 3.1.0
build_channel: stable
platform_targets:
  - linux-amd64
install_roots:
  - scope: system
    platform: linux-amd64
    path: /opt/acme-suite
components:
  - id: core
    version: 3.1.0
    kind: required
    flags: [DEFAULT_SELECTED]
    payloads:
      - kind: fileset
        container_path: payload/core.bin
        sha256: "0102030000000000000000000000000000000000000000000000000000000000"
        size: 4096
        target_rel: bin/core.bin
`

func TestCompile_ValidYAML(t *testing.T) {
	m, err := Compile([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ProductID != "acme-suite" {
		t.Errorf("ProductID = %q", m.ProductID)
	}
	if len(m.Components) != 1 {
		t.Fatalf("got %d components, want 1", len(m.Components))
	}
	core := m.Components[0]
	if len(core.Payloads) != 1 {
		t.Fatalf("got %d payloads, want 1", len(core.Payloads))
	}
	if core.Payloads[0].Size != 4096 {
		t.Errorf("Size = %d, want 4096", core.Payloads[0].Size)
	}
	if core.Payloads[0].SHA256[0] != 0x01 || core.Payloads[0].SHA256[1] != 0x02 || core.Payloads[0].SHA256[2] != 0x03 {
		t.Errorf("SHA256 prefix = %x", core.Payloads[0].SHA256[:3])
	}
}

func TestCompile_RejectsBadSHA256Length(t *testing.T) {
	bad := strings.Replace(sampleYAML, `sha256: "0102030000000000000000000000000000000000000000000000000000000000"`, `sha256: "deadbeef"`, 1)
	if _, err := Compile([]byte(bad)); dsuerr.KindOf(err) != dsuerr.KindParse {
		t.Fatalf("got %v, want KindParse", err)
	}
}

func TestCompile_RejectsUnsupportedPayloadKind(t *testing.T) {
	bad := strings.Replace(sampleYAML, "kind: fileset", "kind: archive-member", 1)
	if _, err := Compile([]byte(bad)); dsuerr.KindOf(err) != dsuerr.KindParse {
		t.Fatalf("got %v, want KindParse", err)
	}
}

func TestCompile_RejectsMalformedYAML(t *testing.T) {
	if _, err := Compile([]byte("product_id: [\n")); dsuerr.KindOf(err) != dsuerr.KindParse {
		t.Fatalf("got %v, want KindParse", err)
	}
}

func TestCompile_RejectsMissingProductID(t *testing.T) {
	bad := strings.Replace(sampleYAML, "product_id: acme-suite", "product_id: \"\"", 1)
	if _, err := Compile([]byte(bad)); dsuerr.KindOf(err) != dsuerr.KindParse {
		t.Fatalf("got %v, want KindParse", err)
	}
}

func TestCompileFile_MissingFile(t *testing.T) {
	if _, err := CompileFile("/nonexistent/manifest.yaml"); dsuerr.KindOf(err) != dsuerr.KindIO {
		t.Fatalf("got %v, want KindIO", err)
	}
}
