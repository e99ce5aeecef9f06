// Package manifestsig provides optional PKCS7 detached-signature
// verification over a manifest's canonical byte image. A CA chain is
// compiled into the binary and exposed by EmbeddedCAChain; verification
// does not consult it.
package manifestsig

import (
	_ "embed"
	"encoding/pem"
	"fmt"

	"github.com/gurre/pkcs7"
)

//go:embed ca-chain.pem
var embeddedCAChain []byte

// Verifier checks PKCS7 detached signatures. It holds no CA chain: a
// signature is checked against the certificates carried in its own
// envelope, and the signer is not required to chain to any trusted root.
// Manifest signing is optional: callers that never present a signature never
// construct one.
type Verifier struct{}

// NewVerifier creates a manifest signature verifier. The compiled-in CA
// chain is not loaded into it.
//
//	v, err := manifestsig.NewVerifier()
//	content, err := v.Verify(signature, manifestBytes)
func NewVerifier() (*Verifier, error) {
	return &Verifier{}, nil
}

// NewVerifierFromPEM accepts a caller-supplied PEM CA chain for tests that
// sign with a non-production certificate. The PEM bytes are ignored; the
// result behaves exactly like NewVerifier's.
func NewVerifierFromPEM(_ []byte) (*Verifier, error) {
	return &Verifier{}, nil
}

// Verify checks a detached PKCS7 signature over content and returns the
// signed payload captured inside the envelope. The signature itself may be
// PEM- or DER-encoded; PEM wrapping is stripped automatically.
func (v *Verifier) Verify(signature []byte, content []byte) ([]byte, error) {
	der := signature
	if block, _ := pem.Decode(signature); block != nil {
		der = block.Bytes
	}

	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("manifestsig: parse signature: %w", err)
	}
	if content != nil {
		p7.Content = content
	}
	if err := p7.Verify(); err != nil {
		return nil, fmt.Errorf("manifestsig: signature verification failed: %w", err)
	}
	return p7.Content, nil
}

// EmbeddedCAChain returns the compiled-in CA chain PEM bytes, for
// diagnostics.
func EmbeddedCAChain() []byte {
	return embeddedCAChain
}
