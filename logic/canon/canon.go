// Package canon canonicalizes and validates relative paths and authorizes
// them against a set of allowed install roots. It performs no I/O of its own
// except the symlink-prefix probe, which it takes as an injected function so
// that the pure canonicalization logic stays testable without a filesystem.
//
// A canonical path is relative, uses only "/" separators, has no "."
// or ".." segments, no trailing slash, ASCII-printable bytes only.
package canon

import (
	"fmt"
	"strings"

	"github.com/dominium/dsu/logic/dsuerr"
)

// LstatProbe reports whether path exists and, if so, whether it is a
// symlink/reparse point. Implemented by adaptor/platformfs in production;
// tests supply a fake.
type LstatProbe func(path string) (exists bool, isSymlink bool, err error)

// Clean canonicalizes a relative path: folds backslashes to forward slashes,
// collapses "." segments, rejects ".." segments, rejects absolute prefixes
// (POSIX "/", drive letters "C:", UNC "\\host\share"), rejects embedded NUL
// and control bytes, and drops empty segments, so doubled and trailing
// slashes do not appear in the result.
//
//	rel, err := canon.Clean("bin\\tools/../hello.txt") // -> error: ".." not allowed
//	rel, err := canon.Clean("bin/hello.txt")           // -> "bin/hello.txt", nil
func Clean(p string) (string, error) {
	if p == "" {
		return "", dsuerr.New(dsuerr.KindInvalidArgs, "canon.Clean", errInvalid("empty path"))
	}
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == 0 || c < 0x20 {
			return "", dsuerr.New(dsuerr.KindInvalidArgs, "canon.Clean", errInvalid("control byte in path"))
		}
		if c > 0x7e {
			return "", dsuerr.New(dsuerr.KindInvalidArgs, "canon.Clean", errInvalid("non-ASCII byte in path"))
		}
	}

	folded := strings.ReplaceAll(p, `\`, "/")

	if isAbsoluteLike(folded) {
		return "", dsuerr.New(dsuerr.KindInvalidArgs, "canon.Clean", errInvalid("absolute or drive-qualified path not allowed"))
	}

	segments := strings.Split(folded, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			return "", dsuerr.New(dsuerr.KindInvalidArgs, "canon.Clean", errInvalid("parent-escape \"..\" not allowed"))
		default:
			if strings.Contains(seg, ":") {
				return "", dsuerr.New(dsuerr.KindInvalidArgs, "canon.Clean", errInvalid("\":\" not allowed outside a drive prefix"))
			}
			out = append(out, seg)
		}
	}
	if len(out) == 0 {
		return "", dsuerr.New(dsuerr.KindInvalidArgs, "canon.Clean", errInvalid("path resolves to root"))
	}
	return strings.Join(out, "/"), nil
}

// isAbsoluteLike recognizes POSIX absolute ("/x"), Windows drive ("C:\x",
// "c:/x") and UNC ("\\host\share") forms after backslash-folding.
func isAbsoluteLike(folded string) bool {
	if strings.HasPrefix(folded, "/") {
		return true
	}
	if strings.HasPrefix(folded, "//") {
		return true
	}
	if len(folded) >= 2 && isDriveLetter(folded[0]) && folded[1] == ':' {
		return true
	}
	return false
}

func isDriveLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Join canonicalizes base-relative path `elems` joined with "/", equivalent
// to Clean(strings.Join(elems, "/")).
func Join(elems ...string) (string, error) {
	return Clean(strings.Join(elems, "/"))
}

// ResolveUnderRoot validates that rel is a safe canonical path to mount under
// rootAbs: it must canonicalize cleanly, and no existing prefix directory
// under rootAbs may be a symlink or reparse point. probe is
// called once per path prefix, shallowest first.
//
//	abs, err := canon.ResolveUnderRoot("/opt/app", "bin/hello.txt", op.Lstat) // op is a *platformfs.Operator
func ResolveUnderRoot(rootAbs, rel string, probe LstatProbe) (string, error) {
	cleaned, err := Clean(rel)
	if err != nil {
		return "", err
	}

	segments := strings.Split(cleaned, "/")
	prefix := rootAbs
	for i := 0; i < len(segments)-1; i++ {
		prefix = prefix + "/" + segments[i]
		exists, isSymlink, err := probe(prefix)
		if err != nil {
			return "", dsuerr.New(dsuerr.KindIO, "canon.ResolveUnderRoot", err)
		}
		if exists && isSymlink {
			return "", dsuerr.New(dsuerr.KindInvalidArgs, "canon.ResolveUnderRoot",
				errInvalid("prefix %q is a symlink/reparse point", prefix))
		}
	}
	return rootAbs + "/" + cleaned, nil
}

func errInvalid(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
