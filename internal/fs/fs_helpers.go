package fs

import (
	"path/filepath"
	"strings"

	"github.com/resolvekit/resolvekit/internal/pathnorm"
)

// filepathEvalSymlinks is the single point of contact with the OS for
// whole-path symlink resolution. It backs FS.Realpath, the fallback path
// spec §6 describes ("canonicalize(path) as a fallback when a piecewise
// walk fails"); the piecewise walk itself — the one that can report which
// specific segment cycles — lives in internal/pkgcache, not here, since
// that's where PathHandle's parent-chain walk already is.
func filepathEvalSymlinks(path string) (string, error) {
	return filepath.EvalSymlinks(path)
}

// relPOSIXish computes a relative path from base to target using the same
// segment-by-segment comparison the teacher's filepath fork uses, adapted
// to pathnorm.Normalizer so it agrees with Join/Clean about separators.
func relPOSIXish(n pathnorm.Normalizer, base, target string) (string, bool) {
	sep := "/"
	if n.Windows {
		sep = "\\"
	}
	base = n.Clean(base)
	target = n.Clean(target)
	if base == target {
		return ".", true
	}

	split := func(s string) []string {
		if s == "" || s == "." {
			return nil
		}
		return strings.Split(strings.TrimPrefix(s, sep), sep)
	}

	baseParts := split(base)
	targetParts := split(target)

	i := 0
	for i < len(baseParts) && i < len(targetParts) && sameSegment(n, baseParts[i], targetParts[i]) {
		i++
	}

	ups := len(baseParts) - i
	rest := targetParts[i:]

	parts := make([]string, 0, ups+len(rest))
	for j := 0; j < ups; j++ {
		parts = append(parts, "..")
	}
	parts = append(parts, rest...)

	if len(parts) == 0 {
		return ".", true
	}
	return strings.Join(parts, sep), true
}

func sameSegment(n pathnorm.Normalizer, a, b string) bool {
	if n.Windows {
		return strings.EqualFold(a, b)
	}
	return a == b
}
