// Package pathnorm implements platform-aware lexical path normalization:
// collapsing "." and ".." segments, joining path elements, and recognizing
// the various shapes an absolute path can take on Windows (drive letters,
// UNC shares, and "\\?\" DOS device prefixes) without touching the
// filesystem. None of this depends on the OS resolvekit actually runs on —
// callers pick a Windows or POSIX Normalizer explicitly, which is what lets
// the resolution pipeline be tested against Windows-shaped paths from a
// Linux CI box.
//
// The core algorithm is a well-known one (it's the same lexical-cleaning
// approach as Go's own path/filepath and as TypeScript's path utilities);
// the UNC/DOS-device recognition is grounded on how TypeScript's compiler
// classifies path roots.
package pathnorm

import "strings"

// Normalizer holds the platform assumptions needed to interpret a path
// string: which byte separates directories, and whether drive letters/UNC
// shares are meaningful.
type Normalizer struct {
	Windows bool
}

func isSlash(c byte) bool { return c == '\\' || c == '/' }

func (n Normalizer) isSep(c byte) bool {
	return c == '/' || (n.Windows && c == '\\')
}

var reservedDeviceNames = []string{
	"CON", "PRN", "AUX", "NUL",
	"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
	"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9",
}

func isReservedDeviceName(s string) bool {
	if s == "" {
		return false
	}
	for _, name := range reservedDeviceNames {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// VolumeLen returns the length of the leading volume name: a drive letter
// ("C:"), a UNC share ("\\server\share"), or a "\\?\" / "\\?\UNC\" DOS
// device prefix. It is always 0 on a non-Windows Normalizer.
func (n Normalizer) VolumeLen(path string) int {
	if !n.Windows {
		return 0
	}

	// DOS device paths: "\\?\..." and "\\?\UNC\server\share\..."
	if l := len(path); l >= 4 && isSlash(path[0]) && isSlash(path[1]) && path[2] == '?' && isSlash(path[3]) {
		rest := path[4:]
		if strings.HasPrefix(strings.ToUpper(rest), "UNC\\") {
			uncRest := rest[4:]
			return 8 + uncShareLen(uncRest)
		}
		// "\\?\C:\..."
		if len(rest) >= 2 && rest[1] == ':' {
			return 4 + 2
		}
		return 4
	}

	if len(path) >= 2 {
		c := path[0]
		if path[1] == ':' && (('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')) {
			return 2
		}
	}

	// Plain UNC: "\\server\share"
	if l := len(path); l >= 5 && isSlash(path[0]) && isSlash(path[1]) && !isSlash(path[2]) && path[2] != '.' {
		return 2 + uncShareLen(path[2:])
	}

	return 0
}

// uncShareLen returns how many bytes of "server\share..." belong to the
// "server\share" pair, given the string starting right after the leading
// "\\" (or "\\?\UNC\").
func uncShareLen(rest string) int {
	n := 0
	sawServerSlash := false
	for n < len(rest) {
		if isSlash(rest[n]) {
			if !sawServerSlash {
				sawServerSlash = true
				n++
				continue
			}
			break
		}
		n++
	}
	return n
}

// IsAbs reports whether path is an absolute path under this Normalizer's
// platform rules.
func (n Normalizer) IsAbs(path string) bool {
	if !n.Windows {
		return strings.HasPrefix(path, "/")
	}
	if isReservedDeviceName(path) {
		return true
	}
	vl := n.VolumeLen(path)
	if vl == 0 {
		return false
	}
	rest := path[vl:]
	return rest == "" || isSlash(rest[0])
}

// Clean lexically simplifies path the way path/filepath.Clean does,
// preserving any leading volume name and rewriting "/" to the platform
// separator. It never consults the filesystem.
func (n Normalizer) Clean(path string) string {
	sep := byte('/')
	if n.Windows {
		sep = '\\'
	}

	orig := path
	vl := n.VolumeLen(path)
	vol := orig[:vl]
	path = path[vl:]
	if path == "" {
		return vol + "."
	}
	rooted := n.isSep(path[0])

	var out []byte
	r, dotdot := 0, 0
	length := len(path)
	if rooted {
		out = append(out, sep)
		r, dotdot = 1, 1
	}

	for r < length {
		switch {
		case n.isSep(path[r]):
			r++
		case path[r] == '.' && (r+1 == length || n.isSep(path[r+1])):
			r++
		case path[r] == '.' && r+1 < length && path[r+1] == '.' && (r+2 == length || n.isSep(path[r+2])):
			r += 2
			switch {
			case len(out) > dotdot:
				w := len(out) - 1
				for w > dotdot && !n.isSep(out[w]) {
					w--
				}
				out = out[:w]
			case !rooted:
				if len(out) > 0 {
					out = append(out, sep)
				}
				out = append(out, '.', '.')
				dotdot = len(out)
			}
		default:
			if (rooted && len(out) != 1) || (!rooted && len(out) != 0) {
				out = append(out, sep)
			}
			for ; r < length && !n.isSep(path[r]); r++ {
				out = append(out, path[r])
			}
		}
	}

	if len(out) == 0 {
		out = append(out, '.')
	}
	return vol + string(out)
}

// Join concatenates elem with the platform separator and cleans the result.
// A trailing "/" on the final non-empty element is preserved, matching the
// "require directory" convention described by the module resolution
// algorithm (spec §4.2).
func (n Normalizer) Join(elem ...string) string {
	sep := "/"
	if n.Windows {
		sep = "\\"
	}
	wantsTrailingSep := false
	nonEmpty := make([]string, 0, len(elem))
	for _, e := range elem {
		if e == "" {
			continue
		}
		nonEmpty = append(nonEmpty, e)
	}
	if len(nonEmpty) == 0 {
		return ""
	}
	last := nonEmpty[len(nonEmpty)-1]
	if len(last) > 0 && n.isSep(last[len(last)-1]) {
		wantsTrailingSep = true
	}
	joined := n.Clean(strings.Join(nonEmpty, sep))
	if wantsTrailingSep && !strings.HasSuffix(joined, sep) {
		joined += sep
	}
	return joined
}

// Dir returns all but the last element of path.
func (n Normalizer) Dir(path string) string {
	vol := path[:n.VolumeLen(path)]
	i := len(path) - 1
	for i >= len(vol) && !n.isSep(path[i]) {
		i--
	}
	dir := n.Clean(path[len(vol) : i+1])
	if dir == "." && len(vol) > 2 {
		return vol
	}
	return vol + dir
}

// Base returns the last element of path.
func (n Normalizer) Base(path string) string {
	if path == "" {
		return "."
	}
	for len(path) > 0 && n.isSep(path[len(path)-1]) {
		path = path[:len(path)-1]
	}
	path = path[n.VolumeLen(path):]
	i := len(path) - 1
	for i >= 0 && !n.isSep(path[i]) {
		i--
	}
	if i >= 0 {
		path = path[i+1:]
	}
	if path == "" {
		if n.Windows {
			return "\\"
		}
		return "/"
	}
	return path
}

// Ext returns the extension of the final path element, including the dot.
func (n Normalizer) Ext(path string) string {
	for i := len(path) - 1; i >= 0 && !n.isSep(path[i]); i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}

// Canonicalize rewrites any "\\?\" or "\\?\UNC\" DOS device prefix to the
// plain drive-letter or UNC form, per spec §4.1's "Dos-device prefixes are
// normalized to a single canonical form before hashing".
func (n Normalizer) Canonicalize(path string) string {
	if !n.Windows || len(path) < 4 {
		return path
	}
	if isSlash(path[0]) && isSlash(path[1]) && path[2] == '?' && isSlash(path[3]) {
		rest := path[4:]
		if strings.HasPrefix(strings.ToUpper(rest), "UNC\\") {
			return `\\` + rest[4:]
		}
		return rest
	}
	return path
}
