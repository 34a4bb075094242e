// Package specifier classifies a raw import request — the string passed to
// require()/import — into its path, query, and fragment, and into one of
// four classes (spec §4.1, component C2). Grounded on the teacher's
// resolver.go: IsPackagePath, the query/fragment split inlined in
// loadNodeModules/esmParsePackageName, and dataurl.go for the file:// URL
// decode path.
package specifier

import (
	"net/url"
	"strings"
)

// Class is the specifier's syntactic category.
type Class uint8

const (
	// Absolute is a filesystem-rooted path: starts with `/`, a Windows
	// drive letter, or a UNC/DOS-device prefix, or was a decoded file://
	// URL.
	Absolute Class = iota
	// Relative starts with `./`, `../`, or equals `.`/`..`.
	Relative
	// Hash starts with `#` — a subpath import, resolved via an enclosing
	// package.json's "imports" field.
	Hash
	// Module is a bare specifier: an npm package name, optionally scoped
	// (`@scope/name`), optionally with a subpath (`@scope/name/sub`).
	Module
)

func (c Class) String() string {
	switch c {
	case Absolute:
		return "absolute"
	case Relative:
		return "relative"
	case Hash:
		return "hash"
	default:
		return "module"
	}
}

// Specifier is the parsed form of a raw request string.
type Specifier struct {
	Path  string // query/fragment stripped, NUL-escapes resolved
	Query string // includes leading '?', or ""
	Frag  string // includes leading '#', or ""
	Class Class
}

// Error reports a malformed specifier (spec §4.1 edge case: empty path).
type Error struct {
	Raw string
	Msg string
}

func (e *Error) Error() string { return e.Msg + ": " + e.Raw }

const (
	nulHash  = "\x00#"
	nulQuery = "\x00?"
)

// Parse splits raw into path/query/fragment and classifies it.
//
// `\0#` and `\0?` are escape sequences representing a literal `#`/`?` in
// the path portion (used by callers that have already percent-decoded a
// URL and need to smuggle a literal delimiter character through). The
// first unescaped `#` or `?` — whichever occurs first in the string, not
// counting a leading `#` — starts the fragment or query respectively. A
// fragment runs to the end of the string and leaves the query empty; a
// query runs to the next unescaped `#`, which starts the fragment.
func Parse(raw string, isWindows bool) (Specifier, error) {
	if raw == "" {
		return Specifier{}, &Error{Raw: raw, Msg: "specifier must not be empty"}
	}

	path, query, frag := splitQueryFragment(raw)
	path = unescapeDelimiters(path)

	if decoded, ok := decodeFileURL(path); ok {
		path = decoded
		if path == "" {
			return Specifier{}, &Error{Raw: raw, Msg: "file:// URL decodes to an empty path"}
		}
		return Specifier{Path: path, Query: query, Frag: frag, Class: Absolute}, nil
	}

	if path == "" {
		return Specifier{}, &Error{Raw: raw, Msg: "specifier must not be empty"}
	}

	return Specifier{Path: path, Query: query, Frag: frag, Class: classify(path, isWindows)}, nil
}

// splitQueryFragment finds the first unescaped '#' or '?' (in raw-string
// terms, ignoring the \0-escapes which are handled by the caller after
// splitting) and divides raw into path/query/fragment. Whichever delimiter
// occurs first determines whether what follows is a fragment (further `?`
// inside it is literal) or a query (a later unescaped `#` starts a nested
// fragment).
func splitQueryFragment(raw string) (path, query, frag string) {
	hashIdx := indexUnescaped(raw, '#')
	if hashIdx == 0 {
		// A leading '#' marks a Hash-class (package "imports") specifier,
		// not a fragment; only a later unescaped '#' starts one.
		hashIdx = -1
		if i := indexUnescaped(raw[1:], '#'); i != -1 {
			hashIdx = i + 1
		}
	}
	queryIdx := indexUnescaped(raw, '?')

	switch {
	case hashIdx == -1 && queryIdx == -1:
		return raw, "", ""
	case hashIdx != -1 && (queryIdx == -1 || hashIdx < queryIdx):
		path = raw[:hashIdx]
		rest := raw[hashIdx:]
		// A '?' inside the fragment's remainder, if any, starts a query
		// that trails the fragment text in the raw request — but per
		// Node/bundler convention the fragment is "the rest of the
		// string"; we keep frag as everything from '#' onward and leave
		// query empty in that case, matching esbuild's handling where
		// fragment takes the remainder once found first.
		frag = rest
		return path, "", frag
	default:
		path = raw[:queryIdx]
		rest := raw[queryIdx:]
		if idx := indexUnescaped(rest[1:], '#'); idx != -1 {
			query = rest[:idx+1]
			frag = rest[idx+1:]
		} else {
			query = rest
		}
		return path, query, frag
	}
}

// indexUnescaped returns the byte index of the first unescaped occurrence
// of delim, treating "\x00#" / "\x00?" as escape sequences that are not a
// delimiter occurrence.
func indexUnescaped(s string, delim byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 && i+1 < len(s) && (s[i+1] == '#' || s[i+1] == '?') {
			i++ // skip the escaped delimiter too
			continue
		}
		if s[i] == delim {
			return i
		}
	}
	return -1
}

func unescapeDelimiters(s string) string {
	if !strings.Contains(s, "\x00") {
		return s
	}
	s = strings.ReplaceAll(s, nulHash, "#")
	s = strings.ReplaceAll(s, nulQuery, "?")
	return s
}

func decodeFileURL(path string) (string, bool) {
	if !strings.HasPrefix(path, "file://") {
		return "", false
	}
	u, err := url.Parse(path)
	if err != nil || u.Scheme != "file" {
		return "", false
	}
	decoded := u.Path
	if u.Host != "" && u.Host != "localhost" {
		// UNC-style file://host/share/path
		decoded = "//" + u.Host + u.Path
	}
	// Windows drive-letter file URLs look like file:///C:/foo — the
	// leading slash before the drive letter must be stripped.
	if len(decoded) >= 3 && decoded[0] == '/' && isDriveLetter(decoded[1]) && decoded[2] == ':' {
		decoded = decoded[1:]
	}
	return decoded, true
}

func isDriveLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func classify(path string, isWindows bool) Class {
	switch {
	case strings.HasPrefix(path, "#"):
		return Hash
	case path == ".", path == "..":
		return Relative
	case strings.HasPrefix(path, "./"), strings.HasPrefix(path, "../"):
		return Relative
	case isAbsolutePath(path, isWindows):
		return Absolute
	default:
		return Module
	}
}

// isAbsolutePath recognizes POSIX `/...`, Windows drive letters (`C:\`,
// `C:/`), UNC shares (`\\server\share`), and DOS device prefixes
// (`\\?\`, `\\?\UNC\`) — spec §4.1's Windows edge case.
func isAbsolutePath(path string, isWindows bool) bool {
	if strings.HasPrefix(path, "/") {
		return true
	}
	if !isWindows {
		return false
	}
	if len(path) >= 3 && isDriveLetter(path[0]) && path[1] == ':' && (path[2] == '\\' || path[2] == '/') {
		return true
	}
	if strings.HasPrefix(path, `\\`) {
		return true
	}
	return false
}

// IsScopedPackage reports whether a Module-class path begins with an npm
// scope (`@scope/name`).
func IsScopedPackage(path string) bool {
	return strings.HasPrefix(path, "@")
}

// SplitModule divides a Module-class path into its package name (one or
// two segments, depending on scoping) and the remaining subpath (which may
// be empty).
func SplitModule(path string) (name, subpath string) {
	if IsScopedPackage(path) {
		firstSlash := strings.IndexByte(path, '/')
		if firstSlash == -1 {
			return path, ""
		}
		secondSlash := strings.IndexByte(path[firstSlash+1:], '/')
		if secondSlash == -1 {
			return path, ""
		}
		secondSlash += firstSlash + 1
		return path[:secondSlash], path[secondSlash:]
	}
	if slash := strings.IndexByte(path, '/'); slash != -1 {
		return path[:slash], path[slash:]
	}
	return path, ""
}
