// Package rewrite implements the two specifier-rewriting layers that run
// before and around path resolution (spec §4.7, component C8): the
// caller-supplied package alias table, and a package.json "browser" field
// remapping. Grounded on the alias substitution block and
// checkBrowserMap/browserPackageMap/browserNonPackageMap fields in the
// teacher's evanw-esbuild/internal/resolver/resolver.go and package_json.go.
package rewrite

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/resolvekit/resolvekit/internal/jsonc"
	"github.com/resolvekit/resolvekit/internal/pkgcache"
	"github.com/resolvekit/resolvekit/internal/specifier"
)

// AliasTable is a caller-supplied package-name substitution table (spec
// §6's Options.PackageAliases), e.g. {"util": "util-browser-shim"}.
type AliasTable map[string]string

// AliasResult reports an alias-table hit: the specifier to actually
// resolve, and the directory resolution should restart from.
type AliasResult struct {
	Specifier string
	FromDir   string
	Matched   bool
}

// ApplyAlias finds the longest alias key that prefixes importPath at a
// package-name boundary (importPath == key, or importPath[len(key)] ==
// '/'), exactly as the teacher's longestKey/longestValue loop does, and
// substitutes it in. A trailing bare "/" left after substitution is
// dropped (matches node's historical quirk where "util/" resolves as a
// filesystem path rather than the builtin "util" — stripping it keeps an
// aliased specifier from accidentally falling into that path, per the
// teacher's comment on esbuild issue #2730). Resolution is restarted from
// cwd so a nested dependency's alias table entry can't reach outside its
// own package (relevant under Yarn PnP, which forbids exactly that).
func ApplyAlias(table AliasTable, importPath, cwd string) AliasResult {
	if len(table) == 0 || !specifier.IsScopedPackage(importPath) && !isModulePath(importPath) {
		return AliasResult{}
	}

	longestKey, longestValue := "", ""
	for key, value := range table {
		if len(key) > len(longestKey) && strings.HasPrefix(importPath, key) &&
			(len(importPath) == len(key) || importPath[len(key)] == '/') {
			longestKey, longestValue = key, value
		}
	}
	if longestKey == "" {
		return AliasResult{}
	}

	modified := longestValue
	if tail := importPath[len(longestKey):]; tail != "/" {
		modified += tail
	}
	return AliasResult{Specifier: modified, FromDir: cwd, Matched: true}
}

func isModulePath(p string) bool {
	return p != "" && p[0] != '.' && p[0] != '/' && p[0] != '#'
}

// BrowserMap is the parsed form of a package.json "browser" field:
// package-name replacements (or disablement, for a nil *string) and
// absolute-file-path replacements. Grounded on packageJSON.browserPackageMap
// / browserNonPackageMap in the teacher's package_json.go.
type BrowserMap struct {
	Package    map[string]*string // keyed by bare package/module specifier
	NonPackage map[string]*string // keyed by absolute path, no extension assumed
}

// ParseBrowserMap extracts a BrowserMap from a package.json's raw
// "browser" field, resolving non-package keys against dir (the directory
// containing that package.json). Returns a zero BrowserMap if the field
// is absent or not an object (a plain string "browser" field only
// remaps the package main entry, handled by the main-field selection
// logic, not here).
func ParseBrowserMap(browser jsonc.Value, dir string, join func(...string) string) BrowserMap {
	bm := BrowserMap{Package: map[string]*string{}, NonPackage: map[string]*string{}}
	if !browser.IsObject() {
		return bm
	}
	for _, m := range browser.Object {
		key := m.Key
		isPackage := isModulePath(key) || specifier.IsScopedPackage(key)
		if !isPackage {
			key = join(dir, key)
		}
		switch {
		case m.Value.IsString():
			v := m.Value.Str
			if isPackage {
				bm.Package[key] = &v
			} else {
				bm.NonPackage[key] = &v
			}
		case m.Value.Kind == jsonc.KindBool && !m.Value.Bool:
			if isPackage {
				bm.Package[key] = nil
			} else {
				bm.NonPackage[key] = nil
			}
		}
	}
	return bm
}

// LookupPackage and LookupNonPackage report whether a key is present, so a
// nil value ("this module is disabled") can be told apart from "no entry at
// all" — Go can't
// distinguish a present-but-nil map value from an absent key with a plain
// index expression, so callers should use this helper pair instead.
func (bm BrowserMap) LookupPackage(key string) (target *string, found bool) {
	target, found = bm.Package[key]
	return
}

func (bm BrowserMap) LookupNonPackage(key string) (target *string, found bool) {
	target, found = bm.NonPackage[key]
	return
}

// RemapNonPackagePath applies the non-package browser map to an absolute
// path, per the teacher's documented double-check quirk: a mapping from
// "./no-ext" must match the query "./no-ext" but not "./no-ext.js", while
// a mapping from "./ext.js" must match both "./ext.js" and "./ext" (spec
// §4.7 carries this verbatim from Webpack-compatible behavior). Callers
// invoke this once before extension-based file resolution (on the raw
// specifier path) and once after (on the resolved absolute path with its
// extension attached); both call sites are needed to reproduce both halves
// of the quirk.
func RemapNonPackagePath(bm BrowserMap, absPath string, extensionOrder []string) (target *string, matched bool) {
	if t, ok := bm.LookupNonPackage(absPath); ok {
		return t, true
	}
	for _, ext := range extensionOrder {
		if t, ok := bm.LookupNonPackage(absPath + ext); ok {
			return t, true
		}
	}
	return nil, false
}

// MatchesSideEffectGlobs reports whether relPath (package-root-relative,
// forward-slash separated) matches one of a package's declared
// "sideEffects" glob patterns (spec §4.7's sideEffects-as-glob-list form).
// The teacher compiles these globs into *regexp.Regexp by hand
// (globToEscapedRegexp in package_json.go); this uses doublestar, the
// glob-matching library carried by the rest of the retrieved pack, instead
// of hand-rolling another regexp translator for the same job.
func MatchesSideEffectGlobs(se pkgcache.SideEffects, relPath string) bool {
	switch se.Kind {
	case pkgcache.SideEffectsAll, pkgcache.SideEffectsUnspecified:
		return true
	case pkgcache.SideEffectsNone:
		return false
	case pkgcache.SideEffectsGlobs:
		for _, pattern := range se.Globs {
			// relPath carries no "./" prefix, so "./src/x.js" must match as "src/x.js".
			pattern = strings.TrimPrefix(pattern, "./")
			if ok, _ := doublestar.Match(pattern, relPath); ok {
				return true
			}
			// Webpack/Node convention: a glob with no "/" matches the basename
			// anywhere in the tree, not just at the package root.
			if !strings.Contains(pattern, "/") {
				if ok, _ := doublestar.Match(pattern, lastSegment(relPath)); ok {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}

func lastSegment(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
