// Package pnp implements a Yarn Plug'n'Play resolution adapter (spec
// §4.10, component C11): given a parsed .pnp.data.json manifest, maps a
// bare specifier to the on-disk location of the package that should
// satisfy it, following the dependency graph Yarn recorded at install
// time instead of walking node_modules. Grounded on the teacher's
// evanw-esbuild/internal/resolver/yarnpnp.go, which implements
// https://yarnpkg.com/advanced/pnp-spec/.
//
// Scope: this package covers RESOLVE_TO_UNQUALIFIED — manifest parsing
// and locator/package-location lookup. It does not implement Yarn's
// zip-archive virtual filesystem (a resolver only needs to know where a
// package's files live, not read their contents out of a .zip), and it
// only reads the JSON manifest form (.pnp.data.json), not the executable
// .pnp.cjs loader, since extracting the embedded manifest out of .pnp.cjs
// requires a full JS parser this module doesn't carry.
package pnp

import (
	"regexp"
	"strings"

	"github.com/resolvekit/resolvekit/internal/fs"
	"github.com/resolvekit/resolvekit/internal/jsonc"
)

// IdentAndReference is a Yarn "locator" or "dependency target". Per the
// spec, it has three states: a bare reference (Ident == ""), an aliased
// package (both set), or a missing peer dependency (both empty, Null true).
type IdentAndReference struct {
	Ident     string
	Reference string
	Null      bool
}

type pkg struct {
	location     string
	dependencies map[string]IdentAndReference
}

type locatorByLocation struct {
	locator           IdentAndReference
	discardFromLookup bool
}

// Manifest is the compiled form of a .pnp.data.json file.
type Manifest struct {
	AbsPath                string
	AbsDirPath             string
	EnableTopLevelFallback bool
	FallbackExclusionList  map[string]map[string]bool
	FallbackPool           map[string]IdentAndReference
	IgnorePattern          *regexp.Regexp

	registry            map[string]map[string]pkg
	locatorsByLocations map[string]locatorByLocation
}

// Status reports the outcome of resolving one specifier against a
// manifest, mirroring the teacher's pnpStatus.
type Status uint8

const (
	StatusGenericError Status = iota
	StatusDependencyNotFound
	StatusUnfulfilledPeerDependency
	StatusSuccess
	StatusSkipped // not a PnP-managed import; fall back to classic node_modules resolution
)

func (s Status) IsError() bool { return s == StatusGenericError || s == StatusDependencyNotFound || s == StatusUnfulfilledPeerDependency }

// Result is the outcome of ResolveToUnqualified.
type Result struct {
	Status     Status
	PkgDirPath string
	PkgIdent   string
	PkgSubpath string
	ErrorIdent string
}

// Load parses a .pnp.data.json manifest already read off disk.
func Load(absPath, absDirPath string, raw jsonc.Value) *Manifest {
	m := &Manifest{AbsPath: absPath, AbsDirPath: absDirPath}

	if v, ok := raw.Get("enableTopLevelFallback"); ok && v.Kind == jsonc.KindBool {
		m.EnableTopLevelFallback = v.Bool
	}

	if v, ok := raw.Get("fallbackExclusionList"); ok && v.IsArray() {
		m.FallbackExclusionList = make(map[string]map[string]bool, len(v.Array))
		for _, tuple := range v.Array {
			if !tuple.IsArray() || len(tuple.Array) != 2 {
				continue
			}
			ident, ok := stringOrNull(tuple.Array[0])
			if !ok || !tuple.Array[1].IsArray() {
				continue
			}
			refs := make(map[string]bool, len(tuple.Array[1].Array))
			for _, r := range tuple.Array[1].Array {
				if r.IsString() {
					refs[r.Str] = true
				}
			}
			m.FallbackExclusionList[ident] = refs
		}
	}

	if v, ok := raw.Get("fallbackPool"); ok && v.IsArray() {
		m.FallbackPool = make(map[string]IdentAndReference, len(v.Array))
		for _, tuple := range v.Array {
			if !tuple.IsArray() || len(tuple.Array) != 2 {
				continue
			}
			ident, ok := stringOrNull(tuple.Array[0])
			if !ok {
				continue
			}
			if target, ok := dependencyTarget(tuple.Array[1]); ok {
				m.FallbackPool[ident] = target
			}
		}
	}

	if v, ok := raw.Get("ignorePatternData"); ok && v.IsString() {
		pattern := v.Str
		// Go's regexp engine (RE2) doesn't support the negative lookaheads
		// Yarn emits here to exclude "." / ".." path segments; this module
		// never generates such segments in the first place, so the
		// lookaheads are stripped rather than worked around.
		for _, lookahead := range []string{
			`(?!\.)`, `(?!(?:^|\/)\.)`, `(?!\.{1,2}(?:\/|$))`, `(?!(?:^|\/)\.{1,2}(?:\/|$))`,
		} {
			pattern = strings.ReplaceAll(pattern, lookahead, "")
		}
		if reg, err := regexp.Compile(pattern); err == nil {
			m.IgnorePattern = reg
		}
	}

	if v, ok := raw.Get("packageRegistryData"); ok && v.IsArray() {
		m.registry = make(map[string]map[string]pkg, len(v.Array))
		m.locatorsByLocations = make(map[string]locatorByLocation)

		for _, tuple := range v.Array {
			if !tuple.IsArray() || len(tuple.Array) != 2 {
				continue
			}
			packageIdent, ok := stringOrNull(tuple.Array[0])
			if !ok || !tuple.Array[1].IsArray() {
				continue
			}
			refs := make(map[string]pkg, len(tuple.Array[1].Array))
			m.registry[packageIdent] = refs

			for _, refTuple := range tuple.Array[1].Array {
				if !refTuple.IsArray() || len(refTuple.Array) != 2 {
					continue
				}
				packageReference, ok := stringOrNull(refTuple.Array[0])
				if !ok {
					continue
				}
				pkgObj := refTuple.Array[1]
				location, ok := pkgObj.Get("packageLocation")
				if !ok || !location.IsString() {
					continue
				}
				depsField, _ := pkgObj.Get("packageDependencies")
				deps := make(map[string]IdentAndReference)
				if depsField.IsArray() {
					for _, dep := range depsField.Array {
						if !dep.IsArray() || len(dep.Array) != 2 {
							continue
						}
						if !dep.Array[0].IsString() {
							continue
						}
						if target, ok := dependencyTarget(dep.Array[1]); ok {
							deps[dep.Array[0].Str] = target
						}
					}
				}
				discard := false
				if d, ok := pkgObj.Get("discardFromLookup"); ok && d.Kind == jsonc.KindBool {
					discard = d.Bool
				}

				refs[packageReference] = pkg{location: location.Str, dependencies: deps}

				locator := IdentAndReference{Ident: packageIdent, Reference: packageReference}
				if entry, ok := m.locatorsByLocations[location.Str]; !ok {
					m.locatorsByLocations[location.Str] = locatorByLocation{locator: locator, discardFromLookup: discard}
				} else {
					entry.discardFromLookup = entry.discardFromLookup && discard
					if !discard {
						entry.locator = locator
					}
					m.locatorsByLocations[location.Str] = entry
				}
			}
		}
	}

	return m
}

func stringOrNull(v jsonc.Value) (string, bool) {
	if v.IsNull() {
		return "", true
	}
	if v.IsString() {
		return v.Str, true
	}
	return "", false
}

func dependencyTarget(v jsonc.Value) (IdentAndReference, bool) {
	switch {
	case v.IsNull():
		return IdentAndReference{Null: true}, true
	case v.IsString():
		return IdentAndReference{Reference: v.Str}, true
	case v.IsArray() && len(v.Array) == 2:
		if v.Array[0].IsString() && v.Array[1].IsString() {
			return IdentAndReference{Ident: v.Array[0].Str, Reference: v.Array[1].Str}, true
		}
	}
	return IdentAndReference{}, false
}

// ParseBareIdentifier splits a specifier into a package ident (handling
// scoped "@scope/name" packages) and the remaining module path.
func ParseBareIdentifier(specifier string) (ident, modulePath string, ok bool) {
	slash := strings.IndexByte(specifier, '/')

	if strings.HasPrefix(specifier, "@") {
		if slash == -1 {
			return "", "", false
		}
		if slash2 := strings.IndexByte(specifier[slash+1:], '/'); slash2 != -1 {
			ident = specifier[:slash+1+slash2]
		} else {
			ident = specifier
		}
	} else if slash != -1 {
		ident = specifier[:slash]
	} else {
		ident = specifier
	}

	modulePath = specifier[len(ident):]
	return ident, modulePath, true
}

// ResolveToUnqualified implements RESOLVE_TO_UNQUALIFIED: given the
// manifest and the importing file's absolute path, finds the on-disk
// directory that should satisfy specifier. A successful result is always
// followed by ordinary node_modules-style file/directory resolution
// inside PkgDirPath + PkgSubpath (spec §4.10); StatusSkipped means the
// importer isn't PnP-managed at all and classic resolution should run
// unmodified.
func ResolveToUnqualified(fsys fs.FS, manifest *Manifest, specifier, parentAbsPath string) Result {
	ident, modulePath, ok := ParseBareIdentifier(specifier)
	if !ok {
		return Result{Status: StatusGenericError}
	}

	parentLocator, ok := findLocator(fsys, manifest, parentAbsPath)
	if !ok {
		return Result{Status: StatusSkipped}
	}

	parentPkg, ok := getPackage(manifest, parentLocator.Ident, parentLocator.Reference)
	if !ok {
		return Result{Status: StatusGenericError}
	}

	referenceOrAlias, ok := parentPkg.dependencies[ident]
	if !ok || referenceOrAlias.Null {
		if manifest.EnableTopLevelFallback {
			if excluded := manifest.FallbackExclusionList[parentLocator.Ident]; !excluded[parentLocator.Reference] {
				if fallback, fok := resolveViaFallback(manifest, ident); fok {
					referenceOrAlias = fallback
					ok = true
				}
			}
		}
	}

	if !ok {
		return Result{Status: StatusDependencyNotFound, ErrorIdent: ident}
	}
	if referenceOrAlias.Null {
		return Result{Status: StatusUnfulfilledPeerDependency, ErrorIdent: ident}
	}

	var dependencyPkg pkg
	if referenceOrAlias.Ident != "" {
		dependencyPkg, ok = getPackage(manifest, referenceOrAlias.Ident, referenceOrAlias.Reference)
	} else {
		dependencyPkg, ok = getPackage(manifest, ident, referenceOrAlias.Reference)
	}
	if !ok {
		return Result{Status: StatusGenericError}
	}

	return Result{
		Status:     StatusSuccess,
		PkgDirPath: fsys.Join(manifest.AbsDirPath, strings.TrimSuffix(dependencyPkg.location, "/")),
		PkgIdent:   ident,
		PkgSubpath: modulePath,
	}
}

func findLocator(fsys fs.FS, manifest *Manifest, moduleAbsPath string) (IdentAndReference, bool) {
	relativeURL, ok := fsys.Rel(manifest.AbsDirPath, moduleAbsPath)
	if !ok {
		return IdentAndReference{}, false
	}
	relativeURL = strings.ReplaceAll(relativeURL, "\\", "/")
	relativeURL = strings.TrimPrefix(relativeURL, "./")

	if manifest.IgnorePattern != nil && manifest.IgnorePattern.MatchString(relativeURL) {
		return IdentAndReference{}, false
	}

	if !strings.HasSuffix(relativeURL, "/") {
		relativeURL += "/"
	}
	if !strings.HasPrefix(relativeURL, "./") && !strings.HasPrefix(relativeURL, "../") {
		relativeURL = "./" + relativeURL
	}

	for {
		entry, ok := manifest.locatorsByLocations[relativeURL]
		if !ok || entry.discardFromLookup {
			cut := strings.LastIndexByte(relativeURL[:len(relativeURL)-1], '/')
			if cut < 0 {
				return IdentAndReference{}, false
			}
			relativeURL = relativeURL[:cut+1]
			continue
		}
		return entry.locator, true
	}
}

func resolveViaFallback(manifest *Manifest, ident string) (IdentAndReference, bool) {
	topLevelPkg, ok := getPackage(manifest, "", "")
	if !ok {
		return IdentAndReference{}, false
	}
	if referenceOrAlias, ok := topLevelPkg.dependencies[ident]; ok {
		return referenceOrAlias, true
	}
	referenceOrAlias, ok := manifest.FallbackPool[ident]
	return referenceOrAlias, ok
}

func getPackage(manifest *Manifest, ident, reference string) (pkg, bool) {
	if inner, ok := manifest.registry[ident]; ok {
		if p, ok := inner[reference]; ok {
			return p, true
		}
	}
	return pkg{}, false
}
