// Package tsconfig implements the tsconfig.json engine (spec §4.5,
// component C6): parsing compilerOptions, materializing the "extends"
// chain with cycle detection, substituting "${configDir}", matching
// "paths" entries by specificity, and enumerating/lazily loading
// "references". Grounded on the teacher's
// evanw-esbuild/internal/resolver/tsconfig_json.go (ParseTSConfigJSON,
// isValidTSConfigPathPattern, the paths-map shape), generalized to also
// cover "references" and "${configDir}", which esbuild's own tsconfig
// reader — built only to feed esbuild's own transform, not as a full
// module resolver's config source — never needed.
package tsconfig

import (
	"sort"
	"strings"

	"github.com/resolvekit/resolvekit/internal/fs"
	"github.com/resolvekit/resolvekit/internal/jsonc"
	"github.com/resolvekit/resolvekit/internal/pkgcache"
)

// SelfReferenceError is raised when a tsconfig's "extends" chain cycles
// back on a file already visited (spec §4.5: ResolveError::TsconfigSelfReference).
type SelfReferenceError struct{ Path string }

func (e *SelfReferenceError) Error() string { return "tsconfig.json self-reference: " + e.Path }

// ExtendsResolver turns one entry of an "extends" field into the absolute
// path of the tsconfig.json file it names. The real resolution involves
// the full module resolution pipeline (spec §4.5: "resolved as a module
// specifier... the resolver is the same resolver, recursively") — but
// invoking that pipeline from here would deadlock it, since tsconfig
// loading happens underneath the pipeline's own directory-cache
// population (the same reentrancy hazard the teacher's comment in
// tsconfig_json.go calls out about its own simplified "extends" handling).
// The root package supplies a non-reentrant implementation at
// construction time (see resolver.go's newExtendsResolver).
type ExtendsResolver func(fromDir, specifier string) (absPath string, err error)

// Loader parses tsconfig.json files for one Cache, materializing "extends"
// chains as it goes.
type Loader struct {
	cache   *pkgcache.Cache
	fsys    fs.FS
	resolve ExtendsResolver
}

func NewLoader(cache *pkgcache.Cache, fsys fs.FS, resolve ExtendsResolver) *Loader {
	return &Loader{cache: cache, fsys: fsys, resolve: resolve}
}

// Reference lazily loads and fully materializes (its own "extends" chain
// merged in) the i'th entry of tc.References — spec §4.5: "References are
// resolved recursively but lazily," so a tsconfig with ten references that
// a caller never inspects never parses any of the ten. Index out of range
// reports (nil, nil), matching TsConfig()'s "absent" contract rather than
// an error.
func (l *Loader) Reference(tc *pkgcache.TsConfig, i int) (*pkgcache.TsConfig, error) {
	if tc == nil || i < 0 || i >= len(tc.References) {
		return nil, nil
	}
	absPath := tc.References[i]
	if !l.fsys.IsAbs(absPath) {
		absPath = l.fsys.Join(dirOf(tc.Path), absPath)
	}
	if entries, err := l.cache.Value(absPath).Entries(); err == nil {
		if entry, _ := entries.Get("tsconfig.json"); entry != nil {
			absPath = l.fsys.Join(absPath, "tsconfig.json")
		}
	}
	return pkgcache.LoadTsConfigFile(l.cache, absPath)
}

// AsParseTsConfig adapts l.Parse to the pkgcache.ParseTsConfig signature
// pkgcache.New expects.
func (l *Loader) AsParseTsConfig() pkgcache.ParseTsConfig {
	return func(cache *pkgcache.Cache, path string, raw jsonc.Value, visited map[string]bool) (*pkgcache.TsConfig, error) {
		return l.parse(path, raw, visited)
	}
}

func (l *Loader) parse(path string, raw jsonc.Value, visited map[string]bool) (*pkgcache.TsConfig, error) {
	configDir := l.cache.Value(dirOf(path)).Path
	result := &pkgcache.TsConfig{Path: path, Raw: raw}

	if extendsValue, ok := raw.Get("extends"); ok {
		specs := extendsSpecifiers(extendsValue)
		for _, spec := range specs {
			base, err := l.loadExtends(path, spec, visited)
			if err != nil {
				return nil, err
			}
			if base != nil {
				mergeInto(result, base)
			}
		}
	}

	if co, ok := raw.Get("compilerOptions"); ok {
		applyCompilerOptions(result, co, configDir)
	}

	if refs, ok := raw.Get("references"); ok {
		if refs.IsString() && refs.Str == "auto" {
			result.References = l.enumerateReferences(configDir)
		} else {
			result.References = referencesPaths(refs)
		}
	}

	substituteConfigDir(result, configDir)
	if result.PathsAbsBaseURL != "" && !l.fsys.IsAbs(result.PathsAbsBaseURL) {
		result.PathsAbsBaseURL = l.fsys.Join(configDir, result.PathsAbsBaseURL)
	}
	return result, nil
}

func dirOf(path string) string {
	i := strings.LastIndexAny(path, "/\\")
	if i < 0 {
		return "."
	}
	return path[:i]
}

func extendsSpecifiers(v jsonc.Value) []string {
	switch v.Kind {
	case jsonc.KindString:
		return []string{v.Str}
	case jsonc.KindArray:
		var out []string
		for _, item := range v.Array {
			if item.IsString() {
				out = append(out, item.Str)
			}
		}
		return out
	default:
		return nil
	}
}

func (l *Loader) loadExtends(fromPath, spec string, visited map[string]bool) (*pkgcache.TsConfig, error) {
	absPath, err := l.resolve(dirOf(fromPath), spec)
	if err != nil {
		return nil, err
	}
	if visited[absPath] {
		return nil, &SelfReferenceError{Path: absPath}
	}
	visited[absPath] = true
	defer delete(visited, absPath)

	// Read and parse directly rather than through pkgcache.LoadTsConfigFile,
	// which starts a fresh visited set per call — correct for a top-level
	// lookup, but it would lose the ancestor chain needed to catch a cycle
	// that closes several "extends" hops later.
	contents, err := l.cache.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	raw, err := jsonc.Parse(contents, jsonc.Options{Path: absPath, AllowTrailingComma: true})
	if err != nil {
		return nil, err
	}
	return l.parse(absPath, raw, visited)
}

// mergeInto layers extended (the extending file's own fields, parsed
// first into result by the caller's subsequent applyCompilerOptions call)
// over base: fields already set in result take precedence, everything
// base has and result doesn't gets copied in. "paths" fully replaces
// rather than merges (spec §4.5): if the extending config later sets
// paths, applyCompilerOptions overwrites result.Paths outright, so copying
// base.Paths here first is exactly right — a later paths wins, absent one
// inherits whole.
func mergeInto(result, base *pkgcache.TsConfig) {
	if result.BaseURL == "" {
		result.BaseURL = base.BaseURL
	}
	if result.Paths == nil {
		result.Paths = base.Paths
		result.PathsAbsBaseURL = base.PathsAbsBaseURL
	}
	if result.Module == "" {
		result.Module = base.Module
	}
	if result.Target == "" {
		result.Target = base.Target
	}
	if result.JSX == "" {
		result.JSX = base.JSX
	}
	if !result.AllowJs {
		result.AllowJs = base.AllowJs
	}
	if len(result.References) == 0 {
		result.References = base.References
	}
}

func applyCompilerOptions(result *pkgcache.TsConfig, co jsonc.Value, configDir string) {
	if v, ok := co.Get("baseUrl"); ok && v.IsString() {
		result.BaseURL = v.Str
	}
	if v, ok := co.Get("module"); ok && v.IsString() {
		result.Module = v.Str
	}
	if v, ok := co.Get("target"); ok && v.IsString() {
		result.Target = v.Str
	}
	if v, ok := co.Get("jsx"); ok && v.IsString() {
		result.JSX = v.Str
	}
	if v, ok := co.Get("allowJs"); ok && v.Kind == jsonc.KindBool {
		result.AllowJs = v.Bool
	}

	if v, ok := co.Get("paths"); ok && v.IsObject() {
		baseURLForPaths := result.BaseURL
		if baseURLForPaths == "" {
			baseURLForPaths = "."
		}
		paths := make(map[string][]string, len(v.Object))
		for _, m := range v.Object {
			if !isValidPathPattern(m.Key) {
				continue
			}
			if !m.Value.IsArray() {
				continue
			}
			for _, item := range m.Value.Array {
				if item.IsString() && isValidPathPattern(item.Str) {
					paths[m.Key] = append(paths[m.Key], item.Str)
				}
			}
		}
		// "paths" fully replaces the base's, per spec §4.5.
		result.Paths = paths
		result.PathsAbsBaseURL = baseURLForPaths
	}
}

func isValidPathPattern(text string) bool {
	seenAsterisk := false
	for i := 0; i < len(text); i++ {
		if text[i] == '*' {
			if seenAsterisk {
				return false
			}
			seenAsterisk = true
		}
	}
	return true
}

// enumerateReferences implements spec §4.5's "auto": the engine walks
// configDir's immediate subdirectories and treats each one that itself
// contains a tsconfig.json as a referenced project. Listing a directory is
// cheap and happens eagerly here; parsing what's found stays lazy — the
// entries returned are directory names, materialized into a TsConfig only
// when Loader.Reference is actually called for that index.
func (l *Loader) enumerateReferences(configDir string) []string {
	entries, err := l.cache.Value(configDir).Entries()
	if err != nil {
		return nil
	}
	var out []string
	for _, name := range entries.SortedKeys() {
		entry, _ := entries.Get(name)
		if entry == nil || entry.Kind(l.fsys) != fs.DirEntry {
			continue
		}
		sub := l.fsys.Join(configDir, name)
		subEntries, err := l.cache.Value(sub).Entries()
		if err != nil {
			continue
		}
		if tsEntry, _ := subEntries.Get("tsconfig.json"); tsEntry != nil {
			out = append(out, name)
		}
	}
	return out
}

func referencesPaths(v jsonc.Value) []string {
	if !v.IsArray() {
		return nil
	}
	var out []string
	for _, item := range v.Array {
		if item.IsObject() {
			if p, ok := item.Get("path"); ok && p.IsString() {
				out = append(out, p.Str)
			}
		} else if item.IsString() {
			out = append(out, item.Str)
		}
	}
	return out
}

// substituteConfigDir replaces the literal token "${configDir}" in BaseURL
// and every paths RHS with configDir, per spec §4.5.
func substituteConfigDir(result *pkgcache.TsConfig, configDir string) {
	const token = "${configDir}"
	if strings.Contains(result.BaseURL, token) {
		result.BaseURL = strings.ReplaceAll(result.BaseURL, token, configDir)
	}
	if strings.Contains(result.PathsAbsBaseURL, token) {
		result.PathsAbsBaseURL = strings.ReplaceAll(result.PathsAbsBaseURL, token, configDir)
	}
	if result.Paths != nil {
		for key, vals := range result.Paths {
			changed := false
			newVals := make([]string, len(vals))
			for i, v := range vals {
				if strings.Contains(v, token) {
					newVals[i] = strings.ReplaceAll(v, token, configDir)
					changed = true
				} else {
					newVals[i] = v
				}
			}
			if changed {
				result.Paths[key] = newVals
			}
		}
	}
}

// Match finds the candidate substitution paths for a module specifier
// against a "paths" table, in the priority order spec §4.5 describes:
// exact (no-wildcard) entries first, then wildcard entries ordered by
// longest fixed prefix (ties by longest fixed suffix). The returned
// strings are the substitution patterns with "*" still present for exact
// (no-wildcard) substitutions or replaced by the captured text for
// wildcard ones — ready to be joined with PathsAbsBaseURL and tried
// through the normal pipeline.
func Match(paths map[string][]string, specifier string) []string {
	type candidate struct {
		key       string
		substs    []string
		matchText string
	}
	var exact []candidate
	var wildcard []candidate

	for key, substs := range paths {
		star := strings.IndexByte(key, '*')
		if star == -1 {
			if key == specifier {
				exact = append(exact, candidate{key: key, substs: substs})
			}
			continue
		}
		prefix, suffix := key[:star], key[star+1:]
		if !strings.HasPrefix(specifier, prefix) || !strings.HasSuffix(specifier, suffix) {
			continue
		}
		if len(specifier) < len(prefix)+len(suffix) {
			continue
		}
		matched := specifier[len(prefix) : len(specifier)-len(suffix)]
		wildcard = append(wildcard, candidate{key: key, substs: substs, matchText: matched})
	}

	sort.SliceStable(wildcard, func(i, j int) bool {
		pi, si := splitPattern(wildcard[i].key)
		pj, sj := splitPattern(wildcard[j].key)
		if len(pi) != len(pj) {
			return len(pi) > len(pj)
		}
		return len(si) > len(sj)
	})

	var results []string
	for _, c := range exact {
		results = append(results, c.substs...)
	}
	for _, c := range wildcard {
		for _, subst := range c.substs {
			results = append(results, strings.Replace(subst, "*", c.matchText, 1))
		}
	}
	return results
}

func splitPattern(key string) (prefix, suffix string) {
	star := strings.IndexByte(key, '*')
	if star == -1 {
		return key, ""
	}
	return key[:star], key[star+1:]
}
