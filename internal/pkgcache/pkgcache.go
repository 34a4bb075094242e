// Package pkgcache is the generational, concurrency-safe path cache (spec
// §4.4, component C5): an interned directory tree with memoized
// package.json/tsconfig.json lookups. Grounded on the teacher's dirInfo /
// dirCache / dirInfoUncached / dirInfoCached in
// evanw-esbuild/internal/resolver/resolver.go, restructured around an
// explicit generation so Clear() can swap the whole tree out atomically
// without taking a lock any in-flight resolution is waiting on (spec's
// "Clear: swaps the active generation atomically; never blocks in-flight
// resolutions").
package pkgcache

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/resolvekit/resolvekit/internal/fs"
	"github.com/resolvekit/resolvekit/internal/jsonc"
)

// CycleError is returned by Handle.Canonicalize when a chain of symlinks
// loops back on itself (spec §4.4: "A cycle of symlinks terminates with
// ResolveError::IOError" — the root package wraps this into that kind).
type CycleError struct{ Path string }

func (e *CycleError) Error() string { return "symlink cycle detected at " + e.Path }

// PackageJSON is the parsed form of one package.json: the fields resolvekit
// cares about plus the raw DOM. It is built by the Cache's ParsePackageJSON
// function (DefaultParsePackageJSON unless another is supplied).
type PackageJSON struct {
	Dir         string // directory containing package.json
	RealDir     string // Dir with all symlink segments resolved
	Name        string
	Type        string // "commonjs", "module", or "" (unset)
	Main        string
	Module      string
	Browser     jsonc.Value // string or object form, raw
	Exports     jsonc.Value
	HasExports  bool // distinguishes an absent "exports" field from an explicit null, which blocks encapsulation
	Imports     jsonc.Value
	HasImports  bool
	SideEffects SideEffects
	Raw         jsonc.Value
}

// SideEffectsKind classifies a package.json "sideEffects" field.
type SideEffectsKind uint8

const (
	SideEffectsUnspecified SideEffectsKind = iota // field absent: treat as all-effects
	SideEffectsAll
	SideEffectsNone
	SideEffectsGlobs
)

type SideEffects struct {
	Kind  SideEffectsKind
	Globs []string // raw glob patterns, unresolved (internal/rewrite matches them)
}

// TsConfig is the materialized result of parsing one tsconfig.json,
// already merged through its full "extends" chain (component C6 fills in
// the merge; pkgcache only stores the result and the cycle-detection visit
// set used while building it).
type TsConfig struct {
	Path            string
	BaseURL         string
	Paths           map[string][]string
	PathsAbsBaseURL string // resolved baseURL used to interpret Paths
	Module          string
	Target          string
	JSX             string
	AllowJs         bool
	References      []string
	Raw             jsonc.Value
}

// Handle is the interned, immutable (after construction) reference to one
// path — spec's PathHandle. Metadata slots are lazy and memoized once.
type Handle struct {
	cache  *Cache
	gen    *generation
	Path   string
	Hash   uint64
	Parent *Handle

	IsNodeModules       bool
	InsideNodeModules   bool

	entriesOnce sync.Once
	entries     fs.DirEntries
	entriesErr  error

	pkgJSONOnce sync.Once
	pkgJSON     *PackageJSON
	pkgJSONErr  error

	enclosingPkgOnce sync.Once
	enclosingPkg     *PackageJSON

	tsConfigOnce sync.Once
	tsConfig     *TsConfig
	tsConfigErr  error

	canonOnce   sync.Once
	canonHandle *Handle
	canonErr    error
}

// ParsePackageJSON converts a package.json's raw DOM into a PackageJSON.
// Exposed so the Cache can be constructed with a different parser for
// tests without internal/exports needing to depend on pkgcache.
type ParsePackageJSON func(dir, realDir string, raw jsonc.Value) *PackageJSON

// ParseTsConfig parses and fully materializes one tsconfig.json (its
// "extends" chain already merged in) given the Cache, the raw DOM of the
// file at path, and the set of config paths already visited on the current
// "extends" chain.
type ParseTsConfig func(cache *Cache, path string, raw jsonc.Value, visited map[string]bool) (*TsConfig, error)

// Cache owns one generation of interned Handles plus the filesystem and
// parsers used to populate them.
type Cache struct {
	fsys           fs.FS
	parsePackage   ParsePackageJSON
	parseTsConfig  ParseTsConfig
	gen            atomic.Pointer[generation]
	sf             singleflight.Group
}

type generation struct {
	id     string
	byPath sync.Map // path string -> *Handle
}

func newGeneration() *generation {
	return &generation{id: uuid.NewString()}
}

// New constructs a Cache. parsePackage/parseTsConfig may be nil; in that
// case PackageJSON()/TsConfig() always report "not found" for handles that
// would otherwise have one, which is useful for tests that only exercise
// the directory-tree/canonicalize machinery.
func New(fsys fs.FS, parsePackage ParsePackageJSON, parseTsConfig ParseTsConfig) *Cache {
	c := &Cache{fsys: fsys, parsePackage: parsePackage, parseTsConfig: parseTsConfig}
	c.gen.Store(newGeneration())
	return c
}

// ReadFile reads a file through the cache's filesystem. Exposed so
// internal/tsconfig can read an "extends" target directly while carrying
// its own cycle-detecting visited set through the recursion, instead of
// going through LoadTsConfigFile (which starts a fresh visited set per
// call — correct for a top-level lookup, wrong for a chain link).
func (c *Cache) ReadFile(path string) (string, error) {
	return c.fsys.ReadFile(path)
}

// SetParseTsConfig wires the tsconfig parser after construction. This
// two-step wiring (New, then SetParseTsConfig) exists because
// internal/tsconfig.Loader needs a *Cache to build its ExtendsResolver
// closure, and the Cache needs the Loader's parse function — a
// constructor cycle broken by making the setter a separate call.
func (c *Cache) SetParseTsConfig(fn ParseTsConfig) {
	c.parseTsConfig = fn
}

// Clear swaps in a fresh, empty generation. In-flight Handles from the
// previous generation remain valid (their memoized slots are untouched);
// new Value() calls populate the new generation from scratch.
func (c *Cache) Clear() {
	c.gen.Store(newGeneration())
}

func hashPath(path string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(path))
	return h.Sum64()
}

// Value returns the interned Handle for path, creating it (and its full
// parent chain) if this is the first request in the current generation.
// Concurrent callers requesting the same path in the same generation
// converge on one Handle: the fast path is a lock-free sync.Map load: on
// miss, a singleflight.Group collapses concurrent creators down to one
// (spec §4.4: "lock-free on hit, and serializes only the append of a new
// node on miss").
func (c *Cache) Value(path string) *Handle {
	gen := c.gen.Load()
	if v, ok := gen.byPath.Load(path); ok {
		return v.(*Handle)
	}

	v, _, _ := c.sf.Do("handle:"+gen.id+":"+path, func() (interface{}, error) {
		if v, ok := gen.byPath.Load(path); ok {
			return v.(*Handle), nil
		}
		h := c.buildHandle(gen, path)
		gen.byPath.Store(path, h)
		return h, nil
	})
	return v.(*Handle)
}

func (c *Cache) buildHandle(gen *generation, path string) *Handle {
	base := c.fsys.Base(path)
	parentPath := c.fsys.Dir(path)

	var parent *Handle
	if parentPath != path {
		parent = c.Value(parentPath)
	}

	isNodeModules := base == "node_modules"
	insideNodeModules := isNodeModules || (parent != nil && parent.InsideNodeModules)

	return &Handle{
		cache:             c,
		gen:               gen,
		Path:              path,
		Hash:              hashPath(path),
		Parent:            parent,
		IsNodeModules:     isNodeModules,
		InsideNodeModules: insideNodeModules,
	}
}

// Entries lists h's directory, memoized for the lifetime of the
// generation.
func (h *Handle) Entries() (fs.DirEntries, error) {
	h.entriesOnce.Do(func() {
		h.entries, h.entriesErr = h.cache.fsys.ReadDir(h.Path)
	})
	return h.entries, h.entriesErr
}

// PackageJSON returns the package.json parsed from this exact directory,
// or (nil, nil) if this directory has none.
func (h *Handle) PackageJSON() (*PackageJSON, error) {
	h.pkgJSONOnce.Do(func() {
		h.pkgJSON, h.pkgJSONErr = h.loadPackageJSON()
	})
	return h.pkgJSON, h.pkgJSONErr
}

func (h *Handle) loadPackageJSON() (*PackageJSON, error) {
	if h.cache.parsePackage == nil {
		return nil, nil
	}
	entries, err := h.Entries()
	if err != nil {
		if fs.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	entry, _ := entries.Get("package.json")
	if entry == nil {
		return nil, nil
	}

	filePath := h.cache.fsys.Join(h.Path, "package.json")
	v, _, err := h.cache.sf.Do("pkgjson:"+filePath, func() (interface{}, error) {
		contents, err := h.cache.fsys.ReadFile(filePath)
		if err != nil {
			return nil, err
		}
		raw, err := jsonc.Parse(contents, jsonc.Options{Path: filePath})
		if err != nil {
			return nil, err
		}
		realDir := h.Path
		if canon, err := h.Canonicalize(); err == nil {
			realDir = canon.Path
		}
		return h.cache.parsePackage(h.Path, realDir, raw), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*PackageJSON), nil
}

// EnclosingPackageJSON walks upward (not crossing into a sibling
// node_modules tree at the same level, per spec §4.4) to find the closest
// package.json at or above h.
func (h *Handle) EnclosingPackageJSON() (*PackageJSON, error) {
	var err error
	h.enclosingPkgOnce.Do(func() {
		h.enclosingPkg, err = h.findEnclosingPackageJSON()
	})
	return h.enclosingPkg, err
}

func (h *Handle) findEnclosingPackageJSON() (*PackageJSON, error) {
	for cur := h; cur != nil; cur = cur.Parent {
		pkg, err := cur.PackageJSON()
		if err != nil {
			return nil, err
		}
		if pkg != nil {
			return pkg, nil
		}
	}
	return nil, nil
}

// TsConfig returns the tsconfig.json at this exact directory, fully
// materialized (its "extends" chain merged in), or (nil, nil) if absent.
func (h *Handle) TsConfig() (*TsConfig, error) {
	h.tsConfigOnce.Do(func() {
		h.tsConfig, h.tsConfigErr = h.loadTsConfig()
	})
	return h.tsConfig, h.tsConfigErr
}

func (h *Handle) loadTsConfig() (*TsConfig, error) {
	if h.cache.parseTsConfig == nil {
		return nil, nil
	}
	entries, err := h.Entries()
	if err != nil {
		if fs.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	entry, _ := entries.Get("tsconfig.json")
	if entry == nil {
		return nil, nil
	}
	filePath := h.cache.fsys.Join(h.Path, "tsconfig.json")
	return LoadTsConfigFile(h.cache, filePath)
}

// LoadTsConfigFile loads and fully materializes the tsconfig.json at an
// arbitrary path (not necessarily a directory's own file — used both by
// Handle.TsConfig and by the "extends" chain resolver in internal/tsconfig,
// and by Resolver.ResolveTsconfig for an explicit path argument). Dedups
// concurrent loads of the same file via the cache's singleflight group.
func LoadTsConfigFile(cache *Cache, filePath string) (*TsConfig, error) {
	v, err, _ := cache.sf.Do("tsconfig:"+filePath, func() (interface{}, error) {
		contents, err := cache.fsys.ReadFile(filePath)
		if err != nil {
			return nil, err
		}
		raw, err := jsonc.Parse(contents, jsonc.Options{Path: filePath, AllowTrailingComma: true})
		if err != nil {
			return nil, err
		}
		return cache.parseTsConfig(cache, filePath, raw, map[string]bool{filePath: true})
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*TsConfig), nil
}

// Canonicalize resolves every symlink segment in h.Path, memoized per
// handle. The walk is piecewise and lazy — each path prefix is checked
// with Readlink only once, and a prefix seen twice within one walk means a
// symlink cycle (spec §4.4).
func (h *Handle) Canonicalize() (*Handle, error) {
	h.canonOnce.Do(func() {
		real, err := canonicalizeSegments(h.cache.fsys, h.Path)
		if err != nil {
			h.canonErr = err
			return
		}
		if real == h.Path {
			h.canonHandle = h
			return
		}
		h.canonHandle = h.cache.Value(real)
	})
	return h.canonHandle, h.canonErr
}

// canonicalizeSegments resolves symlinks prefix-by-prefix from the
// filesystem root down to path, without recursing through Handle.
// Canonicalize (which would deadlock a sync.Once on a direct self-loop):
// a prefix already visited in this single walk means a cycle.
func canonicalizeSegments(fsys fs.FS, path string) (string, error) {
	prefixes := pathPrefixes(fsys, path)
	visited := make(map[string]bool, len(prefixes))

	current := prefixes[0]
	for _, p := range prefixes[1:] {
		base := fsys.Base(p)
		candidate := fsys.Join(current, base)

		for {
			if visited[candidate] {
				return "", &CycleError{Path: candidate}
			}
			visited[candidate] = true

			target, err := fsys.Readlink(candidate)
			if err != nil {
				// Not a symlink (or unreadable) — keep the segment as-is and
				// move on; a genuine missing-file error surfaces later when
				// the caller actually tries to stat/read this path.
				break
			}
			if !fsys.IsAbs(target) {
				target = fsys.Join(fsys.Dir(candidate), target)
			}
			candidate = target
		}

		current = candidate
	}

	return current, nil
}

// DefaultParsePackageJSON extracts the fields resolvekit's pipeline reads
// directly out of package.json (spec §3.1's PackageJson entity). It is the
// ParsePackageJSON resolvekit wires into pkgcache.New by default; a caller
// embedding this package for something narrower can supply its own.
func DefaultParsePackageJSON(dir, realDir string, raw jsonc.Value) *PackageJSON {
	pkg := &PackageJSON{Dir: dir, RealDir: realDir, Raw: raw, SideEffects: SideEffects{Kind: SideEffectsUnspecified}}

	if v, ok := raw.Get("name"); ok && v.IsString() {
		pkg.Name = v.Str
	}
	if v, ok := raw.Get("type"); ok && v.IsString() {
		pkg.Type = v.Str
	}
	if v, ok := raw.Get("main"); ok && v.IsString() {
		pkg.Main = v.Str
	}
	if v, ok := raw.Get("module"); ok && v.IsString() {
		pkg.Module = v.Str
	}
	if v, ok := raw.Get("browser"); ok {
		pkg.Browser = v
	}
	if v, ok := raw.Get("exports"); ok {
		pkg.Exports = v
		pkg.HasExports = true
	}
	if v, ok := raw.Get("imports"); ok {
		pkg.Imports = v
		pkg.HasImports = true
	}
	if v, ok := raw.Get("sideEffects"); ok {
		switch v.Kind {
		case jsonc.KindBool:
			if v.Bool {
				pkg.SideEffects = SideEffects{Kind: SideEffectsAll}
			} else {
				pkg.SideEffects = SideEffects{Kind: SideEffectsNone}
			}
		case jsonc.KindArray:
			globs := make([]string, 0, len(v.Array))
			for _, item := range v.Array {
				if item.IsString() {
					globs = append(globs, item.Str)
				}
			}
			pkg.SideEffects = SideEffects{Kind: SideEffectsGlobs, Globs: globs}
		}
	}

	return pkg
}

// pathPrefixes returns path and each of its ancestors, ordered from the
// filesystem root down to path itself.
func pathPrefixes(fsys fs.FS, path string) []string {
	var stack []string
	cur := path
	for {
		stack = append(stack, cur)
		parent := fsys.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	for i, j := 0, len(stack)-1; i < j; i, j = i+1, j-1 {
		stack[i], stack[j] = stack[j], stack[i]
	}
	return stack
}
