package resolve

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/resolvekit/resolvekit/internal/exports"
	"github.com/resolvekit/resolvekit/internal/fs"
	"github.com/resolvekit/resolvekit/internal/jsonc"
	"github.com/resolvekit/resolvekit/internal/pkgcache"
	"github.com/resolvekit/resolvekit/internal/pnp"
	"github.com/resolvekit/resolvekit/internal/rewrite"
	"github.com/resolvekit/resolvekit/internal/rlog"
	"github.com/resolvekit/resolvekit/internal/specifier"
	"github.com/resolvekit/resolvekit/internal/tsconfig"
)

// Resolution is the outcome of a successful Resolve call (spec §3.1).
type Resolution struct {
	Path     string
	Query    string
	Fragment string

	// PackageJSON is the nearest enclosing package.json, or nil if none was
	// found (e.g. a project with no package.json at all).
	PackageJSON *pkgcache.PackageJSON
	ModuleType  ModuleType

	// Ignored reports that the matched Alias/Fallback/browser-field entry
	// disabled this module outright (an empty Targets list, or a browser
	// field value of "false"); Path is empty in that case.
	Ignored bool

	// PrimarySideEffects reports whether Path counts as having side effects
	// per its enclosing package.json's "sideEffects" field (spec §4.7), so
	// a bundler-style caller can tree-shake an import whose target doesn't.
	// true when there's no enclosing package.json, or it has none declared.
	PrimarySideEffects bool

	// DifferentCase is set when the resolved file was found only under a
	// different-case name than requested on what looks like a
	// case-insensitive filesystem (spec's portability diagnostic).
	DifferentCase *fs.DifferentCase

	// FileDependencies/MissingDependencies are every path this resolve
	// touched, for a caller's own file watcher (spec §3.1).
	FileDependencies    []string
	MissingDependencies []string
}

// Resolver is the top-level entry point (spec §4.1, components C9/C10): a
// Node.js-compatible module resolution pipeline with tsconfig paths,
// package.json exports/imports, browser-field and alias rewriting, and
// Yarn PnP layered on top. Grounded on the teacher's
// evanw-esbuild/internal/resolver.Resolver, restructured around the
// narrower Resolution entity this module resolves to instead of esbuild's
// bundler-internal PathPair.
type Resolver struct {
	opts Options
	fsys fs.FS

	cache *pkgcache.Cache
	tscfg *tsconfig.Loader

	pnpMu    sync.Mutex
	pnpByDir map[string]*pnp.Manifest
}

// New constructs a Resolver. opts.FS defaults to the real filesystem
// wrapper if nil.
func New(opts Options) (*Resolver, error) {
	o := opts.withDefaults()
	if o.FS == nil {
		realFS, err := fs.Real(fs.RealOptions{})
		if err != nil {
			return nil, wrapIOError("", "", err)
		}
		o.FS = realFS
	}

	r := &Resolver{
		opts:     o,
		fsys:     o.FS,
		pnpByDir: make(map[string]*pnp.Manifest),
	}
	r.cache = pkgcache.New(o.FS, pkgcache.DefaultParsePackageJSON, nil)
	r.tscfg = tsconfig.NewLoader(r.cache, o.FS, r.newExtendsResolver())
	r.cache.SetParseTsConfig(r.tscfg.AsParseTsConfig())
	return r, nil
}

// CloneWithOptions returns a Resolver that shares this one's directory
// cache generation (spec §6: "Clone: same cache, different Options") but
// resolves under a different Options value — e.g. a different condition
// set for a conditional import, without re-walking the filesystem.
func (r *Resolver) CloneWithOptions(opts Options) (*Resolver, error) {
	o := opts.withDefaults()
	if o.FS == nil {
		o.FS = r.fsys
	}
	clone := &Resolver{
		opts:     o,
		fsys:     o.FS,
		cache:    r.cache,
		tscfg:    r.tscfg,
		pnpByDir: r.pnpByDir,
	}
	return clone, nil
}

// ClearCache discards every cached directory/package.json/tsconfig.json
// entry (spec §4.4's Clear), for a caller whose own file watcher observed
// a change anywhere under the resolved tree. Safe to call concurrently
// with in-flight Resolve calls (testable invariant 6).
func (r *Resolver) ClearCache() {
	r.cache.Clear()
	r.pnpMu.Lock()
	r.pnpByDir = make(map[string]*pnp.Manifest)
	r.pnpMu.Unlock()
}

// newExtendsResolver builds the ExtendsResolver internal/tsconfig needs to
// chase a tsconfig.json "extends" specifier to an absolute path. It is
// deliberately a narrower, separately constructed Resolver rather than a
// closure back into r.Resolve: the Loader this resolver feeds is still in
// the middle of populating r.cache's tsconfig slot for the very directory
// an "extends" lookup would walk through, and reentering r.Resolve here
// would deadlock on that slot's sync.Once (see tsconfig.ExtendsResolver's
// doc comment).
func (r *Resolver) newExtendsResolver() tsconfig.ExtendsResolver {
	sub := &Resolver{
		opts: Options{
			FS:             r.fsys,
			ConditionNames: []string{"node", "import"},
			Extensions:     []string{".json", ""},
			RecursionLimit: 64,
		}.withDefaults(),
		fsys:     r.fsys,
		cache:    r.cache,
		pnpByDir: r.pnpByDir,
	}
	return func(fromDir, spec string) (string, error) {
		res, err := sub.Resolve(fromDir, spec)
		if err != nil {
			return "", err
		}
		return res.Path, nil
	}
}

// Resolve implements spec §4.8's 8-step resolve(dir, specifier) algorithm:
// parse the specifier once (query/fragment are attached to the result at
// the very end, never during recursion), apply roots/alias/tsconfig-paths,
// branch on specifier class, apply a fallback once on failure, check
// restrictions, and compute the final module type.
func (r *Resolver) Resolve(dir, rawSpecifier string) (Resolution, error) {
	res, _, err := r.resolveWithLog(dir, rawSpecifier)
	return res, err
}

// ResolveVerbose is Resolve plus the accumulated trace log (spec §4.9's
// debug-level tracing), for a caller that wants to show its work.
func (r *Resolver) ResolveVerbose(dir, rawSpecifier string) (Resolution, *rlog.Log, error) {
	return r.resolveWithLog(dir, rawSpecifier)
}

func (r *Resolver) resolveWithLog(dir, rawSpecifier string) (Resolution, *rlog.Log, error) {
	q := newQuery(r)
	spec, err := specifier.Parse(rawSpecifier, r.opts.Windows)
	if err != nil {
		return Resolution{}, q.log, &ResolveError{Kind: KindSpecifier, Dir: dir, Specifier: rawSpecifier, Message: err.Error()}
	}

	path, ignored, rerr := q.resolveClassified(dir, spec)
	if rerr != nil {
		re := toResolveError(rerr)
		re.FileDependencies = sortedKeys(q.fileDeps)
		re.MissingDependencies = sortedKeys(q.missingDeps)
		return Resolution{}, q.log, re
	}

	var diffCase *fs.DifferentCase
	if !ignored {
		diffCase = q.differentCase[path]
		if cerr := q.checkRestrictions(path); cerr != nil {
			re := toResolveError(cerr)
			re.FileDependencies = sortedKeys(q.fileDeps)
			re.MissingDependencies = sortedKeys(q.missingDeps)
			return Resolution{}, q.log, re
		}
		if r.opts.Symlinks {
			if canon, cerr := q.canonicalizePath(path); cerr == nil {
				path = canon
			}
		}
	}

	var pkg *pkgcache.PackageJSON
	var mt ModuleType
	sideEffects := true
	if !ignored {
		h := r.cache.Value(r.fsys.Dir(path))
		pkg, _ = h.EnclosingPackageJSON()
		mt = q.moduleType(path, pkg)
		if pkg != nil {
			if rel, ok := r.fsys.Rel(pkg.Dir, path); ok {
				sideEffects = rewrite.MatchesSideEffectGlobs(pkg.SideEffects, rel)
			}
		}
	}

	return Resolution{
		Path:                path,
		Query:               spec.Query,
		Fragment:            spec.Frag,
		PackageJSON:         pkg,
		ModuleType:          mt,
		Ignored:             ignored,
		PrimarySideEffects:  sideEffects,
		DifferentCase:       diffCase,
		FileDependencies:    sortedKeys(q.fileDeps),
		MissingDependencies: sortedKeys(q.missingDeps),
	}, q.log, nil
}

// ResolveFile resolves rawSpecifier as though the request came from inside
// file (spec §4.11's --tsconfig-relative-to-file convenience): the
// directory used is file's own directory, which also drives tsconfig
// auto-discovery.
func (r *Resolver) ResolveFile(file, rawSpecifier string) (Resolution, error) {
	return r.Resolve(r.fsys.Dir(file), rawSpecifier)
}

// ResolveTsconfig loads and fully materializes the tsconfig.json at path
// (its "extends" chain merged in), independent of module resolution.
func (r *Resolver) ResolveTsconfig(path string) (*pkgcache.TsConfig, error) {
	tc, err := pkgcache.LoadTsConfigFile(r.cache, path)
	if err != nil {
		if sre, ok := err.(*tsconfig.SelfReferenceError); ok {
			return nil, newError(KindTsconfigSelfReference, r.fsys.Dir(path), path, sre.Error())
		}
		return nil, wrapIOError(r.fsys.Dir(path), path, err)
	}
	if tc == nil {
		return nil, newError(KindTsconfigNotFound, r.fsys.Dir(path), path, "no tsconfig.json at "+path)
	}
	return tc, nil
}

// ResolveTsconfigReference lazily loads the i'th entry of tc.References
// (spec §4.5's "resolved recursively but lazily"), whether that entry came
// from an explicit list or from "auto" directory enumeration.
func (r *Resolver) ResolveTsconfigReference(tc *pkgcache.TsConfig, i int) (*pkgcache.TsConfig, error) {
	ref, err := r.tscfg.Reference(tc, i)
	if err != nil {
		return nil, wrapIOError(r.fsys.Dir(tc.Path), tc.Path, err)
	}
	if ref == nil {
		return nil, newError(KindTsconfigNotFound, r.fsys.Dir(tc.Path), tc.Path, "no referenced tsconfig at index")
	}
	return ref, nil
}

// ResolveGlob resolves every specifier in specifiers from dir concurrently
// (SPEC_FULL §2's C9 addition, for a caller bulk-resolving an import list).
// Every specifier is attempted; if any fails, the first error reported is
// returned and the map is discarded.
func (r *Resolver) ResolveGlob(dir string, specifiers []string) (map[string]Resolution, error) {
	results := make(map[string]Resolution, len(specifiers))
	var mu sync.Mutex
	var g errgroup.Group
	for _, spec := range specifiers {
		spec := spec
		g.Go(func() error {
			res, err := r.Resolve(dir, spec)
			if err != nil {
				return err
			}
			mu.Lock()
			results[spec] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// query is the per-Resolve-call working state: recursion depth, visited
// alias keys (spec §5's recursion bound), and the accumulated file/missing
// dependency sets (spec §7's "always populated, including on error").
type query struct {
	r   *Resolver
	log *rlog.Log

	depth         int
	visited       map[string]bool
	fileDeps      map[string]bool
	missingDeps   map[string]bool
	differentCase map[string]*fs.DifferentCase
}

func newQuery(r *Resolver) *query {
	return &query{
		r:             r,
		log:           &rlog.Log{},
		visited:       make(map[string]bool),
		fileDeps:      make(map[string]bool),
		missingDeps:   make(map[string]bool),
		differentCase: make(map[string]*fs.DifferentCase),
	}
}

func flushLevel(err error) rlog.Level {
	if err != nil {
		return rlog.Debug
	}
	return rlog.Verbose
}

// resolveClassified runs the ordered rewrite chain (roots, package
// aliases, Options.Alias, tsconfig paths) before falling through to
// resolveByClass, and tries Options.Fallback once if that fails (spec
// §4.8 steps 2-6).
func (q *query) resolveClassified(dir string, spec specifier.Specifier) (string, bool, error) {
	q.depth++
	defer func() { q.depth-- }()
	if q.depth > q.r.opts.RecursionLimit {
		return "", false, newError(KindRecursion, dir, spec.Path, "recursion limit exceeded")
	}

	trace := rlog.NewTrace(q.log, fmt.Sprintf("%q from %q", spec.Path, dir))

	if spec.Class == specifier.Absolute && len(q.r.opts.Roots) > 0 && strings.HasPrefix(spec.Path, "/") {
		rel := strings.TrimPrefix(spec.Path, "/")
		for _, root := range q.r.opts.Roots {
			candidate := q.r.fsys.Join(root, rel)
			if path, ok, err := q.loadAsFileOrDirectory(candidate); err != nil {
				trace.Flush(rlog.Debug)
				return "", false, err
			} else if ok {
				trace.Note("matched root %q", root)
				trace.Flush(rlog.Verbose)
				return path, false, nil
			}
		}
	}

	if ar := rewrite.ApplyAlias(q.r.opts.PackageAliases, spec.Path, q.r.fsys.Cwd()); ar.Matched {
		visitKey := "pkgalias:" + spec.Path
		if q.visited[visitKey] {
			trace.Flush(rlog.Debug)
			return "", false, newError(KindRecursion, dir, spec.Path, "package alias cycle at "+spec.Path)
		}
		q.visited[visitKey] = true
		defer delete(q.visited, visitKey)

		newSpec, perr := specifier.Parse(ar.Specifier, q.r.opts.Windows)
		if perr != nil {
			trace.Flush(rlog.Debug)
			return "", false, &ResolveError{Kind: KindSpecifier, Dir: ar.FromDir, Specifier: ar.Specifier, Message: perr.Error()}
		}
		trace.Note("package alias rewrote %q to %q", spec.Path, ar.Specifier)
		path, ignored, err := q.resolveClassified(ar.FromDir, newSpec)
		trace.Flush(flushLevel(err))
		return path, ignored, err
	}

	if path, ignored, matched, err := q.applyAliasList(q.r.opts.Alias, dir, spec); matched {
		trace.Flush(flushLevel(err))
		return path, ignored, err
	}

	if path, matched := q.applyTsconfigPaths(dir, spec); matched {
		trace.Note("matched tsconfig path")
		trace.Flush(rlog.Verbose)
		return path, false, nil
	}

	path, ignored, mainErr := q.resolveByClass(dir, spec)
	if mainErr == nil {
		trace.Flush(rlog.Verbose)
		return path, ignored, nil
	}

	if fbPath, fbIgnored, matched, fbErr := q.applyAliasList(q.r.opts.Fallback, dir, spec); matched && fbErr == nil {
		trace.Note("matched fallback")
		trace.Flush(rlog.Verbose)
		return fbPath, fbIgnored, nil
	}

	trace.Note("failed: %s", mainErr)
	trace.Flush(rlog.Debug)
	return "", false, mainErr
}

// applyAliasList matches spec against an ordered Options.Alias/Fallback
// list (first declared key that matches wins, not longest-prefix — a
// different matching rule than internal/rewrite.ApplyAlias's package-alias
// table, per spec §4.7/§6).
func (q *query) applyAliasList(entries []AliasEntry, dir string, spec specifier.Specifier) (path string, ignored bool, matched bool, err error) {
	if len(entries) == 0 {
		return "", false, false, nil
	}
	targets, key, ok := matchAliasEntries(entries, spec.Path)
	if !ok {
		return "", false, false, nil
	}
	if len(targets) == 0 {
		return "", true, true, nil
	}

	visitKey := "alias:" + key
	if q.visited[visitKey] {
		return "", false, true, newError(KindRecursion, dir, spec.Path, "alias cycle at "+key)
	}
	q.visited[visitKey] = true
	defer delete(q.visited, visitKey)

	var lastErr error
	for _, target := range targets {
		newSpec, perr := specifier.Parse(target, q.r.opts.Windows)
		if perr != nil {
			lastErr = &ResolveError{Kind: KindSpecifier, Dir: dir, Specifier: target, Message: perr.Error()}
			continue
		}
		p, ig, rerr := q.resolveClassified(dir, newSpec)
		if rerr == nil {
			return p, ig, true, nil
		}
		lastErr = rerr
	}
	if lastErr == nil {
		lastErr = newError(KindMatchedAliasNotFound, dir, spec.Path, "no alias target for "+key+" resolved")
	}
	return "", false, true, lastErr
}

// matchAliasEntries finds the first AliasEntry whose Key matches path:
// an exact match, a "name/" directory-prefix match, or a single trailing
// "*" wildcard (the remainder is appended to every candidate target).
func matchAliasEntries(entries []AliasEntry, path string) (targets []string, key string, ok bool) {
	for _, e := range entries {
		if strings.HasSuffix(e.Key, "*") {
			prefix := e.Key[:len(e.Key)-1]
			if strings.HasPrefix(path, prefix) {
				rest := path[len(prefix):]
				out := make([]string, len(e.Targets))
				for i, t := range e.Targets {
					out[i] = strings.ReplaceAll(t, "*", rest)
				}
				return out, e.Key, true
			}
			continue
		}
		if path == e.Key || strings.HasPrefix(path, e.Key+"/") {
			tail := path[len(e.Key):]
			if tail == "" {
				return e.Targets, e.Key, true
			}
			out := make([]string, len(e.Targets))
			for i, t := range e.Targets {
				out[i] = t + tail
			}
			return out, e.Key, true
		}
	}
	return nil, "", false
}

// applyTsconfigPaths matches a bare specifier against the nearest
// enclosing tsconfig.json's compilerOptions.paths (spec §4.5), restricted
// to Module-class specifiers — relative/absolute imports and #imports
// never consult paths.
func (q *query) applyTsconfigPaths(dir string, spec specifier.Specifier) (string, bool) {
	if spec.Class != specifier.Module {
		return "", false
	}
	// The extends resolver built by newExtendsResolver has no tsconfig
	// Loader; it never consults paths, since looking up a tsconfig here would
	// re-enter the very tsconfig slot whose "extends" it is resolving.
	if q.r.tscfg == nil {
		return "", false
	}
	dirHandle := q.r.cache.Value(dir)
	if dirHandle.InsideNodeModules {
		return "", false
	}
	tc := q.findTsConfig(dirHandle)
	if tc == nil || len(tc.Paths) == 0 {
		return "", false
	}
	for _, candidate := range tsconfig.Match(tc.Paths, spec.Path) {
		abs := candidate
		if !q.r.fsys.IsAbs(candidate) {
			abs = q.r.fsys.Join(tc.PathsAbsBaseURL, candidate)
		}
		if path, ok, _ := q.loadAsFileOrDirectory(abs); ok {
			return path, true
		}
	}
	return "", false
}

// findTsConfig walks h's Parent chain for the nearest tsconfig.json,
// short-circuiting to the explicitly configured one if Options.Tsconfig
// names a ConfigFile. pkgcache.Handle.TsConfig only checks its own exact
// directory, so this walk — unlike EnclosingPackageJSON, which already
// walks internally — belongs to the caller.
func (q *query) findTsConfig(h *pkgcache.Handle) *pkgcache.TsConfig {
	if q.r.opts.Tsconfig.ConfigFile != "" {
		tc, err := pkgcache.LoadTsConfigFile(q.r.cache, q.r.opts.Tsconfig.ConfigFile)
		if err == nil {
			return tc
		}
		return nil
	}
	for cur := h; cur != nil; cur = cur.Parent {
		tc, err := cur.TsConfig()
		if err == nil && tc != nil {
			return tc
		}
	}
	return nil
}

// resolveByClass branches on the specifier's class (spec §4.8 step 5):
// Relative/Absolute go straight to LOAD_AS_FILE/LOAD_AS_DIRECTORY, Hash
// goes through PACKAGE_IMPORTS_RESOLVE, and everything else is a Module
// specifier.
func (q *query) resolveByClass(dir string, spec specifier.Specifier) (string, bool, error) {
	switch spec.Class {
	case specifier.Relative:
		target := q.r.fsys.Join(dir, spec.Path)
		if path, ok, err := q.loadAsFileOrDirectory(target); err != nil {
			return "", false, err
		} else if ok {
			return path, false, nil
		}
		return "", false, newError(KindNotFound, dir, spec.Path, "no such file or directory")
	case specifier.Absolute:
		if path, ok, err := q.loadAsFileOrDirectory(spec.Path); err != nil {
			return "", false, err
		} else if ok {
			return path, false, nil
		}
		return "", false, newError(KindNotFound, dir, spec.Path, "no such file or directory")
	case specifier.Hash:
		return q.resolveHash(dir, spec.Path)
	default:
		return q.resolveModule(dir, spec.Path)
	}
}

// resolveHash implements the Hash-class branch: "#foo" must resolve
// through the nearest enclosing package.json's "imports" field — there is
// no file-system fallback for a Hash specifier (spec §4.6).
func (q *query) resolveHash(dir, path string) (string, bool, error) {
	h := q.r.cache.Value(dir)
	pkg, err := h.EnclosingPackageJSON()
	if err != nil {
		return "", false, wrapIOError(dir, path, err)
	}
	if pkg == nil || !pkg.HasImports {
		return "", false, newError(KindPackageImportNotDefined, dir, path, "no enclosing package.json \"imports\" field")
	}
	result := exports.PackageImportsResolve(path, pkg.Imports, q.r.opts.conditionSet())
	return q.finalizeExportsResult(dir, path, pkg, result, true)
}

// resolveModule implements the Module-class branch (spec §4.8 step 5c):
// builtin-module shortcut, then Yarn PnP if active, then self-reference
// (the enclosing package importing its own name), then the node_modules
// ancestor walk.
func (q *query) resolveModule(dir, path string) (string, bool, error) {
	name, subpath := specifier.SplitModule(path)

	if q.r.opts.BuiltinModules != nil {
		bareName := strings.TrimPrefix(name, "node:")
		if q.r.opts.BuiltinModules[bareName] {
			return "", false, &ResolveError{Kind: KindBuiltin, Dir: dir, Specifier: path, PrefixedWithNodeColon: strings.HasPrefix(name, "node:")}
		}
	}

	if q.r.opts.AliasFields != nil && q.usesBrowserField() {
		bm, _ := q.browserMapFor(dir)
		if target, found := bm.LookupPackage(name); found {
			if target == nil {
				return "", true, nil
			}
			newSpec, perr := specifier.Parse(*target+subpath, q.r.opts.Windows)
			if perr == nil {
				return q.resolveClassified(dir, newSpec)
			}
		}
	}

	if q.r.opts.YarnPnP {
		if manifest := q.r.findPnPManifest(dir); manifest != nil {
			probeFile := q.r.fsys.Join(dir, "\x00probe")
			result := pnp.ResolveToUnqualified(q.r.fsys, manifest, path, probeFile)
			switch result.Status {
			case pnp.StatusSuccess:
				return q.resolveWithinPackage(result.PkgDirPath, result.PkgSubpath)
			case pnp.StatusDependencyNotFound, pnp.StatusUnfulfilledPeerDependency:
				return "", false, newError(KindNotFound, dir, path, "Yarn PnP: unsatisfied dependency "+result.ErrorIdent)
			}
			// StatusSkipped/StatusGenericError: fall through to classic
			// resolution, same as a project with no PnP manifest at all.
		}
	}

	if enclosing, err := q.r.cache.Value(dir).EnclosingPackageJSON(); err == nil && enclosing != nil && enclosing.Name != "" && enclosing.Name == name && enclosing.HasExports {
		result := exports.PackageExportsResolve(dotSubpath(subpath), enclosing.Exports, q.r.opts.conditionSet())
		if result.Matched() {
			return q.finalizeExportsResult(enclosing.Dir, path, enclosing, result, false)
		}
	}

	return q.walkNodeModules(dir, name, subpath)
}

// walkNodeModules tries, ancestor by ancestor (skipping ancestors that are
// themselves named "node_modules"), ancestor/node_modules/<name> (spec
// §4.8 step 5c's node_modules walk).
func (q *query) walkNodeModules(dir, name, subpath string) (string, bool, error) {
	h := q.r.cache.Value(dir)
	var lastErr error
	for cur := h; cur != nil; cur = cur.Parent {
		if cur.IsNodeModules {
			continue
		}
		pkgDir := q.r.fsys.Join(cur.Path, "node_modules", name)
		if !q.dirExists(pkgDir) {
			continue
		}
		path, ignored, err := q.resolveWithinPackage(pkgDir, subpath)
		if err == nil {
			return path, ignored, nil
		}
		if !isNotFoundKind(err) {
			return "", false, err
		}
		lastErr = err
	}
	if lastErr != nil {
		return "", false, lastErr
	}
	return "", false, newError(KindNotFound, dir, name+subpath, "module not found in any node_modules")
}

func isNotFoundKind(err error) bool {
	re, ok := err.(*ResolveError)
	return ok && re.Kind == KindNotFound
}

// resolveWithinPackage finishes resolving a module once its package
// directory has been located, whether by the node_modules walk, a
// self-reference, or Yarn PnP: the "exports" field fully encapsulates the
// package when present, otherwise subpath is loaded as an ordinary
// file/directory.
func (q *query) resolveWithinPackage(pkgDir, subpath string) (string, bool, error) {
	h := q.r.cache.Value(pkgDir)
	pkg, err := h.PackageJSON()
	if err != nil {
		return "", false, wrapIOError(pkgDir, subpath, err)
	}
	if pkg != nil && pkg.HasExports {
		result := exports.PackageExportsResolve(dotSubpath(subpath), pkg.Exports, q.r.opts.conditionSet())
		return q.finalizeExportsResult(pkgDir, subpath, pkg, result, false)
	}
	target := pkgDir
	if subpath != "" {
		target = q.r.fsys.Join(pkgDir, strings.TrimPrefix(subpath, "/"))
	}
	if path, ok, err := q.loadAsFileOrDirectory(target); err != nil {
		return "", false, err
	} else if ok {
		return path, false, nil
	}
	return "", false, newError(KindNotFound, pkgDir, subpath, "not found in package "+pkgDir)
}

func dotSubpath(subpath string) string {
	if subpath == "" {
		return "."
	}
	return "." + subpath
}

// finalizeExportsResult turns an internal/exports.Result into a resolved
// absolute path: percent-encoded-slash rejection, node: builtin
// forwarding, the exports-never-escape-the-package check (testable
// invariant 5), extension fall-through for every match plus an index-file
// fall-through for an inexact (trailing "/" directory key) match, then maps
// every failure Status onto its ErrorKind (spec §4.6).
func (q *query) finalizeExportsResult(dir, subpath string, pkg *pkgcache.PackageJSON, result exports.Result, isImports bool) (string, bool, error) {
	switch result.Status {
	case exports.StatusExact, exports.StatusInexact:
		decoded, ok := exports.CheckPercentEncodedSlashes(result.Path)
		if !ok {
			return "", false, newError(KindSpecifier, dir, subpath, "percent-encoded slash in exports target")
		}
		if strings.HasPrefix(decoded, "node:") {
			return "", false, &ResolveError{Kind: KindBuiltin, Dir: dir, Specifier: decoded, PrefixedWithNodeColon: true}
		}
		abs := q.r.fsys.Join(pkg.Dir, decoded)
		if !withinPackage(q.r.fsys, pkg.Dir, abs) {
			return "", false, newError(KindInvalidPackageTarget, dir, subpath, "exports target escapes its package: "+decoded)
		}
		extensionOrder := q.r.opts.extensionOrder()
		if path, ok, err := q.loadAsFile(abs, extensionOrder); err != nil {
			return "", false, err
		} else if ok {
			return path, false, nil
		}
		if result.Status == exports.StatusInexact {
			if path, ok, err := q.loadAsIndexWithBrowser(abs, extensionOrder); err != nil {
				return "", false, err
			} else if ok {
				return path, false, nil
			}
		}
		return "", false, newError(KindNotFound, dir, subpath, "exports target not found: "+abs)

	case exports.StatusPackagePathNotExported:
		if isImports {
			return "", false, newError(KindPackageImportNotDefined, dir, subpath, "not defined by package.json \"imports\"")
		}
		return "", false, newError(KindPackagePathNotExported, dir, subpath, "not exported by package.json \"exports\"")
	case exports.StatusInvalidPackageConfiguration:
		return "", false, newError(KindInvalidPackageConfig, dir, subpath, "invalid exports/imports field")
	case exports.StatusInvalidPackageTarget:
		return "", false, newError(KindInvalidPackageTarget, dir, subpath, "invalid exports/imports target")
	case exports.StatusInvalidModuleSpecifier:
		return "", false, newError(KindSpecifier, dir, subpath, "invalid module specifier")
	case exports.StatusUnsupportedDirectoryImport:
		return "", false, newError(KindNotFound, dir, subpath, "directory import not supported")
	default:
		if isImports {
			return "", false, newError(KindPackageImportNotDefined, dir, subpath, "import not defined")
		}
		return "", false, newError(KindPackagePathNotExported, dir, subpath, "not exported")
	}
}

func withinPackage(fsys fs.FS, pkgDir, candidate string) bool {
	rel, ok := fsys.Rel(pkgDir, candidate)
	if !ok {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, "../") && !strings.HasPrefix(rel, "..\\")
}

// loadAsFileOrDirectory implements LOAD_AS_FILE followed by
// LOAD_AS_DIRECTORY (spec §4.8's sub-algorithms): try path as a file
// first, then — if it's a directory — its package.json "exports" (when
// AllowPackageExportsInDirectoryResolve is set), then mainFields, then
// mainFiles.
func (q *query) loadAsFileOrDirectory(path string) (string, bool, error) {
	extensionOrder := q.r.opts.extensionOrder()

	if resolved, ok, err := q.loadAsFile(path, extensionOrder); err != nil {
		return "", false, err
	} else if ok {
		return resolved, true, nil
	}

	if !q.dirExists(path) {
		return "", false, nil
	}

	if q.r.opts.AllowPackageExportsInDirectoryResolve {
		h := q.r.cache.Value(path)
		if pkg, err := h.PackageJSON(); err == nil && pkg != nil && pkg.HasExports {
			result := exports.PackageExportsResolve(".", pkg.Exports, q.r.opts.conditionSet())
			if result.Matched() {
				if resolved, _, err := q.finalizeExportsResult(path, ".", pkg, result, false); err == nil {
					return resolved, true, nil
				}
			}
		}
	}

	if resolved, ok, err := q.loadAsMainField(path, extensionOrder); err != nil {
		return "", false, err
	} else if ok {
		return resolved, true, nil
	}

	return q.loadAsIndexWithBrowser(path, extensionOrder)
}

// loadAsFile is LOAD_AS_FILE: extensionAlias substitution when the
// specifier already names a mapped extension, otherwise the ordinary
// extension-order candidate walk, with the browser field's non-package
// remap applied both before and after (the teacher's documented two
// call-site quirk — see internal/rewrite.RemapNonPackagePath).
func (q *query) loadAsFile(path string, extensionOrder []string) (string, bool, error) {
	dirOfPath := q.r.fsys.Dir(path)
	bm, pkgDir := q.browserMapFor(dirOfPath)

	if target, ok := rewrite.RemapNonPackagePath(bm, path, extensionOrder); ok {
		if target == nil {
			return "", false, nil
		}
		remapped := q.resolveBrowserTarget(pkgDir, *target)
		if q.statFile(remapped) {
			return remapped, true, nil
		}
		path = remapped
		dirOfPath = q.r.fsys.Dir(path)
	}

	// extensionAlias substitution replaces the ordinary extension-order
	// walk below rather than feeding into it: once the requested extension
	// is in the map, only its listed alternates are tried, and exhausting
	// them without a match is a dedicated ExtensionAlias error (spec §4.7,
	// §7), not a silent fall-through to a generic NotFound.
	if alts, ok := q.matchExtensionAlias(path); ok {
		base := strings.TrimSuffix(path, q.r.fsys.Ext(path))
		for _, alt := range alts {
			candidate := base + alt
			if q.statFile(candidate) {
				return q.remapResolvedFile(candidate, bm, pkgDir, extensionOrder), true, nil
			}
		}
		return "", false, &ResolveError{
			Kind:            KindExtensionAlias,
			Dir:             dirOfPath,
			Specifier:       path,
			Message:         "no extension alias target resolved for " + q.r.fsys.Ext(path),
			TriedExtensions: alts,
		}
	}

	for _, ext := range extensionOrder {
		candidate := path + ext
		if q.statFile(candidate) {
			return q.remapResolvedFile(candidate, bm, pkgDir, extensionOrder), true, nil
		}
	}
	return "", false, nil
}

func (q *query) remapResolvedFile(candidate string, bm rewrite.BrowserMap, pkgDir string, extensionOrder []string) string {
	if target, ok := rewrite.RemapNonPackagePath(bm, candidate, extensionOrder); ok && target != nil {
		return q.resolveBrowserTarget(pkgDir, *target)
	}
	return candidate
}

// loadAsIndexWithBrowser is the mainFiles half of LOAD_AS_DIRECTORY: try
// each configured index basename (default just "index") as a file.
func (q *query) loadAsIndexWithBrowser(dirPath string, extensionOrder []string) (string, bool, error) {
	bm, pkgDir := q.browserMapFor(dirPath)
	for _, mainFile := range q.r.opts.MainFiles {
		indexPath := q.r.fsys.Join(dirPath, mainFile)
		if target, ok := rewrite.RemapNonPackagePath(bm, indexPath, extensionOrder); ok {
			if target == nil {
				continue
			}
			indexPath = q.resolveBrowserTarget(pkgDir, *target)
		}
		if path, ok, err := q.loadAsFile(indexPath, extensionOrder); err != nil {
			return "", false, err
		} else if ok {
			return path, true, nil
		}
	}
	return "", false, nil
}

// loadAsMainField is the mainFields half of LOAD_AS_DIRECTORY: try each
// configured package.json field (default just "main") in order.
func (q *query) loadAsMainField(dirPath string, extensionOrder []string) (string, bool, error) {
	h := q.r.cache.Value(dirPath)
	pkg, err := h.PackageJSON()
	if err != nil || pkg == nil {
		return "", false, nil
	}
	bm, pkgDir := q.browserMapFor(dirPath)

	for _, key := range q.r.opts.MainFields {
		v, ok := pkg.Raw.Get(key)
		if !ok || !v.IsString() || v.Str == "" {
			continue
		}
		rel := v.Str
		fieldAbs := q.r.fsys.Join(dirPath, rel)
		if target, ok := rewrite.RemapNonPackagePath(bm, fieldAbs, extensionOrder); ok {
			if target == nil {
				return "", false, nil
			}
			fieldAbs = q.resolveBrowserTarget(pkgDir, *target)
		}
		if path, ok, ferr := q.loadAsFile(fieldAbs, extensionOrder); ferr != nil {
			return "", false, ferr
		} else if ok {
			return path, true, nil
		}
		if q.dirExists(fieldAbs) {
			if path, ok, ferr := q.loadAsIndexWithBrowser(fieldAbs, extensionOrder); ferr != nil {
				return "", false, ferr
			} else if ok {
				return path, true, nil
			}
		}
	}
	return "", false, nil
}

func (q *query) resolveBrowserTarget(pkgDir, target string) string {
	if pkgDir == "" || q.r.fsys.IsAbs(target) {
		return target
	}
	return q.r.fsys.Join(pkgDir, target)
}

func (q *query) usesBrowserField() bool {
	for _, f := range q.r.opts.AliasFields {
		if f == "browser" {
			return true
		}
	}
	return false
}

func (q *query) browserMapFor(dirPath string) (rewrite.BrowserMap, string) {
	if !q.usesBrowserField() {
		return rewrite.BrowserMap{}, ""
	}
	h := q.r.cache.Value(dirPath)
	pkg, err := h.EnclosingPackageJSON()
	if err != nil || pkg == nil || !pkg.Browser.IsObject() {
		return rewrite.BrowserMap{}, ""
	}
	return rewrite.ParseBrowserMap(pkg.Browser, pkg.Dir, q.r.fsys.Join), pkg.Dir
}

func (q *query) matchExtensionAlias(path string) ([]string, bool) {
	if len(q.r.opts.ExtensionAlias) == 0 {
		return nil, false
	}
	ext := q.r.fsys.Ext(path)
	if ext == "" {
		return nil, false
	}
	alts, ok := q.r.opts.ExtensionAlias[ext]
	return alts, ok
}

func (q *query) statFile(path string) bool {
	dir := q.r.fsys.Dir(path)
	base := q.r.fsys.Base(path)
	entries, err := q.r.cache.Value(dir).Entries()
	if err != nil {
		if fs.IsNotExist(err) {
			q.missingDeps[path] = true
		}
		return false
	}
	entry, diffCase := entries.Get(base)
	if entry == nil {
		q.missingDeps[path] = true
		return false
	}
	if diffCase != nil {
		q.log.Warnf("case mismatch: requested %q, found %q in %s", diffCase.Query, diffCase.Actual, diffCase.Dir)
		q.differentCase[path] = diffCase
	}
	if entry.Kind(q.r.fsys) != fs.FileEntry {
		return false
	}
	q.fileDeps[path] = true
	return true
}

func (q *query) dirExists(path string) bool {
	_, err := q.r.cache.Value(path).Entries()
	if err != nil {
		if fs.IsNotExist(err) {
			q.missingDeps[path] = true
		}
		return false
	}
	return true
}

func (q *query) canonicalizePath(path string) (string, error) {
	h, err := q.r.cache.Value(path).Canonicalize()
	if err != nil {
		return "", wrapIOError(path, "", err)
	}
	return h.Path, nil
}

// checkRestrictions implements spec §4.8 step 7: a resolved path must lie
// under one of Restrictions.AllowedPrefixes (when any are configured) and
// satisfy Restrictions.Predicate (when one is set).
func (q *query) checkRestrictions(path string) error {
	r := q.r.opts.Restrictions
	if r.empty() {
		return nil
	}
	if len(r.AllowedPrefixes) > 0 {
		allowed := false
		for _, prefix := range r.AllowedPrefixes {
			if strings.HasPrefix(path, prefix) {
				allowed = true
				break
			}
		}
		if !allowed {
			return newError(KindRestriction, "", path, "outside every allowed restriction prefix")
		}
	}
	if r.Predicate != nil && !r.Predicate(path) {
		return newError(KindRestriction, "", path, "rejected by restriction predicate")
	}
	return nil
}

// moduleType computes spec §3.1's ModuleType field, following
// ESM_FILE_FORMAT: extension is dominant except for the ambiguous
// ".js"/".jsx"/".ts"/".tsx" group, which defers to the enclosing
// package.json's "type" field.
func (q *query) moduleType(path string, pkg *pkgcache.PackageJSON) ModuleType {
	switch q.r.fsys.Ext(path) {
	case ".mjs", ".mts":
		return ModuleTypeESM
	case ".cjs", ".cts":
		return ModuleTypeCommonJS
	case ".json":
		return ModuleTypeJSON
	case ".wasm":
		return ModuleTypeWasm
	case ".node":
		return ModuleTypeAddon
	case ".js", ".jsx", ".ts", ".tsx":
		if pkg != nil && pkg.Type == "module" {
			return ModuleTypeESM
		}
		return ModuleTypeCommonJS
	default:
		return ModuleTypeUnknown
	}
}

// findPnPManifest walks dir's ancestor chain for the nearest
// .pnp.data.json, memoized per directory across the Resolver's lifetime
// (cleared by ClearCache).
func (r *Resolver) findPnPManifest(dir string) *pnp.Manifest {
	for cur := r.cache.Value(dir); cur != nil; cur = cur.Parent {
		if m := r.pnpManifestAt(cur.Path); m != nil {
			return m
		}
	}
	return nil
}

func (r *Resolver) pnpManifestAt(dirPath string) *pnp.Manifest {
	r.pnpMu.Lock()
	if m, ok := r.pnpByDir[dirPath]; ok {
		r.pnpMu.Unlock()
		return m
	}
	r.pnpMu.Unlock()

	manifestPath := r.fsys.Join(dirPath, ".pnp.data.json")
	contents, err := r.fsys.ReadFile(manifestPath)
	var manifest *pnp.Manifest
	if err == nil {
		if raw, perr := jsonc.Parse(contents, jsonc.Options{Path: manifestPath}); perr == nil {
			manifest = pnp.Load(manifestPath, dirPath, raw)
		}
	}

	r.pnpMu.Lock()
	r.pnpByDir[dirPath] = manifest
	r.pnpMu.Unlock()
	return manifest
}

func toResolveError(err error) *ResolveError {
	if re, ok := err.(*ResolveError); ok {
		return re
	}
	return &ResolveError{Kind: KindIOError, Message: err.Error(), Wrapped: err}
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
