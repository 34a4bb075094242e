package resolve

import (
	"testing"

	"github.com/resolvekit/resolvekit/internal/fs"
	"github.com/resolvekit/resolvekit/internal/rewrite"
)

func newResolverFS(t *testing.T, mockOpts fs.MockOptions, configure func(*Options)) *Resolver {
	t.Helper()
	opts := Options{FS: fs.Mock(mockOpts)}
	if configure != nil {
		configure(&opts)
	}
	r, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func newResolver(t *testing.T, files map[string]string, configure func(*Options)) *Resolver {
	t.Helper()
	return newResolverFS(t, fs.MockOptions{Files: files}, configure)
}

func TestResolveRelativeFileWithExtension(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/index.js": "",
		"/project/src/util.js":  "",
	}, nil)

	res, err := r.Resolve("/project/src", "./util")
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != "/project/src/util.js" {
		t.Fatalf("got %q", res.Path)
	}
	if res.ModuleType != ModuleTypeCommonJS {
		t.Fatalf("got module type %v", res.ModuleType)
	}
}

func TestResolveRelativeDirectoryIndex(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/widget/index.js": "",
	}, nil)

	res, err := r.Resolve("/project/src", "./widget")
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != "/project/src/widget/index.js" {
		t.Fatalf("got %q", res.Path)
	}
}

func TestExtensionAliasSubstitutesConfiguredExtension(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/component.ts": "",
		"/project/src/app.js":       "",
	}, func(o *Options) {
		o.ExtensionAlias = map[string][]string{".js": {".ts", ".js"}}
	})

	res, err := r.Resolve("/project/src", "./component.js")
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != "/project/src/component.ts" {
		t.Fatalf("got %q", res.Path)
	}
}

// TestExtensionAliasRaisesDedicatedErrorWhenExhausted covers spec.md §4.7/
// §4.9/§7: once the requested extension matches an ExtensionAlias entry,
// failing to resolve any of its listed alternates is a KindExtensionAlias
// error naming every extension tried, not a generic NotFound.
func TestExtensionAliasRaisesDedicatedErrorWhenExhausted(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/app.js": "",
	}, func(o *Options) {
		o.ExtensionAlias = map[string][]string{".js": {".ts", ".tsx"}}
	})

	_, err := r.Resolve("/project/src", "./component.js")
	re, ok := err.(*ResolveError)
	if !ok || re.Kind != KindExtensionAlias {
		t.Fatalf("expected ExtensionAlias, got %v", err)
	}
	if len(re.TriedExtensions) != 2 || re.TriedExtensions[0] != ".ts" || re.TriedExtensions[1] != ".tsx" {
		t.Fatalf("got TriedExtensions %v", re.TriedExtensions)
	}
}

func TestResolveRelativeNotFound(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/app.js": "",
	}, nil)

	_, err := r.Resolve("/project/src", "./missing")
	re, ok := err.(*ResolveError)
	if !ok || re.Kind != KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestResolveModuleViaNodeModules(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/app.js":                         "",
		"/project/node_modules/left-pad/index.js":     "",
		"/project/node_modules/left-pad/package.json": `{"name":"left-pad","main":"index.js"}`,
	}, nil)

	res, err := r.Resolve("/project/src", "left-pad")
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != "/project/node_modules/left-pad/index.js" {
		t.Fatalf("got %q", res.Path)
	}
}

func TestResolveModuleWalksUpMultipleAncestors(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/a/b/c/file.js":                  "",
		"/project/node_modules/left-pad/index.js": "",
	}, nil)

	res, err := r.Resolve("/project/a/b/c", "left-pad")
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != "/project/node_modules/left-pad/index.js" {
		t.Fatalf("got %q", res.Path)
	}
}

func TestResolveModuleSubpath(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/app.js":                             "",
		"/project/node_modules/pkg/lib/helper.js":         "",
		"/project/node_modules/pkg/package.json":          `{"name":"pkg"}`,
	}, nil)

	res, err := r.Resolve("/project/src", "pkg/lib/helper")
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != "/project/node_modules/pkg/lib/helper.js" {
		t.Fatalf("got %q", res.Path)
	}
}

func TestExportsStringShorthand(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/node_modules/pkg/package.json": `{"name":"pkg","exports":"./lib/main.js"}`,
		"/project/node_modules/pkg/lib/main.js":  "",
		"/project/src/app.js":                    "",
	}, nil)

	res, err := r.Resolve("/project/src", "pkg")
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != "/project/node_modules/pkg/lib/main.js" {
		t.Fatalf("got %q", res.Path)
	}
}

// TestExportsExplicitNullBlocksEncapsulation is the regression test for the
// HasExports presence flag: an explicit "exports": null must fully
// encapsulate the package (PackagePathNotExported), never fall through to
// "main", even though a jsonc.Value zero value looks identical to a parsed
// null without that flag.
func TestExportsExplicitNullBlocksEncapsulation(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/node_modules/pkg/package.json": `{"name":"pkg","exports":null,"main":"index.js"}`,
		"/project/node_modules/pkg/index.js":     "",
		"/project/src/app.js":                    "",
	}, nil)

	_, err := r.Resolve("/project/src", "pkg")
	re, ok := err.(*ResolveError)
	if !ok || re.Kind != KindPackagePathNotExported {
		t.Fatalf("expected PackagePathNotExported, got %v", err)
	}
}

// TestAbsentExportsFallsThroughToMainField is the opposite half of the
// above: a package.json with no "exports" key at all must not be treated
// as an encapsulating null.
func TestAbsentExportsFallsThroughToMainField(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/node_modules/pkg/package.json": `{"name":"pkg","main":"index.js"}`,
		"/project/node_modules/pkg/index.js":     "",
		"/project/src/app.js":                    "",
	}, nil)

	res, err := r.Resolve("/project/src", "pkg")
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != "/project/node_modules/pkg/index.js" {
		t.Fatalf("got %q", res.Path)
	}
}

func TestSelfReferenceViaOwnPackageName(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/package.json": `{"name":"demo","exports":{".":"./lib/index.js","./util":"./lib/util.js"}}`,
		"/project/lib/index.js": "",
		"/project/lib/util.js":  "",
		"/project/src/app.js":   "",
	}, nil)

	res, err := r.Resolve("/project/src", "demo/util")
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != "/project/lib/util.js" {
		t.Fatalf("got %q", res.Path)
	}
}

func TestExportsTargetCannotEscapePackage(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/node_modules/pkg/package.json": `{"name":"pkg","exports":{".":"../../../etc/passwd"}}`,
		"/etc/passwd":                            "root",
		"/project/src/app.js":                    "",
	}, nil)

	_, err := r.Resolve("/project/src", "pkg")
	re, ok := err.(*ResolveError)
	if !ok || re.Kind != KindInvalidPackageTarget {
		t.Fatalf("expected InvalidPackageTarget, got %v", err)
	}
}

func TestHashImportViaPackageImportsField(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/package.json": `{"name":"demo","imports":{"#utils":"./lib/utils.js"}}`,
		"/project/lib/utils.js": "",
		"/project/src/app.js":   "",
	}, nil)

	res, err := r.Resolve("/project/src", "#utils")
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != "/project/lib/utils.js" {
		t.Fatalf("got %q", res.Path)
	}
}

func TestHashImportWithoutImportsFieldFails(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/package.json": `{"name":"demo"}`,
		"/project/src/app.js":   "",
	}, nil)

	_, err := r.Resolve("/project/src", "#utils")
	re, ok := err.(*ResolveError)
	if !ok || re.Kind != KindPackageImportNotDefined {
		t.Fatalf("expected PackageImportNotDefined, got %v", err)
	}
}

func TestTsconfigPathsSubstitution(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/tsconfig.json": `{"compilerOptions":{"baseUrl":".","paths":{"@app/*":["src/*"]}}}`,
		"/project/src/widget.ts": "",
		"/project/src/app.ts":    "",
	}, func(o *Options) {
		o.Extensions = []string{".ts"}
	})

	res, err := r.Resolve("/project/src", "@app/widget")
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != "/project/src/widget.ts" {
		t.Fatalf("got %q", res.Path)
	}
}

func TestTsconfigPathsDoNotApplyInsideNodeModules(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/tsconfig.json":                  `{"compilerOptions":{"baseUrl":".","paths":{"@app/*":["src/*"]}}}`,
		"/project/src/widget.ts":                  "",
		"/project/node_modules/dep/index.js":      "",
		"/project/node_modules/dep/package.json":  `{"name":"dep"}`,
	}, func(o *Options) {
		o.Extensions = []string{".ts"}
	})

	_, err := r.Resolve("/project/node_modules/dep", "@app/widget")
	if err == nil {
		t.Fatal("expected tsconfig paths to be skipped inside node_modules")
	}
}

func TestAliasListFirstMatchWins(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/real.js":  "",
		"/project/src/other.js": "",
		"/project/src/app.js":   "",
	}, func(o *Options) {
		o.Alias = []AliasEntry{
			{Key: "fake", Targets: []string{"./real"}},
			{Key: "fake", Targets: []string{"./other"}},
		}
	})

	res, err := r.Resolve("/project/src", "fake")
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != "/project/src/real.js" {
		t.Fatalf("got %q", res.Path)
	}
}

func TestAliasEmptyTargetsIgnoresModule(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/app.js": "",
	}, func(o *Options) {
		o.Alias = []AliasEntry{{Key: "fs", Targets: nil}}
	})

	res, err := r.Resolve("/project/src", "fs")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Ignored {
		t.Fatalf("expected Ignored, got %+v", res)
	}
}

func TestFallbackAppliesOnlyAfterMainResolutionFails(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/real.js": "",
		"/project/src/app.js":  "",
	}, func(o *Options) {
		o.Fallback = []AliasEntry{{Key: "missing-pkg", Targets: []string{"./real"}}}
	})

	res, err := r.Resolve("/project/src", "missing-pkg")
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != "/project/src/real.js" {
		t.Fatalf("got %q", res.Path)
	}
}

func TestPackageAliasRestartsFromCwd(t *testing.T) {
	r := newResolverFS(t, fs.MockOptions{
		Cwd: "/home",
		Files: map[string]string{
			"/home/app/node_modules/nested/app.js":      "",
			"/home/node_modules/util-shim/index.js":     "",
			"/home/node_modules/util-shim/package.json": `{"name":"util-shim","main":"index.js"}`,
		},
	}, func(o *Options) {
		o.PackageAliases = rewrite.AliasTable{"util": "util-shim"}
	})

	res, err := r.Resolve("/home/app/node_modules/nested", "util")
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != "/home/node_modules/util-shim/index.js" {
		t.Fatalf("got %q", res.Path)
	}
}

func TestBuiltinModuleForwarding(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/app.js": "",
	}, func(o *Options) {
		o.BuiltinModules = map[string]bool{"fs": true}
	})

	_, err := r.Resolve("/project/src", "node:fs")
	re, ok := err.(*ResolveError)
	if !ok || re.Kind != KindBuiltin || !re.PrefixedWithNodeColon {
		t.Fatalf("got %v", err)
	}

	_, err = r.Resolve("/project/src", "fs")
	re, ok = err.(*ResolveError)
	if !ok || re.Kind != KindBuiltin || re.PrefixedWithNodeColon {
		t.Fatalf("got %v", err)
	}
}

func TestRestrictionsRejectOutsideAllowedPrefix(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/app.js":    "",
		"/outside/forbidden.js":  "",
	}, func(o *Options) {
		o.Restrictions = Restrictions{AllowedPrefixes: []string{"/project"}}
	})

	_, err := r.Resolve("/project/src", "/outside/forbidden.js")
	re, ok := err.(*ResolveError)
	if !ok || re.Kind != KindRestriction {
		t.Fatalf("expected Restriction, got %v", err)
	}
}

func TestQueryFragmentRoundTrip(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/style.css": "",
		"/project/src/app.js":    "",
	}, nil)

	res, err := r.Resolve("/project/src", "./style.css?raw#top")
	if err != nil {
		t.Fatal(err)
	}
	if res.Query != "?raw" || res.Fragment != "#top" {
		t.Fatalf("got query=%q fragment=%q", res.Query, res.Fragment)
	}
	if res.Path != "/project/src/style.css" {
		t.Fatalf("got path %q", res.Path)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/util.js": "",
		"/project/src/app.js":  "",
	}, nil)

	a, err := r.Resolve("/project/src", "./util")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Resolve("/project/src", "./util")
	if err != nil {
		t.Fatal(err)
	}
	if a.Path != b.Path {
		t.Fatalf("got %q and %q", a.Path, b.Path)
	}
}

func TestFileDependenciesPopulatedOnSuccess(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/util.js": "",
		"/project/src/app.js":  "",
	}, nil)

	res, err := r.Resolve("/project/src", "./util")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range res.FileDependencies {
		if f == "/project/src/util.js" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected /project/src/util.js in %v", res.FileDependencies)
	}
}

func TestMissingDependenciesPopulatedOnError(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/app.js": "",
	}, nil)

	_, err := r.Resolve("/project/src", "./missing")
	re, ok := err.(*ResolveError)
	if !ok {
		t.Fatalf("expected *ResolveError, got %v", err)
	}
	if len(re.MissingDependencies) == 0 {
		t.Fatalf("expected missing dependencies to be populated on error")
	}
}

func TestClearCacheKeepsResolverUsable(t *testing.T) {
	mock := fs.Mock(fs.MockOptions{Files: map[string]string{
		"/project/src/app.js": "",
	}})
	r, err := New(Options{FS: mock})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := r.Resolve("/project/src", "./added"); err == nil {
		t.Fatal("expected NotFound before the file exists")
	}

	// A real caller would add the file to the underlying filesystem here;
	// ClearCache alone doesn't create it in this mock, so this only checks
	// that clearing doesn't itself break a subsequent lookup.
	r.ClearCache()
	if _, err := r.Resolve("/project/src", "./app"); err != nil {
		t.Fatalf("expected ./app to still resolve after ClearCache: %v", err)
	}
}

func TestAliasCycleHitsRecursionLimit(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/app.js": "",
	}, func(o *Options) {
		o.Alias = []AliasEntry{
			{Key: "a", Targets: []string{"b"}},
			{Key: "b", Targets: []string{"a"}},
		}
	})

	_, err := r.Resolve("/project/src", "a")
	re, ok := err.(*ResolveError)
	if !ok || (re.Kind != KindRecursion && re.Kind != KindMatchedAliasNotFound) {
		t.Fatalf("expected a cycle to terminate with Recursion or MatchedAliasNotFound, got %v", err)
	}
}

func TestSideEffectsFalseMarksEveryFileSideEffectFree(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/package.json": `{"name":"demo","sideEffects":false}`,
		"/project/src/app.js":   "",
	}, nil)

	res, err := r.Resolve("/project/src", "./app")
	if err != nil {
		t.Fatal(err)
	}
	if res.PrimarySideEffects {
		t.Fatalf("expected PrimarySideEffects=false, got %+v", res)
	}
}

func TestSideEffectsGlobMatchKeepsFileIncluded(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/package.json":      `{"name":"demo","sideEffects":["./src/polyfill.js"]}`,
		"/project/src/polyfill.js":   "",
		"/project/src/app.js":        "",
	}, nil)

	polyfill, err := r.Resolve("/project/src", "./polyfill")
	if err != nil {
		t.Fatal(err)
	}
	if !polyfill.PrimarySideEffects {
		t.Fatalf("expected the glob-matched file to keep side effects, got %+v", polyfill)
	}

	app, err := r.Resolve("/project/src", "./app")
	if err != nil {
		t.Fatal(err)
	}
	if app.PrimarySideEffects {
		t.Fatalf("expected a non-matching file to be side-effect free, got %+v", app)
	}
}

func TestNoEnclosingPackageJSONDefaultsToHavingSideEffects(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/app.js": "",
	}, nil)

	res, err := r.Resolve("/project/src", "./app")
	if err != nil {
		t.Fatal(err)
	}
	if !res.PrimarySideEffects {
		t.Fatalf("expected PrimarySideEffects=true with no package.json, got %+v", res)
	}
}

func TestResolveVerboseReturnsLog(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/app.js": "",
	}, nil)

	res, log, err := r.ResolveVerbose("/project/src", "./app")
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != "/project/src/app.js" {
		t.Fatalf("got %q", res.Path)
	}
	if log == nil || log.String() == "" {
		t.Fatalf("expected a populated trace log, got %+v", log)
	}
}

func TestResolveVerboseTracesFailedAttempt(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/app.js": "",
	}, nil)

	_, log, err := r.ResolveVerbose("/project/src", "./missing")
	if err == nil {
		t.Fatal("expected an error")
	}
	if log == nil || log.String() == "" {
		t.Fatalf("expected a trace log even on failure, got %+v", log)
	}
}

func TestDifferentCaseSurfacedOnResolution(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/App.js": "",
	}, nil)

	res, err := r.Resolve("/project/src", "./app")
	if err != nil {
		t.Fatal(err)
	}
	if res.DifferentCase == nil {
		t.Fatalf("expected a DifferentCase diagnostic, got %+v", res)
	}
	if res.DifferentCase.Actual != "App.js" {
		t.Fatalf("got %+v", res.DifferentCase)
	}
}

func TestModuleTypeFromPackageType(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/package.json": `{"name":"demo","type":"module"}`,
		"/project/src/app.js":   "",
	}, nil)

	res, err := r.Resolve("/project/src", "./app")
	if err != nil {
		t.Fatal(err)
	}
	if res.ModuleType != ModuleTypeESM {
		t.Fatalf("got %v", res.ModuleType)
	}
}

func TestResolveGlobResolvesAllSpecifiers(t *testing.T) {
	r := newResolver(t, map[string]string{
		"/project/src/a.js": "",
		"/project/src/b.js": "",
	}, nil)

	results, err := r.ResolveGlob("/project/src", []string{"./a", "./b"})
	if err != nil {
		t.Fatal(err)
	}
	if results["./a"].Path != "/project/src/a.js" || results["./b"].Path != "/project/src/b.js" {
		t.Fatalf("got %+v", results)
	}
}
