package pkgcache

import (
	"testing"

	"github.com/resolvekit/resolvekit/internal/fs"
)

func newTestCache(files map[string]string, symlinks map[string]string) *Cache {
	mock := fs.Mock(fs.MockOptions{Files: files, Symlinks: symlinks})
	return New(mock, DefaultParsePackageJSON, nil)
}

func TestValueIsIdempotent(t *testing.T) {
	c := newTestCache(map[string]string{"/project/package.json": "{}"}, nil)
	a := c.Value("/project")
	b := c.Value("/project")
	if a != b {
		t.Fatal("expected the same Handle instance within a generation")
	}
}

func TestParentChain(t *testing.T) {
	c := newTestCache(map[string]string{"/a/b/c/file.js": ""}, nil)
	h := c.Value("/a/b/c")
	if h.Parent == nil || h.Parent.Path != "/a/b" {
		t.Fatalf("unexpected parent: %+v", h.Parent)
	}
	if h.Parent.Parent == nil || h.Parent.Parent.Path != "/a" {
		t.Fatalf("unexpected grandparent: %+v", h.Parent.Parent)
	}
}

func TestIsNodeModulesFlags(t *testing.T) {
	c := newTestCache(map[string]string{
		"/project/node_modules/pkg/index.js": "",
	}, nil)

	nm := c.Value("/project/node_modules")
	if !nm.IsNodeModules || !nm.InsideNodeModules {
		t.Fatalf("expected node_modules dir to report both flags: %+v", nm)
	}

	pkgDir := c.Value("/project/node_modules/pkg")
	if pkgDir.IsNodeModules {
		t.Fatal("pkg dir itself is not named node_modules")
	}
	if !pkgDir.InsideNodeModules {
		t.Fatal("pkg dir should be inside node_modules")
	}

	project := c.Value("/project")
	if project.IsNodeModules || project.InsideNodeModules {
		t.Fatalf("project root should have neither flag: %+v", project)
	}
}

func TestPackageJSONExactDirectoryOnly(t *testing.T) {
	c := newTestCache(map[string]string{
		"/project/package.json":     `{"name":"root"}`,
		"/project/src/index.js":     "",
		"/project/src/package.json": `{"name":"nested"}`,
	}, nil)

	root := c.Value("/project")
	pkg, err := root.PackageJSON()
	if err != nil {
		t.Fatal(err)
	}
	if pkg == nil || pkg.Name != "root" {
		t.Fatalf("got %+v", pkg)
	}

	noPkg := c.Value("/project/missing")
	np, err := noPkg.PackageJSON()
	if err != nil {
		t.Fatal(err)
	}
	if np != nil {
		t.Fatalf("expected nil, got %+v", np)
	}
}

func TestEnclosingPackageJSONWalksUp(t *testing.T) {
	c := newTestCache(map[string]string{
		"/project/package.json": `{"name":"root"}`,
		"/project/src/index.js": "",
	}, nil)

	src := c.Value("/project/src")
	pkg, err := src.EnclosingPackageJSON()
	if err != nil {
		t.Fatal(err)
	}
	if pkg == nil || pkg.Name != "root" {
		t.Fatalf("got %+v", pkg)
	}
}

func TestSideEffectsParsing(t *testing.T) {
	c := newTestCache(map[string]string{
		"/project/package.json": `{"sideEffects": ["*.css", "./polyfills.js"]}`,
	}, nil)

	pkg, err := c.Value("/project").PackageJSON()
	if err != nil {
		t.Fatal(err)
	}
	if pkg.SideEffects.Kind != SideEffectsGlobs || len(pkg.SideEffects.Globs) != 2 {
		t.Fatalf("got %+v", pkg.SideEffects)
	}
}

func TestCanonicalizeFollowsSymlink(t *testing.T) {
	c := newTestCache(
		map[string]string{"/store/pkg/index.js": ""},
		map[string]string{"/project/node_modules/pkg": "/store/pkg"},
	)

	h := c.Value("/project/node_modules/pkg")
	canon, err := h.Canonicalize()
	if err != nil {
		t.Fatal(err)
	}
	if canon.Path != "/store/pkg" {
		t.Fatalf("got %q", canon.Path)
	}
}

func TestCanonicalizeDetectsCycle(t *testing.T) {
	c := newTestCache(nil, map[string]string{
		"/a": "/b",
		"/b": "/a",
	})

	_, err := c.Value("/a").Canonicalize()
	if err == nil {
		t.Fatal("expected a cycle error")
	}
	if _, ok := err.(*CycleError); !ok {
		t.Fatalf("expected *CycleError, got %T: %v", err, err)
	}
}

func TestClearStartsFreshGeneration(t *testing.T) {
	c := newTestCache(map[string]string{"/project/package.json": "{}"}, nil)
	a := c.Value("/project")
	c.Clear()
	b := c.Value("/project")
	if a == b {
		t.Fatal("expected a new Handle after Clear")
	}
}
