package exports

import (
	"testing"

	"github.com/resolvekit/resolvekit/internal/jsonc"
)

func parseField(t *testing.T, src string) jsonc.Value {
	t.Helper()
	v, err := jsonc.Parse(src, jsonc.Options{Path: "package.json"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return v
}

func TestExportsStringShorthand(t *testing.T) {
	v := parseField(t, `"./main.js"`)
	r := PackageExportsResolve(".", v, map[string]bool{"node": true})
	if !r.Matched() || r.Path != "./main.js" {
		t.Fatalf("got %+v", r)
	}
}

func TestExportsConditionalMain(t *testing.T) {
	v := parseField(t, `{"import": "./esm.js", "require": "./cjs.js", "default": "./fallback.js"}`)
	r := PackageExportsResolve(".", v, map[string]bool{"import": true})
	if !r.Matched() || r.Path != "./esm.js" {
		t.Fatalf("got %+v", r)
	}

	r2 := PackageExportsResolve(".", v, map[string]bool{"require": true})
	if !r2.Matched() || r2.Path != "./cjs.js" {
		t.Fatalf("got %+v", r2)
	}

	r3 := PackageExportsResolve(".", v, map[string]bool{"browser": true})
	if !r3.Matched() || r3.Path != "./fallback.js" {
		t.Fatalf("expected default fallback, got %+v", r3)
	}
}

func TestExportsSubpathExact(t *testing.T) {
	v := parseField(t, `{".": "./main.js", "./feature": "./feature.js"}`)
	r := PackageExportsResolve("./feature", v, map[string]bool{"node": true})
	if !r.Matched() || r.Path != "./feature.js" {
		t.Fatalf("got %+v", r)
	}
}

func TestExportsSubpathWildcard(t *testing.T) {
	v := parseField(t, `{"./features/*": "./src/features/*.js"}`)
	r := PackageExportsResolve("./features/foo", v, map[string]bool{"node": true})
	if !r.Matched() || r.Path != "./src/features/foo.js" {
		t.Fatalf("got %+v", r)
	}
}

func TestExportsWildcardLongestKeyWins(t *testing.T) {
	v := parseField(t, `{
		"./*": "./generic/*.js",
		"./features/*": "./src/features/*.js"
	}`)
	r := PackageExportsResolve("./features/foo", v, map[string]bool{"node": true})
	if !r.Matched() || r.Path != "./src/features/foo.js" {
		t.Fatalf("expected longer key to win, got %+v", r)
	}
}

func TestExportsNotExported(t *testing.T) {
	v := parseField(t, `{"./feature": "./feature.js"}`)
	r := PackageExportsResolve("./other", v, map[string]bool{"node": true})
	if r.Matched() || r.Status != StatusPackagePathNotExported {
		t.Fatalf("got %+v", r)
	}
}

func TestExportsNullBlocksEncapsulation(t *testing.T) {
	v := parseField(t, `{"./internal/*": null, "./feature": "./feature.js"}`)
	r := PackageExportsResolve("./internal/secret", v, map[string]bool{"node": true})
	if r.Matched() {
		t.Fatalf("expected no match for null target, got %+v", r)
	}
}

func TestExportsMixedKeysInvalid(t *testing.T) {
	v := parseField(t, `{".": "./main.js", "node": "./node.js"}`)
	r := PackageExportsResolve(".", v, map[string]bool{"node": true})
	if r.Status != StatusInvalidPackageConfiguration {
		t.Fatalf("expected InvalidPackageConfiguration, got %+v", r)
	}
}

func TestExportsArrayFallback(t *testing.T) {
	v := parseField(t, `{".": [{"deno": "./deno.js"}, "./fallback.js"]}`)
	r := PackageExportsResolve(".", v, map[string]bool{"node": true})
	if !r.Matched() || r.Path != "./fallback.js" {
		t.Fatalf("expected fallback past the unmatched condition object, got %+v", r)
	}
}

func TestExportsArraySkipsInvalidTarget(t *testing.T) {
	v := parseField(t, `{".": ["../escape.js", "./fallback.js"]}`)
	r := PackageExportsResolve(".", v, map[string]bool{"node": true})
	if !r.Matched() || r.Path != "./fallback.js" {
		t.Fatalf("expected fallback after invalid target, got %+v", r)
	}
}

func TestExportsInvalidSegmentRejected(t *testing.T) {
	v := parseField(t, `{"./feature": "./node_modules/evil.js"}`)
	r := PackageExportsResolve("./feature", v, map[string]bool{"node": true})
	if r.Matched() || r.Status != StatusInvalidPackageTarget {
		t.Fatalf("got %+v", r)
	}
}

func TestImportsHashResolves(t *testing.T) {
	v := parseField(t, `{"#internal/*": "./src/internal/*.js"}`)
	r := PackageImportsResolve("#internal/util", v, map[string]bool{"node": true})
	if !r.Matched() || r.Path != "./src/internal/util.js" {
		t.Fatalf("got %+v", r)
	}
}

func TestImportsBareHashInvalid(t *testing.T) {
	v := parseField(t, `{"#internal/*": "./src/internal/*.js"}`)
	r := PackageImportsResolve("#", v, map[string]bool{"node": true})
	if r.Status != StatusInvalidModuleSpecifier {
		t.Fatalf("got %+v", r)
	}
}

func TestCheckPercentEncodedSlashesRejectsEncodedSlash(t *testing.T) {
	if _, ok := CheckPercentEncodedSlashes("./foo%2fbar.js"); ok {
		t.Fatal("expected rejection of encoded slash")
	}
}

func TestCheckPercentEncodedSlashesDecodesOtherwise(t *testing.T) {
	decoded, ok := CheckPercentEncodedSlashes("./caf%C3%A9.js")
	if !ok {
		t.Fatal("expected decode success")
	}
	if decoded != "./café.js" {
		t.Fatalf("got %q", decoded)
	}
}
