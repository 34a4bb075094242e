// Package exports implements Node's PACKAGE_EXPORTS_RESOLVE and
// PACKAGE_IMPORTS_RESOLVE algorithms (spec §4.6, component C7): matching a
// subpath against a package.json "exports"/"imports" field under an active
// condition set. Grounded on the teacher's
// evanw-esbuild/internal/resolver/package_json.go (the peEntry/peMap
// family — parseExportsMap, esmPackageExportsResolve,
// esmPackageImportsExportsResolve, esmPackageTargetResolve), adapted to
// read directly from an internal/jsonc.Value DOM instead of a parsed JS
// AST, since resolvekit never needs the rest of a js_ast.Expr.
package exports

import (
	"net/url"
	"sort"
	"strings"

	"github.com/resolvekit/resolvekit/internal/jsonc"
)

// Status mirrors the teacher's peStatus: the outcome of walking one
// exports/imports target, distinguishing "no match, keep trying" (Null,
// Undefined) from a terminal success or a terminal, user-visible failure.
type Status uint8

const (
	StatusUndefined Status = iota
	StatusNull
	StatusExact
	StatusInexact // matched via a trailing "/" directory key; the caller also tries an index-file fall-through
	StatusInvalidModuleSpecifier
	StatusInvalidPackageConfiguration
	StatusInvalidPackageTarget
	StatusPackagePathNotExported
	StatusUnsupportedDirectoryImport
)

// Result is the outcome of a PackageExportsResolve/PackageImportsResolve
// call.
type Result struct {
	Path   string // relative to the package root, "./"-prefixed
	Status Status
}

func (r Result) Matched() bool {
	return r.Status == StatusExact || r.Status == StatusInexact
}

// entryKind classifies one exports/imports DOM node the same way peKind
// does for the teacher's AST-backed version.
type entryKind uint8

const (
	kindNull entryKind = iota
	kindString
	kindArray
	kindObject
	kindInvalid
)

type entry struct {
	kind          entryKind
	str           string
	arr           []entry
	keys          []string // object keys, in declared order
	values        map[string]entry
	expansionKeys []string // object keys ending in "/" or "*", sorted longest-first
}

func (e entry) valueForKey(key string) (entry, bool) {
	v, ok := e.values[key]
	return v, ok
}

func (e entry) keysStartWithDot() bool {
	return len(e.keys) > 0 && strings.HasPrefix(e.keys[0], ".")
}

// parse converts a raw jsonc.Value (the exports or imports field) into the
// entry tree, rejecting an object that mixes subpath keys and condition
// keys (spec §4.6 step 3).
func parse(v jsonc.Value) entry {
	switch v.Kind {
	case jsonc.KindNull:
		return entry{kind: kindNull}
	case jsonc.KindString:
		return entry{kind: kindString, str: v.Str}
	case jsonc.KindArray:
		arr := make([]entry, len(v.Array))
		for i, item := range v.Array {
			arr[i] = parse(item)
		}
		return entry{kind: kindArray, arr: arr}
	case jsonc.KindObject:
		return parseObject(v)
	default:
		return entry{kind: kindInvalid}
	}
}

func parseObject(v jsonc.Value) entry {
	keys := make([]string, 0, len(v.Object))
	values := make(map[string]entry, len(v.Object))
	var expansionKeys []string
	var isConditionalSugar bool

	for i, m := range v.Object {
		curIsConditionalSugar := !strings.HasPrefix(m.Key, ".")
		if i == 0 {
			isConditionalSugar = curIsConditionalSugar
		} else if isConditionalSugar != curIsConditionalSugar {
			return entry{kind: kindInvalid}
		}

		keys = append(keys, m.Key)
		values[m.Key] = parse(m.Value)
		if strings.HasSuffix(m.Key, "/") || strings.HasSuffix(m.Key, "*") {
			expansionKeys = append(expansionKeys, m.Key)
		}
	}

	sort.SliceStable(expansionKeys, func(i, j int) bool {
		return len(expansionKeys[i]) > len(expansionKeys[j])
	})

	return entry{kind: kindObject, keys: keys, values: values, expansionKeys: expansionKeys}
}

// PackageExportsResolve implements PACKAGE_EXPORTS_RESOLVE: subpath is
// "." or "./sub", exportsField is the package.json "exports" raw value,
// and conditions is the active condition set (e.g. {"node": true,
// "import": true}).
func PackageExportsResolve(subpath string, exportsField jsonc.Value, conditions map[string]bool) Result {
	root := parse(exportsField)
	if root.kind == kindInvalid {
		return Result{Status: StatusInvalidPackageConfiguration}
	}

	if subpath == "." {
		main := entry{kind: kindNull}
		switch {
		case root.kind == kindString || root.kind == kindArray || (root.kind == kindObject && !root.keysStartWithDot()):
			main = root
		case root.kind == kindObject:
			if dot, ok := root.valueForKey("."); ok {
				main = dot
			}
		}
		if main.kind != kindNull {
			path, status := targetResolve(main, "", false, conditions)
			if status != StatusNull && status != StatusUndefined {
				return Result{Path: path, Status: status}
			}
		}
	} else if root.kind == kindObject && root.keysStartWithDot() {
		path, status := importsExportsResolve(subpath, root, conditions)
		if status != StatusNull && status != StatusUndefined {
			return Result{Path: path, Status: status}
		}
	}

	return Result{Status: StatusPackagePathNotExported}
}

// PackageImportsResolve implements PACKAGE_IMPORTS_RESOLVE: specifier
// starts with "#" (spec's Hash class).
func PackageImportsResolve(specifier string, importsField jsonc.Value, conditions map[string]bool) Result {
	root := parse(importsField)
	if root.kind == kindInvalid {
		return Result{Status: StatusInvalidPackageConfiguration}
	}
	if specifier == "#" || strings.HasPrefix(specifier, "#/") {
		return Result{Status: StatusInvalidModuleSpecifier}
	}
	if root.kind != kindObject {
		return Result{Status: StatusPackagePathNotExported}
	}
	path, status := importsExportsResolve(specifier, root, conditions)
	if status == StatusNull || status == StatusUndefined {
		return Result{Status: StatusPackagePathNotExported}
	}
	return Result{Path: path, Status: status}
}

func importsExportsResolve(matchKey string, matchObj entry, conditions map[string]bool) (string, Status) {
	if !strings.HasSuffix(matchKey, "*") {
		if target, ok := matchObj.valueForKey(matchKey); ok {
			return targetResolve(target, "", false, conditions)
		}
	}

	for _, key := range matchObj.expansionKeys {
		target := matchObj.values[key]
		if strings.HasSuffix(key, "*") {
			prefix := key[:len(key)-1]
			if strings.HasPrefix(matchKey, prefix) && matchKey != prefix {
				subpath := matchKey[len(prefix):]
				return targetResolve(target, subpath, true, conditions)
			}
			continue
		}
		if strings.HasPrefix(matchKey, key) {
			path, status := targetResolve(target, matchKey[len(key):], false, conditions)
			if status == StatusExact {
				status = StatusInexact
			}
			return path, status
		}
	}

	return "", StatusNull
}

// hasInvalidSegment reports a "." / ".." / "node_modules" path segment
// after the first segment (spec §4.6 failure mode: InvalidPackageTarget).
func hasInvalidSegment(path string) bool {
	slash := strings.IndexAny(path, "/\\")
	if slash == -1 {
		return false
	}
	rest := path[slash+1:]
	for rest != "" {
		slash := strings.IndexAny(rest, "/\\")
		segment := rest
		if slash != -1 {
			segment = rest[:slash]
			rest = rest[slash+1:]
		} else {
			rest = ""
		}
		if segment == "." || segment == ".." || segment == "node_modules" {
			return true
		}
	}
	return false
}

func targetResolve(target entry, subpath string, pattern bool, conditions map[string]bool) (string, Status) {
	switch target.kind {
	case kindString:
		if !pattern && subpath != "" && !strings.HasSuffix(target.str, "/") {
			return target.str, StatusInvalidModuleSpecifier
		}
		if !strings.HasPrefix(target.str, "./") {
			return target.str, StatusInvalidPackageTarget
		}
		if hasInvalidSegment(target.str) {
			return target.str, StatusInvalidPackageTarget
		}
		if hasInvalidSegment(subpath) {
			return subpath, StatusInvalidModuleSpecifier
		}
		if pattern {
			return strings.ReplaceAll(target.str, "*", subpath), StatusExact
		}
		return joinPackagePath(target.str, subpath), StatusExact

	case kindObject:
		for _, key := range target.keys {
			if key == "default" || conditions[key] {
				path, status := targetResolve(target.values[key], subpath, pattern, conditions)
				if status == StatusUndefined {
					continue
				}
				return path, status
			}
		}
		return "", StatusUndefined

	case kindArray:
		if len(target.arr) == 0 {
			return "", StatusNull
		}
		last := StatusUndefined
		for _, item := range target.arr {
			path, status := targetResolve(item, subpath, pattern, conditions)
			if status == StatusInvalidPackageTarget || status == StatusNull {
				last = status
				continue
			}
			if status == StatusUndefined {
				continue
			}
			return path, status
		}
		return "", last

	case kindNull:
		return "", StatusNull

	default:
		return "", StatusInvalidPackageTarget
	}
}

// joinPackagePath concatenates a "./"-relative target with a trailing
// subpath, collapsing the double slash at the seam without otherwise
// touching "." / ".." segments (both sides have already been checked by
// hasInvalidSegment).
func joinPackagePath(target, subpath string) string {
	if subpath == "" {
		return target
	}
	if strings.HasSuffix(target, "/") {
		return target + strings.TrimPrefix(subpath, "/")
	}
	return target + "/" + strings.TrimPrefix(subpath, "/")
}

// CheckPercentEncodedSlashes rejects a resolved path containing an
// encoded "/" or "\" (spec: Node throws Invalid Module Specifier here),
// and percent-decodes everything else.
func CheckPercentEncodedSlashes(resolved string) (string, bool) {
	if strings.Contains(resolved, "%2f") || strings.Contains(resolved, "%2F") ||
		strings.Contains(resolved, "%5c") || strings.Contains(resolved, "%5C") {
		return resolved, false
	}
	decoded, err := url.PathUnescape(resolved)
	if err != nil {
		return resolved, false
	}
	return decoded, true
}
