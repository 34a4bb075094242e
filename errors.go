// Package resolve implements a Node.js-compatible module resolution
// algorithm, extended with the bundler-era conventions real toolchains
// layer on top of it: tsconfig.json path mapping, package.json
// exports/imports conditions, browser-field and alias rewriting, and
// Yarn Plug'n'Play. It is grounded on evanw/esbuild's internal/resolver
// package, restructured as a standalone library with no bundler attached.
package resolve

import "fmt"

// ErrorKind names the failure classes a Resolve call can produce. Spec §7
// lists these by name ("Kinds (not type names)"); resolvekit keeps a
// single ResolveError struct carrying one of these kinds rather than a
// family of Go error types, so callers can switch on Kind without a type
// assertion per variant.
type ErrorKind uint8

const (
	KindNotFound ErrorKind = iota
	KindIOError
	KindJSONError
	KindInvalidPackageConfig
	KindInvalidPackageTarget
	KindPackagePathNotExported
	KindPackageImportNotDefined
	KindMatchedAliasNotFound
	KindExtensionAlias
	KindSpecifier
	KindRestriction
	KindBuiltin
	KindTsconfigNotFound
	KindTsconfigSelfReference
	KindTsconfigCircularExtends
	KindRecursion
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindIOError:
		return "IOError"
	case KindJSONError:
		return "JSONError"
	case KindInvalidPackageConfig:
		return "InvalidPackageConfig"
	case KindInvalidPackageTarget:
		return "InvalidPackageTarget"
	case KindPackagePathNotExported:
		return "PackagePathNotExported"
	case KindPackageImportNotDefined:
		return "PackageImportNotDefined"
	case KindMatchedAliasNotFound:
		return "MatchedAliasNotFound"
	case KindExtensionAlias:
		return "ExtensionAlias"
	case KindSpecifier:
		return "Specifier"
	case KindRestriction:
		return "Restriction"
	case KindBuiltin:
		return "Builtin"
	case KindTsconfigNotFound:
		return "TsconfigNotFound"
	case KindTsconfigSelfReference:
		return "TsconfigSelfReference"
	case KindTsconfigCircularExtends:
		return "TsconfigCircularExtends"
	case KindRecursion:
		return "Recursion"
	default:
		return "Unknown"
	}
}

// ResolveError is the single error type returned by every public entry
// point in this package. Spec §7: "a typed failure for every unsuccessful
// resolve."
type ResolveError struct {
	Kind ErrorKind

	// Specifier/Dir identify the request that failed.
	Specifier string
	Dir       string

	// Message is a human-readable description.
	Message string

	// TriedExtensions is populated for KindExtensionAlias (spec §7: "include
	// the list of tried extensions").
	TriedExtensions []string

	// PrefixedWithNodeColon is populated for KindBuiltin so the caller can
	// distinguish an authored "node:fs" from a bare "fs" that resolvekit
	// recognized as a builtin (spec §4.7's Builtin forwarding rule).
	PrefixedWithNodeColon bool

	// Wrapped is the underlying I/O or JSON parse error, when one exists.
	Wrapped error

	// FileDependencies/MissingDependencies are the side lists spec §7 says
	// must be populated "including on error", for an external file watcher.
	FileDependencies    []string
	MissingDependencies []string
}

func (e *ResolveError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (specifier %q in %q)", e.Kind, e.Message, e.Specifier, e.Dir)
	}
	return fmt.Sprintf("%s: specifier %q in %q", e.Kind, e.Specifier, e.Dir)
}

func (e *ResolveError) Unwrap() error { return e.Wrapped }

func newError(kind ErrorKind, dir, specifier, message string) *ResolveError {
	return &ResolveError{Kind: kind, Dir: dir, Specifier: specifier, Message: message}
}

func wrapIOError(dir, specifier string, err error) *ResolveError {
	return &ResolveError{Kind: KindIOError, Dir: dir, Specifier: specifier, Message: err.Error(), Wrapped: err}
}

// IsNotFound reports whether err is a ResolveError of KindNotFound — the
// only kind candidate iteration inside LOAD_AS_FILE/LOAD_AS_DIRECTORY is
// allowed to swallow and fall through on (spec §7).
func IsNotFound(err error) bool {
	re, ok := err.(*ResolveError)
	return ok && re.Kind == KindNotFound
}
