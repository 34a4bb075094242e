package resolve

import (
	"github.com/resolvekit/resolvekit/internal/fs"
	"github.com/resolvekit/resolvekit/internal/rewrite"
)

// EnforceExtension controls whether LOAD_AS_FILE may try a candidate path
// with no extension appended at all (spec §6).
type EnforceExtension uint8

const (
	// EnforceExtensionAuto enforces extensions iff Extensions contains an
	// empty string, matching the teacher's own convention for
	// Options.ExtensionOrder (an empty entry in the list means "try bare",
	// so the bare attempt happens only at that entry's position). Without
	// one, the bare path is tried first, before any extension is appended.
	EnforceExtensionAuto EnforceExtension = iota
	EnforceExtensionEnabled
	EnforceExtensionDisabled
)

// ModuleType is attached to a successful Resolution (spec §3.1) per the
// ESM_FILE_FORMAT algorithm.
type ModuleType uint8

const (
	ModuleTypeUnknown ModuleType = iota
	ModuleTypeCommonJS
	ModuleTypeESM
	ModuleTypeJSON
	ModuleTypeWasm
	ModuleTypeAddon
)

// TsconfigReferences names the "references: Auto|List|None" modes of
// spec §6. The resolver does not read Options.Tsconfig.References or
// ReferenceList: a loaded tsconfig's references always come from its own
// "references" field.
type TsconfigReferences uint8

const (
	TsconfigReferencesNone TsconfigReferences = iota
	TsconfigReferencesAuto
	TsconfigReferencesList
)

// TsconfigOptions configures the tsconfig engine (component C6).
type TsconfigOptions struct {
	ConfigFile string // explicit path; empty means auto-discover per directory
	References TsconfigReferences
	// ReferenceList is stored but not read (see TsconfigReferences).
	ReferenceList []string
}

// AliasEntry is one ordered row of Options.Alias/Options.Fallback: ordinary
// npm-style key matching (exact, directory-prefix, or "*" wildcard) against
// a list of candidate replacement specifiers tried in order. An entry with
// an empty Targets list (rather than one containing the literal "false"
// marker) means the matched specifier is disabled outright.
type AliasEntry struct {
	Key     string
	Targets []string
}

// Restrictions bounds where a successful resolution is allowed to land
// (spec §4.8 step 7): either an allow-list of path prefixes, a caller
// predicate, or both (both must pass when both are set).
type Restrictions struct {
	AllowedPrefixes []string
	Predicate       func(resolvedPath string) bool
}

func (r Restrictions) empty() bool {
	return len(r.AllowedPrefixes) == 0 && r.Predicate == nil
}

// Options is resolvekit's full behavioral contract (spec §6), extended with
// the package-alias and recursion-limit additions SPEC_FULL.md adds beyond
// the distilled spec.
type Options struct {
	FS fs.FS

	Alias          []AliasEntry
	Fallback       []AliasEntry
	AliasFields    []string // e.g. ["browser"]
	ExtensionAlias map[string][]string

	ConditionNames []string
	ExportsFields  [][]string // default [["exports"]]
	ImportsFields  [][]string // default [["imports"]]

	Extensions       []string // default [".js", ".json", ".node"]
	EnforceExtension EnforceExtension

	MainFields []string // default ["main"]
	MainFiles  []string // default ["index"]

	FullySpecified bool
	PreferRelative bool
	PreferAbsolute bool

	Restrictions Restrictions
	Roots        []string

	Symlinks        bool // canonicalize resolved paths; zero value false, withDefaults leaves it unset
	BuiltinModules  map[string]bool
	ModuleType      ModuleType
	AllowPackageExportsInDirectoryResolve bool

	YarnPnP bool

	Tsconfig TsconfigOptions

	// PackageAliases is a supplemented feature (SPEC_FULL.md): a simple
	// package-name substitution table consulted before Alias, restarting
	// resolution from the caller's cwd (internal/rewrite.ApplyAlias).
	PackageAliases rewrite.AliasTable

	// RecursionLimit bounds how deeply resolveClassified may nest within one
	// Resolve call (alias, package-alias and browser-field re-resolution;
	// spec §5: "default 64"). Zero means "use the default." Exports matching
	// and tsconfig "extends" chains are not counted against it; an extends
	// cycle is caught by its visited set instead.
	RecursionLimit int

	Windows bool
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Extensions == nil {
		out.Extensions = []string{".js", ".json", ".node"}
	}
	if out.MainFields == nil {
		out.MainFields = []string{"main"}
	}
	if out.MainFiles == nil {
		out.MainFiles = []string{"index"}
	}
	if out.ExportsFields == nil {
		out.ExportsFields = [][]string{{"exports"}}
	}
	if out.ImportsFields == nil {
		out.ImportsFields = [][]string{{"imports"}}
	}
	if out.RecursionLimit == 0 {
		out.RecursionLimit = 64
	}
	if out.ConditionNames == nil {
		out.ConditionNames = []string{"node", "require"}
	}
	return out
}

// conditionSet turns ConditionNames into the map shape internal/exports
// expects. "default" is not added here: internal/exports matches a
// "default" key on its own (spec §4.6 step 3, "equals default").
func (o *Options) conditionSet() map[string]bool {
	set := make(map[string]bool, len(o.ConditionNames)+1)
	for _, c := range o.ConditionNames {
		set[c] = true
	}
	return set
}

// extensionOrder returns the candidate extension list LOAD_AS_FILE walks,
// with a leading "" (bare, no extension) entry when the enforce-extension
// policy allows it.
func (o *Options) extensionOrder() []string {
	enforce := o.EnforceExtension
	if enforce == EnforceExtensionAuto {
		enforce = EnforceExtensionDisabled
		for _, e := range o.Extensions {
			if e == "" {
				enforce = EnforceExtensionEnabled
				break
			}
		}
	}
	if enforce == EnforceExtensionEnabled {
		return o.Extensions
	}
	order := make([]string, 0, len(o.Extensions)+1)
	order = append(order, "")
	order = append(order, o.Extensions...)
	return order
}
