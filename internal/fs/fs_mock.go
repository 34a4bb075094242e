package fs

import (
	"github.com/resolvekit/resolvekit/internal/pathnorm"
)

// mockFS is an in-memory filesystem for tests. It never touches the OS;
// every test package in resolvekit builds one from a map of path -> contents
// (ported from the teacher's fs_mock.go, which the same corner of the
// teacher's test suite — resolver_test.go, yarnpnp_test.go — relies on).
type mockFS struct {
	norm     pathnorm.Normalizer
	cwd      string
	dirs     map[string]DirEntries
	files    map[string]string
	symlinks map[string]string // absolute path -> absolute target
}

// MockOptions seeds a mock filesystem.
type MockOptions struct {
	Windows  bool
	Cwd      string
	Files    map[string]string // absolute path -> contents
	Symlinks map[string]string // absolute path -> absolute target (the entry itself is a symlink)
}

func Mock(opts MockOptions) FS {
	norm := pathnorm.Normalizer{Windows: opts.Windows}
	cwd := opts.Cwd
	if cwd == "" {
		cwd = "/"
	}

	m := &mockFS{
		norm:     norm,
		cwd:      cwd,
		dirs:     make(map[string]DirEntries),
		files:    make(map[string]string),
		symlinks: opts.Symlinks,
	}

	for path, contents := range opts.Files {
		m.files[path] = contents
		m.addToParentDirs(path, FileEntry)
	}
	for path := range opts.Symlinks {
		m.addToParentDirs(path, FileEntry)
	}

	return m
}

func (m *mockFS) addToParentDirs(leaf string, leafKind EntryKind) {
	kind := leafKind
	current := leaf
	for {
		parent := m.norm.Dir(current)
		if parent == current {
			break
		}
		dir, ok := m.dirs[parent]
		if !ok {
			dir = NewDirEntries(parent)
			m.dirs[parent] = dir
		}
		base := m.norm.Base(current)
		dir.data[lowerASCII(base)] = &Entry{dir: parent, base: base, kind: kind}
		current = parent
		kind = DirEntry
	}
}

func (m *mockFS) ReadFile(path string) (string, error) {
	if target, ok := m.symlinks[path]; ok {
		return m.ReadFile(target)
	}
	contents, ok := m.files[path]
	if !ok {
		return "", NewNotExist(path)
	}
	return contents, nil
}

func (m *mockFS) ReadDir(path string) (DirEntries, error) {
	dir, ok := m.dirs[path]
	if !ok {
		return DirEntries{}, NewNotExist(path)
	}
	return dir, nil
}

func (m *mockFS) Readlink(path string) (string, error) {
	target, ok := m.symlinks[path]
	if !ok {
		return "", NewNotExist(path)
	}
	return target, nil
}

func (m *mockFS) Realpath(path string) (string, error) {
	seen := map[string]bool{}
	current := path
	for {
		target, ok := m.symlinks[current]
		if !ok {
			return current, nil
		}
		if seen[current] {
			return "", &cycleError{path}
		}
		seen[current] = true
		current = target
	}
}

type cycleError struct{ path string }

func (e *cycleError) Error() string { return "symlink cycle at " + e.path }

func (m *mockFS) IsAbs(path string) bool         { return m.norm.IsAbs(path) }
func (m *mockFS) Join(parts ...string) string    { return m.norm.Join(parts...) }
func (m *mockFS) Dir(path string) string         { return m.norm.Dir(path) }
func (m *mockFS) Base(path string) string        { return m.norm.Base(path) }
func (m *mockFS) Ext(path string) string         { return m.norm.Ext(path) }
func (m *mockFS) Cwd() string                    { return m.cwd }
func (m *mockFS) Rel(base, t string) (string, bool) {
	return relPOSIXish(m.norm, base, t)
}

func (m *mockFS) statEntry(dir, base string) (symlink string, kind EntryKind) {
	entries, ok := m.dirs[dir]
	if !ok {
		return "", 0
	}
	entry, _ := entries.Get(base)
	if entry == nil {
		return "", 0
	}
	full := m.norm.Join(dir, base)
	if target, ok := m.symlinks[full]; ok {
		return target, entry.kind
	}
	return "", entry.kind
}
