package fs

import (
	"os"
	"runtime"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/resolvekit/resolvekit/internal/pathnorm"
)

// RealOptions configures the OS-backed implementation.
type RealOptions struct {
	// Cwd overrides the working directory used to resolve relative paths.
	// Defaults to os.Getwd().
	Cwd string

	// ReadCacheEntries bounds an LRU cache of file contents kept in front
	// of the OS read, per spec §6's allowance to "bypass kernel page cache
	// if a user-space cache is expected to dominate." Zero disables it.
	ReadCacheEntries int
}

type realFS struct {
	norm pathnorm.Normalizer
	cwd  string

	dirMutex sync.Mutex
	dirs     map[string]dirResult

	readCache *lru.Cache[string, string]
}

type dirResult struct {
	entries DirEntries
	err     error
}

// Real constructs an OS-backed FS.
func Real(opts RealOptions) (FS, error) {
	norm := pathnorm.Normalizer{Windows: runtime.GOOS == "windows"}

	cwd := opts.Cwd
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		cwd = wd
	}

	r := &realFS{norm: norm, cwd: norm.Clean(cwd), dirs: make(map[string]dirResult)}

	if opts.ReadCacheEntries > 0 {
		cache, err := lru.New[string, string](opts.ReadCacheEntries)
		if err != nil {
			return nil, err
		}
		r.readCache = cache
	}

	return r, nil
}

func (r *realFS) ReadFile(path string) (string, error) {
	if r.readCache != nil {
		if contents, ok := r.readCache.Get(path); ok {
			return contents, nil
		}
	}
	bytes, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewNotExist(path)
		}
		return "", err
	}
	contents := string(bytes)
	if r.readCache != nil {
		r.readCache.Add(path, contents)
	}
	return contents, nil
}

func (r *realFS) ReadDir(dir string) (DirEntries, error) {
	r.dirMutex.Lock()
	if cached, ok := r.dirs[dir]; ok {
		r.dirMutex.Unlock()
		return cached.entries, cached.err
	}
	r.dirMutex.Unlock()

	f, err := os.Open(dir)
	if err != nil {
		var result dirResult
		if os.IsNotExist(err) {
			result.err = NewNotExist(dir)
		} else {
			result.err = err
		}
		r.dirMutex.Lock()
		r.dirs[dir] = result
		r.dirMutex.Unlock()
		return DirEntries{}, result.err
	}
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		r.dirMutex.Lock()
		r.dirs[dir] = dirResult{err: err}
		r.dirMutex.Unlock()
		return DirEntries{}, err
	}

	entries := NewDirEntries(dir)
	for _, name := range names {
		entries.data[lowerASCII(name)] = &Entry{dir: dir, base: name, needStat: true}
	}

	r.dirMutex.Lock()
	r.dirs[dir] = dirResult{entries: entries}
	r.dirMutex.Unlock()
	return entries, nil
}

func (r *realFS) Readlink(path string) (string, error) {
	target, err := os.Readlink(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewNotExist(path)
		}
		return "", err
	}
	return target, nil
}

func (r *realFS) Realpath(path string) (string, error) {
	real, err := filepathEvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewNotExist(path)
		}
		return "", err
	}
	return real, nil
}

func (r *realFS) IsAbs(path string) bool { return r.norm.IsAbs(path) }
func (r *realFS) Join(parts ...string) string {
	return r.norm.Join(parts...)
}
func (r *realFS) Dir(path string) string  { return r.norm.Dir(path) }
func (r *realFS) Base(path string) string { return r.norm.Base(path) }
func (r *realFS) Ext(path string) string  { return r.norm.Ext(path) }
func (r *realFS) Cwd() string             { return r.cwd }

func (r *realFS) Rel(base, target string) (string, bool) {
	return relPOSIXish(r.norm, base, target)
}

func (r *realFS) statEntry(dir, base string) (symlink string, kind EntryKind) {
	entryPath := r.norm.Join(dir, base)
	info, err := os.Lstat(entryPath)
	if err != nil {
		return "", 0
	}
	mode := info.Mode()
	if mode&os.ModeSymlink != 0 {
		target, err := filepathEvalSymlinks(entryPath)
		if err != nil {
			return "", 0
		}
		targetInfo, err := os.Lstat(target)
		if err != nil {
			return "", 0
		}
		mode = targetInfo.Mode()
		symlink = target
	}
	if mode.IsDir() {
		kind = DirEntry
	} else {
		kind = FileEntry
	}
	return
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
