package specifier

import "testing"

func parse(t *testing.T, raw string, windows bool) Specifier {
	t.Helper()
	s, err := Parse(raw, windows)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", raw, err)
	}
	return s
}

func TestClassifyRelative(t *testing.T) {
	for _, raw := range []string{".", "..", "./a", "../a/b"} {
		s := parse(t, raw, false)
		if s.Class != Relative {
			t.Errorf("%q: got %v, want Relative", raw, s.Class)
		}
	}
}

func TestClassifyAbsolutePosix(t *testing.T) {
	s := parse(t, "/usr/lib/foo.js", false)
	if s.Class != Absolute {
		t.Fatalf("got %v", s.Class)
	}
}

func TestClassifyAbsoluteWindows(t *testing.T) {
	cases := []string{`C:\foo\bar.js`, `C:/foo/bar.js`, `\\server\share\a`}
	for _, raw := range cases {
		s := parse(t, raw, true)
		if s.Class != Absolute {
			t.Errorf("%q: got %v, want Absolute", raw, s.Class)
		}
	}
	// Not absolute without Windows mode.
	s := parse(t, `C:\foo\bar.js`, false)
	if s.Class != Module {
		t.Fatalf("expected Module on non-Windows, got %v", s.Class)
	}
}

func TestClassifyHash(t *testing.T) {
	s := parse(t, "#internal/util", false)
	if s.Class != Hash {
		t.Fatalf("got %v", s.Class)
	}
}

func TestClassifyModuleScoped(t *testing.T) {
	s := parse(t, "@scope/name/sub/path", false)
	if s.Class != Module {
		t.Fatalf("got %v", s.Class)
	}
	name, sub := SplitModule(s.Path)
	if name != "@scope/name" || sub != "/sub/path" {
		t.Fatalf("got name=%q sub=%q", name, sub)
	}
}

func TestClassifyModuleUnscoped(t *testing.T) {
	name, sub := SplitModule("lodash/debounce")
	if name != "lodash" || sub != "/debounce" {
		t.Fatalf("got name=%q sub=%q", name, sub)
	}
	name, sub = SplitModule("lodash")
	if name != "lodash" || sub != "" {
		t.Fatalf("got name=%q sub=%q", name, sub)
	}
}

func TestQueryAndFragmentSplit(t *testing.T) {
	s := parse(t, "./foo.css?raw", false)
	if s.Path != "./foo.css" || s.Query != "?raw" || s.Frag != "" {
		t.Fatalf("got %+v", s)
	}

	s = parse(t, "./foo.svg#fragment", false)
	if s.Path != "./foo.svg" || s.Frag != "#fragment" || s.Query != "" {
		t.Fatalf("got %+v", s)
	}
}

func TestNulEscapedDelimitersPreserved(t *testing.T) {
	s := parse(t, "./weird\x00#name.js", false)
	if s.Path != "./weird#name.js" {
		t.Fatalf("got path %q", s.Path)
	}
	if s.Query != "" || s.Frag != "" {
		t.Fatalf("expected no query/fragment, got %+v", s)
	}
}

func TestEmptySpecifierIsError(t *testing.T) {
	if _, err := Parse("", false); err == nil {
		t.Fatal("expected error for empty specifier")
	}
}

func TestFileURLDecodesToAbsolute(t *testing.T) {
	s := parse(t, "file:///usr/lib/foo.js", false)
	if s.Class != Absolute || s.Path != "/usr/lib/foo.js" {
		t.Fatalf("got %+v", s)
	}
}

func TestFileURLWindowsDriveLetter(t *testing.T) {
	s := parse(t, "file:///C:/foo/bar.js", true)
	if s.Class != Absolute || s.Path != "C:/foo/bar.js" {
		t.Fatalf("got %+v", s)
	}
}
