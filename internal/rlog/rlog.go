// Package rlog is resolvekit's diagnostics collector. It plays the same
// role as the teacher's internal/logger package — accumulate messages
// during one unit of work, then let the caller decide whether to print them
// — but scaled down to what a resolver needs: resolvekit has no source text
// to underline (package.json/tsconfig errors carry a byte offset, not a
// line/column snippet) and no parallel build summary to print, so most of
// the teacher's terminal-rendering machinery has no job here.
package rlog

import (
	"fmt"
	"strings"
)

type Level uint8

const (
	Debug Level = iota
	Verbose
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Verbose:
		return "verbose"
	case Info:
		return "info"
	case Warn:
		return "warn"
	default:
		return "error"
	}
}

// Msg is one diagnostic: a message plus any supporting notes, e.g. a trail
// of candidate paths that were tried before giving up.
type Msg struct {
	Level Level
	Text  string
	Notes []string
}

// Log collects Msg values. The zero value is ready to use. It is not safe
// for concurrent writes from multiple goroutines without external locking
// — each resolverQuery-equivalent owns its own Log for the duration of one
// Resolve call, mirroring the teacher's per-call debugLogs.
type Log struct {
	MinLevel Level
	msgs     []Msg
}

func (l *Log) Add(level Level, text string, notes ...string) {
	if level < l.MinLevel {
		return
	}
	l.msgs = append(l.msgs, Msg{Level: level, Text: text, Notes: notes})
}

func (l *Log) Debugf(format string, args ...interface{}) {
	l.Add(Debug, fmt.Sprintf(format, args...))
}

func (l *Log) Warnf(format string, args ...interface{}) {
	l.Add(Warn, fmt.Sprintf(format, args...))
}

func (l *Log) Messages() []Msg {
	return l.msgs
}

func (l *Log) HasErrors() bool {
	for _, m := range l.msgs {
		if m.Level == Error {
			return true
		}
	}
	return false
}

// String renders the accumulated messages as plain text, one per line with
// notes indented beneath. This is what the CLI (cmd/resolvekit) prints with
// --verbose; library callers are free to ignore it entirely and just use
// the typed *resolve.ResolveError returned alongside.
func (l *Log) String() string {
	var b strings.Builder
	for _, m := range l.msgs {
		fmt.Fprintf(&b, "[%s] %s\n", m.Level, m.Text)
		for _, note := range m.Notes {
			fmt.Fprintf(&b, "    %s\n", note)
		}
	}
	return b.String()
}

// Trace is the accumulate-then-flush helper used by the resolution pipeline
// to build up a narrative of one resolve attempt (ported idiom: the
// teacher's resolverQuery.debugLogs, which only pays its formatting cost
// when something is actually listening at Debug/Verbose level).
type Trace struct {
	log    *Log
	what   string
	indent string
	notes  []string
}

func NewTrace(log *Log, what string) *Trace {
	if log == nil || log.MinLevel > Debug {
		return nil
	}
	return &Trace{log: log, what: what}
}

func (t *Trace) Note(format string, args ...interface{}) {
	if t == nil {
		return
	}
	text := fmt.Sprintf(format, args...)
	if t.indent != "" {
		text = t.indent + text
	}
	t.notes = append(t.notes, text)
}

func (t *Trace) Indent()   { t.indentBy(1) }
func (t *Trace) Unindent() { t.indentBy(-1) }

func (t *Trace) indentBy(n int) {
	if t == nil {
		return
	}
	if n > 0 {
		t.indent += "  "
	} else if len(t.indent) >= 2 {
		t.indent = t.indent[:len(t.indent)-2]
	}
}

// Flush appends the trace to the underlying Log at the given level — Debug
// on failure (so a caller who only wants to know why something broke sees
// it), Verbose on success (so a caller who wants a full narrative opts in).
func (t *Trace) Flush(level Level) {
	if t == nil {
		return
	}
	t.log.Add(level, t.what, t.notes...)
}
