// Package pathexpr implements the small path-expression grammar used to
// extract values from provider response documents: dot-separated fields,
// bracketed integer indices, and a [*] wildcard that fans out over array
// elements. Expressions are compiled once per distinct path string and
// cached process-wide.
package pathexpr

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

type segKind int

const (
	segField segKind = iota
	segIndex
	segWildcard
)

type segment struct {
	kind  segKind
	field string
	index int
}

// Expr is a compiled path expression.
type Expr struct {
	raw  string
	segs []segment
}

// String returns the source text of the expression.
func (e *Expr) String() string { return e.raw }

var (
	cacheMu sync.RWMutex
	cache   = map[string]*Expr{}
)

// Compile parses a path expression, returning a cached instance when the
// same source string was compiled before.
func Compile(path string) (*Expr, error) {
	cacheMu.RLock()
	e, ok := cache[path]
	cacheMu.RUnlock()
	if ok {
		return e, nil
	}

	e, err := parse(path)
	if err != nil {
		return nil, err
	}

	cacheMu.Lock()
	cache[path] = e
	cacheMu.Unlock()
	return e, nil
}

// MustCompile is Compile for expressions known valid at build time.
func MustCompile(path string) *Expr {
	e, err := Compile(path)
	if err != nil {
		panic(err)
	}
	return e
}

func parse(path string) (*Expr, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("pathexpr: empty path")
	}
	e := &Expr{raw: path}
	rest := path
	for len(rest) > 0 {
		switch {
		case rest[0] == '.':
			rest = rest[1:]
			if rest == "" {
				return nil, fmt.Errorf("pathexpr: trailing dot in %q", path)
			}
		case rest[0] == '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("pathexpr: unterminated bracket in %q", path)
			}
			inner := rest[1:end]
			rest = rest[end+1:]
			if inner == "*" {
				e.segs = append(e.segs, segment{kind: segWildcard})
				continue
			}
			n, err := strconv.Atoi(inner)
			if err != nil {
				return nil, fmt.Errorf("pathexpr: bad index %q in %q", inner, path)
			}
			e.segs = append(e.segs, segment{kind: segIndex, index: n})
		default:
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			e.segs = append(e.segs, segment{kind: segField, field: rest[:end]})
			rest = rest[end:]
		}
	}
	return e, nil
}

// Eval walks the document and returns every match in source order. A
// wildcard fans out over each array element; other segments yield at most
// one value. Missing fields and out-of-range indices yield no matches.
func (e *Expr) Eval(doc any) []any {
	var out []any
	eval(doc, e.segs, &out)
	return out
}

// First returns the first match, if any.
func (e *Expr) First(doc any) (any, bool) {
	matches := e.Eval(doc)
	if len(matches) == 0 {
		return nil, false
	}
	return matches[0], true
}

func eval(doc any, segs []segment, out *[]any) {
	if doc == nil {
		return
	}
	if len(segs) == 0 {
		*out = append(*out, doc)
		return
	}
	seg := segs[0]
	switch seg.kind {
	case segField:
		m, ok := doc.(map[string]any)
		if !ok {
			return
		}
		v, ok := m[seg.field]
		if !ok {
			return
		}
		eval(v, segs[1:], out)
	case segIndex:
		arr, ok := doc.([]any)
		if !ok || seg.index < 0 || seg.index >= len(arr) {
			return
		}
		eval(arr[seg.index], segs[1:], out)
	case segWildcard:
		arr, ok := doc.([]any)
		if !ok {
			return
		}
		for _, item := range arr {
			eval(item, segs[1:], out)
		}
	}
}
