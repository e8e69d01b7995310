package eqsys

import (
	"fmt"
	"strings"
)

// Wildcard matches any single path segment or index element.
const Wildcard = "*"

// Path is a parsed variable path.
//
// Grammar:
//
//	path    = segment { "." segment } [ "[" element { "," element } "]" ]
//	element = bare | "'" text "'" | `"` text `"`
//
// Quotes around index elements are stripped; the canonical form never
// carries them. Index is nil when the path has no brackets.
type Path struct {
	Segments []string
	Index    []string
}

// ParsePath parses a dotted, optionally indexed path.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Path{}, &PathError{Op: "parse", Path: s, Reason: "empty path"}
	}

	base := s
	var index []string
	if open := strings.IndexByte(s, '['); open >= 0 {
		if !strings.HasSuffix(s, "]") {
			return Path{}, &PathError{Op: "parse", Path: s, Reason: "unterminated index"}
		}
		base = s[:open]
		inner := s[open+1 : len(s)-1]
		if strings.ContainsAny(inner, "[]") {
			return Path{}, &PathError{Op: "parse", Path: s, Reason: "nested index"}
		}
		parts := strings.Split(inner, ",")
		index = make([]string, 0, len(parts))
		for _, part := range parts {
			el := unquote(strings.TrimSpace(part))
			if el == "" {
				return Path{}, &PathError{Op: "parse", Path: s, Reason: "empty index element"}
			}
			index = append(index, el)
		}
	}

	segments := strings.Split(base, ".")
	for _, seg := range segments {
		if strings.TrimSpace(seg) == "" {
			return Path{}, &PathError{Op: "parse", Path: s, Reason: "empty segment"}
		}
	}
	return Path{Segments: segments, Index: index}, nil
}

// MustParsePath is ParsePath for literals known to be valid.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// Base returns the dotted part without the index.
func (p Path) Base() string {
	return strings.Join(p.Segments, ".")
}

// String returns the canonical form.
func (p Path) String() string {
	return FormatPath(p.Base(), p.Index...)
}

// Indexed reports whether the path carries an index.
func (p Path) Indexed() bool {
	return p.Index != nil
}

// HasWildcard reports whether any segment or index element is a wildcard.
func (p Path) HasWildcard() bool {
	for _, s := range p.Segments {
		if s == Wildcard {
			return true
		}
	}
	for _, el := range p.Index {
		if el == Wildcard {
			return true
		}
	}
	return false
}

// Match reports whether the concrete path c is selected by pattern p.
//
// A pattern without an index selects every member of an indexed family
// with the same base, as well as the unindexed variable of that name.
func (p Path) Match(c Path) bool {
	if len(p.Segments) != len(c.Segments) {
		return false
	}
	for i, seg := range p.Segments {
		if seg != Wildcard && seg != c.Segments[i] {
			return false
		}
	}
	if p.Index == nil {
		return true
	}
	if len(p.Index) != len(c.Index) {
		return false
	}
	for i, el := range p.Index {
		if el != Wildcard && el != c.Index[i] {
			return false
		}
	}
	return true
}

// FormatPath joins a base and index elements into canonical form.
func FormatPath(base string, index ...string) string {
	if len(index) == 0 {
		return base
	}
	return fmt.Sprintf("%s[%s]", base, strings.Join(index, ","))
}

// Join prefixes a local path with a unit name.
func Join(unit, local string) string {
	return unit + "." + local
}
