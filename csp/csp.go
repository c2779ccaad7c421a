// Package csp builds and merges Content-Security-Policy header values from
// per-page hash sets and configured directives.
package csp

import (
	"sort"
	"strings"
	"unicode"
)

const (
	ScriptSrc = "script-src"
	StyleSrc  = "style-src"

	SourceSelf = "'self'"
	SourceNone = "'none'"
)

// Directives maps directive names to their value strings. Rendering sorts by
// name, so the map needs no ordering of its own.
type Directives map[string]string

// Parse splits a header value into directives. Each entry is split on the
// first run of whitespace; valueless directives keep an empty value.
func Parse(header string) Directives {
	d := Directives{}
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		i := strings.IndexFunc(part, unicode.IsSpace)
		if i < 0 {
			d[part] = ""
			continue
		}
		d[part[:i]] = strings.TrimSpace(part[i:])
	}
	return d
}

// Render serializes the directives sorted by name, joined by "; ".
func (d Directives) Render() string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		if d[name] == "" {
			parts = append(parts, name)
			continue
		}
		parts = append(parts, name+" "+d[name])
	}
	return strings.Join(parts, "; ")
}

// SourceList renders a hash set as a directive value: 'self' followed by
// each hash quoted and sorted. An empty set is an explicit 'none', never an
// omitted directive.
func SourceList(hashes []string) string {
	if len(hashes) == 0 {
		return SourceNone
	}
	sorted := make([]string, len(hashes))
	copy(sorted, hashes)
	sort.Strings(sorted)
	var b strings.Builder
	b.WriteString(SourceSelf)
	for _, h := range sorted {
		b.WriteString(" '")
		b.WriteString(h)
		b.WriteString("'")
	}
	return b.String()
}

// Build combines, lowest precedence first, the configured defaults, any
// existing header value, and the freshly computed script/style source lists.
func Build(scripts, styles []string, defaults Directives, existing string) string {
	d := Directives{}
	for name, value := range defaults {
		d[name] = value
	}
	for name, value := range Parse(existing) {
		d[name] = value
	}
	d[ScriptSrc] = SourceList(scripts)
	d[StyleSrc] = SourceList(styles)
	return d.Render()
}
