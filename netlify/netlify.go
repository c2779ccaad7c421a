// Package netlify parses, merges, and serializes the line-oriented headers
// file Netlify uses for per-path response headers.
package netlify

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

type EntryKind int

const (
	KindComment EntryKind = iota
	KindBlank
	KindPath
)

// BlockEntry is one line inside a path block: either a comment (Comment set,
// Name empty) or a header.
type BlockEntry struct {
	Comment string
	Name    string
	Value   string
}

func (e BlockEntry) IsComment() bool {
	return e.Name == ""
}

// Entry is one top-level item of the file. Comments and blank lines keep
// their raw text so serialization round-trips byte-for-byte.
type Entry struct {
	Kind    EntryKind
	Raw     string
	Path    string
	Headers []BlockEntry
}

// Config is a parsed headers file.
type Config struct {
	IndentWith string
	Entries    []Entry
}

// Parse reads the headers-file grammar: blank lines, comment lines, and path
// lines each opening an indented block of comments and "Name: value" pairs.
// The indent string is inferred from the first indented line and must stay
// identical throughout; any violation is fatal with a 1-based line number.
func Parse(text string) (*Config, error) {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		// final newline, not a trailing blank entry
		lines = lines[:len(lines)-1]
	}

	cfg := &Config{}
	openBlock := -1
	closeOpen := func(line int) error {
		if openBlock < 0 {
			return nil
		}
		entry := cfg.Entries[openBlock]
		if countHeaders(entry.Headers) == 0 {
			return errors.Errorf("line %d: path block %q has no header entries", line, entry.Path)
		}
		openBlock = -1
		return nil
	}

	for i, line := range lines {
		n := i + 1
		trimmed := strings.TrimSpace(line)
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]

		if trimmed == "" {
			if err := closeOpen(n); err != nil {
				return nil, err
			}
			cfg.Entries = append(cfg.Entries, Entry{Kind: KindBlank, Raw: line})
			continue
		}

		if indent == "" {
			if err := closeOpen(n); err != nil {
				return nil, err
			}
			if strings.HasPrefix(trimmed, "#") {
				cfg.Entries = append(cfg.Entries, Entry{Kind: KindComment, Raw: line})
				continue
			}
			cfg.Entries = append(cfg.Entries, Entry{Kind: KindPath, Path: trimmed})
			openBlock = len(cfg.Entries) - 1
			continue
		}

		if openBlock < 0 {
			return nil, errors.Errorf("line %d: indented line outside of a path block", n)
		}
		if cfg.IndentWith == "" {
			cfg.IndentWith = indent
		} else if indent != cfg.IndentWith {
			return nil, errors.Errorf("line %d: inconsistent indentation", n)
		}
		if strings.HasPrefix(trimmed, "#") {
			cfg.Entries[openBlock].Headers = append(cfg.Entries[openBlock].Headers, BlockEntry{Comment: trimmed})
			continue
		}
		colon := strings.Index(trimmed, ":")
		if colon <= 0 {
			return nil, errors.Errorf("line %d: cannot parse header entry %q", n, trimmed)
		}
		name := strings.TrimSpace(trimmed[:colon])
		value := strings.TrimSpace(trimmed[colon+1:])
		cfg.Entries[openBlock].Headers = append(cfg.Entries[openBlock].Headers, BlockEntry{Name: name, Value: value})
	}
	if err := closeOpen(len(lines)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Serialize renders the config back to text. When no indent was ever
// inferred, blocks are indented with a tab.
func (c *Config) Serialize() string {
	indent := c.IndentWith
	if indent == "" {
		indent = "\t"
	}
	var b strings.Builder
	for _, e := range c.Entries {
		switch e.Kind {
		case KindComment, KindBlank:
			b.WriteString(e.Raw)
			b.WriteString("\n")
		case KindPath:
			b.WriteString(e.Path)
			b.WriteString("\n")
			for _, h := range e.Headers {
				b.WriteString(indent)
				if h.IsComment() {
					b.WriteString(h.Comment)
				} else {
					b.WriteString(h.Name)
					b.WriteString(": ")
					b.WriteString(h.Value)
				}
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// Build produces one block per page from page-path → header-name → value.
// Pages named index.html additionally get a directory alias with identical
// headers. Blocks sort lexically by path, headers by name then value.
func Build(pageHeaders map[string]map[string]string) *Config {
	paths := map[string]map[string]string{}
	for page, headers := range pageHeaders {
		if len(headers) == 0 {
			continue
		}
		p := page
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		paths[p] = headers
		if strings.HasSuffix(p, "/index.html") {
			paths[strings.TrimSuffix(p, "index.html")] = headers
		}
	}

	sortedPaths := make([]string, 0, len(paths))
	for p := range paths {
		sortedPaths = append(sortedPaths, p)
	}
	sort.Strings(sortedPaths)

	cfg := &Config{}
	for _, p := range sortedPaths {
		entry := Entry{Kind: KindPath, Path: p}
		for name, value := range paths[p] {
			entry.Headers = append(entry.Headers, BlockEntry{Name: name, Value: value})
		}
		sort.Slice(entry.Headers, func(i, j int) bool {
			if entry.Headers[i].Name != entry.Headers[j].Name {
				return entry.Headers[i].Name < entry.Headers[j].Name
			}
			return entry.Headers[i].Value < entry.Headers[j].Value
		})
		cfg.Entries = append(cfg.Entries, entry)
	}
	return cfg
}

// Merge overlays patch onto base. Blocks match by path and entries by header
// name; a patch header overrides the same-named base header in place, a
// patch header with an empty value deletes it, and patch comments are
// dropped. Blocks left without headers are dropped. Unmatched base and patch
// entries keep their relative order, patch blocks after base ones.
func Merge(base, patch *Config) *Config {
	out := &Config{IndentWith: base.IndentWith}
	if out.IndentWith == "" {
		out.IndentWith = patch.IndentWith
	}

	consumed := map[string]bool{}
	for _, e := range base.Entries {
		if e.Kind != KindPath {
			out.Entries = append(out.Entries, e)
			continue
		}
		pb, ok := findBlock(patch, e.Path)
		if !ok {
			out.Entries = append(out.Entries, e)
			continue
		}
		consumed[e.Path] = true
		merged := mergeBlock(e, pb)
		if countHeaders(merged.Headers) > 0 {
			out.Entries = append(out.Entries, merged)
		}
	}
	for _, e := range patch.Entries {
		if e.Kind != KindPath || consumed[e.Path] {
			continue
		}
		kept := Entry{Kind: KindPath, Path: e.Path}
		for _, h := range e.Headers {
			if h.IsComment() || h.Value == "" {
				continue
			}
			kept.Headers = append(kept.Headers, h)
		}
		if len(kept.Headers) > 0 {
			out.Entries = append(out.Entries, kept)
		}
	}
	return out
}

func mergeBlock(base, patch Entry) Entry {
	override := map[string]string{}
	var order []string
	for _, h := range patch.Headers {
		if h.IsComment() {
			continue
		}
		if _, seen := override[h.Name]; !seen {
			order = append(order, h.Name)
		}
		override[h.Name] = h.Value
	}

	out := Entry{Kind: KindPath, Path: base.Path}
	used := map[string]bool{}
	for _, h := range base.Headers {
		if h.IsComment() {
			out.Headers = append(out.Headers, h)
			continue
		}
		value, ok := override[h.Name]
		if !ok {
			out.Headers = append(out.Headers, h)
			continue
		}
		if used[h.Name] {
			// repeated base values collapse under a name-keyed override
			continue
		}
		used[h.Name] = true
		if value != "" {
			out.Headers = append(out.Headers, BlockEntry{Name: h.Name, Value: value})
		}
	}
	for _, name := range order {
		if used[name] || override[name] == "" {
			continue
		}
		out.Headers = append(out.Headers, BlockEntry{Name: name, Value: override[name]})
	}
	return out
}

func findBlock(c *Config, path string) (Entry, bool) {
	for _, e := range c.Entries {
		if e.Kind == KindPath && e.Path == path {
			return e, true
		}
	}
	return Entry{}, false
}

func countHeaders(entries []BlockEntry) int {
	n := 0
	for _, e := range entries {
		if !e.IsComment() {
			n++
		}
	}
	return n
}
