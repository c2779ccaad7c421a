package sri

import (
	"crypto/sha256"
	"encoding/base64"
	"regexp"
	"sort"
	"sync"
)

// integrityRe is the only shape of integrity value this module produces or
// trusts; anything else is treated as absent.
var integrityRe = regexp.MustCompile(`^sha256-[A-Za-z0-9+/]{43}=$`)

// Hash returns the SRI literal for the given content bytes.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return "sha256-" + base64.StdEncoding.EncodeToString(sum[:])
}

// ValidIntegrity reports whether s is a well-formed sha256 integrity literal.
func ValidIntegrity(s string) bool {
	return integrityRe.MatchString(s)
}

// ResourceKind distinguishes script resources from style resources.
type ResourceKind int

const (
	KindScript ResourceKind = iota
	KindStyle
)

func (k ResourceKind) String() string {
	if k == KindScript {
		return "script"
	}
	return "style"
}

// PageHashes holds the hashes actually referenced by one document.
type PageHashes struct {
	scripts map[string]struct{}
	styles  map[string]struct{}
}

func NewPageHashes() *PageHashes {
	return &PageHashes{
		scripts: map[string]struct{}{},
		styles:  map[string]struct{}{},
	}
}

func (p *PageHashes) Add(kind ResourceKind, hash string) {
	if kind == KindScript {
		p.scripts[hash] = struct{}{}
	} else {
		p.styles[hash] = struct{}{}
	}
}

// Sorted returns the hashes of one kind in lexical order.
func (p *PageHashes) Sorted(kind ResourceKind) []string {
	if p == nil {
		return nil
	}
	if kind == KindScript {
		return sortedKeys(p.scripts)
	}
	return sortedKeys(p.styles)
}

func (p *PageHashes) Empty() bool {
	return p == nil || (len(p.scripts) == 0 && len(p.styles) == 0)
}

// HashCollection aggregates every hash discovered during one build run. All
// inserts are synchronized and append-only so document scans may run
// concurrently against a shared collection.
type HashCollection struct {
	mu           sync.Mutex
	inlineScript map[string]struct{}
	inlineStyle  map[string]struct{}
	extScript    map[string]struct{}
	extStyle     map[string]struct{}
	perPage      map[string]*PageHashes
	resScripts   map[string]string
	resStyles    map[string]string
}

func NewHashCollection() *HashCollection {
	return &HashCollection{
		inlineScript: map[string]struct{}{},
		inlineStyle:  map[string]struct{}{},
		extScript:    map[string]struct{}{},
		extStyle:     map[string]struct{}{},
		perPage:      map[string]*PageHashes{},
		resScripts:   map[string]string{},
		resStyles:    map[string]string{},
	}
}

func (c *HashCollection) AddInline(kind ResourceKind, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if kind == KindScript {
		c.inlineScript[hash] = struct{}{}
	} else {
		c.inlineStyle[hash] = struct{}{}
	}
}

func (c *HashCollection) AddExternal(kind ResourceKind, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if kind == KindScript {
		c.extScript[hash] = struct{}{}
	} else {
		c.extStyle[hash] = struct{}{}
	}
}

// CacheResource stores the hash computed for one resource locator so the
// resource is read and hashed at most once per build.
func (c *HashCollection) CacheResource(kind ResourceKind, locator, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if kind == KindScript {
		c.resScripts[locator] = hash
	} else {
		c.resStyles[locator] = hash
	}
}

func (c *HashCollection) CachedResource(kind ResourceKind, locator string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var h string
	var ok bool
	if kind == KindScript {
		h, ok = c.resScripts[locator]
	} else {
		h, ok = c.resStyles[locator]
	}
	return h, ok
}

// RecordPage merges a document's referenced hashes into the per-page map.
// The page is registered even when it referenced nothing.
func (c *HashCollection) RecordPage(page string, hashes *PageHashes) {
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.perPage[page]
	if !ok {
		existing = NewPageHashes()
		c.perPage[page] = existing
	}
	if hashes == nil {
		return
	}
	for h := range hashes.scripts {
		existing.scripts[h] = struct{}{}
	}
	for h := range hashes.styles {
		existing.styles[h] = struct{}{}
	}
}

// Pages returns a snapshot of the per-page hash map.
func (c *HashCollection) Pages() map[string]*PageHashes {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*PageHashes, len(c.perPage))
	for page, ph := range c.perPage {
		copied := NewPageHashes()
		for h := range ph.scripts {
			copied.scripts[h] = struct{}{}
		}
		for h := range ph.styles {
			copied.styles[h] = struct{}{}
		}
		out[page] = copied
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
