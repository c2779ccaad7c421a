package sri

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
	"github.com/projectdiscovery/gologger"
)

// Mode selects between a build-time scan, which may read files and fetch
// remote resources, and a per-request scan, which only consults a pre-built
// hash table.
type Mode int

const (
	ModeStatic Mode = iota
	ModeDynamic
)

// InlinePolicy controls whether inline script/style content may be hashed.
type InlinePolicy string

const (
	InlineAll        InlinePolicy = "all"
	InlineStaticOnly InlinePolicy = "static-only"
	InlineDisabled   InlinePolicy = "disabled"
)

func (p InlinePolicy) allows(mode Mode) bool {
	switch p {
	case InlineAll, "":
		return true
	case InlineStaticOnly:
		return mode == ModeStatic
	default:
		return false
	}
}

// HashTable is the read-mostly locator lookup used by dynamic scans. It is
// built once at startup from a persisted hashes module and never mutated
// while requests are in flight.
type HashTable struct {
	Scripts map[string]string
	Styles  map[string]string
}

func (t *HashTable) Lookup(kind ResourceKind, locator string) (string, bool) {
	if t == nil {
		return "", false
	}
	var h string
	var ok bool
	if kind == KindScript {
		h, ok = t.Scripts[locator]
	} else {
		h, ok = t.Styles[locator]
	}
	return h, ok
}

// ScanResult is the outcome of processing one document.
type ScanResult struct {
	Document string
	Page     *PageHashes
	Warnings []string
}

func (r *ScanResult) warnf(format string, args ...interface{}) {
	gologger.Warning().Msgf(format, args...)
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ElementScanner rewrites one document, injecting integrity attributes and
// stripping elements that cannot be vouched for, and reports the hashes the
// document references.
type ElementScanner interface {
	ProcessDocument(ctx context.Context, page, doc string) (*ScanResult, error)
}

// The matching strategy is deliberately pattern-based: the rewriter splices
// original bytes back around each match, so untouched regions stay
// byte-identical, and the patterns tolerate attributes smuggled onto
// malformed closing tags. A tokenizer could replace this behind
// ElementScanner without touching the hash or CSP logic.
var (
	scriptElementRe = regexp.MustCompile("(?is)<script([^>]*)>(.*?)</script[^>]*>")
	styleElementRe  = regexp.MustCompile("(?is)<style([^>]*)>(.*?)</style[^>]*>")
	linkElementRe   = regexp.MustCompile(`(?is)<link([^>]*?)\s*/?>`)

	srcAttrRe         = regexp.MustCompile(`(?i)\ssrc\s*=\s*("([^"]*)"|'([^']*)'|([^\s"'<>=` + "`" + `]+))`)
	hrefAttrRe        = regexp.MustCompile(`(?i)\shref\s*=\s*("([^"]*)"|'([^']*)'|([^\s"'<>=` + "`" + `]+))`)
	integrityAttrRe   = regexp.MustCompile(`(?i)\sintegrity\s*=\s*("([^"]*)"|'([^']*)'|([^\s"'<>]+))`)
	crossoriginAttrRe = regexp.MustCompile(`(?i)\scrossorigin\b`)
	relStylesheetRe   = regexp.MustCompile(`(?i)\srel\s*=\s*("stylesheet"|'stylesheet'|stylesheet)`)
)

// processor describes one element class: how to match it, where its source
// reference lives, whether it applies at all, and how to rebuild it.
type processor struct {
	kind        ResourceKind
	tag         string
	element     *regexp.Regexp
	srcAttr     *regexp.Regexp
	applies     func(attrs string) bool
	selfClosing bool
}

var processors = []*processor{
	{kind: KindScript, tag: "script", element: scriptElementRe, srcAttr: srcAttrRe},
	{kind: KindStyle, tag: "style", element: styleElementRe, srcAttr: srcAttrRe},
	{kind: KindStyle, tag: "link", element: linkElementRe, srcAttr: hrefAttrRe,
		applies: func(attrs string) bool { return relStylesheetRe.MatchString(attrs) }, selfClosing: true},
}

// Scanner is the default pattern-based ElementScanner implementation.
type Scanner struct {
	mode          Mode
	collection    *HashCollection
	table         *HashTable
	resolver      *Resolver
	inlineScripts InlinePolicy
	inlineStyles  InlinePolicy
	devPaths      []glob.Glob
	devQueries    []glob.Glob
}

// DefaultDevPathPrefixes are locator prefixes produced by dev tooling; these
// never appear in a production build and are skipped without a warning.
var DefaultDevPathPrefixes = []string{"/@vite/", "/@fs/", "/@id/", "/node_modules/"}

// DefaultDevQueryMarkers are query parameters stamped on module URLs by dev
// servers, matched against each query parameter in turn.
var DefaultDevQueryMarkers = []string{"v=*", "t=*"}

func NewStaticScanner(collection *HashCollection, resolver *Resolver, inlineScripts, inlineStyles InlinePolicy) *Scanner {
	return &Scanner{
		mode:          ModeStatic,
		collection:    collection,
		resolver:      resolver,
		inlineScripts: inlineScripts,
		inlineStyles:  inlineStyles,
	}
}

func NewDynamicScanner(table *HashTable, inlineScripts, inlineStyles InlinePolicy, devPathPrefixes, devQueryMarkers []string) (*Scanner, error) {
	if devPathPrefixes == nil {
		devPathPrefixes = DefaultDevPathPrefixes
	}
	if devQueryMarkers == nil {
		devQueryMarkers = DefaultDevQueryMarkers
	}
	s := &Scanner{
		mode:          ModeDynamic,
		table:         table,
		inlineScripts: inlineScripts,
		inlineStyles:  inlineStyles,
	}
	for _, p := range devPathPrefixes {
		g, err := glob.Compile(p + "*")
		if err != nil {
			return nil, errors.Wrapf(err, "compiling dev path prefix %q", p)
		}
		s.devPaths = append(s.devPaths, g)
	}
	for _, m := range devQueryMarkers {
		g, err := glob.Compile(m)
		if err != nil {
			return nil, errors.Wrapf(err, "compiling dev query marker %q", m)
		}
		s.devQueries = append(s.devQueries, g)
	}
	return s, nil
}

// ProcessDocument runs the three element classes over the document in order,
// each class fully before the next, and returns the rewritten text together
// with the hashes the page references.
func (s *Scanner) ProcessDocument(ctx context.Context, page, doc string) (*ScanResult, error) {
	res := &ScanResult{Page: NewPageHashes()}
	var err error
	for _, proc := range processors {
		doc, err = s.pass(ctx, proc, page, doc, res)
		if err != nil {
			return nil, err
		}
	}
	res.Document = doc
	if s.mode == ModeStatic && s.collection != nil {
		s.collection.RecordPage(page, res.Page)
	}
	return res, nil
}

func (s *Scanner) pass(ctx context.Context, proc *processor, page, doc string, res *ScanResult) (string, error) {
	matches := proc.element.FindAllStringSubmatchIndex(doc, -1)
	if len(matches) == 0 {
		return doc, nil
	}
	var b strings.Builder
	last := 0
	for _, loc := range matches {
		b.WriteString(doc[last:loc[0]])
		last = loc[1]

		seg := doc[loc[0]:loc[1]]
		attrs := doc[loc[2]:loc[3]]
		content := ""
		if len(loc) >= 6 && loc[4] >= 0 {
			content = doc[loc[4]:loc[5]]
		}
		if proc.applies != nil && !proc.applies(attrs) {
			b.WriteString(seg)
			continue
		}
		repl, err := s.processElement(ctx, proc, page, seg, attrs, content, res)
		if err != nil {
			return "", err
		}
		b.WriteString(repl)
	}
	b.WriteString(doc[last:])
	return b.String(), nil
}

// processElement applies the per-occurrence algorithm and returns the text
// the matched span is replaced with: the span itself, a rebuilt element, or
// nothing when the element is stripped.
func (s *Scanner) processElement(ctx context.Context, proc *processor, page, seg, attrs, content string, res *ScanResult) (string, error) {
	src, hasSrc := extractAttr(proc.srcAttr, attrs)
	if src == "" {
		hasSrc = false
	}
	if hasSrc && strings.TrimSpace(content) != "" {
		res.warnf("removed %s element with both a source and inline content on %s", proc.kind, page)
		return "", nil
	}

	integrity, hasIntegrity := extractAttr(integrityAttrRe, attrs)
	if hasIntegrity && !ValidIntegrity(integrity) {
		// malformed integrity values are treated as absent
		hasIntegrity = false
	}

	if s.mode == ModeDynamic {
		return s.processDynamic(proc, page, seg, attrs, content, src, hasSrc, integrity, hasIntegrity, res)
	}
	return s.processStatic(ctx, proc, page, seg, attrs, content, src, hasSrc, integrity, hasIntegrity, res)
}

func (s *Scanner) processStatic(ctx context.Context, proc *processor, page, seg, attrs, content, src string, hasSrc bool, integrity string, hasIntegrity bool, res *ScanResult) (string, error) {
	if hasIntegrity {
		// an already-present, well-formed integrity value is trusted
		res.Page.Add(proc.kind, integrity)
		if hasSrc {
			s.collection.AddExternal(proc.kind, integrity)
			s.collection.CacheResource(proc.kind, src, integrity)
		} else {
			s.collection.AddInline(proc.kind, integrity)
		}
		return seg, nil
	}

	if hasSrc {
		hash, ok := s.collection.CachedResource(proc.kind, src)
		if !ok {
			body, err := s.resolver.Resolve(ctx, src)
			if err != nil {
				return "", errors.Wrapf(err, "resolving %s referenced by %s", src, page)
			}
			hash = Hash(body)
			s.collection.CacheResource(proc.kind, src, hash)
		}
		s.collection.AddExternal(proc.kind, hash)
		res.Page.Add(proc.kind, hash)
		withCO := CrossOrigin(src) && !crossoriginAttrRe.MatchString(attrs)
		return rebuild(proc, attrs, content, hash, withCO), nil
	}

	if !s.inlinePolicy(proc.kind).allows(ModeStatic) {
		res.warnf("removed inline %s content on %s: inline %ss are disabled", proc.kind, page, proc.kind)
		return "", nil
	}
	hash := Hash([]byte(content))
	s.collection.AddInline(proc.kind, hash)
	res.Page.Add(proc.kind, hash)
	return rebuild(proc, attrs, content, hash, false), nil
}

func (s *Scanner) processDynamic(proc *processor, page, seg, attrs, content, src string, hasSrc bool, integrity string, hasIntegrity bool, res *ScanResult) (string, error) {
	if hasSrc {
		known, ok := s.table.Lookup(proc.kind, src)
		if hasIntegrity {
			if !ok {
				res.warnf("removed %s element on %s: %s is not in the hash table", proc.kind, page, src)
				return "", nil
			}
			if known != integrity {
				res.warnf("removed %s element on %s: integrity mismatch for %s", proc.kind, page, src)
				return "", nil
			}
			res.Page.Add(proc.kind, integrity)
			return seg, nil
		}
		if ok {
			res.Page.Add(proc.kind, known)
			withCO := CrossOrigin(src) && !crossoriginAttrRe.MatchString(attrs)
			return rebuild(proc, attrs, content, known, withCO), nil
		}
		if isLocalPath(src) {
			if s.devLocator(src) {
				return seg, nil
			}
			res.warnf("%s resource %s on %s is not in the hash table; left without integrity", proc.kind, src, page)
			return seg, nil
		}
		res.warnf("removed cross-origin %s element on %s: %s is not allow-listed", proc.kind, page, src)
		return "", nil
	}

	if !s.inlinePolicy(proc.kind).allows(ModeDynamic) {
		res.warnf("removed inline %s content on %s: inline %ss are not allowed for dynamic pages", proc.kind, page, proc.kind)
		return "", nil
	}
	hash := Hash([]byte(content))
	res.Page.Add(proc.kind, hash)
	if hasIntegrity && integrity == hash {
		return seg, nil
	}
	return rebuild(proc, attrs, content, hash, false), nil
}

func (s *Scanner) inlinePolicy(kind ResourceKind) InlinePolicy {
	if kind == KindScript {
		return s.inlineScripts
	}
	return s.inlineStyles
}

// devLocator reports whether a locator was produced by dev tooling and
// should be skipped without noise.
func (s *Scanner) devLocator(locator string) bool {
	path := locator
	query := ""
	if i := strings.IndexByte(locator, '?'); i >= 0 {
		path, query = locator[:i], locator[i+1:]
	}
	for _, g := range s.devPaths {
		if g.Match(path) {
			return true
		}
	}
	if query != "" {
		for _, param := range strings.Split(query, "&") {
			for _, g := range s.devQueries {
				if g.Match(param) {
					return true
				}
			}
		}
	}
	return false
}

func isLocalPath(locator string) bool {
	return strings.HasPrefix(locator, "/") && !strings.HasPrefix(locator, "//")
}

// rebuild renders the element with the integrity attribute injected. Any
// malformed integrity attribute already present is dropped first, and the
// closing tag is normalized.
func rebuild(proc *processor, attrs, content, hash string, withCrossorigin bool) string {
	attrs = integrityAttrRe.ReplaceAllString(attrs, "")
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(proc.tag)
	b.WriteString(attrs)
	b.WriteString(` integrity="`)
	b.WriteString(hash)
	b.WriteString(`"`)
	if withCrossorigin {
		b.WriteString(` crossorigin="anonymous"`)
	}
	if proc.selfClosing {
		b.WriteString("/>")
		return b.String()
	}
	b.WriteString(">")
	b.WriteString(content)
	b.WriteString("</")
	b.WriteString(proc.tag)
	b.WriteString(">")
	return b.String()
}

// extractAttr returns the value of the first match of an attribute pattern,
// whichever quoting form matched.
func extractAttr(re *regexp.Regexp, attrs string) (string, bool) {
	m := re.FindStringSubmatch(attrs)
	if m == nil {
		return "", false
	}
	for _, group := range m[2:] {
		if group != "" {
			return group, true
		}
	}
	// quoted empty value
	return "", true
}
