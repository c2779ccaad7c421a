// Package vercel parses, merges, and serializes the JSON routes config
// Vercel uses for per-route response headers.
package vercel

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/projectdiscovery/gologger"
)

// ExpectedVersion is the routes-config revision this package understands.
// Other versions parse with a warning.
const ExpectedVersion = 3

// TrailingSlash is the site's URL policy for directory-style pages.
type TrailingSlash string

const (
	TrailingAlways TrailingSlash = "always"
	TrailingNever  TrailingSlash = "never"
	TrailingMixed  TrailingSlash = "mixed"
)

// Route is one routes entry. Fields this package does not model are kept in
// extra so foreign configs survive a parse/serialize round trip.
type Route struct {
	Src      string
	Headers  map[string]string
	Continue bool
	extra    map[string]json.RawMessage
}

func (r *Route) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["src"]; ok {
		if err := json.Unmarshal(v, &r.Src); err != nil {
			return err
		}
		delete(raw, "src")
	}
	if v, ok := raw["headers"]; ok {
		if err := json.Unmarshal(v, &r.Headers); err != nil {
			return err
		}
		delete(raw, "headers")
	}
	if v, ok := raw["continue"]; ok {
		if err := json.Unmarshal(v, &r.Continue); err != nil {
			return err
		}
		delete(raw, "continue")
	}
	if len(raw) > 0 {
		r.extra = raw
	}
	return nil
}

func (r Route) MarshalJSON() ([]byte, error) {
	out := map[string]json.RawMessage{}
	for k, v := range r.extra {
		out[k] = v
	}
	src, err := json.Marshal(r.Src)
	if err != nil {
		return nil, err
	}
	out["src"] = src
	if len(r.Headers) > 0 {
		headers, err := json.Marshal(r.Headers)
		if err != nil {
			return nil, err
		}
		out["headers"] = headers
	}
	if r.Continue {
		out["continue"] = json.RawMessage("true")
	}
	return json.Marshal(out)
}

type Config struct {
	Version int     `json:"version"`
	Routes  []Route `json:"routes"`
}

// Parse reads a config. A missing version field is fatal; an unexpected
// version is only warned about, the config is still usable.
func Parse(data []byte) (*Config, error) {
	var raw struct {
		Version *int    `json:"version"`
		Routes  []Route `json:"routes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parsing vercel config")
	}
	if raw.Version == nil {
		return nil, errors.New("vercel config is missing the required version field")
	}
	if *raw.Version != ExpectedVersion {
		gologger.Warning().Msgf("vercel config declares version %d, expected %d", *raw.Version, ExpectedVersion)
	}
	return &Config{Version: *raw.Version, Routes: raw.Routes}, nil
}

func (c *Config) Serialize() ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding vercel config")
	}
	return append(data, '\n'), nil
}

// Build produces one route per page from page-path → header-name → value.
// Index pages get both the directory form, honoring the trailing-slash
// policy, and the literal file form. Every generated route continues so
// later rules still apply; pages with no headers produce no route.
func Build(pageHeaders map[string]map[string]string, policy TrailingSlash) *Config {
	pages := make([]string, 0, len(pageHeaders))
	for page := range pageHeaders {
		pages = append(pages, page)
	}
	sort.Strings(pages)

	cfg := &Config{Version: ExpectedVersion}
	for _, page := range pages {
		headers := pageHeaders[page]
		if len(headers) == 0 {
			continue
		}
		p := page
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		for _, src := range pageSources(p, policy) {
			cfg.Routes = append(cfg.Routes, Route{Src: src, Headers: headers, Continue: true})
		}
	}
	return cfg
}

func pageSources(page string, policy TrailingSlash) []string {
	literal := "^" + regexp.QuoteMeta(page) + "$"
	if !strings.HasSuffix(page, "/index.html") {
		return []string{literal}
	}
	dir := strings.TrimSuffix(page, "/index.html")
	var dirSrc string
	switch {
	case dir == "":
		dirSrc = "^/$"
	case policy == TrailingAlways:
		dirSrc = "^" + regexp.QuoteMeta(dir) + "/$"
	case policy == TrailingNever:
		dirSrc = "^" + regexp.QuoteMeta(dir) + "$"
	default:
		dirSrc = "^" + regexp.QuoteMeta(dir) + "/?$"
	}
	return []string{dirSrc, literal}
}

// Merge puts patch routes ahead of base routes so the patch wins for any
// request both would match, and keeps the base version.
func Merge(base, patch *Config) *Config {
	routes := make([]Route, 0, len(base.Routes)+len(patch.Routes))
	routes = append(routes, patch.Routes...)
	routes = append(routes, base.Routes...)
	return &Config{Version: base.Version, Routes: routes}
}
