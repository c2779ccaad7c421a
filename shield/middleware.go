package shield

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"github.com/projectdiscovery/gologger"

	"github.com/secinto/go-sri-shield/csp"
	"github.com/secinto/go-sri-shield/sri"
)

// ServerSettings configures the dynamic-mode middleware from the
// environment.
type ServerSettings struct {
	HashesFile      string   `env:"SRI_SHIELD_HASHES_FILE" envDefault:"sri-hashes.json"`
	InlineScripts   string   `env:"SRI_SHIELD_INLINE_SCRIPTS" envDefault:"all"`
	InlineStyles    string   `env:"SRI_SHIELD_INLINE_STYLES" envDefault:"all"`
	DevPathPrefixes []string `env:"SRI_SHIELD_DEV_PATH_PREFIXES" envSeparator:","`
	DevQueryMarkers []string `env:"SRI_SHIELD_DEV_QUERY_MARKERS" envSeparator:","`
}

func ServerSettingsFromEnv() (ServerSettings, error) {
	var settings ServerSettings
	if err := env.Parse(&settings); err != nil {
		return settings, errors.Wrap(err, "parsing environment")
	}
	return settings, nil
}

// Middleware hardens dynamically rendered HTML responses. The hash table is
// loaded once at construction and shared read-only across requests; each
// request is handled independently.
type Middleware struct {
	scanner  *sri.Scanner
	defaults csp.Directives
}

func NewMiddleware(table *sri.HashTable, inlineScripts, inlineStyles sri.InlinePolicy, defaults csp.Directives, devPathPrefixes, devQueryMarkers []string) (*Middleware, error) {
	scanner, err := sri.NewDynamicScanner(table, inlineScripts, inlineStyles, devPathPrefixes, devQueryMarkers)
	if err != nil {
		return nil, err
	}
	return &Middleware{scanner: scanner, defaults: defaults}, nil
}

// NewMiddlewareFromEnv builds a middleware with the hash table loaded from
// the persisted module named by the environment.
func NewMiddlewareFromEnv(defaults csp.Directives) (*Middleware, error) {
	settings, err := ServerSettingsFromEnv()
	if err != nil {
		return nil, err
	}
	if !validInlinePolicy(settings.InlineScripts) {
		return nil, errors.Errorf("invalid inline scripts policy %q", settings.InlineScripts)
	}
	if !validInlinePolicy(settings.InlineStyles) {
		return nil, errors.Errorf("invalid inline styles policy %q", settings.InlineStyles)
	}
	table, err := sri.LoadHashTable(settings.HashesFile)
	if err != nil {
		return nil, err
	}
	return NewMiddleware(table, sri.InlinePolicy(settings.InlineScripts), sri.InlinePolicy(settings.InlineStyles), defaults,
		settings.DevPathPrefixes, settings.DevQueryMarkers)
}

// NewMiddlewareFromSettings builds a middleware from the same yaml settings
// file the build-time run reads, so a server shares its dev ignore lists and
// inline policies with the static pass.
func NewMiddlewareFromSettings(location string, defaults csp.Directives) (*Middleware, error) {
	settings, err := loadSettingsFrom(location)
	if err != nil {
		return nil, err
	}
	settings.applyDefaults()
	if !validInlinePolicy(settings.InlineScripts) {
		return nil, errors.Errorf("invalid inline scripts policy %q", settings.InlineScripts)
	}
	if !validInlinePolicy(settings.InlineStyles) {
		return nil, errors.Errorf("invalid inline styles policy %q", settings.InlineStyles)
	}
	table, err := sri.LoadHashTable(settings.HashesFile)
	if err != nil {
		return nil, err
	}
	return NewMiddleware(table, sri.InlinePolicy(settings.InlineScripts), sri.InlinePolicy(settings.InlineStyles), defaults,
		settings.DevPathPrefixes, settings.DevQueryMarkers)
}

// Wrap buffers HTML responses from next, rewrites their markup, and patches
// the Content-Security-Policy header. Non-HTML responses pass through
// untouched.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := newResponseBuffer(w)
		next.ServeHTTP(buf, r)

		if !strings.Contains(buf.Header().Get("Content-Type"), "text/html") {
			buf.flush(buf.body.Bytes())
			return
		}

		result, err := m.scanner.ProcessDocument(r.Context(), r.URL.Path, buf.body.String())
		if err != nil {
			// a broken fragment must not take down page delivery
			gologger.Error().Msgf("Could not harden response for %s: %s", r.URL.Path, err)
			buf.flush(buf.body.Bytes())
			return
		}

		value := csp.Build(result.Page.Sorted(sri.KindScript), result.Page.Sorted(sri.KindStyle),
			m.defaults, buf.Header().Get("Content-Security-Policy"))
		buf.Header().Set("Content-Security-Policy", value)
		buf.flush([]byte(result.Document))
	})
}

// responseBuffer captures status, headers, and body so the document can be
// rewritten before anything reaches the client.
type responseBuffer struct {
	dest   http.ResponseWriter
	header http.Header
	body   bytes.Buffer
	status int
}

func newResponseBuffer(dest http.ResponseWriter) *responseBuffer {
	return &responseBuffer{dest: dest, header: http.Header{}, status: http.StatusOK}
}

func (b *responseBuffer) Header() http.Header {
	return b.header
}

func (b *responseBuffer) Write(p []byte) (int, error) {
	return b.body.Write(p)
}

func (b *responseBuffer) WriteHeader(status int) {
	b.status = status
}

func (b *responseBuffer) flush(body []byte) {
	dest := b.dest.Header()
	for name, values := range b.header {
		dest[name] = values
	}
	dest.Set("Content-Length", strconv.Itoa(len(body)))
	b.dest.WriteHeader(b.status)
	if _, err := b.dest.Write(body); err != nil {
		gologger.Debug().Msgf("Could not write response: %s", err)
	}
}
