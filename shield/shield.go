package shield

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/projectdiscovery/gologger"

	"github.com/secinto/go-sri-shield/csp"
	"github.com/secinto/go-sri-shield/netlify"
	"github.com/secinto/go-sri-shield/sri"
	"github.com/secinto/go-sri-shield/vercel"
)

// Shield runs the build-time hardening pass over a static output tree.
type Shield struct {
	options    *Options
	settings   Settings
	collection *sri.HashCollection
	resolver   *sri.Resolver
	scanner    *sri.Scanner
}

func New(options *Options) (*Shield, error) {
	s := &Shield{options: options}
	if err := s.initialize(options.SettingsFile); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Shield) initialize(settingsLocation string) error {
	settings, err := loadSettingsFrom(settingsLocation)
	if err != nil {
		return err
	}
	if s.options.Dist != "" {
		settings.DistDir = s.options.Dist
	}
	if s.options.HashesFile != "" {
		settings.HashesFile = s.options.HashesFile
	}
	settings.applyDefaults()

	if settings.DistDir == "" {
		return errors.New("a build output directory must be specified")
	}
	if !validInlinePolicy(settings.InlineScripts) {
		return errors.Errorf("invalid inline_scripts policy %q", settings.InlineScripts)
	}
	if !validInlinePolicy(settings.InlineStyles) {
		return errors.Errorf("invalid inline_styles policy %q", settings.InlineStyles)
	}

	s.settings = settings
	s.collection = sri.NewHashCollection()
	s.resolver = sri.NewResolver(settings.DistDir, nil)
	s.scanner = sri.NewStaticScanner(s.collection, s.resolver,
		sri.InlinePolicy(settings.InlineScripts), sri.InlinePolicy(settings.InlineStyles))
	return nil
}

//-------------------------------------------
//			Main functions methods
//-------------------------------------------

// Harden seeds the hash collection, scans and rewrites every HTML document
// under the output directory, persists the collection, and reconciles the
// derived CSP headers into the configured provider files.
func (s *Shield) Harden(ctx context.Context) error {
	gologger.Info().Msgf("Hardening build output in %s", s.settings.DistDir)

	if err := sri.SeedAllowList(ctx, s.resolver, s.collection, s.settings.ScriptsAllowList, s.settings.StylesAllowList); err != nil {
		return err
	}
	if err := sri.SeedDist(s.settings.DistDir, s.collection); err != nil {
		return err
	}

	pages, err := s.findPages()
	if err != nil {
		return err
	}
	for _, page := range pages {
		if err := s.hardenPage(ctx, page); err != nil {
			return err
		}
	}
	gologger.Info().Msgf("Processed %d pages", len(pages))

	if err := s.persist(); err != nil {
		return err
	}

	headers := s.pageHeaders()
	if s.settings.NetlifyHeadersFile != "" {
		if err := s.updateNetlify(headers); err != nil {
			return err
		}
	}
	if s.settings.VercelConfigFile != "" {
		if err := s.updateVercel(headers); err != nil {
			return err
		}
	}
	return nil
}

func (s *Shield) findPages() ([]string, error) {
	var pages []string
	err := filepath.WalkDir(s.settings.DistDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(p), ".html") {
			return nil
		}
		pages = append(pages, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walking %s", s.settings.DistDir)
	}
	sort.Strings(pages)
	return pages, nil
}

func (s *Shield) hardenPage(ctx context.Context, file string) error {
	doc, err := os.ReadFile(file)
	if err != nil {
		return errors.Wrapf(err, "reading page %s", file)
	}
	rel, err := filepath.Rel(s.settings.DistDir, file)
	if err != nil {
		return err
	}
	page := "/" + filepath.ToSlash(rel)

	result, err := s.scanner.ProcessDocument(ctx, page, string(doc))
	if err != nil {
		return err
	}
	if result.Document == string(doc) {
		return nil
	}
	if err := os.WriteFile(file, []byte(result.Document), 0o644); err != nil {
		return errors.Wrapf(err, "writing page %s", file)
	}
	gologger.Debug().Msgf("Rewrote %s", page)
	return nil
}

func (s *Shield) persist() error {
	previous, err := sri.LoadModule(s.settings.HashesFile)
	if err != nil {
		return err
	}
	module := sri.ExportModule(s.collection)
	wrote, resourcesChanged, err := sri.WriteModule(s.settings.HashesFile, module, previous)
	if err != nil {
		return err
	}
	if !wrote {
		gologger.Debug().Msgf("Hashes module %s is unchanged", s.settings.HashesFile)
		return nil
	}
	if resourcesChanged && s.settings.EnableMiddleware {
		gologger.Warning().Msgf("per-resource hashes changed; the middleware hash table is loaded from %s at startup, so run the build again to pick them up", s.settings.HashesFile)
	}
	return nil
}

// pageHeaders derives the header set each page should carry. A page whose
// hash sets are empty still gets an explicit-deny CSP as long as any default
// directives are configured; with nothing at all to say, it gets no headers.
func (s *Shield) pageHeaders() map[string]map[string]string {
	defaults := csp.Directives{}
	for name, value := range s.settings.Directives {
		defaults[name] = value
	}
	out := map[string]map[string]string{}
	for page, hashes := range s.collection.Pages() {
		if len(defaults) == 0 && hashes.Empty() {
			continue
		}
		value := csp.Build(hashes.Sorted(sri.KindScript), hashes.Sorted(sri.KindStyle), defaults, "")
		out[page] = map[string]string{"Content-Security-Policy": value}
	}
	return out
}

func (s *Shield) updateNetlify(headers map[string]map[string]string) error {
	path := s.settings.NetlifyHeadersFile
	base := &netlify.Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		base, err = netlify.Parse(string(data))
		if err != nil {
			return err
		}
	case !os.IsNotExist(err):
		return errors.Wrapf(err, "reading %s", path)
	}

	merged := netlify.Merge(base, netlify.Build(headers))
	if err := os.WriteFile(path, []byte(merged.Serialize()), 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	gologger.Info().Msgf("Updated netlify headers file %s", path)
	return nil
}

func (s *Shield) updateVercel(headers map[string]map[string]string) error {
	path := s.settings.VercelConfigFile
	base := &vercel.Config{Version: vercel.ExpectedVersion}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		base, err = vercel.Parse(data)
		if err != nil {
			return err
		}
	case !os.IsNotExist(err):
		return errors.Wrapf(err, "reading %s", path)
	}

	merged := vercel.Merge(base, vercel.Build(headers, vercel.TrailingSlash(s.settings.TrailingSlash)))
	out, err := merged.Serialize()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	gologger.Info().Msgf("Updated vercel config %s", path)
	return nil
}
