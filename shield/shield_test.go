package shield

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secinto/go-sri-shield/netlify"
	"github.com/secinto/go-sri-shield/sri"
	"github.com/secinto/go-sri-shield/vercel"
)

const (
	helloHash = "sha256-TWupyvVdPa1DyFqLnQMqRpuUWdS3nKPnz70IcS/1o3Q="
)

func writeTestSite(t *testing.T) (dist string) {
	t.Helper()
	dist = t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dist, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "assets", "app.js"),
		[]byte(`console.log("Hello World!")`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "index.html"),
		[]byte(`<html><body><script src="/assets/app.js"></script><script>console.log("Hello World!")</script></body></html>`), 0o644))
	return dist
}

func newTestShield(t *testing.T, settings string) *Shield {
	t.Helper()
	location := filepath.Join(t.TempDir(), "sri-shield.yml")
	require.NoError(t, os.WriteFile(location, []byte(settings), 0o644))
	s, err := New(&Options{SettingsFile: location})
	require.NoError(t, err)
	return s
}

func TestHarden(t *testing.T) {
	dist := writeTestSite(t)
	work := t.TempDir()
	hashes := filepath.Join(work, "sri-hashes.json")
	headersFile := filepath.Join(work, "_headers")
	vercelFile := filepath.Join(work, "vercel.json")

	settings := `dist_dir: ` + dist + `
hashes_file: ` + hashes + `
netlify_headers_file: ` + headersFile + `
vercel_config_file: ` + vercelFile + `
trailing_slash: never
directives:
  default-src: "'self'"
`
	s := newTestShield(t, settings)
	require.NoError(t, s.Harden(context.Background()))

	// the page was rewritten in place
	page, err := os.ReadFile(filepath.Join(dist, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(page), helloHash))

	// the hashes module persisted both the chunk and the inline hash
	module, err := sri.LoadModule(hashes)
	require.NoError(t, err)
	require.NotNil(t, module)
	assert.Equal(t, helloHash, module.PerResourceSriHashes.Scripts["/assets/app.js"])
	assert.Equal(t, []string{helloHash}, module.InlineScriptHashes)
	assert.Contains(t, module.PerPageSriHashes, "/index.html")

	// netlify blocks for the page and its directory alias
	raw, err := os.ReadFile(headersFile)
	require.NoError(t, err)
	cfg, err := netlify.Parse(string(raw))
	require.NoError(t, err)
	var paths []string
	for _, e := range cfg.Entries {
		paths = append(paths, e.Path)
		require.Len(t, e.Headers, 1)
		assert.Equal(t, "Content-Security-Policy", e.Headers[0].Name)
		assert.Contains(t, e.Headers[0].Value, "default-src 'self'")
		assert.Contains(t, e.Headers[0].Value, helloHash)
	}
	assert.Equal(t, []string{"/", "/index.html"}, paths)

	// vercel routes for both page forms, continuing to later rules
	rawVercel, err := os.ReadFile(vercelFile)
	require.NoError(t, err)
	vcfg, err := vercel.Parse(rawVercel)
	require.NoError(t, err)
	require.Len(t, vcfg.Routes, 2)
	assert.Equal(t, "^/$", vcfg.Routes[0].Src)
	assert.Equal(t, `^/index\.html$`, vcfg.Routes[1].Src)
	for _, r := range vcfg.Routes {
		assert.True(t, r.Continue)
	}
}

func TestHardenIsStableAcrossRuns(t *testing.T) {
	dist := writeTestSite(t)
	work := t.TempDir()
	hashes := filepath.Join(work, "sri-hashes.json")
	settings := `dist_dir: ` + dist + `
hashes_file: ` + hashes + `
`
	require.NoError(t, newTestShield(t, settings).Harden(context.Background()))
	first, err := os.ReadFile(filepath.Join(dist, "index.html"))
	require.NoError(t, err)
	firstModule, err := os.ReadFile(hashes)
	require.NoError(t, err)

	require.NoError(t, newTestShield(t, settings).Harden(context.Background()))
	second, err := os.ReadFile(filepath.Join(dist, "index.html"))
	require.NoError(t, err)
	secondModule, err := os.ReadFile(hashes)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Equal(t, string(firstModule), string(secondModule))
}

func TestHardenKeepsForeignNetlifyEntries(t *testing.T) {
	dist := writeTestSite(t)
	work := t.TempDir()
	headersFile := filepath.Join(work, "_headers")
	require.NoError(t, os.WriteFile(headersFile, []byte("# managed by hand\n/legacy\n\tX-Robots-Tag: none\n"), 0o644))

	settings := `dist_dir: ` + dist + `
hashes_file: ` + filepath.Join(work, "sri-hashes.json") + `
netlify_headers_file: ` + headersFile + `
`
	require.NoError(t, newTestShield(t, settings).Harden(context.Background()))

	raw, err := os.ReadFile(headersFile)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# managed by hand")
	assert.Contains(t, string(raw), "/legacy")
	assert.Contains(t, string(raw), "/index.html")
}

func TestNewRequiresDistDir(t *testing.T) {
	location := filepath.Join(t.TempDir(), "sri-shield.yml")
	require.NoError(t, os.WriteFile(location, []byte("hashes_file: x.json\n"), 0o644))
	_, err := New(&Options{SettingsFile: location})
	require.Error(t, err)
}

func TestNewRejectsBadPolicy(t *testing.T) {
	location := filepath.Join(t.TempDir(), "sri-shield.yml")
	require.NoError(t, os.WriteFile(location, []byte("dist_dir: /tmp\ninline_scripts: sometimes\n"), 0o644))
	_, err := New(&Options{SettingsFile: location})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inline_scripts")
}

func TestOptionsOverrideSettings(t *testing.T) {
	dist := writeTestSite(t)
	location := filepath.Join(t.TempDir(), "sri-shield.yml")
	require.NoError(t, os.WriteFile(location, []byte("dist_dir: /nonexistent\n"), 0o644))

	s, err := New(&Options{SettingsFile: location, Dist: dist, HashesFile: filepath.Join(t.TempDir(), "h.json")})
	require.NoError(t, err)
	assert.Equal(t, dist, s.settings.DistDir)
}
