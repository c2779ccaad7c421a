package netlify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHeaders = `# global comment

/d.html
  # per-path comment
  Cache-Control: no-cache
  X-Frame-Options: DENY

/other/
  X-Frame-Options: SAMEORIGIN
`

func TestParseRoundTrip(t *testing.T) {
	cfg, err := Parse(sampleHeaders)
	require.NoError(t, err)
	assert.Equal(t, "  ", cfg.IndentWith)
	assert.Equal(t, sampleHeaders, cfg.Serialize())

	again, err := Parse(cfg.Serialize())
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestParseStructure(t *testing.T) {
	cfg, err := Parse(sampleHeaders)
	require.NoError(t, err)
	require.Len(t, cfg.Entries, 5)

	assert.Equal(t, KindComment, cfg.Entries[0].Kind)
	assert.Equal(t, "# global comment", cfg.Entries[0].Raw)
	assert.Equal(t, KindBlank, cfg.Entries[1].Kind)

	block := cfg.Entries[2]
	assert.Equal(t, KindPath, block.Kind)
	assert.Equal(t, "/d.html", block.Path)
	require.Len(t, block.Headers, 3)
	assert.True(t, block.Headers[0].IsComment())
	assert.Equal(t, BlockEntry{Name: "Cache-Control", Value: "no-cache"}, block.Headers[1])
}

func TestParseInconsistentIndentFatal(t *testing.T) {
	_, err := Parse("/a\n  X: 1\n\t Y: 2\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
	assert.Contains(t, err.Error(), "indentation")
}

func TestParseEmptyBlockFatal(t *testing.T) {
	_, err := Parse("/a\n/b\n  X: 1\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = Parse("/a\n")
	require.Error(t, err, "a block left open at EOF with no headers is fatal")
}

func TestParseUnparseableLineFatal(t *testing.T) {
	_, err := Parse("/a\n  not a header\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestParseIndentOutsideBlockFatal(t *testing.T) {
	_, err := Parse("  X: 1\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestSerializeDefaultIndent(t *testing.T) {
	cfg := Build(map[string]map[string]string{
		"/a.html": {"X-Frame-Options": "DENY"},
	})
	assert.Equal(t, "/a.html\n\tX-Frame-Options: DENY\n", cfg.Serialize())
}

func TestBuildDirectoryAliasAndSorting(t *testing.T) {
	cfg := Build(map[string]map[string]string{
		"/blog/index.html": {"Content-Security-Policy": "script-src 'none'"},
		"/about.html":      {"Content-Security-Policy": "script-src 'none'"},
	})

	var paths []string
	for _, e := range cfg.Entries {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"/about.html", "/blog/", "/blog/index.html"}, paths)

	// alias carries identical headers
	assert.Equal(t, cfg.Entries[2].Headers, cfg.Entries[1].Headers)
}

func TestBuildHeaderOrder(t *testing.T) {
	cfg := Build(map[string]map[string]string{
		"/a.html": {"X-B": "2", "X-A": "1"},
	})
	require.Len(t, cfg.Entries, 1)
	assert.Equal(t, []BlockEntry{
		{Name: "X-A", Value: "1"},
		{Name: "X-B", Value: "2"},
	}, cfg.Entries[0].Headers)
}

func TestMergePrecedence(t *testing.T) {
	base, err := Parse("/d.html\n\tCache-Control: no-cache\n\tX-Frame-Options: DENY\n")
	require.NoError(t, err)
	patch, err := Parse("/d.html\n\tX-Frame-Options: ALLOW\n\tX-XSS-Protection: 1\n")
	require.NoError(t, err)

	merged := Merge(base, patch)
	require.Len(t, merged.Entries, 1)
	assert.Equal(t, []BlockEntry{
		{Name: "Cache-Control", Value: "no-cache"},
		{Name: "X-Frame-Options", Value: "ALLOW"},
		{Name: "X-XSS-Protection", Value: "1"},
	}, merged.Entries[0].Headers)
}

func TestMergeKeepsUnmatchedAndDropsPatchComments(t *testing.T) {
	base, err := Parse("# keep me\n/a\n\tX: 1\n")
	require.NoError(t, err)
	patch, err := Parse("# drop me\n/b\n\t# drop me too\n\tY: 2\n")
	require.NoError(t, err)

	merged := Merge(base, patch)
	require.Len(t, merged.Entries, 3)
	assert.Equal(t, KindComment, merged.Entries[0].Kind)
	assert.Equal(t, "/a", merged.Entries[1].Path)
	assert.Equal(t, "/b", merged.Entries[2].Path)
	assert.Equal(t, []BlockEntry{{Name: "Y", Value: "2"}}, merged.Entries[2].Headers)
}

func TestMergeEmptyValueDeletes(t *testing.T) {
	base, err := Parse("/a\n\tX: 1\n\tY: 2\n")
	require.NoError(t, err)
	patch := &Config{Entries: []Entry{{
		Kind: KindPath, Path: "/a",
		Headers: []BlockEntry{{Name: "X", Value: ""}},
	}}}

	merged := Merge(base, patch)
	require.Len(t, merged.Entries, 1)
	assert.Equal(t, []BlockEntry{{Name: "Y", Value: "2"}}, merged.Entries[0].Headers)
}

func TestMergeDropsEmptiedBlocks(t *testing.T) {
	base, err := Parse("/a\n\tX: 1\n/b\n\tY: 2\n")
	require.NoError(t, err)
	patch := &Config{Entries: []Entry{{
		Kind: KindPath, Path: "/a",
		Headers: []BlockEntry{{Name: "X", Value: ""}},
	}}}

	merged := Merge(base, patch)
	require.Len(t, merged.Entries, 1)
	assert.Equal(t, "/b", merged.Entries[0].Path)
}

func TestMergeIndentPreference(t *testing.T) {
	base := &Config{IndentWith: "    "}
	patch := &Config{IndentWith: "\t"}
	assert.Equal(t, "    ", Merge(base, patch).IndentWith)
	assert.Equal(t, "\t", Merge(&Config{}, patch).IndentWith)
}
