package sri

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	helloHash = "sha256-TWupyvVdPa1DyFqLnQMqRpuUWdS3nKPnz70IcS/1o3Q="
	emptyHash = "sha256-47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU="
)

func TestHashKnownVectors(t *testing.T) {
	assert.Equal(t, helloHash, Hash([]byte(`console.log("Hello World!")`)))
	assert.Equal(t, emptyHash, Hash(nil))
	assert.Equal(t, emptyHash, Hash([]byte{}))
}

func TestValidIntegrity(t *testing.T) {
	assert.True(t, ValidIntegrity(helloHash))
	assert.True(t, ValidIntegrity(emptyHash))

	assert.False(t, ValidIntegrity(""))
	assert.False(t, ValidIntegrity("sha256-"))
	assert.False(t, ValidIntegrity("sha384-TWupyvVdPa1DyFqLnQMqRpuUWdS3nKPnz70IcS/1o3Q="))
	assert.False(t, ValidIntegrity("sha256-TWupyvVdPa1DyFqLnQMqRpuUWdS3nKPnz70IcS/1o3Q"))
	assert.False(t, ValidIntegrity("sha256-!WupyvVdPa1DyFqLnQMqRpuUWdS3nKPnz70IcS/1o3Q="))
}

func TestCollectionResourceCache(t *testing.T) {
	c := NewHashCollection()

	_, ok := c.CachedResource(KindScript, "/app.js")
	assert.False(t, ok)

	c.CacheResource(KindScript, "/app.js", helloHash)
	h, ok := c.CachedResource(KindScript, "/app.js")
	assert.True(t, ok)
	assert.Equal(t, helloHash, h)

	// script and style caches are independent
	_, ok = c.CachedResource(KindStyle, "/app.js")
	assert.False(t, ok)
}

func TestCollectionRecordPage(t *testing.T) {
	c := NewHashCollection()

	ph := NewPageHashes()
	ph.Add(KindScript, helloHash)
	c.RecordPage("/index.html", ph)
	c.RecordPage("/empty.html", nil)

	pages := c.Pages()
	assert.Len(t, pages, 2)
	assert.Equal(t, []string{helloHash}, pages["/index.html"].Sorted(KindScript))
	assert.Empty(t, pages["/index.html"].Sorted(KindStyle))
	assert.True(t, pages["/empty.html"].Empty())
}

func TestPageHashesSortedAndDeduped(t *testing.T) {
	ph := NewPageHashes()
	ph.Add(KindStyle, "sha256-bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb=")
	ph.Add(KindStyle, "sha256-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa=")
	ph.Add(KindStyle, "sha256-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa=")

	assert.Equal(t, []string{
		"sha256-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa=",
		"sha256-bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb=",
	}, ph.Sorted(KindStyle))
}
