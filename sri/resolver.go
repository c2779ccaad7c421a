package sri

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var crossOriginRe = regexp.MustCompile(`^(?:[a-zA-Z][a-zA-Z0-9+.-]*:)?//`)

// CrossOrigin reports whether a locator points outside the site: a full URL
// or a protocol-relative reference. Rooted and relative paths are same-origin.
func CrossOrigin(locator string) bool {
	return crossOriginRe.MatchString(locator)
}

// Resolver reads resource content either from the build output directory or,
// for cross-origin locators, over HTTP.
type Resolver struct {
	root   string
	client *http.Client
}

func NewResolver(root string, client *http.Client) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Resolver{root: root, client: client}
}

// Resolve returns the raw bytes of the resource behind locator. Failures are
// returned as-is; an un-hashed resource must not ship silently, so callers
// treat them as fatal during a static scan.
func (r *Resolver) Resolve(ctx context.Context, locator string) ([]byte, error) {
	if CrossOrigin(locator) {
		url := locator
		if strings.HasPrefix(url, "//") {
			url = "https:" + url
		}
		return r.fetch(ctx, url)
	}
	return r.readLocal(locator)
}

func (r *Resolver) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "building request for %s", url)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "reading response for %s", url)
	}
	return body, nil
}

func (r *Resolver) readLocal(locator string) ([]byte, error) {
	cleaned := stripQuery(locator)
	cleaned = strings.TrimPrefix(cleaned, "/")
	full := filepath.Join(r.root, filepath.FromSlash(cleaned))
	body, err := os.ReadFile(full)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", locator)
	}
	return body, nil
}

// stripQuery drops query string and fragment from a locator.
func stripQuery(locator string) string {
	if i := strings.IndexAny(locator, "?#"); i >= 0 {
		return locator[:i]
	}
	return locator
}
