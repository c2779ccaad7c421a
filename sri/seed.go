package sri

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/projectdiscovery/gologger"
)

// SeedAllowList fetches and hashes every allow-listed URL up front so that
// dynamic-mode scans can validate resources that no static page embeds.
func SeedAllowList(ctx context.Context, resolver *Resolver, collection *HashCollection, scripts, styles []string) error {
	for _, u := range scripts {
		if err := seedURL(ctx, resolver, collection, KindScript, u); err != nil {
			return err
		}
	}
	for _, u := range styles {
		if err := seedURL(ctx, resolver, collection, KindStyle, u); err != nil {
			return err
		}
	}
	return nil
}

func seedURL(ctx context.Context, resolver *Resolver, collection *HashCollection, kind ResourceKind, url string) error {
	if _, ok := collection.CachedResource(kind, url); ok {
		return nil
	}
	body, err := resolver.Resolve(ctx, url)
	if err != nil {
		return errors.Wrapf(err, "seeding allow-listed %s", kind)
	}
	hash := Hash(body)
	collection.CacheResource(kind, url, hash)
	gologger.Debug().Msgf("Seeded allow-listed %s %s as %s", kind, url, hash)
	return nil
}

// SeedDist walks the build output and hashes every script and style file,
// keyed by root-relative path, so bundler-emitted chunks that no HTML
// references directly are still present in the persisted table.
func SeedDist(root string, collection *HashCollection) error {
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		var kind ResourceKind
		switch strings.ToLower(filepath.Ext(p)) {
		case ".js", ".mjs":
			kind = KindScript
		case ".css":
			kind = KindStyle
		default:
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		locator := "/" + filepath.ToSlash(rel)
		if _, ok := collection.CachedResource(kind, locator); ok {
			return nil
		}
		body, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		collection.CacheResource(kind, locator, Hash(body))
		return nil
	})
	return errors.Wrapf(err, "seeding build output %s", root)
}
