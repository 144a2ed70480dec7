package contentstore

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/fabindex/internal/meta"
)

// DefaultCacheSize is the number of metadata documents CachedStore keeps.
const DefaultCacheSize = 1024

// CachedStore memoizes GetMetadata in an LRU cache. Cached values are
// shared between callers and must be treated as read-only.
// Versions are never cached; they change as objects are committed.
type CachedStore struct {
	next  Store
	cache *lru.Cache[ObjectRef, meta.Value]
}

var (
	_ Store      = (*CachedStore)(nil)
	_ Prefetcher = (*CachedStore)(nil)
)

// NewCachedStore wraps next with a cache of size entries.
func NewCachedStore(next Store, size int) *CachedStore {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[ObjectRef, meta.Value](size)
	return &CachedStore{next: next, cache: cache}
}

// GetMetadata implements Store.
func (c *CachedStore) GetMetadata(ctx context.Context, library, hash, subpath string) (meta.Value, error) {
	key := ObjectRef{Library: library, Hash: hash, Subpath: subpath}
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}

	v, err := c.next.GetMetadata(ctx, library, hash, subpath)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, v)
	return v, nil
}

// GetVersions implements Store.
func (c *CachedStore) GetVersions(ctx context.Context, contentID string) ([]Version, error) {
	return c.next.GetVersions(ctx, contentID)
}

// Close implements Store.
func (c *CachedStore) Close() error {
	c.cache.Purge()
	return c.next.Close()
}

// Len returns the number of cached documents.
func (c *CachedStore) Len() int {
	return c.cache.Len()
}

// Prefetch fetches refs concurrently into the cache, at most workers at a
// time. It returns the first fetch error; documents fetched before it stay
// cached.
func (c *CachedStore) Prefetch(ctx context.Context, refs []ObjectRef, workers int) error {
	if workers <= 0 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, ref := range refs {
		if c.cache.Contains(ref) {
			continue
		}
		g.Go(func() error {
			_, err := c.GetMetadata(gctx, ref.Library, ref.Hash, ref.Subpath)
			return err
		})
	}
	return g.Wait()
}
