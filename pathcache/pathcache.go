// Package pathcache implements §4 component A, the Canonical Path Cache:
// resolving an arbitrary (path, workdir) pair to a canonicalised absolute
// path, memoised, safe for concurrent reads with serialised writes (§5).
package pathcache

import (
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const defaultCacheSize = 65536

// PrefixMapping rewrites a stored path prefix to a local one (§6 "Creation
// options" prefixMappings; scenario S5).
type PrefixMapping struct {
	Original    string
	Replacement string
}

// Cache canonicalises paths and memoises the result. The zero value is not
// usable; construct with New.
type Cache struct {
	mu       sync.RWMutex // guards nothing directly; serialises writes into lru, which is itself safe for concurrent use, to match §5's "serialised writes" policy
	lru      *lru.Cache[string, string]
	sysroots []string
	mappings []PrefixMapping
	group    singleflight.Group
	log      *zap.Logger
}

// New builds a Cache. sysroots marks path prefixes as "system" for
// Symbol/location isSystem propagation (§3).
func New(logger *zap.Logger, sysroots []string, mappings []PrefixMapping) *Cache {
	l, err := lru.New[string, string](defaultCacheSize)
	if err != nil {
		// lru.New only errors on a non-positive size, which defaultCacheSize
		// never is.
		panic(err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{lru: l, sysroots: sysroots, mappings: mappings, log: logger}
}

func cacheKey(path, workdir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return workdir + "\x00" + path
}

// Resolve returns the canonicalised absolute form of path relative to
// workdir (used when path is relative), applying prefix mappings and
// memoising the result. Concurrent calls for the same key collapse into one
// underlying resolution via singleflight.
func (c *Cache) Resolve(path, workdir string) (string, error) {
	key := cacheKey(path, workdir)

	c.mu.RLock()
	if v, ok := c.lru.Get(key); ok {
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		resolved := path
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(workdir, resolved)
		}
		resolved = filepath.Clean(resolved)
		resolved = c.applyMappings(resolved)

		c.mu.Lock()
		c.lru.Add(key, resolved)
		c.mu.Unlock()
		return resolved, nil
	})
	if err != nil {
		c.log.Warn("canonicalising path failed", zap.String("path", path), zap.Error(err))
		return "", err
	}
	return v.(string), nil
}

func (c *Cache) applyMappings(path string) string {
	for _, m := range c.mappings {
		if strings.HasPrefix(path, m.Original) {
			return m.Replacement + strings.TrimPrefix(path, m.Original)
		}
	}
	return path
}

// IsSystem reports whether the canonicalised path falls under one of the
// configured sysroots.
func (c *Cache) IsSystem(canonicalPath string) bool {
	for _, root := range c.sysroots {
		if strings.HasPrefix(canonicalPath, root) {
			return true
		}
	}
	return false
}

// Invalidate drops the cached resolution stored under canonicalPath as a
// cache key, forcing re-resolution. Entries are keyed by the absolute path
// as passed to Resolve (before prefix mapping), so a mapped result or a
// relative input resolved against a workdir is not reached by its resolved
// form.
func (c *Cache) Invalidate(canonicalPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(canonicalPath)
}

// Len reports how many entries are currently memoised (for tests/metrics).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}
