// Package cache provides the two LRU caches the read path needs: a
// directory-listing cache keyed by (host, backup#, canonical path) and a
// decompressed-blob-window cache keyed by digest. A long-running mount
// walks far more directories and blobs than fit in memory, so both are
// bounded rather than plain maps.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/distr1/backuppcfs/internal/attrib"
)

// DefaultDirCacheSize is the default directory-listing cache capacity.
const DefaultDirCacheSize = 256

// DirKey identifies one cached directory listing.
type DirKey struct {
	Host string
	Num  int
	Path string // canonical: no trailing slash, "/"-joined
}

// DirCache caches resolved directory entry lists. Entries are immutable
// once inserted: a listing is never mutated in place, only replaced
// wholesale if the cache is told to forget it.
type DirCache struct {
	lru *lru.Cache[DirKey, []attrib.FileAttr]
}

// NewDirCache creates a directory-listing cache with the given capacity,
// or DefaultDirCacheSize if capacity <= 0.
func NewDirCache(capacity int) (*DirCache, error) {
	if capacity <= 0 {
		capacity = DefaultDirCacheSize
	}
	l, err := lru.New[DirKey, []attrib.FileAttr](capacity)
	if err != nil {
		return nil, err
	}
	return &DirCache{lru: l}, nil
}

func (c *DirCache) Get(k DirKey) ([]attrib.FileAttr, bool) {
	return c.lru.Get(k)
}

func (c *DirCache) Add(k DirKey, entries []attrib.FileAttr) {
	c.lru.Add(k, entries)
}

// Purge discards every cached listing. The view layer has no TTL of its
// own because the pool is append-only during a read session; a caller
// that knows the pool changed underneath it (e.g. a long-running FUSE
// mount re-reading after a new backup run) can call Purge to force fresh
// resolution.
func (c *DirCache) Purge() {
	c.lru.Purge()
}

// DefaultWindowSize bounds how many decompressed pool-blob windows are
// kept per file-reader handle.
const DefaultWindowSize = 8

// WindowCache caches decompressed chunk bytes keyed by hex digest string,
// scoped to a single file-reader handle. Handles are not safe for
// parallel use, and the cache inherits that scoping rather than being
// shared across handles.
type WindowCache struct {
	lru *lru.Cache[string, []byte]
}

func NewWindowCache(capacity int) (*WindowCache, error) {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	l, err := lru.New[string, []byte](capacity)
	if err != nil {
		return nil, err
	}
	return &WindowCache{lru: l}, nil
}

func (c *WindowCache) Get(digestHex string) ([]byte, bool) {
	return c.lru.Get(digestHex)
}

func (c *WindowCache) Add(digestHex string, b []byte) {
	c.lru.Add(digestHex, b)
}

func (c *WindowCache) Purge() {
	c.lru.Purge()
}
