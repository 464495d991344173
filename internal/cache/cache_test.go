package cache

import (
	"testing"

	"github.com/distr1/backuppcfs/internal/attrib"
)

func TestDirCacheEviction(t *testing.T) {
	t.Parallel()
	c, err := NewDirCache(2)
	if err != nil {
		t.Fatal(err)
	}
	k1 := DirKey{Host: "h", Num: 1, Path: "a"}
	k2 := DirKey{Host: "h", Num: 1, Path: "b"}
	k3 := DirKey{Host: "h", Num: 1, Path: "c"}
	c.Add(k1, []attrib.FileAttr{{Name: []byte("one")}})
	c.Add(k2, []attrib.FileAttr{{Name: []byte("two")}})
	c.Add(k3, []attrib.FileAttr{{Name: []byte("three")}}) // evicts k1 (LRU, capacity 2)

	if _, ok := c.Get(k1); ok {
		t.Fatal("k1 should have been evicted")
	}
	if _, ok := c.Get(k2); !ok {
		t.Fatal("k2 should still be cached")
	}
	if _, ok := c.Get(k3); !ok {
		t.Fatal("k3 should be cached")
	}
}

func TestDirCachePurge(t *testing.T) {
	t.Parallel()
	c, err := NewDirCache(0) // default capacity
	if err != nil {
		t.Fatal(err)
	}
	k := DirKey{Host: "h", Num: 1, Path: ""}
	c.Add(k, []attrib.FileAttr{{Name: []byte("x")}})
	c.Purge()
	if _, ok := c.Get(k); ok {
		t.Fatal("expected cache to be empty after Purge")
	}
}

func TestWindowCache(t *testing.T) {
	t.Parallel()
	c, err := NewWindowCache(1)
	if err != nil {
		t.Fatal(err)
	}
	c.Add("digest-a", []byte("aaa"))
	c.Add("digest-b", []byte("bbb")) // evicts digest-a, capacity 1
	if _, ok := c.Get("digest-a"); ok {
		t.Fatal("digest-a should have been evicted")
	}
	b, ok := c.Get("digest-b")
	if !ok || string(b) != "bbb" {
		t.Fatalf("Get(digest-b) = %q, %v, want bbb, true", b, ok)
	}
}
