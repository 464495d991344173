// Package view is the composed read API (list/stat/open) that assembles
// hosts, backups, shares, and files into one coherent namespace, merging
// incremental backups against their reference chain and resolving
// same-pool hardlinks.
package view

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/distr1/backuppcfs"
	"github.com/distr1/backuppcfs/internal/attrib"
	"github.com/distr1/backuppcfs/internal/cache"
	"github.com/distr1/backuppcfs/internal/catalog"
	"github.com/distr1/backuppcfs/internal/pool"
)

// maxHardlinkDepth bounds hardlink-chain recursion. Cyclic hardlink
// chains are pathological but possible under pool corruption.
const maxHardlinkDepth = 40

// maxRefChainDepth bounds reference-chain recursion against a corrupted
// backups index whose reference chain never terminates at a full backup.
const maxRefChainDepth = 10000

// View is the composed read API. It is safe for concurrent use by many
// callers: the only mutable state it owns is the directory cache, which
// is internally synchronized.
type View struct {
	pool     backuppcfs.Pool
	dirCache *cache.DirCache
}

// New constructs a View over pool, with a directory-listing cache of the
// given capacity (pass 0 for the default).
func New(p backuppcfs.Pool, dirCacheCapacity int) (*View, error) {
	dc, err := cache.NewDirCache(dirCacheCapacity)
	if err != nil {
		return nil, err
	}
	return &View{pool: p, dirCache: dc}, nil
}

// List returns the resolved, merged directory listing at path within
// backup n of host.
func (v *View) List(host string, n int, path string) ([]attrib.FileAttr, error) {
	return v.listDepth(host, n, path)
}

// Stat resolves a single path to its FileAttr, following hardlinks.
// Stat(path) always agrees with List(parent(path))'s entry for the name.
func (v *View) Stat(host string, n int, path string) (attrib.FileAttr, error) {
	return v.statDepth(host, n, path)
}

// Open resolves path to a regular file and returns a read handle over its
// digest chain.
func (v *View) Open(host string, n int, path string) (*pool.Handle, error) {
	fa, err := v.Stat(host, n, path)
	if err != nil {
		return nil, err
	}
	if fa.Type != attrib.TypeFile {
		return nil, &backuppcfs.NotFoundError{What: "regular file", Name: path}
	}
	exts := make([]backuppcfs.Digest, len(fa.ExtraDigests))
	for i, d := range fa.ExtraDigests {
		exts[i] = backuppcfs.Digest(d)
	}
	return pool.Open(v.pool, backuppcfs.Digest(fa.Digest), fa.Size, exts)
}

// Shares returns the public, "/"-prefixed share names for backup n of
// host, union-merged with the reference chain when n is unfilled. Without
// the union, an incremental that never touched a share would appear to
// have lost it.
func (v *View) Shares(host string, n int) ([]string, error) {
	names, err := v.dirShares(host, n, 0)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(names))
	for i, s := range names {
		out[i] = "/" + s
	}
	sort.Strings(out)
	return out, nil
}

// dirShares returns the internal (no leading slash, canon'd) share name
// set, unioned up the reference chain. own's attrib load and the
// reference chain's recursive share walk touch disjoint parts of the pool
// and are fetched concurrently via errgroup.
func (v *View) dirShares(host string, n int, depth int) ([]string, error) {
	if depth > maxRefChainDepth {
		return nil, &backuppcfs.CorruptIndexError{Host: host, Reason: "reference chain too deep"}
	}
	rec, err := catalog.Backup(v.pool, host, n)
	if err != nil {
		return nil, err
	}

	var own []attrib.FileAttr
	var refNames []string
	fetchRef := !rec.Filled && rec.Type == "incr" && rec.RefNum >= 0 && rec.RefNum < n

	var eg errgroup.Group
	eg.Go(func() error {
		entries, _, err := v.loadOnDisk(host, n, "")
		own = entries
		return err
	})
	if fetchRef {
		eg.Go(func() error {
			names, err := v.dirShares(host, rec.RefNum, depth+1)
			if err != nil {
				log.Printf("backuppcfs: host %q backup %d: reference backup %d unavailable for share union: %v", host, n, rec.RefNum, err)
				return nil
			}
			refNames = names
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var names []string
	for _, e := range own {
		if e.Type == attrib.TypeDeleted {
			continue
		}
		names = append(names, canon(string(e.Name)))
	}
	if fetchRef {
		names = unionStrings(names, refNames)
	}
	return names, nil
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// listDepth is List's implementation.
func (v *View) listDepth(host string, n int, path string) ([]attrib.FileAttr, error) {
	full := canon(path)
	key := cache.DirKey{Host: host, Num: n, Path: full}
	if entries, ok := v.dirCache.Get(key); ok {
		return entries, nil
	}

	raw, err := v.rawList(host, n, full)
	if err != nil {
		return nil, err
	}

	resolved := make([]attrib.FileAttr, len(raw))
	for i, e := range raw {
		if e.Type != attrib.TypeHardlink {
			resolved[i] = e
			continue
		}
		r, err := v.resolveOne(host, n, e, 0)
		if err != nil {
			log.Printf("backuppcfs: host %q backup %d: hardlink %q -> %q unresolved: %v", host, n, e.Name, e.Digest, err)
			resolved[i] = e
			continue
		}
		resolved[i] = r
	}
	v.dirCache.Add(key, resolved)
	return resolved, nil
}

// rawList produces the directory listing at full (merged across the
// reference chain, with share-mount nodes synthesized) without resolving
// hardlink entries. Hardlink resolution is layered on top in listDepth, and
// separately in resolveOne's direct name lookup, so that resolving one
// hardlink's target never has to re-resolve every other hardlink
// elsewhere in the same directory (which, for a self-referential-looking
// entry in the same directory as the link, would otherwise recurse back
// into listDepth and repeat resolution work once per hop).
func (v *View) rawList(host string, n int, full string) ([]attrib.FileAttr, error) {
	shares, err := v.dirShares(host, n, 0)
	if err != nil {
		return nil, err
	}
	if _, _, ok := longestPrefixShare(shares, full); ok {
		entries, err := v.resolveDir(host, n, full, 0)
		if err != nil {
			return nil, err
		}
		return appendMounts(entries, shares, full), nil
	}
	extra := appendMounts(nil, shares, full)
	if len(extra) == 0 {
		return nil, &backuppcfs.NotFoundError{What: "path", Name: full}
	}
	return extra, nil
}

// rawStat finds a single unresolved entry by name within full's parent
// directory, without resolving hardlinks. found is false (not an error) if
// no such name exists.
func (v *View) rawStat(host string, n int, path string) (fa attrib.FileAttr, found bool, err error) {
	full := canon(path)
	if full == "" {
		return attrib.FileAttr{Type: attrib.TypeDirectory, Mode: 0o755}, true, nil
	}
	parent, name := splitLast(full)
	entries, err := v.rawList(host, n, parent)
	if err != nil {
		return attrib.FileAttr{}, false, err
	}
	for _, e := range entries {
		if string(e.Name) == name {
			return e, true, nil
		}
	}
	return attrib.FileAttr{}, false, nil
}

// resolveOne follows a single hardlink entry to its target, chasing
// further hardlink hops if the target is itself a hardlink, bounded by
// maxHardlinkDepth. depth counts hops along this chain only,
// not directory-resolution recursion, so an ordinary (non-cyclic)
// hardlink costs O(chain length), not O(directory size).
func (v *View) resolveOne(host string, n int, e attrib.FileAttr, depth int) (attrib.FileAttr, error) {
	if depth+1 > maxHardlinkDepth {
		return attrib.FileAttr{}, &backuppcfs.CorruptAttribError{Reason: "hardlink chain exceeds depth limit"}
	}
	target := string(e.Digest)
	te, found, err := v.rawStat(host, n, target)
	if err != nil {
		return attrib.FileAttr{}, err
	}
	if !found {
		return attrib.FileAttr{}, &backuppcfs.NotFoundError{What: "hardlink target", Name: target}
	}
	if te.Type == attrib.TypeHardlink {
		resolved, err := v.resolveOne(host, n, te, depth+1)
		if err != nil {
			return attrib.FileAttr{}, err
		}
		te = resolved
	}
	te.Name = e.Name
	return te, nil
}

// appendMounts adds synthetic directory entries for shares nested
// strictly beneath full that are not already present among entries, so a
// share mounted below another share surfaces as a child of its parent.
func appendMounts(entries []attrib.FileAttr, shares []string, full string) []attrib.FileAttr {
	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		present[string(e.Name)] = true
	}
	children := mountChildren(shares, full)
	sort.Strings(children)
	for _, c := range children {
		if present[c] {
			continue
		}
		entries = append(entries, attrib.FileAttr{
			Name: []byte(c),
			Type: attrib.TypeDirectory,
			Mode: 0o755,
		})
	}
	return entries
}

// statDepth is Stat's implementation: find the name within the parent's
// resolved listing.
func (v *View) statDepth(host string, n int, path string) (attrib.FileAttr, error) {
	full := canon(path)
	if full == "" {
		return attrib.FileAttr{Type: attrib.TypeDirectory, Mode: 0o755}, nil
	}
	parent, name := splitLast(full)
	entries, err := v.listDepth(host, n, parent)
	if err != nil {
		return attrib.FileAttr{}, err
	}
	for _, e := range entries {
		if string(e.Name) == name {
			return e, nil
		}
	}
	return attrib.FileAttr{}, &backuppcfs.NotFoundError{What: "path", Name: path}
}

// resolveDir produces the merged entry list for the directory at full
// path (relative to the backup root, canon'd) within backup n of host,
// recursing up the reference chain for unfilled backups: two sources,
// current-over-reference precedence. own's attrib load and the reference
// chain's recursive resolution are independent pool reads, fetched
// concurrently via errgroup rather than sequentially.
func (v *View) resolveDir(host string, n int, full string, chainDepth int) ([]attrib.FileAttr, error) {
	if chainDepth > maxRefChainDepth {
		return nil, &backuppcfs.CorruptIndexError{Host: host, Reason: "reference chain too deep"}
	}
	rec, err := catalog.Backup(v.pool, host, n)
	if err != nil {
		return nil, err
	}

	var own []attrib.FileAttr
	var exists bool
	var ref []attrib.FileAttr
	fetchRef := !rec.Filled && rec.Type == "incr" && rec.RefNum >= 0 && rec.RefNum < n

	var eg errgroup.Group
	eg.Go(func() error {
		entries, ok, err := v.loadOnDisk(host, n, full)
		own, exists = entries, ok
		return err
	})
	if fetchRef {
		eg.Go(func() error {
			r, err := v.resolveDir(host, rec.RefNum, full, chainDepth+1)
			if err != nil {
				log.Printf("backuppcfs: host %q backup %d: reference backup %d unavailable at %q, using current entries only: %v", host, n, rec.RefNum, full, err)
				return nil
			}
			ref = r
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, xerrors.Errorf("backup %d: %v: %w", n, full, err)
	}

	if rec.Filled {
		if !exists {
			return nil, &backuppcfs.NotFoundError{What: "path", Name: full}
		}
		return own, nil
	}
	if !exists && ref == nil {
		return nil, &backuppcfs.NotFoundError{What: "path", Name: full}
	}
	return mergeEntries(own, ref), nil
}

// loadOnDisk reads the attrib file whose on-disk path mirrors fullPath
// beneath the backup root, transparently following the pool-indirection
// pointer format when present. Reports exists=false (not
// an error) when the backup simply never wrote this directory, which is
// the expected shape for an unfilled incremental that didn't touch it.
func (v *View) loadOnDisk(host string, n int, fullPath string) ([]attrib.FileAttr, bool, error) {
	path := filepath.Join(v.pool.Topdir, "pc", host, strconv.Itoa(n), fullPath, "attrib")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	kind, err := attrib.Sniff(data)
	if err != nil {
		return nil, true, err
	}
	switch kind {
	case attrib.KindPointer:
		ptr, err := attrib.DecodePointer(data)
		if err != nil {
			return nil, true, err
		}
		exts := make([]backuppcfs.Digest, len(ptr.Extensions))
		for i, e := range ptr.Extensions {
			exts[i] = backuppcfs.Digest(e)
		}
		logical, err := pool.ReadLogical(v.pool, backuppcfs.Digest(ptr.Base), exts)
		if err != nil {
			return nil, true, err
		}
		entries, err := attrib.DecodeEntries(logical)
		return entries, true, err
	default: // KindInline
		entries, err := attrib.DecodeEntries(data)
		return entries, true, err
	}
}

// mergeEntries unions own over ref: own wins name conflicts, and an own
// entry of type Deleted tombstones the name out of the result entirely.
// Reference order is preserved for names that
// exist in both or only in ref; own-only names are appended in own's
// record order.
func mergeEntries(own, ref []attrib.FileAttr) []attrib.FileAttr {
	ownByName := make(map[string]attrib.FileAttr, len(own))
	var ownOrder []string
	deleted := make(map[string]bool)
	for _, e := range own {
		name := string(e.Name)
		if e.Type == attrib.TypeDeleted {
			deleted[name] = true
			continue
		}
		ownByName[name] = e
		ownOrder = append(ownOrder, name)
	}
	out := make([]attrib.FileAttr, 0, len(own)+len(ref))
	seen := make(map[string]bool, len(ref))
	for _, e := range ref {
		name := string(e.Name)
		if deleted[name] {
			continue
		}
		if cur, ok := ownByName[name]; ok {
			out = append(out, cur)
		} else {
			out = append(out, e)
		}
		seen[name] = true
	}
	for _, name := range ownOrder {
		if seen[name] {
			continue
		}
		out = append(out, ownByName[name])
	}
	return out
}
