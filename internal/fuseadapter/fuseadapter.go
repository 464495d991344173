// Package fuseadapter mounts a read-only view of a BackupPC pool
// (internal/view) over FUSE. It holds no merge, decode, or caching logic
// of its own: every call translates directly into an internal/catalog or
// internal/view call.
//
// The namespace has three levels: the root lists hosts (internal/catalog.
// Hosts), each host directory lists its backup numbers (internal/catalog.
// Backups), and each backup directory recurses into internal/view.View,
// which owns everything below that point. Inodes are allocated lazily as
// (host, backup#, path) tuples are first looked up, since View has no
// notion of numeric inodes of its own.
package fuseadapter

import (
	"context"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/distr1/backuppcfs"
	"github.com/distr1/backuppcfs/internal/attrib"
	"github.com/distr1/backuppcfs/internal/catalog"
	"github.com/distr1/backuppcfs/internal/pool"
	"github.com/distr1/backuppcfs/internal/view"
)

// The pool is immutable for the lifetime of a mount, so cached attribute
// and entry leases never need to expire.
var never = time.Now().Add(365 * 24 * time.Hour)

// node identifies what a synthetic inode stands for: the root, a host
// directory, a backup-number directory, or a (host, backup#, path) triple
// resolved through the View. num is -1 above the backup level.
type node struct {
	host string
	num  int
	path string
}

// FS implements fuseutil.FileSystem over a View: a mutex-guarded inode
// table built lazily as LookUpInode is called, plus a separate map of
// open file readers.
type FS struct {
	fuseutil.NotImplementedFileSystem

	pool backuppcfs.Pool
	v    *view.View

	mu    sync.Mutex
	nodes map[fuseops.InodeID]node
	ids   map[node]fuseops.InodeID
	next  fuseops.InodeID

	readersMu sync.Mutex
	readers   map[fuseops.InodeID]*pool.Handle
}

// New constructs a file system rooted at the given pool topdir, with a
// directory-listing cache of dirCacheCapacity entries passed through to
// internal/view.New (0 selects the default).
func New(p backuppcfs.Pool, dirCacheCapacity int) (*FS, error) {
	v, err := view.New(p, dirCacheCapacity)
	if err != nil {
		return nil, err
	}
	fs := &FS{
		pool:  p,
		v:     v,
		nodes: make(map[fuseops.InodeID]node),
		ids:   make(map[node]fuseops.InodeID),
		next:  fuseops.RootInodeID + 1,
	}
	fs.nodes[fuseops.RootInodeID] = node{num: -1}
	fs.ids[node{num: -1}] = fuseops.RootInodeID
	return fs, nil
}

// Server wraps fs as a fuseutil.NewFileSystemServer for use with
// fuse.Mount.
func Server(fs *FS) fuse.Server {
	return fuseutil.NewFileSystemServer(fs)
}

// idFor returns the inode for n, allocating one if this is the first time
// n has been seen.
func (fs *FS) idFor(n node) fuseops.InodeID {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if id, ok := fs.ids[n]; ok {
		return id
	}
	id := fs.next
	fs.next++
	fs.nodes[id] = n
	fs.ids[n] = id
	return id
}

func (fs *FS) nodeFor(id fuseops.InodeID) (node, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[id]
	return n, ok
}

// level reports which of the three namespace levels n belongs to.
func (n node) level() string {
	switch {
	case n.host == "":
		return "root"
	case n.num < 0:
		return "host"
	default:
		return "backup"
	}
}

func (fs *FS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	return nil
}

// LookUpInode resolves op.Name within op.Parent, dispatching on which of
// the three namespace tiers (root / host / backup-relative) the parent
// belongs to.
func (fs *FS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	parent, ok := fs.nodeFor(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	op.Entry.AttributesExpiration = never
	op.Entry.EntryExpiration = never

	switch parent.level() {
	case "root":
		hosts, err := catalog.Hosts(fs.pool)
		if err != nil {
			log.Printf("backuppcfs: Hosts: %v", err)
			return fuse.EIO
		}
		for _, h := range hosts {
			if h.Name != op.Name {
				continue
			}
			child := node{host: h.Name, num: -1}
			op.Entry.Child = fs.idFor(child)
			op.Entry.Attributes = dirAttributes()
			return nil
		}
		return fuse.ENOENT

	case "host":
		n, err := strconv.Atoi(op.Name)
		if err != nil {
			return fuse.ENOENT
		}
		if _, err := catalog.Backup(fs.pool, parent.host, n); err != nil {
			if isNotFound(err) {
				return fuse.ENOENT
			}
			log.Printf("backuppcfs: Backup(%q, %d): %v", parent.host, n, err)
			return fuse.EIO
		}
		child := node{host: parent.host, num: n, path: ""}
		op.Entry.Child = fs.idFor(child)
		op.Entry.Attributes = dirAttributes()
		return nil

	default: // backup
		childPath := parent.path + "/" + op.Name
		fa, err := fs.v.Stat(parent.host, parent.num, childPath)
		if err != nil {
			if isNotFound(err) {
				return fuse.ENOENT
			}
			log.Printf("backuppcfs: Stat(%q, %d, %q): %v", parent.host, parent.num, childPath, err)
			return fuse.EIO
		}
		child := node{host: parent.host, num: parent.num, path: childPath}
		op.Entry.Child = fs.idFor(child)
		op.Entry.Attributes = fuseAttributes(fa)
		return nil
	}
}

func (fs *FS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	op.AttributesExpiration = never
	n, ok := fs.nodeFor(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	switch n.level() {
	case "root", "host":
		op.Attributes = dirAttributes()
		return nil
	default:
		fa, err := fs.v.Stat(n.host, n.num, n.path)
		if err != nil {
			if isNotFound(err) {
				return fuse.ENOENT
			}
			log.Printf("backuppcfs: Stat(%q, %d, %q): %v", n.host, n.num, n.path, err)
			return fuse.EIO
		}
		op.Attributes = fuseAttributes(fa)
		return nil
	}
}

func (fs *FS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	// Instruct the kernel not to send OpenDir requests for performance
	// (see EnableNoOpendirSupport in mount.go).
	return fuse.ENOSYS
}

// ReadDir lists the children of op.Inode at whichever of the three
// namespace levels it belongs to.
func (fs *FS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	n, ok := fs.nodeFor(op.Inode)
	if !ok {
		return fuse.ENOENT
	}

	var entries []fuseutil.Dirent
	switch n.level() {
	case "root":
		hosts, err := catalog.Hosts(fs.pool)
		if err != nil {
			log.Printf("backuppcfs: Hosts: %v", err)
			return fuse.EIO
		}
		for _, h := range hosts {
			child := node{host: h.Name, num: -1}
			entries = append(entries, fuseutil.Dirent{
				Offset: fuseops.DirOffset(len(entries) + 1),
				Inode:  fs.idFor(child),
				Name:   h.Name,
				Type:   fuseutil.DT_Directory,
			})
		}

	case "host":
		backups, err := catalog.Backups(fs.pool, n.host)
		if err != nil {
			log.Printf("backuppcfs: Backups(%q): %v", n.host, err)
			return fuse.EIO
		}
		for _, b := range backups {
			name := strconv.Itoa(b.Num)
			child := node{host: n.host, num: b.Num, path: ""}
			entries = append(entries, fuseutil.Dirent{
				Offset: fuseops.DirOffset(len(entries) + 1),
				Inode:  fs.idFor(child),
				Name:   name,
				Type:   fuseutil.DT_Directory,
			})
		}

	default:
		fas, err := fs.v.List(n.host, n.num, n.path)
		if err != nil {
			if isNotFound(err) {
				return fuse.ENOENT
			}
			log.Printf("backuppcfs: List(%q, %d, %q): %v", n.host, n.num, n.path, err)
			return fuse.EIO
		}
		sort.Slice(fas, func(i, j int) bool { return string(fas[i].Name) < string(fas[j].Name) })
		for _, fa := range fas {
			name := string(fa.Name)
			child := node{host: n.host, num: n.num, path: n.path + "/" + name}
			typ := fuseutil.DT_File
			switch fa.Type {
			case attrib.TypeDirectory:
				typ = fuseutil.DT_Directory
			case attrib.TypeSymlink:
				typ = fuseutil.DT_Link
			}
			entries = append(entries, fuseutil.Dirent{
				Offset: fuseops.DirOffset(len(entries) + 1),
				Inode:  fs.idFor(child),
				Name:   name,
				Type:   typ,
			})
		}
	}

	if op.Offset > fuseops.DirOffset(len(entries)) {
		return fuse.EIO
	}
	for _, e := range entries[op.Offset:] {
		written := fuseutil.WriteDirent(op.Dst[op.BytesRead:], e)
		if written == 0 {
			break
		}
		op.BytesRead += written
	}
	return nil
}

func (fs *FS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	// Instruct the kernel not to send OpenFile requests for performance
	// (see EnableNoOpenSupport in mount.go).
	return fuse.ENOSYS
}

// ReadFile opens (and caches) a pool.Handle for op.Inode on first read.
func (fs *FS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fs.readersMu.Lock()
	r, ok := fs.readers[op.Inode]
	fs.readersMu.Unlock()
	if !ok {
		n, ok := fs.nodeFor(op.Inode)
		if !ok {
			return fuse.ENOENT
		}
		h, err := fs.v.Open(n.host, n.num, n.path)
		if err != nil {
			log.Printf("backuppcfs: Open(%q, %d, %q): %v", n.host, n.num, n.path, err)
			return fuse.EIO
		}
		r = h
		fs.readersMu.Lock()
		if fs.readers == nil {
			fs.readers = make(map[fuseops.InodeID]*pool.Handle)
		}
		fs.readers[op.Inode] = r
		fs.readersMu.Unlock()
	}
	var err error
	op.BytesRead, err = r.ReadAt(op.Dst, op.Offset)
	if err == io.EOF {
		err = nil // FUSE does not want io.EOF
	}
	return err
}

func (fs *FS) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	n, ok := fs.nodeFor(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	fa, err := fs.v.Stat(n.host, n.num, n.path)
	if err != nil {
		return fuse.EIO
	}
	if fa.Type != attrib.TypeSymlink {
		return fuse.EIO
	}
	op.Target = string(fa.Digest)
	return nil
}

// ForgetInode drops any cached pool.Handle for the inode; a handle lives
// only as long as the kernel keeps referencing its inode.
func (fs *FS) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	fs.readersMu.Lock()
	if r, ok := fs.readers[op.Inode]; ok {
		r.Close()
		delete(fs.readers, op.Inode)
	}
	fs.readersMu.Unlock()
	return nil
}

func (fs *FS) Destroy() {
	fs.readersMu.Lock()
	for id, r := range fs.readers {
		r.Close()
		delete(fs.readers, id)
	}
	fs.readersMu.Unlock()
}

func dirAttributes() fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Nlink: 1,
		Mode:  os.ModeDir | 0o555,
		Atime: time.Now(),
		Mtime: time.Now(),
		Ctime: time.Now(),
	}
}

// fuseAttributes converts a decoded FileAttr into the kernel-facing
// attribute struct.
func fuseAttributes(fa attrib.FileAttr) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  uint64(fa.Size),
		Nlink: 1,
		Mode:  fa.OSMode(),
		Uid:   fa.UID,
		Gid:   fa.GID,
		Atime: time.Unix(fa.Mtime, 0),
		Mtime: time.Unix(fa.Mtime, 0),
		Ctime: time.Unix(fa.Mtime, 0),
	}
}

func isNotFound(err error) bool {
	_, ok := err.(*backuppcfs.NotFoundError)
	return ok
}
