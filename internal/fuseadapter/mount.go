package fuseadapter

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"

	"github.com/jacobsa/fuse"
	"golang.org/x/xerrors"

	"github.com/distr1/backuppcfs"
	"github.com/distr1/backuppcfs/internal/env"
)

const help = `bpcfs [-flags] <mountpoint>

Mount a BackupPC v4 pool read-only at mountpoint. The namespace is
/<host>/<backup#>/<share>/<path-within-share>.
`

// Mount parses args into its own flag.FlagSet and mounts a pool read-only
// at the given mountpoint, returning a join function that blocks until
// the mount is unmounted.
func Mount(ctx context.Context, args []string) (join func(context.Context) error, _ error) {
	fset := flag.NewFlagSet("bpcfs", flag.ExitOnError)
	var (
		topdir     = fset.String("topdir", env.DefaultTopdir, "BackupPC topdir (containing pc/ and cpool/)")
		compressed = fset.Bool("compressed", true, "whether the pool stores zlib-compressed blobs")
		dircache   = fset.Int("dircache", 0, "directory-listing cache capacity (0 selects the default)")
	)
	fset.Usage = func() {
		fmt.Fprint(os.Stderr, help)
		fset.PrintDefaults()
	}
	fset.Parse(args)
	if fset.NArg() != 1 {
		return nil, xerrors.Errorf("syntax: bpcfs [-flags] <mountpoint>")
	}
	mountpoint := fset.Arg(0)
	if *topdir == "" {
		return nil, xerrors.Errorf("-topdir (or $BPC_TOPDIR) must be set")
	}

	fs, err := New(backuppcfs.Pool{Topdir: *topdir, Compressed: *compressed}, *dircache)
	if err != nil {
		return nil, xerrors.Errorf("fuseadapter.New: %v", err)
	}

	mfs, err := fuse.Mount(mountpoint, Server(fs), &fuse.MountConfig{
		FSName:   "backuppcfs",
		ReadOnly: true,
		Options: map[string]string{
			"allow_other": "",
		},
		EnableSymlinkCaching:   true,
		EnableNoOpenSupport:    true,
		EnableNoOpendirSupport: true,
	})
	if err != nil {
		return nil, xerrors.Errorf("fuse.Mount: %v", err)
	}

	// Unmounting and releasing the view's open pool.Handles is registered
	// through backuppcfs.RegisterAtExit rather than deferred inline here,
	// so cmd/bpcfs's backuppcfs.RunAtExit call after Join actually runs
	// this mount's cleanup instead of an always-empty hook list.
	backuppcfs.RegisterAtExit(func() error {
		syscall.Unmount(mountpoint, 0)
		fs.Destroy()
		return nil
	})

	join = func(ctx context.Context) error {
		return mfs.Join(ctx)
	}
	return join, nil
}
