// Command bpcfs mounts a BackupPC v4 pool read-only as a FUSE file
// system: /<host>/<backup#>/<share>/<path-within-share>.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"golang.org/x/xerrors"

	"github.com/distr1/backuppcfs"
	"github.com/distr1/backuppcfs/internal/fuseadapter"
)

var debug = flag.Bool("debug", false, "format error messages with additional detail")

func funcmain() error {
	flag.Parse()
	ctx, canc := backuppcfs.InterruptibleContext(context.Background())
	defer canc()
	join, err := fuseadapter.Mount(ctx, flag.Args())
	if err != nil {
		if *debug {
			return xerrors.Errorf("%+v", err)
		}
		return err
	}
	if err := join(ctx); err != nil {
		return xerrors.Errorf("Join: %w", err)
	}
	return backuppcfs.RunAtExit()
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
