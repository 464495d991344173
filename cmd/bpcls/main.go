// Command bpcls is a mount-free debug tool for poking at a BackupPC v4
// pool from a terminal: listing hosts, backups, and directories, statting
// and streaming files, without needing FUSE or root.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"golang.org/x/xerrors"

	"github.com/distr1/backuppcfs"
	"github.com/distr1/backuppcfs/internal/catalog"
	"github.com/distr1/backuppcfs/internal/env"
	"github.com/distr1/backuppcfs/internal/pool"
	"github.com/distr1/backuppcfs/internal/view"
)

const help = `bpcls [-flags] <command> [args...]

Commands:
  hosts [-v]                          list hosts (-v: with each host's backups)
  backups <host>                      list a host's backups
  list <host> <n> <path>              list a directory within a backup
  stat <host> <n> <path>              stat a path within a backup
  cat <host> <n> <path>               stream a file's bytes to stdout
  digest-variants <hexdigest>         list cpool collision variants for a digest
  env                                  print the effective environment
`

var (
	topdir     = flag.String("topdir", env.DefaultTopdir, "BackupPC topdir (containing pc/ and cpool/)")
	compressed = flag.Bool("compressed", true, "whether the pool stores zlib-compressed blobs")
)

func poolFromFlags() backuppcfs.Pool {
	return backuppcfs.Pool{Topdir: *topdir, Compressed: *compressed}
}

func funcmain() error {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, help)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *topdir == "" {
		return xerrors.Errorf("-topdir (or $BPC_TOPDIR) must be set")
	}
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	verb, args := args[0], args[1:]
	switch verb {
	case "hosts":
		return cmdHosts(args)
	case "backups":
		return cmdBackups(args)
	case "list":
		return cmdList(args)
	case "stat":
		return cmdStat(args)
	case "cat":
		return cmdCat(args)
	case "digest-variants":
		return cmdDigestVariants(args)
	case "env":
		return cmdEnv()
	default:
		return xerrors.Errorf("unknown command %q", verb)
	}
}

func cmdHosts(args []string) error {
	var verbose bool
	switch {
	case len(args) == 0:
	case len(args) == 1 && args[0] == "-v":
		verbose = true
	default:
		return xerrors.Errorf("syntax: hosts [-v]")
	}
	p := poolFromFlags()
	hosts, err := catalog.Hosts(p)
	if err != nil {
		return err
	}
	if !verbose {
		for _, h := range hosts {
			fmt.Println(h.Name)
		}
		return nil
	}
	all, err := catalog.AllBackups(p, hosts)
	if err != nil {
		return err
	}
	for _, h := range hosts {
		for _, b := range all[h.Name] {
			fmt.Printf("%s\t%d\t%s\tlevel=%d\tref=%d\tfilled=%v\n",
				h.Name, b.Num, b.Type, b.Level, b.RefNum, b.Filled)
		}
	}
	return nil
}

func cmdBackups(args []string) error {
	if len(args) != 1 {
		return xerrors.Errorf("syntax: backups <host>")
	}
	backups, err := catalog.Backups(poolFromFlags(), args[0])
	if err != nil {
		return err
	}
	for _, b := range backups {
		fmt.Printf("%d\t%s\tlevel=%d\tref=%d\tfilled=%v\n", b.Num, b.Type, b.Level, b.RefNum, b.Filled)
	}
	return nil
}

func cmdList(args []string) error {
	if len(args) != 3 {
		return xerrors.Errorf("syntax: list <host> <n> <path>")
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	v, err := view.New(poolFromFlags(), 0)
	if err != nil {
		return err
	}
	entries, err := v.List(args[0], n, args[2])
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\t%o\t%d\n", e.Name, e.Type, e.Mode, e.Size)
	}
	return nil
}

func cmdStat(args []string) error {
	if len(args) != 3 {
		return xerrors.Errorf("syntax: stat <host> <n> <path>")
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	v, err := view.New(poolFromFlags(), 0)
	if err != nil {
		return err
	}
	fa, err := v.Stat(args[0], n, args[2])
	if err != nil {
		return err
	}
	fmt.Printf("%s\ttype=%s\tmode=%o\tuid=%d\tgid=%d\tsize=%d\tmtime=%d\n",
		fa.Name, fa.Type, fa.Mode, fa.UID, fa.GID, fa.Size, fa.Mtime)
	return nil
}

func cmdCat(args []string) error {
	if len(args) != 3 {
		return xerrors.Errorf("syntax: cat <host> <n> <path>")
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	v, err := view.New(poolFromFlags(), 0)
	if err != nil {
		return err
	}
	h, err := v.Open(args[0], n, args[2])
	if err != nil {
		return err
	}
	defer h.Close()
	_, err = io.Copy(os.Stdout, io.NewSectionReader(h, 0, h.Size()))
	return err
}

func cmdDigestVariants(args []string) error {
	if len(args) != 1 {
		return xerrors.Errorf("syntax: digest-variants <hexdigest>")
	}
	digest, err := backuppcfs.ParseDigest(args[0])
	if err != nil {
		return err
	}
	variants, err := pool.Variants(poolFromFlags(), digest)
	if err != nil {
		return err
	}
	for _, v := range variants {
		fmt.Println(v)
	}
	return nil
}

func cmdEnv() error {
	fmt.Printf("topdir=%s\n", *topdir)
	fmt.Printf("compressed=%v\n", *compressed)
	return nil
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
