// Package pool implements the BackupPC v4 content-addressed pool: locating
// a blob by digest, decompressing it, and assembling a logical multi-chunk
// file into an arbitrary-range byte reader.
package pool

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/distr1/backuppcfs"
)

// Locate returns the candidate on-disk path for digest with the given
// collision-extension counter, under the given pool. It never touches the
// filesystem; it is a pure function of topdir, digest and n.
func Locate(p backuppcfs.Pool, digest backuppcfs.Digest, n backuppcfs.Extension) (string, error) {
	if !p.Compressed {
		return "", &backuppcfs.UnsupportedFormatError{Reason: "uncompressed pool (pool/) is not supported, only cpool/"}
	}
	if len(digest) < 3 {
		return "", &backuppcfs.CorruptAttribError{Reason: fmt.Sprintf("digest too short: %d bytes", len(digest))}
	}
	hex := digest.String()
	name := hex
	if n > 0 {
		name = fmt.Sprintf("%s_%d", hex, n)
	}
	return filepath.Join(p.Topdir, p.PoolDir(), hex[0:2], hex[2:4], hex[4:6], name), nil
}

// openBlob opens the first collision-extension variant (_0, _1, …) of
// digest that exists on disk. BackupPC never deletes old variants while
// readers may be active, and a weak content hash gives no way to pick "the
// right" variant, so the first openable one wins.
func openBlob(p backuppcfs.Pool, digest backuppcfs.Digest) (*os.File, backuppcfs.Extension, error) {
	const maxVariantProbe = 1000 // generous; real pools rarely exceed single digits
	for n := backuppcfs.Extension(0); n < maxVariantProbe; n++ {
		path, err := Locate(p, digest, n)
		if err != nil {
			return nil, 0, err
		}
		f, err := os.Open(path)
		if err == nil {
			return f, n, nil
		}
		if !os.IsNotExist(err) {
			return nil, 0, err
		}
		if n == 0 {
			continue // the unsuffixed name is the common case; keep probing
		}
		break // first suffixed gap means no more variants exist
	}
	return nil, 0, &backuppcfs.MissingBlobError{Digest: digest}
}

// Variants reports every collision-extension path that currently exists on
// disk for digest, without opening them. Used by debug tooling to surface
// how many colliding blobs share a digest bucket.
func Variants(p backuppcfs.Pool, digest backuppcfs.Digest) ([]string, error) {
	var found []string
	for n := backuppcfs.Extension(0); ; n++ {
		path, err := Locate(p, digest, n)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				if n == 0 {
					continue
				}
				break
			}
			return nil, err
		}
		found = append(found, path)
	}
	return found, nil
}
