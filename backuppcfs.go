// Package backuppcfs provides read-only access to a BackupPC v4 backup
// pool: the content-addressed blob pool, the binary attrib metadata format,
// and a merged hosts/backups/shares/files view over both.
package backuppcfs

import (
	"encoding/hex"
	"fmt"
)

// Digest identifies a pool blob by content hash. BackupPC v4 uses 16-byte
// MD5 digests; the type is a slice rather than a fixed array so a wider
// hash (mentioned but never observed in the format) does not require a
// type change.
type Digest []byte

// Extension disambiguates colliding blobs stored under the same digest
// bucket; the on-disk filename is the hex digest optionally suffixed with
// "_<n>".
type Extension int

// String renders the digest as lowercase hex, the same representation used
// for pool filenames.
func (d Digest) String() string {
	return fmt.Sprintf("%x", []byte(d))
}

// ParseDigest decodes a hex digest string as printed by String, for
// command-line tools that accept a digest as an argument.
func ParseDigest(hexDigest string) (Digest, error) {
	b, err := hex.DecodeString(hexDigest)
	if err != nil {
		return nil, fmt.Errorf("invalid hex digest %q: %w", hexDigest, err)
	}
	return Digest(b), nil
}

// Pool identifies the on-disk root of a BackupPC pool and the compression
// mode in effect for it.
type Pool struct {
	// Topdir is the BackupPC top-level directory (conventionally
	// /var/lib/backuppc), containing pc/ and cpool/ (or pool/).
	Topdir string

	// Compressed selects cpool (the only supported variant) over pool
	// (uncompressed, unsupported; see UnsupportedFormatError).
	Compressed bool
}

// PoolDir returns the pool subdirectory name ("cpool" or "pool") beneath
// Topdir.
func (p Pool) PoolDir() string {
	if p.Compressed {
		return "cpool"
	}
	return "pool"
}

// Error kinds returned by every fallible operation in this module. None of
// these are ever signalled via panic; callers branch on the concrete type
// with errors.As.

// NotFoundError reports that a host, backup, or path does not exist.
type NotFoundError struct {
	What string // e.g. "host", "backup", "path"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.What, e.Name)
}

// MissingBlobError reports that a known digest could not be opened under
// any collision-extension variant.
type MissingBlobError struct {
	Digest Digest
}

func (e *MissingBlobError) Error() string {
	return fmt.Sprintf("pool blob %s: no variant could be opened", e.Digest)
}

// CorruptAttribError reports a structurally invalid attrib file: a bad
// magic, a truncated record, an oversized varint or string, or a cyclic
// hardlink chain.
type CorruptAttribError struct {
	Reason string
}

func (e *CorruptAttribError) Error() string {
	return fmt.Sprintf("corrupt attrib file: %s", e.Reason)
}

// CorruptBlobError reports a pool blob whose compressed stream could not
// be decoded.
type CorruptBlobError struct {
	Digest Digest
	Reason string
}

func (e *CorruptBlobError) Error() string {
	return fmt.Sprintf("corrupt pool blob %s: %s", e.Digest, e.Reason)
}

// CorruptIndexError reports a backups index line that could not be parsed
// at all (as opposed to a merely-malformed backup number, which is skipped
// with a warning rather than failing the whole listing).
type CorruptIndexError struct {
	Host   string
	Reason string
}

func (e *CorruptIndexError) Error() string {
	return fmt.Sprintf("corrupt backups index for host %q: %s", e.Host, e.Reason)
}

// TruncatedPoolError reports that fewer bytes were available across a
// logical file's chunk chain than its recorded size promised.
type TruncatedPoolError struct {
	Digest    Digest
	Want, Got int64
}

func (e *TruncatedPoolError) Error() string {
	return fmt.Sprintf("pool file %s: truncated, want %d bytes got %d", e.Digest, e.Want, e.Got)
}

// UnsupportedFormatError reports an on-disk layout this reader cannot
// handle, such as an uncompressed (pool, not cpool) BackupPC v4 store or a
// v3 pool.
type UnsupportedFormatError struct {
	Reason string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format: %s", e.Reason)
}

// UseAfterCloseError reports a read on a handle that has already been
// closed.
type UseAfterCloseError struct{}

func (e *UseAfterCloseError) Error() string { return "use of handle after close" }
