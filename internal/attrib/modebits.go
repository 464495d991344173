package attrib

import "golang.org/x/sys/unix"

// TypeFromUnixMode maps the S_IFMT bits of a raw Unix mode_t (as BackupPC
// records it verbatim from the backed-up host's stat(2) call) to our
// FileType enumeration. The wire format's own explicit type field is
// authoritative; this is the fallback when a record carries a type code
// outside the known range.
func TypeFromUnixMode(mode uint32) FileType {
	switch mode & unix.S_IFMT {
	case unix.S_IFDIR:
		return TypeDirectory
	case unix.S_IFLNK:
		return TypeSymlink
	case unix.S_IFCHR:
		return TypeChardev
	case unix.S_IFBLK:
		return TypeBlockdev
	case unix.S_IFIFO:
		return TypeFifo
	case unix.S_IFSOCK:
		return TypeSocket
	case unix.S_IFREG:
		return TypeFile
	default:
		return TypeUnknown
	}
}
