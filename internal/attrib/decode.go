package attrib

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/distr1/backuppcfs"
)

// magic identifies an inline attrib record stream.
const magic = 0x17FB6879

// pointerMagic identifies a small on-disk file that merely points at the
// pool blob(s) holding the real attrib content. Only the ability to tell
// the two kinds of file apart matters, not the literal bits.
const pointerMagic = 0x42504344 // "BPCD"

const (
	maxVarintBytes = 10      // 7 bits/byte * 10 > 64 bits
	maxStringBytes = 1 << 20 // 1 MiB
	maxXattrCount  = 65535
)

// Kind distinguishes the two file shapes that can live at an on-disk
// "attrib" path.
type Kind int

const (
	KindInline Kind = iota
	KindPointer
)

// Sniff reads the 4-byte magic header from data and reports which kind of
// attrib file it is.
func Sniff(data []byte) (Kind, error) {
	if len(data) < 4 {
		return 0, &backuppcfs.CorruptAttribError{Reason: "file shorter than magic header"}
	}
	switch binary.BigEndian.Uint32(data[:4]) {
	case magic:
		return KindInline, nil
	case pointerMagic:
		return KindPointer, nil
	default:
		return 0, &backuppcfs.CorruptAttribError{Reason: "unrecognized magic header"}
	}
}

type decoder struct {
	br *bufio.Reader
}

func (d *decoder) uvarint() (uint64, error) {
	var x uint64
	var s uint
	for i := 0; i < maxVarintBytes; i++ {
		b, err := d.br.ReadByte()
		if err != nil {
			if err == io.EOF {
				if i > 0 {
					return 0, &backuppcfs.CorruptAttribError{Reason: "unexpected EOF partway through varint"}
				}
				return 0, &backuppcfs.CorruptAttribError{Reason: "unexpected EOF inside varint"}
			}
			return 0, err
		}
		if b < 0x80 {
			if i == maxVarintBytes-1 && b > 1 {
				return 0, &backuppcfs.CorruptAttribError{Reason: "varint overflows 64 bits"}
			}
			x |= uint64(b) << s
			return x, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	return 0, &backuppcfs.CorruptAttribError{Reason: "varint exceeds 10 bytes"}
}

func (d *decoder) svarint() (int64, error) {
	u, err := d.uvarint()
	if err != nil {
		return 0, err
	}
	// zig-zag decode
	return int64(u>>1) ^ -int64(u&1), nil
}

func (d *decoder) bytesN(n uint64, limit uint64) ([]byte, error) {
	if n > limit {
		return nil, &backuppcfs.CorruptAttribError{Reason: "length exceeds limit"}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.br, buf); err != nil {
		return nil, &backuppcfs.CorruptAttribError{Reason: "unexpected EOF reading bytes"}
	}
	return buf, nil
}

func (d *decoder) string() ([]byte, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	return d.bytesN(n, maxStringBytes)
}

// size64 reads BackupPC's split 64-bit size encoding: a low 32-bit varint
// followed by a high 32-bit varint, combined as low | (high << 32).
func (d *decoder) size64() (int64, error) {
	low, err := d.uvarint()
	if err != nil {
		return 0, err
	}
	high, err := d.uvarint()
	if err != nil {
		return 0, err
	}
	return int64(low | (high << 32)), nil
}

// DecodeEntries parses the inline attrib record stream. data must begin
// with the 4-byte magic header.
func DecodeEntries(data []byte) ([]FileAttr, error) {
	if len(data) < 4 {
		return nil, &backuppcfs.CorruptAttribError{Reason: "file shorter than magic header"}
	}
	if binary.BigEndian.Uint32(data[:4]) != magic {
		return nil, &backuppcfs.CorruptAttribError{Reason: "bad magic for inline attrib"}
	}
	d := &decoder{br: bufio.NewReader(bytes.NewReader(data[4:]))}

	var entries []FileAttr
	for {
		name, err := d.string()
		if err != nil {
			if cae, ok := err.(*backuppcfs.CorruptAttribError); ok && isCleanEOF(d, cae) {
				break
			}
			return nil, err
		}
		fa := FileAttr{Name: name}

		xattrCount, err := d.uvarint()
		if err != nil {
			return nil, err
		}
		if xattrCount > maxXattrCount {
			return nil, &backuppcfs.CorruptAttribError{Reason: "xattr count exceeds limit"}
		}

		typ, err := d.uvarint()
		if err != nil {
			return nil, err
		}
		fa.Type = FileType(typ)

		mode, err := d.uvarint()
		if err != nil {
			return nil, err
		}
		fa.Mode = uint32(mode)
		if fa.Type > TypeUnknown {
			// Unrecognized type code: fall back to the S_IFMT bits of the
			// raw mode, which BackupPC always writes alongside Type.
			fa.Type = TypeFromUnixMode(fa.Mode)
		}

		uid, err := d.uvarint()
		if err != nil {
			return nil, err
		}
		fa.UID = uint32(uid)

		gid, err := d.uvarint()
		if err != nil {
			return nil, err
		}
		fa.GID = uint32(gid)

		size, err := d.size64()
		if err != nil {
			return nil, err
		}
		fa.Size = size

		mtime, err := d.svarint()
		if err != nil {
			return nil, err
		}
		fa.Mtime = mtime

		inode, err := d.uvarint()
		if err != nil {
			return nil, err
		}
		fa.Inode = inode

		compress, err := d.uvarint()
		if err != nil {
			return nil, err
		}
		fa.Compress = uint32(compress)

		nlinks, err := d.uvarint()
		if err != nil {
			return nil, err
		}
		fa.Nlinks = uint32(nlinks)

		digestLen, err := d.uvarint()
		if err != nil {
			return nil, err
		}
		digest, err := d.bytesN(digestLen, maxStringBytes)
		if err != nil {
			return nil, err
		}
		if len(digest) > 0 {
			fa.Digest = digest
		}

		if xattrCount > 0 {
			xattrs := make(map[string][]byte, xattrCount)
			for i := uint64(0); i < xattrCount; i++ {
				name, err := d.string()
				if err != nil {
					return nil, err
				}
				val, err := d.string()
				if err != nil {
					return nil, err
				}
				xattrs[string(name)] = val
			}
			if chain, ok := xattrs[digestChainXattr]; ok {
				fa.ExtraDigests = splitDigestChain(chain)
				delete(xattrs, digestChainXattr)
			}
			if len(xattrs) > 0 {
				fa.Xattrs = xattrs
			}
		}

		entries = append(entries, fa)
	}
	return entries, nil
}

// isCleanEOF reports whether the failure to read the next record's name is
// simply "no more records" (clean end of stream at a record boundary)
// rather than a truncated record.
func isCleanEOF(d *decoder, cae *backuppcfs.CorruptAttribError) bool {
	// d.string() -> d.uvarint() fails with our EOF message exactly when
	// bufio.Reader.ReadByte first returns io.EOF, i.e. at a record
	// boundary. Any failure partway through a multi-byte varint or a
	// string body is a genuine truncation and is not masked here because
	// uvarint and bytesN report distinct messages for those cases.
	return cae.Reason == "unexpected EOF inside varint"
}

// splitDigestChain splits a concatenated run of 16-byte MD5 digests.
func splitDigestChain(b []byte) [][]byte {
	const width = 16
	if len(b)%width != 0 {
		return nil
	}
	var out [][]byte
	for i := 0; i < len(b); i += width {
		out = append(out, b[i:i+width])
	}
	return out
}

// DecodePointer parses a pool-indirection pointer file. data must begin
// with the 4-byte pointer magic.
func DecodePointer(data []byte) (Pointer, error) {
	if len(data) < 4 {
		return Pointer{}, &backuppcfs.CorruptAttribError{Reason: "file shorter than magic header"}
	}
	if binary.BigEndian.Uint32(data[:4]) != pointerMagic {
		return Pointer{}, &backuppcfs.CorruptAttribError{Reason: "bad magic for attrib pointer"}
	}
	d := &decoder{br: bufio.NewReader(bytes.NewReader(data[4:]))}
	base, err := d.string()
	if err != nil {
		return Pointer{}, err
	}
	n, err := d.uvarint()
	if err != nil {
		return Pointer{}, err
	}
	if n > maxXattrCount {
		return Pointer{}, &backuppcfs.CorruptAttribError{Reason: "implausible extension digest count"}
	}
	exts := make([][]byte, 0, n)
	for i := uint64(0); i < n; i++ {
		ext, err := d.string()
		if err != nil {
			return Pointer{}, err
		}
		exts = append(exts, ext)
	}
	return Pointer{Base: base, Extensions: exts}, nil
}
