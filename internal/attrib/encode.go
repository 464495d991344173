package attrib

import (
	"bytes"
	"encoding/binary"
)

// putUvarint appends x to buf using the same 7-bit little-endian
// continuation encoding DecodeEntries expects.
func putUvarint(buf *bytes.Buffer, x uint64) {
	for x >= 0x80 {
		buf.WriteByte(byte(x) | 0x80)
		x >>= 7
	}
	buf.WriteByte(byte(x))
}

func putSvarint(buf *bytes.Buffer, x int64) {
	putUvarint(buf, uint64(x<<1)^uint64(x>>63))
}

func putString(buf *bytes.Buffer, b []byte) {
	putUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

func putSize64(buf *bytes.Buffer, size int64) {
	u := uint64(size)
	putUvarint(buf, u&0xFFFFFFFF)
	putUvarint(buf, u>>32)
}

// EncodeEntries is the inverse of DecodeEntries: for any valid attrib
// blob, decode then re-encode produces a byte-identical blob (tests rely
// on this; nothing here ever writes to a pool). It re-derives the digestChainXattr entry
// from ExtraDigests rather than expecting callers to maintain it
// separately, so FileAttr round-trips without a redundant field.
func EncodeEntries(entries []FileAttr) []byte {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], magic)
	buf.Write(hdr[:])

	for _, fa := range entries {
		putString(&buf, fa.Name)

		xattrCount := uint64(len(fa.Xattrs))
		if len(fa.ExtraDigests) > 0 {
			xattrCount++
		}
		putUvarint(&buf, xattrCount)

		putUvarint(&buf, uint64(fa.Type))
		putUvarint(&buf, uint64(fa.Mode))
		putUvarint(&buf, uint64(fa.UID))
		putUvarint(&buf, uint64(fa.GID))
		putSize64(&buf, fa.Size)
		putSvarint(&buf, fa.Mtime)
		putUvarint(&buf, fa.Inode)
		putUvarint(&buf, uint64(fa.Compress))
		putUvarint(&buf, uint64(fa.Nlinks))
		putString(&buf, fa.Digest)

		if xattrCount > 0 {
			// Deterministic order so re-encoding a decoded value is
			// byte-identical: the synthesized digest-chain entry (if
			// any) is written first, then the other names in sorted
			// order.
			if len(fa.ExtraDigests) > 0 {
				putString(&buf, []byte(digestChainXattr))
				putString(&buf, joinDigestChain(fa.ExtraDigests))
			}
			for _, name := range sortedKeys(fa.Xattrs) {
				putString(&buf, []byte(name))
				putString(&buf, fa.Xattrs[name])
			}
		}
	}
	return buf.Bytes()
}

func joinDigestChain(digests [][]byte) []byte {
	out := make([]byte, 0, 16*len(digests))
	for _, d := range digests {
		out = append(out, d...)
	}
	return out
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// insertion sort is fine here: xattr counts per entry are tiny
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
