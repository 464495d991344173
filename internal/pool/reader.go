package pool

import (
	"io"
	"io/ioutil"

	"github.com/distr1/backuppcfs"
	"github.com/distr1/backuppcfs/internal/cache"
)

// DefaultChunkSize is the uncompressed window size BackupPC uses to split a
// large logical file across multiple pool blobs.
const DefaultChunkSize = 1 << 20 // 1 MiB

// handleState tracks how much of a handle's chunk chain has been mapped:
// fresh → partially mapped → fully mapped → closed.
type handleState int

const (
	stateFresh handleState = iota
	statePartiallyMapped
	stateFullyMapped
	stateClosed
)

type chunkEntry struct {
	digest     backuppcfs.Digest
	start, end int64 // decompressed byte range [start, end) within the logical file
}

// Handle reads arbitrary byte ranges from a logical file that may span a
// base digest plus a chain of extension digests. A Handle is NOT safe for
// concurrent use: its chunk table and window cache are mutated on every
// read. Callers share a logical file across goroutines by opening separate
// handles.
type Handle struct {
	pool       backuppcfs.Pool
	digests    []backuppcfs.Digest // base, then extensions, in order
	totalSize  int64
	chunkSize  int64
	state      handleState
	table      []chunkEntry
	nextDigest int // index into digests not yet decompressed into table
	window     *cache.WindowCache
}

// Open returns a read handle for the logical file identified by baseDigest,
// continuing (if present) through extensionDigests in order, with the
// given total logical size. Each handle holds its own LRU cache of
// decompressed chunk windows so sequential re-reads and small random reads
// stay cheap.
func Open(p backuppcfs.Pool, baseDigest backuppcfs.Digest, totalSize int64, extensionDigests []backuppcfs.Digest) (*Handle, error) {
	window, err := cache.NewWindowCache(0)
	if err != nil {
		return nil, err
	}
	digests := make([]backuppcfs.Digest, 0, 1+len(extensionDigests))
	digests = append(digests, baseDigest)
	digests = append(digests, extensionDigests...)
	return &Handle{
		pool:      p,
		digests:   digests,
		totalSize: totalSize,
		chunkSize: DefaultChunkSize,
		state:     stateFresh,
		window:    window,
	}, nil
}

// decompressChunk fully decompresses the pool blob for digest, via the
// handle's window cache.
func (h *Handle) decompressChunk(digest backuppcfs.Digest) ([]byte, error) {
	key := digest.String()
	if b, ok := h.window.Get(key); ok {
		return b, nil
	}
	f, _, err := openBlob(h.pool, digest)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := newDecompressor(f, digest)
	if err != nil {
		return nil, err
	}
	b, err := ioutil.ReadAll(dec)
	if err != nil {
		return nil, err
	}
	h.window.Add(key, b)
	return b, nil
}

// advanceTo grows the lazy chunk table until it covers offset or every
// digest has been consumed.
func (h *Handle) advanceTo(offset int64) error {
	for h.nextDigest < len(h.digests) {
		if len(h.table) > 0 && h.table[len(h.table)-1].end > offset {
			return nil
		}
		digest := h.digests[h.nextDigest]
		b, err := h.decompressChunk(digest)
		if err != nil {
			return err
		}
		start := int64(0)
		if len(h.table) > 0 {
			start = h.table[len(h.table)-1].end
		}
		// A digest decoding to fewer than chunkSize bytes is a partial
		// chunk and the table simply continues into the next digest; a
		// digest decoding to more than chunkSize bytes indicates
		// corruption.
		if int64(len(b)) > h.chunkSize {
			return &backuppcfs.CorruptBlobError{
				Digest: digest,
				Reason: "decoded chunk exceeds maximum chunk size",
			}
		}
		h.table = append(h.table, chunkEntry{digest: digest, start: start, end: start + int64(len(b))})
		h.nextDigest++
		if h.state == stateFresh {
			h.state = statePartiallyMapped
		}
		if h.nextDigest >= len(h.digests) {
			h.state = stateFullyMapped
		}
		if start+int64(len(b)) > offset {
			return nil
		}
	}
	return nil
}

// mappedSize returns the logical size covered so far by the chunk table.
func (h *Handle) mappedSize() int64 {
	if len(h.table) == 0 {
		return 0
	}
	return h.table[len(h.table)-1].end
}

// ReadAt implements io.ReaderAt over the logical file: advance the chunk
// table until it covers the read range, then copy out of each overlapping
// chunk's decompressed bytes.
func (h *Handle) ReadAt(p []byte, offset int64) (int, error) {
	if h.state == stateClosed {
		return 0, &backuppcfs.UseAfterCloseError{}
	}
	if offset < 0 {
		return 0, &backuppcfs.CorruptBlobError{Digest: h.digests[0], Reason: "negative read offset"}
	}
	if offset >= h.totalSize {
		return 0, io.EOF
	}
	want := int64(len(p))
	if offset+want > h.totalSize {
		want = h.totalSize - offset
	}

	var produced int64
	for produced < want {
		pos := offset + produced
		if err := h.advanceTo(pos); err != nil {
			return int(produced), err
		}
		if pos >= h.mappedSize() {
			// Every digest has been consumed but we still fall short of
			// totalSize: the pool is missing data it promised.
			return int(produced), &backuppcfs.TruncatedPoolError{
				Digest: h.digests[0],
				Want:   h.totalSize,
				Got:    h.mappedSize(),
			}
		}
		entry, idx := h.chunkAt(pos)
		if idx == -1 {
			return int(produced), &backuppcfs.CorruptBlobError{Digest: h.digests[0], Reason: "chunk table gap"}
		}
		chunkBytes, err := h.decompressChunk(entry.digest)
		if err != nil {
			return int(produced), err
		}
		chunkOff := pos - entry.start
		n := copy(p[produced:want], chunkBytes[chunkOff:])
		produced += int64(n)
		if n == 0 {
			break // safety valve against an infinite loop on a zero-length chunk
		}
	}
	if produced < int64(len(p)) && offset+produced == h.totalSize {
		return int(produced), io.EOF
	}
	return int(produced), nil
}

func (h *Handle) chunkAt(offset int64) (chunkEntry, int) {
	for i, e := range h.table {
		if offset >= e.start && offset < e.end {
			return e, i
		}
	}
	return chunkEntry{}, -1
}

// Size returns the logical file's declared total size.
func (h *Handle) Size() int64 { return h.totalSize }

// Close releases the handle's window cache. Reads after Close fail with
// UseAfterCloseError.
func (h *Handle) Close() error {
	h.state = stateClosed
	h.window.Purge()
	return nil
}

// ReadLogical decompresses and concatenates base and extensions in order,
// returning the full logical byte stream with no declared-size check. It
// is the attrib-loading counterpart to Open/Handle: attrib blobs are
// always small enough to read whole, and (unlike a regular file's attrib
// entry) carry no separately-recorded total size to validate against, so
// the truncation bookkeeping Handle does for regular files does not apply
// here.
func ReadLogical(p backuppcfs.Pool, base backuppcfs.Digest, extensions []backuppcfs.Digest) ([]byte, error) {
	var out []byte
	digests := append([]backuppcfs.Digest{base}, extensions...)
	for _, digest := range digests {
		f, _, err := openBlob(p, digest)
		if err != nil {
			return nil, err
		}
		dec, err := newDecompressor(f, digest)
		if err != nil {
			f.Close()
			return nil, err
		}
		b, err := ioutil.ReadAll(dec)
		f.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}
