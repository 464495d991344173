package pool

import (
	"bufio"
	"io"
	"io/ioutil"

	"github.com/klauspost/compress/zlib"

	"github.com/distr1/backuppcfs"
)

// decompressor wraps a compressed pool blob in a streaming, forward-only
// zlib decoder. BackupPC occasionally concatenates additional deflate
// streams after the first within a single blob (file-extension chaining
// inside one on-disk file); when a stream ends before EOF of the
// underlying reader, decompressor transparently starts a fresh zlib reader
// on the remainder rather than treating that as end of data.
//
// zlib is not random-access, so seeking is implemented by discarding
// decompressed bytes from the current position forward to the target
// offset; seeking backwards requires the caller to open a new
// decompressor.
type decompressor struct {
	// src buffers the raw compressed blob. The buffering must be ours, not
	// zlib's: zlib.NewReader wraps a non-ByteReader source in its own
	// bufio.Reader, whose read-ahead past one stream's trailer would be
	// discarded when the next stream's reader is constructed. A
	// *bufio.Reader satisfies io.ByteReader, so zlib uses it directly and
	// leftover bytes carry into the next stream.
	src    *bufio.Reader
	zr     io.ReadCloser
	pos    int64 // absolute uncompressed offset of the next byte Read will return
	digest backuppcfs.Digest
}

func newDecompressor(src io.Reader, digest backuppcfs.Digest) (*decompressor, error) {
	d := &decompressor{src: bufio.NewReader(src), digest: digest}
	if err := d.nextStream(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *decompressor) nextStream() error {
	zr, err := zlib.NewReader(d.src)
	if err != nil {
		if err == io.EOF {
			return err
		}
		return &backuppcfs.CorruptBlobError{Digest: d.digest, Reason: err.Error()}
	}
	d.zr = zr
	return nil
}

// Read implements io.Reader, transparently advancing across concatenated
// deflate streams.
func (d *decompressor) Read(p []byte) (int, error) {
	if d.zr == nil {
		return 0, io.EOF
	}
	n, err := d.zr.Read(p)
	d.pos += int64(n)
	if err == io.EOF {
		d.zr.Close()
		d.zr = nil
		// zlib.NewReader reports an exhausted source as io.ErrUnexpectedEOF,
		// so a clean end of the blob is detected here before trying to
		// start another stream.
		if _, peekErr := d.src.Peek(1); peekErr == io.EOF {
			return n, io.EOF
		}
		if startErr := d.nextStream(); startErr != nil {
			if startErr == io.EOF {
				return n, io.EOF // genuinely no more data
			}
			return n, startErr
		}
		if n > 0 {
			return n, nil // surface what we have; next Read pulls from the new stream
		}
		return d.Read(p)
	}
	if err != nil {
		return n, &backuppcfs.CorruptBlobError{Digest: d.digest, Reason: err.Error()}
	}
	return n, nil
}

// discard advances the decompressed stream by n bytes without returning
// them, the only "seek" primitive zlib allows.
func (d *decompressor) discard(n int64) error {
	if n <= 0 {
		return nil
	}
	_, err := io.CopyN(ioutil.Discard, d, n)
	return err
}

// Pos returns the absolute uncompressed offset of the next byte Read will
// return.
func (d *decompressor) Pos() int64 { return d.pos }
