package pool

import (
	"bytes"
	"compress/zlib"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/distr1/backuppcfs"
)

func zlibBlob(t *testing.T, parts ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, part := range parts {
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(part); err != nil {
			t.Fatal(err)
		}
		if err := zw.Close(); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

// blobFile writes blob to a temp file and opens it, so tests feed the
// decompressor an *os.File the way openBlob does. An *os.File is not an
// io.ByteReader, which is exactly the case the decompressor's own
// buffering exists for; a *bytes.Reader would sidestep it.
func blobFile(t *testing.T, blob []byte) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blob")
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

// TestConcatenatedStreams: a blob containing more than one deflate stream
// back to back must decode as the concatenation of their plaintexts.
func TestConcatenatedStreams(t *testing.T) {
	t.Parallel()
	blob := zlibBlob(t, []byte("foo"), []byte("bar"), []byte("baz"))
	dec, err := newDecompressor(blobFile(t, blob), backuppcfs.Digest{0xAA})
	if err != nil {
		t.Fatal(err)
	}
	got, err := ioutil.ReadAll(dec)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "foobarbaz" {
		t.Fatalf("got %q, want %q", got, "foobarbaz")
	}
	if dec.Pos() != 9 {
		t.Fatalf("Pos() = %d, want 9", dec.Pos())
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	blob := zlibBlob(t, []byte("0123456789"))
	dec, err := newDecompressor(blobFile(t, blob), backuppcfs.Digest{0xAA})
	if err != nil {
		t.Fatal(err)
	}
	if err := dec.discard(3); err != nil {
		t.Fatal(err)
	}
	rest, err := ioutil.ReadAll(dec)
	if err != nil {
		t.Fatal(err)
	}
	if string(rest) != "3456789" {
		t.Fatalf("got %q, want %q", rest, "3456789")
	}
}

func TestCorruptBlob(t *testing.T) {
	t.Parallel()
	_, err := newDecompressor(bytes.NewReader([]byte("not zlib data at all")), backuppcfs.Digest{0xAA})
	if _, ok := err.(*backuppcfs.CorruptBlobError); !ok {
		t.Fatalf("err = %v (%T), want *CorruptBlobError", err, err)
	}
}
