package pool

import (
	"bytes"
	"compress/zlib"
	"crypto/md5"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/distr1/backuppcfs"
)

// writeBlob compresses content with zlib and stores it at the pool path for
// digest, creating the h0/h1/h2 bucket directories as BackupPC does.
func writeBlob(t *testing.T, p backuppcfs.Pool, digest backuppcfs.Digest, content []byte) {
	t.Helper()
	path, err := Locate(p, digest, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func digestOf(content []byte) backuppcfs.Digest {
	sum := md5.Sum(content)
	return backuppcfs.Digest(sum[:])
}

// TestHelloWorld reads back a single small file stored as one cpool blob.
func TestHelloWorld(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := backuppcfs.Pool{Topdir: dir, Compressed: true}
	content := []byte("hello")
	digest := digestOf(content)
	if got, want := digest.String(), "5d41402abc4b2a76b9719d911017c592"; got != want {
		t.Fatalf("digest = %s, want %s", got, want)
	}
	writeBlob(t, p, digest, content)

	h, err := Open(p, digest, int64(len(content)), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	got := make([]byte, 5)
	n, err := h.ReadAt(got, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 || string(got) != "hello" {
		t.Fatalf("ReadAt = %q (n=%d), want %q", got[:n], n, "hello")
	}
	if h.Size() != 5 {
		t.Fatalf("Size() = %d, want 5", h.Size())
	}
}

// TestMultiChunk reads a file spanning three 1-MiB chunks.
func TestMultiChunk(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := backuppcfs.Pool{Topdir: dir, Compressed: true}

	mk := func(b byte) []byte {
		buf := make([]byte, DefaultChunkSize)
		for i := range buf {
			buf[i] = b
		}
		return buf
	}
	c0, c1, c2 := mk('a'), mk('b'), mk('c')
	d0, d1, d2 := digestOf(c0), digestOf(c1), digestOf(c2)
	writeBlob(t, p, d0, c0)
	writeBlob(t, p, d1, c1)
	writeBlob(t, p, d2, c2)

	total := int64(3 * DefaultChunkSize)
	h, err := Open(p, d0, total, []backuppcfs.Digest{d1, d2})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	got := make([]byte, total)
	var read int64
	for read < total {
		n, err := h.ReadAt(got[read:], read)
		read += int64(n)
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			t.Fatal("no progress")
		}
	}
	if read != total {
		t.Fatalf("read %d bytes, want %d", read, total)
	}
	if !bytes.Equal(got[:16], c0[:16]) {
		t.Fatal("first 16 bytes mismatch")
	}
	if !bytes.Equal(got[total-16:], c2[DefaultChunkSize-16:]) {
		t.Fatal("last 16 bytes mismatch")
	}
}

func TestMissingBlob(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := backuppcfs.Pool{Topdir: dir, Compressed: true}
	digest := digestOf([]byte("nope"))

	h, err := Open(p, digest, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	_, err = h.ReadAt(make([]byte, 10), 0)
	if _, ok := err.(*backuppcfs.MissingBlobError); !ok {
		t.Fatalf("err = %v (%T), want *MissingBlobError", err, err)
	}
}

func TestUseAfterClose(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := backuppcfs.Pool{Topdir: dir, Compressed: true}
	content := []byte("x")
	digest := digestOf(content)
	writeBlob(t, p, digest, content)

	h, err := Open(p, digest, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	_, err = h.ReadAt(make([]byte, 1), 0)
	if _, ok := err.(*backuppcfs.UseAfterCloseError); !ok {
		t.Fatalf("err = %v (%T), want *UseAfterCloseError", err, err)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	t.Parallel()
	p := backuppcfs.Pool{Topdir: t.TempDir(), Compressed: false}
	if _, err := Locate(p, digestOf([]byte("x")), 0); err == nil {
		t.Fatal("expected UnsupportedFormatError for uncompressed pool")
	} else if _, ok := err.(*backuppcfs.UnsupportedFormatError); !ok {
		t.Fatalf("err = %v (%T), want *UnsupportedFormatError", err, err)
	}
}
