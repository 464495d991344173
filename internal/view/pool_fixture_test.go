package view

import (
	"bytes"
	"compress/zlib"
	"os"
	"path/filepath"
	"testing"

	"github.com/distr1/backuppcfs"
	"github.com/distr1/backuppcfs/internal/pool"
)

// writePoolBlob compresses raw and writes it to the cpool path for digest,
// extension 0.
func writePoolBlob(t *testing.T, topdir string, digest []byte, raw []byte) {
	t.Helper()
	p := backuppcfs.Pool{Topdir: topdir, Compressed: true}
	path, err := pool.Locate(p, backuppcfs.Digest(digest), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}
