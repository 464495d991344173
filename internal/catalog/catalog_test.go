package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/distr1/backuppcfs"
)

func writeBackupsFile(t *testing.T, topdir, host, content string) {
	t.Helper()
	dir := filepath.Join(topdir, "pc", host)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "backups"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// TestMalformedLineSkipped: a backups index with a malformed third line
// still returns the other rows.
func TestMalformedLineSkipped(t *testing.T) {
	t.Parallel()
	topdir := t.TempDir()
	writeBackupsFile(t, topdir, "h", "1\tfull\t100\t200\t0\t0\t1\n"+
		"2\tincr\t300\t400\t1\t1\t0\n"+
		"nope\tincr\t500\t600\t1\t1\t0\n"+
		"4\tincr\t700\t800\t1\t2\t0\n")

	p := backuppcfs.Pool{Topdir: topdir, Compressed: true}
	records, err := Backups(p, "h")
	if err != nil {
		t.Fatal(err)
	}
	var nums []int
	for _, r := range records {
		nums = append(nums, r.Num)
	}
	want := []int{1, 2, 4}
	if len(nums) != len(want) {
		t.Fatalf("nums = %v, want %v", nums, want)
	}
	for i := range want {
		if nums[i] != want[i] {
			t.Fatalf("nums = %v, want %v", nums, want)
		}
	}
}

func TestBackupsSorted(t *testing.T) {
	t.Parallel()
	topdir := t.TempDir()
	writeBackupsFile(t, topdir, "h", "3\tfull\t1\t2\t0\t0\t1\n1\tfull\t1\t2\t0\t0\t1\n2\tincr\t1\t2\t1\t1\t0\n")

	p := backuppcfs.Pool{Topdir: topdir, Compressed: true}
	records, err := Backups(p, "h")
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []int{1, 2, 3} {
		if records[i].Num != want {
			t.Fatalf("records[%d].Num = %d, want %d", i, records[i].Num, want)
		}
	}
}

func TestHostsRequiresBackupsFile(t *testing.T) {
	t.Parallel()
	topdir := t.TempDir()
	writeBackupsFile(t, topdir, "real-host", "1\tfull\t1\t2\t0\t0\t1\n")
	if err := os.MkdirAll(filepath.Join(topdir, "pc", "no-backups-file"), 0o755); err != nil {
		t.Fatal(err)
	}

	p := backuppcfs.Pool{Topdir: topdir, Compressed: true}
	hosts, err := Hosts(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(hosts) != 1 || hosts[0].Name != "real-host" {
		t.Fatalf("Hosts = %v, want [real-host]", hosts)
	}
}

func TestAllBackups(t *testing.T) {
	t.Parallel()
	topdir := t.TempDir()
	writeBackupsFile(t, topdir, "h1", "1\tfull\t1\t2\t0\t0\t1\n")
	writeBackupsFile(t, topdir, "h2", "3\tfull\t1\t2\t0\t0\t1\n4\tincr\t3\t4\t1\t3\t0\n")

	p := backuppcfs.Pool{Topdir: topdir, Compressed: true}
	hosts, err := Hosts(p)
	if err != nil {
		t.Fatal(err)
	}
	all, err := AllBackups(p, hosts)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}
	if len(all["h1"]) != 1 || all["h1"][0].Num != 1 {
		t.Fatalf("all[h1] = %v, want one record numbered 1", all["h1"])
	}
	if len(all["h2"]) != 2 || all["h2"][1].RefNum != 3 {
		t.Fatalf("all[h2] = %v, want two records with the incr referencing 3", all["h2"])
	}
}

func TestBackupNotFound(t *testing.T) {
	t.Parallel()
	topdir := t.TempDir()
	writeBackupsFile(t, topdir, "h", "1\tfull\t1\t2\t0\t0\t1\n")
	p := backuppcfs.Pool{Topdir: topdir, Compressed: true}
	if _, err := Backup(p, "h", 99); err == nil {
		t.Fatal("expected NotFoundError for unknown backup number")
	}
}
