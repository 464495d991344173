// Package catalog enumerates hosts under a BackupPC topdir and parses
// each host's tab-separated "backups" index.
package catalog

import (
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/distr1/backuppcfs"
)

// HostEntry is a host subdirectory of <topdir>/pc/ that has a readable
// backups file.
type HostEntry struct {
	Name string
}

// Hosts enumerates every host under p.Topdir/pc/ that qualifies (has a
// readable "backups" file), sorted by name. A pc/ subdirectory without a
// backups index is typically a host that was configured but never backed
// up; it is skipped rather than reported as an error.
func Hosts(p backuppcfs.Pool) ([]HostEntry, error) {
	pcDir := filepath.Join(p.Topdir, "pc")
	fis, err := ioutil.ReadDir(pcDir)
	if err != nil {
		return nil, err
	}
	var hosts []HostEntry
	for _, fi := range fis {
		if !fi.IsDir() {
			continue
		}
		backupsFile := filepath.Join(pcDir, fi.Name(), "backups")
		if _, err := os.Stat(backupsFile); err != nil {
			continue // not a valid host: no backups index
		}
		hosts = append(hosts, HostEntry{Name: fi.Name()})
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Name < hosts[j].Name })
	return hosts, nil
}

// AllBackups parses every host's backups index, fanning the per-host
// parses out over an errgroup.Group rather than doing them serially.
func AllBackups(p backuppcfs.Pool, hosts []HostEntry) (map[string][]BackupRecord, error) {
	result := make(map[string][]BackupRecord, len(hosts))
	var mu sync.Mutex
	var eg errgroup.Group
	for _, h := range hosts {
		h := h // copy
		eg.Go(func() error {
			records, err := Backups(p, h.Name)
			if err != nil {
				return err
			}
			mu.Lock()
			result[h.Name] = records
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func warnf(format string, args ...interface{}) {
	log.Printf(format, args...)
}
