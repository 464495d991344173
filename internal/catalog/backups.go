package catalog

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/distr1/backuppcfs"
)

// BackupRecord is one row of <topdir>/pc/<host>/backups.
type BackupRecord struct {
	Num    int
	Type   string // "full" or "incr"
	Start  int64  // epoch seconds
	End    int64  // epoch seconds
	Level  int
	RefNum int // reference backup number for incrementals; 0 for full
	Filled bool
}

// field indices within a backups line, matching BackupPC_dump's own
// BackupInfo column order (number, type, start, end, ...). Unknown
// trailing columns are ignored.
const (
	fieldNum = iota
	fieldType
	fieldStart
	fieldEnd
	fieldLevel
	fieldRef
	fieldFilled
	minFields = fieldEnd + 1 // num, type, start, end are mandatory
)

// Backups parses <topdir>/pc/<host>/backups, one record per tab-separated
// line. Rows with a malformed backup number are skipped with a logged
// warning; any other structurally invalid row fails the whole parse with
// CorruptIndexError. A bad number means one bad row, but a line with too
// few fields or garbled timestamps usually means the index itself is
// damaged, so the two are classified differently.
func Backups(p backuppcfs.Pool, host string) ([]BackupRecord, error) {
	path := filepath.Join(p.Topdir, "pc", host, "backups")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &backuppcfs.NotFoundError{What: "host", Name: host}
		}
		return nil, err
	}
	defer f.Close()

	var records []BackupRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < minFields {
			return nil, &backuppcfs.CorruptIndexError{
				Host:   host,
				Reason: "line " + strconv.Itoa(lineNo) + ": too few fields",
			}
		}
		num, err := strconv.Atoi(fields[fieldNum])
		if err != nil || num < 0 {
			warnf("host %q: backups line %d: malformed backup number %q, skipping", host, lineNo, fields[fieldNum])
			continue
		}
		start, err := strconv.ParseInt(fields[fieldStart], 10, 64)
		if err != nil {
			return nil, &backuppcfs.CorruptIndexError{Host: host, Reason: "line " + strconv.Itoa(lineNo) + ": malformed start time"}
		}
		end, err := strconv.ParseInt(fields[fieldEnd], 10, 64)
		if err != nil {
			return nil, &backuppcfs.CorruptIndexError{Host: host, Reason: "line " + strconv.Itoa(lineNo) + ": malformed end time"}
		}
		rec := BackupRecord{Num: num, Type: fields[fieldType], Start: start, End: end}
		if len(fields) > fieldLevel {
			lvl, err := strconv.Atoi(fields[fieldLevel])
			if err != nil {
				return nil, &backuppcfs.CorruptIndexError{Host: host, Reason: "line " + strconv.Itoa(lineNo) + ": malformed level"}
			}
			rec.Level = lvl
		}
		if len(fields) > fieldRef {
			ref, err := strconv.Atoi(fields[fieldRef])
			if err != nil {
				return nil, &backuppcfs.CorruptIndexError{Host: host, Reason: "line " + strconv.Itoa(lineNo) + ": malformed reference backup number"}
			}
			rec.RefNum = ref
		}
		if len(fields) > fieldFilled {
			rec.Filled = fields[fieldFilled] == "1"
		} else {
			rec.Filled = rec.Type == "full"
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Num < records[j].Num })
	return records, nil
}

// Backup looks up a single backup record by number.
func Backup(p backuppcfs.Pool, host string, n int) (BackupRecord, error) {
	records, err := Backups(p, host)
	if err != nil {
		return BackupRecord{}, err
	}
	for _, r := range records {
		if r.Num == n {
			return r, nil
		}
	}
	return BackupRecord{}, &backuppcfs.NotFoundError{What: "backup", Name: host + "#" + strconv.Itoa(n)}
}
