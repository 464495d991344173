// Package env captures details about the backuppcfs environment. Inspect
// the environment using `bpcls env`.
package env

import "os"

// DefaultTopdir is the BackupPC topdir in effect when no -topdir flag is
// given: $BPC_TOPDIR if set, otherwise /var/lib/backuppc.
var DefaultTopdir = findTopdir()

func findTopdir() string {
	if env := os.Getenv("BPC_TOPDIR"); env != "" {
		return env
	}
	return "/var/lib/backuppc" // BackupPC's conventional topdir
}
