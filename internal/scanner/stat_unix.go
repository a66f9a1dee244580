//go:build unix

package scanner

import (
	"os"
	"syscall"

	"github.com/parasync/parasync/internal/types"
)

// setPlatformStat fills in the Dev/Ino fields from the raw syscall stat
// structure, when available.
func setPlatformStat(fe *types.FileEntry, info os.FileInfo) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	fe.Dev = uint64(stat.Dev)
	fe.Ino = stat.Ino
}
