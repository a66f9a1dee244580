//go:build !unix

package scanner

import (
	"os"

	"github.com/parasync/parasync/internal/types"
)

// setPlatformStat is a no-op on platforms without syscall.Stat_t; Dev/Ino
// stay zero and SameDevice-based fast paths are simply never taken.
func setPlatformStat(fe *types.FileEntry, info os.FileInfo) {}
