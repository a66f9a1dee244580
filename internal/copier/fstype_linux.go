//go:build linux

package copier

import "golang.org/x/sys/unix"

// magic numbers for the filesystem types relevant to storage-preset
// selection; not an exhaustive statfs magic table.
const (
	nfsSuperMagic  = 0x6969
	smbSuperMagic  = 0x517B
	cifsSuperMagic = 0xFF534D42
)

func lookupFSType(path string) (string, bool) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return "", false
	}
	switch int64(st.Type) {
	case nfsSuperMagic:
		return "nfs", true
	case smbSuperMagic, cifsSuperMagic:
		return "cifs", true
	default:
		return "", true
	}
}
