package copier

import (
	"fmt"
	"strings"

	"github.com/parasync/parasync/internal/scerr"
)

var errUnsupported = scerr.New(scerr.KindUnsupportedOperation, "", fmt.Errorf("strategy not supported on this platform"))

// DetectedStorageType is a best-effort classification of the filesystem
// backing a path, used to pick sensible copy-option presets.
type DetectedStorageType int

const (
	StorageUnknown DetectedStorageType = iota
	StorageNVMe
	StorageSSD
	StorageHDD
	StorageSMB
	StorageNFS
	StorageNetworkFS
)

func (t DetectedStorageType) String() string {
	switch t {
	case StorageNVMe:
		return "nvme"
	case StorageSSD:
		return "ssd"
	case StorageHDD:
		return "hdd"
	case StorageSMB:
		return "smb"
	case StorageNFS:
		return "nfs"
	case StorageNetworkFS:
		return "network"
	default:
		return "unknown"
	}
}

// DetectStorageType inspects path's mount via the platform's filesystem-type
// lookup and classifies it. Detection failures return StorageUnknown rather
// than an error: callers always have a usable (if generic) preset to fall
// back to.
func DetectStorageType(path string) DetectedStorageType {
	fsType, ok := lookupFSType(path)
	if !ok {
		return StorageUnknown
	}
	switch strings.ToLower(fsType) {
	case "nfs", "nfs4":
		return StorageNFS
	case "cifs", "smb", "smb2", "smb3":
		return StorageSMB
	case "9p", "fuse", "glusterfs", "ceph":
		return StorageNetworkFS
	default:
		return StorageUnknown
	}
}

// OptionsForStorageType returns the copy-option preset best suited to t.
func OptionsForStorageType(t DetectedStorageType) Options {
	switch t {
	case StorageSMB:
		return OptionsForSMBMultichannel()
	case StorageNFS:
		return OptionsForNFS()
	case StorageNVMe, StorageSSD:
		return OptionsForLocalSSD()
	default:
		return DefaultOptions()
	}
}
