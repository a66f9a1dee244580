//go:build !unix

package copier

func canUseZeroCopy() bool { return false }

func copyZeroCopy(src, dst string, size int64, preallocate bool) (int64, error) {
	return 0, errUnsupported
}

func copyMmap(src, dst string, size int64) (int64, error) {
	return 0, errUnsupported
}

func canUseDirectIO() bool { return false }

func copyDirectIO(src, dst string, size int64, bufSize int) (int64, error) {
	return 0, errUnsupported
}

func copyXattr(src, dst string) {}
