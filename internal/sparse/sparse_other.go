//go:build !linux

package sparse

import (
	"io"
	"os"

	"github.com/parasync/parasync/internal/scerr"
)

// Analyze falls back to reporting the file as fully allocated: SEEK_HOLE/
// SEEK_DATA is a Linux-specific extension, and other platforms' sparse-file
// APIs (FSCTL_SET_SPARSE on Windows) aren't wired here.
func Analyze(path string) (Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, scerr.IO(path, err)
	}
	return Info{LogicalSize: st.Size(), AllocatedBytes: st.Size()}, nil
}

// IsSparse always reports false outside Linux.
func IsSparse(path string) (bool, error) { return false, nil }

// CopySparse performs a plain copy outside Linux.
func CopySparse(src, dst string, bufSize int64) (Result, error) {
	in, err := os.Open(src)
	if err != nil {
		return Result{}, scerr.IO(src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return Result{}, scerr.IO(dst, err)
	}
	defer func() { _ = out.Close() }()

	if bufSize <= 0 {
		bufSize = 1 << 20
	}
	n, err := io.CopyBuffer(out, in, make([]byte, bufSize))
	if err != nil {
		return Result{}, scerr.IO(dst, err)
	}
	return Result{BytesWritten: n, LogicalSize: n}, nil
}
