//go:build linux

package sparse

import (
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/parasync/parasync/internal/scerr"
)

// minSparseGap is the margin by which a file's allocation must fall short
// of its logical size for IsSparse to report it sparse. findHoles does not
// apply it: every gap it finds is recorded as a hole.
const minSparseGap = 4096

// Analyze reports path's logical size, its actual on-disk allocation
// (stat's block count times 512), and its hole regions, located by walking
// SEEK_DATA/SEEK_HOLE rather than scanning file content for zero runs.
func Analyze(path string) (Info, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return Info{}, scerr.IO(path, err)
	}
	info := Info{
		LogicalSize:    st.Size,
		AllocatedBytes: st.Blocks * 512,
		BlockSize:      int64(st.Blksize),
	}
	if info.LogicalSize == 0 {
		return info, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Info{}, scerr.IO(path, err)
	}
	defer func() { _ = f.Close() }()

	holes, err := findHoles(int(f.Fd()), info.LogicalSize)
	if err != nil {
		// SEEK_DATA/SEEK_HOLE unsupported on this filesystem (tmpfs,
		// overlayfs in some configurations): report no detected holes
		// instead of failing the whole analysis.
		return info, nil
	}
	info.Holes = holes
	return info, nil
}

// IsSparse reports whether path's on-disk allocation is meaningfully
// smaller than its logical size.
func IsSparse(path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, scerr.IO(path, err)
	}
	if st.Size <= minSparseGap {
		return false, nil
	}
	return st.Blocks*512 < st.Size-minSparseGap, nil
}

// findHoles walks fd with alternating SEEK_DATA/SEEK_HOLE calls, returning
// the gaps between consecutive data extents.
func findHoles(fd int, size int64) ([]HoleRegion, error) {
	var holes []HoleRegion
	pos := int64(0)
	for pos < size {
		dataStart, err := unix.Seek(fd, pos, unix.SEEK_DATA)
		if err != nil {
			if err == unix.ENXIO {
				holes = append(holes, HoleRegion{Offset: pos, Length: size - pos})
				break
			}
			return nil, err
		}
		if dataStart > pos {
			holes = append(holes, HoleRegion{Offset: pos, Length: dataStart - pos})
		}
		holeStart, err := unix.Seek(fd, dataStart, unix.SEEK_HOLE)
		if err != nil {
			if err == unix.ENXIO {
				break
			}
			return nil, err
		}
		if holeStart <= dataStart {
			break
		}
		pos = holeStart
	}
	return holes, nil
}

// CopySparse copies src to dst, preallocating dst to the logical size and
// writing only the data extents so dst ends up sparse on a filesystem that
// supports it. Files with no detected holes fall back to a plain copy.
func CopySparse(src, dst string, bufSize int64) (Result, error) {
	info, err := Analyze(src)
	if err != nil {
		return Result{}, err
	}
	if len(info.Holes) == 0 {
		n, err := copyPlain(src, dst, bufSize)
		if err != nil {
			return Result{}, err
		}
		return Result{BytesWritten: n, LogicalSize: n}, nil
	}

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

	if err := out.Truncate(info.LogicalSize); err != nil {
		return Result{}, scerr.IO(dst, err)
	}

	if bufSize <= 0 {
		bufSize = 1 << 20
	}
	buf := make([]byte, bufSize)

	var written, spaceSaved int64
	pos := int64(0)
	holeIdx := 0
	for pos < info.LogicalSize {
		if holeIdx < len(info.Holes) {
			h := info.Holes[holeIdx]
			if pos >= h.Offset && pos < h.Offset+h.Length {
				pos = h.Offset + h.Length
				spaceSaved += h.Length
				holeIdx++
				continue
			}
		}

		want := bufSize
		if holeIdx < len(info.Holes) {
			next := info.Holes[holeIdx]
			if next.Offset > pos && next.Offset-pos < want {
				want = next.Offset - pos
			}
		}
		if info.LogicalSize-pos < want {
			want = info.LogicalSize - pos
		}

		n, rerr := in.ReadAt(buf[:want], pos)
		if n > 0 {
			if _, werr := out.WriteAt(buf[:n], pos); werr != nil {
				return Result{}, scerr.IO(dst, werr)
			}
			written += int64(n)
			pos += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return Result{}, scerr.IO(src, rerr)
		}
		if n == 0 {
			break
		}
	}

	return Result{
		BytesWritten:   written,
		LogicalSize:    info.LogicalSize,
		HolesPreserved: int64(len(info.Holes)),
		SpaceSaved:     spaceSaved,
	}, nil
}

func copyPlain(src, dst string, bufSize int64) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, scerr.IO(src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return 0, scerr.IO(dst, err)
	}
	defer func() { _ = out.Close() }()

	if bufSize <= 0 {
		bufSize = 1 << 20
	}
	n, err := io.CopyBuffer(out, in, make([]byte, bufSize))
	if err != nil {
		return n, scerr.IO(dst, err)
	}
	return n, nil
}
