// Package asyncring wraps github.com/KyleSanderson/go-ring's io_uring-style
// async ReadAt behind a Reader that degrades to ordinary *os.File.ReadAt
// when the ring can't be constructed — unsupported platform, kernel too
// old, or any other New() failure. Callers never special-case the
// fallback: Reader.ReadAt has the same signature either way.
//
// Grounded on the pack's own autobrr-mkbrr piece hasher
// (other_examples/...torrent-hasher.go), which is the only place in the
// retrieval pack wiring go-ring: same Config shape (Entries,
// CompletionQueueSize, WorkerThreads), same New()-fails-return-nil
// fallback, same chunked-ReadAt-into-a-reused-buffer read loop, and the
// same context.WithTimeout guard around each ring read (that file notes
// go-ring's IOCP backend has hung indefinitely on Windows without one).
package asyncring

import (
	"context"
	"os"
	"runtime"
	"time"

	goring "github.com/KyleSanderson/go-ring"

	"github.com/parasync/parasync/internal/scerr"
)

// ReadTimeout bounds a single ring ReadAt call, matching the pack
// reference's 30s guard against a hung ring backend.
const ReadTimeout = 30 * time.Second

// Reader issues ReadAt calls through a go-ring instance when available,
// falling back to synchronous os.File.ReadAt otherwise.
type Reader struct {
	ring goring.Ring // nil when unavailable on this platform
}

// New constructs a Reader. It never fails: if the ring can't be built on
// this platform, Reader.ring is left nil and every ReadAt falls back to
// synchronous I/O, matching the reference's "ring = nil" fallback.
func New(workers int) *Reader {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	ring, err := goring.New(goring.Config{
		Entries:             256,
		CompletionQueueSize: 512,
		WorkerThreads:       workers,
	})
	if err != nil {
		return &Reader{ring: nil}
	}
	return &Reader{ring: ring}
}

// Available reports whether this Reader is actually backed by a ring
// (false means every call is falling back to synchronous I/O).
func (r *Reader) Available() bool { return r.ring != nil }

// Close releases the underlying ring, if any.
func (r *Reader) Close() error {
	if r.ring == nil {
		return nil
	}
	return r.ring.Close()
}

// ReadAt fills buf from f at offset, via the ring if available.
func (r *Reader) ReadAt(ctx context.Context, f *os.File, buf []byte, offset int64) (int, error) {
	if r.ring == nil {
		n, err := f.ReadAt(buf, offset)
		if err != nil && n == 0 {
			return 0, scerr.IO(f.Name(), err)
		}
		return n, nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, ReadTimeout)
	defer cancel()

	n, err := r.ring.ReadAt(timeoutCtx, int(f.Fd()), buf, offset)
	if err != nil {
		return n, scerr.IO(f.Name(), err)
	}
	return n, nil
}

// ReadFull reads exactly len(buf) bytes starting at offset, chunking the
// request across repeated ReadAt calls the way the reference
// implementation's readFileDataWithRing does for reads larger than one
// buffer.
func (r *Reader) ReadFull(ctx context.Context, f *os.File, buf []byte, offset int64) error {
	var read int
	for read < len(buf) {
		n, err := r.ReadAt(ctx, f, buf[read:], offset+int64(read))
		if n == 0 && err != nil {
			return err
		}
		if n == 0 {
			return scerr.IO(f.Name(), context.DeadlineExceeded)
		}
		read += n
	}
	return nil
}
