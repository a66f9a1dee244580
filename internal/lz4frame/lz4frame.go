// Package lz4frame implements the length-prefixed LZ4 block framing used
// identically by the compressed file format and the streaming network
// compressor: one little-endian 4-byte length followed by that many bytes
// of a size-prefixed LZ4 block, terminated by a zero-length frame.
package lz4frame

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/parasync/parasync/internal/scerr"
)

// DefaultBlockSize is the uncompressed size of one frame's payload before
// compression, used when the caller streams arbitrarily-sized writes.
const DefaultBlockSize = 4 << 20 // 4 MiB

// Writer wraps an io.Writer, buffering writes and emitting one
// length-prefixed LZ4-compressed frame each time the buffer reaches the
// block size (and one for any remainder at Close).
// Callers must call Close to emit the terminating zero-length frame.
type Writer struct {
	w         io.Writer
	blockSize int
	buf       []byte
	compBuf   []byte
}

// NewWriter returns a Writer that batches writes into BlockSize-sized
// frames.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, blockSize: DefaultBlockSize}
}

// Write buffers p and flushes complete blockSize chunks as frames.
func (w *Writer) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		room := w.blockSize - len(w.buf)
		if room > len(p) {
			room = len(p)
		}
		w.buf = append(w.buf, p[:room]...)
		p = p[room:]
		if len(w.buf) >= w.blockSize {
			if err := w.flush(); err != nil {
				return total - len(p), err
			}
		}
	}
	return total, nil
}

func (w *Writer) flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	maxSize := lz4.CompressBlockBound(len(w.buf))
	if cap(w.compBuf) < maxSize {
		w.compBuf = make([]byte, maxSize)
	}
	var c lz4.Compressor
	n, err := c.CompressBlock(w.buf, w.compBuf[:maxSize])
	if err != nil {
		return scerr.New(scerr.KindCompression, "", err)
	}
	block := w.compBuf[:n]
	stored := n == 0 // lz4 reports 0 when the data is incompressible; store raw with a size-prefix marker
	if stored {
		block = w.buf
	}
	if err := writeFrame(w.w, block, len(w.buf), stored); err != nil {
		return err
	}
	w.buf = w.buf[:0]
	return nil
}

// Close flushes any buffered data and writes the terminating zero-length
// frame.
func (w *Writer) Close() error {
	if err := w.flush(); err != nil {
		return err
	}
	var zero [4]byte
	if _, err := w.w.Write(zero[:]); err != nil {
		return scerr.New(scerr.KindCompression, "", err)
	}
	return nil
}

// frameHeaderSize covers the 4-byte size-prefix inside the LZ4 block payload
// itself (distinct from the outer length-prefix), recording the
// uncompressed size so the reader can allocate exactly, and a flag byte
// marking whether the block is stored raw (incompressible data).
const frameHeaderSize = 5

func writeFrame(w io.Writer, block []byte, uncompressedSize int, stored bool) error {
	inner := make([]byte, frameHeaderSize+len(block))
	binary.LittleEndian.PutUint32(inner[:4], uint32(uncompressedSize))
	if stored {
		inner[4] = 1
	}
	copy(inner[frameHeaderSize:], block)

	var outerLen [4]byte
	binary.LittleEndian.PutUint32(outerLen[:], uint32(len(inner)))
	if _, err := w.Write(outerLen[:]); err != nil {
		return scerr.New(scerr.KindCompression, "", err)
	}
	if _, err := w.Write(inner); err != nil {
		return scerr.New(scerr.KindCompression, "", err)
	}
	return nil
}

// Reader unwraps a stream written by Writer, reconstituting the original
// byte stream one frame at a time.
type Reader struct {
	r       io.Reader
	pending []byte
	done    bool
}

// NewReader returns a Reader over a framed LZ4 stream.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Read implements io.Reader, decompressing frames as needed to satisfy p.
func (r *Reader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if r.done {
			return 0, io.EOF
		}
		block, err := readFrame(r.r)
		if err != nil {
			return 0, err
		}
		if block == nil {
			r.done = true
			continue
		}
		r.pending = block
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// readFrame reads one outer length-prefixed frame and decompresses its
// payload. A nil, nil return signals the terminating zero-length frame.
// Any truncated frame is a hard error.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, scerr.New(scerr.KindCompression, "", fmt.Errorf("truncated frame: missing terminator"))
		}
		return nil, scerr.New(scerr.KindCompression, "", err)
	}
	frameLen := binary.LittleEndian.Uint32(lenBuf[:])
	if frameLen == 0 {
		return nil, nil
	}

	inner := make([]byte, frameLen)
	if _, err := io.ReadFull(r, inner); err != nil {
		return nil, scerr.New(scerr.KindCompression, "", fmt.Errorf("truncated frame: %w", err))
	}
	if len(inner) < frameHeaderSize {
		return nil, scerr.New(scerr.KindCompression, "", fmt.Errorf("truncated frame header"))
	}

	uncompressedSize := binary.LittleEndian.Uint32(inner[:4])
	stored := inner[4] != 0
	payload := inner[frameHeaderSize:]

	if stored {
		return payload, nil
	}

	dst := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(payload, dst)
	if err != nil {
		return nil, scerr.New(scerr.KindCompression, "", err)
	}
	return dst[:n], nil
}

// EncodeFrames compresses all of data as a sequence of DefaultBlockSize
// frames terminated by a zero-length frame, returning the full framed
// byte stream. Convenience wrapper for small in-memory payloads (manifests,
// batch archives).
func EncodeFrames(data []byte) ([]byte, error) {
	var buf writeBuffer
	w := NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.data, nil
}

// DecodeFrames is the inverse of EncodeFrames.
func DecodeFrames(framed []byte) ([]byte, error) {
	r := NewReader(&byteReader{data: framed})
	return io.ReadAll(r)
}

type writeBuffer struct{ data []byte }

func (b *writeBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

type byteReader struct {
	data []byte
	pos  int
}

func (b *byteReader) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}
