// Package delta implements the rsync-style delta signature/op scheme used
// to synchronise large files incrementally over a remote link: one side
// computes rolling weak + strong chunk signatures over its local file, the
// other slides a rolling window across its own content looking for weak
// matches, confirms candidates with the strong hash, and emits a sequence
// of DeltaOps that reconstruct the file when applied in order.
//
// This follows the well-known rsync algorithm description. The rolling
// checksum is an Adler-32-shaped rolling sum (O(1) update on a one-byte
// slide), the textbook rolling
// checksum for this exact problem.
package delta

import (
	"github.com/cespare/xxhash/v2"
)

// DefaultChunkSize is the chunk size used when the caller does not
// override it.
const DefaultChunkSize = 64 * 1024 // 64 KiB

const adlerMod = 65521

// weakChecksum computes the Adler-32-shaped rolling sum over data.
func weakChecksum(data []byte) uint32 {
	var a, b uint32 = 1, 0
	for _, c := range data {
		a = (a + uint32(c)) % adlerMod
		b = (b + a) % adlerMod
	}
	return (b << 16) | a
}

// rollChecksum updates a rolling checksum as the window slides by one
// byte: removing `out` from the front and adding `in` at the back. length
// is the fixed window length. All arithmetic is done in int64 to avoid
// uint32 underflow/overflow before the final reduction mod adlerMod.
func rollChecksum(sum uint32, out, in byte, length int) uint32 {
	a := int64(sum & 0xffff)
	b := int64((sum >> 16) & 0xffff)

	a = (a - int64(out) + int64(in)) % adlerMod
	b = (b - int64(length)*int64(out) + a - 1) % adlerMod
	if a < 0 {
		a += adlerMod
	}
	if b < 0 {
		b += adlerMod
	}
	return (uint32(b) << 16) | uint32(a)
}

// strongHash is the wider hash used to confirm a candidate once the weak
// checksum matches, avoiding false positives from weak-checksum
// collisions.
func strongHash(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// ChunkSignature describes one fixed-size (except possibly the last)
// offset range of a file.
type ChunkSignature struct {
	Index  int
	Offset int64
	Size   int64
	Weak   uint32
	Strong uint64
}

// FileSignature is the ordered list of a file's chunk signatures plus its
// total size and chunk size. Chunk offsets are non-overlapping and cover
// exactly [0, FileSize).
type FileSignature struct {
	ChunkSize int64
	FileSize  int64
	Chunks    []ChunkSignature
}

// Sign computes the chunk signature list for data, splitting it into
// chunkSize-byte ranges (the last one may be shorter).
func Sign(data []byte, chunkSize int64) FileSignature {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	sig := FileSignature{ChunkSize: chunkSize, FileSize: int64(len(data))}
	for off, idx := int64(0), 0; off < int64(len(data)); off, idx = off+chunkSize, idx+1 {
		end := off + chunkSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		chunk := data[off:end]
		sig.Chunks = append(sig.Chunks, ChunkSignature{
			Index:  idx,
			Offset: off,
			Size:   int64(len(chunk)),
			Weak:   weakChecksum(chunk),
			Strong: strongHash(chunk),
		})
	}
	return sig
}

// OpKind distinguishes the two DeltaOp shapes.
type OpKind int

const (
	// OpCopy copies SourceOffset..SourceOffset+Length from the source
	// signature's file into DestOffset of the reconstructed file.
	OpCopy OpKind = iota
	// OpLiteral writes Data verbatim at DestOffset.
	OpLiteral
)

// DeltaOp is one instruction in the sequence that reconstructs a target
// file. Applied in order, the ops produce a file of exactly the declared
// size.
type DeltaOp struct {
	Kind         OpKind
	DestOffset   int64
	Length       int64
	SourceOffset int64  // valid when Kind == OpCopy
	Data         []byte // valid when Kind == OpLiteral
}

// weakIndex maps a weak checksum to the candidate destination chunks that
// produced it, so the source side can look up matches in O(1) amortised.
type weakIndex map[uint32][]ChunkSignature

func buildIndex(sig FileSignature) weakIndex {
	idx := make(weakIndex, len(sig.Chunks))
	for _, c := range sig.Chunks {
		idx[c.Weak] = append(idx[c.Weak], c)
	}
	return idx
}

// ComputeDelta compares newData (the up-to-date source content) against
// destSig (the destination's existing chunk signatures) and produces the
// DeltaOp sequence that, applied to the destination, reconstructs newData.
// It slides a destSig.ChunkSize window across newData; on a weak-checksum
// hit it confirms with the strong hash before emitting an OpCopy, falling
// back to literal bytes otherwise.
func ComputeDelta(newData []byte, destSig FileSignature) []DeltaOp {
	chunkSize := destSig.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	idx := buildIndex(destSig)

	var ops []DeltaOp
	var literal []byte
	flushLiteral := func(destOffset int64) {
		if len(literal) == 0 {
			return
		}
		ops = append(ops, DeltaOp{Kind: OpLiteral, DestOffset: destOffset - int64(len(literal)), Length: int64(len(literal)), Data: literal})
		literal = nil
	}

	n := int64(len(newData))
	pos := int64(0)
	for pos < n {
		remaining := n - pos
		window := chunkSize
		if window > remaining {
			window = remaining
		}
		chunk := newData[pos : pos+window]
		weak := weakChecksum(chunk)

		matched := false
		if candidates, ok := idx[weak]; ok && window == chunkSize {
			strong := strongHash(chunk)
			for _, c := range candidates {
				if c.Size == window && c.Strong == strong {
					flushLiteral(pos)
					ops = append(ops, DeltaOp{Kind: OpCopy, DestOffset: pos, Length: window, SourceOffset: c.Offset})
					pos += window
					matched = true
					break
				}
			}
		}
		if !matched {
			literal = append(literal, newData[pos])
			pos++
		}
	}
	flushLiteral(pos)

	return ops
}

// Apply reconstructs a file of size destSize by executing ops in order
// against src (the signature-described source bytes, for OpCopy) and
// writing into a fresh byte slice.
func Apply(ops []DeltaOp, src []byte, destSize int64) []byte {
	out := make([]byte, destSize)
	for _, op := range ops {
		switch op.Kind {
		case OpCopy:
			copy(out[op.DestOffset:op.DestOffset+op.Length], src[op.SourceOffset:op.SourceOffset+op.Length])
		case OpLiteral:
			copy(out[op.DestOffset:op.DestOffset+op.Length], op.Data)
		}
	}
	return out
}
