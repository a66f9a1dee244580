// Package hashing provides a uniform streaming interface over four hash
// algorithms (XXH3-128, XXH64, BLAKE3, SHA-256), plus the convenience
// wrappers, manifest persistence, and parallel fan-out built on top of it.
//
// All four algorithms expose the same capability set: create, Update(bytes)
// repeatedly, Finalize into a lowercase hex digest. No heap polymorphism is
// required beyond the Hasher interface itself; callers that need a fresh
// instance per goroutine call New(algorithm) again rather than sharing one.
package hashing

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"
	"lukechampine.com/blake3"

	"github.com/parasync/parasync/internal/scerr"
)

// Algorithm names one of the four supported hash functions.
type Algorithm string

const (
	XXH3   Algorithm = "xxhash3" // very fast, non-cryptographic, 128-bit; default
	XXH64  Algorithm = "xxhash64"
	BLAKE3 Algorithm = "blake3" // modern fast cryptographic hash
	SHA256 Algorithm = "sha256" // classical cryptographic hash
)

// DefaultAlgorithm is used wherever a caller does not specify one.
const DefaultAlgorithm = XXH3

// Hasher is the capability set every algorithm implementation exposes:
// consume bytes, produce a hex digest.
type Hasher interface {
	Update(p []byte)
	Finalize() string
	Algorithm() Algorithm
	Reset()
}

// New returns a fresh Hasher for algo.
func New(algo Algorithm) (Hasher, error) {
	switch algo {
	case XXH3:
		return &xxh3Hasher{h: xxh3.New()}, nil
	case XXH64:
		return &stdHashHasher{h: xxhash.New(), algo: XXH64}, nil
	case BLAKE3:
		return &stdHashHasher{h: blake3.New(32, nil), algo: BLAKE3}, nil
	case SHA256:
		return &stdHashHasher{h: sha256.New(), algo: SHA256}, nil
	default:
		return nil, scerr.New(scerr.KindConfig, "", fmt.Errorf("unsupported hash algorithm %q", algo))
	}
}

type xxh3Hasher struct{ h *xxh3.Hasher }

func (x *xxh3Hasher) Update(p []byte)     { _, _ = x.h.Write(p) }
func (x *xxh3Hasher) Algorithm() Algorithm { return XXH3 }
func (x *xxh3Hasher) Reset()               { x.h.Reset() }
func (x *xxh3Hasher) Finalize() string {
	sum := x.h.Sum128()
	return fmt.Sprintf("%016x%016x", sum.Hi, sum.Lo)
}

// stdHashHasher adapts anything implementing hash.Hash (xxh64, blake3,
// sha256 all do) to the Hasher interface.
type stdHashHasher struct {
	h    hash.Hash
	algo Algorithm
}

func (s *stdHashHasher) Update(p []byte)     { _, _ = s.h.Write(p) }
func (s *stdHashHasher) Algorithm() Algorithm { return s.algo }
func (s *stdHashHasher) Reset()               { s.h.Reset() }
func (s *stdHashHasher) Finalize() string     { return hex.EncodeToString(s.h.Sum(nil)) }

// Result is the algorithm tag, lowercase hex digest, and size of the hashed
// input. Equality requires both algorithm and digest to match.
type Result struct {
	Algorithm Algorithm
	Hash      string
	Size      int64
}

// Verify compares two results for equality. For cryptographic algorithms
// the digest comparison is constant-time.
func (r Result) Verify(other Result) bool {
	if r.Algorithm != other.Algorithm {
		return false
	}
	if r.Algorithm == SHA256 || r.Algorithm == BLAKE3 {
		return subtle.ConstantTimeCompare([]byte(r.Hash), []byte(other.Hash)) == 1
	}
	return r.Hash == other.Hash
}

const streamBufferSize = 1 << 20 // 1 MiB

// HashFile streams path through algo and returns its Result.
func HashFile(path string, algo Algorithm) (Result, error) {
	return HashFileWithBuffer(path, algo, streamBufferSize)
}

// HashFileWithBuffer is HashFile with a caller-chosen buffer size.
func HashFileWithBuffer(path string, algo Algorithm, bufSize int) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, scerr.IO(path, err)
	}
	defer func() { _ = f.Close() }()

	h, err := New(algo)
	if err != nil {
		return Result{}, err
	}

	buf := make([]byte, bufSize)
	var total int64
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			h.Update(buf[:n])
			total += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return Result{}, scerr.IO(path, rerr)
		}
	}
	return Result{Algorithm: algo, Hash: h.Finalize(), Size: total}, nil
}

// HashBytes hashes an in-memory byte slice in one call.
func HashBytes(data []byte, algo Algorithm) (Result, error) {
	h, err := New(algo)
	if err != nil {
		return Result{}, err
	}
	h.Update(data)
	return Result{Algorithm: algo, Hash: h.Finalize(), Size: int64(len(data))}, nil
}

// HashFilesParallel fans HashFile out over workers goroutines, preserving
// input order in the returned slice.
func HashFilesParallel(paths []string, algo Algorithm, workers int) ([]Result, error) {
	if workers <= 0 {
		workers = 1
	}
	results := make([]Result, len(paths))
	errs := make([]error, len(paths))

	sem := make(chan struct{}, workers)
	done := make(chan int, len(paths))
	for i, p := range paths {
		sem <- struct{}{}
		go func(i int, p string) {
			defer func() { <-sem; done <- i }()
			r, err := HashFile(p, algo)
			results[i] = r
			errs[i] = err
		}(i, p)
	}
	for range paths {
		<-done
	}

	var collected []error
	for _, e := range errs {
		if e != nil {
			collected = append(collected, e)
		}
	}
	return results, scerr.Collect(collected)
}

// QuickHash is a cheap change-detection entry point: it hashes only the
// first and last 64 KiB of the file plus its size, using the fast
// non-cryptographic xxh64 algorithm, rather than the whole file. It is
// meant for "has this probably changed" checks backed by a full re-hash
// when in doubt, not for integrity verification.
func QuickHash(path string) (uint64, error) {
	const probe = 64 * 1024

	f, err := os.Open(path)
	if err != nil {
		return 0, scerr.IO(path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return 0, scerr.IO(path, err)
	}
	size := info.Size()

	h := xxhash.New()
	head := make([]byte, probe)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, scerr.IO(path, err)
	}
	_, _ = h.Write(head[:n])

	if size > probe {
		tailStart := size - probe
		if tailStart < int64(n) {
			tailStart = int64(n)
		}
		tail := make([]byte, size-tailStart)
		if _, err := f.ReadAt(tail, tailStart); err != nil && err != io.EOF {
			return 0, scerr.IO(path, err)
		}
		_, _ = h.Write(tail)
	}

	var sizeBuf [8]byte
	for i := 0; i < 8; i++ {
		sizeBuf[i] = byte(size >> (8 * i))
	}
	_, _ = h.Write(sizeBuf[:])

	return h.Sum64(), nil
}
