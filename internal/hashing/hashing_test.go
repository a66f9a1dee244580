package hashing

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHashDeterminism(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	for _, algo := range []Algorithm{XXH3, XXH64, BLAKE3, SHA256} {
		a, err := HashBytes(data, algo)
		if err != nil {
			t.Fatalf("%s: %v", algo, err)
		}
		b, err := HashBytes(data, algo)
		if err != nil {
			t.Fatalf("%s: %v", algo, err)
		}
		if a.Hash != b.Hash {
			t.Errorf("%s: expected deterministic hash, got %q vs %q", algo, a.Hash, b.Hash)
		}
		if !a.Verify(b) {
			t.Errorf("%s: expected Verify to agree on identical digests", algo)
		}
	}
}

func TestStreamingMatchesOneShot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	data := make([]byte, 5*1024*1024+37)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	for _, algo := range []Algorithm{XXH3, XXH64, BLAKE3, SHA256} {
		oneShot, err := HashBytes(data, algo)
		if err != nil {
			t.Fatal(err)
		}
		streamed, err := HashFileWithBuffer(path, algo, 64*1024)
		if err != nil {
			t.Fatal(err)
		}
		if oneShot.Hash != streamed.Hash {
			t.Errorf("%s: streaming hash %q != one-shot hash %q", algo, streamed.Hash, oneShot.Hash)
		}
		if streamed.Size != int64(len(data)) {
			t.Errorf("%s: expected size %d, got %d", algo, len(data), streamed.Size)
		}
	}
}

func TestVerificationDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	data := []byte("integrity matters: one flipped byte must be detected")
	if err := os.WriteFile(src, data, 0o644); err != nil {
		t.Fatal(err)
	}
	corrupted := append([]byte(nil), data...)
	corrupted[10] ^= 0xFF
	if err := os.WriteFile(dst, corrupted, 0o644); err != nil {
		t.Fatal(err)
	}

	srcHash, err := HashFile(src, SHA256)
	if err != nil {
		t.Fatal(err)
	}
	dstHash, err := HashFile(dst, SHA256)
	if err != nil {
		t.Fatal(err)
	}
	if srcHash.Verify(dstHash) {
		t.Fatal("expected corrupted destination to fail verification")
	}
}

func TestHashFilesParallelPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 20; i++ {
		p := filepath.Join(dir, string(rune('a'+i))+".txt")
		if err := os.WriteFile(p, []byte{byte(i)}, 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}

	results, err := HashFilesParallel(paths, XXH64, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != len(paths) {
		t.Fatalf("expected %d results, got %d", len(paths), len(results))
	}
	for i, p := range paths {
		want, err := HashFile(p, XXH64)
		if err != nil {
			t.Fatal(err)
		}
		if results[i].Hash != want.Hash {
			t.Errorf("index %d: order not preserved or wrong hash", i)
		}
	}
}

func TestManifestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	m := NewManifest(SHA256, "/data/root")
	m.AddEntry(ManifestEntry{RelativePath: "a.txt", Size: 10, Digest: "abc", Algorithm: SHA256, ModTime: time.Now()})
	m.AddEntry(ManifestEntry{RelativePath: "b.txt", Size: 20, Digest: "def", Algorithm: SHA256, ModTime: time.Now()})

	if err := m.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Algorithm != SHA256 || loaded.Root != "/data/root" {
		t.Fatalf("unexpected manifest header: %+v", loaded)
	}
	e, ok := loaded.FindEntry("b.txt")
	if !ok || e.Digest != "def" {
		t.Fatalf("expected to find b.txt with digest def, got %+v ok=%v", e, ok)
	}
	if _, ok := loaded.FindEntry("missing.txt"); ok {
		t.Fatal("did not expect to find missing.txt")
	}
}

func TestCacheLookupStore(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.db")

	c, err := Open(cachePath)
	if err != nil {
		t.Fatal(err)
	}
	mtime := time.Now()
	if err := c.Store("/a/b.txt", 100, mtime, SHA256, "deadbeef"); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	c2, err := Open(cachePath)
	if err != nil {
		t.Fatal(err)
	}
	digest, ok, err := c2.Lookup("/a/b.txt", 100, mtime, SHA256)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || digest != "deadbeef" {
		t.Fatalf("expected cache hit with digest deadbeef, got ok=%v digest=%q", ok, digest)
	}
	if _, ok, _ := c2.Lookup("/a/b.txt", 101, mtime, SHA256); ok {
		t.Fatal("expected cache miss on size change")
	}
	if err := c2.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCacheDisabledWithEmptyPath(t *testing.T) {
	c, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Store("/a", 1, time.Now(), SHA256, "x"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Lookup("/a", 1, time.Now(), SHA256); ok {
		t.Fatal("expected disabled cache to always miss")
	}
}
