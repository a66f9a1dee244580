package chunked

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestCopySmallMultiChunk(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")

	data := bytes.Repeat([]byte{0xAB}, 10*1024)
	if err := os.WriteFile(src, data, 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := Copy(src, dst, int64(len(data)), Options{ChunkSize: 4096, Workers: 3})
	if err != nil {
		t.Fatal(err)
	}
	if res.BytesCopied != int64(len(data)) {
		t.Errorf("bytes copied = %d, want %d", res.BytesCopied, len(data))
	}
	if res.Chunks != 3 {
		t.Errorf("chunks = %d, want 3", res.Chunks)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("destination bytes do not match source")
	}
}

func TestCopyEquivalentToBuffered(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dstChunked := filepath.Join(dir, "dst_chunked.bin")
	dstBuffered := filepath.Join(dir, "dst_buffered.bin")

	data := bytes.Repeat([]byte("0123456789abcdef"), 50000) // 800000 bytes
	if err := os.WriteFile(src, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Copy(src, dstChunked, int64(len(data)), Options{ChunkSize: 131072, Workers: 4}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dstBuffered, data, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(dstChunked)
	if err != nil {
		t.Fatal(err)
	}
	want, err := os.ReadFile(dstBuffered)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Error("chunked output does not byte-equal buffered output")
	}
}

func TestCopyZeroLengthChunkList(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	if err := os.WriteFile(src, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := Copy(src, dst, 0, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.BytesCopied != 0 || res.Chunks != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}
