package lz4frame

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestFramingRoundTripEmpty(t *testing.T) {
	encoded, err := EncodeFrames(nil)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeFrames(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 0 {
		t.Errorf("expected empty decode, got %d bytes", len(decoded))
	}
}

func TestFramingRoundTripCompressible(t *testing.T) {
	data := bytes.Repeat([]byte("hello world, compress me please "), 10000)
	encoded, err := EncodeFrames(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(encoded) >= len(data) {
		t.Errorf("expected compression to shrink highly repetitive data: encoded=%d original=%d", len(encoded), len(data))
	}
	decoded, err := DecodeFrames(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, data) {
		t.Error("round trip mismatch for compressible data")
	}
}

func TestFramingRoundTripRandom(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	data := make([]byte, 500000)
	_, _ = r.Read(data)

	encoded, err := EncodeFrames(data)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeFrames(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, data) {
		t.Error("round trip mismatch for incompressible random data")
	}
}

func TestFramingMultiBlock(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, DefaultBlockSize*3+17)
	encoded, err := EncodeFrames(data)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeFrames(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, data) {
		t.Error("multi-block round trip mismatch")
	}
}

func TestFramingTruncatedFrameIsHardError(t *testing.T) {
	data := bytes.Repeat([]byte("truncate me"), 1000)
	encoded, err := EncodeFrames(data)
	if err != nil {
		t.Fatal(err)
	}
	truncated := encoded[:len(encoded)-5]
	if _, err := DecodeFrames(truncated); err == nil {
		t.Error("expected truncated frame to be a hard error")
	}
}

func TestFramingMissingTerminatorIsHardError(t *testing.T) {
	var buf writeBuffer
	w := NewWriter(&buf)
	if _, err := w.Write([]byte("no terminator written")); err != nil {
		t.Fatal(err)
	}
	if err := w.flush(); err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeFrames(buf.data); err == nil {
		t.Error("expected missing terminator frame to be a hard error")
	}
}
