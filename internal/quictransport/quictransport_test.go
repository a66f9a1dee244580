package quictransport

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	length := int64(100)
	want := Message{Kind: MsgFileRequest, Path: "a/b.txt", Offset: 10, Length: &length}

	var buf bytes.Buffer
	if err := WriteMessage(&buf, want); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.Kind != want.Kind || got.Path != want.Path || got.Offset != want.Offset {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got.Length == nil || *got.Length != length {
		t.Errorf("Length = %v, want %d", got.Length, length)
	}
}

func TestMessageRoundTripFileData(t *testing.T) {
	want := Message{Kind: MsgFileData, Offset: 0, Data: []byte("hello world"), IsLast: true}

	var buf bytes.Buffer
	if err := WriteMessage(&buf, want); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !bytes.Equal(got.Data, want.Data) || !got.IsLast {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff}) // bogus huge length prefix
	if _, err := ReadMessage(&buf); err == nil {
		t.Error("expected an error for an oversized length prefix")
	}
}

func TestGenerateSelfSignedAndRoundTripToDisk(t *testing.T) {
	mgr, err := GenerateSelfSigned("localhost")
	if err != nil {
		t.Fatalf("GenerateSelfSigned: %v", err)
	}
	if len(mgr.TLSCertificate().Certificate) == 0 {
		t.Fatal("expected a non-empty certificate chain")
	}

	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	if err := mgr.SaveToFiles(certPath, keyPath); err != nil {
		t.Fatalf("SaveToFiles: %v", err)
	}

	loaded, err := FromFiles(certPath, keyPath)
	if err != nil {
		t.Fatalf("FromFiles: %v", err)
	}
	if len(loaded.TLSCertificate().Certificate) == 0 {
		t.Fatal("expected the reloaded certificate to have a non-empty chain")
	}
}

func TestDefaultServerConfigMatchesTuningConstants(t *testing.T) {
	mgr, err := GenerateSelfSigned("localhost")
	if err != nil {
		t.Fatalf("GenerateSelfSigned: %v", err)
	}
	cfg := DefaultServerConfig("127.0.0.1:0", mgr)
	if cfg.MaxStreams != MaxConcurrentStreams {
		t.Errorf("MaxStreams = %d, want %d", cfg.MaxStreams, MaxConcurrentStreams)
	}
	if cfg.StreamWindow != StreamBufferSize {
		t.Errorf("StreamWindow = %d, want %d", cfg.StreamWindow, StreamBufferSize)
	}
	qc := cfg.quicConfig()
	if qc.MaxConnectionReceiveWindow != StreamBufferSize*4 {
		t.Errorf("MaxConnectionReceiveWindow = %d, want %d", qc.MaxConnectionReceiveWindow, StreamBufferSize*4)
	}
}
