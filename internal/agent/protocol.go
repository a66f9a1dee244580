// Package agent implements the remote-agent wire protocol: an 8-byte magic
// once per connection, then length-prefixed, self-describing binary
// messages in each direction. Framing is transport-agnostic — the same
// code runs over a pipe (stdin/stdout under an external ssh invocation) or
// over TCP; authenticating the transport itself is out of scope, the
// protocol assumes a pre-authenticated pipe.
//
// # Connection State Machine
//
//	Await-magic → Await-handshake → Ready ↔ Request-handling → (Shutdown) → Closed
package agent

import (
	"bufio"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/parasync/parasync/internal/scerr"
)

// Magic is sent once by the client immediately after connecting.
const Magic = "SCAGENT1"

// MaxMessageSize is the largest payload accepted after the length prefix;
// anything larger is a protocol error that terminates the connection.
const MaxMessageSize = 64 << 20 // 64 MiB

// ProtocolVersion is the handshake version this build speaks.
const ProtocolVersion = 1

// RequestKind tags which concrete Request field is populated.
type RequestKind int

const (
	ReqHandshake RequestKind = iota
	ReqGetSignature
	ReqGetMetadata
	ReqListDirectory
	ReqReadChunk
	ReqWriteChunk
	ReqCreateFile
	ReqApplyDelta
	ReqHashFile
	ReqSetAttributes
	ReqCreateDirectory
	ReqRemove
	ReqPing
	ReqShutdown
	ReqWriteBatch
)

// Request is the self-describing envelope for every client→server
// message. Exactly the field(s) relevant to Kind are populated; gob
// encodes the whole struct, leaving the others at their zero value, which
// is the idiomatic Go stand-in for a tagged-union wire encoding.
type Request struct {
	Kind RequestKind

	Path        string
	Offset      int64
	Size        int64
	Bytes       []byte
	Create      bool
	Recursive   bool
	Algorithm   string
	Mtime       *int64
	Mode        *uint32
	DestPath    string
	Ops         []DeltaOpWire
	BatchFormat int

	Version  int
	Features []string
}

// DeltaOpWire mirrors internal/delta.DeltaOp in a gob-friendly shape for
// ApplyDelta requests.
type DeltaOpWire struct {
	Literal      bool
	DestOffset   int64
	Length       int64
	SourceOffset int64
	Data         []byte
}

// ChunkSignatureWire mirrors internal/delta.ChunkSignature for
// GetSignature responses.
type ChunkSignatureWire struct {
	Index  int
	Offset int64
	Size   int64
	Weak   uint32
	Strong uint64
}

// ResponseKind tags which concrete Response field is populated.
type ResponseKind int

const (
	RespHandshakeOk ResponseKind = iota
	RespSignature
	RespMetadata
	RespDirectoryListing
	RespChunk
	RespOK
	RespHash
	RespPong
	RespShutdownAck
	RespError
)

// Response is the self-describing envelope for every server→client
// message.
type Response struct {
	Kind ResponseKind

	Version  int
	Features []string

	Size      int64
	ModTime   int64
	Mode      uint32
	IsDir     bool
	IsSymlink bool

	Entries    []string
	Bytes      []byte
	Hash       string
	ChunkSize  int64
	FileSize   int64
	Signature  []ChunkSignatureWire
	Count      int

	ErrCode    string
	ErrMessage string
}

// ErrorResponse builds a RespError envelope.
func ErrorResponse(code, message string) Response {
	return Response{Kind: RespError, ErrCode: code, ErrMessage: message}
}

func init() {
	gob.Register(Request{})
	gob.Register(Response{})
}

// WriteMagic sends the one-time connection magic.
func WriteMagic(w io.Writer) error {
	if _, err := io.WriteString(w, Magic); err != nil {
		return scerr.New(scerr.KindConnection, "", err)
	}
	return nil
}

// ReadMagic reads and validates the one-time connection magic.
func ReadMagic(r io.Reader) error {
	buf := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, buf); err != nil {
		return scerr.New(scerr.KindConnection, "", fmt.Errorf("read magic: %w", err))
	}
	if string(buf) != Magic {
		return scerr.New(scerr.KindConnection, "", fmt.Errorf("bad magic %q", buf))
	}
	return nil
}

// WriteMessage frames and gob-encodes v (a Request or Response) onto w as
// <u32 len LE><payload>.
func WriteMessage(w io.Writer, v any) error {
	var buf countingBuffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return scerr.New(scerr.KindConnection, "", err)
	}
	if len(buf.data) > MaxMessageSize {
		return scerr.New(scerr.KindConnection, "", fmt.Errorf("message size %d exceeds max %d", len(buf.data), MaxMessageSize))
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(buf.data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return scerr.New(scerr.KindConnection, "", err)
	}
	if _, err := w.Write(buf.data); err != nil {
		return scerr.New(scerr.KindConnection, "", err)
	}
	return nil
}

// ReadRequest reads one framed Request. A length prefix exceeding
// MaxMessageSize is a protocol error that should terminate the connection.
func ReadRequest(r *bufio.Reader) (Request, error) {
	var req Request
	err := readMessage(r, &req)
	return req, err
}

// ReadResponse reads one framed Response.
func ReadResponse(r *bufio.Reader) (Response, error) {
	var resp Response
	err := readMessage(r, &resp)
	return resp, err
}

func readMessage(r *bufio.Reader, v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return scerr.New(scerr.KindConnection, "", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > MaxMessageSize {
		return scerr.New(scerr.KindConnection, "", fmt.Errorf("message size %d exceeds max %d", n, MaxMessageSize))
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return scerr.New(scerr.KindConnection, "", err)
	}
	if err := gob.NewDecoder(byteSliceReader(payload)).Decode(v); err != nil {
		return scerr.New(scerr.KindConnection, "", err)
	}
	return nil
}

type countingBuffer struct{ data []byte }

func (b *countingBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func byteSliceReader(b []byte) io.Reader { return &sliceReader{data: b} }

type sliceReader struct {
	data []byte
	pos  int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
