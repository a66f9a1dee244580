package agent

import (
	"bufio"
	"fmt"
	"io"

	"github.com/parasync/parasync/internal/delta"
	"github.com/parasync/parasync/internal/scerr"
)

// Client drives the client side of the agent protocol over an arbitrary
// io.ReadWriter (a pipe to an ssh-launched process, or a net.Conn).
type Client struct {
	rw  io.ReadWriter
	br  *bufio.Reader
}

// Dial performs the magic handshake over rw and negotiates a protocol
// version, returning a ready Client.
func Dial(rw io.ReadWriter, features []string) (*Client, error) {
	if err := WriteMagic(rw); err != nil {
		return nil, err
	}
	c := &Client{rw: rw, br: bufio.NewReader(rw)}

	if err := WriteMessage(rw, Request{Kind: ReqHandshake, Version: ProtocolVersion, Features: features}); err != nil {
		return nil, err
	}
	resp, err := ReadResponse(c.br)
	if err != nil {
		return nil, err
	}
	switch resp.Kind {
	case RespHandshakeOk:
		if resp.Version != ProtocolVersion {
			return nil, scerr.New(scerr.KindConnection, "", fmt.Errorf("version mismatch: got %d, want %d", resp.Version, ProtocolVersion))
		}
		return c, nil
	case RespError:
		return nil, scerr.New(scerr.KindConnection, "", fmt.Errorf("%s: %s", resp.ErrCode, resp.ErrMessage))
	default:
		return nil, scerr.New(scerr.KindConnection, "", fmt.Errorf("unexpected response kind %v during handshake", resp.Kind))
	}
}

func (c *Client) roundTrip(req Request) (Response, error) {
	if err := WriteMessage(c.rw, req); err != nil {
		return Response{}, err
	}
	return ReadResponse(c.br)
}

// ReadChunk requests size bytes at offset from path.
func (c *Client) ReadChunk(path string, offset, size int64) ([]byte, error) {
	resp, err := c.roundTrip(Request{Kind: ReqReadChunk, Path: path, Offset: offset, Size: size})
	if err != nil {
		return nil, err
	}
	if resp.Kind == RespError {
		return nil, scerr.New(scerr.KindRemoteTransfer, path, fmt.Errorf("%s: %s", resp.ErrCode, resp.ErrMessage))
	}
	return resp.Bytes, nil
}

// WriteChunk writes data at offset into path, creating the file first if
// create is set.
func (c *Client) WriteChunk(path string, offset int64, data []byte, create bool) error {
	resp, err := c.roundTrip(Request{Kind: ReqWriteChunk, Path: path, Offset: offset, Bytes: data, Create: create})
	if err != nil {
		return err
	}
	return respErr(resp)
}

// CreateFile preallocates path to size on the remote side.
func (c *Client) CreateFile(path string, size int64) error {
	resp, err := c.roundTrip(Request{Kind: ReqCreateFile, Path: path, Size: size})
	if err != nil {
		return err
	}
	return respErr(resp)
}

// GetMetadata fetches size/mtime/mode/type for path.
func (c *Client) GetMetadata(path string) (Response, error) {
	resp, err := c.roundTrip(Request{Kind: ReqGetMetadata, Path: path})
	if err != nil {
		return Response{}, err
	}
	if resp.Kind == RespError {
		return Response{}, scerr.New(scerr.KindRemoteTransfer, path, fmt.Errorf("%s: %s", resp.ErrCode, resp.ErrMessage))
	}
	return resp, nil
}

// ListDirectory lists path, recursively if requested.
func (c *Client) ListDirectory(path string, recursive bool) ([]string, error) {
	resp, err := c.roundTrip(Request{Kind: ReqListDirectory, Path: path, Recursive: recursive})
	if err != nil {
		return nil, err
	}
	if resp.Kind == RespError {
		return nil, scerr.New(scerr.KindRemoteTransfer, path, fmt.Errorf("%s: %s", resp.ErrCode, resp.ErrMessage))
	}
	return resp.Entries, nil
}

// HashFile asks the remote side to hash path with algo, returning the hex
// digest.
func (c *Client) HashFile(path, algo string) (string, error) {
	resp, err := c.roundTrip(Request{Kind: ReqHashFile, Path: path, Algorithm: algo})
	if err != nil {
		return "", err
	}
	if resp.Kind == RespError {
		return "", scerr.New(scerr.KindRemoteTransfer, path, fmt.Errorf("%s: %s", resp.ErrCode, resp.ErrMessage))
	}
	return resp.Hash, nil
}

// SetAttributes applies mtime/mode to path when non-nil.
func (c *Client) SetAttributes(path string, mtime *int64, mode *uint32) error {
	resp, err := c.roundTrip(Request{Kind: ReqSetAttributes, Path: path, Mtime: mtime, Mode: mode})
	if err != nil {
		return err
	}
	return respErr(resp)
}

// CreateDirectory creates path, recursively if requested.
func (c *Client) CreateDirectory(path string, recursive bool) error {
	resp, err := c.roundTrip(Request{Kind: ReqCreateDirectory, Path: path, Recursive: recursive})
	if err != nil {
		return err
	}
	return respErr(resp)
}

// Remove deletes path, recursively if requested.
func (c *Client) Remove(path string, recursive bool) error {
	resp, err := c.roundTrip(Request{Kind: ReqRemove, Path: path, Recursive: recursive})
	if err != nil {
		return err
	}
	return respErr(resp)
}

// GetSignature requests the remote chunk signature of path, cut at
// chunkSize (internal/delta.DefaultChunkSize if zero). A path that does not
// exist remotely comes back as a zero-chunk, zero-size signature.
func (c *Client) GetSignature(path string, chunkSize int64) (delta.FileSignature, error) {
	resp, err := c.roundTrip(Request{Kind: ReqGetSignature, Path: path, Size: chunkSize})
	if err != nil {
		return delta.FileSignature{}, err
	}
	if resp.Kind == RespError {
		return delta.FileSignature{}, scerr.New(scerr.KindRemoteTransfer, path, fmt.Errorf("%s: %s", resp.ErrCode, resp.ErrMessage))
	}
	chunks := make([]delta.ChunkSignature, len(resp.Signature))
	for i, w := range resp.Signature {
		chunks[i] = delta.ChunkSignature{Index: w.Index, Offset: w.Offset, Size: w.Size, Weak: w.Weak, Strong: w.Strong}
	}
	return delta.FileSignature{ChunkSize: resp.ChunkSize, FileSize: resp.FileSize, Chunks: chunks}, nil
}

// ApplyDelta asks the remote side to reconstruct destPath from ops applied
// against the content currently at path (the same file GetSignature read).
func (c *Client) ApplyDelta(path, destPath string, ops []delta.DeltaOp) error {
	wire := make([]DeltaOpWire, len(ops))
	for i, op := range ops {
		wire[i] = DeltaOpWire{
			Literal:      op.Kind == delta.OpLiteral,
			DestOffset:   op.DestOffset,
			Length:       op.Length,
			SourceOffset: op.SourceOffset,
			Data:         op.Data,
		}
	}
	resp, err := c.roundTrip(Request{Kind: ReqApplyDelta, Path: path, DestPath: destPath, Ops: wire})
	if err != nil {
		return err
	}
	return respErr(resp)
}

// WriteBatch pushes a pre-built TAR (or TAR+LZ4) archive and asks the
// remote side to extract it under destDir, returning the file count
// reported back.
func (c *Client) WriteBatch(destDir string, format int, archive []byte) (int, error) {
	resp, err := c.roundTrip(Request{Kind: ReqWriteBatch, Path: destDir, BatchFormat: format, Bytes: archive})
	if err != nil {
		return 0, err
	}
	if err := respErr(resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Ping checks liveness; returns nil iff the server answered Pong.
func (c *Client) Ping() error {
	resp, err := c.roundTrip(Request{Kind: ReqPing})
	if err != nil {
		return err
	}
	if resp.Kind != RespPong {
		return scerr.New(scerr.KindConnection, "", fmt.Errorf("expected Pong, got %v", resp.Kind))
	}
	return nil
}

// Shutdown requests a graceful server shutdown and waits for ShutdownAck.
func (c *Client) Shutdown() error {
	resp, err := c.roundTrip(Request{Kind: ReqShutdown})
	if err != nil {
		return err
	}
	if resp.Kind != RespShutdownAck {
		return scerr.New(scerr.KindConnection, "", fmt.Errorf("expected ShutdownAck, got %v", resp.Kind))
	}
	return nil
}

// Close closes the underlying transport if it supports io.Closer,
// satisfying internal/pool.Client so a *Client can be lent out through a
// connection pool.
func (c *Client) Close() error {
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func respErr(resp Response) error {
	if resp.Kind == RespError {
		return scerr.New(scerr.KindRemoteTransfer, "", fmt.Errorf("%s: %s", resp.ErrCode, resp.ErrMessage))
	}
	return nil
}
