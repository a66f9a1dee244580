package agent

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/parasync/parasync/internal/batch"
	"github.com/parasync/parasync/internal/delta"
	"github.com/parasync/parasync/internal/hashing"
)

// Server handles one agent connection, dispatching each Request against
// the local filesystem rooted wherever the caller's paths point (the
// protocol itself carries no chroot; that policy belongs to the caller
// launching the agent).
type Server struct{}

// NewServer returns a Server ready to handle connections.
func NewServer() *Server { return &Server{} }

// HandleConnection runs the Await-magic → Await-handshake → Ready →
// Request-handling → (Shutdown) → Closed state machine over rw until the
// client disconnects or sends Shutdown.
func (s *Server) HandleConnection(rw io.ReadWriter) error {
	if err := ReadMagic(rw); err != nil {
		return err
	}

	br := bufio.NewReader(rw)

	req, err := ReadRequest(br)
	if err != nil {
		return err
	}
	if req.Kind != ReqHandshake {
		return WriteMessage(rw, ErrorResponse("protocol", "expected handshake"))
	}
	if req.Version != ProtocolVersion {
		_ = WriteMessage(rw, ErrorResponse("version_mismatch", "unsupported protocol version"))
		return nil
	}
	if err := WriteMessage(rw, Response{Kind: RespHandshakeOk, Version: ProtocolVersion, Features: req.Features}); err != nil {
		return err
	}

	for {
		req, err := ReadRequest(br)
		if err != nil {
			return err
		}
		resp := s.dispatch(req)
		if err := WriteMessage(rw, resp); err != nil {
			return err
		}
		if req.Kind == ReqShutdown {
			return nil
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	switch req.Kind {
	case ReqPing:
		return Response{Kind: RespPong}
	case ReqShutdown:
		return Response{Kind: RespShutdownAck}
	case ReqGetMetadata:
		return s.getMetadata(req.Path)
	case ReqListDirectory:
		return s.listDirectory(req.Path, req.Recursive)
	case ReqReadChunk:
		return s.readChunk(req.Path, req.Offset, req.Size)
	case ReqWriteChunk:
		return s.writeChunk(req.Path, req.Offset, req.Bytes, req.Create)
	case ReqCreateFile:
		return s.createFile(req.Path, req.Size)
	case ReqHashFile:
		return s.hashFile(req.Path, req.Algorithm)
	case ReqSetAttributes:
		return s.setAttributes(req.Path, req.Mtime, req.Mode)
	case ReqCreateDirectory:
		return s.createDirectory(req.Path, req.Recursive)
	case ReqRemove:
		return s.remove(req.Path, req.Recursive)
	case ReqGetSignature:
		return s.getSignature(req.Path, req.Size)
	case ReqApplyDelta:
		return s.applyDelta(req.Path, req.DestPath, req.Ops)
	case ReqWriteBatch:
		return s.writeBatch(req.Path, req.BatchFormat, req.Bytes)
	default:
		return ErrorResponse("unknown_request", "unrecognized request kind")
	}
}

func (s *Server) getMetadata(path string) Response {
	info, err := os.Lstat(path)
	if err != nil {
		return ErrorResponse("not_found", err.Error())
	}
	resp := Response{
		Kind:    RespMetadata,
		Size:    info.Size(),
		ModTime: info.ModTime().Unix(),
		Mode:    uint32(info.Mode().Perm()),
		IsDir:   info.IsDir(),
	}
	if info.Mode()&os.ModeSymlink != 0 {
		resp.IsSymlink = true
	}
	return resp
}

func (s *Server) listDirectory(path string, recursive bool) Response {
	var entries []string
	if recursive {
		err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if p != path {
				rel, rerr := filepath.Rel(path, p)
				if rerr != nil {
					rel = p
				}
				entries = append(entries, rel)
			}
			return nil
		})
		if err != nil {
			return ErrorResponse("io", err.Error())
		}
	} else {
		des, err := os.ReadDir(path)
		if err != nil {
			return ErrorResponse("io", err.Error())
		}
		for _, d := range des {
			entries = append(entries, d.Name())
		}
	}
	return Response{Kind: RespDirectoryListing, Entries: entries}
}

func (s *Server) readChunk(path string, offset, size int64) Response {
	f, err := os.Open(path)
	if err != nil {
		return ErrorResponse("not_found", err.Error())
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, size)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return ErrorResponse("io", err.Error())
	}
	return Response{Kind: RespChunk, Bytes: buf[:n]}
}

func (s *Server) writeChunk(path string, offset int64, data []byte, create bool) Response {
	flags := os.O_WRONLY
	if create {
		flags |= os.O_CREATE
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return ErrorResponse("io", err.Error())
		}
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return ErrorResponse("io", err.Error())
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteAt(data, offset); err != nil {
		return ErrorResponse("io", err.Error())
	}
	return Response{Kind: RespOK}
}

func (s *Server) createFile(path string, size int64) Response {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ErrorResponse("io", err.Error())
	}
	f, err := os.Create(path)
	if err != nil {
		return ErrorResponse("io", err.Error())
	}
	defer func() { _ = f.Close() }()
	if size > 0 {
		if err := f.Truncate(size); err != nil {
			return ErrorResponse("io", err.Error())
		}
	}
	return Response{Kind: RespOK}
}

func (s *Server) hashFile(path, algo string) Response {
	a := hashing.Algorithm(algo)
	if a == "" {
		a = hashing.DefaultAlgorithm
	}
	result, err := hashing.HashFile(path, a)
	if err != nil {
		return ErrorResponse("io", err.Error())
	}
	return Response{Kind: RespHash, Hash: result.Hash}
}

func (s *Server) setAttributes(path string, mtime *int64, mode *uint32) Response {
	if mode != nil {
		if err := os.Chmod(path, os.FileMode(*mode)); err != nil {
			return ErrorResponse("io", err.Error())
		}
	}
	if mtime != nil {
		t := time.Unix(*mtime, 0)
		if err := os.Chtimes(path, t, t); err != nil {
			return ErrorResponse("io", err.Error())
		}
	}
	return Response{Kind: RespOK}
}

func (s *Server) createDirectory(path string, recursive bool) Response {
	var err error
	if recursive {
		err = os.MkdirAll(path, 0o755)
	} else {
		err = os.Mkdir(path, 0o755)
	}
	if err != nil {
		return ErrorResponse("io", err.Error())
	}
	return Response{Kind: RespOK}
}

// getSignature reads the existing file at path and returns its rolling
// chunk signature, chunkSize-cut (or delta.DefaultChunkSize if chunkSize is
// zero). A missing file returns an empty, zero-size signature: the caller
// then has nothing to match against and every byte becomes a literal,
// which is exactly the behaviour a brand-new destination file should get.
func (s *Server) getSignature(path string, chunkSize int64) Response {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Response{Kind: RespSignature, ChunkSize: chunkSize}
		}
		return ErrorResponse("io", err.Error())
	}
	sig := delta.Sign(data, chunkSize)
	wire := make([]ChunkSignatureWire, len(sig.Chunks))
	for i, c := range sig.Chunks {
		wire[i] = ChunkSignatureWire{Index: c.Index, Offset: c.Offset, Size: c.Size, Weak: c.Weak, Strong: c.Strong}
	}
	return Response{Kind: RespSignature, Signature: wire, FileSize: sig.FileSize, ChunkSize: sig.ChunkSize}
}

// applyDelta reconstructs destPath's new content from ops against the
// bytes currently at path (the same file the signature handed out by
// getSignature was computed over) and writes the result through a
// same-directory temp file plus rename, the atomic-replace idiom used by
// internal/hashing's cache file.
func (s *Server) applyDelta(path, destPath string, ops []DeltaOpWire) Response {
	src, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return ErrorResponse("io", err.Error())
	}
	converted := make([]delta.DeltaOp, len(ops))
	var destSize int64
	for i, o := range ops {
		kind := delta.OpCopy
		if o.Literal {
			kind = delta.OpLiteral
		}
		converted[i] = delta.DeltaOp{
			Kind:         kind,
			DestOffset:   o.DestOffset,
			Length:       o.Length,
			SourceOffset: o.SourceOffset,
			Data:         o.Data,
		}
		if end := o.DestOffset + o.Length; end > destSize {
			destSize = end
		}
	}
	out := delta.Apply(converted, src, destSize)

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return ErrorResponse("io", err.Error())
	}
	tmp := destPath + ".delta-new"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return ErrorResponse("io", err.Error())
	}
	if err := os.Rename(tmp, destPath); err != nil {
		return ErrorResponse("io", err.Error())
	}
	return Response{Kind: RespOK}
}

// writeBatch extracts a TAR (optionally LZ4-framed) archive of small files
// into destDir, amortising per-file round trips the way internal/batch
// groups them client-side.
func (s *Server) writeBatch(destDir string, format int, data []byte) Response {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return ErrorResponse("io", err.Error())
	}
	ex := batch.Extractor{Format: batch.Format(format)}
	n, err := ex.Extract(bytes.NewReader(data), destDir)
	if err != nil {
		return ErrorResponse("io", err.Error())
	}
	return Response{Kind: RespOK, Count: n}
}

func (s *Server) remove(path string, recursive bool) Response {
	var err error
	if recursive {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		return ErrorResponse("io", err.Error())
	}
	return Response{Kind: RespOK}
}
