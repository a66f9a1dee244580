package quictransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/quic-go/quic-go"

	"github.com/parasync/parasync/internal/scerr"
)

// ServerConfig configures a Server's transport limits.
type ServerConfig struct {
	Addr            string
	Cert            *CertificateManager
	MaxStreams      int64
	StreamWindow    uint64
	KeepAlive       bool
	AllowDirListing bool
}

// DefaultServerConfig returns the baseline transport tuning floor: a fixed
// count of bidi/uni streams, a receive window per stream (4x that for the
// connection), and a 10s keep-alive.
func DefaultServerConfig(addr string, cert *CertificateManager) ServerConfig {
	return ServerConfig{
		Addr:         addr,
		Cert:         cert,
		MaxStreams:   MaxConcurrentStreams,
		StreamWindow: StreamBufferSize,
		KeepAlive:    true,
	}
}

func (c ServerConfig) quicConfig() *quic.Config {
	cfg := &quic.Config{
		MaxIncomingStreams:         c.MaxStreams,
		MaxIncomingUniStreams:      c.MaxStreams,
		MaxStreamReceiveWindow:     c.StreamWindow,
		MaxConnectionReceiveWindow: c.StreamWindow * 4,
	}
	if c.KeepAlive {
		cfg.KeepAlivePeriod = KeepAlivePeriod
	}
	return cfg
}

func (c ServerConfig) tlsConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.Cert.TLSCertificate()},
		NextProtos:   []string{ALPNProtocol},
	}
}

// Server accepts QUIC connections and serves file/metadata requests
// against a root directory, one bidi stream per request.
type Server struct {
	cfg      ServerConfig
	root     string
	listener *quic.Listener

	streamsOpened atomic.Int64
}

// NewServer binds a QUIC listener on cfg.Addr, serving files rooted at
// root.
func NewServer(cfg ServerConfig, root string) (*Server, error) {
	listener, err := quic.ListenAddr(cfg.Addr, cfg.tlsConfig(), cfg.quicConfig())
	if err != nil {
		return nil, scerr.Connection(cfg.Addr, err)
	}
	return &Server{cfg: cfg, root: root, listener: listener}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Close stops accepting new connections.
func (s *Server) Close() error { return s.listener.Close() }

// Serve accepts connections until ctx is cancelled or the listener
// closes, handling each on its own goroutine.
func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return scerr.Connection(s.cfg.Addr, err)
		}
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn *quic.Conn) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		s.streamsOpened.Add(1)
		go s.handleStream(stream)
	}
}

func (s *Server) handleStream(stream *quic.Stream) {
	defer stream.Close()

	req, err := ReadMessage(stream)
	if err != nil {
		return
	}

	switch req.Kind {
	case MsgFileRequest:
		s.handleFileRequest(stream, req)
	case MsgMetadataRequest:
		s.handleMetadataRequest(stream, req)
	case MsgListRequest:
		_ = WriteMessage(stream, Message{Kind: MsgError, Code: 3, Message: "directory listing not supported over quictransport"})
	case MsgPing:
		_ = WriteMessage(stream, Message{Kind: MsgPong, Timestamp: req.Timestamp})
	default:
		_ = WriteMessage(stream, Message{Kind: MsgError, Code: 1, Message: "unsupported request"})
	}
}

func (s *Server) handleFileRequest(stream *quic.Stream, req Message) {
	path := s.resolve(req.Path)
	f, err := os.Open(path)
	if err != nil {
		_ = WriteMessage(stream, Message{Kind: MsgError, Code: 2, Message: err.Error()})
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		_ = WriteMessage(stream, Message{Kind: MsgError, Code: 2, Message: err.Error()})
		return
	}

	if _, err := f.Seek(req.Offset, io.SeekStart); err != nil {
		_ = WriteMessage(stream, Message{Kind: MsgError, Code: 2, Message: err.Error()})
		return
	}

	remaining := info.Size() - req.Offset
	if remaining < 0 {
		remaining = 0
	}
	toRead := remaining
	if req.Length != nil && *req.Length < toRead {
		toRead = *req.Length
	}

	buf := make([]byte, 1<<20) // 1 MiB chunks
	var sent int64
	for sent < toRead {
		want := int64(len(buf))
		if toRead-sent < want {
			want = toRead - sent
		}
		n, err := f.Read(buf[:want])
		if n > 0 {
			isLast := sent+int64(n) >= toRead
			if werr := WriteMessage(stream, Message{Kind: MsgFileData, Offset: req.Offset + sent, Data: append([]byte(nil), buf[:n]...), IsLast: isLast}); werr != nil {
				return
			}
			sent += int64(n)
		}
		if err != nil {
			break
		}
	}

	_ = WriteMessage(stream, Message{Kind: MsgTransferComplete, BytesTransferred: sent})
}

func (s *Server) handleMetadataRequest(stream *quic.Stream, req Message) {
	path := s.resolve(req.Path)
	info, err := os.Stat(path)
	if err != nil {
		_ = WriteMessage(stream, Message{Kind: MsgMetadataResponse})
		return
	}
	_ = WriteMessage(stream, Message{
		Kind:   MsgMetadataResponse,
		Exists: true,
		Size:   info.Size(),
		Mtime:  info.ModTime().Unix(),
		IsDir:  info.IsDir(),
	})
}

func (s *Server) resolve(path string) string {
	if s.root == "" {
		return path
	}
	return s.root + string(os.PathSeparator) + path
}

// StreamsOpened reports how many request streams this server has
// accepted so far.
func (s *Server) StreamsOpened() int64 { return s.streamsOpened.Load() }

// Run is a convenience wrapper reporting the listen address to stderr via
// fmt.Fprintf rather than a logging package.
func (s *Server) Run(ctx context.Context) error {
	fmt.Fprintf(os.Stderr, "quic server listening on %s\n", s.Addr())
	return s.Serve(ctx)
}
