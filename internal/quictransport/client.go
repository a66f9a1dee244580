package quictransport

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/parasync/parasync/internal/scerr"
)

// ClientConfig configures a Client's dial behavior.
type ClientConfig struct {
	ServerName         string
	InsecureSkipVerify bool // accept self-signed certs, for trusted-network use only
	MaxStreams         int64
	StreamWindow       uint64
	KeepAlive          bool
}

// DefaultClientConfig mirrors DefaultServerConfig's transport floor.
func DefaultClientConfig(serverName string) ClientConfig {
	return ClientConfig{
		ServerName:         serverName,
		InsecureSkipVerify: true,
		MaxStreams:         MaxConcurrentStreams,
		StreamWindow:       StreamBufferSize,
		KeepAlive:          true,
	}
}

func (c ClientConfig) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify,
		NextProtos:         []string{ALPNProtocol},
	}
}

func (c ClientConfig) quicConfig() *quic.Config {
	cfg := &quic.Config{
		MaxIncomingStreams:         c.MaxStreams,
		MaxStreamReceiveWindow:     c.StreamWindow,
		MaxConnectionReceiveWindow: c.StreamWindow * 4,
	}
	if c.KeepAlive {
		cfg.KeepAlivePeriod = KeepAlivePeriod
	}
	return cfg
}

// Client dials one QUIC connection and issues requests over it, one bidi
// stream per request.
type Client struct {
	cfg  ClientConfig
	conn *quic.Conn
}

// NewClient dials addr with cfg, completing the QUIC+TLS handshake before
// returning.
func NewClient(ctx context.Context, addr string, cfg ClientConfig) (*Client, error) {
	conn, err := quic.DialAddr(ctx, addr, cfg.tlsConfig(), cfg.quicConfig())
	if err != nil {
		return nil, scerr.Connection(addr, err)
	}
	return &Client{cfg: cfg, conn: conn}, nil
}

// Close tears down the QUIC connection.
func (c *Client) Close() error {
	return c.conn.CloseWithError(0, "done")
}

func (c *Client) roundTrip(ctx context.Context, req Message) (*quic.Stream, error) {
	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, scerr.Connection(c.conn.RemoteAddr().String(), err)
	}
	if err := WriteMessage(stream, req); err != nil {
		return nil, err
	}
	if err := stream.Close(); err != nil { // half-close: done sending
		return nil, scerr.New(scerr.KindConnection, "", err)
	}
	return stream, nil
}

// RequestFile fetches length bytes (or the rest of the file, when length
// is nil) starting at offset.
func (c *Client) RequestFile(ctx context.Context, path string, offset int64, length *int64) ([]byte, error) {
	stream, err := c.roundTrip(ctx, Message{Kind: MsgFileRequest, Path: path, Offset: offset, Length: length})
	if err != nil {
		return nil, err
	}

	var data []byte
	for {
		msg, err := ReadMessage(stream)
		if err != nil {
			return nil, err
		}
		switch msg.Kind {
		case MsgFileData:
			data = append(data, msg.Data...)
			if msg.IsLast {
				return data, nil
			}
		case MsgTransferComplete:
			return data, nil
		case MsgError:
			return nil, scerr.New(scerr.KindRemoteTransfer, path, fmtError(msg))
		default:
			return nil, scerr.New(scerr.KindRemoteTransfer, path, fmtUnexpected(msg))
		}
	}
}

// Metadata fetches (exists, size, mtime, isDir) for path.
func (c *Client) Metadata(ctx context.Context, path string) (exists bool, size, mtime int64, isDir bool, err error) {
	stream, err := c.roundTrip(ctx, Message{Kind: MsgMetadataRequest, Path: path})
	if err != nil {
		return false, 0, 0, false, err
	}
	msg, err := ReadMessage(stream)
	if err != nil {
		return false, 0, 0, false, err
	}
	switch msg.Kind {
	case MsgMetadataResponse:
		return msg.Exists, msg.Size, msg.Mtime, msg.IsDir, nil
	case MsgError:
		return false, 0, 0, false, scerr.New(scerr.KindRemoteTransfer, path, fmtError(msg))
	default:
		return false, 0, 0, false, scerr.New(scerr.KindRemoteTransfer, path, fmtUnexpected(msg))
	}
}

// Ping round-trips a PING/PONG and reports the observed RTT.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	sent := time.Now()
	stream, err := c.roundTrip(ctx, Message{Kind: MsgPing, Timestamp: sent.UnixMilli()})
	if err != nil {
		return 0, err
	}
	msg, err := ReadMessage(stream)
	if err != nil {
		return 0, err
	}
	if msg.Kind != MsgPong {
		return 0, scerr.New(scerr.KindRemoteTransfer, "", fmtUnexpected(msg))
	}
	return time.Since(sent), nil
}

func fmtError(msg Message) error {
	return &quicRemoteError{code: msg.Code, message: msg.Message}
}

func fmtUnexpected(msg Message) error {
	return &quicRemoteError{code: -1, message: "unexpected response kind"}
}

type quicRemoteError struct {
	code    int
	message string
}

func (e *quicRemoteError) Error() string { return e.message }
