// Package transport implements the framed connection abstraction that
// sits between a raw network connection and the session core: a uniform
// start/cancel/send surface over five endpoint kinds (tcp, tls, ws, wss,
// quic), two framing modes (stream vs message), and a connection-level
// error filter with debounce.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"syscall"
	"time"

	"github.com/quic-go/quic-go"
	"golang.org/x/net/websocket"

	"github.com/mqttgo/mqttcore/internal/buffer"
	"github.com/mqttgo/mqttcore/packet"
)

// Kind identifies one of the five supported endpoint kinds.
type Kind string

const (
	KindTCP  Kind = "tcp"
	KindTLS  Kind = "tls"
	KindWS   Kind = "ws"
	KindWSS  Kind = "wss"
	KindQUIC Kind = "quic"
)

// State is one of the transport's externally-visible state transitions.
// The session core only logs these; a failure reaches it through the
// Delegate.OnError call that follows StateFailed. Waiting is transient and
// may later surface as a connection-level error.
type State int

const (
	StatePreparing State = iota
	StateSetup
	StateReady
	StateWaiting
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePreparing:
		return "preparing"
	case StateSetup:
		return "setup"
	case StateReady:
		return "ready"
	case StateWaiting:
		return "waiting"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Delegate receives a transport's asynchronous events. Decode errors and
// connection-level send errors both arrive through OnError; OnState
// reports terminal and transient transitions; OnBytes reports raw bytes
// read off the wire before framing.
type Delegate interface {
	OnPacket(p packet.Packet)
	OnError(err error)
	OnState(s State)
	OnBytes(n int)
}

// Dialer builds a Transport for one endpoint. The scheme of the URL passed
// to Dial selects the Kind: tcp/mqtt, tls/mqtts, ws, wss, quic.
type Dialer struct {
	TLSConfig      *tls.Config
	ConnectTimeout time.Duration
	// QUICIdleTimeout, when > 0, overrides quic-go's idle timeout. The
	// session core sets it to 1.5 x keepAlive when pinging is enabled so
	// an idle-but-pinging connection outlives QUIC's own default.
	QUICIdleTimeout time.Duration
}

// Dial resolves rawURL's scheme to an endpoint Kind and opens the
// underlying connection. It does not start the read loop; call Start for
// that once a Delegate is ready to receive events.
func (d Dialer) Dial(ctx context.Context, rawURL string) (*Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse endpoint: %w", err)
	}
	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch Kind(u.Scheme) {
	case KindTCP, "mqtt":
		nc, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", u.Host)
		if err != nil {
			return nil, err
		}
		return newStreamTransport(KindTCP, nc), nil
	case KindTLS, "mqtts":
		nc, err := (&tls.Dialer{Config: d.TLSConfig}).DialContext(dialCtx, "tcp", u.Host)
		if err != nil {
			return nil, err
		}
		return newStreamTransport(KindTLS, nc), nil
	case KindWS, KindWSS:
		return dialWebsocket(u, d.TLSConfig)
	case KindQUIC:
		return dialQUIC(dialCtx, u.Host, d.TLSConfig, d.QUICIdleTimeout)
	default:
		return nil, fmt.Errorf("transport: unsupported scheme %q", u.Scheme)
	}
}

func dialWebsocket(u *url.URL, tlsConfig *tls.Config) (*Transport, error) {
	path := u.Path
	if path == "" {
		path = "/mqtt"
	}
	originScheme := "http"
	wireScheme := "ws"
	if Kind(u.Scheme) == KindWSS {
		originScheme = "https"
		wireScheme = "wss"
	}
	loc := &url.URL{Scheme: wireScheme, Host: u.Host, Path: path}
	origin := &url.URL{Scheme: originScheme, Host: u.Host}

	cfg, err := websocket.NewConfig(loc.String(), origin.String())
	if err != nil {
		return nil, err
	}
	cfg.Protocol = []string{"mqtt"}
	if Kind(u.Scheme) == KindWSS {
		cfg.TlsConfig = tlsConfig
	}
	ws, err := websocket.DialConfig(cfg)
	if err != nil {
		return nil, err
	}
	ws.PayloadType = websocket.BinaryFrame
	return newMessageTransport(Kind(u.Scheme), ws), nil
}

func dialQUIC(ctx context.Context, addr string, tlsConfig *tls.Config, idleTimeout time.Duration) (*Transport, error) {
	cfg := tlsConfig.Clone()
	if cfg == nil {
		cfg = &tls.Config{}
	}
	cfg.NextProtos = []string{"mqtt"}
	var quicCfg *quic.Config
	if idleTimeout > 0 {
		quicCfg = &quic.Config{MaxIdleTimeout: idleTimeout}
	}
	conn, err := quic.DialAddr(ctx, addr, cfg, quicCfg)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "stream open failed")
		return nil, err
	}
	return newStreamTransport(KindQUIC, quicStreamConn{stream: stream, conn: conn}), nil
}

// quicStreamConn adapts a quic.Stream plus its owning quic.Connection to
// io.ReadWriteCloser, the minimal surface the stream-mode reader needs.
type quicStreamConn struct {
	stream quic.Stream
	conn   quic.Connection
}

func (q quicStreamConn) Read(p []byte) (int, error)  { return q.stream.Read(p) }
func (q quicStreamConn) Write(p []byte) (int, error) { return q.stream.Write(p) }
func (q quicStreamConn) Close() error {
	q.stream.CancelRead(0)
	return q.conn.CloseWithError(0, "closed")
}

// Transport drives one framed connection: a stream-mode reader (tcp, tls,
// quic) runs the fixed header + varint length + body decode loop; a
// message-mode reader (ws, wss) treats each binary frame as one whole
// packet.
type Transport struct {
	kind     Kind
	stream   io.ReadWriteCloser // nil in message mode
	ws       *websocket.Conn    // nil in stream mode
	version  byte
	delegate Delegate

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	lastErrText string
	lastErrAt   time.Time
}

func newStreamTransport(kind Kind, c io.ReadWriteCloser) *Transport {
	return &Transport{kind: kind, stream: c}
}

func newMessageTransport(kind Kind, ws *websocket.Conn) *Transport {
	return &Transport{kind: kind, ws: ws}
}

// Kind reports which endpoint kind this transport was dialed as.
func (t *Transport) Kind() Kind { return t.kind }

// Start launches the read loop against delegate for the given protocol
// version. It must be called at most once.
func (t *Transport) Start(ctx context.Context, version byte, delegate Delegate) {
	t.version = version
	t.delegate = delegate
	ctx, t.cancel = context.WithCancel(ctx)
	delegate.OnState(StateSetup)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if t.ws != nil {
			t.readMessages(ctx)
		} else {
			t.readStream(ctx)
		}
	}()
	delegate.OnState(StateReady)
}

// Cancel stops the read loop and closes the underlying connection. Safe to
// call more than once.
func (t *Transport) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
	if t.stream != nil {
		_ = t.stream.Close()
	}
	if t.ws != nil {
		_ = t.ws.Close()
	}
	t.wg.Wait()
	if t.delegate != nil {
		t.delegate.OnState(StateCancelled)
	}
}

// Send writes an already-encoded packet frame. On failure, the error is
// reported to the delegate through the connection-level filter iff it
// looks like a connection-level condition; either way the error is also
// returned directly to the caller.
func (t *Transport) Send(frame []byte) error {
	var err error
	if t.ws != nil {
		err = websocket.Message.Send(t.ws, frame)
	} else {
		_, err = t.stream.Write(frame)
	}
	if err != nil && isConnectionLevel(err) {
		t.reportError(err)
	}
	return err
}

func (t *Transport) reportError(err error) {
	t.mu.Lock()
	text := err.Error()
	now := time.Now()
	dup := text == t.lastErrText && now.Sub(t.lastErrAt) < time.Second
	t.lastErrText = text
	t.lastErrAt = now
	t.mu.Unlock()
	if dup {
		return
	}
	if t.delegate != nil {
		t.delegate.OnState(StateFailed)
		t.delegate.OnError(err)
	}
}

func (t *Transport) readStream(ctx context.Context) {
	buf := buffer.New()
	chunk := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		for {
			p, err := packet.Decode(t.version, buf)
			if errors.Is(err, packet.ErrIncompletePacket) {
				break
			}
			if err != nil {
				t.reportError(err)
				return
			}
			t.delegate.OnPacket(p)
		}
		// Compact: drop already-consumed bytes so a long-lived connection
		// doesn't grow buf without bound.
		if buf.Pos() > 0 {
			remaining := append([]byte(nil), buf.Bytes()[buf.Pos():]...)
			buf = buffer.NewFrom(remaining)
		}
		n, err := t.stream.Read(chunk)
		if n > 0 {
			t.delegate.OnBytes(n)
			if _, werr := buf.Write(chunk[:n]); werr != nil {
				t.reportError(werr)
				return
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.reportError(err)
			return
		}
	}
}

func (t *Transport) readMessages(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		var raw []byte
		if err := websocket.Message.Receive(t.ws, &raw); err != nil {
			if ctx.Err() != nil {
				return
			}
			t.reportError(err)
			return
		}
		t.delegate.OnBytes(len(raw))
		buf := buffer.NewFrom(raw)
		p, err := packet.Decode(t.version, buf)
		if err != nil {
			t.reportError(err)
			return
		}
		t.delegate.OnPacket(p)
	}
}

// isConnectionLevel reports whether err indicates a connection-level
// condition: not connected, broken pipe, reset, timeout,
// network/host down or unreachable, refused or aborted.
func isConnectionLevel(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	for _, errno := range []syscall.Errno{
		syscall.EPIPE,
		syscall.ECONNRESET,
		syscall.ECONNREFUSED,
		syscall.ECONNABORTED,
		syscall.ENETUNREACH,
		syscall.ENETDOWN,
		syscall.EHOSTUNREACH,
		syscall.EHOSTDOWN,
		syscall.ENOTCONN,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
