package siegenia

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport defaults.
const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second

	// maxFrameSize bounds a single inbound frame.
	maxFrameSize = 1 << 20

	// sendQueueSize bounds frames waiting for the writer goroutine.
	sendQueueSize = 64
)

// TransportEventKind identifies a transport lifecycle event.
type TransportEventKind int

const (
	TransportOpened TransportEventKind = iota + 1
	TransportClosed
	TransportError
	TransportReceived
)

func (k TransportEventKind) String() string {
	switch k {
	case TransportOpened:
		return "opened"
	case TransportClosed:
		return "closed"
	case TransportError:
		return "error"
	case TransportReceived:
		return "received"
	default:
		return "unknown"
	}
}

// TransportEvent is delivered to the single sink registered in Open.
type TransportEvent struct {
	Kind    TransportEventKind
	Code    int    // TransportClosed
	Reason  string // TransportClosed
	Err     error  // TransportError
	Payload []byte // TransportReceived
}

// Transport is a bidirectional message channel to the device.
//
// Events for one Open are delivered in order to sink. Every successful or
// failed Open ends with exactly one TransportClosed event unless the
// transport was closed locally.
type Transport interface {
	Open(ctx context.Context, rawURL string, sink func(TransportEvent)) error
	Send(payload []byte) error
	Close() error
}

// Ensure WSTransport implements Transport.
var _ Transport = (*WSTransport)(nil)

// WSTransport is a Transport over a gorilla/websocket client connection.
//
// The device presents a self-signed certificate, so TLS verification is
// always disabled. One instance owns at most one socket over its lifetime.
//
// Thread Safety:
//   - Send and Close are safe for concurrent use.
//   - Send only queues the frame; a writer goroutine owns socket writes.
//   - The sink is called from the dialling goroutine and then the read goroutine.
type WSTransport struct {
	dialer       *websocket.Dialer
	writeTimeout time.Duration

	mu      sync.Mutex
	sock    *wsSocket
	dialing bool
	closed  bool
}

// wsSocket is one open connection and its write queue.
type wsSocket struct {
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	stopOnce sync.Once

	errMu    sync.Mutex
	writeErr error
}

func newWSSocket(conn *websocket.Conn) *wsSocket {
	return &wsSocket{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (s *wsSocket) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *wsSocket) setWriteErr(err error) {
	s.errMu.Lock()
	if s.writeErr == nil {
		s.writeErr = err
	}
	s.errMu.Unlock()
}

func (s *wsSocket) lastWriteErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.writeErr
}

// NewWSTransport returns a transport ready to Open.
func NewWSTransport() *WSTransport {
	return &WSTransport{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, //nolint:gosec // device certificates are self-signed
			},
		},
		writeTimeout: defaultWriteTimeout,
	}
}

// Open dials rawURL and starts the read goroutine.
//
// A dial failure is reported both as the return value and as a
// TransportError followed by TransportClosed (1006) on the sink.
func (t *WSTransport) Open(ctx context.Context, rawURL string, sink func(TransportEvent)) error {
	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return ErrTransportClosed
	case t.sock != nil || t.dialing:
		t.mu.Unlock()
		return ErrTransportBusy
	}
	t.dialing = true
	t.mu.Unlock()

	header := http.Header{}
	if origin, err := originOf(rawURL); err == nil {
		header.Set("Origin", origin)
	}

	conn, resp, err := t.dialer.DialContext(ctx, rawURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	t.mu.Lock()
	t.dialing = false
	if err != nil {
		closed := t.closed
		t.mu.Unlock()
		err = fmt.Errorf("dial %s: %w", rawURL, err)
		if !closed {
			sink(TransportEvent{Kind: TransportError, Err: err})
			sink(TransportEvent{Kind: TransportClosed, Code: websocket.CloseAbnormalClosure, Reason: err.Error()})
		}
		return err
	}
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return ErrTransportClosed
	}
	conn.SetReadLimit(maxFrameSize)
	sock := newWSSocket(conn)
	t.sock = sock
	t.mu.Unlock()

	sink(TransportEvent{Kind: TransportOpened})

	go t.writeLoop(sock)
	go t.readLoop(sock, sink)
	return nil
}

// readLoop forwards frames until the socket fails or is closed.
func (t *WSTransport) readLoop(sock *wsSocket, sink func(TransportEvent)) {
	defer sock.stop()
	for {
		_, data, err := sock.conn.ReadMessage()
		if err != nil {
			if t.isClosed() {
				return
			}
			t.mu.Lock()
			if t.sock == sock {
				t.sock = nil
			}
			t.mu.Unlock()

			code, reason := closeDetails(err)
			var closeErr *websocket.CloseError
			switch {
			case sock.lastWriteErr() != nil:
				sink(TransportEvent{Kind: TransportError, Err: sock.lastWriteErr()})
			case !errors.As(err, &closeErr):
				sink(TransportEvent{Kind: TransportError, Err: fmt.Errorf("read: %w", err)})
			}
			sock.conn.Close()
			sink(TransportEvent{Kind: TransportClosed, Code: code, Reason: reason})
			return
		}
		sink(TransportEvent{Kind: TransportReceived, Payload: data})
	}
}

// writeLoop drains the send queue. A failed write closes the socket, which
// ends readLoop and reports the failure there.
func (t *WSTransport) writeLoop(sock *wsSocket) {
	for {
		select {
		case <-sock.done:
			return
		case payload := <-sock.send:
			if err := sock.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
				sock.setWriteErr(fmt.Errorf("set write deadline: %w", err))
				sock.conn.Close()
				return
			}
			if err := sock.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				sock.setWriteErr(fmt.Errorf("write: %w", err))
				sock.conn.Close()
				return
			}
		}
	}
}

// Send queues one text frame for the writer goroutine. It never waits on
// the network.
func (t *WSTransport) Send(payload []byte) error {
	t.mu.Lock()
	sock := t.sock
	t.mu.Unlock()
	if sock == nil {
		return ErrNotConnected
	}

	select {
	case <-sock.done:
		return ErrNotConnected
	default:
	}
	select {
	case sock.send <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close sends a normal close frame (best effort) and tears down the socket.
// It does not wait for the read goroutine. Safe to call multiple times.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	sock := t.sock
	t.sock = nil
	t.mu.Unlock()

	if sock == nil {
		return nil
	}
	sock.stop()

	// WriteControl may run concurrently with the writer goroutine.
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = sock.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

	return sock.conn.Close()
}

func (t *WSTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// closeDetails extracts the close code and reason from a read error.
func closeDetails(err error) (int, string) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code, closeErr.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}

// originOf returns scheme://host:port for a device URL.
func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no scheme or host", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}
