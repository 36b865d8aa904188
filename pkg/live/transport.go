package live

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	closeWriteTimeout = time.Second
	maxMessageSize    = 16 << 20
)

// Message is one websocket data frame.
type Message struct {
	Binary bool
	Data   []byte
}

// Conn is an open duplex connection. WriteMessage is called from a single
// goroutine; ReadMessage from another.
type Conn interface {
	ReadMessage() (Message, error)
	WriteMessage(Message) error
	Close() error
}

// Dialer opens a Conn. Implementations must honor ctx cancellation.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebSocketDialer dials with gorilla/websocket.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
}

// NewWebSocketDialer returns a dialer with the proxy settings of the default dialer.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{Dialer: &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
	}}
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, NewAuthError(err).AddDetail("status_code", resp.StatusCode)
			}
		}
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) ReadMessage() (Message, error) {
	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		return Message{}, err
	}
	return Message{Binary: mt == websocket.BinaryMessage, Data: data}, nil
}

func (c *wsConn) WriteMessage(m Message) error {
	mt := websocket.TextMessage
	if m.Binary {
		mt = websocket.BinaryMessage
	}
	return c.conn.WriteMessage(mt, m.Data)
}

// Close sends a normal-closure control frame and closes the socket. Safe to call twice.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client stop")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// isNormalClose reports whether err is a clean close initiated by either side.
func isNormalClose(err error) bool {
	if err == nil {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// link owns one open Conn: a reader goroutine feeding onMessage and a writer
// goroutine draining a bounded outbound queue.
type link struct {
	conn Conn
	gen  uint64
	log  *Logger

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newLink(conn Conn, gen uint64, queueSize int, logger *Logger) *link {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &link{
		conn: conn,
		gen:  gen,
		log:  logger,
		out:  make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
}

// start launches the reader and writer. onClosed is called exactly once,
// with the read error, when the reader stops.
func (l *link) start(onMessage func(Message), onClosed func(error)) {
	go l.writeLoop()
	go func() {
		for {
			msg, err := l.conn.ReadMessage()
			if err != nil {
				l.shutdown()
				onClosed(err)
				return
			}
			onMessage(msg)
		}
	}()
}

func (l *link) writeLoop() {
	for {
		select {
		case <-l.done:
			return
		case data := <-l.out:
			if err := l.conn.WriteMessage(Message{Data: data}); err != nil {
				l.log.WithError(err).Warn("Write failed, closing connection")
				_ = l.conn.Close()
				return
			}
		}
	}
}

// send queues data without blocking. It reports false when the queue is full
// or the link is closed.
func (l *link) send(data []byte) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.out <- data:
		return true
	default:
		return false
	}
}

func (l *link) shutdown() {
	l.closeOnce.Do(func() { close(l.done) })
}

// close stops the writer and closes the connection.
func (l *link) close() error {
	l.shutdown()
	return l.conn.Close()
}
