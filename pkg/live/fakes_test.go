package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errConnClosed = errors.New("use of closed connection")

// fakeConn is an in-memory Conn. The test plays the server through push and
// serverClose.
type fakeConn struct {
	in      chan Message
	closeCh chan struct{}

	mu      sync.Mutex
	written [][]byte
	readErr error
	closed  bool
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan Message, 64), closeCh: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (Message, error) {
	select {
	case m := <-c.in:
		return m, nil
	case <-c.closeCh:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.readErr != nil {
			return Message{}, c.readErr
		}
		return Message{}, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	c.written = append(c.written, append([]byte(nil), m.Data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.once.Do(func() { close(c.closeCh) })
	return nil
}

func (c *fakeConn) push(frame string) {
	c.in <- Message{Data: []byte(frame)}
}

func (c *fakeConn) pushBinary(data []byte) {
	c.in <- Message{Binary: true, Data: data}
}

// serverClose simulates an abnormal close by the remote end.
func (c *fakeConn) serverClose(err error) {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
	c.once.Do(func() { close(c.closeCh) })
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

// frames decodes every written frame into its top-level keys.
func (c *fakeConn) frames(t *testing.T) []map[string]json.RawMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]json.RawMessage, 0, len(c.written))
	for _, w := range c.written {
		var m map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(w, &m))
		out = append(out, m)
	}
	return out
}

type fakeDialer struct {
	mu    sync.Mutex
	dials int
	err   error
	block bool
	urls  []string
	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.urls = append(d.urls, url)
	err, block := d.err, d.block
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	conn := newFakeConn()
	d.conns <- conn
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection dialed")
		return nil
	}
}

type fakePlayer struct {
	mu       sync.Mutex
	enqueued []AudioBuffer
	flushes  int
}

func (p *fakePlayer) Enqueue(buf AudioBuffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enqueued = append(p.enqueued, buf)
}

func (p *fakePlayer) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	p.enqueued = nil
}

func (p *fakePlayer) counts() (enqueued, flushes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.enqueued), p.flushes
}

type eventRecorder struct {
	mu            sync.Mutex
	states        []ConnectionState
	errs          []*LiveError
	reconnects    []ReconnectionAttempt
	transcripts   []TranscriptEntry
	captions      []string
	toolCalls     []ToolCall
	ready         int
	captureStarts int
	captureStops  int
}

func (r *eventRecorder) events() ProtocolEvents {
	return ProtocolEvents{
		OnStateChange: func(s ConnectionState) { r.record(func() { r.states = append(r.states, s) }) },
		OnReady:       func() { r.record(func() { r.ready++ }) },
		OnTranscript: func(e TranscriptEntry) {
			r.record(func() { r.transcripts = append(r.transcripts, e) })
		},
		OnCaption:  func(c string) { r.record(func() { r.captions = append(r.captions, c) }) },
		OnToolCall: func(tc ToolCall) { r.record(func() { r.toolCalls = append(r.toolCalls, tc) }) },
		OnError:    func(e *LiveError) { r.record(func() { r.errs = append(r.errs, e) }) },
		OnReconnecting: func(a ReconnectionAttempt) {
			r.record(func() { r.reconnects = append(r.reconnects, a) })
		},
		OnCaptureStart: func() { r.record(func() { r.captureStarts++ }) },
		OnCaptureStop:  func() { r.record(func() { r.captureStops++ }) },
	}
}

func (r *eventRecorder) record(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}

func (r *eventRecorder) errorCodes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	codes := make([]string, len(r.errs))
	for i, e := range r.errs {
		codes[i] = e.Code
	}
	return codes
}

func (r *eventRecorder) stateList() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectionState(nil), r.states...)
}

func (r *eventRecorder) reconnectList() []ReconnectionAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ReconnectionAttempt(nil), r.reconnects...)
}

func (r *eventRecorder) snapshot(fn func(r *eventRecorder)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

func testConfig() *ClientConfig {
	cfg := NewClientConfig()
	cfg.WsEndpoint = "ws://live.test/ws"
	cfg.Logger = NopLogger()
	cfg.CaptureStartDelay = 10 * time.Millisecond
	cfg.ReconnectBaseDelay = time.Millisecond
	cfg.ReconnectMaxDelay = 5 * time.Millisecond
	cfg.UserSpeechDebounce = 50 * time.Millisecond
	cfg.ChunkDuration = 10 * time.Millisecond
	return cfg
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 2*time.Millisecond, msg)
}
