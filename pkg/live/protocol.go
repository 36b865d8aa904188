package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

var errNotConnected = errors.New("session is not connected")

// Player is the playback side of the protocol. *PlaybackQueue implements it.
type Player interface {
	Enqueue(buf AudioBuffer)
	Flush()
}

// ProtocolEvents are invoked on the protocol's event loop, one at a time and
// in order. They must not block or call back into the protocol synchronously.
type ProtocolEvents struct {
	OnStateChange  StateHandler
	OnReady        ReadyHandler
	OnTranscript   TranscriptHandler
	OnCaption      CaptionHandler
	OnToolCall     ToolCallHandler
	OnError        ErrorHandler
	OnReconnecting ReconnectHandler

	// OnCaptureStart fires once per connection, CaptureStartDelay after setup
	// was queued. OnCaptureStop fires when that connection goes away.
	OnCaptureStart func()
	OnCaptureStop  func()
}

// SessionProtocol is the connection state machine. Transport events, timers
// and commands all run on a single event loop; results from superseded
// connection attempts are recognized by generation and discarded.
type SessionProtocol struct {
	cfg        *ClientConfig
	creds      CredentialProvider
	dialer     Dialer
	player     Player
	events     ProtocolEvents
	log        *Logger
	metrics    *Metrics
	backoff    Backoff
	loop       *eventLoop
	transcript *TranscriptBuffer

	stateMu sync.RWMutex
	state   ConnectionState
	closed  bool

	// Owned by the loop goroutine.
	session       SessionConfig
	active        bool
	gen           uint64
	link          *link
	attempts      int
	everConnected bool
	capturing     bool
	retryTimer    *time.Timer
	captureTimer  *time.Timer
	cancelConnect context.CancelFunc
}

// NewSessionProtocol wires a protocol. A nil player discards audio; a nil
// dialer uses gorilla/websocket.
func NewSessionProtocol(cfg *ClientConfig, creds CredentialProvider, dialer Dialer, player Player, events ProtocolEvents, metrics *Metrics) *SessionProtocol {
	if dialer == nil {
		dialer = NewWebSocketDialer()
	}
	if player == nil {
		player = NewPlaybackQueue(nil, PlaybackListener{}, cfg.logger(), metrics)
	}
	log := cfg.logger().WithComponent("protocol")

	p := &SessionProtocol{
		cfg:     cfg,
		creds:   creds,
		dialer:  dialer,
		player:  player,
		events:  events,
		log:     log,
		metrics: metrics,
		backoff: cfg.Backoff(),
		state:   Idle,
	}
	p.loop = newEventLoop("protocol", log)
	p.transcript = NewTranscriptBuffer(cfg.UserSpeechDebounce, events.OnTranscript, events.OnCaption)
	return p
}

// State returns the current connection state.
func (p *SessionProtocol) State() ConnectionState {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

// Start begins connecting with session, which is reused on every reconnect.
// It returns ALREADY_STARTED unless the protocol is Idle, Disconnected or Failed.
func (p *SessionProtocol) Start(session SessionConfig) error {
	if p.creds == nil {
		return NewConfigError("no credential provider configured")
	}
	p.stateMu.RLock()
	closed := p.closed
	p.stateMu.RUnlock()
	if closed {
		return NewConfigError("protocol is closed")
	}
	var err error
	p.loop.call(func() {
		switch p.State() {
		case Idle, Disconnected, Failed:
		default:
			err = NewLiveError(fmt.Sprintf("cannot start while %s", p.State()), ErrCodeAlreadyStarted)
			return
		}
		p.session = session
		p.active = true
		p.attempts = 0
		p.everConnected = false
		p.log.WithField("session_id", session.SessionID).Info("Starting session")
		p.setState(Connecting)
		p.connect()
	})
	return err
}

// Stop ends the session from any state: timers are cancelled, in-flight
// attempts are abandoned, pending user speech is committed and the transport
// is closed. The final state is Disconnected. Safe to call repeatedly.
func (p *SessionProtocol) Stop() {
	p.loop.call(func() {
		p.active = false
		p.gen++
		// Audio enqueued by frames that ran ahead of this call is cut here;
		// later frames fail the generation check.
		p.player.Flush()
		p.stopTimers()
		if p.cancelConnect != nil {
			p.cancelConnect()
			p.cancelConnect = nil
		}
		p.stopCapture()
		p.transcript.FlushUserSpeech()
		p.closeLink()
		p.setState(Disconnected)
	})
}

// Close stops the session and shuts down the event loop.
func (p *SessionProtocol) Close() {
	p.Stop()
	p.stateMu.Lock()
	p.closed = true
	p.stateMu.Unlock()
	p.loop.close()
}

// SendAudio transmits raw captured audio. It does nothing unless Connected.
func (p *SessionProtocol) SendAudio(data []byte) {
	p.SendChunk(EncodedChunk{Data: data, MIMEType: p.cfg.RealtimeInputMIME})
}

// SendChunk transmits one encoded chunk under the configured realtime MIME
// type, or the chunk's own type when DeclareEncoderMIME is set. Chunks sent
// while not Connected are dropped silently.
func (p *SessionProtocol) SendChunk(chunk EncodedChunk) {
	if p.State() != Connected {
		p.metrics.ChunkDropped("not_connected")
		return
	}
	b64, err := EncodeBase64(chunk.Data)
	if err != nil {
		p.metrics.ChunkDropped("empty")
		return
	}
	mime := p.cfg.RealtimeInputMIME
	if p.cfg.DeclareEncoderMIME && chunk.MIMEType != "" {
		mime = chunk.MIMEType
	}
	data, err := json.Marshal(buildAudioFrame(mime, b64))
	if err != nil {
		p.log.WithError(err).Warn("Failed to encode audio frame")
		return
	}
	p.loop.post(func() {
		if p.State() != Connected || p.link == nil {
			p.metrics.ChunkDropped("not_connected")
			return
		}
		if !p.sendRaw("realtime_input", data) {
			p.metrics.ChunkDropped("queue_full")
		}
	})
}

// SendText sends a complete user turn, such as the "ready" nudge.
func (p *SessionProtocol) SendText(text string) error {
	if text == "" {
		return newCodecError(ErrCodeEmptyInput, "text is empty")
	}
	return p.sendWhenConnected("client_content", buildTextFrame("user", text))
}

// SendToolResponse answers function calls received through OnToolCall.
func (p *SessionProtocol) SendToolResponse(responses ...FunctionResponse) error {
	if len(responses) == 0 {
		return newCodecError(ErrCodeEmptyInput, "no function responses")
	}
	frame := ClientFrame{ToolResponse: &ToolResponseFrame{FunctionResponses: responses}}
	return p.sendWhenConnected("tool_response", frame)
}

func (p *SessionProtocol) sendWhenConnected(kind string, frame ClientFrame) error {
	if p.State() != Connected {
		return NewTransportError(errNotConnected)
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return WrapError(err, ErrCodeInvalidParameter, "encode "+kind)
	}
	p.loop.post(func() {
		if p.State() != Connected || p.link == nil {
			p.log.WithField("kind", kind).Warn("Dropping frame, connection went away")
			return
		}
		p.sendRaw(kind, data)
	})
	return nil
}

// Transcript returns a copy of the committed entries.
func (p *SessionProtocol) Transcript() []TranscriptEntry {
	return p.transcript.Entries()
}

// TakeTranscript hands the committed entries to the caller and clears them.
func (p *SessionProtocol) TakeTranscript() []TranscriptEntry {
	return p.transcript.Take()
}

// Loop-owned helpers below.

func (p *SessionProtocol) setState(s ConnectionState) {
	p.stateMu.Lock()
	prev := p.state
	p.state = s
	p.stateMu.Unlock()
	if prev == s {
		return
	}

	p.metrics.StateChanged(s)
	p.log.LogConnectionEvent("state_change", s, map[string]interface{}{"from": string(prev)})
	if p.events.OnStateChange != nil {
		p.events.OnStateChange(s)
	}
}

func (p *SessionProtocol) emitError(err *LiveError) {
	p.log.LogError(err)
	if p.events.OnError != nil {
		p.events.OnError(err)
	}
}

func (p *SessionProtocol) connect() {
	p.gen++
	gen := p.gen
	session := p.session
	started := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectTimeout)
	p.cancelConnect = cancel

	p.log.LogConnectionEvent("connect_attempt", p.State(), map[string]interface{}{
		"attempt":    p.attempts,
		"generation": gen,
	})

	go func() {
		conn, cred, err := p.dial(ctx, session)
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
		cancel()
		posted := p.loop.post(func() {
			p.onDialResult(gen, conn, cred, err, timedOut, started)
		})
		if !posted && conn != nil {
			_ = conn.Close()
		}
	}()
}

type invalidator interface {
	Invalidate()
}

func (p *SessionProtocol) dial(ctx context.Context, session SessionConfig) (Conn, *Credential, error) {
	cred, err := p.creds.Fetch(ctx, session)
	if err != nil {
		return nil, nil, err
	}
	header := http.Header{}
	header.Set("User-Agent", userAgent)
	conn, err := p.dialer.Dial(ctx, cred.URL, header)
	if err != nil {
		if inv, ok := p.creds.(invalidator); ok {
			inv.Invalidate()
		}
		return nil, cred, err
	}
	return conn, cred, nil
}

func (p *SessionProtocol) onDialResult(gen uint64, conn Conn, cred *Credential, err error, timedOut bool, started time.Time) {
	if gen != p.gen || !p.active {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	p.cancelConnect = nil

	if err != nil {
		var cause *LiveError
		switch {
		case timedOut:
			cause = NewTimeoutError(p.cfg.ConnectTimeout)
		case errors.As(err, &cause):
		default:
			cause = NewTransportError(err)
		}
		p.onConnectFailure(cause)
		return
	}
	p.onOpen(gen, conn, cred, started)
}

// onConnectFailure surfaces timeout and credential failures of the first
// attempt, then applies the reconnection policy. Plain transport errors are
// only logged.
func (p *SessionProtocol) onConnectFailure(cause *LiveError) {
	if IsTerminalError(cause) {
		p.fail(cause)
		return
	}
	if hasCode(cause, ErrCodeTimeout, ErrCodeAuthFailed) && p.attempts == 0 && !p.everConnected {
		p.emitError(cause)
	} else {
		p.log.WithError(cause).Warn("Connection attempt failed")
	}
	p.scheduleReconnect(cause)
}

func (p *SessionProtocol) fail(cause *LiveError) {
	p.active = false
	p.gen++
	p.stopTimers()
	p.setState(Failed)
	p.emitError(cause)
}

func (p *SessionProtocol) scheduleReconnect(cause *LiveError) {
	if !p.cfg.ReconnectEnabled {
		p.active = false
		p.setState(Disconnected)
		if !hasCode(cause, ErrCodeTimeout, ErrCodeAuthFailed) || p.everConnected || p.attempts > 0 {
			p.emitError(cause)
		}
		return
	}

	maxAttempts := p.cfg.MaxReconnectAttempts
	if p.attempts >= maxAttempts {
		exhausted := NewReconnectExhaustedError(p.attempts)
		exhausted.err = cause
		p.fail(exhausted)
		return
	}

	p.attempts++
	delay := p.backoff.Delay(p.attempts)
	p.setState(Reconnecting)
	p.metrics.ReconnectScheduled()
	p.log.LogConnectionEvent("reconnect_scheduled", Reconnecting, map[string]interface{}{
		"attempt":  p.attempts,
		"max":      maxAttempts,
		"delay_ms": delay.Milliseconds(),
	})
	if p.events.OnReconnecting != nil {
		p.events.OnReconnecting(ReconnectionAttempt{Current: p.attempts, Max: maxAttempts, Delay: delay})
	}

	gen := p.gen
	p.retryTimer = time.AfterFunc(delay, func() {
		p.loop.post(func() {
			if gen != p.gen || !p.active {
				return
			}
			p.retryTimer = nil
			p.setState(Connecting)
			p.connect()
		})
	})
}

func (p *SessionProtocol) onOpen(gen uint64, conn Conn, cred *Credential, started time.Time) {
	l := newLink(conn, gen, p.cfg.OutboundQueueSize, p.log)
	p.link = l
	p.attempts = 0
	p.everConnected = true
	p.metrics.Connected(started)

	l.start(
		func(m Message) {
			p.loop.post(func() { p.onMessage(gen, m) })
		},
		func(err error) {
			p.loop.post(func() { p.onLinkClosed(gen, err) })
		},
	)

	model := cred.Model
	if model == "" {
		model = p.session.Model
	}
	if model == "" {
		model = p.cfg.Model
	}

	// Setup is the first frame on every connection.
	p.sendFrame("setup", buildSetupFrame(p.cfg, p.session, model))
	if p.session.Greeting != "" {
		p.sendFrame("client_content", buildTextFrame("user", p.session.Greeting))
	}

	p.log.LogConnectionEvent("open", Connected, map[string]interface{}{"model": model})
	p.setState(Connected)
	p.scheduleCapture(gen)
}

func (p *SessionProtocol) scheduleCapture(gen uint64) {
	p.captureTimer = time.AfterFunc(p.cfg.CaptureStartDelay, func() {
		p.loop.post(func() {
			if gen != p.gen || p.State() != Connected || p.capturing {
				return
			}
			p.captureTimer = nil
			p.capturing = true
			if p.events.OnCaptureStart != nil {
				p.events.OnCaptureStart()
			}
		})
	})
}

func (p *SessionProtocol) stopCapture() {
	if p.captureTimer != nil {
		p.captureTimer.Stop()
		p.captureTimer = nil
	}
	if !p.capturing {
		return
	}
	p.capturing = false
	if p.events.OnCaptureStop != nil {
		p.events.OnCaptureStop()
	}
}

func (p *SessionProtocol) stopTimers() {
	if p.retryTimer != nil {
		p.retryTimer.Stop()
		p.retryTimer = nil
	}
	if p.captureTimer != nil {
		p.captureTimer.Stop()
		p.captureTimer = nil
	}
}

func (p *SessionProtocol) closeLink() {
	if p.link == nil {
		return
	}
	if err := p.link.close(); err != nil {
		p.log.WithError(err).Debug("Transport close reported an error")
	}
	p.link = nil
}

func (p *SessionProtocol) onLinkClosed(gen uint64, err error) {
	if gen != p.gen || !p.active || p.link == nil {
		return
	}
	p.stopCapture()
	p.closeLink()

	fields := map[string]interface{}{"normal": isNormalClose(err)}
	if err != nil {
		fields["error"] = err.Error()
	}
	p.log.LogConnectionEvent("closed", p.State(), fields)
	p.scheduleReconnect(NewTransportError(err))
}

func (p *SessionProtocol) sendFrame(kind string, frame ClientFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		p.log.WithError(err).WithField("kind", kind).Error("Failed to encode frame")
		return false
	}
	return p.sendRaw(kind, data)
}

func (p *SessionProtocol) sendRaw(kind string, data []byte) bool {
	if p.link == nil || !p.link.send(data) {
		p.log.WithField("kind", kind).Warn("Outbound queue unavailable, frame dropped")
		return false
	}
	p.metrics.FrameOut(kind, len(data))
	if p.cfg.DebugWebsocket {
		p.log.LogFrameEvent("out", kind, len(data))
	}
	return true
}

func (p *SessionProtocol) onMessage(gen uint64, m Message) {
	if gen != p.gen || !p.active {
		return
	}

	var frame *ServerFrame
	var err error
	if m.Binary {
		frame, err = DecodeBinaryFrame(m.Data)
	} else {
		frame, err = DecodeServerFrame(m.Data)
	}
	if err != nil {
		p.metrics.MalformedFrame()
		var le *LiveError
		if !errors.As(err, &le) {
			le = NewMalformedFrameError(err)
		}
		p.emitError(le.AddDetail("size", len(m.Data)))
		return
	}

	kind := frame.Kind()
	p.metrics.FrameIn(kind)
	if p.cfg.DebugWebsocket {
		p.log.LogFrameEvent("in", kind.String(), len(m.Data))
	}

	switch kind {
	case FrameSetupComplete:
		p.log.LogConnectionEvent("setup_complete", p.State(), nil)
		if p.events.OnReady != nil {
			p.events.OnReady()
		}
	case FrameError:
		p.emitError(NewProtocolError(frame.Error.Message, frame.Error.codeString()))
	case FrameContent:
		p.handleContent(frame.ServerContent)
	case FrameToolCall:
		p.handleToolCall(frame.ToolCall)
	case FrameAudio:
		buf, err := BinaryAudioBuffer(frame.Audio)
		if err != nil {
			p.log.WithError(err).Warn("Dropping binary audio frame")
			return
		}
		p.enqueueAudio(buf)
	default:
		p.log.Debug("Ignoring frame with no known fields")
	}
}

func (p *SessionProtocol) handleContent(sc *ServerContent) {
	if sc.Interrupted {
		p.log.Debug("Model turn interrupted, flushing playback")
		p.player.Flush()
		p.transcript.Interrupt()
	}

	if sc.InputTranscription != nil {
		p.transcript.AppendUserSpeech(sc.InputTranscription.Text)
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		p.transcript.AppendCaption(sc.OutputTranscription.Text)
	}

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.Text != "" {
				p.transcript.AppendAssistantText(part.Text)
			}
			if part.InlineData != nil {
				buf, err := DecodeAudioPayload(part.InlineData.MIMEType, part.InlineData.Data)
				if err != nil {
					p.log.WithError(err).WithField("mime_type", part.InlineData.MIMEType).Warn("Dropping undecodable audio part")
					continue
				}
				p.enqueueAudio(buf)
			}
		}
	}

	if sc.TurnComplete {
		if entry, ok := p.transcript.CompleteTurn(); ok {
			p.log.WithField("chars", len(entry.Content)).Debug("Assistant turn committed")
		}
	}
}

func (p *SessionProtocol) handleToolCall(tc *ToolCallFrame) {
	raw, err := json.Marshal(tc)
	if err != nil {
		p.log.WithError(err).Warn("Failed to re-encode tool call")
	}
	if p.events.OnToolCall != nil {
		p.events.OnToolCall(ToolCall{FunctionCalls: tc.FunctionCalls, Raw: raw})
	}
}

func (p *SessionProtocol) enqueueAudio(buf AudioBuffer) {
	p.metrics.AudioIn(len(buf.Data))
	if p.cfg.DebugAudio {
		p.log.LogAudioEvent("received", map[string]interface{}{
			"bytes":  len(buf.Data),
			"format": buf.Format.String(),
		})
	}
	p.player.Enqueue(buf)
}
