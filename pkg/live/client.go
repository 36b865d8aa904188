package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Dependencies are the collaborators a SessionClient is built from. Every
// field is optional.
type Dependencies struct {
	// Credentials defaults to a TokenManager when TokenEndpoint is set,
	// otherwise to StaticCredentials for WsEndpoint.
	Credentials CredentialProvider
	Dialer      Dialer

	// Capture is the microphone. Without one, audio is sent with SendAudio.
	Capture  CaptureDevice
	Encoders []EncoderFactory

	// Sink plays model audio. Defaults to a NullSink.
	Sink AudioSink

	Registerer prometheus.Registerer
}

// SessionClient is the application-facing session: it composes the
// microphone, the protocol and the playback queue, and delivers events to
// registered handlers in order on a dedicated dispatcher goroutine.
type SessionClient struct {
	cfg      *ClientConfig
	log      *Logger
	metrics  *Metrics
	protocol *SessionProtocol
	playback *PlaybackQueue
	mic      *MicrophoneSource
	dispatch *eventLoop

	stateHandlers      handlerSet[StateHandler]
	transcriptHandlers handlerSet[TranscriptHandler]
	captionHandlers    handlerSet[CaptionHandler]
	speechStartHandler handlerSet[SpeechHandler]
	speechEndHandlers  handlerSet[SpeechHandler]
	errorHandlers      handlerSet[ErrorHandler]
	reconnectHandlers  handlerSet[ReconnectHandler]
	toolCallHandlers   handlerSet[ToolCallHandler]
	readyHandlers      handlerSet[ReadyHandler]

	// micGen invalidates microphone grants that complete after a stop.
	micMu  sync.Mutex
	micGen uint64
}

func NewSessionClient(cfg *ClientConfig, deps Dependencies) (*SessionClient, error) {
	if cfg == nil {
		cfg = NewClientConfig()
	}

	var issues []string
	for _, issue := range cfg.Validate() {
		if issue == issueNoEndpoint && deps.Credentials != nil {
			continue
		}
		issues = append(issues, issue)
	}
	if len(issues) > 0 {
		return nil, NewConfigError(strings.Join(issues, "; ")).AddDetail("issues", issues)
	}

	creds := deps.Credentials
	if creds == nil {
		if cfg.TokenEndpoint != "" {
			creds = NewTokenManager(cfg)
		} else {
			creds = StaticCredentials{URL: cfg.WsEndpoint, Model: cfg.Model}
		}
	}

	log := cfg.logger().WithComponent("client")
	c := &SessionClient{
		cfg:     cfg,
		log:     log,
		metrics: NewMetrics("", deps.Registerer),
	}
	c.dispatch = newEventLoop("dispatcher", log)

	c.playback = NewPlaybackQueue(deps.Sink, PlaybackListener{
		OnSpeechStart: func() { emit(c, &c.speechStartHandler, func(h SpeechHandler) { h() }) },
		OnIdle:        func() { emit(c, &c.speechEndHandlers, func(h SpeechHandler) { h() }) },
	}, cfg.logger(), c.metrics)

	if deps.Capture != nil {
		encoders := deps.Encoders
		if len(encoders) == 0 {
			encoders = DefaultEncoders(cfg.CaptureEncoding)
		}
		c.mic = NewMicrophoneSource(deps.Capture, CaptureFormat(cfg.CaptureSampleRate), encoders,
			func() bool { return c.protocol.State() == Connected }, cfg.logger(), c.metrics)
	}

	c.protocol = NewSessionProtocol(cfg, creds, deps.Dialer, c.playback, ProtocolEvents{
		OnStateChange: func(s ConnectionState) {
			emit(c, &c.stateHandlers, func(h StateHandler) { h(s) })
		},
		OnReady: func() {
			emit(c, &c.readyHandlers, func(h ReadyHandler) { h() })
		},
		OnTranscript: func(e TranscriptEntry) {
			emit(c, &c.transcriptHandlers, func(h TranscriptHandler) { h(e) })
		},
		OnCaption: func(text string) {
			emit(c, &c.captionHandlers, func(h CaptionHandler) { h(text) })
		},
		OnToolCall: func(tc ToolCall) {
			emit(c, &c.toolCallHandlers, func(h ToolCallHandler) { h(tc) })
		},
		OnError: c.emitError,
		OnReconnecting: func(a ReconnectionAttempt) {
			emit(c, &c.reconnectHandlers, func(h ReconnectHandler) { h(a) })
		},
		OnCaptureStart: c.startMicrophone,
		OnCaptureStop:  c.stopMicrophone,
	}, c.metrics)

	return c, nil
}

// emit delivers to a snapshot of set on the dispatcher, taken when the event
// runs so handlers removed in the meantime are skipped.
func emit[T any](c *SessionClient, set *handlerSet[T], call func(T)) {
	c.dispatch.post(func() {
		for _, h := range set.snapshot() {
			c.safeCall(func() { call(h) })
		}
	})
}

func (c *SessionClient) emitError(err *LiveError) {
	emit(c, &c.errorHandlers, func(h ErrorHandler) { h(err) })
}

func (c *SessionClient) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithError(fmt.Errorf("panic: %v", r)).Error("Recovered panic in event handler")
		}
	}()
	fn()
}

// Start opens a session. An empty SessionID gets a random UUID.
func (c *SessionClient) Start(session SessionConfig) error {
	if session.SessionID == "" {
		session.SessionID = uuid.NewString()
	}
	return c.protocol.Start(session)
}

// Stop tears the session down: microphone released, playback flushed,
// transport closed and state Disconnected, in that order. A failing step is
// logged and the rest still run. Stop is idempotent; it returns the
// transcript, which the caller now owns.
func (c *SessionClient) Stop() []TranscriptEntry {
	c.step("microphone", c.stopMicrophone)
	c.step("playback", c.playback.Flush)
	c.step("transport", c.protocol.Stop)

	var entries []TranscriptEntry
	c.step("transcript", func() { entries = c.protocol.TakeTranscript() })
	c.log.WithField("entries", len(entries)).Info("Session stopped")
	return entries
}

func (c *SessionClient) step(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("step", name).WithError(fmt.Errorf("panic: %v", r)).Error("Teardown step failed")
		}
	}()
	fn()
}

// Close stops the session and releases the client's goroutines. Pending
// events are delivered before Close returns.
func (c *SessionClient) Close() {
	c.Stop()
	c.protocol.Close()
	c.dispatch.close()
}

func (c *SessionClient) SendAudio(data []byte) {
	c.protocol.SendAudio(data)
}

func (c *SessionClient) SendText(text string) error {
	return c.protocol.SendText(text)
}

func (c *SessionClient) SendToolResponse(responses ...FunctionResponse) error {
	return c.protocol.SendToolResponse(responses...)
}

func (c *SessionClient) State() ConnectionState {
	return c.protocol.State()
}

// Transcript returns a copy of the entries committed so far.
func (c *SessionClient) Transcript() []TranscriptEntry {
	return c.protocol.Transcript()
}

func (c *SessionClient) Metrics() *Metrics {
	return c.metrics
}

// Handler registration. Each returns a func that removes the handler.

func (c *SessionClient) OnStateChange(h StateHandler) func() { return c.stateHandlers.add(h) }

func (c *SessionClient) OnTranscript(h TranscriptHandler) func() {
	return c.transcriptHandlers.add(h)
}

func (c *SessionClient) OnCaption(h CaptionHandler) func() { return c.captionHandlers.add(h) }

func (c *SessionClient) OnSpeechStart(h SpeechHandler) func() {
	return c.speechStartHandler.add(h)
}

func (c *SessionClient) OnSpeechEnd(h SpeechHandler) func() { return c.speechEndHandlers.add(h) }

func (c *SessionClient) OnError(h ErrorHandler) func() { return c.errorHandlers.add(h) }

func (c *SessionClient) OnReconnecting(h ReconnectHandler) func() {
	return c.reconnectHandlers.add(h)
}

func (c *SessionClient) OnToolCall(h ToolCallHandler) func() { return c.toolCallHandlers.add(h) }

func (c *SessionClient) OnReady(h ReadyHandler) func() { return c.readyHandlers.add(h) }

// startMicrophone acquires the device off the protocol loop. A grant that
// arrives after stopMicrophone is released instead of started.
func (c *SessionClient) startMicrophone() {
	if c.mic == nil {
		return
	}
	c.micMu.Lock()
	c.micGen++
	gen := c.micGen
	c.micMu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		defer cancel()

		stream, err := c.mic.Acquire(ctx)
		if err != nil {
			if c.micCurrent(gen) {
				c.emitError(MapDeviceError(err))
			} else {
				c.log.WithError(err).Debug("Ignoring error from stale microphone request")
			}
			return
		}

		c.micMu.Lock()
		defer c.micMu.Unlock()
		if gen != c.micGen {
			c.log.Debug("Releasing stale microphone grant")
			if err := stream.Close(); err != nil {
				c.log.WithError(err).Warn("Failed to release stale microphone grant")
			}
			return
		}
		if err := c.mic.StartCapture(stream, c.cfg.ChunkDuration, c.protocol.SendChunk); err != nil {
			_ = stream.Close()
			var le *LiveError
			if !errors.As(err, &le) {
				le = MapDeviceError(err)
			}
			c.emitError(le)
		}
	}()
}

func (c *SessionClient) micCurrent(gen uint64) bool {
	c.micMu.Lock()
	defer c.micMu.Unlock()
	return gen == c.micGen
}

func (c *SessionClient) stopMicrophone() {
	if c.mic == nil {
		return
	}
	c.micMu.Lock()
	defer c.micMu.Unlock()
	c.micGen++
	c.mic.StopCapture()
}
