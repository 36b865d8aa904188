// Package live is a client for real-time voice sessions with a streaming
// generative-audio service, built for AI mock interviews.
//
// # Overview
//
// The package provides:
//   - A connection state machine with setup handshake and bounded exponential reconnection
//   - Microphone capture chunked into fixed-duration encoded frames
//   - Gapless sequential playback with immediate flush on barge-in
//   - A transcript with debounced user speech and per-turn assistant commits
//   - Structured logging with Zerolog and Prometheus metrics
//
// # Quick Start
//
//	cfg, err := live.LoadClientConfig("interview-live.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	client, err := live.NewSessionClient(cfg, live.Dependencies{
//		Capture: audiodev.NewPortAudioDevice(-1),
//		Sink:    audiodev.NewSpeaker(-1),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.OnTranscript(live.CreateTranscriptPrinter(os.Stdout))
//	client.OnError(live.CreateErrorLoggingHandler(cfg.Logger))
//
//	if err := client.Start(live.SessionConfig{
//		SystemInstruction: "You are interviewing a candidate for a backend role.",
//		Greeting:          "I'm ready to begin.",
//	}); err != nil {
//		log.Fatal(err)
//	}
//
//	// ... later
//	transcript := client.Stop()
//
// # Connection States
//
// A session moves Idle → Connecting → Connected. A transport loss while
// Connected moves to Reconnecting and retries after min(1s·2^(n-1), 10s),
// up to MaxReconnectAttempts; then the session is Failed and one
// RECONNECT_EXHAUSTED error is delivered. Stop moves any state to
// Disconnected.
//
// Audio passed to SendAudio while not Connected is dropped.
//
// # Handlers
//
// Handlers registered with the On* methods run one at a time, in event order,
// on a dispatcher goroutine owned by the client. Each registration returns a
// func that removes it. A panicking handler is logged and does not affect
// other handlers.
//
// # Errors
//
// Every error delivered to OnError is a *LiveError with a stable Code and,
// for microphone failures, a remediation Hint. UserMessage gives text fit for
// display.
package live
