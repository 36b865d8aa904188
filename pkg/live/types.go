package live

import (
	"encoding/json"
	"time"
)

// ConnectionState enum
type ConnectionState string

const (
	Idle         ConnectionState = "idle"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
	Reconnecting ConnectionState = "reconnecting"
	Disconnected ConnectionState = "disconnected"
	Failed       ConnectionState = "failed"
)

// Terminal reports whether no further reconnection will happen from s.
func (s ConnectionState) Terminal() bool {
	return s == Disconnected || s == Failed
}

// Role identifies the speaker of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TranscriptEntry is one committed utterance.
type TranscriptEntry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionConfig is supplied at Start and reused verbatim on every reconnect.
type SessionConfig struct {
	SessionID         string
	SystemInstruction string
	Voice             string
	Model             string

	// Greeting, when set, is sent as a user turn right after setup so the
	// model speaks first.
	Greeting string

	// Context is forwarded to the credential endpoint.
	Context map[string]interface{}
}

// ReconnectionAttempt is surfaced before each backoff delay begins.
type ReconnectionAttempt struct {
	Current int
	Max     int
	Delay   time.Duration
}

// FunctionCall is a single call inside a server tool-call frame.
type FunctionCall struct {
	ID   string                 `json:"id,omitempty"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// ToolCall is forwarded to the caller without interpretation.
type ToolCall struct {
	FunctionCalls []FunctionCall
	Raw           json.RawMessage
}

// EncodedChunk is one fixed-duration piece of captured audio after encoding.
type EncodedChunk struct {
	Data     []byte
	MIMEType string
}

// Handler types
type StateHandler func(ConnectionState)
type TranscriptHandler func(TranscriptEntry)
type CaptionHandler func(string)
type SpeechHandler func()
type ErrorHandler func(*LiveError)
type ReconnectHandler func(ReconnectionAttempt)
type ToolCallHandler func(ToolCall)
type ReadyHandler func()
type ChunkHandler func(EncodedChunk)
