package live

import (
	"errors"
	"fmt"
	"time"
)

// Error codes as constants
const (
	ErrCodePermissionDenied   = "PERMISSION_DENIED"
	ErrCodeDeviceNotFound     = "DEVICE_NOT_FOUND"
	ErrCodeDeviceBusy         = "DEVICE_BUSY"
	ErrCodeConstraints        = "CONSTRAINTS_NOT_SATISFIABLE"
	ErrCodeSecurityRestricted = "SECURITY_RESTRICTED"
	ErrCodeUnsupported        = "UNSUPPORTED"
	ErrCodeAudioDevice        = "AUDIO_DEVICE_ERROR"

	ErrCodeTransport          = "TRANSPORT_ERROR"
	ErrCodeTimeout            = "TIMEOUT_ERROR"
	ErrCodeAuthFailed         = "AUTH_FAILED"
	ErrCodeReconnectExhausted = "RECONNECT_EXHAUSTED"
	ErrCodeProtocol           = "PROTOCOL_ERROR"
	ErrCodeMalformedFrame     = "MALFORMED_FRAME"

	ErrCodeEmptyInput       = "EMPTY_INPUT"
	ErrCodeDecodeFailure    = "DECODE_FAILURE"
	ErrCodeInvalidEncoding  = "INVALID_ENCODING"
	ErrCodeEmptyResult      = "EMPTY_RESULT"
	ErrCodeInvalidParameter = "INVALID_PARAMETER"

	ErrCodeConfigInvalid  = "CONFIG_INVALID"
	ErrCodeAlreadyStarted = "ALREADY_STARTED"
	ErrCodePlayback       = "PLAYBACK_ERROR"
)

// Platform capture errors. Capture backends wrap one of these so
// MapDeviceError can classify the failure.
var (
	ErrPermissionDenied          = errors.New("microphone permission denied")
	ErrDeviceNotFound            = errors.New("no audio input device found")
	ErrDeviceBusy                = errors.New("audio input device is busy")
	ErrConstraintsNotSatisfiable = errors.New("audio constraints cannot be satisfied")
	ErrSecurityRestricted        = errors.New("audio capture blocked by security policy")
	ErrUnsupported               = errors.New("audio capture is not supported on this platform")
)

var remediationHints = map[string]string{
	ErrCodePermissionDenied:   "Allow microphone access for this application and try again.",
	ErrCodeDeviceNotFound:     "Connect a microphone or select a different input device.",
	ErrCodeDeviceBusy:         "Close other applications using the microphone and try again.",
	ErrCodeConstraints:        "Select an input device that supports 16 kHz mono capture.",
	ErrCodeSecurityRestricted: "Audio capture requires a secure context; check the platform's privacy settings.",
	ErrCodeUnsupported:        "This platform has no usable audio capture backend.",
	ErrCodeAudioDevice:        "Check the microphone connection and restart the session.",
}

var userMessages = map[string]string{
	ErrCodePermissionDenied:   "Microphone permission was denied.",
	ErrCodeDeviceNotFound:     "No microphone was found.",
	ErrCodeDeviceBusy:         "The microphone is being used by another application.",
	ErrCodeConstraints:        "The microphone does not support the required audio format.",
	ErrCodeSecurityRestricted: "Microphone access is blocked by a security restriction.",
	ErrCodeUnsupported:        "Audio capture is not supported on this platform.",
	ErrCodeAudioDevice:        "The microphone failed.",
	ErrCodeTransport:          "The network connection to the interviewer was lost.",
	ErrCodeTimeout:            "Connecting to the interviewer timed out. Check your network connection.",
	ErrCodeAuthFailed:         "The session could not be authorized. Please start a new session.",
	ErrCodeReconnectExhausted: "The connection was lost and could not be re-established.",
	ErrCodeProtocol:           "The interviewer service reported an error.",
	ErrCodeMalformedFrame:     "The interviewer service sent an unreadable message.",
	ErrCodeConfigInvalid:      "The client is misconfigured.",
	ErrCodeAlreadyStarted:     "A session is already running.",
	ErrCodePlayback:           "Audio playback failed.",
}

// LiveError carries a stable code, a remediation hint and optional details.
type LiveError struct {
	Message   string
	Code      string
	Hint      string
	Timestamp time.Time
	Details   map[string]interface{}
	err       error
}

func (e *LiveError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LiveError) Unwrap() error {
	return e.err
}

// Is matches another *LiveError by code, so errors.Is(err, &LiveError{Code: ErrCodeTimeout}) works.
func (e *LiveError) Is(target error) bool {
	t, ok := target.(*LiveError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// UserMessage returns plain-language text suitable for display.
func (e *LiveError) UserMessage() string {
	msg, ok := userMessages[e.Code]
	if !ok {
		msg = e.Message
	}
	if e.Hint != "" {
		return msg + " " + e.Hint
	}
	return msg
}

func NewLiveError(message, code string) *LiveError {
	return &LiveError{
		Message:   message,
		Code:      code,
		Hint:      remediationHints[code],
		Timestamp: time.Now(),
	}
}

// WrapError wraps err under code. A nil err yields nil.
func WrapError(err error, code, message string) *LiveError {
	if err == nil {
		return nil
	}
	e := NewLiveError(message, code)
	e.err = err
	return e
}

// AddDetail attaches a key/value pair and returns e for chaining.
func (e *LiveError) AddDetail(key string, value interface{}) *LiveError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *LiveError) GetDetail(key string) (interface{}, bool) {
	if e.Details == nil {
		return nil, false
	}
	value, exists := e.Details[key]
	return value, exists
}

// Specific error creators with common codes
func NewTransportError(err error) *LiveError {
	return WrapError(err, ErrCodeTransport, "transport failure")
}

func NewTimeoutError(timeout time.Duration) *LiveError {
	return NewLiveError(fmt.Sprintf("connection not established within %s", timeout), ErrCodeTimeout).
		AddDetail("timeout_ms", timeout.Milliseconds())
}

func NewAuthError(err error) *LiveError {
	return WrapError(err, ErrCodeAuthFailed, "credential request failed")
}

func NewReconnectExhaustedError(attempts int) *LiveError {
	return NewLiveError(fmt.Sprintf("reconnection exhausted after %d attempts", attempts), ErrCodeReconnectExhausted).
		AddDetail("attempts", attempts)
}

func NewProtocolError(message, serverCode string) *LiveError {
	e := NewLiveError(message, ErrCodeProtocol)
	if serverCode != "" {
		e.AddDetail("server_code", serverCode)
	}
	return e
}

func NewMalformedFrameError(err error) *LiveError {
	return WrapError(err, ErrCodeMalformedFrame, "malformed inbound frame")
}

func NewConfigError(message string) *LiveError {
	return NewLiveError(message, ErrCodeConfigInvalid)
}

func NewPlaybackError(err error) *LiveError {
	return WrapError(err, ErrCodePlayback, "audio playback failed")
}

func newCodecError(code, message string) *LiveError {
	return NewLiveError(message, code)
}

// MapDeviceError classifies a platform capture error into one of the
// acquisition error kinds, each carrying a remediation hint.
func MapDeviceError(err error) *LiveError {
	if err == nil {
		return nil
	}
	var le *LiveError
	if errors.As(err, &le) && IsDeviceError(le) {
		return le
	}

	code := ErrCodeAudioDevice
	switch {
	case errors.Is(err, ErrPermissionDenied):
		code = ErrCodePermissionDenied
	case errors.Is(err, ErrDeviceNotFound):
		code = ErrCodeDeviceNotFound
	case errors.Is(err, ErrDeviceBusy):
		code = ErrCodeDeviceBusy
	case errors.Is(err, ErrConstraintsNotSatisfiable):
		code = ErrCodeConstraints
	case errors.Is(err, ErrSecurityRestricted):
		code = ErrCodeSecurityRestricted
	case errors.Is(err, ErrUnsupported):
		code = ErrCodeUnsupported
	}
	return WrapError(err, code, "microphone acquisition failed")
}

func codeOf(err error) string {
	var le *LiveError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

func hasCode(err error, codes ...string) bool {
	code := codeOf(err)
	if code == "" {
		return false
	}
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// IsRetryableError reports whether the reconnection policy applies to err.
func IsRetryableError(err error) bool {
	return hasCode(err, ErrCodeTransport, ErrCodeTimeout)
}

// IsTerminalError reports whether err ends the session for good.
func IsTerminalError(err error) bool {
	return hasCode(err, ErrCodeReconnectExhausted, ErrCodeConfigInvalid)
}

// IsDeviceError reports whether err came from microphone acquisition.
func IsDeviceError(err error) bool {
	return hasCode(err,
		ErrCodePermissionDenied,
		ErrCodeDeviceNotFound,
		ErrCodeDeviceBusy,
		ErrCodeConstraints,
		ErrCodeSecurityRestricted,
		ErrCodeUnsupported,
		ErrCodeAudioDevice,
	)
}

// IsCodecError reports whether err came from the audio codec.
func IsCodecError(err error) bool {
	return hasCode(err,
		ErrCodeEmptyInput,
		ErrCodeDecodeFailure,
		ErrCodeInvalidEncoding,
		ErrCodeEmptyResult,
		ErrCodeInvalidParameter,
	)
}
