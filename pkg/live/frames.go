package live

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Outbound frames use the service's snake_case field names.

type ClientFrame struct {
	Setup         *SetupFrame         `json:"setup,omitempty"`
	RealtimeInput *RealtimeInputFrame `json:"realtime_input,omitempty"`
	ClientContent *ClientContentFrame `json:"client_content,omitempty"`
	ToolResponse  *ToolResponseFrame  `json:"tool_response,omitempty"`
}

type SetupFrame struct {
	Model                    string           `json:"model"`
	GenerationConfig         GenerationConfig `json:"generation_config"`
	SystemInstruction        *Content         `json:"system_instruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"input_audio_transcription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"output_audio_transcription,omitempty"`
}

type GenerationConfig struct {
	ResponseModalities []string      `json:"response_modalities"`
	SpeechConfig       *SpeechConfig `json:"speech_config,omitempty"`
}

type SpeechConfig struct {
	VoiceConfig VoiceConfig `json:"voice_config"`
}

type VoiceConfig struct {
	PrebuiltVoiceConfig PrebuiltVoiceConfig `json:"prebuilt_voice_config"`
}

type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voice_name"`
}

type Content struct {
	Role  string     `json:"role,omitempty"`
	Parts []TextPart `json:"parts"`
}

type TextPart struct {
	Text string `json:"text"`
}

type RealtimeInputFrame struct {
	MediaChunks []MediaChunk `json:"media_chunks"`
}

type MediaChunk struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type ClientContentFrame struct {
	Turns        []Content `json:"turns"`
	TurnComplete bool      `json:"turn_complete"`
}

type ToolResponseFrame struct {
	FunctionResponses []FunctionResponse `json:"function_responses"`
}

// FunctionResponse answers one FunctionCall by ID.
type FunctionResponse struct {
	ID       string                 `json:"id,omitempty"`
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

// buildSetupFrame assembles the single handshake frame.
func buildSetupFrame(cfg *ClientConfig, session SessionConfig, model string) ClientFrame {
	voice := session.Voice
	if voice == "" {
		voice = cfg.Voice
	}

	setup := &SetupFrame{
		Model: model,
		GenerationConfig: GenerationConfig{
			ResponseModalities: append([]string(nil), cfg.ResponseModalities...),
		},
	}
	if voice != "" {
		setup.GenerationConfig.SpeechConfig = &SpeechConfig{
			VoiceConfig: VoiceConfig{PrebuiltVoiceConfig: PrebuiltVoiceConfig{VoiceName: voice}},
		}
	}
	if session.SystemInstruction != "" {
		setup.SystemInstruction = &Content{Parts: []TextPart{{Text: session.SystemInstruction}}}
	}
	if cfg.Transcription {
		setup.InputAudioTranscription = &struct{}{}
		setup.OutputAudioTranscription = &struct{}{}
	}
	return ClientFrame{Setup: setup}
}

func buildAudioFrame(mime, data string) ClientFrame {
	return ClientFrame{RealtimeInput: &RealtimeInputFrame{
		MediaChunks: []MediaChunk{{MIMEType: mime, Data: data}},
	}}
}

func buildTextFrame(role, text string) ClientFrame {
	return ClientFrame{ClientContent: &ClientContentFrame{
		Turns:        []Content{{Role: role, Parts: []TextPart{{Text: text}}}},
		TurnComplete: true,
	}}
}

// Inbound frames use camelCase.

// FrameKind classifies an inbound frame. Exactly one kind applies per frame,
// checked in declaration order.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameSetupComplete
	FrameError
	FrameContent
	FrameToolCall
	FrameAudio
)

func (k FrameKind) String() string {
	switch k {
	case FrameSetupComplete:
		return "setup_complete"
	case FrameError:
		return "error"
	case FrameContent:
		return "content"
	case FrameToolCall:
		return "tool_call"
	case FrameAudio:
		return "audio"
	default:
		return "unknown"
	}
}

type ServerFrame struct {
	ServerContent *ServerContent   `json:"serverContent,omitempty"`
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ToolCall      *ToolCallFrame   `json:"toolCall,omitempty"`
	Error         *ServerError     `json:"error,omitempty"`

	// Audio is set for raw binary audio frames.
	Audio []byte `json:"-"`
}

type ServerContent struct {
	ModelTurn           *ModelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

type ModelTurn struct {
	Parts []Part `json:"parts"`
}

type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type Transcription struct {
	Text string `json:"text"`
}

type ToolCallFrame struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

type ServerError struct {
	Message string      `json:"message"`
	Code    interface{} `json:"code,omitempty"`
}

// Kind reports which handler applies to f.
func (f *ServerFrame) Kind() FrameKind {
	switch {
	case f.Audio != nil:
		return FrameAudio
	case f.SetupComplete != nil:
		return FrameSetupComplete
	case f.Error != nil:
		return FrameError
	case f.ServerContent != nil:
		return FrameContent
	case f.ToolCall != nil:
		return FrameToolCall
	default:
		return FrameUnknown
	}
}

var errNotObject = errors.New("frame is not a JSON object")

// DecodeServerFrame parses a text frame. Unknown fields are ignored; invalid
// JSON or known fields of the wrong shape yield a MALFORMED_FRAME error.
func DecodeServerFrame(data []byte) (*ServerFrame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, NewMalformedFrameError(errNotObject)
	}
	var f ServerFrame
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return nil, NewMalformedFrameError(err)
	}
	return &f, nil
}

// DecodeBinaryFrame handles a binary message. The service may deliver JSON
// in binary frames; anything that does not parse as a JSON object is raw audio.
func DecodeBinaryFrame(data []byte) (*ServerFrame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed) {
		return DecodeServerFrame(trimmed)
	}
	if len(data) == 0 {
		return nil, NewMalformedFrameError(errors.New("empty binary frame"))
	}
	audio := make([]byte, len(data))
	copy(audio, data)
	return &ServerFrame{Audio: audio}, nil
}

func (e *ServerError) codeString() string {
	if e == nil || e.Code == nil {
		return ""
	}
	return fmt.Sprint(e.Code)
}
