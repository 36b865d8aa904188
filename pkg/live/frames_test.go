package live

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSetupFrameShape(t *testing.T) {
	cfg := NewClientConfig()
	cfg.Transcription = false
	frame := buildSetupFrame(cfg, SessionConfig{
		SystemInstruction: "You are a strict interviewer.",
		Voice:             "Kore",
	}, "models/test-model")

	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"setup": {
			"model": "models/test-model",
			"generation_config": {
				"response_modalities": ["AUDIO"],
				"speech_config": {"voice_config": {"prebuilt_voice_config": {"voice_name": "Kore"}}}
			},
			"system_instruction": {"parts": [{"text": "You are a strict interviewer."}]}
		}
	}`, string(raw))
}

func TestBuildSetupFrameTranscriptionAndDefaultVoice(t *testing.T) {
	cfg := NewClientConfig()
	frame := buildSetupFrame(cfg, SessionConfig{}, "m")
	require.NotNil(t, frame.Setup.InputAudioTranscription)
	require.NotNil(t, frame.Setup.OutputAudioTranscription)
	require.Nil(t, frame.Setup.SystemInstruction)
	require.Equal(t, cfg.Voice, frame.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
}

func TestBuildAudioAndTextFrames(t *testing.T) {
	raw, err := json.Marshal(buildAudioFrame("audio/pcm;rate=16000", "AAAA"))
	require.NoError(t, err)
	require.JSONEq(t, `{"realtime_input":{"media_chunks":[{"mime_type":"audio/pcm;rate=16000","data":"AAAA"}]}}`, string(raw))

	raw, err = json.Marshal(buildTextFrame("user", "ready"))
	require.NoError(t, err)
	require.JSONEq(t, `{"client_content":{"turns":[{"role":"user","parts":[{"text":"ready"}]}],"turn_complete":true}}`, string(raw))
}

func TestDecodeServerFrameKinds(t *testing.T) {
	cases := []struct {
		name string
		json string
		want FrameKind
	}{
		{"setup complete", `{"setupComplete":{}}`, FrameSetupComplete},
		{"error", `{"error":{"message":"quota","code":429}}`, FrameError},
		{"content", `{"serverContent":{"turnComplete":true}}`, FrameContent},
		{"tool call", `{"toolCall":{"functionCalls":[{"id":"1","name":"score","args":{"x":1}}]}}`, FrameToolCall},
		{"unknown only", `{"usageMetadata":{"totalTokenCount":3}}`, FrameUnknown},
		{"error wins over content", `{"error":{"message":"x"},"serverContent":{}}`, FrameError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := DecodeServerFrame([]byte(tc.json))
			require.NoError(t, err)
			require.Equal(t, tc.want, f.Kind())
		})
	}
}

func TestDecodeServerFrameContent(t *testing.T) {
	f, err := DecodeServerFrame([]byte(`{
		"serverContent": {
			"modelTurn": {"parts": [
				{"text": "Hel"},
				{"inlineData": {"mimeType": "audio/pcm;rate=24000", "data": "AAAA"}}
			]},
			"interrupted": true,
			"inputTranscription": {"text": "I think"},
			"outputTranscription": {"text": "Hello"},
			"extraField": 42
		}
	}`))
	require.NoError(t, err)
	sc := f.ServerContent
	require.NotNil(t, sc)
	require.True(t, sc.Interrupted)
	require.False(t, sc.TurnComplete)
	require.Len(t, sc.ModelTurn.Parts, 2)
	assert.Equal(t, "Hel", sc.ModelTurn.Parts[0].Text)
	assert.Equal(t, "audio/pcm;rate=24000", sc.ModelTurn.Parts[1].InlineData.MIMEType)
	assert.Equal(t, "I think", sc.InputTranscription.Text)
	assert.Equal(t, "Hello", sc.OutputTranscription.Text)
}

func TestDecodeServerFrameMalformed(t *testing.T) {
	for _, in := range []string{
		``,
		`not json`,
		`[1,2,3]`,
		`{"serverContent": `,
		`{"serverContent": "oops"}`,
		`{"serverContent": {"turnComplete": "yes"}}`,
	} {
		_, err := DecodeServerFrame([]byte(in))
		requireCode(t, err, ErrCodeMalformedFrame)
	}
}

func TestDecodeBinaryFrame(t *testing.T) {
	f, err := DecodeBinaryFrame([]byte(`{"setupComplete":{}}`))
	require.NoError(t, err)
	require.Equal(t, FrameSetupComplete, f.Kind())

	f, err = DecodeBinaryFrame([]byte{0x01, 0x02, 0x03, 0x04})
	require.NoError(t, err)
	require.Equal(t, FrameAudio, f.Kind())
	require.Equal(t, []byte{1, 2, 3, 4}, f.Audio)

	_, err = DecodeBinaryFrame(nil)
	requireCode(t, err, ErrCodeMalformedFrame)
}

func TestServerErrorCodeString(t *testing.T) {
	f, err := DecodeServerFrame([]byte(`{"error":{"message":"bad","code":"INVALID_ARGUMENT"}}`))
	require.NoError(t, err)
	require.Equal(t, "INVALID_ARGUMENT", f.Error.codeString())

	f, err = DecodeServerFrame([]byte(`{"error":{"message":"bad","code":400}}`))
	require.NoError(t, err)
	require.Equal(t, "400", f.Error.codeString())
}
