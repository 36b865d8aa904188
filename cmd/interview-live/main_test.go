package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rojolang/interview-live-go/pkg/live"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestPCM2WAV(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "reply.pcm")
	outPath := filepath.Join(dir, "reply.wav")
	require.NoError(t, os.WriteFile(in, make([]byte, 4800), 0o644))

	out, err := execute(t, "codec", "pcm2wav", in, outPath, "--rate", "24000")
	require.NoError(t, err)
	assert.Contains(t, out, "100ms")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	hdr, err := live.ParseWAVHeader(data)
	require.NoError(t, err)
	assert.Equal(t, 24000, hdr.SampleRate)
	assert.Equal(t, 4800, hdr.DataLength)
}

func TestPCM2WAVRejectsBadParameters(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pcm")
	require.NoError(t, os.WriteFile(in, []byte{1, 2}, 0o644))

	_, err := execute(t, "codec", "pcm2wav", in, filepath.Join(dir, "out.wav"), "--channels", "6")
	require.Error(t, err)
}

func TestConfigShowReportsIssues(t *testing.T) {
	t.Setenv("INTERVIEW_LIVE_WS_ENDPOINT", "")
	t.Setenv("INTERVIEW_LIVE_TOKEN_ENDPOINT", "")
	t.Chdir(t.TempDir())

	out, err := execute(t, "config", "show", "--ws-endpoint", "wss://live.example/ws?key=secret")
	require.NoError(t, err)
	assert.Contains(t, out, "Interview Live Configuration")
	assert.NotContains(t, out, "secret")
	assert.NotContains(t, out, "Issues:")
}

func TestSessionConfigReadsInstructionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("  Ask about Go.\n"), 0o644))

	opts := sessionOptions{instruction: "ignored", instructionFile: path, greeting: "Hi", sessionID: "s-1"}
	sc, err := opts.sessionConfig()
	require.NoError(t, err)
	assert.Equal(t, "Ask about Go.", sc.SystemInstruction)
	assert.Equal(t, "Hi", sc.Greeting)
	assert.Equal(t, "s-1", sc.SessionID)

	opts.instructionFile = filepath.Join(t.TempDir(), "missing.txt")
	_, err = opts.sessionConfig()
	require.Error(t, err)
}

func TestWriteTranscript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.json")
	entries := []live.TranscriptEntry{
		{Role: live.RoleAssistant, Content: "Tell me about yourself.", Timestamp: time.Unix(0, 0).UTC()},
	}

	var out bytes.Buffer
	require.NoError(t, writeTranscript(&out, path, entries))

	var decoded []live.TranscriptEntry
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, entries, decoded)

	file, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, out.String(), string(file))

	out.Reset()
	require.NoError(t, writeTranscript(&out, "", nil))
	assert.Equal(t, "[]\n", out.String())
}
