package live

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	wavHeaderSize = 44

	defaultPlaybackRate = 24000
	defaultChannels     = 1
	defaultBits         = 16

	maxSampleRate = 192000
)

// AudioFormat describes interleaved little-endian PCM.
type AudioFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultPlaybackFormat is what the service sends when a MIME type carries no rate.
func DefaultPlaybackFormat() AudioFormat {
	return AudioFormat{SampleRate: defaultPlaybackRate, Channels: defaultChannels, BitsPerSample: defaultBits}
}

// CaptureFormat is 16-bit mono at the given rate.
func CaptureFormat(sampleRate int) AudioFormat {
	return AudioFormat{SampleRate: sampleRate, Channels: 1, BitsPerSample: 16}
}

func (f AudioFormat) frameSize() int {
	return f.Channels * f.BitsPerSample / 8
}

// BytesPerSecond is the PCM byte rate.
func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRate * f.frameSize()
}

// Duration of n bytes of PCM in this format.
func (f AudioFormat) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// BytesFor returns the frame-aligned byte count covering d.
func (f AudioFormat) BytesFor(d time.Duration) int {
	fs := f.frameSize()
	if fs <= 0 {
		return 0
	}
	frames := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return frames * fs
}

// Validate applies the WAV parameter limits.
func (f AudioFormat) Validate() error {
	if f.SampleRate <= 0 || f.SampleRate > maxSampleRate {
		return newCodecError(ErrCodeInvalidParameter, fmt.Sprintf("sample rate %d outside (0, %d]", f.SampleRate, maxSampleRate))
	}
	if f.Channels != 1 && f.Channels != 2 {
		return newCodecError(ErrCodeInvalidParameter, fmt.Sprintf("unsupported channel count %d", f.Channels))
	}
	switch f.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		return newCodecError(ErrCodeInvalidParameter, fmt.Sprintf("unsupported bits per sample %d", f.BitsPerSample))
	}
	return nil
}

func (f AudioFormat) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitsPerSample)
}

// AudioBuffer is decoded PCM ready for a sink.
type AudioBuffer struct {
	Format   AudioFormat
	Data     []byte
	MIMEType string
}

func (b AudioBuffer) Duration() time.Duration {
	return b.Format.Duration(len(b.Data))
}

// BlobToBase64 reads r to EOF and returns its standard base64 encoding.
func BlobToBase64(r io.Reader) (string, error) {
	if r == nil {
		return "", newCodecError(ErrCodeEmptyInput, "no input reader")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", WrapError(err, ErrCodeDecodeFailure, "reading audio blob")
	}
	if len(data) == 0 {
		return "", newCodecError(ErrCodeEmptyInput, "audio blob is empty")
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodeBase64 is BlobToBase64 for an in-memory buffer.
func EncodeBase64(data []byte) (string, error) {
	return BlobToBase64(bytes.NewReader(data))
}

// DecodeBase64 decodes standard base64.
func DecodeBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, newCodecError(ErrCodeEmptyInput, "base64 payload is empty")
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, WrapError(err, ErrCodeInvalidEncoding, "malformed base64 payload")
	}
	if len(data) == 0 {
		return nil, newCodecError(ErrCodeEmptyResult, "base64 payload decoded to zero bytes")
	}
	return data, nil
}

// PCMToWAV prefixes raw samples with a canonical 44-byte RIFF/WAVE header.
func PCMToWAV(pcm []byte, sampleRate, channels, bitsPerSample int) ([]byte, error) {
	format := AudioFormat{SampleRate: sampleRate, Channels: channels, BitsPerSample: bitsPerSample}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, newCodecError(ErrCodeEmptyInput, "pcm input is empty")
	}

	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	out := make([]byte, wavHeaderSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1)
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], uint16(bitsPerSample))
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[wavHeaderSize:], pcm)
	return out, nil
}

// WAVHeader is the parsed canonical header.
type WAVHeader struct {
	AudioFormat
	RIFFSize   int
	ByteRate   int
	BlockAlign int
	DataLength int
}

// ParseWAVHeader reads a canonical 44-byte header as written by PCMToWAV.
func ParseWAVHeader(data []byte) (WAVHeader, error) {
	if len(data) < wavHeaderSize {
		return WAVHeader{}, newCodecError(ErrCodeDecodeFailure, fmt.Sprintf("wav data too short: %d bytes", len(data)))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return WAVHeader{}, newCodecError(ErrCodeDecodeFailure, "missing RIFF/WAVE signature")
	}
	if string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return WAVHeader{}, newCodecError(ErrCodeDecodeFailure, "not a canonical wav header")
	}
	if binary.LittleEndian.Uint16(data[20:22]) != 1 {
		return WAVHeader{}, newCodecError(ErrCodeDecodeFailure, "wav payload is not linear PCM")
	}
	return WAVHeader{
		AudioFormat: AudioFormat{
			SampleRate:    int(binary.LittleEndian.Uint32(data[24:28])),
			Channels:      int(binary.LittleEndian.Uint16(data[22:24])),
			BitsPerSample: int(binary.LittleEndian.Uint16(data[34:36])),
		},
		RIFFSize:   int(binary.LittleEndian.Uint32(data[4:8])),
		ByteRate:   int(binary.LittleEndian.Uint32(data[28:32])),
		BlockAlign: int(binary.LittleEndian.Uint16(data[32:34])),
		DataLength: int(binary.LittleEndian.Uint32(data[40:44])),
	}, nil
}

// ParsePCMMimeParams extracts rate= from a MIME type such as
// "audio/pcm;rate=24000". Anything missing or unparsable falls back to
// 24000 Hz mono 16-bit; it never fails.
func ParsePCMMimeParams(mime string) AudioFormat {
	format := DefaultPlaybackFormat()
	for _, param := range strings.Split(mime, ";")[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "rate") {
			continue
		}
		rate, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || rate <= 0 {
			continue
		}
		format.SampleRate = rate
	}
	return format
}

// DecodeAudioPayload normalizes an inline base64 audio part into a buffer.
func DecodeAudioPayload(mime, data string) (AudioBuffer, error) {
	raw, err := DecodeBase64(data)
	if err != nil {
		return AudioBuffer{}, err
	}
	return AudioBuffer{Format: ParsePCMMimeParams(mime), Data: raw, MIMEType: mime}, nil
}

// BinaryAudioBuffer treats a raw binary frame as PCM in the default format.
func BinaryAudioBuffer(data []byte) (AudioBuffer, error) {
	if len(data) == 0 {
		return AudioBuffer{}, newCodecError(ErrCodeEmptyInput, "binary audio frame is empty")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return AudioBuffer{Format: DefaultPlaybackFormat(), Data: buf, MIMEType: "audio/pcm"}, nil
}

// Int16sToBytes converts samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to samples. A trailing odd byte is ignored.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
