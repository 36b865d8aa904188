package audiodev

import (
	"encoding/binary"
	"errors"
	"fmt"

	"layeh.com/gopus"

	"github.com/rojolang/interview-live-go/pkg/live"
)

const (
	OpusMIMEType = "audio/opus"

	opusFrameMs       = 20
	opusMaxPacketSize = 4000
)

// OpusEncoder encodes each chunk as a run of 20 ms Opus packets, each
// prefixed with its length as a big-endian uint16. A trailing partial frame
// is padded with silence.
type OpusEncoder struct {
	enc       *gopus.Encoder
	channels  int
	frameSize int // samples per channel
}

// NewOpusEncoder is a live.EncoderFactory. Opus accepts 8, 12, 16, 24 and
// 48 kHz.
func NewOpusEncoder(format live.AudioFormat) (live.ChunkEncoder, error) {
	if format.BitsPerSample != 16 {
		return nil, fmt.Errorf("opus encoder needs 16-bit samples, got %d", format.BitsPerSample)
	}
	switch format.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("opus does not support %d Hz", format.SampleRate)
	}
	enc, err := gopus.NewEncoder(format.SampleRate, format.Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return &OpusEncoder{
		enc:       enc,
		channels:  format.Channels,
		frameSize: format.SampleRate * opusFrameMs / 1000,
	}, nil
}

func (e *OpusEncoder) MIMEType() string { return OpusMIMEType }

func (e *OpusEncoder) Encode(pcm []byte) ([]byte, error) {
	samples := live.BytesToInt16s(pcm)
	if len(samples) == 0 {
		return nil, errors.New("opus: empty chunk")
	}
	step := e.frameSize * e.channels

	var out []byte
	for off := 0; off < len(samples); off += step {
		frame := make([]int16, step)
		copy(frame, samples[off:min(off+step, len(samples))])

		packet, err := e.enc.Encode(frame, e.frameSize, opusMaxPacketSize)
		if err != nil {
			return nil, fmt.Errorf("opus encode: %w", err)
		}
		out = binary.BigEndian.AppendUint16(out, uint16(len(packet)))
		out = append(out, packet...)
	}
	return out, nil
}

// SplitOpusPackets undoes the length prefixing applied by OpusEncoder.
func SplitOpusPackets(data []byte) ([][]byte, error) {
	var packets [][]byte
	for len(data) > 0 {
		if len(data) < 2 {
			return nil, errors.New("opus: truncated length prefix")
		}
		n := int(binary.BigEndian.Uint16(data))
		data = data[2:]
		if len(data) < n {
			return nil, fmt.Errorf("opus: packet of %d bytes truncated to %d", n, len(data))
		}
		packets = append(packets, data[:n])
		data = data[n:]
	}
	return packets, nil
}

// EncoderLadder is the chunk encoder preference for a capture encoding
// name: "auto" tries Opus, then WAV, then raw PCM.
func EncoderLadder(encoding string) []live.EncoderFactory {
	switch encoding {
	case "opus":
		return []live.EncoderFactory{NewOpusEncoder}
	case "wav":
		return []live.EncoderFactory{live.NewWAVEncoder}
	case "pcm":
		return []live.EncoderFactory{live.NewPCMEncoder}
	default:
		return []live.EncoderFactory{NewOpusEncoder, live.NewWAVEncoder, live.NewPCMEncoder}
	}
}
