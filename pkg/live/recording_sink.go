package live

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RecordingSink saves every buffer it is asked to play as a WAV file, then
// hands it to Next. Recording failures are logged and never block playback.
type RecordingSink struct {
	outputDir string
	next      AudioSink
	log       *Logger

	mu         sync.Mutex
	segments   int
	totalBytes int64
}

// NewRecordingSink creates outputDir if needed. A nil next plays nothing and
// completes each buffer after its duration.
func NewRecordingSink(outputDir string, next AudioSink, logger *Logger) (*RecordingSink, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, WrapError(err, ErrCodeConfigInvalid, "create recording directory")
	}
	if next == nil {
		next = NewNullSink()
	}
	return &RecordingSink{
		outputDir: outputDir,
		next:      next,
		log:       orNop(logger).WithComponent("recorder"),
	}, nil
}

func (s *RecordingSink) Play(buf AudioBuffer, done func()) error {
	if err := s.save(buf); err != nil {
		s.log.WithError(err).Warn("Failed to save audio segment")
	}
	return s.next.Play(buf, done)
}

func (s *RecordingSink) Stop() error {
	return s.next.Stop()
}

func (s *RecordingSink) save(buf AudioBuffer) error {
	wav, err := PCMToWAV(buf.Data, buf.Format.SampleRate, buf.Format.Channels, buf.Format.BitsPerSample)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.segments++
	n := s.segments
	s.totalBytes += int64(len(buf.Data))
	s.mu.Unlock()

	name := fmt.Sprintf("%s_%04d.wav", time.Now().Format("20060102_150405"), n)
	return os.WriteFile(filepath.Join(s.outputDir, name), wav, 0o644)
}

// Stats returns the number of segments recorded and their PCM byte total.
func (s *RecordingSink) Stats() (segments int, totalBytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segments, s.totalBytes
}
