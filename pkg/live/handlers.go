package live

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// handlerSet is a registration list for one event kind. add returns a func
// that removes exactly that registration.
type handlerSet[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []handlerEntry[T]
}

type handlerEntry[T any] struct {
	id uint64
	fn T
}

func (s *handlerSet[T]) add(fn T) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.entries = append(s.entries, handlerEntry[T]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, e := range s.entries {
				if e.id == id {
					s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
					return
				}
			}
		})
	}
}

// snapshot returns the registered handlers in registration order.
func (s *handlerSet[T]) snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.fn
	}
	return out
}

func (s *handlerSet[T]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Factory functions for common handlers

func CreateLoggingStateHandler(logger *Logger) StateHandler {
	log := orNop(logger)
	return func(state ConnectionState) {
		log.LogConnectionEvent("state_change", state, nil)
	}
}

func CreateErrorLoggingHandler(logger *Logger) ErrorHandler {
	log := orNop(logger)
	return func(err *LiveError) {
		log.LogError(err)
	}
}

// CreateTranscriptPrinter writes each committed entry as "[15:04:05] role: text".
func CreateTranscriptPrinter(w io.Writer) TranscriptHandler {
	return func(entry TranscriptEntry) {
		fmt.Fprintf(w, "[%s] %s: %s\n", entry.Timestamp.Format(time.TimeOnly), entry.Role, entry.Content)
	}
}

// CreateCaptionPrinter redraws the live caption on a single terminal line.
func CreateCaptionPrinter(w io.Writer) CaptionHandler {
	return func(caption string) {
		fmt.Fprintf(w, "\r\033[K> %s", caption)
	}
}

func CreateReconnectPrinter(w io.Writer) ReconnectHandler {
	return func(a ReconnectionAttempt) {
		fmt.Fprintf(w, "Reconnecting (%d/%d) in %s...\n", a.Current, a.Max, a.Delay)
	}
}

// SequentialErrorHandlers runs handlers in order on the calling goroutine.
func SequentialErrorHandlers(handlers ...ErrorHandler) ErrorHandler {
	return func(err *LiveError) {
		for _, h := range handlers {
			if h != nil {
				h(err)
			}
		}
	}
}

func SequentialStateHandlers(handlers ...StateHandler) StateHandler {
	return func(state ConnectionState) {
		for _, h := range handlers {
			if h != nil {
				h(state)
			}
		}
	}
}
