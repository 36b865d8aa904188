package live

import (
	"strings"
	"sync"
	"time"
)

// TranscriptBuffer keeps the committed transcript plus three in-progress
// channels: silent model text, the live output caption, and user speech
// awaiting its debounce commit.
type TranscriptBuffer struct {
	debounce  time.Duration
	onCommit  func(TranscriptEntry)
	onCaption func(string)
	now       func() time.Time

	mu        sync.Mutex
	entries   []TranscriptEntry
	assistant strings.Builder
	caption   strings.Builder
	user      strings.Builder
	userSince time.Time
	userTimer *time.Timer
	userGen   uint64
}

// NewTranscriptBuffer returns an empty buffer. onCommit and onCaption may be
// nil; they are called with the buffer lock held and must not block.
func NewTranscriptBuffer(debounce time.Duration, onCommit func(TranscriptEntry), onCaption func(string)) *TranscriptBuffer {
	return &TranscriptBuffer{
		debounce:  debounce,
		onCommit:  onCommit,
		onCaption: onCaption,
		now:       time.Now,
	}
}

// AppendAssistantText accumulates model text until the turn completes.
func (t *TranscriptBuffer) AppendAssistantText(text string) {
	if text == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.assistant.WriteString(text)
}

// AppendCaption extends the live caption of the spoken output and returns it.
func (t *TranscriptBuffer) AppendCaption(text string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.caption.WriteString(text)
	current := t.caption.String()
	if t.onCaption != nil {
		t.onCaption(current)
	}
	return current
}

// AppendUserSpeech adds partial input transcription and restarts the commit timer.
func (t *TranscriptBuffer) AppendUserSpeech(text string) {
	if text == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.user.Len() == 0 {
		t.userSince = t.now()
	}
	t.user.WriteString(text)

	if t.userTimer != nil {
		t.userTimer.Stop()
	}
	t.userGen++
	gen := t.userGen
	t.userTimer = time.AfterFunc(t.debounce, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if gen != t.userGen {
			return
		}
		t.commitUserLocked()
	})
}

// FlushUserSpeech commits pending user speech immediately.
func (t *TranscriptBuffer) FlushUserSpeech() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commitUserLocked()
}

// CompleteTurn commits the turn's model text, or the caption if the model
// sent no text, then clears both. Pending user speech is committed first so
// entries stay in conversational order.
func (t *TranscriptBuffer) CompleteTurn() (TranscriptEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.commitUserLocked()

	content := strings.TrimSpace(t.assistant.String())
	if content == "" {
		content = strings.TrimSpace(t.caption.String())
	}
	t.assistant.Reset()
	t.caption.Reset()
	if content == "" {
		return TranscriptEntry{}, false
	}
	return t.appendLocked(RoleAssistant, content, t.now()), true
}

// Interrupt drops the in-progress model text and caption.
func (t *TranscriptBuffer) Interrupt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.assistant.Reset()
	t.caption.Reset()
}

// Entries returns a copy of the committed transcript.
func (t *TranscriptBuffer) Entries() []TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TranscriptEntry(nil), t.entries...)
}

// Take hands the committed transcript to the caller and resets the buffer.
func (t *TranscriptBuffer) Take() []TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelUserTimerLocked()
	entries := t.entries
	t.entries = nil
	t.assistant.Reset()
	t.caption.Reset()
	t.user.Reset()
	return entries
}

func (t *TranscriptBuffer) commitUserLocked() {
	t.cancelUserTimerLocked()
	content := strings.TrimSpace(t.user.String())
	t.user.Reset()
	if content == "" {
		return
	}
	t.appendLocked(RoleUser, content, t.userSince)
}

func (t *TranscriptBuffer) cancelUserTimerLocked() {
	if t.userTimer != nil {
		t.userTimer.Stop()
		t.userTimer = nil
	}
	t.userGen++
}

func (t *TranscriptBuffer) appendLocked(role Role, content string, ts time.Time) TranscriptEntry {
	entry := TranscriptEntry{Role: role, Content: content, Timestamp: ts}
	t.entries = append(t.entries, entry)
	if t.onCommit != nil {
		t.onCommit(entry)
	}
	return entry
}
