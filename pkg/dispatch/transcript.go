package dispatch

import (
	"slices"
	"sync"

	"github.com/rhuss/chorus/pkg/api"
)

// Transcript is the ordered message list of one target. Messages are
// immutable once appended, except a placeholder, whose content is replaced
// by its relay with ever longer text.
type Transcript struct {
	mu       sync.RWMutex
	messages []api.Message
}

// Append adds m at the end of the transcript.
func (t *Transcript) Append(m api.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, m)
}

// SetContent replaces the content of the message with the given ID. It
// reports whether the message exists.
func (t *Transcript) SetContent(id, content string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].ID == id {
			t.messages[i].Content = content
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the current messages.
func (t *Transcript) Snapshot() []api.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.messages)
}

// Reset replaces the whole transcript with messages.
func (t *Transcript) Reset(messages ...api.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = slices.Clone(messages)
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Transcripts holds one Transcript per target ID.
type Transcripts struct {
	mu sync.Mutex
	m  map[string]*Transcript
}

// NewTranscripts creates an empty transcript set.
func NewTranscripts() *Transcripts {
	return &Transcripts{m: make(map[string]*Transcript)}
}

// For returns the transcript of targetID, creating it on first use.
func (s *Transcripts) For(targetID string) *Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.m[targetID]
	if !ok {
		t = &Transcript{}
		s.m[targetID] = t
	}
	return t
}

// Drop forgets the transcript of targetID.
func (s *Transcripts) Drop(targetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, targetID)
}
