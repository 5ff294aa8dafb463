package chat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultGreeting is the single model turn a fresh or unreadable transcript
// starts with.
const DefaultGreeting = "Hi! I can tell you about the studio's work, how " +
	"projects run, and when we're available. What would you like to know?"

func defaultTranscript() []Message {
	return []Message{{Role: RoleModel, Text: DefaultGreeting}}
}

// TranscriptStore persists the chat transcript as one JSON array of turns at
// a well-known path. Load never fails: a missing or unreadable file yields
// the default greeting transcript.
type TranscriptStore struct {
	mu   sync.Mutex
	path string
}

// NewTranscriptStore returns a store writing to path.
func NewTranscriptStore(path string) *TranscriptStore {
	return &TranscriptStore{path: path}
}

// Load reads the transcript. Any failure (absent file, corrupt JSON, empty
// array) falls back to the default greeting rather than erroring.
func (s *TranscriptStore) Load() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return defaultTranscript()
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil || len(msgs) == 0 {
		return defaultTranscript()
	}
	return msgs
}

// Save writes the transcript atomically (temp file + rename).
func (s *TranscriptStore) Save(msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".transcript-*")
	if err != nil {
		return fmt.Errorf("create temp transcript: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close transcript: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace transcript: %w", err)
	}
	return nil
}

// Reset deletes the stored transcript so the next Load starts fresh.
func (s *TranscriptStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
