package voice

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Clock reports the current position on the playback timeline. Implementations
// wrap the audio output device clock so scheduling stays aligned with what the
// speaker actually played.
type Clock interface {
	Now() time.Duration
}

// Sink plays PCM16 audio at scheduled positions on the Clock's timeline.
// PlayAt must not block for the duration of the audio; done is invoked once
// the block finished playing or was flushed. Flush discards everything that
// has not started playing yet.
type Sink interface {
	PlayAt(start time.Duration, pcm []byte, done func()) error
	Flush()
	Close() error
}

// Scheduler assigns gapless start times to decoded audio blocks and keeps the
// set of blocks currently in flight.
//
// The placement rule is start = max(cursor, now): blocks queue back to back
// while audio is ahead of the clock, and snap forward to "now" after a gap,
// so a stall self-heals instead of accumulating lag.
type Scheduler struct {
	clock  Clock
	sink   Sink
	format Format
	log    *slog.Logger

	mu      sync.Mutex
	cursor  time.Duration
	nextID  int64
	tracked map[int64]struct{}
}

// NewScheduler returns a Scheduler playing blocks of the given format.
func NewScheduler(clock Clock, sink Sink, format Format, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		clock:   clock,
		sink:    sink,
		format:  format,
		log:     log,
		tracked: make(map[int64]struct{}),
	}
}

// Enqueue decodes one base64 audio block and schedules it for playback.
// A block that fails to decode is dropped with a warning; the session
// continues with the next block.
func (s *Scheduler) Enqueue(b64 string) {
	pcm, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		s.log.Warn("dropping undecodable audio block", "err", err)
		return
	}
	if len(pcm) == 0 {
		return
	}

	s.mu.Lock()
	start := s.cursor
	if now := s.clock.Now(); now > start {
		start = now
	}
	s.cursor = start + s.format.Duration(len(pcm))
	s.nextID++
	id := s.nextID
	s.tracked[id] = struct{}{}
	s.mu.Unlock()

	if err := s.sink.PlayAt(start, pcm, func() { s.untrack(id) }); err != nil {
		s.log.Warn("dropping unplayable audio block", "err", err)
		s.untrack(id)
	}
}

func (s *Scheduler) untrack(id int64) {
	s.mu.Lock()
	delete(s.tracked, id)
	s.mu.Unlock()
}

// Tracked returns the number of blocks scheduled but not yet finished.
func (s *Scheduler) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracked)
}

// Interrupt flushes all pending playback and rewinds the cursor so the next
// block starts immediately. Used when the remote end barges in on a turn.
func (s *Scheduler) Interrupt() {
	s.sink.Flush()
	s.mu.Lock()
	s.cursor = 0
	s.tracked = make(map[int64]struct{})
	s.mu.Unlock()
}

// Reset clears the cursor and the tracked set without touching the sink.
// The controller calls it during teardown after the sink is closed.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.cursor = 0
	s.tracked = make(map[int64]struct{})
	s.mu.Unlock()
}

// Cursor returns the timeline position where the next block would be placed
// at the earliest.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Scheduler) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("scheduler(cursor=%s tracked=%d)", s.cursor, len(s.tracked))
}
