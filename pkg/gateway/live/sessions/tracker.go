// Package sessions tracks active live voice sessions so shutdown can warn
// and cancel them, and so the gateway can cap concurrency.
package sessions

import (
	"context"
	"errors"
	"sync"
)

// ErrTooManySessions is returned by Register when the tracker is at
// capacity.
var ErrTooManySessions = errors.New("sessions: too many active live sessions")

// Handle exposes the controls a tracked session offers the tracker.
type Handle struct {
	Cancel func()
	Warn   func(code, message string) error
}

type tracked struct {
	handle Handle
	once   sync.Once
}

// Tracker is a registry of in-flight live sessions. Limit <= 0 means
// unlimited.
type Tracker struct {
	limit    int
	mu       sync.Mutex
	sessions map[string]*tracked
	wg       sync.WaitGroup
}

func NewTracker(limit int) *Tracker {
	return &Tracker{
		limit:    limit,
		sessions: make(map[string]*tracked),
	}
}

// Register adds a session. The returned unregister is safe to call more
// than once. Re-registering an ID replaces and unregisters the old entry.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func(), err error) {
	if t == nil {
		return func() {}, nil
	}

	entry := &tracked{handle: h}

	t.mu.Lock()
	old := t.sessions[sessionID]
	if old == nil && t.limit > 0 && len(t.sessions) >= t.limit {
		t.mu.Unlock()
		return nil, ErrTooManySessions
	}
	t.sessions[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
	}
	return func() { t.unregister(sessionID, entry) }, nil
}

func (t *Tracker) unregister(sessionID string, entry *tracked) {
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions[sessionID] == entry {
			delete(t.sessions, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// WarnAll sends a warning to every active session. Handles are collected
// under the lock but invoked outside it.
func (t *Tracker) WarnAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}

	var warns []func(code, message string) error
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry.handle.Warn != nil {
			warns = append(warns, entry.handle.Warn)
		}
	}
	t.mu.Unlock()

	for _, warn := range warns {
		_ = warn(code, message)
		sent++
	}
	return sent
}

// CancelAll cancels every active session.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry.handle.Cancel != nil {
			cancels = append(cancels, entry.handle.Cancel)
		}
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every session has unregistered or ctx expires. It
// reports whether the tracker fully drained.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
