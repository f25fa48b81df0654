// Package sessions tracks live voice sessions for draining and per-user
// connection limits.
package sessions

import (
	"context"
	"sync"
)

// Handle lets the tracker reach into a running session: Cancel tears it
// down, Warn delivers a drain notice over its socket.
type Handle struct {
	UserID string
	Cancel func()
	Warn   func(code, message string) error
}

type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	byUser   map[string]int
	wg       sync.WaitGroup
}

type trackedSession struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]*trackedSession),
		byUser:   make(map[string]int),
	}
}

// Register adds a session and returns its idempotent unregister func. A
// duplicate session id evicts the previous entry.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	unregister, _ = t.RegisterWithCap(sessionID, h, 0)
	return unregister
}

// RegisterWithCap registers unless the user already holds maxPerUser live
// sessions (0 means unlimited). The count check and the insert happen under
// one lock hold, so concurrent upgrades cannot both slip past the cap.
func (t *Tracker) RegisterWithCap(sessionID string, h Handle, maxPerUser int) (unregister func(), ok bool) {
	if t == nil {
		return func() {}, true
	}

	entry := &trackedSession{handle: h}

	t.mu.Lock()
	if maxPerUser > 0 && t.byUser[h.UserID] >= maxPerUser {
		t.mu.Unlock()
		return func() {}, false
	}
	old := t.sessions[sessionID]
	t.sessions[sessionID] = entry
	t.byUser[h.UserID]++
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
	}

	return func() { t.unregister(sessionID, entry) }, true
}

func (t *Tracker) unregister(sessionID string, entry *trackedSession) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions[sessionID] == entry {
			delete(t.sessions, sessionID)
		}
		if n := t.byUser[entry.handle.UserID]; n <= 1 {
			delete(t.byUser, entry.handle.UserID)
		} else {
			t.byUser[entry.handle.UserID] = n - 1
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

// CountForUser reports a user's live session count, for connection caps.
func (t *Tracker) CountForUser(userID string) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byUser[userID]
}

// WarnAll notifies every session, used when the server starts draining.
func (t *Tracker) WarnAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}

	var warns []func(code, message string) error
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry == nil || entry.handle.Warn == nil {
			continue
		}
		warns = append(warns, entry.handle.Warn)
	}
	t.mu.Unlock()

	for _, warn := range warns {
		_ = warn(code, message)
		sent++
	}
	return sent
}

// CancelAll force-terminates every session.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every session unregisters, or ctx expires.
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
