// Package activity records when the port server last served a request
package activity

import (
	"sync"
	"time"
)

// Tracker records the last request timestamp in a thread-safe manner
type Tracker struct {
	mu          sync.RWMutex
	lastRequest *time.Time
	now         func() time.Time
}

// NewTracker creates a new activity tracker
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// RecordActivity records the current time as the last request timestamp.
// Called for every accepted connection.
func (t *Tracker) RecordActivity() {
	now := t.now().UTC()
	t.mu.Lock()
	t.lastRequest = &now
	t.mu.Unlock()
}

// GetLastActivity returns the last recorded request timestamp, or nil if
// no request has been accepted yet
func (t *Tracker) GetLastActivity() *time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastRequest == nil {
		return nil
	}
	ts := *t.lastRequest
	return &ts
}

// IdleFor returns how long it has been since the last request, or zero if
// there has been none
func (t *Tracker) IdleFor() time.Duration {
	last := t.GetLastActivity()
	if last == nil {
		return 0
	}
	return t.now().Sub(*last)
}
