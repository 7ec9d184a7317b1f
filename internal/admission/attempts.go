package admission

import (
	"sync"
	"time"
)

const (
	DefaultAttemptLimit  = 5
	DefaultAttemptWindow = time.Hour
)

type attemptRecord struct {
	count   int
	resetAt time.Time
}

// AttemptTracker counts authentication failures per client identifier within
// a fixed window. The window restarts as soon as it elapses rather than
// sliding continuously.
type AttemptTracker struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	records map[string]attemptRecord
}

func NewAttemptTracker(limit int, window time.Duration) *AttemptTracker {
	if limit <= 0 {
		limit = DefaultAttemptLimit
	}
	if window <= 0 {
		window = DefaultAttemptWindow
	}

	return &AttemptTracker{
		limit:   limit,
		window:  window,
		records: make(map[string]attemptRecord),
	}
}

// RecordFailure counts one failed attempt for clientID and returns the
// post-increment count plus whether this failure pushed the count to the
// limit. The caller is expected to escalate a tripped record to a block and
// then consume it with Clear.
func (t *AttemptTracker) RecordFailure(clientID string, now time.Time) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.records[clientID]
	if !ok || now.After(record.resetAt) {
		record = attemptRecord{resetAt: now.Add(t.window)}
	}
	record.count++
	t.records[clientID] = record

	return record.count, record.count >= t.limit
}

// Clear removes the record for clientID. Called on successful authentication
// and after a threshold trip has been escalated.
func (t *AttemptTracker) Clear(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.records, clientID)
}

// OverThreshold reports whether clientID has reached the limit within a still
// open window.
func (t *AttemptTracker) OverThreshold(clientID string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.records[clientID]
	return ok && !now.After(record.resetAt) && record.count >= t.limit
}
