package admission

import (
	"sync"
	"time"
)

const DefaultBlockDuration = 30 * time.Minute

type blockEntry struct {
	reason string
	until  time.Time
}

// BlockRegistry holds time-bounded denial entries keyed by client identifier.
// Expired entries are removed lazily on lookup; no background sweep runs.
type BlockRegistry struct {
	mu      sync.Mutex
	entries map[string]blockEntry
}

func NewBlockRegistry() *BlockRegistry {
	return &BlockRegistry{entries: make(map[string]blockEntry)}
}

// Block inserts or overwrites the entry for clientID. Blocks never stack: a
// new call replaces any prior entry for the same identifier.
func (r *BlockRegistry) Block(clientID, reason string, duration time.Duration, now time.Time) {
	if duration <= 0 {
		duration = DefaultBlockDuration
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[clientID] = blockEntry{reason: reason, until: now.Add(duration)}
}

func (r *BlockRegistry) IsBlocked(clientID string, now time.Time) bool {
	_, blocked := r.Until(clientID, now)
	return blocked
}

// Until returns the expiry of an active block for clientID. An entry whose
// expiry has passed is deleted as a side effect of the lookup.
func (r *BlockRegistry) Until(clientID string, now time.Time) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[clientID]
	if !ok {
		return time.Time{}, false
	}
	if !now.Before(entry.until) {
		delete(r.entries, clientID)
		return time.Time{}, false
	}

	return entry.until, true
}

// Clear removes any entry for clientID, active or not.
func (r *BlockRegistry) Clear(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, clientID)
}
