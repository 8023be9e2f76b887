package dedup

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/luzzy/message-sync/pkg/logger"
)

const (
	DefaultWindow   = 60 * time.Second
	DefaultCapacity = 100
)

// Fingerprint derives the suppression key for a push command. Recipient
// and body together identify a replay; the push channel re-delivers the
// same payload, it does not mint new ones.
func Fingerprint(recipient, body string) string {
	return fmt.Sprintf("%s:%s", recipient, body)
}

// Filter suppresses duplicate inbound commands within a time window. It is
// a best-effort replay guard, not a correctness guarantee: entries are
// evicted on capacity pressure and the whole cache resets with the process.
type Filter struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	lastSeen map[string]time.Time
}

func NewFilter(window time.Duration, capacity int) *Filter {
	if window <= 0 {
		window = DefaultWindow
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Filter{
		window:   window,
		capacity: capacity,
		lastSeen: make(map[string]time.Time),
	}
}

// ShouldProcess reports whether a command with this fingerprint should be
// handled now. First sight within the window records the timestamp and
// returns true; a repeat within the window returns false. The
// check-and-insert is a single critical section so concurrent deliveries
// of the same payload cannot both pass.
func (f *Filter) ShouldProcess(fingerprint string, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if last, ok := f.lastSeen[fingerprint]; ok && now.Sub(last) < f.window {
		logger.Warn("duplicate command suppressed", "age", now.Sub(last).String())
		return false
	}

	f.lastSeen[fingerprint] = now
	f.prune(now)
	return true
}

// Forget removes a fingerprint so the next delivery passes the filter.
// Callers use it when handling failed after ShouldProcess admitted the
// command; without it the broker's redelivery would be suppressed and
// the command lost.
func (f *Filter) Forget(fingerprint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.lastSeen, fingerprint)
}

// prune drops entries older than the window, then, if the cache still
// exceeds capacity, evicts the oldest entries down to half capacity.
// Caller holds the lock.
func (f *Filter) prune(now time.Time) {
	for k, seen := range f.lastSeen {
		if now.Sub(seen) > f.window {
			delete(f.lastSeen, k)
		}
	}

	if len(f.lastSeen) <= f.capacity {
		return
	}

	type entry struct {
		key  string
		seen time.Time
	}
	entries := make([]entry, 0, len(f.lastSeen))
	for k, seen := range f.lastSeen {
		entries = append(entries, entry{k, seen})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seen.Before(entries[j].seen) })

	evict := len(f.lastSeen) - f.capacity/2
	for i := 0; i < evict; i++ {
		delete(f.lastSeen, entries[i].key)
	}
}

// Len reports the current cache size.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lastSeen)
}
