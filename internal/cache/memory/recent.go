// Package memory holds in-process caches.
package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// RecentIDs remembers recently accepted ids for a bounded time so repeated
// deliveries of the same id can be dropped. Safe for concurrent use.
type RecentIDs struct {
	mu         sync.Mutex
	ids        *expirable.LRU[string, struct{}]
	accepted   int
	duplicates int
}

// NewRecentIDs keeps at most size ids, each for ttl.
func NewRecentIDs(size int, ttl time.Duration) *RecentIDs {
	if size <= 0 {
		size = 1
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RecentIDs{ids: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// Accept records id and reports whether it was new. Empty ids are never
// accepted.
func (r *RecentIDs) Accept(id string) bool {
	id = strings.TrimSpace(id)
	if r == nil || id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.ids.Get(id); seen {
		r.duplicates++
		return false
	}
	r.ids.Add(id, struct{}{})
	r.accepted++
	return true
}

// Stats returns how many ids were accepted and how many were duplicates.
func (r *RecentIDs) Stats() (accepted, duplicates int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accepted, r.duplicates
}

// Len is the number of ids currently remembered.
func (r *RecentIDs) Len() int { return r.ids.Len() }

// Reset forgets every id and zeroes the counters.
func (r *RecentIDs) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids.Purge()
	r.accepted, r.duplicates = 0, 0
}
