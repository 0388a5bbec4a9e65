// Package retention bounds how many surfaces the runtime keeps alive.
package retention

import (
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultMaxSurfaces is the soft cap on tracked surfaces.
const DefaultMaxSurfaces = 24

// Tracker records surface touch order and picks eviction victims. It is owned
// by the runtime loop and is not safe for concurrent use.
type Tracker struct {
	max   int
	order *simplelru.LRU[string, struct{}]
}

// New returns a tracker holding at most max surfaces; max <= 0 uses
// DefaultMaxSurfaces.
func New(max int) *Tracker {
	if max <= 0 {
		max = DefaultMaxSurfaces
	}
	// One slot of headroom so Add never evicts on its own; trimming is
	// done in Touch where the active surface can be spared.
	order, err := simplelru.NewLRU[string, struct{}](max+1, nil)
	if err != nil {
		panic(err)
	}
	return &Tracker{max: max, order: order}
}

// Max returns the cap.
func (t *Tracker) Max() int { return t.max }

// Len returns the number of tracked surfaces.
func (t *Tracker) Len() int { return t.order.Len() }

// Touch marks id as most recently used and returns the ids evicted to stay
// under the cap, oldest first. The active surface is never evicted; when it
// is the oldest it is cycled to the back instead.
func (t *Tracker) Touch(id, active string) []string {
	if id == "" {
		return nil
	}
	t.order.Add(id, struct{}{})

	var evicted []string
	for t.order.Len() > t.max {
		oldest, _, ok := t.order.GetOldest()
		if !ok {
			break
		}
		if oldest == active {
			t.order.Get(oldest)
			continue
		}
		t.order.Remove(oldest)
		evicted = append(evicted, oldest)
	}
	return evicted
}

// Forget stops tracking id.
func (t *Tracker) Forget(id string) {
	t.order.Remove(id)
}

// IDs returns tracked ids, oldest first.
func (t *Tracker) IDs() []string {
	return t.order.Keys()
}

// Reset forgets every surface.
func (t *Tracker) Reset() {
	t.order.Purge()
}
