package auth

import (
	"container/list"
	"sync"
	"time"
)

const (
	DefaultNonceTTL      = 10 * time.Minute
	DefaultNonceCapacity = 2000
)

type nonceEntry struct {
	nonce string
	seen  time.Time
}

// ReplayGuard remembers recently used nonces in insertion order. Entries expire
// after ttl and the oldest are evicted once capacity is exceeded. State lives in
// memory only, so a restart forgets every nonce.
type ReplayGuard struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

// NewReplayGuard builds a guard; non-positive arguments fall back to the defaults.
func NewReplayGuard(ttl time.Duration, capacity int) *ReplayGuard {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	if capacity <= 0 {
		capacity = DefaultNonceCapacity
	}
	return &ReplayGuard{
		ttl:      ttl,
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// Seen reports whether nonce was already recorded. A new nonce is recorded at now.
func (g *ReplayGuard) Seen(nonce string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.purge(now)
	if _, ok := g.index[nonce]; ok {
		return true
	}
	g.index[nonce] = g.order.PushBack(nonceEntry{nonce: nonce, seen: now})
	for g.order.Len() > g.capacity {
		g.remove(g.order.Front())
	}
	return false
}

// Len returns the number of nonces currently tracked.
func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.order.Len()
}

func (g *ReplayGuard) purge(now time.Time) {
	cutoff := now.Add(-g.ttl)
	for el := g.order.Front(); el != nil; el = g.order.Front() {
		if !el.Value.(nonceEntry).seen.Before(cutoff) {
			return
		}
		g.remove(el)
	}
}

func (g *ReplayGuard) remove(el *list.Element) {
	entry := g.order.Remove(el).(nonceEntry)
	delete(g.index, entry.nonce)
}
