package broker

import (
	"net"
	"sync"
	"time"
)

// peerEntry is the broker-side registry entry for one peer.
type peerEntry struct {
	id       string
	addr     *net.UDPAddr
	lastSeen time.Time
}

// registry is the authoritative set of peers the broker fans out to.
// Reads (lookup, snapshotExcept, ids, len) take an RLock; mutation
// (upsert, touch, sweep) takes a Lock, so removals are atomic with respect to
// a concurrent broadcast iteration.
type registry struct {
	mu    sync.RWMutex
	peers map[string]*peerEntry
}

func newRegistry() *registry {
	return &registry{peers: make(map[string]*peerEntry)}
}

// upsert creates or refreshes the entry for id, always trusting addr
// (the datagram's observed source) over anything carried inside the
// frame. It reports whether the peer was newly created.
func (r *registry) upsert(id string, addr *net.UDPAddr, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.peers[id]
	if !ok {
		r.peers[id] = &peerEntry{id: id, addr: addr, lastSeen: now}
		return true
	}
	e.addr = addr
	e.lastSeen = now
	return false
}

// touch refreshes last-seen for an already-known peer without
// changing its address. It reports whether the peer was known.
func (r *registry) touch(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.peers[id]
	if !ok {
		return false
	}
	e.lastSeen = now
	return true
}

func (r *registry) lookup(id string) (*peerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.peers[id]
	return e, ok
}

// snapshotExcept returns every entry except the one named excludeID,
// a stable point-in-time view for broadcast fan-out.
func (r *registry) snapshotExcept(excludeID string) []*peerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*peerEntry, 0, len(r.peers))
	for id, e := range r.peers {
		if id == excludeID {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ids returns every registered peer id, in arbitrary order.
func (r *registry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.peers))
	for id := range r.peers {
		out = append(out, id)
	}
	return out
}

// sweep removes every entry whose last-seen timestamp is older than
// now-window, returning the removed ids.
func (r *registry) sweep(now time.Time, window time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, e := range r.peers {
		if now.Sub(e.lastSeen) > window {
			delete(r.peers, id)
			removed = append(removed, id)
		}
	}
	return removed
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
