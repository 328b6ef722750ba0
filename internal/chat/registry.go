package chat

import "sync"

// Registry is the authoritative set of live peers.
type Registry struct {
	mu    sync.RWMutex
	peers map[*Peer]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[*Peer]struct{})}
}

// Add inserts a peer.
func (r *Registry) Add(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p] = struct{}{}
}

// Remove deletes a peer, reporting whether it was present. Callers use
// the return value to run removal side effects exactly once when an
// eviction and a read error race.
func (r *Registry) Remove(p *Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[p]; !ok {
		return false
	}
	delete(r.peers, p)
	return true
}

// Snapshot returns the current set of peers.
func (r *Registry) Snapshot() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := make([]*Peer, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	return peers
}

// ForUser returns every live peer bound to the given user id.
func (r *Registry) ForUser(userID string) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var peers []*Peer
	for p := range r.peers {
		if p.identity != nil && p.identity.UserID == userID {
			peers = append(peers, p)
		}
	}
	return peers
}

// Len returns the number of live peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
