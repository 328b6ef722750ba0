package chat

import "encoding/json"

// Roster returns one entry per currently identified live connection.
// Two connections for the same user produce two entries, matching the
// relay's per-connection fan-out.
func (h *Hub) Roster() []Identity {
	peers := h.registry.Snapshot()
	roster := make([]Identity, 0, len(peers))
	for _, p := range peers {
		if p.identity != nil {
			roster = append(roster, *p.identity)
		}
	}
	return roster
}

// BroadcastPresence computes the roster, serializes it once, and pushes
// the identical payload to every live connection, identified or not.
func (h *Hub) BroadcastPresence() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastPresenceLocked()
}

func (h *Hub) broadcastPresenceLocked() {
	payload, err := json.Marshal(presenceEnvelope{Online: h.Roster()})
	if err != nil {
		h.log.Error("marshal presence", "error", err)
		return
	}
	for _, p := range h.registry.Snapshot() {
		if !p.enqueue(payload) {
			h.log.Warn("send queue full, dropping presence frame", "remote", p.conn.RemoteAddr())
		}
	}
}
