package chat

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Peer is one live connection and its bound identity. The registry owns
// the peer for its lifetime; everything else holds only a reference used
// to enqueue frames or request teardown.
type Peer struct {
	conn     *websocket.Conn
	identity *Identity // nil until bound; such a peer is invisible to presence and unaddressable
	liveness *monitor
	send     chan []byte
	done     chan struct{}
	once     sync.Once
}

func newPeer(conn *websocket.Conn, identity *Identity, sendBuffer int) *Peer {
	return &Peer{
		conn:     conn,
		identity: identity,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
}

// enqueue hands a frame to the peer's write pump without blocking.
// Reports false when the queue is full and the frame was dropped.
func (p *Peer) enqueue(data []byte) bool {
	select {
	case p.send <- data:
		return true
	default:
		return false
	}
}

// shut cancels liveness and closes the transport exactly once. The write
// pump observes done and exits; the read pump is unblocked by the close.
func (p *Peer) shut() {
	p.once.Do(func() {
		if p.liveness != nil {
			p.liveness.stop()
		}
		close(p.done)
		p.conn.Close()
	})
}
