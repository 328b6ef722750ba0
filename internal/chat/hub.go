// Package chat implements the connection, presence, and relay core: the
// registry of live peers, the heartbeat-driven liveness monitor, the
// presence broadcaster, and the message relay.
package chat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds every socket write, control frames included.
const writeWait = 10 * time.Second

// defaultReadLimit bounds inbound frames. Attachments travel inline as
// base64, so the cap stays generous.
const defaultReadLimit = 10 << 20

// TokenVerifier resolves a bearer token to a user identity.
type TokenVerifier interface {
	VerifyToken(token string) (userID, username string, err error)
}

// MessageStore persists one message and returns its assigned id.
type MessageStore interface {
	SaveMessage(sender, recipient, text, file string) (string, error)
}

// BlobStore persists attachment bytes and returns a stable reference.
type BlobStore interface {
	Save(name string, data []byte) (string, error)
}

// Options configures a Hub. Verifier, Store, and Blobs are required.
type Options struct {
	Verifier     TokenVerifier
	Store        MessageStore
	Blobs        BlobStore
	Logger       *slog.Logger
	PingInterval time.Duration
	PongTimeout  time.Duration
	SendBuffer   int
	ReadLimit    int64
}

// Hub is the connection lifecycle controller. It binds identities onto
// new connections, starts their pumps and liveness monitoring, relays
// inbound messages, and broadcasts presence on every membership change.
type Hub struct {
	registry *Registry
	verifier TokenVerifier
	store    MessageStore
	blobs    BlobStore
	log      *slog.Logger

	pingInterval time.Duration
	pongTimeout  time.Duration
	sendBuffer   int
	readLimit    int64

	// mu serializes registry mutations with their triggered presence
	// broadcast, so add/remove plus broadcast is one step as observed by
	// every other connection.
	mu sync.Mutex
	wg sync.WaitGroup
}

// NewHub creates a Hub.
func NewHub(opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 5 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 16
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	return &Hub{
		registry:     NewRegistry(),
		verifier:     opts.Verifier,
		store:        opts.Store,
		blobs:        opts.Blobs,
		log:          opts.Logger,
		pingInterval: opts.PingInterval,
		pongTimeout:  opts.PongTimeout,
		sendBuffer:   opts.SendBuffer,
		readLimit:    opts.ReadLimit,
	}
}

// HandleConnection takes ownership of an upgraded connection. An empty
// token leaves the connection unidentified but connected; a token that
// fails verification closes this connection only.
func (h *Hub) HandleConnection(conn *websocket.Conn, token string) {
	var identity *Identity
	if token != "" {
		userID, username, err := h.verifier.VerifyToken(token)
		if err != nil {
			h.log.Warn("token verification failed, closing connection",
				"remote", conn.RemoteAddr(), "error", err)
			deadline := time.Now().Add(writeWait)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token"),
				deadline)
			conn.Close()
			return
		}
		identity = &Identity{UserID: userID, Username: username}
	}

	conn.SetReadLimit(h.readLimit)

	p := newPeer(conn, identity, h.sendBuffer)
	p.liveness = newMonitor(h.pongTimeout, func() {
		h.log.Info("peer failed heartbeat, evicting", "remote", conn.RemoteAddr())
		h.drop(p)
	})
	conn.SetPongHandler(func(string) error {
		p.liveness.pong()
		return nil
	})

	h.mu.Lock()
	h.registry.Add(p)
	h.broadcastPresenceLocked()
	h.mu.Unlock()

	if identity != nil {
		h.log.Info("peer connected", "remote", conn.RemoteAddr(), "user", identity.Username)
	} else {
		h.log.Info("unidentified peer connected", "remote", conn.RemoteAddr())
	}

	h.wg.Add(2)
	go h.writePump(p)
	go h.readPump(p)
}

// drop removes p from the registry and tears it down. The presence
// broadcast fires only in the call that actually removed the peer, so a
// liveness eviction racing a read error broadcasts exactly once.
func (h *Hub) drop(p *Peer) {
	h.mu.Lock()
	removed := h.registry.Remove(p)
	if removed {
		h.broadcastPresenceLocked()
	}
	h.mu.Unlock()

	p.shut()
	if removed {
		h.log.Info("peer disconnected", "remote", p.conn.RemoteAddr())
	}
}

// readPump consumes frames until the connection errors or closes, then
// drops the peer.
func (h *Hub) readPump(p *Peer) {
	defer h.wg.Done()
	defer h.drop(p)

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("read failed", "remote", p.conn.RemoteAddr(), "error", err)
			}
			return
		}
		h.relay(p, data)
	}
}

// writePump is the single writer for the connection: it drains the send
// queue and drives the heartbeat probe cycle.
func (h *Hub) writePump(p *Peer) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.drop(p)
				return
			}
		case <-ticker.C:
			if !p.liveness.probe() {
				continue
			}
			deadline := time.Now().Add(writeWait)
			if err := p.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				h.drop(p)
				return
			}
		case <-p.done:
			return
		}
	}
}

// PeerCount returns the number of live connections.
func (h *Hub) PeerCount() int {
	return h.registry.Len()
}

// Close drops every live connection and waits for their pumps to exit.
func (h *Hub) Close() {
	for _, p := range h.registry.Snapshot() {
		h.drop(p)
	}
	h.wg.Wait()
}
