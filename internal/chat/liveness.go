package chat

import (
	"sync"
	"time"
)

type livenessState int

const (
	stateAlive livenessState = iota
	stateAwaitingPong
	stateDead
)

// monitor is a per-connection heartbeat state machine:
//
//	ALIVE → AWAITING_PONG → ALIVE   on a timely pong
//	        AWAITING_PONG → DEAD    on timeout, firing onExpire once
//
// At most one timeout is armed at a time, and stop cancels it, so a late
// pong can never race a fired timer into a second eviction.
type monitor struct {
	mu          sync.Mutex
	state       livenessState
	pongTimeout time.Duration
	timer       *time.Timer
	onExpire    func()
}

func newMonitor(pongTimeout time.Duration, onExpire func()) *monitor {
	return &monitor{state: stateAlive, pongTimeout: pongTimeout, onExpire: onExpire}
}

// probe transitions ALIVE → AWAITING_PONG and arms the timeout. Reports
// false when the peer is dead or a previous probe is still outstanding,
// in which case the caller must not send a ping.
func (m *monitor) probe() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateAlive {
		return false
	}
	m.state = stateAwaitingPong
	m.timer = time.AfterFunc(m.pongTimeout, m.expire)
	return true
}

// pong disarms the pending timeout and returns the peer to ALIVE.
// A pong with no probe outstanding is ignored.
func (m *monitor) pong() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateAwaitingPong {
		return
	}
	m.timer.Stop()
	m.timer = nil
	m.state = stateAlive
}

func (m *monitor) expire() {
	m.mu.Lock()
	if m.state != stateAwaitingPong {
		m.mu.Unlock()
		return
	}
	m.state = stateDead
	m.timer = nil
	m.mu.Unlock()

	// Called outside the lock: onExpire tears the connection down and may
	// re-enter stop.
	m.onExpire()
}

// stop cancels any pending timeout and pins the state to DEAD so no
// further probes arm. Safe to call more than once.
func (m *monitor) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.state = stateDead
}
