// Package hub implements the Hub's in-memory topology, router, and
// heartbeater (spec §3 "Topology", §4.4, §4.5), generalizing the teacher's
// flat connection/session map (ingress/internal/hub/hub.go) into the full
// (kind,id) registry plus per-environment agent membership spec §3 requires.
package hub

import (
	"sync"
	"time"

	"github.com/GCYYfun/star-protocol/protocol"
)

// State is one of the four lifecycle states a Session passes through.
type State int

const (
	StateHandshaking State = iota
	StateOpen
	StateClosing
	StateClosed
)

// Transport is the minimal duplex frame interface a Session needs. A
// *websocket.Conn satisfies this directly; tests can supply a fake.
type Transport interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type queueItem struct {
	data      []byte
	heartbeat bool
}

// Session is the Hub's live state about one connected identity. It owns its
// transport exclusively for its lifetime; other goroutines interact with it
// only by enqueuing, never by touching the transport directly, per the
// single-owner concurrency rule in spec §5.
type Session struct {
	Identity protocol.Identity
	EnvID    string // set for agent sessions: the env_id from the accepted URL path

	transport Transport

	mu               sync.Mutex
	state            State
	queue            []queueItem
	depth            int
	lastHeartbeatAt  time.Time
	lastTrafficAt    time.Time
	closeOnce        sync.Once
	closed           chan struct{}
	notify           chan struct{}
	onDropNonHeartbeat func()
}

// NewSession constructs a handshaking-state session bound to transport.
func NewSession(identity protocol.Identity, envID string, transport Transport, queueDepth int) *Session {
	return &Session{
		Identity:      identity,
		EnvID:         envID,
		transport:     transport,
		state:         StateHandshaking,
		depth:         queueDepth,
		lastTrafficAt: time.Now(),
		closed:        make(chan struct{}),
		notify:        make(chan struct{}, 1),
	}
}

// MarkOpen transitions the session to the open state, run once acceptance
// has fully completed (post-registration).
func (s *Session) MarkOpen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateHandshaking {
		s.state = StateOpen
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session has been fully closed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Transport exposes the underlying transport for the reader/writer loops in
// package server; no other caller should use it.
func (s *Session) Transport() Transport {
	return s.transport
}

// UpdateTraffic records that the Hub just observed traffic from this
// session, satisfying the idle-timeout liveness check (§4.5).
func (s *Session) UpdateTraffic() {
	s.mu.Lock()
	s.lastTrafficAt = time.Now()
	s.mu.Unlock()
}

// LastTraffic returns the last time traffic was observed from this session.
func (s *Session) LastTraffic() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTrafficAt
}

// MarkHeartbeatSent records that the Hub just sent a heartbeat.
func (s *Session) MarkHeartbeatSent() {
	s.mu.Lock()
	s.lastHeartbeatAt = time.Now()
	s.mu.Unlock()
}

// Enqueue appends data to the session's send queue. When the queue is at
// capacity the oldest non-heartbeat entry is dropped to preserve liveness
// over completeness (§4.2); if every queued entry is a heartbeat, the very
// oldest entry is dropped instead so the queue never grows unbounded.
// Enqueue reports whether an entry was dropped to make room.
func (s *Session) Enqueue(data []byte, heartbeat bool) (dropped bool) {
	s.mu.Lock()
	if len(s.queue) >= s.depth {
		dropped = true
		idx := -1
		for i, item := range s.queue {
			if !item.heartbeat {
				idx = i
				break
			}
		}
		if idx == -1 {
			idx = 0
		}
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
	}
	s.queue = append(s.queue, queueItem{data: data, heartbeat: heartbeat})
	s.mu.Unlock()

	if dropped && s.onDropNonHeartbeat != nil {
		s.onDropNonHeartbeat()
	}

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

// SetDropHook installs a callback invoked whenever Enqueue drops an entry,
// so the caller can increment a drop counter (spec §4.2).
func (s *Session) SetDropHook(fn func()) {
	s.mu.Lock()
	s.onDropNonHeartbeat = fn
	s.mu.Unlock()
}

// Dequeue blocks until an entry is available or ctxDone fires, returning
// (nil, false) in the latter case.
func (s *Session) Dequeue(ctxDone <-chan struct{}) ([]byte, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			item := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return item.data, true
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
			continue
		case <-ctxDone:
			return nil, false
		case <-s.closed:
			// Drain whatever remains before giving up.
			s.mu.Lock()
			if len(s.queue) > 0 {
				item := s.queue[0]
				s.queue = s.queue[1:]
				s.mu.Unlock()
				return item.data, true
			}
			s.mu.Unlock()
			return nil, false
		}
	}
}

// Close idempotently transitions the session to closed and releases its
// transport (P5: calling Close twice is a no-op after the first).
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		err = s.transport.Close()
		close(s.closed)
	})
	return err
}
