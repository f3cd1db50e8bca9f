package server

import (
	"errors"
	"net"
	"sync"

	"chatrelay/internal/wire"
)

// Session is the per-connection state machine.  One goroutine owns the read
// loop and all state transitions; only filePeer and the socket are touched
// from outside, each behind its own lock.
//
// States: unauthenticated (username empty) → authenticated → closed.
type Session struct {
	srv    *Server
	conn   net.Conn
	remote string // client host, without port

	// Owned by the run goroutine.
	username string
	authed   bool

	// wmu serializes writes to conn: the owning goroutine replies directly
	// while fan-outs write from other sessions' goroutines.
	wmu sync.Mutex

	// filePeer names the counterparty whose file offer this session
	// currently holds.  Guarded by fpMu; it is set by the offering peer's
	// goroutine (under the registry lock) and cleared by our own.
	fpMu     sync.Mutex
	filePeer string
}

func newSession(srv *Server, conn net.Conn) *Session {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	return &Session{srv: srv, conn: conn, remote: host}
}

// run reads frames until the connection dies or a close command arrives,
// then tears the session down.
func (s *Session) run() {
	defer s.finish()
	log.Infof("new connection from %s", s.conn.RemoteAddr())

	for {
		m, err := wire.Read(s.conn)
		if err != nil {
			switch {
			case errors.Is(err, wire.ErrConnectionClosed):
				log.Infof("connection closed by %s", s.conn.RemoteAddr())
			case errors.Is(err, wire.ErrProtocolTimeout), errors.Is(err, wire.ErrMalformedFrame):
				log.Warningf("dropping %s: %v", s.conn.RemoteAddr(), err)
			default:
				log.Warningf("read error from %s: %v", s.conn.RemoteAddr(), err)
			}
			return
		}

		if !s.authed {
			s.srv.dispatchUnauth(s, m)
			continue
		}
		if !s.srv.dispatch(s, m) {
			return
		}
	}
}

// finish releases the socket and, for authenticated sessions, removes the
// registry entry and fans out peer_left exactly once.
func (s *Session) finish() {
	s.conn.Close()
	if !s.authed {
		return
	}
	s.authed = false
	if s.srv.registry.remove(s) {
		log.Infof("removed %q from connected clients", s.username)
		s.srv.registry.fanout(&wire.Message{Type: wire.EventPeerLeft, Peer: s.username})
	}
}

// send writes one frame to the session's socket.  Write errors are logged
// and otherwise ignored here; the session's own read loop notices a dead
// connection soon enough.
func (s *Session) send(m *wire.Message) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := wire.Write(s.conn, m); err != nil {
		log.Warningf("send to %s: %v", s.conn.RemoteAddr(), err)
	}
}

func (s *Session) setFilePeer(name string) {
	s.fpMu.Lock()
	s.filePeer = name
	s.fpMu.Unlock()
}

// claimFilePeer atomically clears the pending offer iff it came from name.
// Any response, accept or deny, consumes the slot, so stale responses after
// cancellation are no-ops.
func (s *Session) claimFilePeer(name string) bool {
	s.fpMu.Lock()
	defer s.fpMu.Unlock()
	if s.filePeer != name || name == "" {
		return false
	}
	s.filePeer = ""
	return true
}
