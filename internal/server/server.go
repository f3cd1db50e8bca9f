// Package server implements the relay: a TCP acceptor that owns one
// session goroutine per connection, a mutex-guarded registry of
// authenticated sessions for presence and broadcast fan-out, and command
// handlers split into pre-auth and post-auth sets.
//
// Concurrency overview
// --------------------
//
//	Listener goroutine   accepts TCP connections and spawns one Session
//	                     goroutine per client.
//	Session goroutine    owns its connection's read loop and state.
//	Registry             one mutex; roster reads, targeted sends and
//	                     fan-outs all run under it, which gives every
//	                     observer the same ordering of presence events
//	                     and broadcasts.
//	Stores               user store and history store, one lock each.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"chatrelay/internal/store"
	"chatrelay/internal/wire"
)

var log = logging.MustGetLogger("server")

// User-visible failure reasons.  Clients display them verbatim, so they are
// part of the protocol surface.
const (
	reasonBadCredentials  = "Incorrect username or password!"
	reasonUsernameTaken   = "Username already exists!"
	reasonAlreadyLoggedIn = "User already logged in!"
	reasonPeerAbsent      = "Peer not found or not connected"
)

// Server ties the acceptor, registry and stores together.
type Server struct {
	users    *store.UserStore
	history  *store.HistoryStore
	registry *Registry

	mu     sync.Mutex
	ln     net.Listener
	closed bool
}

// New creates a Server persisting to storageDir.
func New(storageDir string) (*Server, error) {
	users, err := store.NewUserStore(storageDir)
	if err != nil {
		return nil, err
	}
	history, err := store.NewHistoryStore(storageDir)
	if err != nil {
		return nil, err
	}
	return &Server{
		users:    users,
		history:  history,
		registry: newRegistry(),
	}, nil
}

// ListenAndServe binds addr and serves until Shutdown closes the listener.
// It returns nil after a clean shutdown and the bind or accept error
// otherwise.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: bind %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	log.Noticef("listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		go newSession(s, conn).run()
	}
}

// Addr returns the bound listener address, or nil before ListenAndServe.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops accepting.  In-flight sessions exit on their next read
// error; their sockets stay open until the clients go away.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.ln != nil {
		s.ln.Close()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// dispatchUnauth handles the pre-auth command set.  Anything else is logged
// and ignored; the session stays alive and unauthenticated.
func (s *Server) dispatchUnauth(sess *Session, m *wire.Message) {
	switch m.Command {
	case wire.CmdLogin:
		s.handleLogin(sess, m)
	case wire.CmdRegister:
		s.handleRegister(sess, m)
	default:
		log.Warningf("command %q from unauthenticated %s ignored", m.Command, sess.remote)
	}
}

// dispatch handles the post-auth command set.  The return value reports
// whether the session should keep running.
func (s *Server) dispatch(sess *Session, m *wire.Message) bool {
	switch m.Command {
	case wire.CmdGetUsers:
		s.handleGetUsers(sess)
	case wire.CmdGetHistory:
		s.handleGetHistory(sess, m)
	case wire.CmdChat:
		s.handleChat(sess, m)
	case wire.CmdFileRequest:
		s.handleFileRequest(sess, m)
	case wire.CmdFileResponse:
		s.handleFileResponse(sess, m)
	case wire.CmdClose:
		return false
	default:
		log.Warningf("unknown or missing command %q from %q", m.Command, sess.username)
	}
	return true
}

// ---------------------------------------------------------------------------
// Pre-auth handlers
// ---------------------------------------------------------------------------

func (s *Server) handleLogin(sess *Session, m *wire.Message) {
	if !s.users.Validate(m.Username, m.Password) {
		sess.send(&wire.Message{
			Type:     wire.EventLoginResult,
			Username: m.Username,
			Response: wire.ResponseFail,
			Reason:   reasonBadCredentials,
		})
		return
	}

	sess.username = m.Username
	if !s.registry.add(sess) {
		// A live session already owns this name; never displace it.
		sess.username = ""
		sess.send(&wire.Message{
			Type:     wire.EventLoginResult,
			Username: m.Username,
			Response: wire.ResponseFail,
			Reason:   reasonAlreadyLoggedIn,
		})
		return
	}
	sess.authed = true
	log.Infof("user %q logged in from %s", sess.username, sess.remote)

	sess.send(&wire.Message{
		Type:     wire.EventLoginResult,
		Username: sess.username,
		Response: wire.ResponseOK,
	})
	// The newcomer hears its own peer_joined too.
	s.registry.fanout(&wire.Message{Type: wire.EventPeerJoined, Peer: sess.username})
}

func (s *Server) handleRegister(sess *Session, m *wire.Message) {
	if s.users.Register(m.Username, m.Password) {
		sess.send(&wire.Message{
			Type:     wire.EventRegisterResult,
			Username: m.Username,
			Response: wire.ResponseOK,
		})
		return
	}
	sess.send(&wire.Message{
		Type:     wire.EventRegisterResult,
		Username: m.Username,
		Response: wire.ResponseFail,
		Reason:   reasonUsernameTaken,
	})
}

// ---------------------------------------------------------------------------
// Post-auth handlers
// ---------------------------------------------------------------------------

func (s *Server) handleGetUsers(sess *Session) {
	users := s.registry.usernamesExcept(sess.username)
	data, err := marshalData(users)
	if err != nil {
		log.Errorf("get_users for %q: %v", sess.username, err)
		return
	}
	sess.send(&wire.Message{Type: wire.EventGetUsers, Data: data})
}

func (s *Server) handleGetHistory(sess *Session, m *wire.Message) {
	// History is always keyed by the requester's own name, so a session can
	// only ever read conversations it is part of.
	entries := s.history.Get(sess.username, m.Peer)
	data, err := marshalData(entries)
	if err != nil {
		log.Errorf("get_history for %q: %v", sess.username, err)
		return
	}
	sess.send(&wire.Message{Type: wire.EventGetHistory, Peer: m.Peer, Data: data})
}

func (s *Server) handleChat(sess *Session, m *wire.Message) {
	if m.Peer != "" {
		// Private message: deliver if the peer is online, drop silently
		// otherwise.  History records it either way.
		s.registry.sendTo(m.Peer, &wire.Message{
			Type:    wire.EventPrivateMessage,
			Peer:    sess.username,
			Message: m.Message,
		})
		s.history.Append(sess.username, m.Peer, m.Message)
		return
	}
	s.registry.fanoutExcept(sess.username, &wire.Message{
		Type:    wire.EventBroadcastMessage,
		Peer:    sess.username,
		Message: m.Message,
	})
	s.history.Append(sess.username, "", m.Message)
}

func (s *Server) handleFileRequest(sess *Session, m *wire.Message) {
	forwarded := s.registry.withSession(m.Peer, func(target *Session) {
		target.setFilePeer(sess.username)
		target.send(&wire.Message{
			Type:     wire.EventFileRequest,
			Peer:     sess.username,
			Filename: m.Filename,
			Size:     m.Size,
			MD5:      m.MD5,
		})
	})
	if !forwarded {
		sess.send(&wire.Message{
			Type:     wire.EventFileResponse,
			Response: wire.ResponseError,
			Reason:   reasonPeerAbsent,
		})
	}
}

func (s *Server) handleFileResponse(sess *Session, m *wire.Message) {
	if m.Response != wire.ResponseAccept && m.Response != wire.ResponseDeny {
		log.Warningf("file_response from %q with response %q ignored", sess.username, m.Response)
		return
	}
	// Only a response tied to the pending offer is honored; anything else
	// is stale and ignored.
	if !sess.claimFilePeer(m.Peer) {
		log.Warningf("file_response from %q for %q without a pending offer", sess.username, m.Peer)
		return
	}
	reply := &wire.Message{
		Type:     wire.EventFileResponse,
		Peer:     sess.username,
		Response: m.Response,
	}
	if m.Response == wire.ResponseAccept {
		// The requester dials this host directly on the transfer port.
		reply.IP = sess.remote
	}
	s.registry.sendTo(m.Peer, reply)
}

// marshalData renders a handler result for a Message's data field.
func marshalData(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal data field: %w", err)
	}
	return data, nil
}
