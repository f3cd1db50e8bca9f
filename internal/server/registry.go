package server

import (
	"sort"
	"sync"

	"chatrelay/internal/wire"
)

// Registry is the process-wide map of authenticated username → session.
// One mutex guards the map, and every fan-out sends while still holding it.
// A slow recipient therefore briefly stalls roster updates for everyone,
// but all observers see presence events and broadcasts in one total order.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// add inserts sess under its username.  It refuses to displace a live
// session with the same name.
func (r *Registry) add(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.sessions[sess.username]; taken {
		return false
	}
	r.sessions[sess.username] = sess
	return true
}

// remove deletes sess's entry, but only while the slot still belongs to
// sess.  Returns whether an entry was removed.
func (r *Registry) remove(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[sess.username] != sess {
		return false
	}
	delete(r.sessions, sess.username)
	return true
}

// usernamesExcept returns the sorted roster minus the named user.
func (r *Registry) usernamesExcept(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for username := range r.sessions {
		if username != name {
			out = append(out, username)
		}
	}
	sort.Strings(out)
	return out
}

// sendTo delivers m to the named session.  Returns false when the user is
// not registered; the caller decides whether that matters.
func (r *Registry) sendTo(username string, m *wire.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[username]
	if !ok {
		return false
	}
	sess.send(m)
	return true
}

// withSession runs fn on the named session under the registry lock, so fn
// may both mutate session state tied to the roster and send frames without
// racing a concurrent fan-out.
func (r *Registry) withSession(username string, fn func(*Session)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[username]
	if !ok {
		return false
	}
	fn(sess)
	return true
}

// fanout delivers m to every registered session, the sender included.
func (r *Registry) fanout(m *wire.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sess := range r.sessions {
		sess.send(m)
	}
}

// fanoutExcept delivers m to every registered session but the named one.
func (r *Registry) fanoutExcept(name string, m *wire.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for username, sess := range r.sessions {
		if username != name {
			sess.send(m)
		}
	}
}
