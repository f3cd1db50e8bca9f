package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// registerLockTimeout bounds how long Register waits for the store's
// exclusive lock before giving up and reporting failure.
const registerLockTimeout = 5 * time.Second

const usersFile = "users.dat"

// UserStore is the authoritative set of credentials, persisted as a cbor
// map of username → password digest.
type UserStore struct {
	// sem is a 1-slot semaphore standing in for a mutex; unlike sync.Mutex
	// it supports the acquire-with-timeout that Register needs.
	sem   chan struct{}
	users map[string]string
	path  string
}

// NewUserStore opens (or creates) the store under dir.  A missing or
// unreadable users.dat is not fatal; the store starts empty.
func NewUserStore(dir string) (*UserStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create storage dir: %w", err)
	}
	s := &UserStore{
		sem:   make(chan struct{}, 1),
		users: make(map[string]string),
		path:  filepath.Join(dir, usersFile),
	}
	s.load()
	return s, nil
}

func (s *UserStore) lock()   { s.sem <- struct{}{} }
func (s *UserStore) unlock() { <-s.sem }

func (s *UserStore) lockTimeout(d time.Duration) bool {
	select {
	case s.sem <- struct{}{}:
		return true
	case <-time.After(d):
		return false
	}
}

// Register creates the account and persists the store.  It returns false
// when the username is empty or taken, or when the lock could not be
// acquired within registerLockTimeout.
func (s *UserStore) Register(username, password string) bool {
	if username == "" {
		return false
	}
	if !s.lockTimeout(registerLockTimeout) {
		log.Warningf("register %q: store lock not acquired within %s", username, registerLockTimeout)
		return false
	}
	defer s.unlock()

	if _, exists := s.users[username]; exists {
		log.Debugf("register %q: username already exists", username)
		return false
	}
	s.users[username] = hashPassword(password)
	if err := s.save(); err != nil {
		// In-memory registration stands; the next successful save catches up.
		log.Errorf("persist users: %v", err)
	}
	log.Infof("registered user %q", username)
	return true
}

// Validate reports whether an account with these exact credentials exists.
func (s *UserStore) Validate(username, password string) bool {
	s.lock()
	defer s.unlock()
	digest, ok := s.users[username]
	return ok && digest == hashPassword(password)
}

func (s *UserStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warningf("load %s: %v; starting empty", s.path, err)
		}
		return
	}
	if err := cbor.Unmarshal(data, &s.users); err != nil {
		log.Warningf("parse %s: %v; starting empty", s.path, err)
		s.users = make(map[string]string)
	}
}

// save serializes the full mapping.  Callers must hold the lock.
func (s *UserStore) save() error {
	data, err := cbor.Marshal(s.users)
	if err != nil {
		return fmt.Errorf("store: marshal users: %w", err)
	}
	return writeFileAtomic(s.path, data)
}
