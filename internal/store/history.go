package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"chatrelay/internal/wire"
)

const historyFile = "history.dat"

// pairKey identifies one conversation: a canonicalized pair of usernames,
// or the zero value for the global broadcast stream.
type pairKey struct {
	A string
	B string
}

var broadcastKey = pairKey{}

// conversation is the on-disk shape of one history list.  The map itself is
// persisted as a slice of these records because cbor map keys must be
// scalars.
type conversation struct {
	Key     pairKey             `cbor:"key"`
	Entries []wire.HistoryEntry `cbor:"entries"`
}

// HistoryStore records every relayed message per conversation.  The lock is
// held across both the in-memory append and the disk write.
type HistoryStore struct {
	mu      sync.Mutex
	history map[pairKey][]wire.HistoryEntry
	path    string
}

// NewHistoryStore opens (or creates) the store under dir.  Like the user
// store, a missing or corrupt history.dat just means starting empty.
func NewHistoryStore(dir string) (*HistoryStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create storage dir: %w", err)
	}
	s := &HistoryStore{
		history: make(map[pairKey][]wire.HistoryEntry),
		path:    filepath.Join(dir, historyFile),
	}
	s.load()
	return s, nil
}

// keyFor canonicalizes (a, b): whichever ordering is already present wins,
// otherwise first-seen order sticks.  Callers must hold the lock.
func (s *HistoryStore) keyFor(a, b string) pairKey {
	if _, ok := s.history[pairKey{b, a}]; ok {
		return pairKey{b, a}
	}
	return pairKey{a, b}
}

// Append records a message from sender.  An empty receiver files the entry
// under the broadcast key.
func (s *HistoryStore) Append(sender, receiver, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := broadcastKey
	if receiver != "" {
		key = s.keyFor(sender, receiver)
	}
	s.history[key] = append(s.history[key], wire.HistoryEntry{
		Sender:    sender,
		Timestamp: time.Now().Format(wire.TimestampLayout),
		Text:      text,
	})
	if err := s.save(); err != nil {
		log.Errorf("persist history: %v", err)
	}
}

// Get returns the conversation between sender and receiver in insertion
// order.  The result is a copy; it never aliases the store's slice.
func (s *HistoryStore) Get(sender, receiver string) []wire.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := broadcastKey
	if receiver != "" {
		key = s.keyFor(sender, receiver)
	}
	return append([]wire.HistoryEntry{}, s.history[key]...)
}

func (s *HistoryStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warningf("load %s: %v; starting empty", s.path, err)
		}
		return
	}
	var records []conversation
	if err := cbor.Unmarshal(data, &records); err != nil {
		log.Warningf("parse %s: %v; starting empty", s.path, err)
		return
	}
	for _, rec := range records {
		s.history[rec.Key] = rec.Entries
	}
}

// save serializes every conversation.  Callers must hold the lock.
func (s *HistoryStore) save() error {
	records := make([]conversation, 0, len(s.history))
	for key, entries := range s.history {
		records = append(records, conversation{Key: key, Entries: entries})
	}
	data, err := cbor.Marshal(records)
	if err != nil {
		return fmt.Errorf("store: marshal history: %w", err)
	}
	return writeFileAtomic(s.path, data)
}
