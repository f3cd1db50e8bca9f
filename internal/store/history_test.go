package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatrelay/internal/wire"
)

func TestHistoryAppendGet(t *testing.T) {
	require := require.New(t)

	s, err := NewHistoryStore(t.TempDir())
	require.NoError(err)

	before := time.Now()
	s.Append("alice", "bob", "hi")
	s.Append("bob", "alice", "hello")

	entries := s.Get("alice", "bob")
	require.Len(entries, 2)
	require.Equal("alice", entries[0].Sender)
	require.Equal("hi", entries[0].Text)
	require.Equal("bob", entries[1].Sender)
	require.Equal("hello", entries[1].Text)

	// Timestamps use the short local layout and are not in the future.
	ts, err := time.ParseInLocation(wire.TimestampLayout, entries[0].Timestamp, time.Local)
	require.NoError(err)
	require.Equal(before.Month(), ts.Month())

	require.Empty(s.Get("alice", "carol"))
}

func TestHistoryCanonicalPairing(t *testing.T) {
	require := require.New(t)

	s, err := NewHistoryStore(t.TempDir())
	require.NoError(err)

	s.Append("alice", "bob", "one")
	s.Append("bob", "alice", "two")

	// Both orderings name the same conversation.
	require.Equal(s.Get("alice", "bob"), s.Get("bob", "alice"))
	require.Len(s.Get("bob", "alice"), 2)

	// The first-seen ordering owns the slot; no second key appears.
	require.Len(s.history, 1)
}

func TestHistoryBroadcastKey(t *testing.T) {
	require := require.New(t)

	s, err := NewHistoryStore(t.TempDir())
	require.NoError(err)

	s.Append("alice", "", "hello everyone")
	entries := s.Get("whoever", "")
	require.Len(entries, 1)
	require.Equal("alice", entries[0].Sender)
	require.Equal("hello everyone", entries[0].Text)
}

func TestHistoryPersistence(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	s, err := NewHistoryStore(dir)
	require.NoError(err)
	s.Append("alice", "bob", "hi")
	s.Append("carol", "", "broadcast line")

	reopened, err := NewHistoryStore(dir)
	require.NoError(err)
	require.Equal(s.Get("alice", "bob"), reopened.Get("bob", "alice"))
	require.Len(reopened.Get("", ""), 1)
}

func TestHistoryGetReturnsCopy(t *testing.T) {
	require := require.New(t)

	s, err := NewHistoryStore(t.TempDir())
	require.NoError(err)
	s.Append("alice", "bob", "hi")

	got := s.Get("alice", "bob")
	got[0].Text = "mutated"
	require.Equal("hi", s.Get("alice", "bob")[0].Text)
}
