package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserStoreRegisterValidate(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	s, err := NewUserStore(t.TempDir())
	require.NoError(err)

	assert.True(s.Register("alice", "p"))
	assert.False(s.Register("alice", "q"), "duplicate username must be rejected")
	assert.False(s.Register("", "p"), "empty username must be rejected")

	assert.True(s.Validate("alice", "p"))
	assert.False(s.Validate("alice", "wrong"))
	assert.False(s.Validate("bob", "p"))
}

func TestUserStorePersistence(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	s, err := NewUserStore(dir)
	require.NoError(err)
	require.True(s.Register("alice", "p"))

	// Passwords must not be stored in the clear.
	data, err := os.ReadFile(filepath.Join(dir, usersFile))
	require.NoError(err)
	require.NotContains(string(data), "p\x00")
	require.NotEqual("p", s.users["alice"])

	reopened, err := NewUserStore(dir)
	require.NoError(err)
	require.True(reopened.Validate("alice", "p"))
	require.False(reopened.Register("alice", "p"))
}

func TestUserStoreCorruptFile(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	require.NoError(os.WriteFile(filepath.Join(dir, usersFile), []byte("garbage"), 0o644))

	s, err := NewUserStore(dir)
	require.NoError(err, "corrupt store file is non-fatal")
	require.True(s.Register("alice", "p"))
}

func TestUserStoreRegisterLockTimeout(t *testing.T) {
	require := require.New(t)

	s, err := NewUserStore(t.TempDir())
	require.NoError(err)

	// Hold the lock so Register cannot acquire it.
	s.lock()
	defer s.unlock()

	done := make(chan bool, 1)
	go func() { done <- s.lockTimeout(10 * time.Millisecond) }()
	require.False(<-done)
}
