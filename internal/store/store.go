// Package store provides the two persistent stores behind the relay: the
// credential store (users.dat) and the conversation history store
// (history.dat).  Both keep their state in memory behind a lock and rewrite
// their cbor object file on every mutation, so a reader never observes a
// partially-written generation.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/op/go-logging.v1"
)

var log = logging.MustGetLogger("store")

// writeFileAtomic writes data to path via a temp file + rename so a crash
// mid-write never leaves a torn store file behind.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("store: rename %s: %w", tmp, err)
	}
	return nil
}

// hashPassword returns the hex sha256 digest stored in place of the
// cleartext credential.
func hashPassword(pw string) string {
	h := sha256.Sum256([]byte(pw))
	return hex.EncodeToString(h[:])
}
