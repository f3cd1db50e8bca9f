package wire

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	keyLen    = 32
	ivLen     = 16
	prefixLen = 2

	// MaxFrameSize is the largest payload the 2-byte length prefix can
	// describe.
	MaxFrameSize = 65535
)

// frameReadTimeout bounds how long a frame body may trickle in once its
// length prefix has been observed.  Idle connections are not penalized; the
// deadline is armed only between prefix and body.
var frameReadTimeout = 5 * time.Second

var (
	// ErrConnectionClosed is returned when the remote end closed the
	// connection cleanly (zero-byte read at a frame boundary).
	ErrConnectionClosed = errors.New("wire: connection closed by remote host")

	// ErrMalformedFrame is returned for truncated payloads, base64 errors
	// and undecodable documents.
	ErrMalformedFrame = errors.New("wire: malformed frame")

	// ErrProtocolTimeout is returned when a frame body does not arrive
	// within frameReadTimeout of its length prefix.
	ErrProtocolTimeout = errors.New("wire: timed out reading frame body")
)

// keystream XORs data in place-compatible fashion with the repeating key and
// IV: out[i] = data[i] ^ key[i%32] ^ iv[i%16].  The operation is its own
// inverse.
func keystream(data, key, iv []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%keyLen] ^ iv[i%ivLen]
	}
	return out
}

// Encode serializes m into a complete frame, length prefix included.  A
// fresh random key and IV are drawn for every frame.
func Encode(m *Message) ([]byte, error) {
	plain, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal document: %w", err)
	}

	key := make([]byte, keyLen)
	iv := make([]byte, ivLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("wire: draw frame key: %w", err)
	}
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("wire: draw frame iv: %w", err)
	}

	// The IV rides twice: once in the clear for the decoder and once again
	// inside the base64 section, where the original protocol duplicates it.
	obfuscated := keystream(plain, key, iv)
	b64 := base64.StdEncoding.EncodeToString(append(append([]byte{}, iv...), obfuscated...))

	payload := make([]byte, 0, keyLen+ivLen+len(b64))
	payload = append(payload, key...)
	payload = append(payload, iv...)
	payload = append(payload, b64...)
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds frame limit", ErrMalformedFrame, len(payload))
	}

	frame := make([]byte, prefixLen+len(payload))
	binary.BigEndian.PutUint16(frame[:prefixLen], uint16(len(payload)))
	copy(frame[prefixLen:], payload)
	return frame, nil
}

// Write encodes m and writes the whole frame to w, retrying partial writes
// until every byte is flushed.
func Write(w io.Writer, m *Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	for len(frame) > 0 {
		n, err := w.Write(frame)
		if err != nil {
			return fmt.Errorf("wire: write frame: %w", err)
		}
		frame = frame[n:]
	}
	return nil
}

// Read blocks until one complete frame has been received on conn and returns
// the decoded document.  The length prefix is read without a deadline; once
// it has been seen the body must arrive within frameReadTimeout.
func Read(conn net.Conn) (*Message, error) {
	var prefix [prefixLen]byte
	if _, err := io.ReadFull(conn, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
			return nil, ErrConnectionClosed
		}
		return nil, fmt.Errorf("wire: read length prefix: %w", err)
	}

	length := int(binary.BigEndian.Uint16(prefix[:]))
	if length < keyLen+ivLen {
		return nil, fmt.Errorf("%w: payload of %d bytes is shorter than the key material", ErrMalformedFrame, length)
	}

	conn.SetReadDeadline(time.Now().Add(frameReadTimeout))
	defer conn.SetReadDeadline(time.Time{})

	payload := make([]byte, length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		var nerr net.Error
		switch {
		case errors.As(err, &nerr) && nerr.Timeout():
			return nil, ErrProtocolTimeout
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil, fmt.Errorf("%w: truncated payload", ErrMalformedFrame)
		default:
			return nil, fmt.Errorf("wire: read frame body: %w", err)
		}
	}
	return decodePayload(payload)
}

// decodePayload splits a frame payload into key, IV and body, undoes the
// base64 and XOR layers, and unmarshals the document.
func decodePayload(payload []byte) (*Message, error) {
	if len(payload) < keyLen+ivLen {
		return nil, fmt.Errorf("%w: payload of %d bytes is shorter than the key material", ErrMalformedFrame, len(payload))
	}
	key := payload[:keyLen]
	iv := payload[keyLen : keyLen+ivLen]
	body := payload[keyLen+ivLen:]

	raw, err := base64.StdEncoding.DecodeString(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(raw) < ivLen {
		return nil, fmt.Errorf("%w: base64 section of %d bytes is missing the duplicate iv", ErrMalformedFrame, len(raw))
	}

	plain := keystream(raw[ivLen:], key, iv)
	var m Message
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return &m, nil
}
