package wire

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRoundTrip(t *testing.T) {
	require := require.New(t)

	msgs := []*Message{
		{Command: CmdLogin, Username: "alice", Password: "p"},
		{Command: CmdChat, Peer: "", Message: "hello everyone"},
		{Type: EventFileResponse, Peer: "bob", Response: ResponseAccept, IP: "10.0.0.7"},
		{Type: EventGetUsers, Data: json.RawMessage(`["bob","carol"]`)},
		{Command: CmdFileRequest, Peer: "bob", Filename: "f.bin", Size: "10B", MD5: "ABCD"},
	}
	for _, m := range msgs {
		frame, err := Encode(m)
		require.NoError(err)

		// Length discipline: prefix describes the payload exactly, and the
		// payload always starts with 48 bytes of key material.
		payloadLen := int(binary.BigEndian.Uint16(frame[:2]))
		require.Equal(len(frame)-2, payloadLen)
		require.GreaterOrEqual(payloadLen, 48)

		got, err := decodePayload(frame[2:])
		require.NoError(err)
		require.Equal(m, got)
	}
}

func TestEncodeFreshKeyMaterial(t *testing.T) {
	require := require.New(t)

	m := &Message{Command: CmdGetUsers}
	a, err := Encode(m)
	require.NoError(err)
	b, err := Encode(m)
	require.NoError(err)
	// key ‖ iv must differ between frames.
	require.NotEqual(a[2:50], b[2:50])
}

// TestDecodeKnownVector builds a frame payload by hand, the way the original
// obfuscation layer does, and checks the decoder recovers the document.
func TestDecodeKnownVector(t *testing.T) {
	require := require.New(t)

	plain := []byte(`{"command":"close"}`)
	key := make([]byte, 32)
	iv := make([]byte, 16)
	for i := range key {
		key[i] = byte(i * 7)
	}
	for i := range iv {
		iv[i] = byte(0xA0 + i)
	}
	obf := make([]byte, len(plain))
	for i := range plain {
		obf[i] = plain[i] ^ key[i%32] ^ iv[i%16]
	}
	b64 := base64.StdEncoding.EncodeToString(append(append([]byte{}, iv...), obf...))

	payload := append(append(append([]byte{}, key...), iv...), []byte(b64)...)
	got, err := decodePayload(payload)
	require.NoError(err)
	require.Equal(CmdClose, got.Command)
}

func TestDecodeMalformed(t *testing.T) {
	assert := assert.New(t)

	// Too short to hold key ‖ iv.
	_, err := decodePayload(make([]byte, 10))
	assert.ErrorIs(err, ErrMalformedFrame)

	// Body is not base64.
	payload := append(make([]byte, 48), []byte("!!not-base64!!")...)
	_, err = decodePayload(payload)
	assert.ErrorIs(err, ErrMalformedFrame)

	// base64 section shorter than the duplicate IV.
	payload = append(make([]byte, 48), []byte(base64.StdEncoding.EncodeToString([]byte("tiny")))...)
	_, err = decodePayload(payload)
	assert.ErrorIs(err, ErrMalformedFrame)
}

func TestReadWritePipe(t *testing.T) {
	require := require.New(t)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	want := &Message{Command: CmdChat, Peer: "bob", Message: "hi"}
	go func() {
		Write(client, want) //nolint:errcheck
	}()

	got, err := Read(server)
	require.NoError(err)
	require.Equal(want, got)
}

func TestReadConnectionClosed(t *testing.T) {
	require := require.New(t)

	client, server := net.Pipe()
	defer server.Close()
	client.Close()

	_, err := Read(server)
	require.ErrorIs(err, ErrConnectionClosed)
}

func TestReadTruncatedFrame(t *testing.T) {
	require := require.New(t)

	client, server := net.Pipe()
	defer server.Close()

	go func() {
		var prefix [2]byte
		binary.BigEndian.PutUint16(prefix[:], 100)
		client.Write(prefix[:])                //nolint:errcheck
		client.Write(make([]byte, 60))         //nolint:errcheck
		time.Sleep(10 * time.Millisecond)      // let the body land before EOF
		client.Close()
	}()

	_, err := Read(server)
	require.ErrorIs(err, ErrMalformedFrame)
}

func TestReadBodyTimeout(t *testing.T) {
	require := require.New(t)

	orig := frameReadTimeout
	frameReadTimeout = 50 * time.Millisecond
	defer func() { frameReadTimeout = orig }()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		var prefix [2]byte
		binary.BigEndian.PutUint16(prefix[:], 100)
		client.Write(prefix[:]) //nolint:errcheck
		// ...and then never send the body.
	}()

	_, err := Read(server)
	require.ErrorIs(err, ErrProtocolTimeout)
}

func TestHistoryEntryJSON(t *testing.T) {
	require := require.New(t)

	e := HistoryEntry{Sender: "alice", Timestamp: "08/26 10:15", Text: "hi"}
	data, err := json.Marshal(e)
	require.NoError(err)
	require.JSONEq(`["alice","08/26 10:15","hi"]`, string(data))

	var back HistoryEntry
	require.NoError(json.Unmarshal(data, &back))
	require.Equal(e, back)
}
