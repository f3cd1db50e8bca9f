package client

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSize(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("10B", FormatSize(10))
	assert.Equal("1023B", FormatSize(1023))
	assert.Equal("1.00KB", FormatSize(1024))
	assert.Equal("1.50KB", FormatSize(1536))
	assert.Equal("2.00MB", FormatSize(2*1024*1024))
	assert.Equal("3.00GB", FormatSize(3*1024*1024*1024))
}

func TestFileMD5(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(os.WriteFile(path, []byte("hello"), 0o644))

	sum, err := FileMD5(path)
	require.NoError(err)
	require.Equal("5D41402ABC4B2A76B9719D911017C592", sum)
}

func TestFileTransferRoundTrip(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")

	payload := bytes.Repeat([]byte("0123456789abcdef"), 300) // spans several chunks
	require.NoError(os.WriteFile(src, payload, 0o644))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)

	type result struct {
		n   int64
		err error
	}
	recvDone := make(chan result, 1)
	go func() {
		n, _, err := ReceiveFrom(ln, dst)
		recvDone <- result{n, err}
	}()

	sent, _, err := sendFileTo(ln.Addr().String(), src)
	require.NoError(err)
	require.Equal(int64(len(payload)), sent)

	recv := <-recvDone
	require.NoError(recv.err)
	require.Equal(int64(len(payload)), recv.n)

	got, err := os.ReadFile(dst)
	require.NoError(err)
	require.Equal(payload, got)
}
