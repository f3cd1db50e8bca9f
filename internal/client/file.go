package client

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// TransferPort is the fixed TCP port the accepting peer listens on for
	// the direct file stream.
	TransferPort = 1031

	// transferChunkSize is the read/write granularity of the stream.
	transferChunkSize = 1024
)

// SendFile streams the file at path to the accepting peer at ip on the
// transfer port.  It returns the byte count and elapsed time.
func SendFile(ip, path string) (int64, time.Duration, error) {
	return sendFileTo(net.JoinHostPort(ip, strconv.Itoa(TransferPort)), path)
}

func sendFileTo(addr, path string) (int64, time.Duration, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return 0, 0, fmt.Errorf("client: connect transfer peer %s: %w", addr, err)
	}
	defer conn.Close()

	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("client: open %s: %w", path, err)
	}
	defer f.Close()

	start := time.Now()
	n, err := io.CopyBuffer(conn, f, make([]byte, transferChunkSize))
	if err != nil {
		return n, time.Since(start), fmt.Errorf("client: stream %s: %w", path, err)
	}
	return n, time.Since(start), nil
}

// ListenTransfer opens the transfer-port listener.  Callers accept the
// offer on the control plane only after this has succeeded, so the sending
// peer can never dial into nothing.
func ListenTransfer() (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", TransferPort))
	if err != nil {
		return nil, fmt.Errorf("client: listen transfer port: %w", err)
	}
	return ln, nil
}

// ReceiveFile listens on the transfer port, accepts exactly one connection,
// and writes its stream to path until EOF.
func ReceiveFile(path string) (int64, time.Duration, error) {
	ln, err := ListenTransfer()
	if err != nil {
		return 0, 0, err
	}
	return ReceiveFrom(ln, path)
}

// ReceiveFrom accepts one connection on ln and streams it to path.  The
// listener is closed before returning.
func ReceiveFrom(ln net.Listener, path string) (int64, time.Duration, error) {
	defer ln.Close()

	conn, err := ln.Accept()
	if err != nil {
		return 0, 0, fmt.Errorf("client: accept transfer peer: %w", err)
	}
	defer conn.Close()

	f, err := os.Create(path)
	if err != nil {
		return 0, 0, fmt.Errorf("client: create %s: %w", path, err)
	}
	defer f.Close()

	start := time.Now()
	n, err := io.CopyBuffer(f, conn, make([]byte, transferChunkSize))
	if err != nil {
		return n, time.Since(start), fmt.Errorf("client: receive %s: %w", path, err)
	}
	return n, time.Since(start), nil
}

// FormatSize renders a byte count the way file offers carry it: bytes
// verbatim, larger units with two decimals.
func FormatSize(size int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB", "PB"}
	value := float64(size)
	for i, unit := range units {
		if value < 1024 || unit == units[len(units)-1] {
			if i == 0 {
				return fmt.Sprintf("%d%s", size, unit)
			}
			return fmt.Sprintf("%.2f%s", value, unit)
		}
		value /= 1024
	}
	return fmt.Sprintf("%.2fPB", value)
}

// FileMD5 returns the upper-case hex MD5 of the file at path, the checksum
// field of a file offer.
func FileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("client: open %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("client: checksum %s: %w", path, err)
	}
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), nil
}
