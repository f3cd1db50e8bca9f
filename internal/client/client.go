// Package client implements the relay's client side: a framed connection
// with a background receive loop that dispatches server events to
// registered handlers, and the direct peer-to-peer file transfer legs
// negotiated over the control plane.
package client

import (
	"fmt"
	"net"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"chatrelay/internal/wire"
)

var log = logging.MustGetLogger("client")

// Handler consumes one server event.  Handlers run on the receive-loop
// goroutine, so they must not block on the Client itself.
type Handler func(*wire.Message)

// Client is a framed connection to the relay.
type Client struct {
	conn net.Conn

	hmu      sync.Mutex
	handlers map[wire.Event][]Handler

	wmu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the relay at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: connect %s: %w", addr, err)
	}
	return &Client{
		conn:     conn,
		handlers: make(map[wire.Event][]Handler),
		done:     make(chan struct{}),
	}, nil
}

// On registers h for every event of the given type.  Multiple handlers for
// one event run in registration order.
func (c *Client) On(event wire.Event, h Handler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// Send writes one command frame.  Safe for concurrent use.
func (c *Client) Send(m *wire.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return wire.Write(c.conn, m)
}

// Start launches the receive loop.  Done is closed when the loop exits,
// which happens on any read error — including the server going away.
func (c *Client) Start() {
	go c.receiveLoop()
}

// Done reports when the receive loop has exited.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close tears the connection down.  The receive loop exits on its next
// read.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.conn.Close() })
	return err
}

func (c *Client) receiveLoop() {
	defer close(c.done)
	for {
		m, err := wire.Read(c.conn)
		if err != nil {
			log.Debugf("receive loop ended: %v", err)
			return
		}
		c.dispatch(m)
	}
}

func (c *Client) dispatch(m *wire.Message) {
	c.hmu.Lock()
	handlers := append([]Handler{}, c.handlers[m.Type]...)
	c.hmu.Unlock()

	if len(handlers) == 0 {
		log.Debugf("ignored unhandled event %q", m.Type)
		return
	}
	for _, h := range handlers {
		h(m)
	}
}
