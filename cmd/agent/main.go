// The agent is a scripted client used to smoke-test a running relay: it
// registers, logs in, sends one broadcast, lingers briefly for incoming
// events, and disconnects cleanly.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	golog "gopkg.in/op/go-logging.v1"

	"chatrelay/internal/client"
	"chatrelay/internal/config"
	"chatrelay/internal/logging"
	"chatrelay/internal/wire"
)

var log = golog.MustGetLogger("agent")

const replyTimeout = 5 * time.Second

func main() {
	addr := flag.String("addr", "", "server address override (host:port)")
	linger := flag.Duration("linger", 3*time.Second, "how long to stay connected after the broadcast")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Setup(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	target := cfg.ListenAddr()
	if *addr != "" {
		target = *addr
	}

	username := fmt.Sprintf("User%d", rand.Intn(9)+1)
	password := "password"

	c, err := client.Dial(target)
	if err != nil {
		log.Critical("%v", err)
		os.Exit(1)
	}
	defer c.Close()

	results := make(chan *wire.Message, 16)
	c.On(wire.EventRegisterResult, func(m *wire.Message) { results <- m })
	c.On(wire.EventLoginResult, func(m *wire.Message) { results <- m })
	c.On(wire.EventPeerJoined, func(m *wire.Message) { log.Infof("peer joined: %s", m.Peer) })
	c.On(wire.EventPeerLeft, func(m *wire.Message) { log.Infof("peer left: %s", m.Peer) })
	c.On(wire.EventBroadcastMessage, func(m *wire.Message) { log.Infof("<%s> %s", m.Peer, m.Message) })
	c.On(wire.EventPrivateMessage, func(m *wire.Message) { log.Infof("[%s] %s", m.Peer, m.Message) })
	c.Start()

	// Registration failure usually just means this agent ran before.
	res, err := roundTrip(c, results, &wire.Message{Command: wire.CmdRegister, Username: username, Password: password})
	if err != nil {
		log.Critical("register: %v", err)
		os.Exit(1)
	}
	if res.Response != wire.ResponseOK {
		log.Infof("register %q: %s", username, res.Reason)
	}

	res, err = roundTrip(c, results, &wire.Message{Command: wire.CmdLogin, Username: username, Password: password})
	if err != nil {
		log.Critical("login: %v", err)
		os.Exit(1)
	}
	if res.Response != wire.ResponseOK {
		log.Critical("login %q failed: %s", username, res.Reason)
		os.Exit(1)
	}
	log.Noticef("logged in as %q", username)

	if err := c.Send(&wire.Message{Command: wire.CmdChat, Peer: "", Message: "hello from " + username}); err != nil {
		log.Critical("broadcast: %v", err)
		os.Exit(1)
	}

	select {
	case <-time.After(*linger):
	case <-c.Done():
		log.Warningf("server went away")
		os.Exit(1)
	}

	c.Send(&wire.Message{Command: wire.CmdClose}) //nolint:errcheck
	log.Noticef("agent closed")
}

// roundTrip sends a command and waits for the next result event.
func roundTrip(c *client.Client, results <-chan *wire.Message, m *wire.Message) (*wire.Message, error) {
	if err := c.Send(m); err != nil {
		return nil, err
	}
	select {
	case res := <-results:
		return res, nil
	case <-c.Done():
		return nil, fmt.Errorf("connection closed waiting for reply to %q", m.Command)
	case <-time.After(replyTimeout):
		return nil, fmt.Errorf("no reply to %q within %s", m.Command, replyTimeout)
	}
}
