// Terminal client for the relay.
//
// Screens
// -------
//   stateLogin – centered login / register form
//   stateChat  – chat viewport plus roster header; Tab cycles between the
//                broadcast room and each online peer
//
// Concurrency
// -----------
//   The protocol client's receive loop forwards every server event into the
//   events channel; the Bubbletea loop consumes one event at a time via
//   waitForEvent, queuing the next read after each event is processed.
//   File transfers run in their own tea.Cmd goroutines and report back with
//   a transferDoneMsg.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chatrelay/internal/client"
	"chatrelay/internal/config"
	"chatrelay/internal/logging"
	"chatrelay/internal/wire"
)

// ---------------------------------------------------------------------------
// Styles
// ---------------------------------------------------------------------------

var (
	purple = lipgloss.Color("99")
	cyan   = lipgloss.Color("86")
	green  = lipgloss.Color("82")
	red    = lipgloss.Color("196")
	yellow = lipgloss.Color("220")
	gray   = lipgloss.Color("241")
	white  = lipgloss.Color("255")
	orange = lipgloss.Color("214")
	blue   = lipgloss.Color("75")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Background(purple).
			Foreground(white).
			Padding(0, 1)

	footerBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), true, false, false, false).
				BorderForeground(gray).
				Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(purple).
			Padding(0, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(gray).
			Width(10)

	focusedLabelStyle = lipgloss.NewStyle().
				Foreground(cyan).
				Width(10)

	hintStyle = lipgloss.NewStyle().
			Foreground(gray).
			Italic(true)

	successStyle = lipgloss.NewStyle().Foreground(green)
	errorStyle   = lipgloss.NewStyle().Foreground(red)
	sysStyle     = lipgloss.NewStyle().Foreground(yellow).Italic(true)
	tsStyle      = lipgloss.NewStyle().Foreground(gray)
	myNameStyle  = lipgloss.NewStyle().Bold(true).Foreground(orange)
	peerStyle    = lipgloss.NewStyle().Bold(true).Foreground(blue)
)

// broadcastLabel names the implicit global room in the conversation bar.
const broadcastLabel = "Everyone"

// ---------------------------------------------------------------------------
// Bubbletea message types
// ---------------------------------------------------------------------------

type serverEventMsg *wire.Message
type disconnectedMsg struct{}

// transferDoneMsg reports a finished (or failed) file transfer leg.
type transferDoneMsg struct {
	name     string
	bytes    int64
	duration time.Duration
	received bool
	err      error
}

// ---------------------------------------------------------------------------
// Application state
// ---------------------------------------------------------------------------

type appState int

const (
	stateLogin appState = iota
	stateChat
)

type model struct {
	cli    *client.Client
	events chan *wire.Message

	state appState
	me    string

	// Login / register
	loginIsReg  bool
	loginFocus  int
	loginFields [2]textinput.Model // [0]=username  [1]=password
	statusMsg   string

	// Chat
	ready      bool
	viewport   viewport.Model
	chatInput  textinput.Model
	roster     []string            // online peers, excluding self
	convos     map[string][]string // rendered lines per conversation ("" = broadcast)
	activePeer string              // "" = broadcast

	// File transfer
	pendingOffer *wire.Message // incoming offer awaiting y/n
	offeredFile  string        // local path of our outgoing offer

	width, height int
}

func newModel(cli *client.Client, events chan *wire.Message) model {
	uf := textinput.New()
	uf.Placeholder = "username"
	uf.Focus()
	uf.CharLimit = 32
	uf.Width = 32

	pf := textinput.New()
	pf.Placeholder = "password"
	pf.EchoMode = textinput.EchoPassword
	pf.EchoCharacter = '•'
	pf.CharLimit = 64
	pf.Width = 32

	ci := textinput.New()
	ci.Placeholder = "Type a message, or /file <path> to offer a file…"
	ci.CharLimit = 500

	return model{
		cli:         cli,
		events:      events,
		state:       stateLogin,
		loginFields: [2]textinput.Model{uf, pf},
		chatInput:   ci,
		convos:      map[string][]string{"": nil},
	}
}

// ---------------------------------------------------------------------------
// Tea interface
// ---------------------------------------------------------------------------

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForEvent(m.events))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, m.vpHeight())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = m.vpHeight()
		}
		m.chatInput.Width = msg.Width - 4
		return m, nil

	case serverEventMsg:
		var cmd tea.Cmd
		m, cmd = m.handleServerEvent((*wire.Message)(msg))
		return m, tea.Batch(cmd, waitForEvent(m.events))

	case disconnectedMsg:
		m.statusMsg = "disconnected from server"
		return m, tea.Quit

	case transferDoneMsg:
		if msg.err != nil {
			m.appendSystem(fmt.Sprintf("file transfer %q failed: %v", msg.name, msg.err))
		} else {
			verb := "sent"
			if msg.received {
				verb = "received"
			}
			m.appendSystem(fmt.Sprintf("%s %q (%s in %.2fs)",
				verb, msg.name, client.FormatSize(msg.bytes), msg.duration.Seconds()))
		}
		return m, nil

	case tea.KeyMsg:
		switch m.state {
		case stateLogin:
			return m.handleLoginKey(msg)
		case stateChat:
			return m.handleChatKey(msg)
		}
	}
	return m, nil
}

// vpHeight returns the number of lines available for the chat viewport.
func (m model) vpHeight() int {
	// header (1) + footer border (1) + footer input (1) = 3 lines reserved
	h := m.height - 3
	if h < 1 {
		h = 1
	}
	return h
}

// ---------------------------------------------------------------------------
// Key handlers
// ---------------------------------------------------------------------------

func (m model) handleLoginKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyTab, tea.KeyShiftTab:
		m.loginFocus = (m.loginFocus + 1) % 2
		for i := range m.loginFields {
			if i == m.loginFocus {
				m.loginFields[i].Focus()
			} else {
				m.loginFields[i].Blur()
			}
		}
		return m, textinput.Blink

	case tea.KeyCtrlR:
		m.loginIsReg = !m.loginIsReg
		m.statusMsg = ""
		return m, nil

	case tea.KeyEnter:
		user := strings.TrimSpace(m.loginFields[0].Value())
		pass := m.loginFields[1].Value()
		if user == "" || pass == "" {
			m.statusMsg = "username and password are required"
			return m, nil
		}
		cmd := wire.CmdLogin
		if m.loginIsReg {
			cmd = wire.CmdRegister
		}
		m.cli.Send(&wire.Message{Command: cmd, Username: user, Password: pass}) //nolint:errcheck
		m.statusMsg = "Authenticating…"
		return m, nil
	}

	var cmd tea.Cmd
	m.loginFields[m.loginFocus], cmd = m.loginFields[m.loginFocus].Update(msg)
	return m, cmd
}

func (m model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// A pending file offer captures y/n while the input line is empty.
	if m.pendingOffer != nil && m.chatInput.Value() == "" {
		switch msg.String() {
		case "y", "Y":
			return m.acceptOffer()
		case "n", "N":
			offer := m.pendingOffer
			m.pendingOffer = nil
			m.cli.Send(&wire.Message{Command: wire.CmdFileResponse, Peer: offer.Peer, Response: wire.ResponseDeny}) //nolint:errcheck
			m.appendSystem(fmt.Sprintf("declined %q from %s", offer.Filename, offer.Peer))
			return m, nil
		}
	}

	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyCtrlQ:
		m.cli.Send(&wire.Message{Command: wire.CmdClose}) //nolint:errcheck
		return m, tea.Quit

	case tea.KeyTab:
		m.cycleConversation()
		return m, nil

	case tea.KeyEnter:
		text := strings.TrimSpace(m.chatInput.Value())
		if text == "" {
			return m, nil
		}
		m.chatInput.Reset()
		if path, ok := strings.CutPrefix(text, "/file "); ok {
			m.offerFile(strings.TrimSpace(path))
			return m, nil
		}
		m.cli.Send(&wire.Message{Command: wire.CmdChat, Peer: m.activePeer, Message: text}) //nolint:errcheck
		// The server never echoes to the sender; render locally.
		m.appendLine(m.activePeer, chatLine(m.me, m.me, text))
		return m, nil

	case tea.KeyPgUp:
		m.viewport.HalfViewUp()
		return m, nil

	case tea.KeyPgDown:
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.chatInput, cmd = m.chatInput.Update(msg)
	return m, cmd
}

// cycleConversation moves to the next conversation (broadcast, then each
// online peer) and requests its history.
func (m *model) cycleConversation() {
	order := append([]string{""}, m.roster...)
	next := 0
	for i, peer := range order {
		if peer == m.activePeer {
			next = (i + 1) % len(order)
			break
		}
	}
	m.activePeer = order[next]
	m.cli.Send(&wire.Message{Command: wire.CmdGetHistory, Peer: m.activePeer}) //nolint:errcheck
	m.refreshViewport()
}

// offerFile validates path and sends a file_request for the active peer.
func (m *model) offerFile(path string) {
	if m.activePeer == "" {
		m.appendSystem("file offers need a private conversation; Tab to a peer first")
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		m.appendSystem(fmt.Sprintf("cannot offer %q: not a readable file", path))
		return
	}
	sum, err := client.FileMD5(path)
	if err != nil {
		m.appendSystem(fmt.Sprintf("cannot checksum %q: %v", path, err))
		return
	}
	m.offeredFile = path
	m.cli.Send(&wire.Message{ //nolint:errcheck
		Command:  wire.CmdFileRequest,
		Peer:     m.activePeer,
		Filename: filepath.Base(path),
		Size:     client.FormatSize(info.Size()),
		MD5:      sum,
	})
	m.appendSystem(fmt.Sprintf("offered %q to %s", filepath.Base(path), m.activePeer))
}

// acceptOffer opens the transfer listener, then accepts on the control
// plane, then waits for the sender's stream in the background.
func (m model) acceptOffer() (tea.Model, tea.Cmd) {
	offer := m.pendingOffer
	m.pendingOffer = nil

	ln, err := client.ListenTransfer()
	if err != nil {
		m.appendSystem(fmt.Sprintf("cannot accept %q: %v", offer.Filename, err))
		return m, nil
	}
	m.cli.Send(&wire.Message{Command: wire.CmdFileResponse, Peer: offer.Peer, Response: wire.ResponseAccept}) //nolint:errcheck
	m.appendSystem(fmt.Sprintf("accepted %q from %s; receiving…", offer.Filename, offer.Peer))

	name := filepath.Base(offer.Filename)
	return m, func() tea.Msg {
		n, d, err := client.ReceiveFrom(ln, name)
		return transferDoneMsg{name: name, bytes: n, duration: d, received: true, err: err}
	}
}

// ---------------------------------------------------------------------------
// Server event handler
// ---------------------------------------------------------------------------

func (m model) handleServerEvent(ev *wire.Message) (model, tea.Cmd) {
	switch ev.Type {

	case wire.EventRegisterResult:
		if ev.Response == wire.ResponseOK {
			m.loginIsReg = false
			m.statusMsg = "Registered! Press Enter again to log in."
		} else {
			m.statusMsg = ev.Reason
		}

	case wire.EventLoginResult:
		if ev.Response != wire.ResponseOK {
			m.statusMsg = ev.Reason
			return m, nil
		}
		m.me = ev.Username
		m.state = stateChat
		m.chatInput.Focus()
		m.cli.Send(&wire.Message{Command: wire.CmdGetUsers})   //nolint:errcheck
		m.cli.Send(&wire.Message{Command: wire.CmdGetHistory}) //nolint:errcheck
		return m, textinput.Blink

	case wire.EventPeerJoined:
		if ev.Peer != m.me {
			m.addPeer(ev.Peer)
			m.appendSystem(ev.Peer + " joined")
		}

	case wire.EventPeerLeft:
		m.removePeer(ev.Peer)
		m.appendSystem(ev.Peer + " left")

	case wire.EventGetUsers:
		var users []string
		if err := json.Unmarshal(ev.Data, &users); err == nil {
			m.roster = users
			m.refreshViewport()
		}

	case wire.EventGetHistory:
		var entries []wire.HistoryEntry
		if err := json.Unmarshal(ev.Data, &entries); err != nil {
			return m, nil
		}
		lines := make([]string, 0, len(entries))
		for _, e := range entries {
			lines = append(lines, historyLine(m.me, e))
		}
		m.convos[ev.Peer] = lines
		if ev.Peer == m.activePeer {
			m.refreshViewport()
		}

	case wire.EventPrivateMessage:
		m.appendLine(ev.Peer, chatLine(m.me, ev.Peer, ev.Message))

	case wire.EventBroadcastMessage:
		m.appendLine("", chatLine(m.me, ev.Peer, ev.Message))

	case wire.EventFileRequest:
		m.pendingOffer = ev
		m.appendSystem(fmt.Sprintf("%s offers %q (%s, md5 %s) — press y to accept, n to decline",
			ev.Peer, ev.Filename, ev.Size, ev.MD5))

	case wire.EventFileResponse:
		switch ev.Response {
		case wire.ResponseError:
			m.offeredFile = ""
			m.appendSystem("file offer failed: " + ev.Reason)
		case wire.ResponseDeny:
			m.offeredFile = ""
			m.appendSystem(ev.Peer + " declined the file offer")
		case wire.ResponseAccept:
			path := m.offeredFile
			m.offeredFile = ""
			if path == "" {
				return m, nil
			}
			m.appendSystem(fmt.Sprintf("%s accepted; sending %q…", ev.Peer, filepath.Base(path)))
			ip := ev.IP
			return m, func() tea.Msg {
				n, d, err := client.SendFile(ip, path)
				return transferDoneMsg{name: filepath.Base(path), bytes: n, duration: d, err: err}
			}
		}
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// Conversation bookkeeping
// ---------------------------------------------------------------------------

func (m *model) addPeer(name string) {
	for _, p := range m.roster {
		if p == name {
			return
		}
	}
	m.roster = append(m.roster, name)
}

func (m *model) removePeer(name string) {
	for i, p := range m.roster {
		if p == name {
			m.roster = append(m.roster[:i], m.roster[i+1:]...)
			break
		}
	}
	if m.activePeer == name {
		m.activePeer = ""
		m.refreshViewport()
	}
}

func (m *model) appendLine(peer, line string) {
	m.convos[peer] = append(m.convos[peer], line)
	if peer == m.activePeer {
		m.refreshViewport()
	}
}

// appendSystem adds a system notice to the active conversation.
func (m *model) appendSystem(text string) {
	m.appendLine(m.activePeer, sysStyle.Render("⚡ "+text))
}

func (m *model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.convos[m.activePeer], "\n"))
	m.viewport.GotoBottom()
}

func chatLine(me, sender, text string) string {
	ts := tsStyle.Render("[" + time.Now().Format("15:04:05") + "]")
	name := peerStyle.Render(sender)
	if sender == me {
		name = myNameStyle.Render(sender)
	}
	return ts + " " + name + ": " + text
}

func historyLine(me string, e wire.HistoryEntry) string {
	ts := tsStyle.Render("[" + e.Timestamp + "]")
	name := peerStyle.Render(e.Sender)
	if e.Sender == me {
		name = myNameStyle.Render(e.Sender)
	}
	return ts + " " + name + ": " + e.Text
}

// ---------------------------------------------------------------------------
// Views
// ---------------------------------------------------------------------------

func (m model) View() string {
	switch m.state {
	case stateLogin:
		return m.viewLogin()
	case stateChat:
		return m.viewChat()
	}
	return ""
}

func (m model) viewLogin() string {
	if m.width == 0 {
		return "\n  Connecting to server…"
	}

	mode := "Login"
	other := "Register"
	if m.loginIsReg {
		mode, other = "Register", "Login"
	}

	title := titleStyle.Render("  Relay Chat  ")

	renderField := func(label string, f textinput.Model, focused bool) string {
		lbl := labelStyle.Render(label)
		if focused {
			lbl = focusedLabelStyle.Render(label)
		}
		return lbl + "  " + f.View()
	}

	form := lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		renderField("Username", m.loginFields[0], m.loginFocus == 0),
		renderField("Password", m.loginFields[1], m.loginFocus == 1),
		"",
		hintStyle.Render(fmt.Sprintf("Tab: switch field   Enter: %s   Ctrl+R: switch to %s", mode, other)),
		hintStyle.Render("Ctrl+C: quit"),
		"",
		m.renderStatus(),
	)

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, form)
}

func (m model) viewChat() string {
	if !m.ready {
		return "\n  Connecting…"
	}

	convo := broadcastLabel
	if m.activePeer != "" {
		convo = m.activePeer
	}
	hdr := headerStyle.
		Width(m.width).
		Render(fmt.Sprintf(" %s  ·  talking to: %s  ·  %d online  ·  Tab: next chat  Ctrl+C: quit",
			m.me, convo, len(m.roster)+1))

	footer := footerBorderStyle.
		Width(m.width - 2).
		Render(m.chatInput.View())

	return lipgloss.JoinVertical(lipgloss.Left, hdr, m.viewport.View(), footer)
}

// renderStatus renders the login status line with appropriate colour.
func (m model) renderStatus() string {
	if m.statusMsg == "" {
		return ""
	}
	switch {
	case strings.Contains(m.statusMsg, "Authenticating"):
		return hintStyle.Render(m.statusMsg)
	case strings.HasPrefix(m.statusMsg, "Registered"):
		return successStyle.Render(m.statusMsg)
	}
	return errorStyle.Render(m.statusMsg)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// waitForEvent returns a tea.Cmd that blocks until the next server event.
// A closed channel means the receive loop died: the server disconnected.
func waitForEvent(ch <-chan *wire.Message) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return disconnectedMsg{}
		}
		return serverEventMsg(ev)
	}
}

// forwardedEvents lists every server event the UI consumes.
var forwardedEvents = []wire.Event{
	wire.EventLoginResult,
	wire.EventRegisterResult,
	wire.EventPeerJoined,
	wire.EventPeerLeft,
	wire.EventGetUsers,
	wire.EventGetHistory,
	wire.EventPrivateMessage,
	wire.EventBroadcastMessage,
	wire.EventFileRequest,
	wire.EventFileResponse,
}

func main() {
	addr := flag.String("addr", "", "server address override (host:port)")
	flag.Parse()

	// The TUI owns the terminal; route log records nowhere.
	logging.SetupWithWriter(io.Discard, "ERROR") //nolint:errcheck

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	target := cfg.ListenAddr()
	if *addr != "" {
		target = *addr
	} else if cfg.Addr == "0.0.0.0" {
		// The server-side default bind address is not dialable.
		target = net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Port))
	}

	cli, err := client.Dial(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer cli.Close()

	// events bridges the receive loop and the Bubbletea event loop.
	events := make(chan *wire.Message, 64)
	for _, ev := range forwardedEvents {
		cli.On(ev, func(m *wire.Message) { events <- m })
	}
	cli.Start()
	go func() {
		<-cli.Done()
		close(events)
	}()

	p := tea.NewProgram(
		newModel(cli, events),
		tea.WithAltScreen(),       // use the alternate screen buffer
		tea.WithMouseCellMotion(), // enable mouse wheel scrolling
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
