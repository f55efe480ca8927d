// GoChat TUI client.
//
// The client logs in over HTTP, opens the WebSocket, authenticates it with
// the issued token and then posts TEXT_MESSAGE envelopes to the current
// room. A reader goroutine forwards every frame to the Bubbletea loop, which
// consumes one at a time through waitForPkt.
//
// Chat commands:
//
//	/rooms              list your rooms
//	/join <roomId>      switch the current room
//	/create <userId>... create a room with you and the given users
//	/leave              leave the current room
//	/quit               exit
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Tyrowin/gochat/internal/protocol"
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

	titleStyle        = lipgloss.NewStyle().Bold(true).Foreground(purple).Padding(0, 2)
	labelStyle        = lipgloss.NewStyle().Foreground(gray).Width(10)
	focusedLabelStyle = lipgloss.NewStyle().Foreground(cyan).Width(10)
	hintStyle         = lipgloss.NewStyle().Foreground(gray).Italic(true)
	successStyle      = lipgloss.NewStyle().Foreground(green)
	errorStyle        = lipgloss.NewStyle().Foreground(red)
	sysStyle          = lipgloss.NewStyle().Foreground(yellow).Italic(true)
	tsStyle           = lipgloss.NewStyle().Foreground(gray)
	myNameStyle       = lipgloss.NewStyle().Bold(true).Foreground(orange)
	peerStyle         = lipgloss.NewStyle().Bold(true).Foreground(blue)
)

// ---------------------------------------------------------------------------
// Bubbletea message types
// ---------------------------------------------------------------------------

type serverPktMsg []byte
type disconnectedMsg struct{}

type connectedMsg struct {
	conn    *wsConn
	pkts    chan []byte
	expires time.Time
}

type loginFailedMsg struct{ err error }
type roomsMsg []roomView
type roomCreatedMsg roomView
type leftRoomMsg string
type infoMsg string
type errMsg struct{ err error }

type appState int

const (
	stateLogin appState = iota
	stateChat
)

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

type model struct {
	api  *apiClient
	conn *wsConn
	pkts chan []byte

	state    appState
	server   string
	me       string
	myID     string
	room     string
	autoAuth bool

	loginIsReg  bool
	loginFocus  int
	loginFields [2]textinput.Model
	statusMsg   string

	ready     bool
	viewport  viewport.Model
	chatInput textinput.Model
	chatLines []string

	width, height int
}

func newModel(server, user, password, room string) model {
	uf := textinput.New()
	uf.Placeholder = "username"
	uf.SetValue(user)
	uf.Focus()
	uf.CharLimit = 32
	uf.Width = 32

	pf := textinput.New()
	pf.Placeholder = "password"
	pf.SetValue(password)
	pf.EchoMode = textinput.EchoPassword
	pf.EchoCharacter = '•'
	pf.CharLimit = 64
	pf.Width = 32

	ci := textinput.New()
	ci.Placeholder = "Type a message or /rooms, /join <id>, /create <userId>..., /leave"
	ci.CharLimit = 500

	return model{
		api:         newAPIClient(server),
		server:      server,
		room:        room,
		autoAuth:    user != "" && password != "",
		state:       stateLogin,
		loginFields: [2]textinput.Model{uf, pf},
		chatInput:   ci,
	}
}

func (m model) Init() tea.Cmd {
	if m.autoAuth {
		return tea.Batch(textinput.Blink, m.loginCmd(false))
	}
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, m.vpHeight())
			m.viewport.SetContent(strings.Join(m.chatLines, "\n"))
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = m.vpHeight()
		}
		m.chatInput.Width = msg.Width - 4
		return m, nil

	case connectedMsg:
		m.conn = msg.conn
		m.pkts = msg.pkts
		m.statusMsg = "Authenticating…"
		if _, err := m.conn.send(protocol.TypeAuthenticate, protocol.AuthenticatePayload{Token: m.api.token}); err != nil {
			m.statusMsg = "send AUTHENTICATE: " + err.Error()
			return m, nil
		}
		return m, waitForPkt(m.pkts)

	case loginFailedMsg:
		m.statusMsg = msg.err.Error()
		return m, nil

	case serverPktMsg:
		m = m.handleServerPkt([]byte(msg))
		return m, waitForPkt(m.pkts)

	case disconnectedMsg:
		m.statusMsg = "disconnected from server"
		return m, tea.Quit

	case roomsMsg:
		if len(msg) == 0 {
			m.appendChat(sysStyle.Render("you are not in any room"))
			return m, nil
		}
		for _, r := range msg {
			marker := "  "
			if r.ID == m.room {
				marker = "* "
			}
			m.appendChat(sysStyle.Render(fmt.Sprintf("%s%s  (%d members)", marker, r.ID, len(r.Members))))
		}
		return m, nil

	case roomCreatedMsg:
		m.room = msg.ID
		m.appendChat(successStyle.Render("created room " + msg.ID + "; now chatting there"))
		return m, nil

	case leftRoomMsg:
		if m.room == string(msg) {
			m.room = ""
		}
		m.appendChat(sysStyle.Render("left room " + string(msg)))
		return m, nil

	case infoMsg:
		m.appendChat(sysStyle.Render(string(msg)))
		return m, nil

	case errMsg:
		m.appendChat(errorStyle.Render("⚠ " + msg.err.Error()))
		return m, nil

	case tea.MouseMsg:
		if m.state == stateChat && m.ready {
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
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

func (m model) vpHeight() int {
	h := m.height - 3
	if h < 1 {
		h = 1
	}
	return h
}

// ---------------------------------------------------------------------------
// Key handlers
// ---------------------------------------------------------------------------

func (m model) handleLoginKey(msg tea.KeyMsg) (model, tea.Cmd) {
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
		if strings.TrimSpace(m.loginFields[0].Value()) == "" || m.loginFields[1].Value() == "" {
			m.statusMsg = "username and password are required"
			return m, nil
		}
		m.statusMsg = "Logging in…"
		return m, m.loginCmd(m.loginIsReg)
	}

	var cmd tea.Cmd
	m.loginFields[m.loginFocus], cmd = m.loginFields[m.loginFocus].Update(msg)
	return m, cmd
}

func (m model) handleChatKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.conn.close()
		return m, tea.Quit

	case tea.KeyEnter:
		line := strings.TrimSpace(m.chatInput.Value())
		m.chatInput.Reset()
		if line == "" {
			return m, nil
		}
		if strings.HasPrefix(line, "/") {
			return m.runCommand(line)
		}
		if m.room == "" {
			m.appendChat(errorStyle.Render("no current room; use /rooms and /join <roomId>"))
			return m, nil
		}
		if _, err := m.conn.send(protocol.TypeTextMessage, protocol.TextMessagePayload{RoomID: m.room, Text: line}); err != nil {
			m.appendChat(errorStyle.Render("⚠ send failed: " + err.Error()))
		}
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

func (m model) runCommand(line string) (model, tea.Cmd) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		m.conn.close()
		return m, tea.Quit
	case "/rooms":
		return m, m.roomsCmd()
	case "/join":
		if len(fields) != 2 {
			m.appendChat(errorStyle.Render("usage: /join <roomId>"))
			return m, nil
		}
		m.room = fields[1]
		m.appendChat(sysStyle.Render("now chatting in " + m.room))
		return m, nil
	case "/create":
		if len(fields) < 2 {
			m.appendChat(errorStyle.Render("usage: /create <userId>..."))
			return m, nil
		}
		return m, m.createRoomCmd(append([]string{m.myID}, fields[1:]...))
	case "/leave":
		if m.room == "" {
			m.appendChat(errorStyle.Render("no current room"))
			return m, nil
		}
		return m, m.leaveRoomCmd(m.room)
	}
	m.appendChat(errorStyle.Render("unknown command " + fields[0]))
	return m, nil
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func (m model) loginCmd(register bool) tea.Cmd {
	api := m.api
	server := m.server
	user := strings.TrimSpace(m.loginFields[0].Value())
	pass := m.loginFields[1].Value()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if register {
			if err := api.register(ctx, user, pass); err != nil {
				return loginFailedMsg{err}
			}
		}
		expires, err := api.login(ctx, user, pass)
		if err != nil {
			return loginFailedMsg{err}
		}
		conn, err := dialWS(server)
		if err != nil {
			return loginFailedMsg{fmt.Errorf("connect: %w", err)}
		}

		pkts := make(chan []byte, 64)
		go conn.readLoop(pkts)
		return connectedMsg{conn: conn, pkts: pkts, expires: expires}
	}
}

func (m model) roomsCmd() tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rooms, err := api.rooms(ctx)
		if err != nil {
			return errMsg{err}
		}
		return roomsMsg(rooms)
	}
}

func (m model) createRoomCmd(members []string) tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		room, err := api.createRoom(ctx, members)
		if err != nil {
			return errMsg{err}
		}
		return roomCreatedMsg(room)
	}
}

func (m model) leaveRoomCmd(roomID string) tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := api.leaveRoom(ctx, roomID); err != nil {
			return errMsg{err}
		}
		return leftRoomMsg(roomID)
	}
}

// ---------------------------------------------------------------------------
// Server envelope handler
// ---------------------------------------------------------------------------

func (m model) handleServerPkt(data []byte) model {
	env, err := protocol.Decode(data)
	if err != nil {
		return m
	}

	switch env.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomePayload
		if err := json.Unmarshal(env.Payload, &w); err != nil {
			return m
		}
		m.me, m.myID = w.Username, w.UserID
		m.state = stateChat
		m.statusMsg = ""
		m.chatInput.Focus()
		m.appendChat(successStyle.Render(fmt.Sprintf("authenticated as %s (id %s), token valid until %s",
			w.Username, w.UserID, time.UnixMilli(w.Expires).Local().Format("2006-01-02 15:04"))))
		if m.room != "" {
			m.appendChat(sysStyle.Render("current room " + m.room))
		}

	case protocol.TypeUnauthenticated:
		if m.state == stateLogin {
			m.statusMsg = "server rejected the token"
			return m
		}
		m.appendChat(errorStyle.Render("⚠ session is not authenticated; the token may have expired, restart to log in again"))

	case protocol.TypeTextMessage:
		var msg protocol.StoredMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return m
		}
		ts := tsStyle.Render("[" + time.UnixMilli(msg.Timestamp).Local().Format("15:04:05") + "]")
		var name string
		if msg.Author == m.myID {
			name = myNameStyle.Render(m.me)
		} else {
			name = peerStyle.Render(shortID(msg.Author))
		}
		room := ""
		if msg.Room != m.room {
			room = tsStyle.Render("#"+shortID(msg.Room)) + " "
		}
		m.appendChat(ts + " " + room + name + ": " + msg.Content)

	case protocol.TypeError:
		var e protocol.ErrorPayload
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return m
		}
		m.appendChat(errorStyle.Render("⚠ " + e.Type))
	}
	return m
}

func (m *model) appendChat(line string) {
	m.chatLines = append(m.chatLines, line)
	if m.ready {
		m.viewport.SetContent(strings.Join(m.chatLines, "\n"))
		m.viewport.GotoBottom()
	}
}

// ---------------------------------------------------------------------------
// View
// ---------------------------------------------------------------------------

func (m model) View() string {
	if m.state == stateChat {
		return m.viewChat()
	}
	return m.viewLogin()
}

func (m model) viewLogin() string {
	if m.width == 0 {
		return "\n  Starting…"
	}

	mode, other := "Login", "Register"
	if m.loginIsReg {
		mode, other = "Register", "Login"
	}

	renderField := func(label string, f textinput.Model, focused bool) string {
		lbl := labelStyle.Render(label)
		if focused {
			lbl = focusedLabelStyle.Render(label)
		}
		return lbl + "  " + f.View()
	}

	status := ""
	if m.statusMsg != "" {
		if strings.HasSuffix(m.statusMsg, "…") {
			status = hintStyle.Render(m.statusMsg)
		} else {
			status = errorStyle.Render(m.statusMsg)
		}
	}

	form := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("  GoChat Terminal  "),
		hintStyle.Render("  "+m.server),
		"",
		renderField("Username", m.loginFields[0], m.loginFocus == 0),
		renderField("Password", m.loginFields[1], m.loginFocus == 1),
		"",
		hintStyle.Render(fmt.Sprintf("Tab: switch field   Enter: %s   Ctrl+R: switch to %s", mode, other)),
		hintStyle.Render("Ctrl+C: quit"),
		"",
		status,
	)

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, form)
}

func (m model) viewChat() string {
	if !m.ready {
		return "\n  Connecting…"
	}

	room := m.room
	if room == "" {
		room = "no room"
	}
	hdr := headerStyle.
		Width(m.width).
		Render(fmt.Sprintf(" GoChat  ·  %s  ·  %s  ·  PgUp/Dn: Scroll  Ctrl+C: Quit", m.me, room))

	footer := footerBorderStyle.
		Width(m.width - 2).
		Render(m.chatInput.View())

	return lipgloss.JoinVertical(lipgloss.Left, hdr, m.viewport.View(), footer)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func waitForPkt(ch <-chan []byte) tea.Cmd {
	return func() tea.Msg {
		data, ok := <-ch
		if !ok {
			return disconnectedMsg{}
		}
		return serverPktMsg(data)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	server := flag.String("server", "http://localhost:8080", "GoChat server base URL")
	user := flag.String("user", "", "username (logs in immediately together with -password)")
	password := flag.String("password", "", "password")
	room := flag.String("room", "", "room id to chat in")
	flag.Parse()

	p := tea.NewProgram(
		newModel(*server, *user, *password, *room),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	final, err := p.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if m, ok := final.(model); ok && m.statusMsg != "" {
		fmt.Println(m.statusMsg)
	}
}
