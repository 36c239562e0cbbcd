package ui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/niklaspandersson/dicebox/internal/dice"
	"github.com/niklaspandersson/dicebox/internal/mesh"
	"github.com/niklaspandersson/dicebox/internal/peer"
	"github.com/niklaspandersson/dicebox/internal/roll"
)

const (
	logLines     = 8
	historyLines = 10
)

var errUsage = errors.New("unknown command, type help")

// RoomNode is the part of mesh.Node the room view drives.
type RoomNode interface {
	ID() string
	State() *mesh.State
	Grab(setID string) error
	Drop(setID string) error
	ToggleLock(setID string, index int) error
	Roll() (*roll.Pending, error)
}

type eventMsg mesh.Event

type statusMsg peer.StatusEvent

type rollDoneMsg struct {
	roll dice.Roll
	err  error
}

// RoomModel is the interactive view of one room.
type RoomModel struct {
	roomID  string
	node    RoomNode
	updates chan tea.Msg

	input   textinput.Model
	spinner spinner.Model

	status      string
	statusErr   bool
	pending     *roll.Pending
	showHistory bool
	log         []string
	quitting    bool
}

func NewRoomModel(roomID string, node RoomNode) *RoomModel {
	ti := textinput.New()
	ti.Placeholder = "grab <set> · roll · lock <set> <die> · drop · history · leave"
	ti.Prompt = "› "
	ti.CharLimit = 64
	ti.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &RoomModel{
		roomID:  roomID,
		node:    node,
		updates: make(chan tea.Msg, 64),
		input:   ti,
		spinner: s,
		status:  "connected",
	}
}

// OnEvent feeds replica changes into the view. Pass it to
// mesh.Node.Subscribe.
func (m *RoomModel) OnEvent(ev mesh.Event) {
	m.push(eventMsg(ev))
}

// OnStatus feeds signaling connection changes into the view.
func (m *RoomModel) OnStatus(ev peer.StatusEvent) {
	m.push(statusMsg(ev))
}

func (m *RoomModel) push(msg tea.Msg) {
	select {
	case m.updates <- msg:
	default:
	}
}

// RunRoom shows the room view until the user leaves or ctx is cancelled.
func RunRoom(ctx context.Context, m *RoomModel) error {
	_, err := tea.NewProgram(m, tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *RoomModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.listenForUpdates())
}

func (m *RoomModel) listenForUpdates() tea.Cmd {
	return func() tea.Msg {
		return <-m.updates
	}
}

func (m *RoomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.Reset()
			if cmd := m.run(line); cmd != nil {
				cmds = append(cmds, cmd)
			}
			if m.quitting {
				return m, tea.Quit
			}
			return m, tea.Batch(cmds...)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.onEvent(mesh.Event(msg))
		return m, m.listenForUpdates()

	case statusMsg:
		m.onStatus(peer.StatusEvent(msg))
		return m, m.listenForUpdates()

	case rollDoneMsg:
		m.pending = nil
		if msg.err != nil {
			m.logf("%s roll failed: %v", IconError, msg.err)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

type command struct {
	name  string
	setID string
	index int
}

func parseCommand(line string) (command, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return command{}, nil
	}
	cmd := command{name: strings.ToLower(fields[0]), index: -1}
	args := fields[1:]

	switch cmd.name {
	case "g", "grab":
		cmd.name = "grab"
	case "d", "drop":
		cmd.name = "drop"
	case "r", "roll":
		cmd.name = "roll"
		return cmd, nil
	case "h", "history":
		cmd.name = "history"
		return cmd, nil
	case "?", "help":
		cmd.name = "help"
		return cmd, nil
	case "q", "quit", "leave", "exit":
		cmd.name = "leave"
		return cmd, nil
	case "l", "lock":
		cmd.name = "lock"
		if len(args) == 1 {
			args = []string{"", args[0]}
		}
		if len(args) != 2 {
			return command{}, errors.New("usage: lock [set] <die>")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return command{}, fmt.Errorf("die must be a number from 1: %q", args[1])
		}
		cmd.setID = args[0]
		cmd.index = n - 1
		return cmd, nil
	default:
		return command{}, errUsage
	}

	if len(args) > 1 {
		return command{}, fmt.Errorf("usage: %s [set]", cmd.name)
	}
	if len(args) == 1 {
		cmd.setID = args[0]
	}
	return cmd, nil
}

// run executes one typed line and returns a command to wait on, if any.
func (m *RoomModel) run(line string) tea.Cmd {
	c, err := parseCommand(line)
	if err != nil {
		m.logf("%s %v", IconWarning, err)
		return nil
	}

	switch c.name {
	case "":
		return nil

	case "help":
		m.logf("grab [set], drop [set], roll, lock [set] <die>, history, leave")

	case "history":
		m.showHistory = !m.showHistory

	case "leave":
		m.quitting = true

	case "grab":
		setID, err := m.resolveSet(c.setID, nil)
		if err == nil {
			err = m.node.Grab(setID)
		}
		m.report(err)

	case "drop":
		setID, err := m.resolveSet(c.setID, m.heldBySelf)
		if err == nil {
			err = m.node.Drop(setID)
		}
		m.report(err)

	case "lock":
		setID, err := m.resolveSet(c.setID, m.lockableBySelf)
		if err == nil {
			err = m.node.ToggleLock(setID, c.index)
		}
		m.report(err)

	case "roll":
		if m.pending != nil {
			m.logf("%s a roll is already in flight", IconWaiting)
			return nil
		}
		p, err := m.node.Roll()
		if err != nil {
			m.report(err)
			return nil
		}
		m.pending = p
		return waitForRoll(p)
	}
	return nil
}

// resolveSet fills in the set when the choice is unambiguous: the only set
// of the room that passes ok.
func (m *RoomModel) resolveSet(setID string, ok func(setID string) bool) (string, error) {
	if setID != "" {
		return setID, nil
	}
	cfg, known := m.node.State().Config()
	if !known {
		return "", errors.New("name the dice set")
	}
	var candidates []string
	for _, s := range cfg.DiceSets {
		if ok == nil || ok(s.ID) {
			candidates = append(candidates, s.ID)
		}
	}
	if len(candidates) != 1 {
		return "", errors.New("name the dice set")
	}
	return candidates[0], nil
}

// heldBySelf reports whether the local peer holds setID.
func (m *RoomModel) heldBySelf(setID string) bool {
	h, ok := m.node.State().Holder(setID)
	return ok && h.PeerID == m.node.ID()
}

// lockableBySelf reports whether the local peer may toggle locks on setID.
// Holders are cleared by every roll, so this follows the last roller too.
func (m *RoomModel) lockableBySelf(setID string) bool {
	return m.node.State().CanLock(setID, m.node.ID())
}

func waitForRoll(p *roll.Pending) tea.Cmd {
	return func() tea.Msg {
		<-p.Done()
		r, err := p.Result()
		return rollDoneMsg{roll: r, err: err}
	}
}

func (m *RoomModel) report(err error) {
	if err != nil {
		m.logf("%s %v", IconWarning, err)
	}
}

func (m *RoomModel) logf(format string, args ...any) {
	m.log = append(m.log, fmt.Sprintf(format, args...))
	if len(m.log) > logLines {
		m.log = m.log[len(m.log)-logLines:]
	}
}

func (m *RoomModel) name(peerID string) string {
	if p, ok := m.node.State().Peer(peerID); ok {
		return displayName(p.Username, peerID, m.node.ID())
	}
	return displayName("", peerID, m.node.ID())
}

func (m *RoomModel) onEvent(ev mesh.Event) {
	switch ev.Kind {
	case mesh.EventStateLoaded:
		m.logf("%s room state loaded", IconSuccess)
	case mesh.EventPeerJoined:
		m.logf("%s %s joined", IconPeer, m.name(ev.PeerID))
	case mesh.EventPeerLeft:
		m.logf("%s %s left", IconPeer, m.name(ev.PeerID))
	case mesh.EventGrab:
		m.logf("%s %s grabbed %s", IconHand, m.name(ev.PeerID), ev.SetID)
	case mesh.EventDrop:
		m.logf("%s %s dropped %s", IconHand, m.name(ev.PeerID), ev.SetID)
	case mesh.EventLock:
		m.logf("%s %s changed locks on %s", IconLock, m.name(ev.PeerID), ev.SetID)
	case mesh.EventRoll:
		if ev.Roll != nil {
			m.logf("%s %s", IconDice, m.describeRoll(*ev.Roll))
		}
	}
}

func (m *RoomModel) describeRoll(r dice.Roll) string {
	parts := make([]string, len(r.SetResults))
	for i, sr := range r.SetResults {
		faces := make([]string, len(sr.Values))
		for j, v := range sr.Values {
			faces[j] = DieFace(v)
		}
		parts[i] = fmt.Sprintf("%s %s", sr.SetID, strings.Join(faces, ""))
	}
	who := "someone"
	if len(r.SetResults) > 0 {
		who = displayName(r.SetResults[0].HolderUsername, r.SetResults[0].HolderID, m.node.ID())
	}
	return fmt.Sprintf("%s rolled %s = %d", who, strings.Join(parts, ", "), r.Total)
}

func (m *RoomModel) onStatus(ev peer.StatusEvent) {
	m.statusErr = false
	switch ev.Status {
	case peer.StatusReconnecting:
		m.status = "reconnecting"
		m.logf("%s lost the signaling server, reconnecting", IconConnect)
	case peer.StatusReconnected:
		m.status = "connected"
		m.logf("%s signaling session resumed", IconConnect)
	case peer.StatusDisconnected:
		m.status = "disconnected"
		m.statusErr = true
		m.logf("%s signaling server unreachable: %v", IconError, ev.Err)
	default:
		m.status = ev.Status.String()
	}
}

func (m *RoomModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder

	status := StatusStyle.Render(m.status)
	if m.statusErr {
		status = ErrorStyle.Render(m.status)
	}
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s dicebox · room %s", IconDice, m.roomID)))
	b.WriteString(" " + status + "\n")

	st := m.node.State()
	if cfg, ok := st.Config(); ok {
		b.WriteString(DiceView(cfg, st, m.node.ID()) + "\n")
	} else {
		b.WriteString(fmt.Sprintf("%s waiting for room state\n", m.spinner.View()))
	}
	b.WriteString(MemberView(st, m.node.ID()) + "\n")

	if m.showHistory {
		b.WriteString(HistoryView(st.History(), m.node.ID(), historyLines) + "\n")
	}

	b.WriteString("\n")
	for _, line := range m.log {
		b.WriteString(line + "\n")
	}
	if m.pending != nil {
		b.WriteString(fmt.Sprintf("%s rolling, values from %s\n", m.spinner.View(), shortID(m.pending.Candidate())))
	}

	b.WriteString("\n" + m.input.View())
	b.WriteString(FooterStyle.Render("\nenter to run · help for commands · ctrl+c to leave"))
	return b.String()
}
