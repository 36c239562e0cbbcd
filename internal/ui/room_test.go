package ui

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/niklaspandersson/dicebox/internal/dice"
	"github.com/niklaspandersson/dicebox/internal/mesh"
	"github.com/niklaspandersson/dicebox/internal/peer"
)

type nopTransport struct{}

func (nopTransport) Send(string, []byte) error         { return nil }
func (nopTransport) Broadcast([]byte, ...string) error { return nil }

func soloRoom(t *testing.T, sets ...dice.Set) (*RoomModel, *mesh.Node) {
	t.Helper()
	node, err := mesh.NewNode("me", "alice", nopTransport{}, mesh.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Roller: dice.NewSeededRoller(7),
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	if err := node.Create(dice.Config{DiceSets: sets}); err != nil {
		t.Fatalf("create: %v", err)
	}
	m := NewRoomModel("rrrr", node)
	node.Subscribe(m.OnEvent)
	return m, node
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line    string
		want    command
		wantErr bool
	}{
		{line: "", want: command{}},
		{line: "grab red", want: command{name: "grab", setID: "red", index: -1}},
		{line: "g", want: command{name: "grab", index: -1}},
		{line: "DROP", want: command{name: "drop", index: -1}},
		{line: "roll", want: command{name: "roll", index: -1}},
		{line: "lock red 2", want: command{name: "lock", setID: "red", index: 1}},
		{line: "l 3", want: command{name: "lock", index: 2}},
		{line: "q", want: command{name: "leave", index: -1}},
		{line: "lock red zero", wantErr: true},
		{line: "lock red 0", wantErr: true},
		{line: "lock", wantErr: true},
		{line: "grab red blue", wantErr: true},
		{line: "dance", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseCommand(tt.line)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseCommand(%q) = %+v, want error", tt.line, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseCommand(%q): %v", tt.line, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseCommand(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}
}

func TestUnknownCommandIsReported(t *testing.T) {
	m, _ := soloRoom(t, dice.Set{ID: "red", Count: 2})
	m.run("dance")
	if len(m.log) != 1 || !strings.Contains(m.log[0], errUsage.Error()) {
		t.Fatalf("log = %q", m.log)
	}
}

func TestGrabRollAndLock(t *testing.T) {
	m, node := soloRoom(t, dice.Set{ID: "red", Count: 2})

	// With a single set the name may be left out.
	m.run("grab")
	if h, ok := node.State().Holder("red"); !ok || h.PeerID != "me" {
		t.Fatalf("holder = %+v, %v", h, ok)
	}
	drain(m)

	cmd := m.run("roll")
	if cmd == nil {
		t.Fatal("roll returned no command")
	}
	done, ok := cmd().(rollDoneMsg)
	if !ok || done.err != nil {
		t.Fatalf("roll result = %+v", done)
	}
	m.Update(done)
	if m.pending != nil {
		t.Fatal("pending roll not cleared")
	}
	if len(node.State().History()) != 1 {
		t.Fatalf("history has %d rolls", len(node.State().History()))
	}

	m.run("lock 1")
	if !node.State().Lock("red").IsLocked(0) {
		t.Fatal("die 1 not locked")
	}

	view := m.View()
	for _, want := range []string{"rrrr", "red", "alice (you)"} {
		if !strings.Contains(view, want) {
			t.Errorf("view lacks %q", want)
		}
	}
}

func TestGrabNeedsSetNameWithSeveralSets(t *testing.T) {
	m, node := soloRoom(t, dice.Set{ID: "red", Count: 2}, dice.Set{ID: "blue", Count: 1})
	m.run("grab")
	if _, held := node.State().Holder("red"); held {
		t.Fatal("grabbed without a set name")
	}
	if len(m.log) == 0 {
		t.Fatal("no hint logged")
	}
}

func TestLockAfterRollPicksRolledSet(t *testing.T) {
	m, node := soloRoom(t, dice.Set{ID: "red", Count: 2}, dice.Set{ID: "blue", Count: 1})
	m.run("grab red")
	drain(m)

	done, ok := m.run("roll")().(rollDoneMsg)
	if !ok || done.err != nil {
		t.Fatalf("roll result = %+v", done)
	}
	m.Update(done)
	if held := node.State().HeldBy("me"); len(held) != 0 {
		t.Fatalf("roll kept holders %v", held)
	}

	// Only red was rolled by this peer, so the set name may be left out.
	m.run("lock 2")
	if !node.State().Lock("red").IsLocked(1) {
		t.Fatalf("die 2 not locked, log: %v", m.log)
	}
	if !node.State().Lock("blue").Empty() {
		t.Fatal("blue locked")
	}

	m.run("grab red")
	m.run("drop")
	if _, held := node.State().Holder("red"); held {
		t.Fatalf("drop without a name kept red, log: %v", m.log)
	}
}

func TestLeaveQuits(t *testing.T) {
	m, _ := soloRoom(t, dice.Set{ID: "red", Count: 1})
	m.input.SetValue("leave")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("no quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("leave did not quit")
	}
	if m.View() != "" {
		t.Fatal("view not cleared on quit")
	}
}

func TestStatusChanges(t *testing.T) {
	m, _ := soloRoom(t, dice.Set{ID: "red", Count: 1})

	m.Update(statusMsg{Status: peer.StatusReconnecting})
	if m.status != "reconnecting" {
		t.Fatalf("status = %q", m.status)
	}
	m.Update(statusMsg{Status: peer.StatusDisconnected, Err: errors.New("gone")})
	if m.status != "disconnected" || !m.statusErr {
		t.Fatalf("status = %q, err %v", m.status, m.statusErr)
	}
	if !strings.Contains(m.View(), "disconnected") {
		t.Fatal("view does not show the disconnected state")
	}
}

func TestEventsAreLogged(t *testing.T) {
	m, node := soloRoom(t, dice.Set{ID: "red", Count: 1})
	if err := node.Grab("red"); err != nil {
		t.Fatalf("grab: %v", err)
	}
	drain(m)
	if len(m.log) == 0 || !strings.Contains(m.log[len(m.log)-1], "grabbed red") {
		t.Fatalf("log = %q", m.log)
	}
}

// drain applies every queued update.
func drain(m *RoomModel) {
	for {
		select {
		case msg := <-m.updates:
			m.Update(msg)
		default:
			return
		}
	}
}
