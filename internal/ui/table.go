package ui

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/niklaspandersson/dicebox/internal/dice"
	"github.com/niklaspandersson/dicebox/internal/mesh"
)

func newTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
}

// DiceView renders the last values of every set of the room with locked dice
// highlighted.
func DiceView(cfg dice.Config, st *mesh.State, selfID string) string {
	rows := make([][]string, 0, len(cfg.DiceSets))
	for _, set := range cfg.DiceSets {
		holder := MutedStyle.Render("free")
		if h, ok := st.Holder(set.ID); ok {
			holder = displayName(h.Username, h.PeerID, selfID)
		}
		rolledBy := "-"
		if h, ok := st.LastRoller(set.ID); ok {
			rolledBy = displayName(h.Username, h.PeerID, selfID)
		}
		rows = append(rows, []string{set.ID, diceFaces(st, set), holder, rolledBy})
	}
	return newTable([]string{"Set", "Dice", "Held by", "Rolled by"}, rows).Render()
}

func diceFaces(st *mesh.State, set dice.Set) string {
	sr, ok := st.LastResult(set.ID)
	if !ok {
		return MutedStyle.Render(strings.Repeat("□ ", set.Count))
	}
	lock := st.Lock(set.ID)
	faces := make([]string, len(sr.Values))
	for i, v := range sr.Values {
		if lock.IsLocked(i) {
			faces[i] = LockedStyle.Render(DieFace(v))
			continue
		}
		faces[i] = DieFace(v)
	}
	return fmt.Sprintf("%s  %s", strings.Join(faces, " "), MutedStyle.Render(fmt.Sprintf("(%d)", sum(sr.Values))))
}

func sum(values []int) int {
	total := 0
	for _, v := range values {
		total += v
	}
	return total
}

// MemberView lists the peers of the replica, oldest first.
func MemberView(st *mesh.State, selfID string) string {
	peers := st.Peers()
	ids := make([]string, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		if d := peers[a].ConnectedAt - peers[b].ConnectedAt; d != 0 {
			if d < 0 {
				return -1
			}
			return 1
		}
		return strings.Compare(a, b)
	})

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		p := peers[id]
		held := strings.Join(st.HeldBy(id), ", ")
		if held == "" {
			held = "-"
		}
		joined := time.UnixMilli(p.ConnectedAt).Format("15:04:05")
		rows = append(rows, []string{displayName(p.Username, id, selfID), shortID(id), held, joined})
	}
	return newTable([]string{"Player", "Peer", "Holding", "Joined"}, rows).Render()
}

func displayName(username, peerID, selfID string) string {
	if username == "" {
		username = shortID(peerID)
	}
	if peerID == selfID {
		return username + " (you)"
	}
	return username
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RoomCreatedView is shown once a room is registered.
func RoomCreatedView(roomID string, cfg dice.Config) string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	sets := make([]string, len(cfg.DiceSets))
	for i, s := range cfg.DiceSets {
		sets[i] = fmt.Sprintf("%s×%d", s.ID, s.Count)
	}

	content := fmt.Sprintf("%s Room Created!\n\n%s Room ID:  %s\n%s Dice:     %s\n\n%s",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(roomID),
		IconDice, strings.Join(sets, ", "),
		MutedStyle.Render("Others join with: dicebox join "+roomID),
	)
	return boxStyle.Render(content)
}

// QueryView renders the registry's answer about a room.
func QueryView(roomID string, exists bool, members int, cfg *dice.Config) string {
	if !exists {
		return WarningStyle.Render(fmt.Sprintf("%s Room %s does not exist", IconWarning, roomID))
	}
	rows := [][]string{
		{"Room", roomID},
		{"Connected players", fmt.Sprintf("%d", members)},
	}
	if cfg != nil {
		for _, s := range cfg.DiceSets {
			rows = append(rows, []string{"Set " + s.ID, fmt.Sprintf("%d dice", s.Count)})
		}
	}
	return newTable([]string{"Field", "Value"}, rows).Render()
}
