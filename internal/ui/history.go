package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/niklaspandersson/dicebox/internal/dice"
)

// HistoryView renders rolls newest first. limit <= 0 shows all of them.
func HistoryView(rolls []dice.Roll, selfID string, limit int) string {
	if len(rolls) == 0 {
		return MutedStyle.Render("No rolls yet")
	}
	if limit > 0 && len(rolls) > limit {
		rolls = rolls[len(rolls)-limit:]
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Title.Align = text.AlignCenter
	tw.SetTitle("%s Roll history", IconDice)
	tw.AppendHeader(table.Row{"#", "Time", "Set", "Dice", "Rolled by", "Values from", "Total"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})

	for i := len(rolls) - 1; i >= 0; i-- {
		r := rolls[i]
		at := time.UnixMilli(r.Timestamp).Format("15:04:05")
		for j, sr := range r.SetResults {
			row := table.Row{"", "", sr.SetID, historyFaces(sr, r.LockedDice[sr.SetID]), holderName(sr, selfID), "", ""}
			if j == 0 {
				row[0] = i + 1
				row[1] = at
				row[5] = generatorName(r.GeneratedBy, selfID)
				row[6] = r.Total
			}
			tw.AppendRow(row)
		}
		if i > 0 {
			tw.AppendSeparator()
		}
	}
	return tw.Render()
}

func historyFaces(sr dice.SetResult, lock dice.LockState) string {
	faces := make([]string, len(sr.Values))
	for i, v := range sr.Values {
		if lock.IsLocked(i) {
			faces[i] = fmt.Sprintf("[%d]", v)
			continue
		}
		faces[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(faces, " ")
}

func holderName(sr dice.SetResult, selfID string) string {
	return displayName(sr.HolderUsername, sr.HolderID, selfID)
}

func generatorName(peerID, selfID string) string {
	if peerID == selfID {
		return "you"
	}
	return shortID(peerID)
}
