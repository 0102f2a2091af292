package ui

import (
	"fmt"
	"time"

	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/call"
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/media"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"
)

// SummaryView renders the end-of-call report.
func SummaryView(s call.Session) string {
	t := prettytable.NewWriter()
	t.SetStyle(prettytable.StyleRounded)
	t.SetTitle(IconHangUp + " Call Summary")
	t.AppendHeader(prettytable.Row{"Metric", "Value"})

	reason := "-"
	if s.EndReason != nil {
		reason = s.EndReason.Error()
	}

	connected := "never"
	if !s.ConnectedAt.IsZero() {
		connected = s.ConnectedAt.Format(time.TimeOnly)
	}

	t.AppendRows([]prettytable.Row{
		{"Call ID", s.ID},
		{"Role", s.Role()},
		{"Final State", s.State.String()},
		{"Connected At", connected},
		{"Duration", formatCallDuration(s.Duration())},
		{"Signals Sent", s.SignalsSent},
		{"Signals Received", s.SignalsReceived},
		{"End Reason", reason},
	})
	return t.Render()
}

func RenderSummary(s call.Session) {
	fmt.Println(SummaryView(s))
}

// DevicesView lists capture and playback devices.
func DevicesView(devices []media.Device) string {
	if len(devices) == 0 {
		return MutedStyle.Render("No media devices found")
	}

	rows := make([][]string, 0, len(devices))
	for i, d := range devices {
		rows = append(rows, []string{fmt.Sprintf("%d", i+1), d.Kind, truncate(d.Label, 40), truncate(d.ID, 36)})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Kind", "Label", "ID").
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

	return tbl.Render()
}

func RenderDevices(devices []media.Device) {
	fmt.Println(DevicesView(devices))
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
