package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/renjiyun06/mosaic-sub001/internal/bus"
	"github.com/renjiyun06/mosaic-sub001/internal/graph"
	"github.com/renjiyun06/mosaic-sub001/internal/notify"
	"github.com/renjiyun06/mosaic-sub001/internal/theme"
)

func (m *Model) viewStatusBar() string {
	var conn string
	switch m.connState {
	case bus.StateConnected:
		conn = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● connected")
	case bus.StateConnecting:
		conn = lipgloss.NewStyle().Foreground(theme.ColorWarning).Render("◌ connecting...")
	default:
		conn = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ disconnected")
	}

	runtime := theme.StyleDimmed.Render(fmt.Sprintf(
		"cpu %.0f%%  mem %.0f%%  %d session(s)",
		m.runtime.CPUPercent, m.runtime.MemoryPercent, m.runtime.Sessions))

	left := theme.StyleHeader.Render(" MOSAIC ") + " " + conn
	if detail := m.bus.LastError(); detail != "" {
		left += "  " + theme.StyleError.Render("! "+detail)
	}
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(runtime) - 1
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + runtime
}

func (m *Model) viewNodes() string {
	nodes := m.graph.Nodes()
	if len(nodes) == 0 {
		return theme.StyleDimmed.Render("  no nodes - waiting for backend")
	}

	lines := make([]string, 0, len(nodes)+1)
	lines = append(lines, theme.StyleHeader.Render("  NODES"))
	for i, n := range nodes {
		prefix := "  "
		if i == m.selectedIdx {
			prefix = "> "
		}
		lines = append(lines, prefix+m.renderNodeLine(n))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m *Model) renderNodeLine(n graph.NodeVisual) string {
	marker := " "
	if n.Node.Kind.Sessionable() {
		if n.Expanded {
			marker = "▾"
		} else {
			marker = "▸"
		}
	}
	name := lipgloss.NewStyle().
		Foreground(theme.KindColor(string(n.Node.Kind))).
		Render(n.Node.Name)
	kind := theme.StyleDimmed.Render(string(n.Node.Kind))
	return fmt.Sprintf("%s %s  %s  z=%d", marker, name, kind, n.ZIndex)
}

func (m *Model) viewNotices() string {
	if len(m.notices) == 0 {
		return ""
	}
	lines := make([]string, 0, len(m.notices))
	for _, n := range m.notices {
		style := theme.StyleDimmed
		switch n.Level {
		case notify.LevelError:
			style = theme.StyleError
		case notify.LevelWarn:
			style = lipgloss.NewStyle().Foreground(theme.ColorWarning)
		}
		lines = append(lines, style.Render("  "+n.Message))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m *Model) viewTerminal() string {
	title := theme.StyleHeader.Render(" terminal "+m.termSession+" ") +
		theme.StyleDimmed.Render(" ["+m.bridgeState()+"]  esc:detach  ctrl+r:restart")

	var body string
	if m.termScreen != nil {
		lines := m.termScreen.Lines()
		rows := termRows(m.height)
		if len(lines) > rows {
			lines = lines[len(lines)-rows:]
		}
		body = strings.Join(lines, "\n")
	}
	return lipgloss.JoinVertical(lipgloss.Left, title, theme.StyleBorder.Render(body))
}

func (m *Model) bridgeState() string {
	if b := m.bridges[m.termSession]; b != nil {
		return b.State().String()
	}
	return "detached"
}
