package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

func (m *Model) View() string {
	if !m.ready {
		return "cargando…"
	}
	lines := []string{
		m.viewport.View(),
		m.input.View(),
		statusStyle.Render(m.statusLine()),
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m *Model) statusLine() string {
	left := "#" + m.roomID
	if m.status != "" {
		left = m.status + " · " + left
	}
	right := "esc to quit"
	return alignStatusLine(left, right, m.width)
}

func alignStatusLine(left, right string, width int) string {
	if width <= 0 || right == "" {
		return left
	}
	leftWidth := lipgloss.Width(left)
	rightWidth := lipgloss.Width(right)
	if leftWidth+rightWidth+1 > width {
		return left
	}
	return left + strings.Repeat(" ", width-leftWidth-rightWidth) + right
}
