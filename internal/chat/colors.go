package chat

import (
	"hash/fnv"

	"github.com/charmbracelet/lipgloss"
)

var senderPalette = []lipgloss.Color{
	lipgloss.Color("111"),
	lipgloss.Color("157"),
	lipgloss.Color("216"),
	lipgloss.Color("36"),
	lipgloss.Color("183"),
	lipgloss.Color("230"),
}

// colorForUser picks a stable palette color per user id.
func colorForUser(userID string) lipgloss.Color {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	idx := int(h.Sum32()) % len(senderPalette)
	return senderPalette[idx]
}
