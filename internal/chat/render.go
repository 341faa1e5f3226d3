package chat

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/charla-chat/charla/internal/types"
)

var (
	timeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	readStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	overdueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func renderMessages(messages []types.Message, selfID string, width int) string {
	if len(messages) == 0 {
		return noticeStyle.Render("sin mensajes todavía")
	}
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		lines = append(lines, renderMessage(msg, selfID, width))
	}
	return strings.Join(lines, "\n")
}

func renderMessage(msg types.Message, selfID string, width int) string {
	if msg.Kind == types.MessageKindNotice {
		return noticeStyle.Render("· " + msg.Body)
	}

	sender := msg.SenderName
	if sender == "" {
		sender = msg.SenderID
	}
	senderStyle := lipgloss.NewStyle().Foreground(colorForUser(msg.SenderID)).Bold(true)

	parts := []string{
		timeStyle.Render(formatTS(msg.EffectiveTS())),
		senderStyle.Render(sender),
		msg.Body,
	}
	if msg.SenderID == selfID {
		parts = append(parts, renderMarker(msg))
	}

	line := strings.Join(parts, " ")
	if width > 0 {
		line = lipgloss.NewStyle().Width(width).Render(line)
	}
	return line
}

// renderMarker shows delivery progress for the user's own messages.
func renderMarker(msg types.Message) string {
	switch msg.Status {
	case types.DeliveryPending:
		if msg.Overdue {
			return overdueStyle.Render("○ tardando…")
		}
		return pendingStyle.Render("○")
	case types.DeliverySent:
		if msg.Overdue {
			return overdueStyle.Render("✓ tardando…")
		}
		return pendingStyle.Render("✓")
	case types.DeliveryDelivered:
		return pendingStyle.Render("✓✓")
	case types.DeliveryRead:
		return readStyle.Render("✓✓")
	case types.DeliveryFailed:
		return failedStyle.Render("! no enviado · ctrl+r")
	}
	return ""
}

func formatTS(ms int64) string {
	if ms == 0 {
		return "--:--"
	}
	return time.UnixMilli(ms).Format("15:04")
}
