package chat

import (
	"strings"

	"github.com/gen2brain/beeep"

	"github.com/charla-chat/charla/internal/types"
)

// notifyNewMessages fires a desktop notification for confirmed messages
// from other senders that appeared since the previous view.
func notifyNewMessages(prev, next []types.Message, selfID, roomID string) {
	seen := make(map[string]struct{}, len(prev))
	for _, msg := range prev {
		if msg.ID != "" {
			seen[msg.ID] = struct{}{}
		}
	}
	for _, msg := range next {
		if msg.ID == "" || msg.SenderID == selfID || msg.Kind == types.MessageKindNotice {
			continue
		}
		if _, ok := seen[msg.ID]; ok {
			continue
		}
		sender := msg.SenderName
		if sender == "" {
			sender = msg.SenderID
		}
		title := roomID + " · " + sender
		_ = beeep.Notify(title, truncateNotification(msg.Body, 100), "")
	}
}

func truncateNotification(s string, maxLen int) string {
	// Collapse whitespace for notification
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-1] + "…"
}
