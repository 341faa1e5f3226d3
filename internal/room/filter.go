package room

import "github.com/charla-chat/charla/internal/types"

// Visible applies the block relation to a merged view. A message is hidden
// when its sender is blocked in either direction; service notices from the
// system identity are never hidden. The filter is pure and re-applied
// whenever either set changes, so a new block retroactively hides prior
// messages without waiting for a fresh snapshot.
func Visible(merged []types.Message, blockedByMe, blockedMe types.BlockSet) []types.Message {
	out := make([]types.Message, 0, len(merged))
	for _, msg := range merged {
		if msg.SenderID != types.SystemSenderID &&
			(blockedByMe.Has(msg.SenderID) || blockedMe.Has(msg.SenderID)) {
			continue
		}
		out = append(out, msg)
	}
	return out
}
