package room

import (
	"context"
	"log"

	"github.com/charla-chat/charla/internal/backend"
	"github.com/charla-chat/charla/internal/types"
)

// Tracker follows delivery progression for the local user's own confirmed
// messages. It only ever advances: read never reverts to delivered, and a
// message that reached sent cannot fall back to pending.
type Tracker struct {
	selfID string
	status map[string]types.DeliveryStatus
}

// NewTracker creates a tracker scoped to one sender.
func NewTracker(selfID string) *Tracker {
	return &Tracker{
		selfID: selfID,
		status: make(map[string]types.DeliveryStatus),
	}
}

// OnStreamUpdate scans confirmed messages authored by the tracked sender
// and advances each one from the growth of its receipt sets. Runs before
// reconciliation discards a matched speculative entry, so the handoff from
// speculative to confirmed never shows a transient status dip.
func (t *Tracker) OnStreamUpdate(msgs []types.Message) {
	for _, msg := range msgs {
		if msg.SenderID != t.selfID || !msg.Confirmed() {
			continue
		}
		target := types.DeliverySent
		if anyOther(msg.DeliveredTo, t.selfID) {
			target = types.DeliveryDelivered
		}
		// Read implies delivered; no need to re-derive the delivered set.
		if anyOther(msg.ReadBy, t.selfID) {
			target = types.DeliveryRead
		}
		current, ok := t.status[msg.ID]
		if !ok {
			current = types.DeliveryPending
		}
		t.status[msg.ID] = current.Advance(target)
	}
}

// StatusFor returns the tracked status for a confirmed message id.
func (t *Tracker) StatusFor(id string) (types.DeliveryStatus, bool) {
	st, ok := t.status[id]
	return st, ok
}

// Decorate stamps tracked statuses onto self-authored confirmed messages
// in a merged view. Other senders' messages are left untouched.
func (t *Tracker) Decorate(msgs []types.Message) {
	for i := range msgs {
		if msgs[i].SenderID != t.selfID || !msgs[i].Confirmed() {
			continue
		}
		if st, ok := t.status[msgs[i].ID]; ok {
			msgs[i].Status = st
		} else {
			msgs[i].Status = types.DeliverySent
		}
	}
}

func anyOther(ids []string, selfID string) bool {
	for _, id := range ids {
		if id != selfID {
			return true
		}
	}
	return false
}

// MarkReadLocally requests the backend add selfID to the read set of the
// given messages. Read receipts are best-effort: failures are logged and
// swallowed, never surfaced.
func MarkReadLocally(ctx context.Context, b backend.Backend, logger *log.Logger, roomID string, messageIDs []string, selfID string) {
	if len(messageIDs) == 0 {
		return
	}
	if err := b.MarkRead(ctx, roomID, messageIDs, selfID); err != nil {
		logger.Printf("room %s: mark read failed: %v", roomID, err)
	}
}
