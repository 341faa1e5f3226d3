package room

import (
	"testing"

	"github.com/charla-chat/charla/internal/types"
)

func TestTrackerAdvancesFromReceiptGrowth(t *testing.T) {
	tr := NewTracker("u-ana")

	msg := confirmedMsg("msg-42", "c1", "u-ana", 1000)
	tr.OnStreamUpdate([]types.Message{msg})
	if st, _ := tr.StatusFor("msg-42"); st != types.DeliverySent {
		t.Fatalf("fresh confirmed message status = %s, want sent", st)
	}

	msg.DeliveredTo = []string{"u-bob"}
	tr.OnStreamUpdate([]types.Message{msg})
	if st, _ := tr.StatusFor("msg-42"); st != types.DeliveryDelivered {
		t.Fatalf("status = %s, want delivered", st)
	}

	// Recipient reads: readBy growth advances straight to read.
	msg.ReadBy = []string{"u-bob"}
	tr.OnStreamUpdate([]types.Message{msg})
	if st, _ := tr.StatusFor("msg-42"); st != types.DeliveryRead {
		t.Fatalf("status = %s, want read", st)
	}
}

func TestTrackerNeverRegresses(t *testing.T) {
	tr := NewTracker("u-ana")

	msg := confirmedMsg("msg-42", "c1", "u-ana", 1000)
	msg.ReadBy = []string{"u-bob"}
	tr.OnStreamUpdate([]types.Message{msg})

	// A stale snapshot without the read receipt must not move it back.
	stale := confirmedMsg("msg-42", "c1", "u-ana", 1000)
	tr.OnStreamUpdate([]types.Message{stale})

	if st, _ := tr.StatusFor("msg-42"); st != types.DeliveryRead {
		t.Errorf("status regressed to %s after stale snapshot", st)
	}
}

func TestTrackerIgnoresOtherSenders(t *testing.T) {
	tr := NewTracker("u-ana")

	other := confirmedMsg("msg-9", "", "u-bob", 1000)
	other.ReadBy = []string{"u-ana"}
	tr.OnStreamUpdate([]types.Message{other})

	if _, ok := tr.StatusFor("msg-9"); ok {
		t.Error("tracker followed a message authored by someone else")
	}
}

func TestTrackerSelfReceiptDoesNotCount(t *testing.T) {
	tr := NewTracker("u-ana")

	// Only a third party's acknowledgment advances the state.
	msg := confirmedMsg("msg-42", "c1", "u-ana", 1000)
	msg.DeliveredTo = []string{"u-ana"}
	msg.ReadBy = []string{"u-ana"}
	tr.OnStreamUpdate([]types.Message{msg})

	if st, _ := tr.StatusFor("msg-42"); st != types.DeliverySent {
		t.Errorf("status = %s, want sent (own receipt ignored)", st)
	}
}

func TestDecorateStampsOwnConfirmedMessages(t *testing.T) {
	tr := NewTracker("u-ana")

	mine := confirmedMsg("msg-1", "c1", "u-ana", 1000)
	mine.ReadBy = []string{"u-bob"}
	theirs := confirmedMsg("msg-2", "", "u-bob", 2000)
	tr.OnStreamUpdate([]types.Message{mine, theirs})

	view := []types.Message{mine, theirs}
	tr.Decorate(view)

	if view[0].Status != types.DeliveryRead {
		t.Errorf("own message status = %s, want read", view[0].Status)
	}
	if view[1].Status != "" {
		t.Errorf("foreign message was decorated: %s", view[1].Status)
	}
}
