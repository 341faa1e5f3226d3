package room

import (
	"errors"
	"testing"

	"github.com/charla-chat/charla/internal/types"
)

func testIdentity() types.Identity {
	return types.Identity{UserID: "u-ana", DisplayName: "Ana"}
}

func TestAppendProducesDistinctEntries(t *testing.T) {
	o := NewOutbox()
	draft := types.Draft{Body: "hola"}

	cid1 := o.Append("sala-1", testIdentity(), draft)
	cid2 := o.Append("sala-1", testIdentity(), draft)

	if cid1 == cid2 {
		t.Fatalf("identical payloads shared a correlation id: %s", cid1)
	}
	if o.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", o.Len())
	}

	entry, ok := o.Get(cid1)
	if !ok {
		t.Fatal("appended entry missing")
	}
	if entry.State != StatePending {
		t.Errorf("new entry state = %v, want pending", entry.State)
	}
	if entry.CreatedAt == 0 {
		t.Error("new entry missing local timestamp")
	}
	if entry.Attempts != 1 {
		t.Errorf("new entry attempts = %d, want 1", entry.Attempts)
	}
}

func TestMarkSentIdempotent(t *testing.T) {
	o := NewOutbox()
	cid := o.Append("sala-1", testIdentity(), types.Draft{Body: "hola"})

	if !o.MarkSent(cid, "msg-42") {
		t.Fatal("first MarkSent rejected")
	}
	if o.MarkSent(cid, "msg-43") {
		t.Error("second MarkSent should be a no-op")
	}

	entry, _ := o.Get(cid)
	if entry.State != StateSent {
		t.Errorf("state = %v, want sent", entry.State)
	}
	if entry.ServerRef != "msg-42" {
		t.Errorf("server ref = %q, want msg-42 from the first call", entry.ServerRef)
	}
}

func TestMarkFailedKeepsEntryVisible(t *testing.T) {
	o := NewOutbox()
	cid := o.Append("sala-1", testIdentity(), types.Draft{Body: "hola"})

	if !o.MarkFailed(cid, "network down") {
		t.Fatal("MarkFailed rejected")
	}
	entry, ok := o.Get(cid)
	if !ok {
		t.Fatal("failed entry was removed; it must stay visible")
	}
	if entry.State != StateFailed || entry.FailReason != "network down" {
		t.Errorf("entry = %+v, want failed with reason", entry)
	}
	if entry.Message().Status != types.DeliveryFailed {
		t.Errorf("rendered status = %s, want failed", entry.Message().Status)
	}
}

func TestRetryCeiling(t *testing.T) {
	o := NewOutbox()
	cid := o.Append("sala-1", testIdentity(), types.Draft{Body: "hola"})

	// Attempt 1 fails, retries bump to 2 and 3, then exhaustion.
	o.MarkFailed(cid, "err")
	if _, err := o.Retry(cid); err != nil {
		t.Fatalf("retry 1: %v", err)
	}
	o.MarkFailed(cid, "err")
	if _, err := o.Retry(cid); err != nil {
		t.Fatalf("retry 2: %v", err)
	}
	o.MarkFailed(cid, "err")

	if _, err := o.Retry(cid); !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected ErrRetryExhausted, got %v", err)
	}
	entry, _ := o.Get(cid)
	if entry.State != StateFailed {
		t.Errorf("exhausted entry state = %v, want failed (still visible)", entry.State)
	}
}

func TestRetryOnlyAppliesToFailed(t *testing.T) {
	o := NewOutbox()
	cid := o.Append("sala-1", testIdentity(), types.Draft{Body: "hola"})

	entry, err := o.Retry(cid)
	if err != nil || entry != nil {
		t.Fatalf("retry of pending entry should be a no-op, got %v, %v", entry, err)
	}
	if _, err := o.Retry("nope"); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("expected ErrUnknownMessage, got %v", err)
	}
}

func TestRemoveDiscardsForGood(t *testing.T) {
	o := NewOutbox()
	cid := o.Append("sala-1", testIdentity(), types.Draft{Body: "hola"})

	if !o.Remove(cid) {
		t.Fatal("remove rejected")
	}
	if o.Remove(cid) {
		t.Error("second remove should report missing")
	}
	if o.MarkSent(cid, "msg-1") {
		t.Error("removed entry must not transition")
	}
	if o.Len() != 0 {
		t.Errorf("outbox not empty after remove: %d", o.Len())
	}
}

func TestMarkOverdueOnlyWhileSent(t *testing.T) {
	o := NewOutbox()
	cid := o.Append("sala-1", testIdentity(), types.Draft{Body: "hola"})

	if o.MarkOverdue(cid) {
		t.Error("pending entry must not go overdue")
	}
	o.MarkSent(cid, "")
	if !o.MarkOverdue(cid) {
		t.Error("sent entry should accept overdue flag")
	}
	if o.MarkOverdue(cid) {
		t.Error("overdue flag should be set once")
	}
	entry, _ := o.Get(cid)
	if !entry.Message().Overdue {
		t.Error("overdue flag not rendered on message")
	}
}
