package room

import (
	"context"
	"log"
	"sync"
	"testing"

	"github.com/charla-chat/charla/internal/backend"
	"github.com/charla-chat/charla/internal/types"
)

// pushBackend is a minimal backend whose snapshots are driven by hand.
type pushBackend struct {
	mu        sync.Mutex
	fn        backend.SnapshotFunc
	cancelled bool
	subErr    error
}

func (p *pushBackend) Send(ctx context.Context, roomID string, out backend.Outgoing) (string, error) {
	return "", nil
}

func (p *pushBackend) Subscribe(ctx context.Context, roomID string, limit int, fn backend.SnapshotFunc) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subErr != nil {
		return nil, p.subErr
	}
	p.fn = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.cancelled = true
		p.fn = nil
	}, nil
}

func (p *pushBackend) push(records []backend.StreamRecord) {
	p.mu.Lock()
	fn := p.fn
	p.mu.Unlock()
	if fn != nil {
		fn(records)
	}
}

func (p *pushBackend) MarkRead(ctx context.Context, roomID string, ids []string, selfID string) error {
	return nil
}

func (p *pushBackend) SubscribeBlocked(ctx context.Context, selfID string, fn backend.BlockFunc) (func(), error) {
	return func() {}, nil
}

func (p *pushBackend) SubscribeBlockedBy(ctx context.Context, selfID string, fn backend.BlockFunc) (func(), error) {
	return func() {}, nil
}

func quietLogger() *log.Logger {
	return log.New(discard{}, "", 0)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestSubscriber(t *testing.T, b backend.Backend, onUpdate func([]types.Message)) *Subscriber {
	t.Helper()
	sub := NewSubscriber(b, "sala-1", 50, quietLogger(), onUpdate, nil)
	if err := sub.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return sub
}

func TestSubscriberNormalizesTimestamps(t *testing.T) {
	be := &pushBackend{}
	var got []types.Message
	sub := newTestSubscriber(t, be, func(msgs []types.Message) { got = msgs })
	defer sub.Stop()

	be.push([]backend.StreamRecord{
		{ID: "msg-1", RoomID: "sala-1", SenderID: "u-bob", Body: "a", CreatedAtMS: 1700000000000},
		{ID: "msg-2", RoomID: "sala-1", SenderID: "u-bob", Body: "b", CreatedAtRFC: "2023-11-14T22:13:21Z"},
	})

	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	for _, msg := range got {
		if msg.CreatedAtServer == 0 {
			t.Errorf("message %s missing normalized timestamp", msg.ID)
		}
	}
}

func TestSubscriberOrderStableUnderReorderedInput(t *testing.T) {
	be := &pushBackend{}
	var got []types.Message
	sub := newTestSubscriber(t, be, func(msgs []types.Message) { got = msgs })
	defer sub.Stop()

	// Message A (later timestamp) arrives in a snapshot before B (earlier
	// timestamp) is ever seen. The merged order must still put B first.
	be.push([]backend.StreamRecord{
		{ID: "msg-a", RoomID: "sala-1", SenderID: "u-bob", Body: "a", CreatedAtMS: 2000},
	})
	be.push([]backend.StreamRecord{
		{ID: "msg-a", RoomID: "sala-1", SenderID: "u-bob", Body: "a", CreatedAtMS: 2000},
		{ID: "msg-b", RoomID: "sala-1", SenderID: "u-bob", Body: "b", CreatedAtMS: 1000},
	})

	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].ID != "msg-b" || got[1].ID != "msg-a" {
		t.Errorf("order = %s, %s; want msg-b, msg-a", got[0].ID, got[1].ID)
	}
}

func TestSubscriberTieOrderStableAcrossSnapshots(t *testing.T) {
	be := &pushBackend{}
	var got []types.Message
	sub := newTestSubscriber(t, be, func(msgs []types.Message) { got = msgs })
	defer sub.Stop()

	// Two messages share a timestamp. Their relative order is fixed by
	// first arrival and must not flip when a later snapshot lists them
	// in the opposite order.
	be.push([]backend.StreamRecord{
		{ID: "msg-x", RoomID: "sala-1", SenderID: "u-bob", Body: "x", CreatedAtMS: 1000},
		{ID: "msg-y", RoomID: "sala-1", SenderID: "u-bob", Body: "y", CreatedAtMS: 1000},
	})
	be.push([]backend.StreamRecord{
		{ID: "msg-y", RoomID: "sala-1", SenderID: "u-bob", Body: "y", CreatedAtMS: 1000},
		{ID: "msg-x", RoomID: "sala-1", SenderID: "u-bob", Body: "x", CreatedAtMS: 1000},
	})

	if got[0].ID != "msg-x" || got[1].ID != "msg-y" {
		t.Errorf("tie order flipped across snapshots: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestSubscriberDedupesWithinSnapshot(t *testing.T) {
	be := &pushBackend{}
	var got []types.Message
	sub := newTestSubscriber(t, be, func(msgs []types.Message) { got = msgs })
	defer sub.Stop()

	be.push([]backend.StreamRecord{
		{ID: "msg-1", RoomID: "sala-1", SenderID: "u-bob", Body: "a", CreatedAtMS: 1000},
		{ID: "msg-1", RoomID: "sala-1", SenderID: "u-bob", Body: "a", CreatedAtMS: 1000},
	})
	if len(got) != 1 {
		t.Errorf("got %d messages, want 1", len(got))
	}
}

func TestSubscriberStopSilencesCallbacks(t *testing.T) {
	be := &pushBackend{}
	calls := 0
	sub := newTestSubscriber(t, be, func(msgs []types.Message) { calls++ })

	be.push([]backend.StreamRecord{{ID: "msg-1", RoomID: "sala-1", SenderID: "u-bob", CreatedAtMS: 1}})
	sub.Stop()
	// A straggler callback after teardown must be a no-op, so switching
	// rooms cannot leak messages across rooms.
	sub.handleSnapshot([]backend.StreamRecord{{ID: "msg-2", RoomID: "sala-1", SenderID: "u-bob", CreatedAtMS: 2}})

	if calls != 1 {
		t.Errorf("callbacks after stop: got %d calls, want 1", calls)
	}
	if !be.cancelled {
		t.Error("backend subscription not cancelled on stop")
	}
}
