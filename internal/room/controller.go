package room

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/charla-chat/charla/internal/backend"
	"github.com/charla-chat/charla/internal/types"
)

// Gate vetoes outgoing messages. It is consulted in the background after
// the optimistic render; its latency never blocks the send path. A non-nil
// error withdraws the speculative entry with the error text as the reason.
type Gate interface {
	Check(body, senderID string) error
}

// NoticeKind classifies per-message and room-level conditions surfaced to
// the UI.
type NoticeKind string

const (
	NoticeValidationRejected NoticeKind = "validation_rejected"
	NoticeRetryExhausted     NoticeKind = "retry_exhausted"
	NoticeStreamError        NoticeKind = "stream_error"
)

// Notice is a condition the UI may show. Errors scoped to one message
// never abort the merged view.
type Notice struct {
	Kind          NoticeKind
	CorrelationID string
	Reason        string
}

// Options configure a room controller.
type Options struct {
	Backend       backend.Backend
	Gate          Gate // optional
	Identity      types.Identity
	RoomID        string
	Logger        *log.Logger
	OverdueBudget time.Duration
	OnNotice      func(Notice) // optional, called from the room timeline
}

// Controller owns all message state for one room. Every mutation and
// reconciliation pass runs on its single event loop; concurrency enters
// only as interleaved events (snapshots, send completions, timers, block
// changes) posted onto that loop. Switching rooms means closing this
// controller and creating a new one — no state is shared across rooms.
type Controller struct {
	opts    Options
	outbox  *Outbox
	sub     *Subscriber
	tracker *Tracker
	sup     *Supervisor

	events chan any
	done   chan struct{}
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc

	auth         []types.Message
	blockedByMe  types.BlockSet
	blockedMe    types.BlockSet
	blockCancels []func()

	viewMu  sync.RWMutex
	visible []types.Message
	updates chan []types.Message
}

// Loop event payloads. Everything that mutates room state arrives here.

type submitEvent struct{ cid string }

type snapshotEvent struct{ msgs []types.Message }

type sendResultEvent struct {
	cid         string
	confirmedID string
	err         error
}

type vetoEvent struct {
	cid    string
	reason string
}

type blockEvent struct {
	ids  []string
	byMe bool
}

type overdueEvent struct{ cid string }

type retryEvent struct{ cid string }

type streamErrorEvent struct{ err error }

// NewController creates a controller for one room.
func NewController(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	c := &Controller{
		opts:        opts,
		outbox:      NewOutbox(),
		tracker:     NewTracker(opts.Identity.UserID),
		events:      make(chan any, 64),
		done:        make(chan struct{}),
		blockedByMe: types.BlockSet{},
		blockedMe:   types.BlockSet{},
		updates:     make(chan []types.Message, 1),
	}
	c.sup = NewSupervisor(opts.OverdueBudget, func(cid string) {
		c.post(overdueEvent{cid: cid})
	})
	c.sub = NewSubscriber(opts.Backend, opts.RoomID, opts.Identity.WindowLimit(), opts.Logger,
		func(msgs []types.Message) { c.post(snapshotEvent{msgs: msgs}) },
		func(err error) { c.post(streamErrorEvent{err: err}) },
	)
	return c
}

// Start attaches the stream and block subscriptions and runs the loop.
func (c *Controller) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.sub.Start(c.ctx); err != nil {
		return err
	}

	selfID := c.opts.Identity.UserID
	if cancel, err := c.opts.Backend.SubscribeBlocked(c.ctx, selfID, func(ids []string) {
		c.post(blockEvent{ids: ids, byMe: true})
	}); err == nil {
		c.blockCancels = append(c.blockCancels, cancel)
	} else {
		c.opts.Logger.Printf("room %s: blocked feed unavailable: %v", c.opts.RoomID, err)
	}
	if cancel, err := c.opts.Backend.SubscribeBlockedBy(c.ctx, selfID, func(ids []string) {
		c.post(blockEvent{ids: ids, byMe: false})
	}); err == nil {
		c.blockCancels = append(c.blockCancels, cancel)
	} else {
		c.opts.Logger.Printf("room %s: blocked-by feed unavailable: %v", c.opts.RoomID, err)
	}

	go c.run()
	return nil
}

// Close tears the room down. The subscription is cancelled, timers stop,
// and completion callbacks from in-flight sends become no-ops instead of
// mutating a dead store.
func (c *Controller) Close() {
	c.once.Do(func() {
		close(c.done)
		c.sub.Stop()
		for _, cancel := range c.blockCancels {
			cancel()
		}
		c.sup.Close()
		if c.cancel != nil {
			c.cancel()
		}
	})
}

// SendMessage appends a speculative entry, returning its correlation id
// without blocking. Validation and the backend write both run in the
// background; the entry is visible in the merged view immediately.
func (c *Controller) SendMessage(draft types.Draft) string {
	cid := c.outbox.Append(c.opts.RoomID, c.opts.Identity, draft)
	c.post(submitEvent{cid: cid})
	return cid
}

// RetryMessage resubmits a failed message. After the attempt ceiling the
// entry stays failed and a RetryExhausted notice fires.
func (c *Controller) RetryMessage(cid string) {
	c.post(retryEvent{cid: cid})
}

// MarkRead records the local user's read receipt for the given confirmed
// messages. Fire-and-forget.
func (c *Controller) MarkRead(messageIDs []string) {
	ids := make([]string, len(messageIDs))
	copy(ids, messageIDs)
	go MarkReadLocally(c.ctx, c.opts.Backend, c.opts.Logger, c.opts.RoomID, ids, c.opts.Identity.UserID)
}

// Visible returns the current merged, filtered view.
func (c *Controller) Visible() []types.Message {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	out := make([]types.Message, len(c.visible))
	copy(out, c.visible)
	return out
}

// Updates delivers the visible view after every recomputation. The channel
// holds only the latest view; slow readers skip intermediate states.
func (c *Controller) Updates() <-chan []types.Message {
	return c.updates
}

// post delivers an event to the loop unless the room is torn down.
func (c *Controller) post(ev any) {
	select {
	case <-c.done:
	case c.events <- ev:
	}
}

func (c *Controller) run() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Controller) handle(ev any) {
	switch ev := ev.(type) {
	case submitEvent:
		c.publish()
		entry, ok := c.outbox.Get(ev.cid)
		if !ok {
			return
		}
		go c.submit(entry, true)
	case snapshotEvent:
		c.handleSnapshot(ev.msgs)
	case sendResultEvent:
		c.handleSendResult(ev)
	case vetoEvent:
		if c.outbox.Remove(ev.cid) {
			c.notify(Notice{Kind: NoticeValidationRejected, CorrelationID: ev.cid, Reason: ev.reason})
			c.publish()
		}
	case blockEvent:
		set := types.NewBlockSet(ev.ids)
		if ev.byMe {
			c.blockedByMe = set
		} else {
			c.blockedMe = set
		}
		c.publish()
	case overdueEvent:
		if c.outbox.MarkOverdue(ev.cid) {
			c.publish()
		}
	case retryEvent:
		c.handleRetry(ev.cid)
	case streamErrorEvent:
		c.notify(Notice{Kind: NoticeStreamError, Reason: ev.err.Error()})
	}
}

// submit runs off-loop: the gate first, then the backend write. Results
// come back as events. A veto means the entry never touches the network.
func (c *Controller) submit(entry Entry, validate bool) {
	if validate && c.opts.Gate != nil {
		if err := c.opts.Gate.Check(entry.Draft.Body, entry.Sender.UserID); err != nil {
			c.post(vetoEvent{cid: entry.CorrelationID, reason: err.Error()})
			return
		}
	}
	out := backend.Outgoing{
		CorrelationID: entry.CorrelationID,
		Sender:        entry.Sender,
		Body:          entry.Draft.Body,
		Kind:          entry.Draft.Kind,
		ReplyTo:       entry.Draft.ReplyTo,
	}
	confirmedID, err := c.opts.Backend.Send(c.ctx, c.opts.RoomID, out)
	c.post(sendResultEvent{cid: entry.CorrelationID, confirmedID: confirmedID, err: err})
}

func (c *Controller) handleSendResult(ev sendResultEvent) {
	if _, ok := c.outbox.Get(ev.cid); !ok {
		// Withdrawn or already reconciled away; late results are no-ops.
		return
	}
	if ev.err != nil {
		c.sup.Disarm(ev.cid)
		if c.outbox.MarkFailed(ev.cid, ev.err.Error()) {
			c.opts.Logger.Printf("room %s: send %s failed: %v", c.opts.RoomID, ev.cid, ev.err)
			c.publish()
		}
		return
	}
	if c.outbox.MarkSent(ev.cid, ev.confirmedID) {
		c.sup.Arm(ev.cid)
		c.publish()
	}
}

func (c *Controller) handleSnapshot(msgs []types.Message) {
	c.auth = msgs

	// Advance receipt state before discarding matched entries so the
	// speculative -> confirmed handoff shows no status flicker.
	c.tracker.OnStreamUpdate(msgs)

	confirmed := ConfirmedCIDs(msgs)
	for _, entry := range c.outbox.Entries() {
		if _, ok := confirmed[entry.CorrelationID]; ok {
			c.sup.Disarm(entry.CorrelationID)
			c.outbox.Remove(entry.CorrelationID)
		}
	}
	c.publish()
}

func (c *Controller) handleRetry(cid string) {
	entry, err := c.outbox.Retry(cid)
	if err == ErrRetryExhausted {
		c.notify(Notice{Kind: NoticeRetryExhausted, CorrelationID: cid, Reason: "message could not be sent"})
		return
	}
	if err != nil || entry == nil {
		return
	}
	c.publish()
	// The payload was validated on first submission; retries go straight
	// to the wire.
	go c.submit(*entry, false)
}

func (c *Controller) notify(n Notice) {
	if c.opts.OnNotice != nil {
		c.opts.OnNotice(n)
	}
}

// publish recomputes the merged view from the authoritative window and
// the outbox, applies receipt decoration and the block filter, and hands
// the result to readers.
func (c *Controller) publish() {
	merged := Merge(c.auth, c.outbox.Entries())
	c.tracker.Decorate(merged)
	visible := Visible(merged, c.blockedByMe, c.blockedMe)

	c.viewMu.Lock()
	c.visible = visible
	c.viewMu.Unlock()

	// Latest-wins: drop the stale view if the reader has not caught up.
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- visible:
	default:
	}
}
