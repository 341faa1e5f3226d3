package room

import (
	"errors"
	"sync"
	"time"

	"github.com/charla-chat/charla/internal/core"
	"github.com/charla-chat/charla/internal/types"
)

// maxSendAttempts is the ceiling after which a retry fails permanently.
const maxSendAttempts = 3

// ErrRetryExhausted is returned once a message has used all send attempts.
// The message stays visible in the failed state; recovering requires the
// user to compose it again.
var ErrRetryExhausted = errors.New("send attempts exhausted")

// ErrUnknownMessage is returned for operations on a correlation id the
// outbox does not hold.
var ErrUnknownMessage = errors.New("unknown outbox message")

// OutboxState is the lifecycle of a speculative entry. Confirmed messages
// never live in the outbox; reconciliation removes an entry the moment its
// confirmed counterpart appears in the stream.
type OutboxState int

const (
	StatePending OutboxState = iota
	StateSent
	StateFailed
)

// Entry is one in-flight, client-originated message.
type Entry struct {
	CorrelationID string
	Draft         types.Draft
	Sender        types.Identity
	RoomID        string
	CreatedAt     int64 // client clock, epoch millis
	State         OutboxState
	Attempts      int
	ServerRef     string // durable id from the send ack, before the snapshot catches up
	FailReason    string
	Overdue       bool // advisory, set by the supervisor; never authoritative
}

// Message renders the entry as a speculative message for the merged view.
func (e *Entry) Message() types.Message {
	status := types.DeliveryPending
	switch e.State {
	case StateSent:
		status = types.DeliverySent
	case StateFailed:
		status = types.DeliveryFailed
	}
	return types.Message{
		CorrelationID:  e.CorrelationID,
		RoomID:         e.RoomID,
		SenderID:       e.Sender.UserID,
		SenderName:     e.Sender.DisplayName,
		SenderAvatar:   e.Sender.Avatar,
		Body:           e.Draft.Body,
		Kind:           e.Draft.Kind,
		CreatedAtLocal: e.CreatedAt,
		Status:         status,
		ReplyTo:        e.Draft.ReplyTo,
		Overdue:        e.Overdue,
	}
}

// Outbox holds the speculative entries for one room, keyed by correlation
// id in append order. It is owned by the room controller; nothing else
// mutates entries.
type Outbox struct {
	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
	now     func() time.Time
}

// NewOutbox creates an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Append stores a new speculative entry and returns its correlation id.
// Two appends of identical content produce two distinct entries.
func (o *Outbox) Append(roomID string, sender types.Identity, draft types.Draft) string {
	o.mu.Lock()
	defer o.mu.Unlock()

	cid := core.NewCorrelationID()
	if draft.Kind == "" {
		draft.Kind = types.MessageKindText
	}
	o.entries[cid] = &Entry{
		CorrelationID: cid,
		Draft:         draft,
		Sender:        sender,
		RoomID:        roomID,
		CreatedAt:     o.now().UnixMilli(),
		State:         StatePending,
		Attempts:      1,
	}
	o.order = append(o.order, cid)
	return cid
}

// MarkSent transitions pending -> sent, recording the server-assigned
// reference when the write ack outruns the snapshot. Idempotent: a second
// call for the same id is a no-op.
func (o *Outbox) MarkSent(cid, serverRef string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.entries[cid]
	if !ok || entry.State != StatePending {
		return false
	}
	entry.State = StateSent
	if serverRef != "" {
		entry.ServerRef = serverRef
	}
	return true
}

// MarkFailed transitions pending|sent -> failed. The entry stays visible
// so the user can retry or inspect it.
func (o *Outbox) MarkFailed(cid, reason string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.entries[cid]
	if !ok || entry.State == StateFailed {
		return false
	}
	entry.State = StateFailed
	entry.FailReason = reason
	entry.Overdue = false
	return true
}

// Remove discards an entry. Called by reconciliation once the confirmed
// counterpart is absorbed, and on validation veto. A removed entry is
// never resurrected.
func (o *Outbox) Remove(cid string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.entries[cid]; !ok {
		return false
	}
	delete(o.entries, cid)
	for i, id := range o.order {
		if id == cid {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	return true
}

// Retry resets a failed entry to pending for resubmission. Returns
// ErrRetryExhausted once the attempt ceiling is reached; the entry stays
// failed.
func (o *Outbox) Retry(cid string) (*Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.entries[cid]
	if !ok {
		return nil, ErrUnknownMessage
	}
	if entry.State != StateFailed {
		return nil, nil
	}
	if entry.Attempts >= maxSendAttempts {
		return nil, ErrRetryExhausted
	}
	entry.State = StatePending
	entry.Attempts++
	entry.FailReason = ""
	entry.Overdue = false
	copied := *entry
	return &copied, nil
}

// MarkOverdue flips the advisory overdue flag for a sent entry.
func (o *Outbox) MarkOverdue(cid string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.entries[cid]
	if !ok || entry.State != StateSent || entry.Overdue {
		return false
	}
	entry.Overdue = true
	return true
}

// Get returns a copy of the entry, if held.
func (o *Outbox) Get(cid string) (Entry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.entries[cid]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Entries returns copies of all held entries in append order.
func (o *Outbox) Entries() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Entry, 0, len(o.order))
	for _, cid := range o.order {
		out = append(out, *o.entries[cid])
	}
	return out
}

// Len returns the number of held entries.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}
