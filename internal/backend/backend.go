// Package backend defines the collaborator surface the room engine consumes:
// the send operation, the pushed room stream, read-receipt writes, and the
// block-relation feeds. Implementations live in backend/local (sqlite) and
// backend/ws (relay connection).
package backend

import (
	"context"
	"errors"

	"github.com/charla-chat/charla/internal/types"
)

// ErrRoomNotFound indicates the room does not exist on this backend.
var ErrRoomNotFound = errors.New("room not found")

// Outgoing is a write submitted to the backend. The correlation id is
// echoed into the eventually-visible confirmed record.
type Outgoing struct {
	CorrelationID string            `json:"correlation_id"`
	Sender        types.Identity    `json:"sender"`
	Body          string            `json:"body"`
	Kind          types.MessageKind `json:"kind"`
	ReplyTo       *string           `json:"reply_to,omitempty"`
}

// StreamRecord is one confirmed message as pushed by the backend. The
// timestamp may arrive as epoch millis or an RFC3339 string depending on
// the backend; the subscriber normalizes.
type StreamRecord struct {
	ID            string            `json:"id"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	RoomID        string            `json:"room_id"`
	SenderID      string            `json:"sender_id"`
	SenderName    string            `json:"sender_name,omitempty"`
	SenderAvatar  string            `json:"sender_avatar,omitempty"`
	Body          string            `json:"body"`
	Kind          types.MessageKind `json:"kind"`
	CreatedAtMS   int64             `json:"created_at_ms,omitempty"`
	CreatedAtRFC  string            `json:"created_at,omitempty"`
	DeliveredTo   []string          `json:"delivered_to,omitempty"`
	ReadBy        []string          `json:"read_by,omitempty"`
	ReplyTo       *string           `json:"reply_to,omitempty"`
}

// SnapshotFunc receives the full current window on every room change.
type SnapshotFunc func(records []StreamRecord)

// BlockFunc receives the full current set of user ids on every change of
// one direction of the block relation.
type BlockFunc func(userIDs []string)

// Backend is the hosted store the engine talks to.
type Backend interface {
	// Send submits one write and returns the durable id once the backend
	// accepts it. The confirmed record appears in the stream independently.
	Send(ctx context.Context, roomID string, out Outgoing) (string, error)

	// Subscribe delivers the most recent window of confirmed messages for
	// the room, re-pushed in full on every change. The returned cancel
	// function tears the subscription down; no callbacks fire after it
	// returns.
	Subscribe(ctx context.Context, roomID string, limit int, fn SnapshotFunc) (func(), error)

	// MarkRead records selfID in the read set of the given messages.
	// Best-effort: callers may ignore the error.
	MarkRead(ctx context.Context, roomID string, messageIDs []string, selfID string) error

	// SubscribeBlocked streams the set of users selfID has blocked.
	SubscribeBlocked(ctx context.Context, selfID string, fn BlockFunc) (func(), error)

	// SubscribeBlockedBy streams the set of users who blocked selfID.
	SubscribeBlockedBy(ctx context.Context, selfID string, fn BlockFunc) (func(), error)
}
