// Package wire defines the frames exchanged between the relay and its
// websocket clients. A single connection multiplexes every room the user
// participates in; frames carry the room id where one applies.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/charla-chat/charla/internal/backend"
)

type FrameType string

// Client-to-relay frames.
const (
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FrameSend        FrameType = "send"
	FrameRead        FrameType = "read"
	FrameBlock       FrameType = "block"
	FrameUnblock     FrameType = "unblock"
)

// Relay-to-client frames.
const (
	FrameAck       FrameType = "ack"
	FrameNack      FrameType = "nack"
	FrameSnapshot  FrameType = "snapshot"
	FrameBlocked   FrameType = "blocked"
	FrameBlockedBy FrameType = "blocked_by"
	FrameError     FrameType = "error"
)

// Frame is the envelope for every websocket message.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame wraps a payload struct in an envelope.
func NewFrame(t FrameType, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s frame: %w", t, err)
	}
	return Frame{Type: t, Payload: raw}, nil
}

// Decode unmarshals the frame payload into the given struct.
func (f Frame) Decode(into any) error {
	if err := json.Unmarshal(f.Payload, into); err != nil {
		return fmt.Errorf("decode %s frame: %w", f.Type, err)
	}
	return nil
}

type SubscribePayload struct {
	RoomID string `json:"room_id"`
	Limit  int    `json:"limit"`
}

type UnsubscribePayload struct {
	RoomID string `json:"room_id"`
}

type SendPayload struct {
	RoomID   string           `json:"room_id"`
	Outgoing backend.Outgoing `json:"outgoing"`
}

type ReadPayload struct {
	RoomID     string   `json:"room_id"`
	MessageIDs []string `json:"message_ids"`
}

// AckPayload confirms a send; the correlation id ties it back to the
// client's in-flight write.
type AckPayload struct {
	CorrelationID string `json:"correlation_id"`
	ID            string `json:"id"`
}

// NackPayload rejects a send, typically a moderation veto.
type NackPayload struct {
	CorrelationID string `json:"correlation_id"`
	Reason        string `json:"reason"`
}

type SnapshotPayload struct {
	RoomID   string                 `json:"room_id"`
	Messages []backend.StreamRecord `json:"messages"`
}

// BlockTargetPayload names the other party of a block or unblock.
type BlockTargetPayload struct {
	UserID string `json:"user_id"`
}

// BlockSetPayload carries the full current set for one direction of the
// block relation.
type BlockSetPayload struct {
	UserIDs []string `json:"user_ids"`
}

type ErrorPayload struct {
	Reason string `json:"reason"`
}
