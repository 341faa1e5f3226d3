package types

// MessageKind represents the category of a message.
type MessageKind string

const (
	MessageKindText   MessageKind = "text"
	MessageKindNotice MessageKind = "notice"
)

// SystemSenderID is the reserved identity for service notices.
// Messages from it are never filtered out of a room view.
const SystemSenderID = "charla"

// DeliveryStatus represents how far a message has progressed toward being read.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

// deliveryRank orders the forward progression. Failed sits outside the
// progression and is handled explicitly by callers.
var deliveryRank = map[DeliveryStatus]int{
	DeliveryPending:   0,
	DeliverySent:      1,
	DeliveryDelivered: 2,
	DeliveryRead:      3,
}

// Rank returns the monotonic position of a status, or -1 for failed/unknown.
func (s DeliveryStatus) Rank() int {
	if r, ok := deliveryRank[s]; ok {
		return r
	}
	return -1
}

// Advance returns the later of the two statuses. A status never moves
// backward through Advance; failed never advances.
func (s DeliveryStatus) Advance(to DeliveryStatus) DeliveryStatus {
	if s == DeliveryFailed {
		return s
	}
	if to.Rank() > s.Rank() {
		return to
	}
	return s
}

// Message represents one room message, speculative or confirmed.
type Message struct {
	ID              string         `json:"id,omitempty"`
	CorrelationID   string         `json:"correlation_id,omitempty"`
	RoomID          string         `json:"room_id"`
	SenderID        string         `json:"sender_id"`
	SenderName      string         `json:"sender_name,omitempty"`
	SenderAvatar    string         `json:"sender_avatar,omitempty"`
	Body            string         `json:"body"`
	Kind            MessageKind    `json:"kind"`
	CreatedAtLocal  int64          `json:"created_at_local,omitempty"`
	CreatedAtServer int64          `json:"created_at_server,omitempty"`
	Status          DeliveryStatus `json:"status,omitempty"`
	DeliveredTo     []string       `json:"delivered_to,omitempty"`
	ReadBy          []string       `json:"read_by,omitempty"`
	ReplyTo         *string        `json:"reply_to,omitempty"`

	// Overdue hints that a sent message has waited past its confirmation
	// budget. Advisory only; the send outcome decides sent vs failed.
	Overdue bool `json:"overdue,omitempty"`
}

// Confirmed reports whether the message carries durable server state.
// A message is speculative or confirmed, never both: confirmed messages
// have both an id and a server timestamp, speculative ones have neither.
func (m Message) Confirmed() bool {
	return m.ID != "" && m.CreatedAtServer != 0
}

// EffectiveTS returns the sort key for the merged view: the server
// timestamp when confirmed, otherwise the local creation time. Zero means
// the entry sorts last among equals.
func (m Message) EffectiveTS() int64 {
	if m.CreatedAtServer != 0 {
		return m.CreatedAtServer
	}
	return m.CreatedAtLocal
}

// HasDeliveredTo reports whether the given user acknowledged delivery.
func (m Message) HasDeliveredTo(userID string) bool {
	return containsID(m.DeliveredTo, userID)
}

// HasReadBy reports whether the given user read the message.
func (m Message) HasReadBy(userID string) bool {
	return containsID(m.ReadBy, userID)
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// AddID appends an id to a grow-only set, preserving order. The receipt
// sets never shrink.
func AddID(ids []string, id string) []string {
	if containsID(ids, id) {
		return ids
	}
	return append(ids, id)
}

// BlockSet is a snapshot of user ids on one side of the block relation.
// The engine consumes these read-only; the moderation collaborator owns them.
type BlockSet map[string]struct{}

// NewBlockSet builds a set from a slice of user ids.
func NewBlockSet(ids []string) BlockSet {
	set := make(BlockSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Has reports membership.
func (b BlockSet) Has(id string) bool {
	_, ok := b[id]
	return ok
}

// Draft is the user-supplied portion of an outgoing message.
type Draft struct {
	Body    string
	Kind    MessageKind
	ReplyTo *string
}

// Identity describes the local user as seen by the backend.
type Identity struct {
	UserID        string `json:"user_id"`
	DisplayName   string `json:"display_name,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
	Authenticated bool   `json:"authenticated,omitempty"`
}

// WindowLimit returns the stream window cap for the identity class.
// Guests get a smaller window; this is resource fairness, not a
// technical limit.
func (i Identity) WindowLimit() int {
	if i.Authenticated {
		return 100
	}
	return 50
}
