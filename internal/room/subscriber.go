package room

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/charla-chat/charla/internal/backend"
	"github.com/charla-chat/charla/internal/types"
)

const (
	resubscribeBaseDelay = time.Second
	resubscribeMaxDelay  = 30 * time.Second
	resubscribeAttempts  = 6
)

// Subscriber maintains the live subscription to one room's canonical
// message window and exposes it as an ordered, deduplicated sequence.
//
// Snapshots arrive as full windows in backend order; the subscriber
// normalizes timestamps to epoch millis and sorts ascending by server
// timestamp. Messages sharing a timestamp keep their first-seen arrival
// order across updates, so ties never reorder between snapshots.
type Subscriber struct {
	backend  backend.Backend
	roomID   string
	limit    int
	logger   *log.Logger
	onUpdate func([]types.Message)
	onError  func(err error)

	mu      sync.Mutex
	latest  []types.Message
	arrival map[string]int
	nextIdx int
	cancel  func()
	closed  bool
}

// NewSubscriber creates a subscriber for one room. onUpdate receives every
// normalized snapshot; onError fires only when resubscription is exhausted.
func NewSubscriber(b backend.Backend, roomID string, limit int, logger *log.Logger, onUpdate func([]types.Message), onError func(error)) *Subscriber {
	return &Subscriber{
		backend:  b,
		roomID:   roomID,
		limit:    limit,
		logger:   logger,
		onUpdate: onUpdate,
		onError:  onError,
		arrival:  make(map[string]int),
	}
}

// Start establishes the subscription. On stream disruption the last-known
// window stays available and resubscription happens transparently with
// backoff; only a permanent failure surfaces through onError.
func (s *Subscriber) Start(ctx context.Context) error {
	cancel, err := s.backend.Subscribe(ctx, s.roomID, s.limit, s.handleSnapshot)
	if err != nil {
		go s.resubscribe(ctx)
		return nil
	}
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	return nil
}

// Stop tears the subscription down fully. No callbacks fire afterward,
// which keeps a room switch from leaking messages across rooms.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	s.closed = true
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Latest returns the last normalized window.
func (s *Subscriber) Latest() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, len(s.latest))
	copy(out, s.latest)
	return out
}

func (s *Subscriber) handleSnapshot(records []backend.StreamRecord) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	seen := make(map[string]struct{}, len(records))
	msgs := make([]types.Message, 0, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		if _, ok := s.arrival[rec.ID]; !ok {
			s.arrival[rec.ID] = s.nextIdx
			s.nextIdx++
		}
		msgs = append(msgs, normalizeRecord(rec))
	}

	sortByServerTS(msgs, s.arrival)
	s.latest = msgs
	onUpdate := s.onUpdate
	s.mu.Unlock()

	if onUpdate != nil {
		onUpdate(msgs)
	}
}

// resubscribe retries the subscription with exponential backoff. The
// engine keeps showing the stale window while this runs.
func (s *Subscriber) resubscribe(ctx context.Context) {
	delay := resubscribeBaseDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		cancel, err := s.backend.Subscribe(ctx, s.roomID, s.limit, s.handleSnapshot)
		if err == nil {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				cancel()
				return
			}
			s.cancel = cancel
			s.mu.Unlock()
			s.logger.Printf("room %s: stream restored after %d attempts", s.roomID, attempt)
			return
		}

		s.logger.Printf("room %s: resubscribe attempt %d failed: %v", s.roomID, attempt, err)
		if attempt >= resubscribeAttempts {
			if s.onError != nil {
				s.onError(err)
			}
			return
		}
		delay *= 2
		if delay > resubscribeMaxDelay {
			delay = resubscribeMaxDelay
		}
	}
}

// HandleDisruption is invoked by the owner when an established stream
// reports an error. It drops the dead subscription and starts the backoff
// loop; the last window remains visible throughout.
func (s *Subscriber) HandleDisruption(ctx context.Context, err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	s.logger.Printf("room %s: stream disrupted: %v", s.roomID, err)
	go s.resubscribe(ctx)
}

func normalizeRecord(rec backend.StreamRecord) types.Message {
	ts := rec.CreatedAtMS
	if ts == 0 && rec.CreatedAtRFC != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, rec.CreatedAtRFC); err == nil {
			ts = parsed.UnixMilli()
		}
	}
	kind := rec.Kind
	if kind == "" {
		kind = types.MessageKindText
	}
	return types.Message{
		ID:              rec.ID,
		CorrelationID:   rec.CorrelationID,
		RoomID:          rec.RoomID,
		SenderID:        rec.SenderID,
		SenderName:      rec.SenderName,
		SenderAvatar:    rec.SenderAvatar,
		Body:            rec.Body,
		Kind:            kind,
		CreatedAtServer: ts,
		DeliveredTo:     rec.DeliveredTo,
		ReadBy:          rec.ReadBy,
		ReplyTo:         rec.ReplyTo,
	}
}

func sortByServerTS(msgs []types.Message, arrival map[string]int) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAtServer != msgs[j].CreatedAtServer {
			return msgs[i].CreatedAtServer < msgs[j].CreatedAtServer
		}
		return arrival[msgs[i].ID] < arrival[msgs[j].ID]
	})
}
