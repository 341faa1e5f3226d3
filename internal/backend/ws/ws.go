// Package ws implements the backend interface over a websocket connection
// to a relay. One connection multiplexes every subscribed room; in-flight
// sends are resolved by ack and nack frames keyed on the correlation id.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charla-chat/charla/internal/backend"
	"github.com/charla-chat/charla/internal/relay/wire"
	"github.com/charla-chat/charla/internal/types"
)

var (
	// ErrNotConnected indicates the relay connection is down; sends fail
	// fast and the caller's retry path takes over.
	ErrNotConnected = errors.New("relay not connected")
	// ErrClosed indicates the client has been torn down.
	ErrClosed = errors.New("relay client closed")
)

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
	dialTimeout   = 10 * time.Second
)

var _ backend.Backend = (*Client)(nil)

type sendOutcome struct {
	id  string
	err error
}

type roomSub struct {
	limit int
	fns   map[int]backend.SnapshotFunc
}

// Client connects to a relay and exposes it as a backend.
type Client struct {
	baseURL string
	self    types.Identity
	logger  *log.Logger
	dialer  *websocket.Dialer

	writeMu sync.Mutex // serializes frame writes

	mu            sync.Mutex
	conn          *websocket.Conn
	pending       map[string]chan sendOutcome
	subs          map[string]*roomSub
	blockedFns    map[int]backend.BlockFunc
	blockedByFns  map[int]backend.BlockFunc
	lastBlocked   []string
	lastBlockedBy []string
	nextID        int
	closed        bool
	done          chan struct{}
}

// Dial connects to the relay at baseURL (http, https, ws or wss scheme)
// and starts the read loop. The connection is kept alive with automatic
// reconnects until Close.
func Dial(ctx context.Context, baseURL string, self types.Identity, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Default()
	}
	c := &Client{
		baseURL:      baseURL,
		self:         self,
		logger:       logger,
		dialer:       &websocket.Dialer{HandshakeTimeout: dialTimeout},
		pending:      make(map[string]chan sendOutcome),
		subs:         make(map[string]*roomSub),
		blockedFns:   make(map[int]backend.BlockFunc),
		blockedByFns: make(map[int]backend.BlockFunc),
		done:         make(chan struct{}),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.run(conn)
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"user": {c.self.UserID}}.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return conn, nil
}

// run reads frames until the connection drops, then reconnects with
// backoff and replays the room subscriptions.
func (c *Client) run(conn *websocket.Conn) {
	for {
		c.readLoop(conn)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.conn = nil
		c.mu.Unlock()
		c.failPending(ErrNotConnected)

		backoff := reconnectBase
		for {
			select {
			case <-c.done:
				return
			case <-time.After(backoff):
			}

			next, err := c.dial(context.Background())
			if err == nil {
				c.mu.Lock()
				if c.closed {
					c.mu.Unlock()
					_ = next.Close()
					return
				}
				c.conn = next
				c.mu.Unlock()
				c.resubscribe()
				conn = next
				break
			}
			c.logger.Printf("relay reconnect failed: %v", err)
			backoff *= 2
			if backoff > reconnectMax {
				backoff = reconnectMax
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var frame wire.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Printf("relay stream closed: %v", err)
			}
			_ = conn.Close()
			return
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame wire.Frame) {
	switch frame.Type {
	case wire.FrameAck:
		var p wire.AckPayload
		if err := frame.Decode(&p); err != nil {
			c.logger.Printf("bad ack: %v", err)
			return
		}
		c.resolvePending(p.CorrelationID, sendOutcome{id: p.ID})

	case wire.FrameNack:
		var p wire.NackPayload
		if err := frame.Decode(&p); err != nil {
			c.logger.Printf("bad nack: %v", err)
			return
		}
		c.resolvePending(p.CorrelationID, sendOutcome{err: fmt.Errorf("relay rejected send: %s", p.Reason)})

	case wire.FrameSnapshot:
		var p wire.SnapshotPayload
		if err := frame.Decode(&p); err != nil {
			c.logger.Printf("bad snapshot: %v", err)
			return
		}
		for _, fn := range c.snapshotFns(p.RoomID) {
			fn(p.Messages)
		}

	case wire.FrameBlocked:
		var p wire.BlockSetPayload
		if err := frame.Decode(&p); err != nil {
			return
		}
		for _, fn := range c.updateBlockFeed(&c.lastBlocked, c.blockedFns, p.UserIDs) {
			fn(p.UserIDs)
		}

	case wire.FrameBlockedBy:
		var p wire.BlockSetPayload
		if err := frame.Decode(&p); err != nil {
			return
		}
		for _, fn := range c.updateBlockFeed(&c.lastBlockedBy, c.blockedByFns, p.UserIDs) {
			fn(p.UserIDs)
		}

	case wire.FrameError:
		var p wire.ErrorPayload
		if err := frame.Decode(&p); err == nil {
			c.logger.Printf("relay error: %s", p.Reason)
		}

	default:
		c.logger.Printf("unknown frame type %q from relay", frame.Type)
	}
}

func (c *Client) snapshotFns(roomID string) []backend.SnapshotFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[roomID]
	if !ok {
		return nil
	}
	fns := make([]backend.SnapshotFunc, 0, len(sub.fns))
	for _, fn := range sub.fns {
		fns = append(fns, fn)
	}
	return fns
}

func (c *Client) updateBlockFeed(last *[]string, reg map[int]backend.BlockFunc, ids []string) []backend.BlockFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	*last = append([]string(nil), ids...)
	fns := make([]backend.BlockFunc, 0, len(reg))
	for _, fn := range reg {
		fns = append(fns, fn)
	}
	return fns
}

func (c *Client) resolvePending(cid string, outcome sendOutcome) {
	c.mu.Lock()
	ch, ok := c.pending[cid]
	delete(c.pending, cid)
	c.mu.Unlock()
	if ok {
		ch <- outcome
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan sendOutcome)
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- sendOutcome{err: err}
	}
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	rooms := make(map[string]int, len(c.subs))
	for roomID, sub := range c.subs {
		rooms[roomID] = sub.limit
	}
	c.mu.Unlock()

	for roomID, limit := range rooms {
		if err := c.writeFrame(wire.FrameSubscribe, wire.SubscribePayload{RoomID: roomID, Limit: limit}); err != nil {
			c.logger.Printf("resubscribe %s: %v", roomID, err)
		}
	}
}

func (c *Client) writeFrame(t wire.FrameType, payload any) error {
	frame, err := wire.NewFrame(t, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

// Send submits one write and blocks until the relay acks or nacks it.
func (c *Client) Send(ctx context.Context, roomID string, out backend.Outgoing) (string, error) {
	if out.CorrelationID == "" {
		return "", errors.New("outgoing write has no correlation id")
	}

	ch := make(chan sendOutcome, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	c.pending[out.CorrelationID] = ch
	c.mu.Unlock()

	if err := c.writeFrame(wire.FrameSend, wire.SendPayload{RoomID: roomID, Outgoing: out}); err != nil {
		c.mu.Lock()
		delete(c.pending, out.CorrelationID)
		c.mu.Unlock()
		return "", err
	}

	select {
	case outcome := <-ch:
		return outcome.id, outcome.err
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, out.CorrelationID)
		c.mu.Unlock()
		return "", ctx.Err()
	case <-c.done:
		return "", ErrClosed
	}
}

// Subscribe registers a snapshot callback for the room. The relay pushes
// the current window immediately and again on every change.
func (c *Client) Subscribe(ctx context.Context, roomID string, limit int, fn backend.SnapshotFunc) (func(), error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	id := c.nextID
	sub, ok := c.subs[roomID]
	if !ok {
		sub = &roomSub{limit: limit, fns: make(map[int]backend.SnapshotFunc)}
		c.subs[roomID] = sub
	}
	if limit > sub.limit {
		sub.limit = limit
	}
	sub.fns[id] = fn
	subLimit := sub.limit
	c.mu.Unlock()

	// Always re-send the subscribe frame: the relay re-pushes the current
	// window, which seeds the new callback.
	if err := c.writeFrame(wire.FrameSubscribe, wire.SubscribePayload{RoomID: roomID, Limit: subLimit}); err != nil {
		c.mu.Lock()
		delete(sub.fns, id)
		if len(sub.fns) == 0 {
			delete(c.subs, roomID)
		}
		c.mu.Unlock()
		return nil, err
	}

	cancel := func() {
		c.mu.Lock()
		sub, ok := c.subs[roomID]
		if !ok {
			c.mu.Unlock()
			return
		}
		delete(sub.fns, id)
		empty := len(sub.fns) == 0
		if empty {
			delete(c.subs, roomID)
		}
		c.mu.Unlock()
		if empty {
			if err := c.writeFrame(wire.FrameUnsubscribe, wire.UnsubscribePayload{RoomID: roomID}); err != nil {
				c.logger.Printf("unsubscribe %s: %v", roomID, err)
			}
		}
	}
	return cancel, nil
}

// MarkRead is fire-and-forget over the stream; the updated receipt set
// comes back in the next pushed snapshot.
func (c *Client) MarkRead(ctx context.Context, roomID string, messageIDs []string, selfID string) error {
	return c.writeFrame(wire.FrameRead, wire.ReadPayload{RoomID: roomID, MessageIDs: messageIDs})
}

// Block asks the relay to record a block against userID.
func (c *Client) Block(ctx context.Context, userID string) error {
	return c.writeFrame(wire.FrameBlock, wire.BlockTargetPayload{UserID: userID})
}

// Unblock removes a block against userID.
func (c *Client) Unblock(ctx context.Context, userID string) error {
	return c.writeFrame(wire.FrameUnblock, wire.BlockTargetPayload{UserID: userID})
}

// SubscribeBlocked streams the set of users this client has blocked. The
// relay pushes the feed on connect; late subscribers get the cached set.
func (c *Client) SubscribeBlocked(ctx context.Context, selfID string, fn backend.BlockFunc) (func(), error) {
	return c.subscribeBlockFeed(c.blockedFns, &c.lastBlocked, fn)
}

// SubscribeBlockedBy streams the set of users who blocked this client.
func (c *Client) SubscribeBlockedBy(ctx context.Context, selfID string, fn backend.BlockFunc) (func(), error) {
	return c.subscribeBlockFeed(c.blockedByFns, &c.lastBlockedBy, fn)
}

func (c *Client) subscribeBlockFeed(reg map[int]backend.BlockFunc, last *[]string, fn backend.BlockFunc) (func(), error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	id := c.nextID
	reg[id] = fn
	seed := append([]string(nil), *last...)
	c.mu.Unlock()

	fn(seed)

	return func() {
		c.mu.Lock()
		delete(reg, id)
		c.mu.Unlock()
	}, nil
}

// Close tears the connection down; pending sends fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	close(c.done)
	c.failPending(ErrClosed)
	if conn != nil {
		return conn.Close()
	}
	return nil
}
