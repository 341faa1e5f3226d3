package relay

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/charla-chat/charla/internal/backend"
	"github.com/charla-chat/charla/internal/relay/wire"
)

// Connection tuning.
var (
	writeWait      = 10 * time.Second
	pongWait       = 20 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = int64(64 * 1024)
	sendBufSize    = 64
	enqueueTimeout = 2 * time.Second
)

// client is one websocket connection. A single connection carries every
// room the user subscribes to plus both block feeds.
type client struct {
	id     string
	userID string
	conn   *websocket.Conn
	srv    *Server
	egress chan wire.Frame
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	roomSubs map[string]func()
	cancels  []func()
}

func newClient(userID string, conn *websocket.Conn, srv *Server) *client {
	return &client{
		id:       uuid.NewString(),
		userID:   userID,
		conn:     conn,
		srv:      srv,
		egress:   make(chan wire.Frame, sendBufSize),
		done:     make(chan struct{}),
		roomSubs: make(map[string]func()),
	}
}

func (c *client) start() {
	if err := c.subscribeBlockFeeds(); err != nil {
		c.srv.logger.Printf("block feeds for %s: %v", c.userID, err)
		c.close()
		return
	}
	go c.readPump()
	go c.writePump()
}

func (c *client) subscribeBlockFeeds() error {
	ctx := context.Background()
	cancelBlocked, err := c.srv.store.SubscribeBlocked(ctx, c.userID, func(ids []string) {
		c.sendPayload(wire.FrameBlocked, wire.BlockSetPayload{UserIDs: ids})
	})
	if err != nil {
		return err
	}
	cancelBlockedBy, err := c.srv.store.SubscribeBlockedBy(ctx, c.userID, func(ids []string) {
		c.sendPayload(wire.FrameBlockedBy, wire.BlockSetPayload{UserIDs: ids})
	})
	if err != nil {
		cancelBlocked()
		return err
	}

	c.mu.Lock()
	c.cancels = append(c.cancels, cancelBlocked, cancelBlockedBy)
	c.mu.Unlock()
	return nil
}

func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame wire.Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				c.srv.logger.Printf("client %s (%s) disconnected", c.id, c.userID)
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.srv.logger.Printf("client %s (%s) timed out", c.id, c.userID)
				return
			}
			c.srv.logger.Printf("read from %s: %v", c.userID, err)
			return
		}
		c.handleFrame(frame)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.egress:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.srv.logger.Printf("write to %s: %v", c.userID, err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *client) handleFrame(frame wire.Frame) {
	ctx := context.Background()
	switch frame.Type {
	case wire.FrameSubscribe:
		var p wire.SubscribePayload
		if err := frame.Decode(&p); err != nil {
			c.sendError(err.Error())
			return
		}
		c.subscribeRoom(p.RoomID, clampWindow(p.Limit))

	case wire.FrameUnsubscribe:
		var p wire.UnsubscribePayload
		if err := frame.Decode(&p); err != nil {
			c.sendError(err.Error())
			return
		}
		c.unsubscribeRoom(p.RoomID)

	case wire.FrameSend:
		var p wire.SendPayload
		if err := frame.Decode(&p); err != nil {
			c.sendError(err.Error())
			return
		}
		c.handleSend(ctx, p)

	case wire.FrameRead:
		var p wire.ReadPayload
		if err := frame.Decode(&p); err != nil {
			c.sendError(err.Error())
			return
		}
		if err := c.srv.store.MarkRead(ctx, p.RoomID, p.MessageIDs, c.userID); err != nil {
			c.srv.logger.Printf("mark read for %s: %v", c.userID, err)
		}

	case wire.FrameBlock:
		var p wire.BlockTargetPayload
		if err := frame.Decode(&p); err != nil {
			c.sendError(err.Error())
			return
		}
		if err := c.srv.store.Block(ctx, c.userID, p.UserID); err != nil {
			c.sendError(err.Error())
		}

	case wire.FrameUnblock:
		var p wire.BlockTargetPayload
		if err := frame.Decode(&p); err != nil {
			c.sendError(err.Error())
			return
		}
		if err := c.srv.store.Unblock(ctx, c.userID, p.UserID); err != nil {
			c.sendError(err.Error())
		}

	default:
		c.srv.logger.Printf("unknown frame type %q from %s", frame.Type, c.userID)
	}
}

func (c *client) handleSend(ctx context.Context, p wire.SendPayload) {
	cid := p.Outgoing.CorrelationID
	if c.srv.gate != nil {
		if err := c.srv.gate.Check(p.Outgoing.Body, c.userID); err != nil {
			c.sendPayload(wire.FrameNack, wire.NackPayload{CorrelationID: cid, Reason: err.Error()})
			return
		}
	}
	id, err := c.srv.store.Send(ctx, p.RoomID, p.Outgoing)
	if err != nil {
		c.sendPayload(wire.FrameNack, wire.NackPayload{CorrelationID: cid, Reason: err.Error()})
		return
	}
	c.sendPayload(wire.FrameAck, wire.AckPayload{CorrelationID: cid, ID: id})
}

func (c *client) subscribeRoom(roomID string, limit int) {
	cancel, err := c.srv.store.Subscribe(context.Background(), roomID, limit, func(records []backend.StreamRecord) {
		c.sendPayload(wire.FrameSnapshot, wire.SnapshotPayload{RoomID: roomID, Messages: records})
		c.markDelivered(roomID, records)
	})
	if err != nil {
		c.sendError(err.Error())
		return
	}

	c.mu.Lock()
	if prev, ok := c.roomSubs[roomID]; ok {
		prev()
	}
	c.roomSubs[roomID] = cancel
	c.mu.Unlock()
}

func (c *client) unsubscribeRoom(roomID string) {
	c.mu.Lock()
	cancel, ok := c.roomSubs[roomID]
	delete(c.roomSubs, roomID)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// markDelivered records a delivery receipt for messages from other senders
// the moment they are pushed to this connection. The store skips no-op
// updates, so the refanout this triggers converges immediately.
func (c *client) markDelivered(roomID string, records []backend.StreamRecord) {
	var ids []string
	for _, rec := range records {
		if rec.SenderID == c.userID || containsID(rec.DeliveredTo, c.userID) {
			continue
		}
		ids = append(ids, rec.ID)
	}
	if len(ids) == 0 {
		return
	}
	if err := c.srv.store.MarkDelivered(context.Background(), roomID, ids, c.userID); err != nil {
		c.srv.logger.Printf("mark delivered for %s: %v", c.userID, err)
	}
}

func (c *client) sendPayload(t wire.FrameType, payload any) {
	frame, err := wire.NewFrame(t, payload)
	if err != nil {
		c.srv.logger.Printf("encode %s frame: %v", t, err)
		return
	}
	select {
	case c.egress <- frame:
	case <-c.done:
	case <-time.After(enqueueTimeout):
		c.srv.logger.Printf("egress full, disconnecting client %s", c.id)
		c.close()
	}
}

func (c *client) sendError(reason string) {
	c.sendPayload(wire.FrameError, wire.ErrorPayload{Reason: reason})
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)

		c.mu.Lock()
		cancels := c.cancels
		c.cancels = nil
		for _, cancel := range c.roomSubs {
			cancels = append(cancels, cancel)
		}
		c.roomSubs = make(map[string]func())
		c.mu.Unlock()

		for _, cancel := range cancels {
			cancel()
		}
		_ = c.conn.Close()
		c.srv.removeClient(c)
	})
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
