// Package local implements the backend over an embedded sqlite store.
// Every write fans the fresh room window out to in-process subscribers,
// giving the engine the same push-based contract the hosted relay provides.
package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/charla-chat/charla/internal/backend"
	"github.com/charla-chat/charla/internal/core"
	"github.com/charla-chat/charla/internal/types"
)

type roomSub struct {
	limit int
	fn    backend.SnapshotFunc
}

// Store is a sqlite-backed backend implementation.
type Store struct {
	db     *sql.DB
	logger *log.Logger
	now    func() time.Time

	mu            sync.Mutex
	nextSubID     int
	roomSubs      map[string]map[int]roomSub
	blockedSubs   map[string]map[int]backend.BlockFunc
	blockedBySubs map[string]map[int]backend.BlockFunc
	lastTS        map[string]int64
}

// Open creates or opens the store at the given path.
func Open(path string, logger *log.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		db:            db,
		logger:        logger,
		now:           time.Now,
		roomSubs:      make(map[string]map[int]roomSub),
		blockedSubs:   make(map[string]map[int]backend.BlockFunc),
		blockedBySubs: make(map[string]map[int]backend.BlockFunc),
		lastTS:        make(map[string]int64),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Send persists one message, assigning its durable id and server
// timestamp, and pushes the new window to room subscribers. The client
// correlation id is stored and echoed on every snapshot.
func (s *Store) Send(ctx context.Context, roomID string, out backend.Outgoing) (string, error) {
	id, err := core.GenerateGUID("msg")
	if err != nil {
		return "", err
	}
	ts := s.stampTS(roomID)

	kind := out.Kind
	if kind == "" {
		kind = types.MessageKindText
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, correlation_id, room_id, sender_id, sender_name, sender_avatar, body, kind, created_at_ms, reply_to)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, out.CorrelationID, roomID, out.Sender.UserID, out.Sender.DisplayName, out.Sender.Avatar, out.Body, string(kind), ts, out.ReplyTo)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}

	s.fanoutRoom(roomID)
	return id, nil
}

// stampTS assigns a server timestamp that never moves backward within a
// room, even if the wall clock does.
func (s *Store) stampTS(roomID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().UnixMilli()
	if last := s.lastTS[roomID]; ts < last {
		ts = last
	}
	s.lastTS[roomID] = ts
	return ts
}

// Subscribe registers a snapshot callback and immediately delivers the
// current window.
func (s *Store) Subscribe(ctx context.Context, roomID string, limit int, fn backend.SnapshotFunc) (func(), error) {
	s.mu.Lock()
	s.nextSubID++
	subID := s.nextSubID
	if s.roomSubs[roomID] == nil {
		s.roomSubs[roomID] = make(map[int]roomSub)
	}
	s.roomSubs[roomID][subID] = roomSub{limit: limit, fn: fn}
	s.mu.Unlock()

	records, err := s.window(ctx, roomID, limit)
	if err != nil {
		s.removeRoomSub(roomID, subID)
		return nil, err
	}
	fn(records)

	return func() { s.removeRoomSub(roomID, subID) }, nil
}

func (s *Store) removeRoomSub(roomID string, subID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subs, ok := s.roomSubs[roomID]; ok {
		delete(subs, subID)
		if len(subs) == 0 {
			delete(s.roomSubs, roomID)
		}
	}
}

// MarkRead adds selfID to the read set (and, implicitly, the delivered
// set) of each message, then re-pushes the room window.
func (s *Store) MarkRead(ctx context.Context, roomID string, messageIDs []string, selfID string) error {
	changed := false
	for _, id := range messageIDs {
		didChange, err := s.addReceipt(ctx, id, selfID, true)
		if err != nil {
			return err
		}
		changed = changed || didChange
	}
	if changed {
		s.fanoutRoom(roomID)
	}
	return nil
}

// MarkDelivered adds selfID to the delivered set of each message. Called
// by clients when a pushed window reaches them.
func (s *Store) MarkDelivered(ctx context.Context, roomID string, messageIDs []string, selfID string) error {
	changed := false
	for _, id := range messageIDs {
		didChange, err := s.addReceipt(ctx, id, selfID, false)
		if err != nil {
			return err
		}
		changed = changed || didChange
	}
	if changed {
		s.fanoutRoom(roomID)
	}
	return nil
}

func (s *Store) addReceipt(ctx context.Context, messageID, userID string, read bool) (bool, error) {
	var deliveredJSON, readJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT delivered_to, read_by FROM messages WHERE id = ?`, messageID).
		Scan(&deliveredJSON, &readJSON)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	delivered := decodeIDs(deliveredJSON)
	readBy := decodeIDs(readJSON)
	before := len(delivered) + len(readBy)

	delivered = types.AddID(delivered, userID)
	if read {
		readBy = types.AddID(readBy, userID)
	}
	if len(delivered)+len(readBy) == before {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE messages SET delivered_to = ?, read_by = ? WHERE id = ?`,
		encodeIDs(delivered), encodeIDs(readBy), messageID)
	if err != nil {
		return false, err
	}
	return true, nil
}

// Block records a directed block relation and notifies both sides' feeds.
func (s *Store) Block(ctx context.Context, blockerID, blockedID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO blocks (blocker_id, blocked_id, created_at_ms) VALUES (?, ?, ?)
	`, blockerID, blockedID, s.now().UnixMilli())
	if err != nil {
		return err
	}
	s.fanoutBlocks(ctx, blockerID, blockedID)
	return nil
}

// Unblock removes a directed block relation.
func (s *Store) Unblock(ctx context.Context, blockerID, blockedID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM blocks WHERE blocker_id = ? AND blocked_id = ?`, blockerID, blockedID)
	if err != nil {
		return err
	}
	s.fanoutBlocks(ctx, blockerID, blockedID)
	return nil
}

// SubscribeBlocked streams the ids selfID has blocked.
func (s *Store) SubscribeBlocked(ctx context.Context, selfID string, fn backend.BlockFunc) (func(), error) {
	return s.subscribeBlockFeed(ctx, selfID, fn, s.blockedSubs, s.blockedIDs)
}

// SubscribeBlockedBy streams the ids that have blocked selfID.
func (s *Store) SubscribeBlockedBy(ctx context.Context, selfID string, fn backend.BlockFunc) (func(), error) {
	return s.subscribeBlockFeed(ctx, selfID, fn, s.blockedBySubs, s.blockedByIDs)
}

func (s *Store) subscribeBlockFeed(ctx context.Context, selfID string, fn backend.BlockFunc,
	registry map[string]map[int]backend.BlockFunc, query func(context.Context, string) ([]string, error)) (func(), error) {

	s.mu.Lock()
	s.nextSubID++
	subID := s.nextSubID
	if registry[selfID] == nil {
		registry[selfID] = make(map[int]backend.BlockFunc)
	}
	registry[selfID][subID] = fn
	s.mu.Unlock()

	ids, err := query(ctx, selfID)
	if err != nil {
		s.mu.Lock()
		delete(registry[selfID], subID)
		s.mu.Unlock()
		return nil, err
	}
	fn(ids)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, ok := registry[selfID]; ok {
			delete(subs, subID)
			if len(subs) == 0 {
				delete(registry, selfID)
			}
		}
	}, nil
}

func (s *Store) blockedIDs(ctx context.Context, selfID string) ([]string, error) {
	return s.queryIDs(ctx, `SELECT blocked_id FROM blocks WHERE blocker_id = ? ORDER BY blocked_id`, selfID)
}

func (s *Store) blockedByIDs(ctx context.Context, selfID string) ([]string, error) {
	return s.queryIDs(ctx, `SELECT blocker_id FROM blocks WHERE blocked_id = ? ORDER BY blocker_id`, selfID)
}

func (s *Store) queryIDs(ctx context.Context, query, arg string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListRooms returns the distinct room ids present in the store.
func (s *Store) ListRooms(ctx context.Context) ([]string, error) {
	return s.queryIDsNoArg(ctx, `SELECT DISTINCT room_id FROM messages ORDER BY room_id`)
}

func (s *Store) queryIDsNoArg(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Window returns the most recent limit messages of the room in ascending
// order, without subscribing.
func (s *Store) Window(ctx context.Context, roomID string, limit int) ([]backend.StreamRecord, error) {
	return s.window(ctx, roomID, limit)
}

// window returns the most recent limit messages in ascending order.
func (s *Store) window(ctx context.Context, roomID string, limit int) ([]backend.StreamRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, correlation_id, sender_id, sender_name, sender_avatar, body, kind, created_at_ms, delivered_to, read_by, reply_to
		FROM messages WHERE room_id = ?
		ORDER BY created_at_ms DESC, rowid DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []backend.StreamRecord
	for rows.Next() {
		var rec backend.StreamRecord
		var correlationID, senderName, senderAvatar, replyTo sql.NullString
		var kind, deliveredJSON, readJSON string
		if err := rows.Scan(&rec.ID, &correlationID, &rec.SenderID, &senderName, &senderAvatar,
			&rec.Body, &kind, &rec.CreatedAtMS, &deliveredJSON, &readJSON, &replyTo); err != nil {
			return nil, err
		}
		rec.RoomID = roomID
		rec.CorrelationID = correlationID.String
		rec.SenderName = senderName.String
		rec.SenderAvatar = senderAvatar.String
		rec.Kind = types.MessageKind(kind)
		rec.DeliveredTo = decodeIDs(deliveredJSON)
		rec.ReadBy = decodeIDs(readJSON)
		if replyTo.Valid {
			v := replyTo.String
			rec.ReplyTo = &v
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returned newest first; snapshots go out ascending.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// fanoutRoom pushes the current window to every subscriber of the room.
// Callbacks run outside the registry lock.
func (s *Store) fanoutRoom(roomID string) {
	s.mu.Lock()
	subs := make([]roomSub, 0, len(s.roomSubs[roomID]))
	for _, sub := range s.roomSubs[roomID] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		records, err := s.window(context.Background(), roomID, sub.limit)
		if err != nil {
			s.logger.Printf("room %s: window query failed: %v", roomID, err)
			continue
		}
		sub.fn(records)
	}
}

func (s *Store) fanoutBlocks(ctx context.Context, blockerID, blockedID string) {
	s.mu.Lock()
	blockedFns := make([]backend.BlockFunc, 0, len(s.blockedSubs[blockerID]))
	for _, fn := range s.blockedSubs[blockerID] {
		blockedFns = append(blockedFns, fn)
	}
	blockedByFns := make([]backend.BlockFunc, 0, len(s.blockedBySubs[blockedID]))
	for _, fn := range s.blockedBySubs[blockedID] {
		blockedByFns = append(blockedByFns, fn)
	}
	s.mu.Unlock()

	if len(blockedFns) > 0 {
		if ids, err := s.blockedIDs(ctx, blockerID); err == nil {
			for _, fn := range blockedFns {
				fn(ids)
			}
		}
	}
	if len(blockedByFns) > 0 {
		if ids, err := s.blockedByIDs(ctx, blockedID); err == nil {
			for _, fn := range blockedByFns {
				fn(ids)
			}
		}
	}
}

func decodeIDs(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}

func encodeIDs(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(data)
}
