package relay

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charla-chat/charla/internal/backend"
	"github.com/charla-chat/charla/internal/backend/local"
	"github.com/charla-chat/charla/internal/moderation"
	"github.com/charla-chat/charla/internal/relay/wire"
	"github.com/charla-chat/charla/internal/types"
)

func newTestServer(t *testing.T, gate *moderation.Gate) (*Server, *httptest.Server) {
	t.Helper()
	store, err := local.Open(filepath.Join(t.TempDir(), "relay.db"), quietLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	srv := New(Options{Store: store, Gate: gate, Logger: quietLogger(t)})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, ts
}

func quietLogger(t *testing.T) *log.Logger {
	return log.New(testWriter{t}, "", 0)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func dialWS(t *testing.T, ts *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, ft wire.FrameType, payload any) {
	t.Helper()
	frame, err := wire.NewFrame(ft, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatal(err)
	}
}

// awaitFrame reads frames until one of the wanted type arrives, skipping
// unrelated pushes (block feeds, intermediate snapshots).
func awaitFrame(t *testing.T, conn *websocket.Conn, want wire.FrameType) wire.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var frame wire.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("waiting for %s frame: %v", want, err)
		}
		if frame.Type == want {
			return frame
		}
	}
}

func awaitSnapshot(t *testing.T, conn *websocket.Conn, pred func(wire.SnapshotPayload) bool) wire.SnapshotPayload {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		frame := awaitFrame(t, conn, wire.FrameSnapshot)
		var p wire.SnapshotPayload
		if err := frame.Decode(&p); err != nil {
			t.Fatal(err)
		}
		if pred(p) {
			return p
		}
	}
	t.Fatal("no snapshot matched")
	return wire.SnapshotPayload{}
}

func outgoing(cid, sender, body string) backend.Outgoing {
	return backend.Outgoing{
		CorrelationID: cid,
		Sender:        types.Identity{UserID: sender},
		Body:          body,
		Kind:          types.MessageKindText,
	}
}

func TestSendAckAndSnapshot(t *testing.T) {
	_, ts := newTestServer(t, nil)
	conn := dialWS(t, ts, "u-ana")

	writeFrame(t, conn, wire.FrameSubscribe, wire.SubscribePayload{RoomID: "sala-1", Limit: 50})
	writeFrame(t, conn, wire.FrameSend, wire.SendPayload{
		RoomID:   "sala-1",
		Outgoing: outgoing("c1", "u-ana", "hola"),
	})

	ack := awaitFrame(t, conn, wire.FrameAck)
	var ackP wire.AckPayload
	if err := ack.Decode(&ackP); err != nil {
		t.Fatal(err)
	}
	if ackP.CorrelationID != "c1" {
		t.Errorf("ack correlation id = %q, want c1", ackP.CorrelationID)
	}
	if ackP.ID == "" {
		t.Error("ack carries no durable id")
	}

	snap := awaitSnapshot(t, conn, func(p wire.SnapshotPayload) bool {
		return len(p.Messages) == 1
	})
	if snap.Messages[0].Body != "hola" || snap.Messages[0].CorrelationID != "c1" {
		t.Errorf("snapshot message = %+v", snap.Messages[0])
	}
}

func TestModerationNack(t *testing.T) {
	gate := moderation.NewGate()
	if err := gate.SetWordlist([]string{"*casino*"}); err != nil {
		t.Fatal(err)
	}
	_, ts := newTestServer(t, gate)
	conn := dialWS(t, ts, "u-ana")

	writeFrame(t, conn, wire.FrameSend, wire.SendPayload{
		RoomID:   "sala-1",
		Outgoing: outgoing("c1", "u-ana", "mejor casino online"),
	})

	nack := awaitFrame(t, conn, wire.FrameNack)
	var p wire.NackPayload
	if err := nack.Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.CorrelationID != "c1" {
		t.Errorf("nack correlation id = %q, want c1", p.CorrelationID)
	}
	if p.Reason == "" {
		t.Error("nack carries no reason")
	}
}

func TestDeliveryReceiptOnPush(t *testing.T) {
	_, ts := newTestServer(t, nil)
	ana := dialWS(t, ts, "u-ana")
	writeFrame(t, ana, wire.FrameSubscribe, wire.SubscribePayload{RoomID: "sala-1", Limit: 50})
	writeFrame(t, ana, wire.FrameSend, wire.SendPayload{
		RoomID:   "sala-1",
		Outgoing: outgoing("c1", "u-ana", "hola"),
	})
	awaitFrame(t, ana, wire.FrameAck)

	// Bob's subscription pushes the window to him, which records delivery.
	bob := dialWS(t, ts, "u-bob")
	writeFrame(t, bob, wire.FrameSubscribe, wire.SubscribePayload{RoomID: "sala-1", Limit: 50})

	awaitSnapshot(t, ana, func(p wire.SnapshotPayload) bool {
		return len(p.Messages) == 1 && containsID(p.Messages[0].DeliveredTo, "u-bob")
	})

	// Bob marks the message read; ana sees the read receipt.
	snap := awaitSnapshot(t, bob, func(p wire.SnapshotPayload) bool { return len(p.Messages) == 1 })
	writeFrame(t, bob, wire.FrameRead, wire.ReadPayload{RoomID: "sala-1", MessageIDs: []string{snap.Messages[0].ID}})

	awaitSnapshot(t, ana, func(p wire.SnapshotPayload) bool {
		return len(p.Messages) == 1 && containsID(p.Messages[0].ReadBy, "u-bob")
	})
}

func TestBlockFeedsOverWS(t *testing.T) {
	_, ts := newTestServer(t, nil)
	ana := dialWS(t, ts, "u-ana")
	bob := dialWS(t, ts, "u-bob")

	// Initial empty feeds arrive on connect.
	awaitFrame(t, ana, wire.FrameBlocked)
	awaitFrame(t, bob, wire.FrameBlockedBy)

	writeFrame(t, ana, wire.FrameBlock, wire.BlockTargetPayload{UserID: "u-bob"})

	blocked := awaitFrame(t, ana, wire.FrameBlocked)
	var blockedP wire.BlockSetPayload
	if err := blocked.Decode(&blockedP); err != nil {
		t.Fatal(err)
	}
	if len(blockedP.UserIDs) != 1 || blockedP.UserIDs[0] != "u-bob" {
		t.Errorf("blocked set = %v, want [u-bob]", blockedP.UserIDs)
	}

	blockedBy := awaitFrame(t, bob, wire.FrameBlockedBy)
	var blockedByP wire.BlockSetPayload
	if err := blockedBy.Decode(&blockedByP); err != nil {
		t.Fatal(err)
	}
	if len(blockedByP.UserIDs) != 1 || blockedByP.UserIDs[0] != "u-ana" {
		t.Errorf("blocked-by set = %v, want [u-ana]", blockedByP.UserIDs)
	}
}

func TestRESTPostAndWindow(t *testing.T) {
	_, ts := newTestServer(t, nil)

	body, err := json.Marshal(outgoing("c1", "u-ana", "hola por http"))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(ts.URL+"/api/rooms/sala-1/messages", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("post status = %d, want 201", resp.StatusCode)
	}

	resp2, err := http.Get(ts.URL + "/api/rooms/sala-1/messages?limit=10")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	var window struct {
		Messages []backend.StreamRecord `json:"messages"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&window); err != nil {
		t.Fatal(err)
	}
	if len(window.Messages) != 1 || window.Messages[0].Body != "hola por http" {
		t.Errorf("window = %+v", window.Messages)
	}

	resp3, err := http.Get(ts.URL + "/api/rooms")
	if err != nil {
		t.Fatal(err)
	}
	defer resp3.Body.Close()
	var rooms struct {
		Rooms []string `json:"rooms"`
	}
	if err := json.NewDecoder(resp3.Body).Decode(&rooms); err != nil {
		t.Fatal(err)
	}
	if len(rooms.Rooms) != 1 || rooms.Rooms[0] != "sala-1" {
		t.Errorf("rooms = %v, want [sala-1]", rooms.Rooms)
	}
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}
}
