package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"roomquest.ai/internal/actor"
	"roomquest.ai/internal/hub"
	"roomquest.ai/internal/protocol"
)

func newTestServer(t *testing.T) (*hub.Cluster, *httptest.Server) {
	t.Helper()
	rt := actor.New(actor.Options{})
	t.Cleanup(rt.Close)
	c := hub.NewCluster(rt, hub.Deps{})
	srv := NewServer(c, log.New(io.Discard, "", 0), Options{CallTimeout: 2 * time.Second})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return c, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func hello(t *testing.T, conn *websocket.Conn, playerID, name string) protocol.WelcomeMsg {
	t.Helper()
	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, PlayerID: playerID, Name: name}); err != nil {
		t.Fatalf("write HELLO: %v", err)
	}
	var w protocol.WelcomeMsg
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&w); err != nil {
		t.Fatalf("read WELCOME: %v", err)
	}
	return w
}

type frame struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref"`
	OK      bool            `json:"ok"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	RoomID  string          `json:"room_id"`
	Text    string          `json:"text"`
	From    string          `json:"from_name"`
}

// readUntil reads frames until match accepts one and returns it together with
// everything read before it.
func readUntil(t *testing.T, conn *websocket.Conn, match func(frame) bool) (frame, []frame) {
	t.Helper()
	var seen []frame
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (seen %+v)", err, seen)
		}
		var f frame
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("decode %s: %v", b, err)
		}
		if match(f) {
			return f, seen
		}
		seen = append(seen, f)
	}
}

func command(t *testing.T, conn *websocket.Conn, cmd protocol.CmdMsg) (frame, []frame) {
	t.Helper()
	cmd.Type = protocol.TypeCmd
	cmd.ProtocolVersion = protocol.Version
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("write CMD: %v", err)
	}
	return readUntil(t, conn, func(f frame) bool { return f.Type == protocol.TypeResult && f.Ref == cmd.ID })
}

func TestServer_ChatAndTaskChainFlow(t *testing.T) {
	c, ts := newTestServer(t)
	conn := dial(t, ts)

	w := hello(t, conn, "p1", "Alice")
	if w.Type != protocol.TypeWelcome || w.PlayerID != "p1" || w.Name != "Alice" || w.Level != 1 || w.SessionID == "" {
		t.Fatalf("welcome=%+v", w)
	}

	res, _ := command(t, conn, protocol.CmdMsg{ID: "1", Op: protocol.OpJoinChain, ChainID: "newbie"})
	if !res.OK {
		t.Fatalf("JOIN_CHAIN: %+v", res)
	}
	res, _ = command(t, conn, protocol.CmdMsg{ID: "2", Op: protocol.OpSubscribeRoom, RoomID: "lobby"})
	if !res.OK || string(res.Data) != `{"subscribed":true}` {
		t.Fatalf("SUBSCRIBE_ROOM: %+v data=%s", res, res.Data)
	}

	res, seen := command(t, conn, protocol.CmdMsg{ID: "3", Op: protocol.OpJoinRoom, RoomID: "lobby"})
	if !res.OK {
		t.Fatalf("JOIN_ROOM: %+v", res)
	}
	var joined, progressed bool
	for _, f := range seen {
		if f.Type == protocol.TypeNotification && f.RoomID == "lobby" && f.Text == "🎉 Alice joined the room" {
			joined = true
		}
		if f.Type == protocol.TypeNotification && f.RoomID == "" && strings.HasPrefix(f.Text, "📋 task 'Join your first chat room' completed!") {
			progressed = true
		}
	}
	if !joined || !progressed {
		t.Fatalf("pushes before JOIN_ROOM result: %+v", seen)
	}

	res, seen = command(t, conn, protocol.CmdMsg{ID: "4", Op: protocol.OpSay, RoomID: "lobby", Text: "hi"})
	if !res.OK {
		t.Fatalf("SAY: %+v", res)
	}
	var echoed bool
	for _, f := range seen {
		if f.Type == protocol.TypeMessage && f.RoomID == "lobby" && f.Text == "Alice: hi" {
			echoed = true
		}
	}
	if !echoed {
		t.Fatalf("no room echo: %+v", seen)
	}

	res, _ = command(t, conn, protocol.CmdMsg{ID: "5", Op: protocol.OpCompleteTask, ChainID: "newbie", TaskID: 3})
	if res.OK || res.Code != protocol.ErrRejected || res.Message != "cannot complete task 3, current task is 2" {
		t.Fatalf("COMPLETE_TASK out of order: %+v", res)
	}

	res, _ = command(t, conn, protocol.CmdMsg{ID: "6", Op: protocol.OpProgress, Event: "SEND_MESSAGES", Count: 9})
	var reports []hub.ProgressReport
	if err := json.Unmarshal(res.Data, &reports); err != nil || len(reports) != 1 || reports[0].Result.NextTask == nil || reports[0].Result.NextTask.ID != 3 {
		t.Fatalf("PROGRESS: %+v data=%s err=%v", res, res.Data, err)
	}

	res, _ = command(t, conn, protocol.CmdMsg{ID: "7", Op: protocol.OpSetLevel, Level: 5})
	if !res.OK {
		t.Fatalf("SET_LEVEL: %+v", res)
	}
	p, err := c.Chain("newbie").PlayerProgress(context.Background(), "p1")
	if err != nil || p.CurrentTaskID != 3 || p.CurrentProgress != 1 {
		t.Fatalf("progress=%+v err=%v", p, err)
	}

	res, _ = command(t, conn, protocol.CmdMsg{ID: "8", Op: protocol.OpRewards})
	var rewards []map[string]any
	if err := json.Unmarshal(res.Data, &rewards); err != nil || len(rewards) != 4 {
		t.Fatalf("REWARDS: %s err=%v", res.Data, err)
	}
}

func TestServer_ErrorsAndUnknownOps(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)
	hello(t, conn, "p1", "")

	res, _ := command(t, conn, protocol.CmdMsg{ID: "1", Op: "DANCE"})
	if res.OK || res.Code != protocol.ErrUnknownOp {
		t.Fatalf("unknown op: %+v", res)
	}
	res, _ = command(t, conn, protocol.CmdMsg{ID: "2", Op: protocol.OpJoinRoom})
	if res.OK || res.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("missing room_id: %+v", res)
	}
	res, _ = command(t, conn, protocol.CmdMsg{ID: "3", Op: protocol.OpInfo})
	var info hub.PlayerInfo
	if err := json.Unmarshal(res.Data, &info); err != nil || info.Name != "p1" || !info.Online {
		t.Fatalf("INFO: %s err=%v", res.Data, err)
	}
}

func TestServer_RejectsBadHello(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)
	if err := conn.WriteJSON(map[string]string{"type": "CMD", "protocol_version": protocol.Version}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestServer_WhisperAndDisconnect(t *testing.T) {
	c, ts := newTestServer(t)
	alice := dial(t, ts)
	bob := dial(t, ts)
	hello(t, alice, "alice", "Alice")
	hello(t, bob, "bob", "Bob")

	res, _ := command(t, alice, protocol.CmdMsg{ID: "1", Op: protocol.OpWhisper, TargetID: "bob", Text: "psst"})
	if !res.OK {
		t.Fatalf("WHISPER: %+v", res)
	}
	got, _ := readUntil(t, bob, func(f frame) bool { return f.Type == protocol.TypePrivate })
	if got.From != "Alice" || got.Text != "psst" {
		t.Fatalf("private=%+v", got)
	}

	_ = bob.Close()
	ctx := context.Background()
	deadline := time.Now().Add(3 * time.Second)
	for {
		info, err := c.Player("bob").Info(ctx)
		if err != nil {
			t.Fatalf("Info: %v", err)
		}
		if !info.Online {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("bob still bound after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSendLatest_DropsOldest(t *testing.T) {
	ch := make(chan []byte, 2)
	sendLatest(ch, []byte("a"))
	sendLatest(ch, []byte("b"))
	sendLatest(ch, []byte("c"))
	if got := string(<-ch) + string(<-ch); got != "bc" {
		t.Fatalf("queue=%q", got)
	}
}
