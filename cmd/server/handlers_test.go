package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"roomquest.ai/internal/actor"
	"roomquest.ai/internal/catalog"
	"roomquest.ai/internal/hub"
	"roomquest.ai/internal/persistence/roomstore"
	"roomquest.ai/internal/transport/ws"
)

func newTestApp(t *testing.T, token string) (*app, *httptest.Server) {
	t.Helper()
	rt := actor.New(actor.Options{})
	t.Cleanup(rt.Close)
	store, err := roomstore.OpenSQLite(t.TempDir() + "/rooms.sqlite")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	logger := log.New(io.Discard, "", 0)
	c := hub.NewCluster(rt, hub.Deps{Store: store, Logger: logger})
	a := &app{
		cluster:    c,
		store:      store,
		gateway:    ws.NewServer(c, logger, ws.Options{}),
		adminToken: token,
		log:        logger,
	}
	ts := httptest.NewServer(a.routes())
	t.Cleanup(ts.Close)
	return a, ts
}

func TestHealthzAndMetrics(t *testing.T) {
	a, ts := newTestApp(t, "")
	ctx := context.Background()
	if err := a.cluster.Player("p1").JoinChatRoom(ctx, "lobby"); err != nil {
		t.Fatalf("JoinChatRoom: %v", err)
	}

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: resp=%v err=%v", resp, err)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{
		`roomquest_activations{kind="chatroom"} 1`,
		`roomquest_activations{kind="player"} 1`,
		`roomquest_activations{kind="taskchain"} 0`,
		"# TYPE roomquest_calls_total counter",
		"roomquest_sessions 0",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestAdmin_RoomsNotifyAndState(t *testing.T) {
	a, ts := newTestApp(t, "")

	resp, err := http.Post(ts.URL+"/admin/v1/rooms", "application/json", strings.NewReader(`{"id":"lobby","name":"The Lobby"}`))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("create room: resp=%v err=%v", resp, err)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/admin/v1/rooms")
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}
	var rooms []roomstore.Room
	_ = json.NewDecoder(resp.Body).Decode(&rooms)
	resp.Body.Close()
	if len(rooms) != 1 || rooms[0].Name != "The Lobby" {
		t.Fatalf("rooms=%+v", rooms)
	}

	resp, err = http.Post(ts.URL+"/admin/v1/notify", "application/json", strings.NewReader(`{"room_id":"lobby","text":"maintenance at noon","persist":true}`))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("notify: resp=%v err=%v", resp, err)
	}
	resp.Body.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := a.store.Messages(ctx, "lobby", 0)
	if err != nil || len(msgs) != 1 || msgs[0].Text != "maintenance at noon" || msgs[0].SenderID != "system" {
		t.Fatalf("stored messages=%+v err=%v", msgs, err)
	}
	info, _ := a.cluster.Room("lobby").Info(ctx)
	if !info.Stored || info.Name != "The Lobby" {
		t.Fatalf("room info=%+v", info)
	}

	resp, err = http.Get(ts.URL + "/admin/v1/state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	var st struct {
		Rooms []string `json:"rooms"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if len(st.Rooms) != 1 || st.Rooms[0] != "lobby" {
		t.Fatalf("state=%+v", st)
	}
}

func TestAdmin_ChainProgress(t *testing.T) {
	a, ts := newTestApp(t, "")
	ctx := context.Background()
	if _, err := a.cluster.Chain("newbie").UpdateProgress(ctx, "p1", catalog.JoinChatRoom, "lobby", 1); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	resp, err := http.Get(ts.URL + "/admin/v1/chain_progress?chain=newbie")
	if err != nil {
		t.Fatalf("chain_progress: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		Expired bool                        `json:"expired"`
		Players map[string]hub.TaskProgress `json:"players"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Expired || out.Players["p1"].CurrentTaskID != 2 {
		t.Fatalf("progress=%+v", out)
	}
}

func TestAdmin_Auth(t *testing.T) {
	a, ts := newTestApp(t, "s3cret")

	resp, err := http.Get(ts.URL + "/admin/v1/state")
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: resp=%v err=%v", resp, err)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/admin/v1/state", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("with token: resp=%v err=%v", resp, err)
	}
	resp.Body.Close()

	// Without a token, only loopback clients may call admin endpoints.
	a.adminToken = ""
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/admin/v1/notify", bytes.NewReader([]byte(`{}`)))
	r.RemoteAddr = "203.0.113.7:5555"
	a.routes().ServeHTTP(rec, r)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote admin call: code=%d", rec.Code)
	}
}
