package roomstore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "rooms.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{"memory": NewMemory(), "sqlite": sq}
}

func TestStore_Rooms(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		r, err := s.GetRoom(ctx, "lobby")
		if err != nil || r != nil {
			t.Fatalf("%s: missing room should be (nil, nil), got %v %v", name, r, err)
		}
		if err := s.PutRoom(ctx, Room{ID: "lobby", Name: "Lobby"}); err != nil {
			t.Fatalf("%s: PutRoom: %v", name, err)
		}
		if err := s.PutRoom(ctx, Room{ID: "arena", Name: "Arena", Description: "fights"}); err != nil {
			t.Fatalf("%s: PutRoom: %v", name, err)
		}
		r, err = s.GetRoom(ctx, "lobby")
		if err != nil || r == nil || r.Name != "Lobby" || r.CreatedAt.IsZero() {
			t.Fatalf("%s: GetRoom: %+v %v", name, r, err)
		}
		all, err := s.Rooms(ctx)
		if err != nil {
			t.Fatalf("%s: Rooms: %v", name, err)
		}
		if len(all) != 2 || all[0].ID != "arena" || all[1].ID != "lobby" {
			t.Fatalf("%s: Rooms=%+v", name, all)
		}
	}
}

func TestStore_MessagesNewestLimitOldestFirst(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for name, s := range stores(t) {
		for i := 0; i < 5; i++ {
			ok, err := s.AddMessage(ctx, Message{
				ID:     fmt.Sprintf("m%d", i),
				RoomID: "lobby",
				Text:   fmt.Sprintf("hello %d", i),
				SentAt: base.Add(time.Duration(i) * time.Second),
			})
			if err != nil || !ok {
				t.Fatalf("%s: AddMessage %d: ok=%v err=%v", name, i, ok, err)
			}
		}
		if _, err := s.AddMessage(ctx, Message{ID: "other", RoomID: "arena", Text: "x"}); err != nil {
			t.Fatalf("%s: AddMessage: %v", name, err)
		}

		got, err := s.Messages(ctx, "lobby", 3)
		if err != nil {
			t.Fatalf("%s: Messages: %v", name, err)
		}
		if len(got) != 3 || got[0].ID != "m2" || got[2].ID != "m4" {
			t.Fatalf("%s: Messages=%+v", name, got)
		}
		if !got[0].SentAt.Equal(base.Add(2 * time.Second)) {
			t.Fatalf("%s: SentAt=%v", name, got[0].SentAt)
		}
		all, _ := s.Messages(ctx, "lobby", 0)
		if len(all) != 5 {
			t.Fatalf("%s: unlimited Messages len=%d", name, len(all))
		}
	}
}

func TestStore_AddMessageDuplicateID(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		ok, err := s.AddMessage(ctx, Message{ID: "dup", RoomID: "lobby", Text: "first"})
		if err != nil || !ok {
			t.Fatalf("%s: first insert ok=%v err=%v", name, ok, err)
		}
		ok, err = s.AddMessage(ctx, Message{ID: "dup", RoomID: "lobby", Text: "second"})
		if err != nil {
			t.Fatalf("%s: duplicate insert err=%v", name, err)
		}
		if ok {
			t.Fatalf("%s: duplicate id accepted", name)
		}
		got, _ := s.Messages(ctx, "lobby", 10)
		if len(got) != 1 || got[0].Text != "first" {
			t.Fatalf("%s: Messages=%+v", name, got)
		}
	}
}

func TestSQLite_SchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	var v string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key='schema_version'`).Scan(&v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if v != "1" {
		t.Fatalf("schema_version=%q", v)
	}
}
