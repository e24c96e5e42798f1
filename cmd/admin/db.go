package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"roomquest.ai/internal/persistence/roomstore"
)

func openStore(dataDir, dbPath string) *roomstore.SQLite {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		path = filepath.Join(dataDir, "rooms.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	s, err := roomstore.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return s
}

func roomsCmd(args []string) {
	fs := flag.NewFlagSet("rooms", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	_ = fs.Parse(args)

	s := openStore(*dataDir, *dbPath)
	defer s.Close()

	rooms, err := s.Rooms(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, r := range rooms {
		_ = enc.Encode(r)
	}
}

func messagesCmd(args []string) {
	fs := flag.NewFlagSet("messages", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	roomID := fs.String("room", "", "room id (required)")
	limit := fs.Int("limit", 20, "newest N messages (0 = all)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*roomID) == "" {
		fmt.Fprintln(os.Stderr, "missing -room")
		os.Exit(2)
	}
	s := openStore(*dataDir, *dbPath)
	defer s.Close()

	msgs, err := s.Messages(context.Background(), *roomID, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, m := range msgs {
		fmt.Printf("%s  %-12s %s\n", m.SentAt.Format(time.RFC3339), m.SenderName, m.Text)
	}
}

func addRoomCmd(args []string) {
	fs := flag.NewFlagSet("add-room", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; created if missing)")
	id := fs.String("id", "", "room id (required)")
	name := fs.String("name", "", "display name (default: id)")
	desc := fs.String("desc", "", "description")
	_ = fs.Parse(args)

	if strings.TrimSpace(*id) == "" {
		fmt.Fprintln(os.Stderr, "missing -id")
		os.Exit(2)
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if err := os.MkdirAll(*dataDir, 0o755); err != nil {
			fmt.Fprintln(os.Stderr, "mkdir:", err)
			os.Exit(1)
		}
		path = filepath.Join(*dataDir, "rooms.sqlite")
	}
	s, err := roomstore.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer s.Close()

	room := roomstore.Room{ID: *id, Name: *name, Description: *desc, CreatedAt: time.Now().UTC()}
	if room.Name == "" {
		room.Name = room.ID
	}
	if err := s.PutRoom(context.Background(), room); err != nil {
		fmt.Fprintln(os.Stderr, "put:", err)
		os.Exit(1)
	}
	fmt.Printf("stored room %s (%s)\n", room.ID, room.Name)
}
