package roomstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			room_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			sender_name TEXT NOT NULL,
			text TEXT NOT NULL,
			sent_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_seq ON messages(room_id, seq);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) GetRoom(ctx context.Context, id string) (*Room, error) {
	var (
		r       Room
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id,name,description,created_at FROM rooms WHERE id=?`, id,
	).Scan(&r.ID, &r.Name, &r.Description, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", id, err)
	}
	r.CreatedAt = parseTime(created)
	return &r, nil
}

func (s *SQLite) PutRoom(ctx context.Context, room Room) error {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms(id,name,description,created_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description`,
		room.ID, room.Name, room.Description, formatTime(room.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put room %s: %w", room.ID, err)
	}
	return nil
}

func (s *SQLite) Rooms(ctx context.Context) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,name,description,created_at FROM rooms ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Room
	for rows.Next() {
		var (
			r       Room
			created string
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = parseTime(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) Messages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,room_id,sender_id,sender_name,text,sent_at FROM (
			SELECT seq,id,room_id,sender_id,sender_name,text,sent_at FROM messages
			WHERE room_id=? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("messages %s: %w", roomID, err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var (
			m    Message
			sent string
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderName, &m.Text, &sent); err != nil {
			return nil, err
		}
		m.SentAt = parseTime(sent)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) AddMessage(ctx context.Context, msg Message) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages(id,room_id,sender_id,sender_name,text,sent_at) VALUES(?,?,?,?,?,?)`,
		msg.ID, msg.RoomID, msg.SenderID, msg.SenderName, msg.Text, formatTime(msg.SentAt),
	)
	if err != nil {
		return false, fmt.Errorf("add message %s: %w", msg.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
