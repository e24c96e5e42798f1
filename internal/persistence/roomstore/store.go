package roomstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Message struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"room_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sent_at"`
}

// Store is the read/write surface chat rooms use for metadata and history.
//
// GetRoom returns (nil, nil) when the room does not exist. Messages returns the
// newest limit messages of a room ordered oldest first. AddMessage reports false
// when a message with the same id already exists.
type Store interface {
	GetRoom(ctx context.Context, id string) (*Room, error)
	PutRoom(ctx context.Context, room Room) error
	Rooms(ctx context.Context) ([]Room, error)
	Messages(ctx context.Context, roomID string, limit int) ([]Message, error)
	AddMessage(ctx context.Context, msg Message) (bool, error)
	Close() error
}

// Memory is a process-local Store.
type Memory struct {
	mu       sync.RWMutex
	rooms    map[string]Room
	messages map[string][]Message
	ids      map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		rooms:    map[string]Room{},
		messages: map[string][]Message{},
		ids:      map[string]struct{}{},
	}
}

func (m *Memory) GetRoom(_ context.Context, id string) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) PutRoom(_ context.Context, room Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	m.rooms[room.ID] = room
	return nil
}

func (m *Memory) Rooms(_ context.Context) ([]Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Messages(_ context.Context, roomID string, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.messages[roomID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]Message, len(all))
	copy(out, all)
	return out, nil
}

func (m *Memory) AddMessage(_ context.Context, msg Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.ids[msg.ID]; dup {
		return false, nil
	}
	m.ids[msg.ID] = struct{}{}
	m.messages[msg.RoomID] = append(m.messages[msg.RoomID], msg)
	return true, nil
}

func (m *Memory) Close() error { return nil }
