package hub

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"roomquest.ai/internal/persistence/roomstore"
)

// ChatRoom owns a subscriber set and a roster of present players. Message
// history is delegated to the room store.
type ChatRoom struct {
	c  *Cluster
	id string

	meta        *roomstore.Room
	history     []roomstore.Message
	subscribers map[Observer]struct{}
	roster      map[string]PlayerInfo
}

type RoomInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Stored      bool   `json:"stored"`
	Subscribers int    `json:"subscribers"`
	Players     int    `json:"players"`
}

func (c *Cluster) activateRoom(ctx context.Context, key string) (any, error) {
	r := &ChatRoom{
		c:           c,
		id:          key,
		subscribers: map[Observer]struct{}{},
		roster:      map[string]PlayerInfo{},
	}
	meta, err := c.store.GetRoom(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}
	if meta == nil {
		c.log.Printf("room %s: no stored metadata, starting empty", key)
		return r, nil
	}
	r.meta = meta
	msgs, err := c.store.Messages(ctx, key, c.historyPreload)
	if err != nil {
		return nil, fmt.Errorf("load room history: %w", err)
	}
	r.history = msgs
	c.log.Printf("room %s activated: name=%q history=%d", key, meta.Name, len(msgs))
	return r, nil
}

func (r *ChatRoom) subscribe(obs Observer) bool {
	if _, ok := r.subscribers[obs]; ok {
		r.c.log.Printf("room %s: observer already subscribed", r.id)
		return false
	}
	r.subscribers[obs] = struct{}{}
	r.c.log.Printf("room %s: subscribed, subscribers=%d", r.id, len(r.subscribers))
	return true
}

func (r *ChatRoom) unsubscribe(obs Observer) bool {
	if _, ok := r.subscribers[obs]; !ok {
		r.c.log.Printf("room %s: observer not subscribed", r.id)
		return false
	}
	delete(r.subscribers, obs)
	r.c.log.Printf("room %s: unsubscribed, subscribers=%d", r.id, len(r.subscribers))
	return true
}

// sendMessage persists text as a system message, then fans it out.
func (r *ChatRoom) sendMessage(ctx context.Context, text string) error {
	msg := roomstore.Message{
		ID:         uuid.NewString(),
		RoomID:     r.id,
		SenderID:   "system",
		SenderName: "System",
		Text:       text,
		SentAt:     r.c.now().UTC(),
	}
	ok, err := r.c.store.AddMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("room %s: persist message: %w", r.id, err)
	}
	if !ok {
		r.c.log.Printf("room %s: duplicate message id %s", r.id, msg.ID)
	} else {
		r.appendHistory(msg)
	}
	r.broadcast(ctx, func(o Observer) { o.ReceiveMessage(text) })
	return nil
}

func (r *ChatRoom) appendHistory(msg roomstore.Message) {
	r.history = append(r.history, msg)
	if n := r.c.historyPreload; n > 0 && len(r.history) > n {
		r.history = append([]roomstore.Message(nil), r.history[len(r.history)-n:]...)
	}
}

func (r *ChatRoom) sendNotification(ctx context.Context, text string) {
	r.broadcast(ctx, func(o Observer) { o.ReceiveNotification(text) })
}

// broadcast delivers to a snapshot of the subscriber set concurrently. A failing
// observer is logged and never affects the others.
func (r *ChatRoom) broadcast(ctx context.Context, fn func(Observer)) {
	snap := make([]Observer, 0, len(r.subscribers))
	for o := range r.subscribers {
		snap = append(snap, o)
	}
	errs := r.c.rt.FanOut(ctx, len(snap), func(ctx context.Context, i int) error {
		fn(snap[i])
		return nil
	})
	for _, err := range errs {
		if err != nil {
			r.c.log.Printf("room %s: deliver: %v", r.id, err)
		}
	}
}

func (r *ChatRoom) playerJoin(ctx context.Context, playerID, name string) {
	if _, ok := r.roster[playerID]; ok {
		r.c.log.Printf("room %s: player %s already present", r.id, playerID)
		return
	}
	r.roster[playerID] = PlayerInfo{ID: playerID, Name: name, JoinedAt: r.c.now(), Online: true}
	r.c.log.Printf("room %s: player %s (%s) joined", r.id, name, playerID)
	r.sendNotification(ctx, fmt.Sprintf("🎉 %s joined the room", name))
}

func (r *ChatRoom) playerLeave(ctx context.Context, playerID string) {
	p, ok := r.roster[playerID]
	if !ok {
		r.c.log.Printf("room %s: player %s not present", r.id, playerID)
		return
	}
	delete(r.roster, playerID)
	r.c.log.Printf("room %s: player %s (%s) left", r.id, p.Name, playerID)
	r.sendNotification(ctx, fmt.Sprintf("👋 %s left the room", p.Name))
}

// playerPresence updates the roster online flag and announces the change.
func (r *ChatRoom) playerPresence(ctx context.Context, playerID string, online bool, notice string) {
	if p, ok := r.roster[playerID]; ok {
		p.Online = online
		r.roster[playerID] = p
	}
	r.sendNotification(ctx, notice)
}

func (r *ChatRoom) onlinePlayers() []PlayerInfo {
	out := make([]PlayerInfo, 0, len(r.roster))
	for _, p := range r.roster {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *ChatRoom) sendPlayerMessage(ctx context.Context, playerID, name, text string) error {
	if _, ok := r.roster[playerID]; !ok {
		r.c.log.Printf("room %s: player %s not present, message dropped", r.id, playerID)
		return nil
	}
	return r.sendMessage(ctx, fmt.Sprintf("%s: %s", name, text))
}

func (r *ChatRoom) info() RoomInfo {
	ri := RoomInfo{ID: r.id, Name: r.id, Subscribers: len(r.subscribers), Players: len(r.roster)}
	if r.meta != nil {
		ri.Name = r.meta.Name
		ri.Description = r.meta.Description
		ri.Stored = true
	}
	return ri
}

func (r *ChatRoom) recentHistory() []roomstore.Message {
	out := make([]roomstore.Message, len(r.history))
	copy(out, r.history)
	return out
}
