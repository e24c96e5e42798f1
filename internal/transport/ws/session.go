package ws

import (
	"context"
	"encoding/json"
	"sort"

	"roomquest.ai/internal/hub"
	"roomquest.ai/internal/protocol"
)

// session is one connection bound to a player. It is the player's observer,
// and each subscribed room gets its own roomObserver so pushes carry a room id.
//
// rooms is only touched by the connection's reader goroutine.
type session struct {
	id       string
	playerID string
	srv      *Server
	out      chan []byte
	rooms    map[string]*roomObserver
}

func (s *session) player() hub.PlayerRef { return s.srv.cluster.Player(s.playerID) }

func (s *session) push(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.srv.log.Printf("session %s: encode: %v", s.id, err)
		return
	}
	sendLatest(s.out, b)
}

func (s *session) ReceiveMessage(text string) {
	s.push(protocol.MessageMsg{Type: protocol.TypeMessage, ProtocolVersion: protocol.Version, Text: text})
}

func (s *session) ReceiveNotification(text string) {
	s.push(protocol.NotificationMsg{Type: protocol.TypeNotification, ProtocolVersion: protocol.Version, Text: text})
}

func (s *session) ReceivePrivate(fromID, fromName, text string) {
	s.push(protocol.PrivateMsg{
		Type:            protocol.TypePrivate,
		ProtocolVersion: protocol.Version,
		FromID:          fromID,
		FromName:        fromName,
		Text:            text,
	})
}

type roomObserver struct {
	s      *session
	roomID string
}

func (o *roomObserver) ReceiveMessage(text string) {
	o.s.push(protocol.MessageMsg{Type: protocol.TypeMessage, ProtocolVersion: protocol.Version, RoomID: o.roomID, Text: text})
}

func (o *roomObserver) ReceiveNotification(text string) {
	o.s.push(protocol.NotificationMsg{Type: protocol.TypeNotification, ProtocolVersion: protocol.Version, RoomID: o.roomID, Text: text})
}

func (s *session) bind(ctx context.Context, name string) (protocol.WelcomeMsg, error) {
	p := s.player()
	if name != "" {
		if err := p.SetName(ctx, name); err != nil {
			return protocol.WelcomeMsg{}, err
		}
	}
	if err := p.SetObserver(ctx, s); err != nil {
		return protocol.WelcomeMsg{}, err
	}
	if err := p.GoOnline(ctx); err != nil {
		return protocol.WelcomeMsg{}, err
	}
	info, err := p.Info(ctx)
	if err != nil {
		return protocol.WelcomeMsg{}, err
	}
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       s.id,
		PlayerID:        info.ID,
		Name:            info.Name,
		Level:           info.Level,
	}, nil
}

// unbind drops room subscriptions and, unless a newer session took the player
// over, the observer binding and online presence.
func (s *session) unbind(ctx context.Context) {
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := s.srv.cluster.Room(id).Unsubscribe(ctx, s.rooms[id]); err != nil {
			s.srv.log.Printf("session %s: unsubscribe %s: %v", s.id, id, err)
		}
		delete(s.rooms, id)
	}

	p := s.player()
	released, err := p.ReleaseObserver(ctx, s)
	if err != nil {
		s.srv.log.Printf("session %s: release observer: %v", s.id, err)
		return
	}
	if !released {
		s.srv.log.Printf("session %s: player %s rebound elsewhere", s.id, s.playerID)
		return
	}
	if err := p.GoOffline(ctx); err != nil {
		s.srv.log.Printf("session %s: go offline: %v", s.id, err)
	}
	s.srv.log.Printf("session %s: player %s disconnected", s.id, s.playerID)
}

func (s *session) subscribe(ctx context.Context, roomID string) (bool, error) {
	obs, ok := s.rooms[roomID]
	if !ok {
		obs = &roomObserver{s: s, roomID: roomID}
	}
	added, err := s.srv.cluster.Room(roomID).Subscribe(ctx, obs)
	if err != nil {
		return false, err
	}
	s.rooms[roomID] = obs
	return added, nil
}

func (s *session) unsubscribe(ctx context.Context, roomID string) (bool, error) {
	obs, ok := s.rooms[roomID]
	if !ok {
		return false, nil
	}
	removed, err := s.srv.cluster.Room(roomID).Unsubscribe(ctx, obs)
	if err != nil {
		return false, err
	}
	delete(s.rooms, roomID)
	return removed, nil
}
