package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"roomquest.ai/internal/hub"
	"roomquest.ai/internal/protocol"
)

type Options struct {
	// CallTimeout bounds every entity call made on behalf of a session.
	CallTimeout time.Duration
	// QueueSize is the outbound buffer per session; the oldest frame is
	// dropped when it is full.
	QueueSize int
}

type Server struct {
	cluster *hub.Cluster
	log     *log.Logger
	opts    Options

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	sessions atomic.Int64
}

func NewServer(c *hub.Cluster, logger *log.Logger, opts Options) *Server {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 5 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	return &Server{
		cluster: c,
		log:     logger,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Sessions is the number of connected sessions.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		s.sessions.Add(1)
		defer s.sessions.Add(-1)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeDone := make(chan struct{})
		go func() {
			defer close(writeDone)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop. Commands run in arrival order.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if res, ok := s.handle(ctx, sess, msg); ok {
				sess.push(res)
			}
		}

		// Cleanup runs on a fresh context: the session's own is about to go.
		cctx, ccancel := context.WithTimeout(context.Background(), s.opts.CallTimeout)
		sess.unbind(cctx)
		ccancel()

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		select {
		case <-writeDone:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// handle decodes one client frame. Frames that are not CMD are ignored.
func (s *Server) handle(ctx context.Context, sess *session, msg []byte) (protocol.ResultMsg, bool) {
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeCmd {
		return protocol.ResultMsg{}, false
	}
	var cmd protocol.CmdMsg
	if err := json.Unmarshal(msg, &cmd); err != nil {
		return failure("", protocol.ErrProtoBadRequest, "bad CMD"), true
	}
	if cmd.ProtocolVersion != "" && cmd.ProtocolVersion != protocol.Version {
		return failure(cmd.ID, protocol.ErrProtoBadRequest, "bad protocol_version"), true
	}
	if err := protocol.Validate(protocol.TypeCmd, msg); err != nil {
		return failure(cmd.ID, protocol.ErrProtoBadRequest, err.Error()), true
	}

	cctx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	return s.dispatch(cctx, sess, cmd), true
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}
	if base.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}
	if err := protocol.Validate(protocol.TypeHello, msg); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad HELLO"), time.Now().Add(time.Second))
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}

	sess := &session{
		id:       fmt.Sprintf("S%d", s.nextID.Add(1)),
		playerID: hello.PlayerID,
		srv:      s,
		out:      make(chan []byte, s.opts.QueueSize),
		rooms:    map[string]*roomObserver{},
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CallTimeout)
	defer cancel()
	welcome, err := sess.bind(ctx, strings.TrimSpace(hello.Name))
	if err != nil {
		s.log.Printf("session %s: bind player %s: %v", sess.id, hello.PlayerID, err)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "player unavailable"), time.Now().Add(time.Second))
		return nil
	}
	if err := writeJSON(conn, welcome); err != nil {
		cctx, ccancel := context.WithTimeout(context.Background(), s.opts.CallTimeout)
		sess.unbind(cctx)
		ccancel()
		return nil
	}
	s.log.Printf("session %s: player %s connected", sess.id, sess.playerID)
	return sess
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// sendLatest enqueues b, dropping the oldest queued frame if ch is full.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
