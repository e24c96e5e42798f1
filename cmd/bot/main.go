package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"roomquest.ai/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		playerID = flag.String("player", "bot", "player id")
		name     = flag.String("name", "", "display name (default: player id)")
		room     = flag.String("room", "lobby", "chat room to join")
		chain    = flag.String("chain", "newbie", "task chain to walk through")
		chat     = flag.Duration("chat", 0, "after the walkthrough, say something every interval (0 = exit)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		PlayerID:        *playerID,
		Name:            *name,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}
	var w protocol.WelcomeMsg
	if err := conn.ReadJSON(&w); err != nil || w.Type != protocol.TypeWelcome {
		logger.Fatalf("expected WELCOME: %v", err)
	}
	logger.Printf("WELCOME session=%s player=%s name=%q level=%d", w.SessionID, w.PlayerID, w.Name, w.Level)

	b := &bot{conn: conn, log: logger, results: make(chan protocol.ResultMsg, 1)}
	go b.read()

	b.walkthrough(*room, *chain)
	if *chat <= 0 {
		return
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	tk := time.NewTicker(*chat)
	defer tk.Stop()
	for n := 1; ; n++ {
		select {
		case <-stop:
			return
		case <-tk.C:
			b.do(protocol.CmdMsg{Op: protocol.OpSay, RoomID: *room, Text: fmt.Sprintf("still here (%d)", n)})
		}
	}
}

type bot struct {
	conn    *websocket.Conn
	log     *log.Logger
	nextID  int
	results chan protocol.ResultMsg
}

// read logs server pushes and hands RESULT frames to do.
func (b *bot) read() {
	defer close(b.results)
	for {
		_, msg, err := b.conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeResult:
			var r protocol.ResultMsg
			if err := json.Unmarshal(msg, &r); err != nil {
				continue
			}
			b.results <- r
		case protocol.TypeMessage:
			var m protocol.MessageMsg
			if json.Unmarshal(msg, &m) == nil {
				b.log.Printf("MESSAGE [%s] %s", m.RoomID, m.Text)
			}
		case protocol.TypeNotification:
			var n protocol.NotificationMsg
			if json.Unmarshal(msg, &n) == nil {
				if n.RoomID != "" {
					b.log.Printf("NOTIFICATION [%s] %s", n.RoomID, n.Text)
				} else {
					b.log.Printf("NOTIFICATION %s", n.Text)
				}
			}
		case protocol.TypePrivate:
			var p protocol.PrivateMsg
			if json.Unmarshal(msg, &p) == nil {
				b.log.Printf("PRIVATE from %s: %s", p.FromName, p.Text)
			}
		}
	}
}

// do sends one CMD and waits for its RESULT.
func (b *bot) do(cmd protocol.CmdMsg) protocol.ResultMsg {
	b.nextID++
	cmd.Type = protocol.TypeCmd
	cmd.ProtocolVersion = protocol.Version
	cmd.ID = strconv.Itoa(b.nextID)
	if err := b.conn.WriteJSON(cmd); err != nil {
		b.log.Fatalf("send %s: %v", cmd.Op, err)
	}
	for {
		select {
		case r, ok := <-b.results:
			if !ok {
				b.log.Fatalf("connection closed waiting for %s", cmd.Op)
			}
			if r.Ref != cmd.ID {
				continue
			}
			if !r.OK {
				b.log.Printf("%s -> %s: %s", cmd.Op, r.Code, r.Message)
			} else {
				b.log.Printf("%s -> ok", cmd.Op)
			}
			return r
		case <-time.After(10 * time.Second):
			b.log.Fatalf("timeout waiting for %s", cmd.Op)
		}
	}
}

// walkthrough drives the newcomer chain end to end: join a room, chat ten
// times, reach level 5, then claim the final rewards.
func (b *bot) walkthrough(room, chain string) {
	b.do(protocol.CmdMsg{Op: protocol.OpJoinChain, ChainID: chain})
	b.do(protocol.CmdMsg{Op: protocol.OpSubscribeRoom, RoomID: room})
	b.do(protocol.CmdMsg{Op: protocol.OpJoinRoom, RoomID: room})
	for i := 1; i <= 10; i++ {
		b.do(protocol.CmdMsg{Op: protocol.OpSay, RoomID: room, Text: fmt.Sprintf("hello #%d", i)})
	}
	for lvl := 2; lvl <= 6; lvl++ {
		b.do(protocol.CmdMsg{Op: protocol.OpSetLevel, Level: lvl})
	}
	b.do(protocol.CmdMsg{Op: protocol.OpClaim, ChainID: chain})

	r := b.do(protocol.CmdMsg{Op: protocol.OpRewards})
	raw, _ := json.Marshal(r.Data)
	b.log.Printf("reward ledger: %s", raw)
}
