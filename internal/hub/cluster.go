// Package hub implements the chat room, player and task chain entities on top of
// the actor runtime, and typed handles for calling them.
package hub

import (
	"context"
	"io"
	"log"
	"time"

	"roomquest.ai/internal/actor"
	"roomquest.ai/internal/catalog"
	"roomquest.ai/internal/persistence/journal"
	"roomquest.ai/internal/persistence/roomstore"
)

const (
	KindChatRoom  = "chatroom"
	KindPlayer    = "player"
	KindTaskChain = "taskchain"
)

type Deps struct {
	Store  roomstore.Store
	Chains catalog.Source
	// Audit may be nil.
	Audit journal.Auditor
	// Rewards defaults to granting into Player entities.
	Rewards RewardSink
	Logger  *log.Logger
	Now     func() time.Time

	// HistoryPreload is how many stored messages a room loads on activation.
	HistoryPreload int
}

type Cluster struct {
	rt             *actor.Runtime
	store          roomstore.Store
	chains         catalog.Source
	audit          journal.Auditor
	rewards        RewardSink
	log            *log.Logger
	now            func() time.Time
	historyPreload int
}

// NewCluster registers the entity kinds on rt.
func NewCluster(rt *actor.Runtime, d Deps) *Cluster {
	c := &Cluster{
		rt:             rt,
		store:          d.Store,
		chains:         d.Chains,
		audit:          d.Audit,
		rewards:        d.Rewards,
		log:            d.Logger,
		now:            d.Now,
		historyPreload: d.HistoryPreload,
	}
	if c.store == nil {
		c.store = roomstore.NewMemory()
	}
	if c.chains == nil {
		c.chains = catalog.Builtin(d.Now)
	}
	if c.log == nil {
		c.log = log.New(io.Discard, "", 0)
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.historyPreload <= 0 {
		c.historyPreload = 10
	}
	if c.rewards == nil {
		c.rewards = playerSink{c: c}
	}
	rt.Register(KindChatRoom, c.activateRoom)
	rt.Register(KindPlayer, c.activatePlayer)
	rt.Register(KindTaskChain, c.activateChain)
	return c
}

func (c *Cluster) Runtime() *actor.Runtime { return c.rt }

// Activated keys per kind.
func (c *Cluster) Rooms() []string   { return c.rt.Keys(KindChatRoom) }
func (c *Cluster) Players() []string { return c.rt.Keys(KindPlayer) }
func (c *Cluster) Chains() []string  { return c.rt.Keys(KindTaskChain) }

// playerSink grants rewards by calling the Player entity.
type playerSink struct{ c *Cluster }

func (s playerSink) Grant(ctx context.Context, playerID string, rewards []catalog.Reward) error {
	return s.c.Player(playerID).AddRewards(ctx, rewards)
}

func (s playerSink) ChainCompleted(ctx context.Context, playerID, chainID string) error {
	return s.c.Player(playerID).NotifyTaskChainCompleted(ctx, chainID)
}

func tellPlayer(ctx context.Context, c *Cluster, playerID string, fn func(context.Context, *Player) error) {
	actor.Tell(ctx, c.rt, actor.Identity{Kind: KindPlayer, Key: playerID}, fn)
}

// RoomRef addresses a ChatRoom entity.
type RoomRef struct {
	c  *Cluster
	id actor.Identity
}

func (c *Cluster) Room(id string) RoomRef {
	return RoomRef{c: c, id: actor.Identity{Kind: KindChatRoom, Key: id}}
}

func (r RoomRef) ID() string { return r.id.Key }

func (r RoomRef) Subscribe(ctx context.Context, obs Observer) (bool, error) {
	return actor.Call(ctx, r.c.rt, r.id, func(ctx context.Context, s *ChatRoom) (bool, error) {
		return s.subscribe(obs), nil
	})
}

func (r RoomRef) Unsubscribe(ctx context.Context, obs Observer) (bool, error) {
	return actor.Call(ctx, r.c.rt, r.id, func(ctx context.Context, s *ChatRoom) (bool, error) {
		return s.unsubscribe(obs), nil
	})
}

func (r RoomRef) SendMessage(ctx context.Context, text string) error {
	return actor.Do(ctx, r.c.rt, r.id, func(ctx context.Context, s *ChatRoom) error {
		return s.sendMessage(ctx, text)
	})
}

func (r RoomRef) SendNotification(ctx context.Context, text string) error {
	return actor.Do(ctx, r.c.rt, r.id, func(ctx context.Context, s *ChatRoom) error {
		s.sendNotification(ctx, text)
		return nil
	})
}

func (r RoomRef) PlayerJoin(ctx context.Context, playerID, name string) error {
	return actor.Do(ctx, r.c.rt, r.id, func(ctx context.Context, s *ChatRoom) error {
		s.playerJoin(ctx, playerID, name)
		return nil
	})
}

func (r RoomRef) PlayerLeave(ctx context.Context, playerID string) error {
	return actor.Do(ctx, r.c.rt, r.id, func(ctx context.Context, s *ChatRoom) error {
		s.playerLeave(ctx, playerID)
		return nil
	})
}

func (r RoomRef) PlayerPresence(ctx context.Context, playerID string, online bool, notice string) error {
	return actor.Do(ctx, r.c.rt, r.id, func(ctx context.Context, s *ChatRoom) error {
		s.playerPresence(ctx, playerID, online, notice)
		return nil
	})
}

func (r RoomRef) SubscriberCount(ctx context.Context) (int, error) {
	return actor.Call(ctx, r.c.rt, r.id, func(ctx context.Context, s *ChatRoom) (int, error) {
		return len(s.subscribers), nil
	})
}

func (r RoomRef) OnlinePlayers(ctx context.Context) ([]PlayerInfo, error) {
	return actor.Call(ctx, r.c.rt, r.id, func(ctx context.Context, s *ChatRoom) ([]PlayerInfo, error) {
		return s.onlinePlayers(), nil
	})
}

func (r RoomRef) SendPlayerMessage(ctx context.Context, playerID, name, text string) error {
	return actor.Do(ctx, r.c.rt, r.id, func(ctx context.Context, s *ChatRoom) error {
		return s.sendPlayerMessage(ctx, playerID, name, text)
	})
}

func (r RoomRef) Info(ctx context.Context) (RoomInfo, error) {
	return actor.Call(ctx, r.c.rt, r.id, func(ctx context.Context, s *ChatRoom) (RoomInfo, error) {
		return s.info(), nil
	})
}

func (r RoomRef) History(ctx context.Context) ([]roomstore.Message, error) {
	return actor.Call(ctx, r.c.rt, r.id, func(ctx context.Context, s *ChatRoom) ([]roomstore.Message, error) {
		return s.recentHistory(), nil
	})
}

// PlayerRef addresses a Player entity.
type PlayerRef struct {
	c  *Cluster
	id actor.Identity
}

func (c *Cluster) Player(id string) PlayerRef {
	return PlayerRef{c: c, id: actor.Identity{Kind: KindPlayer, Key: id}}
}

func (p PlayerRef) ID() string { return p.id.Key }

func (p PlayerRef) Name(ctx context.Context) (string, error) {
	return actor.Call(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) (string, error) {
		return s.name, nil
	})
}

func (p PlayerRef) SetName(ctx context.Context, name string) error {
	return actor.Do(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) error {
		s.setName(name)
		return nil
	})
}

func (p PlayerRef) Info(ctx context.Context) (PlayerInfo, error) {
	return actor.Call(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) (PlayerInfo, error) {
		return s.info(), nil
	})
}

func (p PlayerRef) JoinChatRoom(ctx context.Context, roomID string) error {
	return actor.Do(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) error {
		return s.joinChatRoom(ctx, roomID)
	})
}

func (p PlayerRef) LeaveChatRoom(ctx context.Context, roomID string) error {
	return actor.Do(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) error {
		return s.leaveChatRoom(ctx, roomID)
	})
}

func (p PlayerRef) JoinedRooms(ctx context.Context) ([]string, error) {
	return actor.Call(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) ([]string, error) {
		return sortedKeys(s.rooms), nil
	})
}

func (p PlayerRef) SendMessage(ctx context.Context, roomID, text string) error {
	return actor.Do(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) error {
		return s.sendMessage(ctx, roomID, text)
	})
}

// SendPrivateMessage queues a whisper for targetID. It is delivered only if the
// target has an observer bound when the whisper reaches it.
func (p PlayerRef) SendPrivateMessage(ctx context.Context, targetID, text string) error {
	return actor.Do(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) error {
		s.sendPrivateMessage(ctx, targetID, text)
		return nil
	})
}

func (p PlayerRef) SetObserver(ctx context.Context, obs Observer) error {
	return actor.Do(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) error {
		s.setObserver(obs)
		return nil
	})
}

func (p PlayerRef) RemoveObserver(ctx context.Context) error {
	return actor.Do(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) error {
		s.removeObserver()
		return nil
	})
}

// ReleaseObserver removes obs if it is still bound and reports whether it was.
// A session that lost its binding to a newer one uses this on disconnect.
func (p PlayerRef) ReleaseObserver(ctx context.Context, obs Observer) (bool, error) {
	return actor.Call(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) (bool, error) {
		return s.releaseObserver(obs), nil
	})
}

// GoOnline announces the player to its joined rooms. Info.Online reports
// whether an observer is bound.
func (p PlayerRef) GoOnline(ctx context.Context) error {
	return actor.Do(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) error {
		s.goOnline(ctx)
		return nil
	})
}

func (p PlayerRef) GoOffline(ctx context.Context) error {
	return actor.Do(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) error {
		s.goOffline(ctx)
		return nil
	})
}

func (p PlayerRef) AddReward(ctx context.Context, r catalog.Reward) error {
	return actor.Do(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) error {
		s.addReward(r)
		return nil
	})
}

// AddRewards appends rewards to the ledger in a single turn.
func (p PlayerRef) AddRewards(ctx context.Context, rewards []catalog.Reward) error {
	return actor.Do(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) error {
		for _, r := range rewards {
			s.addReward(r)
		}
		return nil
	})
}

func (p PlayerRef) RewardHistory(ctx context.Context) ([]catalog.Reward, error) {
	return actor.Call(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) ([]catalog.Reward, error) {
		return s.rewardHistory(), nil
	})
}

func (p PlayerRef) NotifyTaskChainCompleted(ctx context.Context, chainID string) error {
	return actor.Do(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) error {
		s.notifyTaskChainCompleted(chainID)
		return nil
	})
}

func (p PlayerRef) SetLevel(ctx context.Context, level int) ([]ProgressReport, error) {
	return actor.Call(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) ([]ProgressReport, error) {
		return s.setLevel(ctx, level), nil
	})
}

func (p PlayerRef) Level(ctx context.Context) (int, error) {
	return actor.Call(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) (int, error) {
		return s.level, nil
	})
}

func (p PlayerRef) JoinTaskChain(ctx context.Context, chainID string) error {
	return actor.Do(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) error {
		return s.joinTaskChain(ctx, chainID)
	})
}

func (p PlayerRef) JoinedTaskChains(ctx context.Context) ([]string, error) {
	return actor.Call(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) ([]string, error) {
		return sortedKeys(s.chains), nil
	})
}

// ReportProgress reports an arbitrary gameplay event to every joined chain.
func (p PlayerRef) ReportProgress(ctx context.Context, ev catalog.EventType, targetID string, count int) ([]ProgressReport, error) {
	return actor.Call(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) ([]ProgressReport, error) {
		return s.reportProgress(ctx, ev, targetID, count), nil
	})
}

// CompleteChainTask forces a task of one chain within the player's turn, so the
// chain's reward callbacks reach this player reentrantly.
func (p PlayerRef) CompleteChainTask(ctx context.Context, chainID string, taskID int) (Result, error) {
	return actor.Call(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) (Result, error) {
		return s.completeChainTask(ctx, chainID, taskID)
	})
}

func (p PlayerRef) ClaimChainRewards(ctx context.Context, chainID string) ([]catalog.Reward, error) {
	return actor.Call(ctx, p.c.rt, p.id, func(ctx context.Context, s *Player) ([]catalog.Reward, error) {
		return s.c.Chain(chainID).ClaimFinalRewards(ctx, s.id)
	})
}

// ChainRef addresses a TaskChain entity.
type ChainRef struct {
	c  *Cluster
	id actor.Identity
}

// Chain addresses the chain behind id. Aliases share their target's entity.
func (c *Cluster) Chain(id string) ChainRef {
	if cn, ok := c.chains.(canonicalizer); ok {
		id = cn.Canonical(id)
	}
	return ChainRef{c: c, id: actor.Identity{Kind: KindTaskChain, Key: id}}
}

// canonicalizer is implemented by chain sources that know aliases.
type canonicalizer interface {
	Canonical(chainID string) string
}

func (t ChainRef) ID() string { return t.id.Key }

func (t ChainRef) ChainInfo(ctx context.Context) (catalog.Chain, error) {
	return actor.Call(ctx, t.c.rt, t.id, func(ctx context.Context, s *TaskChain) (catalog.Chain, error) {
		return s.def, nil
	})
}

// PlayerProgress returns the player's record, creating it at the first task.
func (t ChainRef) PlayerProgress(ctx context.Context, playerID string) (TaskProgress, error) {
	return actor.Call(ctx, t.c.rt, t.id, func(ctx context.Context, s *TaskChain) (TaskProgress, error) {
		return s.record(playerID).clone(), nil
	})
}

// UpdateProgress adds count to the current task. A negative count is answered
// with an invalid_count result.
func (t ChainRef) UpdateProgress(ctx context.Context, playerID string, ev catalog.EventType, targetID string, count int) (Result, error) {
	return actor.Call(ctx, t.c.rt, t.id, func(ctx context.Context, s *TaskChain) (Result, error) {
		return s.updateProgress(ctx, playerID, ev, targetID, count)
	})
}

func (t ChainRef) CompleteTask(ctx context.Context, playerID string, taskID int) (Result, error) {
	return actor.Call(ctx, t.c.rt, t.id, func(ctx context.Context, s *TaskChain) (Result, error) {
		return s.completeTask(ctx, playerID, taskID)
	})
}

func (t ChainRef) ClaimFinalRewards(ctx context.Context, playerID string) ([]catalog.Reward, error) {
	return actor.Call(ctx, t.c.rt, t.id, func(ctx context.Context, s *TaskChain) ([]catalog.Reward, error) {
		return s.claimFinalRewards(ctx, playerID)
	})
}

// ResetPlayerProgress discards the player's record and reports whether one existed.
func (t ChainRef) ResetPlayerProgress(ctx context.Context, playerID string) (bool, error) {
	return actor.Call(ctx, t.c.rt, t.id, func(ctx context.Context, s *TaskChain) (bool, error) {
		return s.resetPlayerProgress(playerID), nil
	})
}

func (t ChainRef) AllPlayersProgress(ctx context.Context) (map[string]TaskProgress, error) {
	return actor.Call(ctx, t.c.rt, t.id, func(ctx context.Context, s *TaskChain) (map[string]TaskProgress, error) {
		return s.allPlayersProgress(), nil
	})
}

func (t ChainRef) IsExpired(ctx context.Context) (bool, error) {
	return actor.Call(ctx, t.c.rt, t.id, func(ctx context.Context, s *TaskChain) (bool, error) {
		return s.isExpired(), nil
	})
}
