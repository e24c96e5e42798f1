package hub

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"roomquest.ai/internal/catalog"
)

// Player owns room and chain memberships, a level, a reward ledger and at most
// one bound observer.
type Player struct {
	c  *Cluster
	id string

	name     string
	level    int
	joinedAt time.Time
	observer Observer

	rooms   map[string]struct{}
	chains  map[string]struct{}
	rewards []catalog.Reward
}

// ProgressReport is what one joined chain answered to a progress event.
type ProgressReport struct {
	ChainID string `json:"chain_id"`
	Result  Result `json:"result"`
	Err     string `json:"error,omitempty"`
}

func (c *Cluster) activatePlayer(_ context.Context, key string) (any, error) {
	c.log.Printf("player %s activated", key)
	return &Player{
		c:        c,
		id:       key,
		name:     key,
		level:    1,
		joinedAt: c.now(),
		rooms:    map[string]struct{}{},
		chains:   map[string]struct{}{},
	}, nil
}

func (p *Player) info() PlayerInfo {
	return PlayerInfo{
		ID:          p.id,
		Name:        p.name,
		JoinedAt:    p.joinedAt,
		Online:      p.observer != nil,
		Level:       p.level,
		JoinedRooms: sortedKeys(p.rooms),
	}
}

func (p *Player) setName(name string) {
	p.name = name
	p.c.log.Printf("player %s: name set to %q", p.id, name)
}

func (p *Player) joinChatRoom(ctx context.Context, roomID string) error {
	if _, ok := p.rooms[roomID]; ok {
		p.c.log.Printf("player %s: already in room %s", p.id, roomID)
		return nil
	}
	if err := p.c.Room(roomID).PlayerJoin(ctx, p.id, p.name); err != nil {
		return err
	}
	p.rooms[roomID] = struct{}{}
	p.c.log.Printf("player %s: joined room %s", p.id, roomID)
	p.reportProgress(ctx, catalog.JoinChatRoom, roomID, 1)
	return nil
}

func (p *Player) leaveChatRoom(ctx context.Context, roomID string) error {
	if _, ok := p.rooms[roomID]; !ok {
		p.c.log.Printf("player %s: not in room %s", p.id, roomID)
		return nil
	}
	if err := p.c.Room(roomID).PlayerLeave(ctx, p.id); err != nil {
		return err
	}
	delete(p.rooms, roomID)
	p.c.log.Printf("player %s: left room %s", p.id, roomID)
	return nil
}

func (p *Player) sendMessage(ctx context.Context, roomID, text string) error {
	if _, ok := p.rooms[roomID]; !ok {
		p.c.log.Printf("player %s: not in room %s, message dropped", p.id, roomID)
		return nil
	}
	if err := p.c.Room(roomID).SendPlayerMessage(ctx, p.id, p.name, text); err != nil {
		return err
	}
	p.reportProgress(ctx, catalog.SendMessages, "", 1)
	return nil
}

// sendPrivateMessage hands the whisper to the target's own turn without waiting,
// so two players whispering each other never wait on one another.
func (p *Player) sendPrivateMessage(ctx context.Context, targetID, text string) {
	fromID, fromName := p.id, p.name
	tellPlayer(ctx, p.c, targetID, func(ctx context.Context, t *Player) error {
		t.receivePrivate(fromID, fromName, text)
		return nil
	})
}

func (p *Player) receivePrivate(fromID, fromName, text string) {
	if p.observer == nil {
		p.c.log.Printf("player %s: offline, private message from %s dropped", p.id, fromID)
		return
	}
	p.c.log.Printf("player %s: private message from %s", p.id, fromID)
	deliverPrivate(p.c.log, "player "+p.id, p.observer, fromID, fromName, text)
}

func (p *Player) setObserver(obs Observer) {
	p.observer = obs
	p.c.log.Printf("player %s: observer bound", p.id)
}

func (p *Player) removeObserver() {
	p.observer = nil
	p.c.log.Printf("player %s: observer removed", p.id)
}

// releaseObserver unbinds obs only if it is still the bound observer.
func (p *Player) releaseObserver(obs Observer) bool {
	if p.observer != obs {
		return false
	}
	p.removeObserver()
	return true
}

// goOnline only announces presence. Whether the player is online follows the
// observer binding (SetObserver, RemoveObserver), not these calls.
func (p *Player) goOnline(ctx context.Context) {
	p.broadcastPresence(ctx, true, fmt.Sprintf("%s is online", p.name))
}

func (p *Player) goOffline(ctx context.Context) {
	p.broadcastPresence(ctx, false, fmt.Sprintf("%s is offline", p.name))
}

func (p *Player) broadcastPresence(ctx context.Context, online bool, notice string) {
	rooms := sortedKeys(p.rooms)
	errs := p.c.rt.FanOut(ctx, len(rooms), func(ctx context.Context, i int) error {
		return p.c.Room(rooms[i]).PlayerPresence(ctx, p.id, online, notice)
	})
	for i, err := range errs {
		if err != nil {
			p.c.log.Printf("player %s: presence to room %s: %v", p.id, rooms[i], err)
		}
	}
}

func (p *Player) addReward(r catalog.Reward) {
	p.rewards = append(p.rewards, r)
	p.c.log.Printf("player %s: reward %s x%d %s", p.id, r.Kind, r.Amount, r.Description)
}

func (p *Player) rewardHistory() []catalog.Reward {
	return append([]catalog.Reward{}, p.rewards...)
}

func (p *Player) notifyTaskChainCompleted(chainID string) {
	p.c.log.Printf("player %s: completed chain %s", p.id, chainID)
	if p.observer == nil {
		return
	}
	deliver(p.c.log, "player "+p.id, func() {
		p.observer.ReceiveNotification(fmt.Sprintf("🎉 congratulations on completing task chain %s!", chainID))
	})
}

// setLevel reports one ReachLevel unit per call whatever the size of the jump.
// The new level is passed as the event target.
func (p *Player) setLevel(ctx context.Context, level int) []ProgressReport {
	old := p.level
	p.level = level
	p.c.log.Printf("player %s: level %d -> %d", p.id, old, level)
	return p.reportProgress(ctx, catalog.ReachLevel, strconv.Itoa(level), 1)
}

// joinTaskChain records the canonical chain id, so joining an alias and its
// target is one membership.
func (p *Player) joinTaskChain(ctx context.Context, chainID string) error {
	ref := p.c.Chain(chainID)
	chainID = ref.ID()
	if _, ok := p.chains[chainID]; ok {
		return nil
	}
	if _, err := ref.PlayerProgress(ctx, p.id); err != nil {
		return err
	}
	p.chains[chainID] = struct{}{}
	p.c.log.Printf("player %s: joined chain %s", p.id, chainID)
	return nil
}

func (p *Player) completeChainTask(ctx context.Context, chainID string, taskID int) (Result, error) {
	res, err := p.c.Chain(chainID).CompleteTask(ctx, p.id, taskID)
	if err != nil {
		return Result{}, err
	}
	p.forward(res)
	return res, nil
}

// reportProgress sends the event to every joined chain concurrently. A failing
// chain is logged and does not affect the others. Successful results are
// forwarded to the bound observer.
func (p *Player) reportProgress(ctx context.Context, ev catalog.EventType, targetID string, count int) []ProgressReport {
	ids := sortedKeys(p.chains)
	out := make([]ProgressReport, len(ids))
	errs := p.c.rt.FanOut(ctx, len(ids), func(ctx context.Context, i int) error {
		res, err := p.c.Chain(ids[i]).UpdateProgress(ctx, p.id, ev, targetID, count)
		out[i] = ProgressReport{ChainID: ids[i], Result: res}
		return err
	})
	for i, err := range errs {
		out[i].ChainID = ids[i]
		if err != nil {
			out[i].Err = err.Error()
			p.c.log.Printf("player %s: progress on chain %s: %v", p.id, ids[i], err)
			continue
		}
		p.forward(out[i].Result)
	}
	return out
}

func (p *Player) forward(res Result) {
	if !res.Success || p.observer == nil {
		return
	}
	deliver(p.c.log, "player "+p.id, func() {
		p.observer.ReceiveNotification("📋 " + res.Message)
		if res.ChainCompleted {
			p.observer.ReceiveNotification("🎊 task chain complete! final rewards are ready to claim")
		}
	})
}
