package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// EventType is the gameplay event a task counts.
type EventType int

const (
	KillMonsters   EventType = 1
	CollectItems   EventType = 2
	ReachLevel     EventType = 3
	CompleteQuests EventType = 4
	JoinChatRoom   EventType = 5
	SendMessages   EventType = 6
)

var eventNames = map[EventType]string{
	KillMonsters:   "KILL_MONSTERS",
	CollectItems:   "COLLECT_ITEMS",
	ReachLevel:     "REACH_LEVEL",
	CompleteQuests: "COMPLETE_QUESTS",
	JoinChatRoom:   "JOIN_CHAT_ROOM",
	SendMessages:   "SEND_MESSAGES",
}

func (e EventType) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return fmt.Sprintf("EVENT_%d", int(e))
}

// ParseEventType accepts the wire names (JOIN_CHAT_ROOM) case-insensitively.
func ParseEventType(raw string) (EventType, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	for k, v := range eventNames {
		if v == s {
			return k, true
		}
	}
	return 0, false
}

func (e EventType) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

func (e *EventType) UnmarshalText(b []byte) error {
	v, ok := ParseEventType(string(b))
	if !ok {
		return fmt.Errorf("unknown event type %q", string(b))
	}
	*e = v
	return nil
}

// Reward kinds used by the built-in chains.
const (
	RewardGold  = "Gold"
	RewardExp   = "Exp"
	RewardItem  = "Item"
	RewardTitle = "Title"
)

type Reward struct {
	Kind        string `json:"kind" yaml:"kind"`
	Amount      int    `json:"amount,omitempty" yaml:"amount,omitempty"`
	ItemID      string `json:"item_id,omitempty" yaml:"item_id,omitempty"`
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type Task struct {
	ID          int       `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Event       EventType `json:"event" yaml:"event"`
	Required    int       `json:"required" yaml:"required"`
	TargetID    string    `json:"target_id,omitempty" yaml:"target_id,omitempty"`
	Rewards     []Reward  `json:"rewards,omitempty" yaml:"rewards,omitempty"`
}

// Chain is an immutable task chain template. Tasks are kept sorted by ascending id.
type Chain struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	Tasks        []Task     `json:"tasks"`
	FinalRewards []Reward   `json:"final_rewards,omitempty"`
	Start        time.Time  `json:"start"`
	End          *time.Time `json:"end,omitempty"`
}

// Task returns the task with the given id.
func (c *Chain) Task(id int) (Task, bool) {
	for _, t := range c.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// First returns the lowest-id task.
func (c *Chain) First() (Task, bool) {
	if len(c.Tasks) == 0 {
		return Task{}, false
	}
	return c.Tasks[0], true
}

// Next returns the task following id in ascending order.
func (c *Chain) Next(id int) (Task, bool) {
	for i, t := range c.Tasks {
		if t.ID == id {
			if i+1 < len(c.Tasks) {
				return c.Tasks[i+1], true
			}
			return Task{}, false
		}
	}
	return Task{}, false
}

// Expired reports whether now is at or past the window end. Chains without an end never expire.
func (c *Chain) Expired(now time.Time) bool {
	if c.End == nil {
		return false
	}
	return !now.Before(*c.End)
}

func (c *Chain) normalize() {
	sort.SliceStable(c.Tasks, func(i, j int) bool { return c.Tasks[i].ID < c.Tasks[j].ID })
}

// Source resolves chain ids to templates. TaskChain activation goes through it.
type Source interface {
	Lookup(ctx context.Context, chainID string) (Chain, error)
}

// Catalog is the process-wide chain table. It is built once and never mutated.
type Catalog struct {
	byID    map[string]Chain
	aliases map[string]string
	now     func() time.Time
}

func newCatalog(now func() time.Time) *Catalog {
	if now == nil {
		now = time.Now
	}
	return &Catalog{byID: map[string]Chain{}, aliases: map[string]string{}, now: now}
}

func (c *Catalog) add(ch Chain) {
	ch.normalize()
	c.byID[ch.ID] = ch
}

// Lookup never fails: unknown ids resolve to the default single-task chain.
func (c *Catalog) Lookup(_ context.Context, chainID string) (Chain, error) {
	return c.Resolve(chainID), nil
}

// Canonical maps an alias to the chain id it names. Other ids come back as is.
func (c *Catalog) Canonical(chainID string) string {
	if _, ok := c.byID[chainID]; ok {
		return chainID
	}
	if a, ok := c.aliases[chainID]; ok {
		if _, ok := c.byID[a]; ok {
			return a
		}
	}
	return chainID
}

// Resolve returns the chain behind chainID. An alias resolves to its target,
// which keeps the target's id.
func (c *Catalog) Resolve(chainID string) Chain {
	if ch, ok := c.byID[c.Canonical(chainID)]; ok {
		return ch
	}
	return defaultChain(chainID, c.now())
}

// IDs lists the configured chain ids in sorted order.
func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.byID))
	for id := range c.byID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
