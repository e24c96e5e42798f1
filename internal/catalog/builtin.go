package catalog

import (
	"fmt"
	"time"
)

const day = 24 * time.Hour

// Builtin returns the catalog compiled into the binary. Validity windows are anchored to now().
func Builtin(now func() time.Time) *Catalog {
	c := newCatalog(now)
	t := c.now()
	c.add(newbieChain(t))
	c.add(chatMasterChain(t))
	c.add(socialButterflyChain(t))
	c.aliases["newbie"] = "newbie-chain"
	c.aliases["chat-master"] = "chat-master-chain"
	c.aliases["social-butterfly"] = "social-butterfly-chain"
	return c
}

func endAt(t time.Time) *time.Time { return &t }

func newbieChain(now time.Time) Chain {
	return Chain{
		ID:          "newbie-chain",
		Name:        "Newcomer Pack",
		Description: "Finish the newcomer walkthrough for a generous bundle of rewards.",
		Start:       now.Add(-30 * day),
		End:         endAt(now.Add(30 * day)),
		Tasks: []Task{
			{
				ID:          1,
				Name:        "Join your first chat room",
				Description: "Join any chat room to start socialising",
				Event:       JoinChatRoom,
				Required:    1,
				Rewards: []Reward{
					{Kind: RewardGold, Amount: 100, Description: "Newcomer gold"},
					{Kind: RewardExp, Amount: 50, Description: "Experience"},
				},
			},
			{
				ID:          2,
				Name:        "Send 10 messages",
				Description: "Send 10 messages in chat rooms",
				Event:       SendMessages,
				Required:    10,
				Rewards: []Reward{
					{Kind: RewardGold, Amount: 200, Description: "Activity bonus"},
					{Kind: RewardTitle, Title: "Chatterbox", Description: "Chat enthusiast title"},
				},
			},
			{
				ID:          3,
				Name:        "Reach level 5",
				Description: "Raise your character to level 5",
				Event:       ReachLevel,
				Required:    5,
				Rewards: []Reward{
					{Kind: RewardGold, Amount: 500, Description: "Level bonus"},
					{Kind: RewardItem, ItemID: "SuperChatBadge", Amount: 1, Description: "Super chat badge"},
				},
			},
		},
		FinalRewards: []Reward{
			{Kind: RewardGold, Amount: 1000, Description: "Chain completion bonus"},
			{Kind: RewardItem, ItemID: "NewbieGraduateCertificate", Amount: 1, Description: "Newcomer graduation certificate"},
			{Kind: RewardTitle, Title: "Rising Star", Description: "Title for newcomer graduates"},
		},
	}
}

func chatMasterChain(now time.Time) Chain {
	return Chain{
		ID:          "chat-master-chain",
		Name:        "Chat Master Challenge",
		Description: "Become a true chat master.",
		Start:       now.Add(-7 * day),
		End:         endAt(now.Add(7 * day)),
		Tasks: []Task{
			{
				ID:          1,
				Name:        "Join 3 chat rooms",
				Description: "Get a feel for different rooms",
				Event:       JoinChatRoom,
				Required:    3,
				Rewards: []Reward{
					{Kind: RewardGold, Amount: 300, Description: "Explorer bonus"},
				},
			},
			{
				ID:          2,
				Name:        "Send 100 messages",
				Description: "Send 100 meaningful messages",
				Event:       SendMessages,
				Required:    100,
				Rewards: []Reward{
					{Kind: RewardGold, Amount: 1000, Description: "Activity master bonus"},
					{Kind: RewardTitle, Title: "Chat Expert", Description: "Chat master title"},
				},
			},
		},
		FinalRewards: []Reward{
			{Kind: RewardGold, Amount: 2000, Description: "Chat master bonus"},
			{Kind: RewardTitle, Title: "Chat Master", Description: "Exclusive chat master title"},
		},
	}
}

func socialButterflyChain(now time.Time) Chain {
	return Chain{
		ID:          "social-butterfly-chain",
		Name:        "Social Butterfly",
		Description: "Flutter between chat rooms.",
		Start:       now,
		End:         endAt(now.Add(14 * day)),
		Tasks: []Task{
			{
				ID:          1,
				Name:        "Join 5 chat rooms",
				Description: "Become a member of 5 different rooms",
				Event:       JoinChatRoom,
				Required:    5,
				Rewards: []Reward{
					{Kind: RewardGold, Amount: 500, Description: "Social bonus"},
				},
			},
			{
				ID:          2,
				Name:        "Reach level 10",
				Description: "Raise your character to level 10",
				Event:       ReachLevel,
				Required:    10,
				Rewards: []Reward{
					{Kind: RewardGold, Amount: 1500, Description: "Level achievement bonus"},
				},
			},
		},
		FinalRewards: []Reward{
			{Kind: RewardGold, Amount: 3000, Description: "Social butterfly bonus"},
			{Kind: RewardTitle, Title: "Social Butterfly", Description: "Exclusive social title"},
		},
	}
}

// defaultChain is the template for ids the catalog does not know.
func defaultChain(chainID string, now time.Time) Chain {
	return Chain{
		ID:          chainID,
		Name:        fmt.Sprintf("Custom chain - %s", chainID),
		Description: "Example task chain",
		Start:       now,
		Tasks: []Task{
			{
				ID:          1,
				Name:        "Example task",
				Description: "Send one message",
				Event:       SendMessages,
				Required:    1,
				Rewards: []Reward{
					{Kind: RewardGold, Amount: 100, Description: "Example reward"},
				},
			},
		},
		FinalRewards: []Reward{
			{Kind: RewardGold, Amount: 500, Description: "Completion reward"},
		},
	}
}
