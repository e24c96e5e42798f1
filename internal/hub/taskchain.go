package hub

import (
	"context"
	"fmt"
	"sort"
	"time"

	"roomquest.ai/internal/catalog"
	"roomquest.ai/internal/persistence/journal"
)

// Result codes for rejected progress.
const (
	CodeChainCompleted = "chain_completed"
	CodeTaskNotFound   = "task_not_found"
	CodeTypeMismatch   = "type_mismatch"
	CodeTargetMismatch = "target_mismatch"
	CodeNotCurrentTask = "not_current_task"
	CodeInvalidCount   = "invalid_count"
)

// Result is the outcome of a progress event. Validation failures are results
// with Success false and a Code, never errors.
type Result struct {
	Success        bool             `json:"success"`
	Code           string           `json:"code,omitempty"`
	Message        string           `json:"message"`
	EarnedRewards  []catalog.Reward `json:"earned_rewards,omitempty"`
	ChainCompleted bool             `json:"chain_completed,omitempty"`
	NextTask       *catalog.Task    `json:"next_task,omitempty"`
}

func reject(code, format string, args ...any) Result {
	return Result{Code: code, Message: fmt.Sprintf(format, args...)}
}

// TaskProgress is one player's position in one chain.
type TaskProgress struct {
	PlayerID        string     `json:"player_id"`
	ChainID         string     `json:"chain_id"`
	CurrentTaskID   int        `json:"current_task_id"`
	CurrentProgress int        `json:"current_progress"`
	CompletedTasks  []int      `json:"completed_tasks"`
	ChainCompleted  bool       `json:"chain_completed"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func (p *TaskProgress) clone() TaskProgress {
	out := *p
	out.CompletedTasks = append([]int{}, p.CompletedTasks...)
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// RewardSink receives what task chains grant to players. Grant applies all of
// rewards or none of them.
type RewardSink interface {
	Grant(ctx context.Context, playerID string, rewards []catalog.Reward) error
	ChainCompleted(ctx context.Context, playerID, chainID string) error
}

// TaskChain tracks per-player progress through one immutable chain definition.
type TaskChain struct {
	c        *Cluster
	def      catalog.Chain
	progress map[string]*TaskProgress
}

func (c *Cluster) activateChain(ctx context.Context, key string) (any, error) {
	def, err := c.chains.Lookup(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load chain definition: %w", err)
	}
	c.log.Printf("chain %s activated: %q with %d tasks", key, def.Name, len(def.Tasks))
	return &TaskChain{c: c, def: def, progress: map[string]*TaskProgress{}}, nil
}

func (tc *TaskChain) record(playerID string) *TaskProgress {
	if p, ok := tc.progress[playerID]; ok {
		return p
	}
	p := &TaskProgress{
		PlayerID:       playerID,
		ChainID:        tc.def.ID,
		CompletedTasks: []int{},
		StartedAt:      tc.c.now(),
	}
	if first, ok := tc.def.First(); ok {
		p.CurrentTaskID = first.ID
	}
	tc.progress[playerID] = p
	tc.c.log.Printf("chain %s: new progress for player %s", tc.def.ID, playerID)
	return p
}

// updateProgress never lowers the counter: a negative count is rejected.
func (tc *TaskChain) updateProgress(ctx context.Context, playerID string, ev catalog.EventType, targetID string, count int) (Result, error) {
	if count < 0 {
		return reject(CodeInvalidCount, "progress count must not be negative, got %d", count), nil
	}
	p := tc.record(playerID)
	if p.ChainCompleted {
		return reject(CodeChainCompleted, "task chain already completed"), nil
	}
	task, ok := tc.def.Task(p.CurrentTaskID)
	if !ok {
		return reject(CodeTaskNotFound, "current task not found"), nil
	}
	if task.Event != ev {
		return reject(CodeTypeMismatch, "task type mismatch, expected %s, got %s", task.Event, ev), nil
	}
	if task.TargetID != "" && task.TargetID != targetID {
		return reject(CodeTargetMismatch, "target mismatch, expected %s, got %s", task.TargetID, targetID), nil
	}

	prev := p.CurrentProgress
	p.CurrentProgress += count
	tc.c.log.Printf("chain %s: player %s task %d progress %d/%d", tc.def.ID, playerID, task.ID, p.CurrentProgress, task.Required)
	if p.CurrentProgress >= task.Required {
		res, err := tc.completeCurrent(ctx, p, task)
		if err != nil {
			p.CurrentProgress = prev
		}
		return res, err
	}
	return Result{Success: true, Message: fmt.Sprintf("progress updated (%d/%d)", p.CurrentProgress, task.Required)}, nil
}

func (tc *TaskChain) completeTask(ctx context.Context, playerID string, taskID int) (Result, error) {
	p := tc.record(playerID)
	if p.ChainCompleted {
		return reject(CodeChainCompleted, "task chain already completed"), nil
	}
	if p.CurrentTaskID != taskID {
		return reject(CodeNotCurrentTask, "cannot complete task %d, current task is %d", taskID, p.CurrentTaskID), nil
	}
	task, ok := tc.def.Task(taskID)
	if !ok {
		return reject(CodeTaskNotFound, "task %d not found", taskID), nil
	}
	prev := p.CurrentProgress
	p.CurrentProgress = task.Required
	res, err := tc.completeCurrent(ctx, p, task)
	if err != nil {
		p.CurrentProgress = prev
	}
	return res, err
}

// completeCurrent grants the task rewards before touching the record, so a
// failed grant leaves the task current and nothing recorded.
func (tc *TaskChain) completeCurrent(ctx context.Context, p *TaskProgress, task catalog.Task) (Result, error) {
	if err := tc.grant(ctx, p.PlayerID, task.Rewards); err != nil {
		return Result{}, err
	}
	p.CompletedTasks = append(p.CompletedTasks, task.ID)
	tc.audit(journal.Entry{Actor: p.PlayerID, Action: journal.ActionTaskCompleted, Task: task.ID, Rewards: task.Rewards, Message: task.Name})
	tc.c.log.Printf("chain %s: player %s completed task %d %q", tc.def.ID, p.PlayerID, task.ID, task.Name)

	if next, ok := tc.def.Next(task.ID); ok {
		p.CurrentTaskID = next.ID
		p.CurrentProgress = 0
		return Result{
			Success:       true,
			Message:       fmt.Sprintf("task '%s' completed! next task: '%s'", task.Name, next.Name),
			EarnedRewards: task.Rewards,
			NextTask:      &next,
		}, nil
	}

	now := tc.c.now()
	p.ChainCompleted = true
	p.CompletedAt = &now
	tc.audit(journal.Entry{Actor: p.PlayerID, Action: journal.ActionChainCompleted})
	if err := tc.c.rewards.ChainCompleted(ctx, p.PlayerID, tc.def.ID); err != nil {
		tc.c.log.Printf("chain %s: notify %s of completion: %v", tc.def.ID, p.PlayerID, err)
	}
	return Result{
		Success:        true,
		Message:        fmt.Sprintf("congratulations! chain '%s' completed!", tc.def.Name),
		EarnedRewards:  task.Rewards,
		ChainCompleted: true,
	}, nil
}

// claimFinalRewards grants the final rewards of a completed chain. No claimed
// flag is kept: every call on a completed record grants again.
func (tc *TaskChain) claimFinalRewards(ctx context.Context, playerID string) ([]catalog.Reward, error) {
	p := tc.record(playerID)
	if !p.ChainCompleted {
		tc.c.log.Printf("chain %s: player %s claimed final rewards before completion", tc.def.ID, playerID)
		return []catalog.Reward{}, nil
	}
	if err := tc.grant(ctx, playerID, tc.def.FinalRewards); err != nil {
		return nil, err
	}
	tc.audit(journal.Entry{Actor: playerID, Action: journal.ActionRewardsClaimed, Rewards: tc.def.FinalRewards})
	tc.c.log.Printf("chain %s: player %s claimed final rewards", tc.def.ID, playerID)
	return append([]catalog.Reward{}, tc.def.FinalRewards...), nil
}

func (tc *TaskChain) resetPlayerProgress(playerID string) bool {
	if _, ok := tc.progress[playerID]; !ok {
		return false
	}
	delete(tc.progress, playerID)
	tc.audit(journal.Entry{Actor: playerID, Action: journal.ActionProgressReset})
	tc.c.log.Printf("chain %s: reset progress of player %s", tc.def.ID, playerID)
	return true
}

func (tc *TaskChain) allPlayersProgress() map[string]TaskProgress {
	out := make(map[string]TaskProgress, len(tc.progress))
	for id, p := range tc.progress {
		out[id] = p.clone()
	}
	return out
}

// isExpired is informational; progress is accepted after the window closes.
func (tc *TaskChain) isExpired() bool { return tc.def.Expired(tc.c.now()) }

func (tc *TaskChain) grant(ctx context.Context, playerID string, rewards []catalog.Reward) error {
	if len(rewards) == 0 {
		return nil
	}
	if err := tc.c.rewards.Grant(ctx, playerID, rewards); err != nil {
		return fmt.Errorf("chain %s: grant %d rewards to %s: %w", tc.def.ID, len(rewards), playerID, err)
	}
	return nil
}

func (tc *TaskChain) audit(e journal.Entry) {
	if tc.c.audit == nil {
		return
	}
	e.Time = tc.c.now().UTC()
	e.Chain = tc.def.ID
	if err := tc.c.audit.WriteAudit(e); err != nil {
		tc.c.log.Printf("chain %s: audit: %v", tc.def.ID, err)
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
