package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionPruner is the subset of chat.MemoryService needed by cron jobs.
type SessionPruner interface {
	Prune(maxIdle time.Duration) int
}

// GrantSweeper is the subset of approval.SessionGrants needed by cron jobs.
type GrantSweeper interface {
	Sweep() int
}

// SessionPruneJob removes chat sessions idle longer than MaxIdle.
type SessionPruneJob struct {
	Sessions     SessionPruner
	MaxIdle      time.Duration
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/5 * * * *"
}

// Name implements Job.
func (j *SessionPruneJob) Name() string { return "chat_session_prune" }

// Schedule implements Job.
func (j *SessionPruneJob) Schedule() string { return orDefault(j.ScheduleExpr, "*/5 * * * *") }

// Run prunes sessions idle longer than MaxIdle.
func (j *SessionPruneJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: session prune cancelled: %w", ctx.Err())
	}
	if pruned := j.Sessions.Prune(j.MaxIdle); pruned > 0 {
		j.Logger.Info("cron: pruned idle chat sessions", "count", pruned)
	}
	return nil
}

// GrantSweepJob drops expired per-session tool approvals.
type GrantSweepJob struct {
	Grants       GrantSweeper
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/10 * * * *"
}

// Name implements Job.
func (j *GrantSweepJob) Name() string { return "approval_grant_sweep" }

// Schedule implements Job.
func (j *GrantSweepJob) Schedule() string { return orDefault(j.ScheduleExpr, "*/10 * * * *") }

// Run removes expired grants.
func (j *GrantSweepJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: grant sweep cancelled: %w", ctx.Err())
	}
	if n := j.Grants.Sweep(); n > 0 {
		j.Logger.Debug("cron: swept expired approval grants", "count", n)
	}
	return nil
}

// HistoryPruner is the subset of the tool call history needed by cron jobs.
type HistoryPruner interface {
	PruneExpired(ctx context.Context) (int, error)
}

// HistoryPruneJob deletes tool call history past its retention.
type HistoryPruneJob struct {
	History      HistoryPruner
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "17 * * * *"
}

// Name implements Job.
func (j *HistoryPruneJob) Name() string { return "tool_history_prune" }

// Schedule implements Job.
func (j *HistoryPruneJob) Schedule() string { return orDefault(j.ScheduleExpr, "17 * * * *") }

// Run deletes expired history rows.
func (j *HistoryPruneJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: history prune cancelled: %w", ctx.Err())
	}
	n, err := j.History.PruneExpired(ctx)
	if err != nil {
		return fmt.Errorf("cron: history prune: %w", err)
	}
	if n > 0 {
		j.Logger.Info("cron: pruned tool call history", "count", n)
	}
	return nil
}

func orDefault(expr, def string) string {
	if expr == "" {
		return def
	}
	return expr
}

var (
	_ Job = (*SessionPruneJob)(nil)
	_ Job = (*GrantSweepJob)(nil)
	_ Job = (*HistoryPruneJob)(nil)
)
