package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flemzord/toolhost/internal/hook"
)

// timeLayout matches the strftime format of the schema defaults so rows
// compare as text.
const timeLayout = "2006-01-02T15:04:05.000Z"

// CallRecord is one completed tool call.
type CallRecord struct {
	CallID     string
	RequestID  string
	SessionID  string
	ToolID     string
	Source     string
	Outcome    string
	Error      string
	Duration   time.Duration
	FinishedAt time.Time
}

// History records completed tool calls.
type History struct {
	db        *sql.DB
	now       func() time.Time
	retention time.Duration
}

// Record inserts or replaces the record of a call.
func (h *History) Record(ctx context.Context, rec CallRecord) error {
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = h.now()
	}
	_, err := h.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tool_calls
			(call_id, request_id, session_id, tool_id, source, outcome, error, duration_ms, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CallID, rec.RequestID, rec.SessionID, rec.ToolID, rec.Source,
		rec.Outcome, rec.Error, rec.Duration.Milliseconds(),
		rec.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record call %s: %w", rec.CallID, err)
	}
	return nil
}

// Session returns the calls of a chat session, oldest first.
func (h *History) Session(ctx context.Context, sessionID string) ([]CallRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT call_id, request_id, session_id, tool_id, source, outcome, error, duration_ms, finished_at
		FROM tool_calls
		WHERE session_id = ?
		ORDER BY finished_at, call_id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []CallRecord
	for rows.Next() {
		var (
			rec        CallRecord
			durationMS int64
			finishedAt string
		)
		if err := rows.Scan(&rec.CallID, &rec.RequestID, &rec.SessionID, &rec.ToolID, &rec.Source,
			&rec.Outcome, &rec.Error, &durationMS, &finishedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan call: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		if t, err := time.Parse(timeLayout, finishedAt); err == nil {
			rec.FinishedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes calls finished before now minus maxAge and returns how
// many were removed.
func (h *History) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := h.now().Add(-maxAge).UTC().Format(timeLayout)
	res, err := h.db.ExecContext(ctx, "DELETE FROM tool_calls WHERE finished_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune history: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneExpired deletes calls older than the configured retention.
func (h *History) PruneExpired(ctx context.Context) (int, error) {
	return h.Prune(ctx, h.retention)
}

// historyHook feeds completed calls into History.
type historyHook struct {
	history *History
}

var _ hook.Hook = (*historyHook)(nil)

func (h *historyHook) Position() hook.Position { return hook.AfterComplete }

// Priority runs before the audit hook.
func (h *historyHook) Priority() int { return 100 }

func (h *historyHook) Execute(ctx context.Context, hctx *hook.Context) (hook.Action, error) {
	rec := CallRecord{
		CallID:    hctx.Call.CallID,
		RequestID: hctx.Call.ChatRequestID,
		ToolID:    hctx.Tool.ID,
		Source:    hctx.Tool.Source.String(),
		Outcome:   hctx.Outcome,
		Duration:  hctx.Duration,
	}
	if hctx.Call.Context != nil {
		rec.SessionID = hctx.Call.Context.SessionID
	}
	if hctx.Err != nil {
		rec.Error = hctx.Err.Error()
	}
	return hook.ActionContinue, h.history.Record(context.WithoutCancel(ctx), rec)
}
