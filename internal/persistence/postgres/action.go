package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/loomcloud/loom/internal/core"
	"github.com/loomcloud/loom/internal/persistence"
)

const actionColumns = `
	id, COALESCE(agent_id, ''), kind, config_json, schedule_kind,
	COALESCE(cron_expression, ''), interval_s, run_at,
	COALESCE(event_name, ''), status, next_run_at, timeout_s,
	max_retries, retry_delay_s, allow_concurrent, execution_count,
	COALESCE(last_run_status, '')`

func (s *Store) ListDueActions(ctx context.Context, now time.Time) ([]*core.ScheduledAction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+actionColumns+`
		FROM scheduled_actions
		WHERE status = 'active'
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= $1
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due actions: %w", err)
	}
	defer rows.Close()

	var actions []*core.ScheduledAction
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

func (s *Store) GetAction(ctx context.Context, id int64) (*core.ScheduledAction, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+actionColumns+`
		FROM scheduled_actions
		WHERE id = $1`, id)
	action, err := scanAction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrActionNotFound
		}
		return nil, err
	}
	return action, nil
}

func (s *Store) AdvanceAction(ctx context.Context, id int64, next *time.Time, expire bool, lastRunStatus core.ActionRunStatus) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_actions
		SET execution_count = execution_count + 1,
		    last_run_status = $2,
		    next_run_at = $3,
		    status = CASE WHEN $4 THEN 'expired' ELSE status END
		WHERE id = $1`,
		id, lastRunStatus.String(), next, expire,
	)
	if err != nil {
		return fmt.Errorf("failed to advance action %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrActionNotFound
	}
	return nil
}

func (s *Store) SetNextRun(ctx context.Context, id int64, next *time.Time, expire bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_actions
		SET next_run_at = $2,
		    status = CASE WHEN $3 THEN 'expired' ELSE status END
		WHERE id = $1`,
		id, next, expire,
	)
	if err != nil {
		return fmt.Errorf("failed to set next run for action %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrActionNotFound
	}
	return nil
}

func (s *Store) InsertActionRun(ctx context.Context, run *core.ScheduledActionRun) (int64, error) {
	var startedAt *time.Time
	if !run.StartedAt.IsZero() {
		startedAt = &run.StartedAt
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO scheduled_action_runs (
			action_id, triggered_at, triggered_by, status, started_at, retry_count
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		run.ActionID, run.TriggeredAt, run.TriggeredBy.String(),
		run.Status.String(), startedAt, run.RetryCount,
	).Scan(&run.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Another instance already claimed this dispatch window.
			return 0, persistence.ErrDuplicateActionRun
		}
		return 0, fmt.Errorf("failed to insert action run for %d: %w", run.ActionID, err)
	}
	return run.ID, nil
}

func (s *Store) FinishActionRun(ctx context.Context, id int64, status core.ActionRunStatus, errMsg string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE scheduled_action_runs
		SET status = $2,
		    error = NULLIF($3, ''),
		    completed_at = NOW()
		WHERE id = $1`,
		id, status.String(), errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to finish action run %d: %w", id, err)
	}
	return nil
}

func (s *Store) ExistsActionRunSince(ctx context.Context, actionID int64, since time.Time, statuses ...core.ActionRunStatus) (bool, error) {
	tokens := make([]string, len(statuses))
	for i, status := range statuses {
		tokens[i] = status.String()
	}
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM scheduled_action_runs
			WHERE action_id = $1
			  AND triggered_at >= $2
			  AND status = ANY($3)
		)`, actionID, since, tokens).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query action runs for %d: %w", actionID, err)
	}
	return exists, nil
}

func scanAction(row rowScanner) (*core.ScheduledAction, error) {
	var (
		action       core.ScheduledAction
		kind         string
		config       []byte
		scheduleKind string
		intervalS    *float64
		status       string
		timeoutS     *float64
		retryDelayS  float64
	)
	err := row.Scan(&action.ID, &action.AgentID, &kind, &config, &scheduleKind,
		&action.CronExpression, &intervalS, &action.RunAt, &action.EventName,
		&status, &action.NextRunAt, &timeoutS, &action.MaxRetries,
		&retryDelayS, &action.AllowConcurrent, &action.ExecutionCount,
		&action.LastRunStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan scheduled action: %w", err)
	}
	if action.Kind, err = core.ParseActionKind(kind); err != nil {
		return nil, fmt.Errorf("action %d: %w", action.ID, err)
	}
	if action.ScheduleKind, err = core.ParseScheduleKind(scheduleKind); err != nil {
		return nil, fmt.Errorf("action %d: %w", action.ID, err)
	}
	if action.Status, err = core.ParseActionStatus(status); err != nil {
		return nil, fmt.Errorf("action %d: %w", action.ID, err)
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &action.Config); err != nil {
			return nil, fmt.Errorf("failed to decode config for action %d: %w", action.ID, err)
		}
	}
	if intervalS != nil {
		action.Interval = secondsToDuration(*intervalS)
	}
	if timeoutS != nil {
		action.Timeout = secondsToDuration(*timeoutS)
	}
	action.RetryDelay = secondsToDuration(retryDelayS)
	return &action, nil
}
