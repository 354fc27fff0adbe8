package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// TaskRow is the persisted shape of a row in tasks.
type TaskRow struct {
	ID          string
	WorkflowID  int
	ActiveStep  sql.NullString
	TaskStateID int
	Args        json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GetTask fetches a single tasks row.
func (s *Store) GetTask(ctx context.Context, uuid string) (*TaskRow, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var t TaskRow
	var args sql.NullString
	err = db.QueryRowContext(ctx,
		"SELECT id, workflow_id, active_step, task_state_id, args, created_at, updated_at FROM tasks WHERE id = ?", uuid).
		Scan(&t.ID, &t.WorkflowID, &t.ActiveStep, &t.TaskStateID, &args, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get task: %w", err)
	}
	if args.Valid {
		t.Args = json.RawMessage(args.String)
	}
	return &t, nil
}

// InsertTask creates a tasks row in state PENDING (1). Satisfies
// orchestrator.Store.
func (s *Store) InsertTask(ctx context.Context, uuid string, workflowID int) error {
	return s.InsertTaskWithArgs(ctx, uuid, workflowID, nil)
}

// InsertTaskWithArgs creates a tasks row, serializing args to JSON.
func (s *Store) InsertTaskWithArgs(ctx context.Context, uuid string, workflowID int, args map[string]any) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	var argsJSON []byte
	if args != nil {
		argsJSON, err = json.Marshal(args)
		if err != nil {
			return fmt.Errorf("store: marshal task args: %w", err)
		}
	}

	_, err = db.ExecContext(ctx,
		"INSERT INTO tasks(id, workflow_id, task_state_id, args) VALUES(?, ?, 1, ?)",
		uuid, workflowID, argsJSON)
	if err != nil {
		return fmt.Errorf("store: insert task: %w", err)
	}
	return nil
}

// DeleteTask removes a tasks row.
func (s *Store) DeleteTask(ctx context.Context, uuid string) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", uuid)
	if err != nil {
		return fmt.Errorf("store: delete task: %w", err)
	}
	return nil
}

// UpdateActiveStep persists the node id the task is currently on. Satisfies
// task.Store.
func (s *Store) UpdateActiveStep(ctx context.Context, taskUUID, nodeID string) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, "UPDATE tasks SET active_step = ?, updated_at = NOW() WHERE id = ?", nodeID, taskUUID)
	if err != nil {
		return fmt.Errorf("store: update active step: %w", err)
	}
	return nil
}

// Task state ids, mirroring the in-memory task.State enum ordering.
const (
	taskStatePending  = 1
	taskStateActive   = 2
	taskStateFinished = 3
	taskStateError    = 4
)

// SetTaskState persists a task lifecycle transition. FINISHED and ERROR
// clear active_step, matching the original's set_finished/set_error.
// Satisfies task.Store.
func (s *Store) SetTaskState(ctx context.Context, taskUUID string, state int) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	var query string
	switch state {
	case taskStateFinished, taskStateError:
		query = "UPDATE tasks SET task_state_id = ?, active_step = NULL, updated_at = NOW() WHERE id = ?"
	default:
		query = "UPDATE tasks SET task_state_id = ?, updated_at = NOW() WHERE id = ?"
	}

	if _, err := db.ExecContext(ctx, query, state, taskUUID); err != nil {
		return fmt.Errorf("store: set task state: %w", err)
	}
	return nil
}

// TasksStatisticsEntry is one row of the weekly task statistics queries.
type TasksStatisticsEntry struct {
	UUID                 string
	Workflow             string
	State                string
	CreatedAt            time.Time
	ExecutionTimeSeconds sql.NullInt64
}

func scanTasksStatistics(rows *sql.Rows) ([]TasksStatisticsEntry, error) {
	defer rows.Close()
	var out []TasksStatisticsEntry
	for rows.Next() {
		var e TasksStatisticsEntry
		if err := rows.Scan(&e.UUID, &e.Workflow, &e.State, &e.CreatedAt, &e.ExecutionTimeSeconds); err != nil {
			return nil, fmt.Errorf("store: scan task statistics entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const weeklyTaskStatsQuery = `
SELECT t.id AS uuid, w.name AS workflow, ts.name AS state, t.created_at,
    TIMESTAMPDIFF(SECOND, t.created_at, t.updated_at) AS execution_time_seconds
FROM tasks t
JOIN workflows w ON t.workflow_id = w.id
JOIN task_states ts ON t.task_state_id = ts.id
WHERE ts.name = 'FINISHED' AND YEAR(t.created_at) = YEAR(CURRENT_DATE()) AND WEEK(t.created_at) = WEEK(CURRENT_DATE())`

// TasksThisWeek lists finished tasks created during the current week, as
// numbered by MySQL's WEEK() in its default mode (not ISO weeks).
func (s *Store) TasksThisWeek(ctx context.Context) ([]TasksStatisticsEntry, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, weeklyTaskStatsQuery)
	if err != nil {
		return nil, fmt.Errorf("store: tasks this week: %w", err)
	}
	return scanTasksStatistics(rows)
}

// TasksLastWeek lists finished tasks created during the prior week of the
// current year, as numbered by MySQL's WEEK() in its default mode (not ISO
// weeks).
func (s *Store) TasksLastWeek(ctx context.Context) ([]TasksStatisticsEntry, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT t.id AS uuid, w.name AS workflow, ts.name AS state, t.created_at,
		    TIMESTAMPDIFF(SECOND, t.created_at, t.updated_at) AS execution_time_seconds
		FROM tasks t
		JOIN workflows w ON t.workflow_id = w.id
		JOIN task_states ts ON t.task_state_id = ts.id
		WHERE ts.name = 'FINISHED' AND YEAR(t.created_at) = YEAR(CURRENT_DATE()) AND WEEK(t.created_at) = WEEK(CURRENT_DATE()) - 1`)
	if err != nil {
		return nil, fmt.Errorf("store: tasks last week: %w", err)
	}
	return scanTasksStatistics(rows)
}

// WeekOverWeekDelta reports this week's vs last week's finished task counts
// and the percentage difference (nil when last week had zero tasks).
type WeekOverWeekDelta struct {
	ThisWeekCount        int
	LastWeekCount        int
	PercentageDifference sql.NullFloat64
}

// WeekOverWeekDelta computes the week-over-week finished task count change.
func (s *Store) WeekOverWeekDelta(ctx context.Context) (*WeekOverWeekDelta, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	row := db.QueryRowContext(ctx, `
		SELECT
		    IFNULL(this_week_task_count, 0) AS this_week_task_count,
		    IFNULL(last_week_task_count, 0) AS last_week_task_count,
		    CASE
		        WHEN last_week_task_count = 0 THEN NULL
		        ELSE ((this_week_task_count - last_week_task_count) / last_week_task_count) * 100
		    END AS percentage_difference
		FROM
		    (SELECT COUNT(*) AS this_week_task_count
		    FROM tasks
		    JOIN task_states ts ON task_state_id = ts.id
		    WHERE ts.name = 'FINISHED' AND YEAR(created_at) = YEAR(CURRENT_DATE())
		    AND WEEK(created_at) = WEEK(CURRENT_DATE())) AS this_week
		LEFT JOIN
		    (SELECT COUNT(*) AS last_week_task_count
		    FROM tasks
		    JOIN task_states ts ON task_state_id = ts.id
		    WHERE ts.name = 'FINISHED' AND YEAR(created_at) = YEAR(CURRENT_DATE())
		    AND WEEK(created_at) = WEEK(CURRENT_DATE()) - 1) AS last_week ON 1 = 1`)

	var d WeekOverWeekDelta
	if err := row.Scan(&d.ThisWeekCount, &d.LastWeekCount, &d.PercentageDifference); err != nil {
		return nil, fmt.Errorf("store: week over week delta: %w", err)
	}
	return &d, nil
}
