package store

import (
	"context"
	"fmt"
	"time"
)

// InsertNodeCallRecord records one node invocation outcome. Satisfies
// node.CallRecorder.
func (s *Store) InsertNodeCallRecord(ctx context.Context, nodeID, endpoint, message string, duration time.Duration, outcome string) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx,
		"INSERT INTO node_call_records(node_id, endpoint, message, duration, outcome) VALUES (?, ?, ?, ?, ?)",
		nodeID, endpoint, message, duration.Seconds(), outcome)
	if err != nil {
		return fmt.Errorf("store: insert node call record: %w", err)
	}
	return nil
}

// InsertExecutionRecord persists one execution_logs row: the span labeled
// "w. acc." for gate-wait time, or the node's own id for the run itself.
// Satisfies node.CallRecorder.
func (s *Store) InsertExecutionRecord(ctx context.Context, taskID string, workflowID int, label string, start, end time.Time) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx,
		"INSERT INTO execution_logs(task_id, workflow_id, name, start, end) VALUES (?, ?, ?, ?, ?)",
		taskID, workflowID, label, start, end)
	if err != nil {
		return fmt.Errorf("store: insert execution record: %w", err)
	}
	return nil
}

// ExecutionLogRow is one row read back from execution_logs.
type ExecutionLogRow struct {
	ID         int
	TaskID     string
	WorkflowID int
	Name       string
	Start      time.Time
	End        time.Time
}

// ExecutionLogs returns every execution_logs row from the trailing 8 hours.
func (s *Store) ExecutionLogs(ctx context.Context) ([]ExecutionLogRow, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		"SELECT id, task_id, workflow_id, name, start, end FROM execution_logs WHERE start >= DATE_SUB(NOW(), INTERVAL 8 HOUR)")
	if err != nil {
		return nil, fmt.Errorf("store: execution logs: %w", err)
	}
	defer rows.Close()

	var out []ExecutionLogRow
	for rows.Next() {
		var r ExecutionLogRow
		if err := rows.Scan(&r.ID, &r.TaskID, &r.WorkflowID, &r.Name, &r.Start, &r.End); err != nil {
			return nil, fmt.Errorf("store: scan execution log: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
