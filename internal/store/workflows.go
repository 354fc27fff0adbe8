package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// WorkflowRow is the persisted shape of a row in workflows.
type WorkflowRow struct {
	ID                int
	Name              string
	SourceNodeID      string
	DestinationNodeID string
	Args              json.RawMessage
}

// WorkflowExists matches the original's LIKE-based existence check.
func (s *Store) WorkflowExists(ctx context.Context, name string) (bool, error) {
	db, err := s.open()
	if err != nil {
		return false, err
	}
	defer db.Close()

	var found int
	err = db.QueryRowContext(ctx, "SELECT id FROM workflows WHERE name LIKE ?", name).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: workflow exists: %w", err)
	}
	return true, nil
}

// InsertWorkflow creates a workflows row and returns its generated id.
func (s *Store) InsertWorkflow(ctx context.Context, name, sourceNodeID, destinationNodeID string, args json.RawMessage) (int, error) {
	db, err := s.open()
	if err != nil {
		return 0, err
	}
	defer db.Close()

	res, err := db.ExecContext(ctx,
		"INSERT INTO workflows(name, source_node_id, destination_node_id, args) VALUES(?, ?, ?, ?)",
		name, sourceNodeID, destinationNodeID, args)
	if err != nil {
		return 0, fmt.Errorf("store: insert workflow: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert workflow: last insert id: %w", err)
	}
	return int(id), nil
}

// GetAllWorkflows lists every workflows row.
func (s *Store) GetAllWorkflows(ctx context.Context) ([]WorkflowRow, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SELECT id, name, source_node_id, destination_node_id, args FROM workflows")
	if err != nil {
		return nil, fmt.Errorf("store: get all workflows: %w", err)
	}
	defer rows.Close()

	var out []WorkflowRow
	for rows.Next() {
		var w WorkflowRow
		var args sql.NullString
		if err := rows.Scan(&w.ID, &w.Name, &w.SourceNodeID, &w.DestinationNodeID, &args); err != nil {
			return nil, fmt.Errorf("store: scan workflow: %w", err)
		}
		if args.Valid {
			w.Args = json.RawMessage(args.String)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// GetWorkflowByName fetches a single workflows row.
func (s *Store) GetWorkflowByName(ctx context.Context, name string) (*WorkflowRow, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var w WorkflowRow
	var args sql.NullString
	err = db.QueryRowContext(ctx, "SELECT id, name, source_node_id, destination_node_id, args FROM workflows WHERE name LIKE ?", name).
		Scan(&w.ID, &w.Name, &w.SourceNodeID, &w.DestinationNodeID, &args)
	if err != nil {
		return nil, fmt.Errorf("store: get workflow by name: %w", err)
	}
	if args.Valid {
		w.Args = json.RawMessage(args.String)
	}
	return &w, nil
}

// StepExists guards against duplicate (workflow, node, position) rows.
func (s *Store) StepExists(ctx context.Context, workflowID int, nodeID string, position int) (bool, error) {
	db, err := s.open()
	if err != nil {
		return false, err
	}
	defer db.Close()

	var found int
	err = db.QueryRowContext(ctx, "SELECT id FROM steps WHERE workflow_id=? AND node_id=? AND position=?", workflowID, nodeID, position).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: step exists: %w", err)
	}
	return true, nil
}

// InsertStep registers one workflow position, no-op if already present.
func (s *Store) InsertStep(ctx context.Context, workflowID int, nodeID string, position int) error {
	exists, err := s.StepExists(ctx, workflowID, nodeID, position)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, "INSERT INTO steps(node_id, workflow_id, position) VALUES (?, ?, ?)", nodeID, workflowID, position)
	if err != nil {
		return fmt.Errorf("store: insert step: %w", err)
	}
	return nil
}

// StepRow is one row read back by GetStepsForWorkflow.
type StepRow struct {
	Position int
	NodeName string
}

// GetStepsForWorkflow lists a workflow's steps in position order, joined to
// their node names.
func (s *Store) GetStepsForWorkflow(ctx context.Context, workflowID int) ([]StepRow, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		"SELECT steps.position, n.name FROM steps JOIN nodes n ON n.id = steps.node_id WHERE steps.workflow_id = ? ORDER BY steps.position",
		workflowID)
	if err != nil {
		return nil, fmt.Errorf("store: get steps for workflow: %w", err)
	}
	defer rows.Close()

	var out []StepRow
	for rows.Next() {
		var r StepRow
		if err := rows.Scan(&r.Position, &r.NodeName); err != nil {
			return nil, fmt.Errorf("store: scan step: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertWorkflowUsageRecord logs one task submission against a workflow.
func (s *Store) InsertWorkflowUsageRecord(ctx context.Context, workflowID int) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, "INSERT INTO workflow_usage_records(workflow_id) VALUES (?)", workflowID)
	if err != nil {
		return fmt.Errorf("store: insert workflow usage record: %w", err)
	}
	return nil
}

// WorkflowUsageStat is one row of per-workflow submission counts.
type WorkflowUsageStat struct {
	WorkflowID int
	Name       string
	UsageCount int
}

// WorkflowUsageStatistics reports submission counts per workflow, including
// workflows with zero usage.
func (s *Store) WorkflowUsageStatistics(ctx context.Context) ([]WorkflowUsageStat, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT w.id, w.name, COUNT(u.id) AS usage_count
		FROM workflows w
		LEFT JOIN workflow_usage_records u ON w.id = u.workflow_id
		GROUP BY w.id, w.name
	`)
	if err != nil {
		return nil, fmt.Errorf("store: workflow usage statistics: %w", err)
	}
	defer rows.Close()

	var out []WorkflowUsageStat
	for rows.Next() {
		var r WorkflowUsageStat
		if err := rows.Scan(&r.WorkflowID, &r.Name, &r.UsageCount); err != nil {
			return nil, fmt.Errorf("store: scan workflow usage statistic: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
