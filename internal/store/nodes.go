package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// NodeRow is the persisted shape of a row in nodes.
type NodeRow struct {
	ID              string
	Name            string
	NodeStateID     int
	Static          bool
	Critical        bool
	SourceNode      sql.NullString
	DestinationNode sql.NullString
	UpdatedAt       time.Time
}

// NodeExists reports whether a node with the given id is already registered.
func (s *Store) NodeExists(ctx context.Context, id string) (bool, error) {
	db, err := s.open()
	if err != nil {
		return false, err
	}
	defer db.Close()

	var found string
	err = db.QueryRowContext(ctx, "SELECT id FROM nodes WHERE id = ?", id).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: node exists: %w", err)
	}
	return true, nil
}

// InsertNode registers a node row, no-op if it already exists.
func (s *Store) InsertNode(ctx context.Context, id, name string, static, critical bool, sourceNode, destinationNode *string) error {
	exists, err := s.NodeExists(ctx, id)
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

	_, err = db.ExecContext(ctx,
		"INSERT INTO nodes(id, name, node_state_id, static, critical, source_node, destination_node) VALUES(?, ?, 1, ?, ?, ?, ?)",
		id, name, static, critical, sourceNode, destinationNode)
	if err != nil {
		return fmt.Errorf("store: insert node: %w", err)
	}
	return nil
}

// GetNodeByName fetches a single node row.
func (s *Store) GetNodeByName(ctx context.Context, name string) (*NodeRow, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	row := db.QueryRowContext(ctx, "SELECT id, name, node_state_id, static, critical, source_node, destination_node, updated_at FROM nodes WHERE name = ?", name)
	var n NodeRow
	if err := row.Scan(&n.ID, &n.Name, &n.NodeStateID, &n.Static, &n.Critical, &n.SourceNode, &n.DestinationNode, &n.UpdatedAt); err != nil {
		return nil, fmt.Errorf("store: get node by name: %w", err)
	}
	return &n, nil
}

// UpdateNodeState persists a node's in-memory state transition. Satisfies
// node.CallRecorder's UpdateNodeState method.
func (s *Store) UpdateNodeState(ctx context.Context, nodeID string, state int) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, "UPDATE nodes SET node_state_id = ?, updated_at = NOW() WHERE id = ?", state, nodeID)
	if err != nil {
		return fmt.Errorf("store: update node state: %w", err)
	}
	return nil
}

// NodePropertyExists reports whether the exact (node, name, value) triple
// has already been recorded, matching the original's dedup-on-insert guard.
func (s *Store) NodePropertyExists(ctx context.Context, nodeID, name, value string) (bool, error) {
	db, err := s.open()
	if err != nil {
		return false, err
	}
	defer db.Close()

	var found int
	err = db.QueryRowContext(ctx, "SELECT id FROM node_properties WHERE node_id = ? AND name = ? AND value = ?", nodeID, name, value).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: node property exists: %w", err)
	}
	return true, nil
}

// SaveNodeProperty inserts a node property row, skipping an exact duplicate.
// Satisfies node.PropertyStore.
func (s *Store) SaveNodeProperty(ctx context.Context, nodeID, name, value string) error {
	exists, err := s.NodePropertyExists(ctx, nodeID, name, value)
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

	_, err = db.ExecContext(ctx, "INSERT INTO node_properties(node_id, name, value) VALUES (?, ?, ?)", nodeID, name, value)
	if err != nil {
		return fmt.Errorf("store: save node property: %w", err)
	}
	return nil
}

// NodeProperties lists every property recorded for a node.
func (s *Store) NodeProperties(ctx context.Context, nodeID string) (map[string]string, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SELECT name, value FROM node_properties WHERE node_id = ?", nodeID)
	if err != nil {
		return nil, fmt.Errorf("store: node properties: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("store: scan node property: %w", err)
		}
		out[name] = value
	}
	return out, rows.Err()
}
