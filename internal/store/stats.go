package store

import (
	"context"
	"database/sql"
	"fmt"
)

// NodeCallStat is one per-(node, endpoint) row of call statistics over the
// trailing 8 hours, restricted to non-critical, non-static nodes — the
// same instruments whose throughput is worth watching on a dashboard.
type NodeCallStat struct {
	NodeID              string
	NodeName            string
	Endpoint            sql.NullString
	CallCount           int
	AverageDurationSecs sql.NullFloat64
	MinimumDurationSecs sql.NullFloat64
	MaximumDurationSecs sql.NullFloat64
	SuccessRate         float64
}

// NodeStatistics aggregates node_call_records for the last 8 hours.
func (s *Store) NodeStatistics(ctx context.Context) ([]NodeCallStat, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT
		    n.id AS id,
		    n.name AS name,
		    c.endpoint,
		    COUNT(c.id) AS call_count,
		    AVG(c.duration) AS average_execution_duration,
		    MIN(c.duration) AS minimum_execution_duration,
		    MAX(c.duration) AS maximum_execution_duration,
		    IFNULL(SUM(CASE WHEN c.outcome = 'success' THEN 1 ELSE 0 END) / COUNT(c.id), 0) AS success_rate
		FROM
		    nodes n
		LEFT JOIN
		    node_call_records c ON n.id = c.node_id
		WHERE
		    n.critical = 0 AND n.static = 0 AND c.timestamp >= DATE_SUB(NOW(), INTERVAL 8 HOUR)
		GROUP BY
		    n.id, n.name, c.endpoint`)
	if err != nil {
		return nil, fmt.Errorf("store: node statistics: %w", err)
	}
	defer rows.Close()

	var out []NodeCallStat
	for rows.Next() {
		var r NodeCallStat
		if err := rows.Scan(&r.NodeID, &r.NodeName, &r.Endpoint, &r.CallCount,
			&r.AverageDurationSecs, &r.MinimumDurationSecs, &r.MaximumDurationSecs, &r.SuccessRate); err != nil {
			return nil, fmt.Errorf("store: scan node statistic: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
