package store

import (
	"context"
	"fmt"
	"time"
)

// InsertLog writes one structured log record. Satisfies
// logging.LogInserter.
func (s *Store) InsertLog(ctx context.Context, timestamp time.Time, loggerName, level, module, caller string, line int, message string) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx,
		"INSERT INTO logs(timestamp, logger_name, log_level, module, caller, line, message) VALUES(?, ?, ?, ?, ?, ?, ?)",
		timestamp, loggerName, level, module, caller, line, message)
	if err != nil {
		return fmt.Errorf("store: insert log: %w", err)
	}
	return nil
}

// LogRow is one row read back from logs.
type LogRow struct {
	ID         int
	Timestamp  time.Time
	LoggerName string
	Level      string
	Module     string
	Caller     string
	Line       int
	Message    string
}

// RecentLogs returns up to the last 1000 log rows, ordered ascending by
// timestamp (newest-first selection, re-ordered for display).
func (s *Store) RecentLogs(ctx context.Context) ([]LogRow, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		"SELECT * FROM (SELECT id, timestamp, logger_name, log_level, module, caller, line, message FROM logs ORDER BY timestamp DESC LIMIT 1000) AS recent ORDER BY timestamp")
	if err != nil {
		return nil, fmt.Errorf("store: recent logs: %w", err)
	}
	defer rows.Close()

	var out []LogRow
	for rows.Next() {
		var r LogRow
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.LoggerName, &r.Level, &r.Module, &r.Caller, &r.Line, &r.Message); err != nil {
			return nil, fmt.Errorf("store: scan log row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertAccessLog records one HTTP request's authorization outcome.
func (s *Store) InsertAccessLog(ctx context.Context, host string, authorized bool, identifier *string, path, method string) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx,
		"INSERT INTO access_logs(host, authorized, identifier, path, method) VALUES(?, ?, ?, ?, ?)",
		host, authorized, identifier, path, method)
	if err != nil {
		return fmt.Errorf("store: insert access log: %w", err)
	}
	return nil
}
