// Package watchdog periodically polls node reachability on a cron schedule
// and persists per-node polling cadence overrides in an embedded bbolt
// database. It never schedules, retries, or otherwise drives a task — its
// only job is early detection of an instrument going dark between task
// runs.
package watchdog

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketCadence = []byte("cadence")

// CadenceStore persists per-node polling interval overrides.
type CadenceStore struct {
	db *bbolt.DB
}

// OpenCadenceStore opens (creating if necessary) the bbolt file at path.
func OpenCadenceStore(path string) (*CadenceStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("watchdog: open cadence store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCadence)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("watchdog: init cadence bucket: %w", err)
	}
	return &CadenceStore{db: db}, nil
}

// cadenceRecord is what's actually persisted per node.
type cadenceRecord struct {
	IntervalSeconds int `json:"interval_seconds"`
}

// SetCadence overrides a node's poll interval.
func (c *CadenceStore) SetCadence(nodeID string, intervalSeconds int) error {
	rec := cadenceRecord{IntervalSeconds: intervalSeconds}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("watchdog: marshal cadence: %w", err)
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCadence).Put([]byte(nodeID), data)
	})
}

// Cadence returns the persisted interval for a node, or ok=false if none is set.
func (c *CadenceStore) Cadence(nodeID string) (seconds int, ok bool, err error) {
	err = c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketCadence).Get([]byte(nodeID))
		if data == nil {
			return nil
		}
		var rec cadenceRecord
		if unmarshalErr := json.Unmarshal(data, &rec); unmarshalErr != nil {
			return unmarshalErr
		}
		seconds = rec.IntervalSeconds
		ok = true
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("watchdog: read cadence: %w", err)
	}
	return seconds, ok, nil
}

// All returns every persisted cadence override keyed by node id.
func (c *CadenceStore) All() (map[string]int, error) {
	out := make(map[string]int)
	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCadence).ForEach(func(k, v []byte) error {
			var rec cadenceRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out[string(k)] = rec.IntervalSeconds
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("watchdog: list cadences: %w", err)
	}
	return out, nil
}

// Close releases the underlying file handle.
func (c *CadenceStore) Close() error {
	return c.db.Close()
}
