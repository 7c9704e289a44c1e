// boltsink.go — optional durable persistence for the audit trail.
//
// Schema (BoltDB bucket layout):
//
//	/events
//	    key:   UTC RFC3339 timestamp with fixed 9-digit fraction + "_" + event_id  [sortable]
//	    value: JSON-encoded ControlDecisionEvent
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Single-process, single-writer, ACID write transactions, meta-page
// checksum validation on open (all bbolt built-ins).
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// BoltSchemaVersion is the current audit database schema version.
	BoltSchemaVersion = "1"

	bucketEvents = "events"
	bucketMeta   = "meta"
)

// BoltSink persists ControlDecisionEvents to a BoltDB file. Implements
// Sink.
type BoltSink struct {
	db *bolt.DB
}

// OpenBoltSink opens (or creates) the audit BoltDB file at path and
// verifies its schema version.
func OpenBoltSink(path string) (*BoltSink, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	s := &BoltSink{db: bdb}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketEvents, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(BoltSchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("audit database initialisation failed: %w", err)
	}

	if err := s.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return s, nil
}

func (s *BoltSink) checkSchemaVersion() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != BoltSchemaVersion {
			return fmt.Errorf(
				"audit schema version mismatch: database has %q, daemon requires %q",
				string(v), BoltSchemaVersion)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (s *BoltSink) Close() error {
	return s.db.Close()
}

func eventKey(event ControlDecisionEvent) []byte {
	t := time.UnixMilli(event.TransitionTimestampMs).UTC()
	return []byte(fmt.Sprintf("%s_%s", t.Format("2006-01-02T15:04:05.000000000Z07:00"), event.EventID))
}

// AppendEvent writes one audit event in a single ACID transaction.
func (s *BoltSink) AppendEvent(event ControlDecisionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("AppendEvent marshal: %w", err)
	}
	key := eventKey(event)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketEvents))
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("AppendEvent bolt.Put: %w", err)
		}
		return nil
	})
}

// ReadEvents returns all persisted audit events in chronological order.
// For operational inspection; not called on the hot path.
func (s *BoltSink) ReadEvents() ([]ControlDecisionEvent, error) {
	var events []ControlDecisionEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketEvents))
		return b.ForEach(func(_, v []byte) error {
			var event ControlDecisionEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return err
			}
			events = append(events, event)
			return nil
		})
	})
	return events, err
}
