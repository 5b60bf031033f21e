// Package boltlog persists each worker's bounded log ring buffer to a
// bbolt database, so recent runner output survives an orchestrator
// restart instead of living only in memory.
package boltlog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Entry is one line of a worker's captured output.
type Entry struct {
	WorkerID  string    `json:"workerId"`
	Line      string    `json:"line"`
	Timestamp time.Time `json:"timestamp"`
}

// Store persists a bounded number of log entries per worker bucket.
type Store struct {
	db       *bolt.DB
	capacity int
}

// Open opens (creating if needed) the bbolt database at path, keeping
// at most capacity entries per worker.
func Open(path string, capacity int) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltlog: open %s: %w", path, err)
	}
	return &Store{db: db, capacity: capacity}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append records one log entry for workerID, trimming the oldest
// entries once the bucket exceeds capacity.
func (s *Store) Append(workerID, line string, ts time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(workerID))
		if err != nil {
			return err
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		entry := Entry{WorkerID: workerID, Line: line, Timestamp: ts}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := bucket.Put(seqKey(seq), data); err != nil {
			return err
		}
		return trimOldest(bucket, s.capacity)
	})
}

// Recent returns the last n entries recorded for workerID, oldest first.
func (s *Store) Recent(workerID string, n int) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(workerID))
		if bucket == nil {
			return nil
		}
		var all []Entry
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}
			all = append(all, e)
		}
		if len(all) > n {
			all = all[len(all)-n:]
		}
		entries = all
		return nil
	})
	return entries, err
}

func trimOldest(bucket *bolt.Bucket, capacity int) error {
	count := bucket.Stats().KeyN
	if count <= capacity {
		return nil
	}
	c := bucket.Cursor()
	toRemove := count - capacity
	for k, _ := c.First(); k != nil && toRemove > 0; k, _ = c.Next() {
		if err := bucket.Delete(k); err != nil {
			return err
		}
		toRemove--
	}
	return nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
