package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const boltBucket = "audit_records"

// BoltSink keeps records in an embedded bbolt file, keyed by record ID.
type BoltSink struct {
	db *bolt.DB
}

type boltValue struct {
	SavedAt time.Time `json:"savedAt"`
	Blob    string    `json:"blob"`
}

// OpenBolt opens (or creates) the database at path and ensures the bucket
// exists.
func OpenBolt(path string) (*BoltSink, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt audit store %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create bbolt bucket: %w", err)
	}
	return &BoltSink{db: db}, nil
}

func (s *BoltSink) Name() string { return SinkBolt }

func (s *BoltSink) Store(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := json.Marshal(boltValue{SavedAt: e.SavedAt, Blob: e.Blob})
	if err != nil {
		return fmt.Errorf("marshal bbolt value: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", boltBucket)
		}
		return b.Put([]byte(e.ID), v)
	})
}

func (s *BoltSink) Lookup(ctx context.Context, id string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltBucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(id)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("read bbolt audit store: %w", err)
	}
	if raw == nil {
		return Entry{}, ErrNotFound
	}
	var v boltValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return Entry{}, fmt.Errorf("unmarshal bbolt value: %w", err)
	}
	return Entry{ID: id, SavedAt: v.SavedAt, Blob: v.Blob}, nil
}

// Count returns the number of stored records.
func (s *BoltSink) Count() (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(boltBucket)); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

func (s *BoltSink) Close() error { return s.db.Close() }
