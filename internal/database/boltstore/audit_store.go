package boltstore

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/wardenhq/warden/internal/action"

	bolt "go.etcd.io/bbolt"
)

// AuditStore records status transitions so superseded and terminal
// actions remain inspectable after their slot has been overwritten.
type AuditStore struct {
	db *bolt.DB
}

// Record stores one transition in the audit log.
func (s *AuditStore) Record(ctx context.Context, t action.Transition) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketAuditLog)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", BucketAuditLog)
		}

		data, err := action.Encode(&t.Action)
		if err != nil {
			return fmt.Errorf("failed to encode audit action: %w", err)
		}

		// Big-endian timestamp prefix so the cursor scan stays
		// chronological, same as the expiry index; the slot key and
		// statuses disambiguate transitions in the same nanosecond.
		tail := fmt.Sprintf(":%s:%s>%s", t.Action.Key(), t.OldStatus, t.NewStatus)
		key := make([]byte, 8, 8+len(tail))
		binary.BigEndian.PutUint64(key, uint64(t.At.UnixNano()))
		key = append(key, tail...)

		return bucket.Put(key, data)
	})

	return wrapStorage(err)
}

// List returns the most recent audit log entries as action snapshots,
// newest first.
func (s *AuditStore) List(ctx context.Context, limit int) ([]action.Action, error) {
	var entries []action.Action

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketAuditLog)
		if bucket == nil {
			return nil
		}

		cursor := bucket.Cursor()
		for k, v := cursor.Last(); k != nil && len(entries) < limit; k, v = cursor.Prev() {
			a, err := action.Decode(v)
			if err != nil {
				continue // Skip malformed entries
			}
			entries = append(entries, *a)
		}

		return nil
	})

	return entries, wrapStorage(err)
}
