package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/wardenhq/warden/internal/action"

	bolt "go.etcd.io/bbolt"
)

// ActionStore provides persistent storage for moderation action records.
//
// Each (scope, subject, kind) slot holds a single record guarded by an
// optimistic revision counter: a write must present the revision it
// read, and a mismatch is rejected with action.ErrConflict. Writes are
// atomic per slot; the expiry index is maintained in the same
// transaction as the record it points at.
type ActionStore struct {
	db *bolt.DB
}

// Put writes an action record, checking expectedRevision against the
// stored revision (0 for an empty slot). On success the action's
// Revision is set to expectedRevision+1 before it is persisted.
func (s *ActionStore) Put(ctx context.Context, a *action.Action, expectedRevision uint64) error {
	key := []byte(a.Key())

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketActions)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", BucketActions)
		}

		var existing *action.Action
		if data := bucket.Get(key); data != nil {
			decoded, err := action.Decode(data)
			if err != nil {
				return fmt.Errorf("failed to decode stored action %s: %w", key, err)
			}
			existing = decoded
		}

		switch {
		case existing == nil && expectedRevision != 0:
			return action.ErrConflict
		case existing != nil && existing.Revision != expectedRevision:
			return action.ErrConflict
		}

		a.Revision = expectedRevision + 1

		data, err := action.Encode(a)
		if err != nil {
			return fmt.Errorf("failed to encode action record: %w", err)
		}

		if err := bucket.Put(key, data); err != nil {
			return err
		}

		index := tx.Bucket(BucketActionsByExpiry)
		if index == nil {
			return fmt.Errorf("bucket not found: %s", BucketActionsByExpiry)
		}

		if existing != nil && indexed(existing) {
			if err := index.Delete(expiryKey(existing)); err != nil {
				return err
			}
		}
		if indexed(a) {
			if err := index.Put(expiryKey(a), key); err != nil {
				return err
			}
		}

		return nil
	})

	return wrapStorage(err)
}

// Get retrieves the action record for a (subject, scope, kind) slot.
// Returns action.ErrNotFound when the slot is empty.
func (s *ActionStore) Get(ctx context.Context, subjectID, scopeID string, kind action.Kind) (*action.Action, error) {
	var a *action.Action

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketActions)
		if bucket == nil {
			return nil
		}

		data := bucket.Get([]byte(action.StoreKey(subjectID, scopeID, kind)))
		if data == nil {
			return nil
		}

		decoded, err := action.Decode(data)
		if err != nil {
			return err
		}
		a = decoded
		return nil
	})
	if err != nil {
		return nil, wrapStorage(err)
	}
	if a == nil {
		return nil, action.ErrNotFound
	}

	return a, nil
}

// ListDue returns all Active actions with ExpiresAt <= before, ordered
// by (ExpiresAt, IssuedAt, SubjectID) ascending. The result is a
// point-in-time snapshot taken in a single read transaction.
func (s *ActionStore) ListDue(ctx context.Context, before time.Time) ([]action.Action, error) {
	var due []action.Action

	err := s.db.View(func(tx *bolt.Tx) error {
		index := tx.Bucket(BucketActionsByExpiry)
		bucket := tx.Bucket(BucketActions)
		if index == nil || bucket == nil {
			return nil
		}

		cutoff := uint64(before.UnixNano())

		cursor := index.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			if len(k) < 16 {
				continue
			}
			if binary.BigEndian.Uint64(k[:8]) > cutoff {
				break
			}

			data := bucket.Get(v)
			if data == nil {
				continue
			}

			a, err := action.Decode(data)
			if err != nil {
				return fmt.Errorf("failed to decode indexed action %s: %w", v, err)
			}
			due = append(due, *a)
		}

		return nil
	})

	return due, wrapStorage(err)
}

// ListBySubject returns every stored action for a subject within a
// scope, across all kinds and statuses.
func (s *ActionStore) ListBySubject(ctx context.Context, subjectID, scopeID string) ([]action.Action, error) {
	var actions []action.Action

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketActions)
		if bucket == nil {
			return nil
		}

		cursor := bucket.Cursor()
		prefix := []byte(scopeID + ":" + subjectID + ":")

		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			a, err := action.Decode(v)
			if err != nil {
				return fmt.Errorf("failed to decode action %s: %w", k, err)
			}
			actions = append(actions, *a)
		}

		return nil
	})

	return actions, wrapStorage(err)
}

// ListByStatus returns all actions currently in the given status.
// Used to surface Failed actions to operators.
func (s *ActionStore) ListByStatus(ctx context.Context, status action.Status) ([]action.Action, error) {
	var actions []action.Action

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketActions)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			a, err := action.Decode(v)
			if err != nil {
				return fmt.Errorf("failed to decode action %s: %w", k, err)
			}
			if a.Status == status {
				actions = append(actions, *a)
			}
			return nil
		})
	})

	return actions, wrapStorage(err)
}

// Count returns the total number of stored action records.
func (s *ActionStore) Count(ctx context.Context) (int, error) {
	var count int

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketActions)
		if bucket == nil {
			return nil
		}
		count = bucket.Stats().KeyN
		return nil
	})

	return count, wrapStorage(err)
}

// indexed reports whether an action belongs in the expiry index.
func indexed(a *action.Action) bool {
	return a.Status == action.StatusActive && a.ExpiresAt != nil
}

// expiryKey builds the index key: big-endian expiry and issue
// timestamps followed by subject, scope, and kind, so a cursor scan
// yields entries in (ExpiresAt, IssuedAt, SubjectID) order.
func expiryKey(a *action.Action) []byte {
	expires := int64(math.MaxInt64)
	if a.ExpiresAt != nil {
		expires = a.ExpiresAt.UnixNano()
	}

	tail := a.SubjectID + ":" + a.ScopeID + ":" + string(a.Kind)
	buf := make([]byte, 16, 16+len(tail))
	binary.BigEndian.PutUint64(buf[:8], uint64(expires))
	binary.BigEndian.PutUint64(buf[8:16], uint64(a.IssuedAt.UnixNano()))
	return append(buf, tail...)
}

// wrapStorage classifies unexpected database errors as transient
// storage failures while letting domain sentinels through untouched.
func wrapStorage(err error) error {
	if err == nil || errors.Is(err, action.ErrConflict) || errors.Is(err, action.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", action.ErrStorageUnavailable, err)
}
