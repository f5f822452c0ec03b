package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/action"
)

func entryAt(subject string, expires, issued time.Time) Entry {
	return Entry{
		ExpiresAt: expires,
		IssuedAt:  issued,
		SubjectID: subject,
		ScopeID:   "7",
		Kind:      action.KindMute,
		Revision:  1,
	}
}

func TestPopDueOrdering(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	q := NewQueue()

	// Push out of order.
	q.Push(entryAt("c", base.Add(3*time.Minute), base))
	q.Push(entryAt("a", base.Add(1*time.Minute), base))
	q.Push(entryAt("b", base.Add(2*time.Minute), base))

	due := q.PopDue(base.Add(5 * time.Minute))
	require.Len(t, due, 3)
	assert.Equal(t, "a", due[0].SubjectID)
	assert.Equal(t, "b", due[1].SubjectID)
	assert.Equal(t, "c", due[2].SubjectID)
	assert.Equal(t, 0, q.Len())
}

func TestPopDueCutoff(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	q := NewQueue()

	q.Push(entryAt("early", base.Add(time.Minute), base))
	q.Push(entryAt("exact", base.Add(2*time.Minute), base))
	q.Push(entryAt("late", base.Add(3*time.Minute), base))

	// An entry expiring exactly at now is due.
	due := q.PopDue(base.Add(2 * time.Minute))
	require.Len(t, due, 2)
	assert.Equal(t, "early", due[0].SubjectID)
	assert.Equal(t, "exact", due[1].SubjectID)
	assert.Equal(t, 1, q.Len())

	next, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "late", next.SubjectID)
}

func TestPopDueTieBreaks(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	expires := base.Add(time.Minute)
	q := NewQueue()

	// Same expiry: earlier issue wins; same issue: lower subject ID.
	q.Push(entryAt("9", expires, base.Add(time.Second)))
	q.Push(entryAt("5", expires, base))
	q.Push(entryAt("3", expires, base))

	due := q.PopDue(expires)
	require.Len(t, due, 3)
	assert.Equal(t, "3", due[0].SubjectID)
	assert.Equal(t, "5", due[1].SubjectID)
	assert.Equal(t, "9", due[2].SubjectID)
}

func TestPopDueEmpty(t *testing.T) {
	q := NewQueue()
	assert.Empty(t, q.PopDue(time.Now()))

	_, ok := q.Peek()
	assert.False(t, ok)
}

func TestDuplicateEntriesTolerated(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	q := NewQueue()

	// The same action scheduled twice (resync after a dropped
	// registration) pops twice; the controller's revision check
	// discards whichever pops second.
	e := entryAt("42", base.Add(time.Minute), base)
	q.Push(e)
	q.Push(e)

	due := q.PopDue(base.Add(time.Minute))
	assert.Len(t, due, 2)
}
