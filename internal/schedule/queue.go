// Package schedule maintains the in-memory index of pending
// expirations. The queue is a plain min-heap: no locking, because a
// single expiry loop owns it. Request paths hand new entries to that
// loop instead of touching the heap directly.
package schedule

import (
	"container/heap"
	"time"

	"github.com/wardenhq/warden/internal/action"
)

// Entry is one scheduled expiration. Entries are advisory: before
// acting on a popped entry the controller re-reads the store and
// compares Revision, discarding the entry if they differ (the action
// was superseded or cancelled after scheduling).
type Entry struct {
	ExpiresAt time.Time
	IssuedAt  time.Time
	SubjectID string
	ScopeID   string
	Kind      action.Kind
	Revision  uint64
}

// less orders entries by (ExpiresAt, IssuedAt, SubjectID) ascending,
// matching the store's ListDue order.
func (e Entry) less(other Entry) bool {
	if !e.ExpiresAt.Equal(other.ExpiresAt) {
		return e.ExpiresAt.Before(other.ExpiresAt)
	}
	if !e.IssuedAt.Equal(other.IssuedAt) {
		return e.IssuedAt.Before(other.IssuedAt)
	}
	return e.SubjectID < other.SubjectID
}

type entryHeap []Entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].less(h[j]) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any) { *h = append(*h, x.(Entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Queue is a min-ordered index of pending expirations. Not safe for
// concurrent use; see the package comment for the ownership rule.
type Queue struct {
	entries entryHeap
}

// NewQueue returns an empty expiry queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push adds an entry to the queue. Superseded entries for the same
// action are not removed eagerly; they are discarded at pop time by
// the controller's revision check.
func (q *Queue) Push(e Entry) {
	heap.Push(&q.entries, e)
}

// PopDue removes and returns all entries with ExpiresAt <= now, in
// ascending (ExpiresAt, IssuedAt, SubjectID) order.
func (q *Queue) PopDue(now time.Time) []Entry {
	var due []Entry
	for q.entries.Len() > 0 && !q.entries[0].ExpiresAt.After(now) {
		due = append(due, heap.Pop(&q.entries).(Entry))
	}
	return due
}

// Peek returns the next entry without removing it. The second return
// is false when the queue is empty.
func (q *Queue) Peek() (Entry, bool) {
	if q.entries.Len() == 0 {
		return Entry{}, false
	}
	return q.entries[0], true
}

// Len returns the number of entries, including any stale ones not yet
// discarded.
func (q *Queue) Len() int {
	return q.entries.Len()
}
