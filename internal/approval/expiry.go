package approval

import (
	"container/heap"
	"time"
)

type expiryItem struct {
	at        time.Time
	requestID string
}

// expiryQueue is a min-heap of request deadlines. Entries of requests that
// were decided before their deadline stay queued and are skipped on pop.
type expiryQueue []expiryItem

func (q expiryQueue) Len() int { return len(q) }

func (q expiryQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].requestID < q[j].requestID
	}
	return q[i].at.Before(q[j].at)
}

func (q expiryQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *expiryQueue) Push(x any) { *q = append(*q, x.(expiryItem)) }

func (q *expiryQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

func (q *expiryQueue) schedule(requestID string, at time.Time) {
	heap.Push(q, expiryItem{at: at, requestID: requestID})
}

// due pops every entry whose deadline is at or before now.
func (q *expiryQueue) due(now time.Time) []string {
	var ids []string
	for q.Len() > 0 && !(*q)[0].at.After(now) {
		ids = append(ids, heap.Pop(q).(expiryItem).requestID)
	}
	return ids
}

// next returns the earliest queued deadline.
func (q expiryQueue) next() (time.Time, bool) {
	if len(q) == 0 {
		return time.Time{}, false
	}
	return q[0].at, true
}
