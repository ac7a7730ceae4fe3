package webhook

import (
	"container/heap"
	"sync"
	"time"
)

// queueItem schedules one delivery id at a due instant.
type queueItem struct {
	deliveryID string
	due        time.Time
	index      int
}

// itemHeap orders items by due time, earliest first.
type itemHeap []*queueItem

func (h itemHeap) Len() int            { return len(h) }
func (h itemHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *itemHeap) Push(x interface{}) { item := x.(*queueItem); item.index = len(*h); *h = append(*h, item) }
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// delayedQueue is a priority queue of delivery ids keyed by next-retry time.
// Scheduling a delivery that is already queued moves it instead of adding a
// duplicate, so the queue holds at most one entry per delivery.
type delayedQueue struct {
	mu     sync.Mutex
	items  itemHeap
	byID   map[string]*queueItem
	wakeCh chan struct{}
}

func newDelayedQueue() *delayedQueue {
	return &delayedQueue{
		byID:   make(map[string]*queueItem),
		wakeCh: make(chan struct{}, 1),
	}
}

// Schedule enqueues or reschedules a delivery for the given due time.
func (q *delayedQueue) Schedule(deliveryID string, due time.Time) {
	q.mu.Lock()
	if item, ok := q.byID[deliveryID]; ok {
		item.due = due
		heap.Fix(&q.items, item.index)
	} else {
		item := &queueItem{deliveryID: deliveryID, due: due}
		heap.Push(&q.items, item)
		q.byID[deliveryID] = item
	}
	q.mu.Unlock()
	q.wake()
}

// PopDue removes and returns the ids of all deliveries due at or before now.
func (q *delayedQueue) PopDue(now time.Time) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []string
	for len(q.items) > 0 && !q.items[0].due.After(now) {
		item := heap.Pop(&q.items).(*queueItem)
		delete(q.byID, item.deliveryID)
		due = append(due, item.deliveryID)
	}
	return due
}

// NextDue returns the earliest scheduled instant, or false when empty.
func (q *delayedQueue) NextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].due, true
}

// Remove drops a delivery from the queue if present.
func (q *delayedQueue) Remove(deliveryID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item, ok := q.byID[deliveryID]; ok {
		heap.Remove(&q.items, item.index)
		delete(q.byID, deliveryID)
	}
}

// Len returns the number of scheduled deliveries.
func (q *delayedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wake returns the channel signalled whenever the schedule changes.
func (q *delayedQueue) Wake() <-chan struct{} {
	return q.wakeCh
}

func (q *delayedQueue) wake() {
	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}
