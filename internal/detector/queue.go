package detector

import (
	"container/heap"
	"sync"

	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
	"github.com/moltenlava16/kalshi-arbitrage/internal/metrics"
)

// Queue is the bounded priority queue between detection and arbitration,
// ordered by net profit descending with detection time ascending as the tie
// break. A push for a pair already queued supersedes the older entry; when
// full, the oldest undispatched opportunity is dropped. Lossy under overload
// is acceptable, correctness of the book is not.
type Queue struct {
	mu       sync.Mutex
	capacity int
	items    oppHeap
	byPair   map[string]*queueItem
	ready    chan struct{}
}

type queueItem struct {
	opp   *domain.Opportunity
	index int
}

// NewQueue creates a queue holding at most capacity entries.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		capacity: capacity,
		byPair:   make(map[string]*queueItem),
		ready:    make(chan struct{}, 1),
	}
}

// Push enqueues an opportunity, superseding any queued entry for the same
// pair. Returns false when the push displaced an older entry to make room.
func (q *Queue) Push(opp *domain.Opportunity) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if prev, ok := q.byPair[opp.PairKey]; ok {
		heap.Remove(&q.items, prev.index)
		delete(q.byPair, opp.PairKey)
		metrics.OpportunitiesDropped.WithLabelValues("superseded").Inc()
	}

	displaced := false
	if len(q.items) >= q.capacity {
		q.dropOldest()
		displaced = true
	}

	it := &queueItem{opp: opp}
	heap.Push(&q.items, it)
	q.byPair[opp.PairKey] = it

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return !displaced
}

// dropOldest removes the entry with the earliest detection time. Callers
// hold q.mu.
func (q *Queue) dropOldest() {
	oldest := -1
	for i, it := range q.items {
		if oldest < 0 || it.opp.DetectedAt.Before(q.items[oldest].opp.DetectedAt) {
			oldest = i
		}
	}
	if oldest < 0 {
		return
	}
	victim := q.items[oldest]
	heap.Remove(&q.items, oldest)
	delete(q.byPair, victim.opp.PairKey)
	metrics.OpportunitiesDropped.WithLabelValues("queue_full").Inc()
}

// Pop removes and returns the highest-priority opportunity.
func (q *Queue) Pop() (*domain.Opportunity, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	it := heap.Pop(&q.items).(*queueItem)
	delete(q.byPair, it.opp.PairKey)
	return it.opp, true
}

// Ready returns a channel that receives after a push; consumers drain the
// queue with Pop until it is empty.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

// Len returns the number of queued opportunities.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// oppHeap implements heap.Interface keyed (net profit desc, detected asc).
type oppHeap []*queueItem

func (h oppHeap) Len() int { return len(h) }

func (h oppHeap) Less(i, j int) bool {
	a, b := h[i].opp, h[j].opp
	if a.NetProfitCents != b.NetProfitCents {
		return a.NetProfitCents > b.NetProfitCents
	}
	return a.DetectedAt.Before(b.DetectedAt)
}

func (h oppHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *oppHeap) Push(x any) {
	it := x.(*queueItem)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *oppHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
