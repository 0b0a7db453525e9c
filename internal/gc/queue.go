package gc

// queue is an unordered multiset of values realized as a growable slice, the
// same representation the original collector uses for idle/work/delay/free.
// It is never accessed concurrently by more than one goroutine at a time:
// mutexIdleList (see collector.go) serializes access to idle/idle2, and
// work/delay/free belong exclusively to whichever goroutine is currently
// running the scan driver.
type queue struct {
	items []Value
}

func newQueue() *queue { return &queue{items: make([]Value, 0, 64)} }

func (q *queue) push(v Value) { q.items = append(q.items, v) }

func (q *queue) len() int { return len(q.items) }

// reset empties the queue without shrinking its backing array, so the next
// cycle reuses the allocation.
func (q *queue) reset() { q.items = q.items[:0] }

// swap exchanges the contents of two queues in O(1) via a single pointer
// assignment of their backing slices, never copying element data. This is
// what lets the concurrent worker hand idle->work (and idle2->work2) off
// without pausing mutators for longer than the mutex acquisition itself.
func swap(a, b *queue) { a.items, b.items = b.items, a.items }
