// Package queue implements the per-node, multi-producer/multi-consumer
// task queue: two priority levels, FIFO per producer within a level, and a
// load estimate workers and the scheduler's routing policy consult (spec
// §4.E).
package queue

import (
	"container/list"
	"sync"
	"time"

	"github.com/vantidb/numaexec/task"
	"github.com/vantidb/numaexec/topology"
)

// pollInterval bounds how long PopBlocking sleeps between checks; kept
// short since it is meant as a brief yield, not a long park (spec §4.E:
// "waits with brief yielding").
const pollInterval = 500 * time.Microsecond

// Queue is the per-node task queue.
type Queue struct {
	node topology.NodeID

	mu      sync.Mutex
	high    *list.List
	normal  *list.List
	length  int64 // approximate load estimate, monotonic w.r.t. pushes
	closing bool
}

// New creates an empty queue for node.
func New(node topology.NodeID) *Queue {
	return &Queue{
		node:   node,
		high:   list.New(),
		normal: list.New(),
	}
}

// Node returns the node this queue is indexed by.
func (q *Queue) Node() topology.NodeID {
	return q.node
}

// Push appends t to the level matching priority.
func (q *Queue) Push(t *task.Task, priority task.Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if priority == task.High {
		q.high.PushBack(t)
	} else {
		q.normal.PushBack(t)
	}

	q.length++
}

// TryPop pops High before Default, FIFO within a level. Returns nil if
// empty.
func (q *Queue) TryPop() *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if el := q.high.Front(); el != nil {
		q.high.Remove(el)
		q.length--

		return el.Value.(*task.Task)
	}

	if el := q.normal.Front(); el != nil {
		q.normal.Remove(el)
		q.length--

		return el.Value.(*task.Task)
	}

	return nil
}

// PopBlocking waits, briefly yielding, until a task is available or Close
// is called. Returns nil on close with nothing left to drain.
func (q *Queue) PopBlocking() *task.Task {
	for {
		if t := q.TryPop(); t != nil {
			return t
		}

		if q.closed() {
			return nil
		}

		time.Sleep(pollInterval)
	}
}

// EstimateLoad returns the approximate number of queued tasks. May be
// stale, but is monotonic with respect to pushes observed between
// concurrent pops (spec §4.E).
func (q *Queue) EstimateLoad() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.length
}

// Empty returns a best-effort snapshot; callers must tolerate transient
// false-negatives near concurrent pops (spec §4.E).
func (q *Queue) Empty() bool {
	return q.EstimateLoad() == 0
}

// Close signals shutdown: PopBlocking returns nil once drained rather than
// waiting indefinitely.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closing = true
	q.mu.Unlock()
}

func (q *Queue) closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.closing
}
