// Package worker implements the pinned worker thread: drain the local
// queue, steal from foreign queues in distance order when idle, and
// support re-entrant waiting so a worker never parks while subtasks it
// depends on could still be run by itself (spec §4.F, §9).
package worker

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/vantidb/numaexec/internal/gls"
	"github.com/vantidb/numaexec/queue"
	"github.com/vantidb/numaexec/task"
	"github.com/vantidb/numaexec/topology"
)

// idleBackoff bounds how long the main loop sleeps between empty passes
// over local-then-foreign queues (spec §4.F step 3: "briefly yield or
// sleep and retry").
const idleBackoff = time.Millisecond

// lifecycle states (spec §3: Idle -> Running -> Joined).
type lifecycle int32

const (
	Idle lifecycle = iota
	Running
	Joined
)

// Host is the narrow slice of the scheduler a worker needs: the other
// queues to steal from, the steal order for this worker's node, whether
// the scheduler is still active, and counters. Implemented by
// scheduler.Scheduler; kept as an interface here so worker never imports
// scheduler (scheduler owns and imports worker, not the reverse).
type Host interface {
	QueueForNode(node topology.NodeID) *queue.Queue
	PriorityRow(node topology.NodeID) []topology.NodeID
	Active() bool
	RecordStolen()
	RecordExecuted()
}

// Worker owns one pinned OS thread, a back-reference to its home queue,
// a monotonic counter of finished tasks, and a handle to the scheduler
// (spec §3).
type Worker struct {
	id    int
	cpu   int
	node  topology.NodeID
	queue *queue.Queue
	host  Host

	state    atomic.Int32
	finished atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a worker pinned to cpu, homed on node's queue.
func New(id, cpu int, node topology.NodeID, q *queue.Queue, host Host) *Worker {
	return &Worker{
		id:     id,
		cpu:    cpu,
		node:   node,
		queue:  q,
		host:   host,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// ID returns the worker's id.
func (w *Worker) ID() int { return w.id }

// NodeID returns the NUMA node this worker is bound to.
func (w *Worker) NodeID() topology.NodeID { return w.node }

// Finished returns the number of tasks this worker has executed.
func (w *Worker) Finished() int64 { return w.finished.Load() }

// State returns the worker's lifecycle state.
func (w *Worker) State() lifecycle { return lifecycle(w.state.Load()) }

// Start spins up the worker's goroutine, pinned to its CPU.
func (w *Worker) Start() {
	w.state.Store(int32(Running))
	go w.run()
}

// Stop signals the worker to exit its main loop once queues drain.
func (w *Worker) Stop() {
	close(w.stopCh)
}

// Join blocks until the worker's goroutine has exited.
func (w *Worker) Join() {
	<-w.doneCh
	w.state.Store(int32(Joined))
}

func (w *Worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	pin(w.cpu)

	gls.Set(w)
	defer gls.Clear()
	defer close(w.doneCh)

	for {
		if t := w.queue.TryPop(); t != nil {
			w.exec(t)

			continue
		}

		if t := w.steal(); t != nil {
			t.MarkStolen()
			w.host.RecordStolen()
			w.exec(t)

			continue
		}

		select {
		case <-w.stopCh:
			if w.queue.Empty() && w.allForeignEmpty() {
				return
			}
		default:
		}

		time.Sleep(idleBackoff)
	}
}

// steal iterates the priority matrix row for this worker's node, skipping
// self, trying each foreign queue non-blocking (spec §4.F step 2).
func (w *Worker) steal() *task.Task {
	for _, n := range w.host.PriorityRow(w.node) {
		if n == w.node {
			continue
		}

		q := w.host.QueueForNode(n)
		if q == nil {
			continue
		}

		if t := q.TryPop(); t != nil {
			return t
		}
	}

	return nil
}

func (w *Worker) allForeignEmpty() bool {
	for _, n := range w.host.PriorityRow(w.node) {
		if n == w.node {
			continue
		}

		if q := w.host.QueueForNode(n); q != nil && !q.Empty() {
			return false
		}
	}

	return true
}

func (w *Worker) exec(t *task.Task) {
	t.Execute()
	w.finished.Add(1)
	w.host.RecordExecuted()
}

// Current returns the worker executing on the calling goroutine, or nil if
// called from outside any worker.
func Current() *Worker {
	if w, ok := gls.Get().(*Worker); ok {
		return w
	}

	return nil
}

// WaitForTasks blocks the caller until every task in tasks is Done. Called
// from inside a worker's own execution, it drains additional work (local
// queue, then steals) instead of parking, so a task that spawns subtasks
// and waits on them can't starve the worker pool (spec §4.D, §4.F, §9).
// Called from outside any worker, it simply joins each task.
func WaitForTasks(tasks []*task.Task) {
	if w := Current(); w != nil {
		w.waitForTasks(tasks)

		return
	}

	for _, t := range tasks {
		t.Join()
	}
}

func (w *Worker) waitForTasks(tasks []*task.Task) {
	for !allDone(tasks) {
		if t := w.queue.TryPop(); t != nil {
			w.exec(t)

			continue
		}

		if t := w.steal(); t != nil {
			t.MarkStolen()
			w.host.RecordStolen()
			w.exec(t)

			continue
		}

		time.Sleep(idleBackoff)
	}
}

func allDone(tasks []*task.Task) bool {
	for _, t := range tasks {
		if !t.IsDone() {
			return false
		}
	}

	return true
}
