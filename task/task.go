// Package task implements the schedulable unit of work: a state machine
// with predecessor/successor edges, a preferred node, and an idempotent
// body invoked exactly once (spec §4.D).
package task

import (
	"sync"
	"sync/atomic"

	"github.com/vantidb/numaexec/internal/xerrors"
	"github.com/vantidb/numaexec/topology"
)

// State is a task's position in its lifecycle lattice. A task may only
// move forward; regressions are invariant violations (spec §3).
type State int32

const (
	Created State = iota
	Scheduled
	Ready
	Running
	Done
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Scheduled:
		return "Scheduled"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Done:
		return "Done"
	default:
		return "Unknown"
	}
}

// Priority selects which of the queue's two FIFOs a task is pushed onto.
type Priority int

const (
	Default Priority = iota
	High
)

// Enqueuer is the scheduler-side hook a task uses to push a successor once
// it becomes ready. Implemented by scheduler.Scheduler; kept as a narrow
// interface here so task has no dependency on the scheduler package.
type Enqueuer interface {
	EnqueueReady(t *Task)
}

// Task is a unit of schedulable work (spec §3, §4.D).
type Task struct {
	id   uint64
	node topology.NodeID

	body func()

	state      atomic.Int32
	wasStolen  atomic.Bool
	predecessorCount atomic.Int32

	mu           sync.Mutex
	successors   []*Task
	predecessors []*Task

	done     chan struct{}
	doneOnce sync.Once

	scheduler Enqueuer
}

// submitFunc hands a task to the process-wide scheduler; registered once
// by scheduler.Get() so that task's own Schedule/ScheduleOn methods
// (spec §6: JobTask::schedule()/schedule(node)) can reach it without task
// importing scheduler (scheduler imports task, not the reverse).
var submitFunc func(t *Task, node topology.NodeID)

// RegisterScheduler installs the process-wide submission hook. Called once
// by scheduler.Get().
func RegisterScheduler(f func(t *Task, node topology.NodeID)) {
	submitFunc = f
}

// New creates a task in the Created state with the given body. The body
// must be idempotent-callable only in the sense that the task machinery
// guarantees it is invoked at most once; New itself makes no copies or
// retries (spec §3, §6: JobTask::new).
func New(body func()) *Task {
	return &Task{
		body: body,
		node: topology.InvalidNode,
		done: make(chan struct{}),
	}
}

// SetNodeID sets the preferred node. May be called any time before
// scheduling.
func (t *Task) SetNodeID(node topology.NodeID) {
	t.node = node
}

// NodeID returns the preferred node (may be a sentinel).
func (t *Task) NodeID() topology.NodeID {
	return t.node
}

// ID returns the task's id, assigned on submission (0 before scheduling).
func (t *Task) ID() uint64 {
	return atomic.LoadUint64(&t.id)
}

func (t *Task) setID(id uint64) {
	atomic.StoreUint64(&t.id, id)
}

func (t *Task) state_() State {
	return State(t.state.Load())
}

// transition moves the task forward in its lattice. Panics (invariant
// violation) on any attempted regression or repeat.
func (t *Task) transition(from, to State) {
	if !t.state.CompareAndSwap(int32(from), int32(to)) {
		panic(xerrors.Invariant("TASK_STATE_REGRESSION", "task state transition out of order",
			map[string]interface{}{"task_id": t.ID(), "expected_from": from.String(), "to": to.String(), "actual": t.state_().String()}))
	}
}

// SetAsPredecessorOf records t as a predecessor of other, in both
// directions. Must be called before either task is scheduled (spec
// §4.D). Panics if the edge would create a 1-hop cycle (other is already a
// predecessor of t); full cycle detection beyond the immediate edge is the
// caller's responsibility, as spec §4.D allows deferring it to debug builds.
func (t *Task) SetAsPredecessorOf(other *Task) {
	if t.state_() != Created || other.state_() != Created {
		panic(xerrors.Invariant("EDGE_AFTER_SCHEDULE", "predecessor edge added after scheduling",
			map[string]interface{}{"task_id": t.ID(), "other_id": other.ID()}))
	}

	if other == t {
		panic(xerrors.Invariant("SELF_EDGE", "task cannot be its own predecessor",
			map[string]interface{}{"task_id": t.ID()}))
	}

	t.mu.Lock()
	for _, p := range t.predecessors {
		if p == other {
			t.mu.Unlock()
			panic(xerrors.Invariant("CYCLE", "immediate cycle between tasks",
				map[string]interface{}{"task_id": t.ID(), "other_id": other.ID()}))
		}
	}
	t.successors = append(t.successors, other)
	t.mu.Unlock()

	other.mu.Lock()
	other.predecessors = append(other.predecessors, t)
	other.mu.Unlock()
	other.predecessorCount.Add(1)
}

// HasEdges reports whether the task already has any predecessor or
// successor — used by the scheduler's grouping pass, which must leave such
// tasks alone to avoid forming cycles (spec §4.G, §9).
func (t *Task) HasEdges() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.predecessors) > 0 || len(t.successors) > 0
}

// Activate transitions Created -> Scheduled, assigns id and scheduler, and
// hands the task off: if it is already ready it is enqueued immediately,
// otherwise it is recorded and enqueued later by a completing predecessor.
// Called by the scheduler; user code normally reaches this indirectly
// through Schedule/ScheduleOn or scheduler.Scheduler.Schedule.
func (t *Task) Activate(id uint64, node topology.NodeID, sched Enqueuer) {
	t.setID(id)

	if node != topology.InvalidNode {
		t.node = node
	}

	t.scheduler = sched
	t.transition(Created, Scheduled)

	if t.predecessorCount.Load() == 0 {
		t.becomeReady()
	}
}

// Schedule hands the task to the process-wide scheduler with no node
// preference override (spec §6: JobTask::schedule()).
func (t *Task) Schedule() {
	submitFunc(t, topology.InvalidNode)
}

// ScheduleOn hands the task to the process-wide scheduler, preferring node
// (spec §6: JobTask::schedule(node)).
func (t *Task) ScheduleOn(node topology.NodeID) {
	submitFunc(t, node)
}

// IsReady reports whether the task is Scheduled with no outstanding
// predecessors, or has already progressed to Ready (spec §4.D).
func (t *Task) IsReady() bool {
	s := t.state_()

	return s == Ready || (s == Scheduled && t.predecessorCount.Load() == 0)
}

// IsDone reports whether the task has finished running.
func (t *Task) IsDone() bool {
	return t.state_() == Done
}

// WasStolen reports whether this task was dequeued from a foreign queue.
func (t *Task) WasStolen() bool {
	return t.wasStolen.Load()
}

// MarkStolen records that a worker obtained this task by stealing.
func (t *Task) MarkStolen() {
	t.wasStolen.Store(true)
}

// becomeReady transitions Scheduled -> Ready and enqueues the task.
// Called when the final predecessor completes, and at Activate time when
// no predecessor is outstanding. Both may see a zero count for the same
// task: only the caller that wins the Scheduled -> Ready transition
// enqueues it, and a task still in Created is left for its Activate.
func (t *Task) becomeReady() {
	if !t.state.CompareAndSwap(int32(Scheduled), int32(Ready)) {
		return
	}

	t.scheduler.EnqueueReady(t)
}

// Execute runs the task's body exactly once, then notifies successors.
// Called by a worker; transitions Ready -> Running -> Done.
func (t *Task) Execute() {
	t.transition(Ready, Running)

	if t.body != nil {
		t.body()
	}

	t.transition(Running, Done)
	t.doneOnce.Do(func() { close(t.done) })

	t.mu.Lock()
	successors := t.successors
	t.mu.Unlock()

	for _, s := range successors {
		if s.predecessorCount.Add(-1) == 0 {
			s.becomeReady()
		}
	}
}

// Done returns a channel closed when the task transitions to Done; Join
// waits on the same channel.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Join blocks the calling thread until the task is Done. Workers should not
// call Join directly — re-entrant waits route through
// worker.WaitForTasks instead (spec §4.D, §9).
func (t *Task) Join() {
	<-t.done
}
