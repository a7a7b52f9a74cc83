// Package scheduler ties topology, queue, and worker together into the
// process-wide execution substrate: one queue and a pool of pinned
// workers per NUMA node, a routing policy that picks a queue for a task
// with no hard preference, and a grouping pass that caps the fan-out of
// an independent batch (spec §4.G).
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vantidb/numaexec/config"
	"github.com/vantidb/numaexec/internal/xerrors"
	"github.com/vantidb/numaexec/queue"
	"github.com/vantidb/numaexec/task"
	"github.com/vantidb/numaexec/topology"
	"github.com/vantidb/numaexec/worker"
)

// drainPollLimit bounds how many short sleeps finish() allows per queue
// while confirming it has actually drained (spec §4.G: "at most 1000
// short sleeps allowed per queue").
const drainPollLimit = 1000

// drainPollInterval is the sleep between drain checks in finish().
const drainPollInterval = time.Millisecond

// defaultGroupFactor is G's value absent an explicit config override
// (DESIGN.md: Open Question decision).
const defaultGroupFactor = 4

// Stats holds the scheduler's advisory, eventually-consistent counters
// (spec §5: "Counters ... are advisory; they are allowed to be eventually
// consistent"), exposed the way the teacher's Optimizer exposes
// GetStatistics().
type Stats struct {
	Scheduled      int64
	Stolen         int64
	CorrectlyRouted int64
	NoPreference   int64
	Executed       int64
}

// Scheduler is the process-wide execution substrate (spec §3, §4.G).
type Scheduler struct {
	oracle   *topology.Oracle
	priority topology.PriorityMatrix

	queues  []*queue.Queue
	workers []*worker.Worker

	active atomic.Bool
	nextID atomic.Uint64

	issued   atomic.Int64
	finished atomic.Int64

	scheduled       atomic.Int64
	stolen          atomic.Int64
	correctlyRouted atomic.Int64
	noPreference    atomic.Int64

	groupFactor int // G: tuning knob capping per-node parallel lines (spec §4.G)

	mu                sync.Mutex // protects round-robin counters and slot maps during the grouping pass
	roundRobin        []int64    // per-node round-robin counter, NUMA-aware mode
	globalRoundRobin  int64      // single round-robin counter, default mode
	groupSlotsNUMA    map[int]*task.Task
	groupSlotsDefault map[int]*task.Task
	grouped           map[*task.Task]struct{} // tasks already assigned a slot, so a repeat pass over the same batch is a no-op

	priorities   sync.Mutex
	taskPriority map[*task.Task]task.Priority
}

var (
	instance     *Scheduler
	instanceOnce sync.Once
)

// Get returns the process-wide scheduler, constructing it lazily on first
// call (spec §6: Scheduler::get()).
func Get() *Scheduler {
	instanceOnce.Do(func() {
		instance = newScheduler(topology.NewOracle())
		task.RegisterScheduler(instance.submit)
	})

	return instance
}

func newScheduler(oracle *topology.Oracle) *Scheduler {
	return &Scheduler{
		oracle:            oracle,
		priority:          topology.SortRelative(oracle.Distances()),
		roundRobin:        make([]int64, oracle.NumNodes()),
		taskPriority:      make(map[*task.Task]task.Priority),
		groupFactor:       defaultGroupFactor,
		groupSlotsNUMA:    make(map[int]*task.Task),
		groupSlotsDefault: make(map[int]*task.Task),
		grouped:           make(map[*task.Task]struct{}),
	}
}

// Active reports whether the scheduler has been begun and not yet
// finished.
func (s *Scheduler) Active() bool {
	return s.active.Load()
}

// Begin reserves one queue per node, one worker per CPU bound to its
// node's queue, and starts all workers (spec §4.G: begin()). The priority
// matrix is computed once, when the scheduler is constructed.
func (s *Scheduler) Begin() {
	numNodes := s.oracle.NumNodes()

	s.queues = make([]*queue.Queue, numNodes)
	for n := 0; n < numNodes; n++ {
		s.queues[n] = queue.New(topology.NodeID(n))
	}

	s.roundRobin = make([]int64, numNodes)

	var workers []*worker.Worker
	id := 0
	for n := 0; n < numNodes; n++ {
		for _, cpu := range s.oracle.CPUsOf(topology.NodeID(n)) {
			w := worker.New(id, cpu, topology.NodeID(n), s.queues[n], s)
			workers = append(workers, w)
			id++
		}
	}
	s.workers = workers

	s.active.Store(true)

	for _, w := range s.workers {
		w.Start()
	}
}

// Finish drains the scheduler: spins until every issued task has
// finished, confirms every queue is actually empty, marks the scheduler
// inactive, then joins every worker (spec §4.G: finish()).
func (s *Scheduler) Finish() {
	for s.finished.Load() < s.issued.Load() {
		time.Sleep(drainPollInterval)
	}

	for _, q := range s.queues {
		for i := 0; i < drainPollLimit && !q.Empty(); i++ {
			time.Sleep(drainPollInterval)
		}

		if !q.Empty() {
			panic(xerrors.Invariant("QUEUE_NOT_DRAINED", "queue still non-empty after drain poll limit",
				map[string]interface{}{"node": int(q.Node()), "load": q.EstimateLoad()}))
		}

		q.Close()
	}

	s.active.Store(false)

	for _, w := range s.workers {
		w.Stop()
	}
	for _, w := range s.workers {
		w.Join()
	}
}

// Schedule assigns a fresh id to t and either enqueues it now (if it has
// no outstanding predecessors) or lets a completing predecessor enqueue
// it later (spec §4.G: schedule(task, priority)).
func (s *Scheduler) Schedule(t *task.Task, priority task.Priority) {
	if !s.Active() {
		panic(xerrors.Invariant("SCHEDULE_WHILE_INACTIVE", "schedule called before begin or after finish", nil))
	}

	id := s.nextID.Add(1)
	s.issued.Add(1)
	s.setPriority(t, priority)

	t.Activate(id, t.NodeID(), s)
}

// ScheduleTasks calls Schedule over the batch in order (spec §4.G:
// schedule_tasks(batch)).
func (s *Scheduler) ScheduleTasks(batch []*task.Task, priority task.Priority) {
	for _, t := range batch {
		s.Schedule(t, priority)
	}
}

// ScheduleOnPreferredNodesAndWait applies the grouping pass, schedules
// each task on its paired preferred node, then waits for the whole batch
// (spec §4.G: schedule_on_preferred_nodes_and_wait(batch, preferred_nodes)).
func (s *Scheduler) ScheduleOnPreferredNodesAndWait(batch []*task.Task, preferred []topology.NodeID) {
	if len(batch) != len(preferred) {
		panic(xerrors.Invariant("BATCH_LENGTH_MISMATCH", "batch and preferred_nodes must have equal length",
			map[string]interface{}{"batch": len(batch), "preferred": len(preferred)}))
	}

	for i, t := range batch {
		if preferred[i] != topology.InvalidNode {
			t.SetNodeID(preferred[i])
		}
	}

	s.group(batch)

	for _, t := range batch {
		s.Schedule(t, task.Default)
	}

	s.WaitForTasks(batch)
}

// ScheduleAndWait applies the grouping pass, schedules every task, then
// waits for the batch (spec §4.G: schedule_and_wait(batch)).
func (s *Scheduler) ScheduleAndWait(batch []*task.Task) {
	s.group(batch)
	s.ScheduleTasks(batch, task.Default)
	s.WaitForTasks(batch)
}

// WaitForTasks delegates to the re-entrant worker wait when called from
// inside a worker, else joins each task directly (spec §4.G:
// wait_for_tasks(batch)).
func (s *Scheduler) WaitForTasks(batch []*task.Task) {
	worker.WaitForTasks(batch)
}

// Queues returns the per-node queues.
func (s *Scheduler) Queues() []*queue.Queue {
	return s.queues
}

// Workers returns every worker in the pool.
func (s *Scheduler) Workers() []*worker.Worker {
	return s.workers
}

// OrderedQueueIDs returns the distance-sorted node order for node, self
// first (spec §4.B, §6).
func (s *Scheduler) OrderedQueueIDs(node topology.NodeID) []topology.NodeID {
	return s.priority[node]
}

// SetGroupFactor overrides G, the grouping pass's per-node fan-out cap.
// Safe to call before Begin or between batches. It takes the same lock as
// the grouping pass, so a call made during an in-flight pass waits for it
// and applies from the next pass. Consulted by config's hot-reload.
func (s *Scheduler) SetGroupFactor(g int) {
	if g < 1 {
		g = 1
	}

	s.mu.Lock()
	s.groupFactor = g
	s.mu.Unlock()
}

// UseConfig wires cfg's grouping factor into the scheduler and subscribes
// to future hot-reloads, so an edit to the config file takes effect on
// the next grouping pass without a restart.
func (s *Scheduler) UseConfig(cfg *config.Config) {
	s.SetGroupFactor(cfg.GroupFactor())

	cfg.OnChange(func(c *config.Config) {
		s.SetGroupFactor(c.GroupFactor())
	})
}

// BeginCompatible is Begin gated by a minimum API version constraint
// (e.g. ">=1.0.0"), failing fast instead of starting a scheduler an old
// caller doesn't expect.
func (s *Scheduler) BeginCompatible(minVersion string) error {
	ok, err := config.Satisfies(minVersion)
	if err != nil {
		return err
	}

	if !ok {
		return xerrors.New(xerrors.CategoryValidation, "API_VERSION_MISMATCH",
			"execution substrate API version does not satisfy caller constraint",
			map[string]interface{}{"constraint": minVersion, "version": config.APIVersion().String()})
	}

	s.Begin()

	return nil
}

// Stats returns a snapshot of the advisory counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Scheduled:       s.scheduled.Load(),
		Stolen:          s.stolen.Load(),
		CorrectlyRouted: s.correctlyRouted.Load(),
		NoPreference:    s.noPreference.Load(),
		Executed:        s.finished.Load(),
	}
}

// submit is installed via task.RegisterScheduler so Task.Schedule /
// Task.ScheduleOn can reach the process-wide scheduler without task
// importing this package.
func (s *Scheduler) submit(t *task.Task, node topology.NodeID) {
	if node != topology.InvalidNode {
		t.SetNodeID(node)
	}

	s.Schedule(t, task.Default)
}

// EnqueueReady implements task.Enqueuer: routes t to a queue via the
// routing policy and pushes it, recording the advisory counters.
func (s *Scheduler) EnqueueReady(t *task.Task) {
	q := s.determineQueue(t.NodeID())
	s.scheduled.Add(1)
	q.Push(t, s.priorityOf(t))
}

// setPriority records the priority a task was scheduled with; EnqueueReady
// consults it later, possibly from a different goroutine (the predecessor
// that completes and triggers becomeReady).
func (s *Scheduler) setPriority(t *task.Task, p task.Priority) {
	s.priorities.Lock()
	s.taskPriority[t] = p
	s.priorities.Unlock()
}

// priorityOf returns t's recorded priority and forgets it, since each task
// is enqueued at most once.
func (s *Scheduler) priorityOf(t *task.Task) task.Priority {
	s.priorities.Lock()
	p := s.taskPriority[t]
	delete(s.taskPriority, t)
	s.priorities.Unlock()

	return p
}

// QueueForNode implements worker.Host.
func (s *Scheduler) QueueForNode(node topology.NodeID) *queue.Queue {
	if !node.Valid(len(s.queues)) {
		return nil
	}

	return s.queues[node]
}

// PriorityRow implements worker.Host.
func (s *Scheduler) PriorityRow(node topology.NodeID) []topology.NodeID {
	return s.priority[node]
}

// RecordStolen implements worker.Host.
func (s *Scheduler) RecordStolen() {
	s.stolen.Add(1)
}

// RecordExecuted implements worker.Host.
func (s *Scheduler) RecordExecuted() {
	s.finished.Add(1)
}

// determineQueue implements the routing policy (spec §4.G:
// determine_queue(preferred_node)).
func (s *Scheduler) determineQueue(preferred topology.NodeID) *queue.Queue {
	if len(s.queues) == 1 {
		return s.queues[0]
	}

	if preferred.Valid(len(s.queues)) {
		s.correctlyRouted.Add(1)

		return s.queues[preferred]
	}

	s.noPreference.Add(1)

	if w := worker.Current(); w != nil {
		return s.queues[w.NodeID()]
	}

	workersPerNode := s.workersPerNode(0)
	if s.queues[0].EstimateLoad() < int64(workersPerNode) {
		return s.queues[0]
	}

	best := s.queues[0]
	bestLoad := best.EstimateLoad()

	for _, q := range s.queues[1:] {
		if load := q.EstimateLoad(); load < bestLoad {
			best = q
			bestLoad = load
		}
	}

	return best
}

func (s *Scheduler) workersPerNode(node topology.NodeID) int {
	count := 0
	for _, w := range s.workers {
		if w.NodeID() == node {
			count++
		}
	}

	return count
}
