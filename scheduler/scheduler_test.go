package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/vantidb/numaexec/task"
	"github.com/vantidb/numaexec/topology"
)

// twoNodeOracle builds a deterministic two-node, two-CPU-per-node
// topology where node 0 and node 1 are each other's single hop.
func twoNodeOracle() *topology.Oracle {
	return topology.NewStaticOracle(
		[][]int{{0, 1}, {2, 3}},
		[][]int{{10, 20}, {20, 10}},
	)
}

func newTestScheduler(oracle *topology.Oracle) *Scheduler {
	return newScheduler(oracle)
}

func TestBegin_CreatesOneQueuePerNodeAndStartsWorkers(t *testing.T) {
	s := newTestScheduler(twoNodeOracle())
	s.Begin()
	defer s.Finish()

	if len(s.Queues()) != 2 {
		t.Fatalf("expected 2 queues, got %d", len(s.Queues()))
	}

	if len(s.Workers()) != 4 {
		t.Fatalf("expected 4 workers (2 cpus x 2 nodes), got %d", len(s.Workers()))
	}

	if !s.Active() {
		t.Fatal("expected scheduler active after Begin")
	}
}

func TestScheduleAndWait_LinearChainRunsInOrder(t *testing.T) {
	s := newTestScheduler(twoNodeOracle())
	s.Begin()
	defer s.Finish()

	var mu sync.Mutex
	var order []int

	record := func(n int) func() {
		return func() {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}
	}

	a := task.New(record(1))
	b := task.New(record(2))
	c := task.New(record(3))
	a.SetAsPredecessorOf(b)
	b.SetAsPredecessorOf(c)

	s.ScheduleAndWait([]*task.Task{a, b, c})

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected chain order [1 2 3], got %v", order)
	}
}

func TestScheduleAndWait_IndependentBatchAllRun(t *testing.T) {
	s := newTestScheduler(twoNodeOracle())
	s.Begin()
	defer s.Finish()

	var ran atomicCounter
	batch := make([]*task.Task, 20)
	for i := range batch {
		batch[i] = task.New(func() { ran.inc() })
	}

	s.ScheduleAndWait(batch)

	if got := ran.get(); got != 20 {
		t.Fatalf("expected 20 tasks to run, got %d", got)
	}
}

func TestScheduleOnPreferredNodesAndWait_RoutesByNode(t *testing.T) {
	s := newTestScheduler(twoNodeOracle())
	s.Begin()
	defer s.Finish()

	var mu sync.Mutex
	ranOnNode := map[int]bool{}

	batch := []*task.Task{
		task.New(func() {
			mu.Lock()
			ranOnNode[0] = true
			mu.Unlock()
		}),
		task.New(func() {
			mu.Lock()
			ranOnNode[1] = true
			mu.Unlock()
		}),
	}

	s.ScheduleOnPreferredNodesAndWait(batch, []topology.NodeID{0, 1})

	mu.Lock()
	defer mu.Unlock()
	if !ranOnNode[0] || !ranOnNode[1] {
		t.Fatalf("expected both preferred-node tasks to run, got %v", ranOnNode)
	}

	if got := s.Stats().CorrectlyRouted; got != 2 {
		t.Fatalf("expected both tasks routed to their preferred node's queue, got %d", got)
	}
}

func TestScheduleOnPreferredNodesAndWait_InvalidNodePreservesExistingPreference(t *testing.T) {
	s := newTestScheduler(twoNodeOracle())
	s.Begin()
	defer s.Finish()

	tk := task.New(func() {})
	tk.SetNodeID(1)

	s.ScheduleOnPreferredNodesAndWait([]*task.Task{tk}, []topology.NodeID{topology.InvalidNode})

	if tk.NodeID() != 1 {
		t.Fatalf("expected preexisting preferred node 1 to survive an InvalidNode pairing, got %v", tk.NodeID())
	}
}

func TestOrderedQueueIDs_SelfFirst(t *testing.T) {
	s := newTestScheduler(twoNodeOracle())
	s.Begin()
	defer s.Finish()

	row := s.OrderedQueueIDs(1)
	if len(row) == 0 || row[0] != 1 {
		t.Fatalf("expected self-first ordering, got %v", row)
	}
}

func TestGroupingPass_CapsParallelismPerNode(t *testing.T) {
	s := newTestScheduler(twoNodeOracle())
	s.SetGroupFactor(2)
	s.Begin()
	defer s.Finish()

	var mu sync.Mutex
	var concurrent, maxConcurrent int

	body := func() func() {
		return func() {
			mu.Lock()
			concurrent++
			if concurrent > maxConcurrent {
				maxConcurrent = concurrent
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			concurrent--
			mu.Unlock()
		}
	}

	batch := make([]*task.Task, 8)
	preferred := make([]topology.NodeID, 8)
	for i := range batch {
		batch[i] = task.New(body())
		preferred[i] = 0
	}

	s.ScheduleOnPreferredNodesAndWait(batch, preferred)

	mu.Lock()
	defer mu.Unlock()
	if maxConcurrent > 2 {
		t.Fatalf("expected at most G=2 concurrent tasks on node 0, observed %d", maxConcurrent)
	}
}

func TestGroup_IdempotentOnExactMultipleOfG(t *testing.T) {
	s := newTestScheduler(twoNodeOracle())
	s.SetGroupFactor(4)

	batch := make([]*task.Task, 4)
	for i := range batch {
		batch[i] = task.New(func() {})
		batch[i].SetNodeID(0)
	}

	s.group(batch)

	for _, tk := range batch {
		if tk.HasEdges() {
			t.Fatalf("expected no collisions on first pass (batch size == G), got edges on %p", tk)
		}
	}

	// A second pass over the same batch must not panic (no self-edges)
	// and must leave every task's in-degree unchanged (spec §8).
	s.group(batch)

	for _, tk := range batch {
		if tk.HasEdges() {
			t.Fatalf("expected grouping pass to be idempotent, got new edges on %p after repeat call", tk)
		}
	}
}

func TestGroup_IdempotentWithCollisions(t *testing.T) {
	s := newTestScheduler(twoNodeOracle())
	s.SetGroupFactor(2)

	batch := make([]*task.Task, 5)
	for i := range batch {
		batch[i] = task.New(func() {})
		batch[i].SetNodeID(0)
	}

	s.group(batch)

	predecessorCounts := func() []bool {
		out := make([]bool, len(batch))
		for i, tk := range batch {
			out[i] = tk.HasEdges()
		}

		return out
	}

	after1 := predecessorCounts()

	s.group(batch)

	after2 := predecessorCounts()

	for i := range batch {
		if after1[i] != after2[i] {
			t.Fatalf("task %d: HasEdges changed across repeat grouping pass (%v -> %v)", i, after1[i], after2[i])
		}
	}
}

func TestSchedule_PanicsWhenInactive(t *testing.T) {
	s := newTestScheduler(twoNodeOracle())

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic scheduling before Begin")
		}
	}()

	s.Schedule(task.New(func() {}), task.Default)
}

type atomicCounter struct {
	mu sync.Mutex
	n  int
}

func (c *atomicCounter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *atomicCounter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.n
}
