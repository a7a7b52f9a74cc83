package scheduler

import (
	"log"

	"github.com/vantidb/numaexec/task"
)

// group caps the fan-out of an independent batch by chaining tasks that
// land in the same round-robin slot into a predecessor chain, so that at
// most G lines run in parallel per node. Tasks that already carry edges
// are left untouched, since chaining them could form a cycle (spec §4.G).
// Each task is assigned a slot at most once: a task's own identity, not
// just whether it has edges, marks it as already grouped, so a second
// call over the same batch (including one where no task collided into a
// shared slot on the first pass) leaves every in-degree unchanged.
func (s *Scheduler) group(batch []*task.Task) {
	// Slots chain tasks within one pass only: a task left in a slot by an
	// earlier batch has already been scheduled and can take no new edge.
	s.mu.Lock()
	s.groupSlotsNUMA = make(map[int]*task.Task)
	s.groupSlotsDefault = make(map[int]*task.Task)
	s.mu.Unlock()

	if s.allPreferNode(batch) {
		s.groupNUMAAware(batch)

		return
	}

	s.groupDefault(batch)
}

func (s *Scheduler) allPreferNode(batch []*task.Task) bool {
	numNodes := s.oracle.NumNodes()

	for _, t := range batch {
		if !t.NodeID().Valid(numNodes) {
			return false
		}
	}

	return true
}

// groupNUMAAware applies when every task names a valid preferred node:
// group = G*node + (round_robin[node] mod G).
func (s *Scheduler) groupNUMAAware(batch []*task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range batch {
		if t.HasEdges() {
			continue
		}

		if _, done := s.grouped[t]; done {
			continue
		}

		node := int(t.NodeID())
		slot := s.groupFactor*node + int(s.roundRobin[node]%int64(s.groupFactor))
		s.roundRobin[node]++

		if occupant, ok := s.groupSlotsNUMA[slot]; ok {
			t.SetAsPredecessorOf(occupant)
		}

		s.groupSlotsNUMA[slot] = t
		s.grouped[t] = struct{}{}
	}
}

// groupDefault applies when at least one task in the batch has no valid
// preferred node: a single global round-robin over G groups, same
// chaining rule. Logs (rather than asserting, since this is a release
// build) when the batch doesn't share a single preferred node, matching
// spec's "asserts ... in debug mode" loosened for a library without
// build-mode assertions.
func (s *Scheduler) groupDefault(batch []*task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(batch) > 0 {
		first := batch[0].NodeID()
		for _, t := range batch[1:] {
			if t.NodeID() != first {
				log.Printf("scheduler: default grouping pass over a batch with mixed preferred nodes (%v, %v)", first, t.NodeID())

				break
			}
		}
	}

	for _, t := range batch {
		if t.HasEdges() {
			continue
		}

		if _, done := s.grouped[t]; done {
			continue
		}

		slot := int(s.globalRoundRobin % int64(s.groupFactor))
		s.globalRoundRobin++

		if occupant, ok := s.groupSlotsDefault[slot]; ok {
			t.SetAsPredecessorOf(occupant)
		}

		s.groupSlotsDefault[slot] = t
		s.grouped[t] = struct{}{}
	}
}
