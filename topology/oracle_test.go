package topology

import "testing"

func TestNewOracle_AlwaysAtLeastOneNode(t *testing.T) {
	o := NewOracle()

	if o.NumNodes() < 1 {
		t.Fatalf("expected at least one node, got %d", o.NumNodes())
	}

	if len(o.Distances()) != o.NumNodes() {
		t.Fatalf("distance matrix size mismatch: %d rows for %d nodes", len(o.Distances()), o.NumNodes())
	}
}

func TestUniformTopology_OffDiagonalsEqualDiagonal(t *testing.T) {
	nodes, distances := uniformTopology(4, 2)

	if len(nodes) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(nodes))
	}

	diag := distances[0][0]

	for i, row := range distances {
		for j, v := range row {
			if i == j {
				continue
			}

			if v != diag {
				t.Fatalf("expected uniform off-diagonal %d, got %d at [%d][%d]", diag, v, i, j)
			}
		}
	}
}

func TestOracle_CPUsOf_InvalidNode(t *testing.T) {
	o := NewOracle()

	if cpus := o.CPUsOf(InvalidNode); cpus != nil {
		t.Fatalf("expected nil CPUs for sentinel node, got %v", cpus)
	}

	if cpus := o.CPUsOf(NodeID(o.NumNodes() + 100)); cpus != nil {
		t.Fatalf("expected nil CPUs for out-of-range node, got %v", cpus)
	}
}
