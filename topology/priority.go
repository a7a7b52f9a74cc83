package topology

import "sort"

// PriorityMatrix holds, per node, the permutation of all node ids sorted
// by ascending distance from that node; ties are broken by ascending id.
// Row i's own id is always first (spec §3, §8: OrderedQueueIDs(n)[0] == n).
type PriorityMatrix [][]NodeID

// SortRelative derives the node-sorted order from a distance matrix. Pure
// function: same input always produces the same output (spec §4.B).
func SortRelative(distances [][]int) PriorityMatrix {
	n := len(distances)
	out := make(PriorityMatrix, n)

	for i := 0; i < n; i++ {
		row := make([]NodeID, n)
		for j := 0; j < n; j++ {
			row[j] = NodeID(j)
		}

		dist := distances[i]
		sort.SliceStable(row, func(a, b int) bool {
			da, db := dist[row[a]], dist[row[b]]
			if da != db {
				return da < db
			}

			return row[a] < row[b]
		})

		out[i] = row
	}

	return out
}
