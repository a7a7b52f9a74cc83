package topology

import "testing"

func TestSortRelative_SelfFirst(t *testing.T) {
	distances := [][]int{
		{10, 20, 30},
		{20, 10, 25},
		{30, 25, 10},
	}

	pm := SortRelative(distances)

	for i, row := range pm {
		if row[0] != NodeID(i) {
			t.Fatalf("node %d: expected self first, got %v", i, row)
		}
	}
}

func TestSortRelative_AscendingDistance(t *testing.T) {
	distances := [][]int{
		{10, 20, 30},
		{20, 10, 25},
		{30, 25, 10},
	}

	pm := SortRelative(distances)

	want := [][]NodeID{
		{0, 1, 2},
		{1, 0, 2},
		{2, 1, 0},
	}

	for i := range want {
		for j := range want[i] {
			if pm[i][j] != want[i][j] {
				t.Fatalf("row %d: expected %v, got %v", i, want[i], pm[i])
			}
		}
	}
}

func TestSortRelative_TieBreakAscendingID(t *testing.T) {
	distances := [][]int{
		{10, 20, 20},
		{20, 10, 20},
		{20, 20, 10},
	}

	pm := SortRelative(distances)

	if pm[0][1] != 1 || pm[0][2] != 2 {
		t.Fatalf("expected ties broken by ascending id, got %v", pm[0])
	}
}
