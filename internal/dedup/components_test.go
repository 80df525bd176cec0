package dedup

import "testing"

// chainMatrix links 0-1 and 1-2 above the threshold while 0-2 stays
// below it, so transitivity decides whether they share a cluster.
func chainMatrix() Matrix {
	return Matrix{
		{1.0, 0.9, 0.1},
		{0.9, 1.0, 0.9},
		{0.1, 0.9, 1.0},
	}
}

func TestClustersTransitive(t *testing.T) {
	clusters := Clusters(chainMatrix(), 0.85)

	if len(clusters) != 1 {
		t.Fatalf("clusters = %v, want one transitive cluster", clusters)
	}
	if len(clusters[0]) != 3 {
		t.Errorf("cluster = %v, want all three members", clusters[0])
	}
}

func TestClustersPartition(t *testing.T) {
	// Pairs (0,3) and (1,4) are duplicates; 2 stands alone.
	m := Matrix{
		{1.0, 0.1, 0.1, 0.9, 0.1},
		{0.1, 1.0, 0.1, 0.1, 0.9},
		{0.1, 0.1, 1.0, 0.1, 0.1},
		{0.9, 0.1, 0.1, 1.0, 0.1},
		{0.1, 0.9, 0.1, 0.1, 1.0},
	}
	clusters := Clusters(m, 0.85)

	if len(clusters) != 3 {
		t.Fatalf("got %d clusters, want 3: %v", len(clusters), clusters)
	}

	// Every index appears in exactly one cluster.
	seen := make(map[int]int)
	for _, members := range clusters {
		for _, idx := range members {
			seen[idx]++
		}
	}
	for i := 0; i < 5; i++ {
		if seen[i] != 1 {
			t.Errorf("index %d appears %d times, want exactly once", i, seen[i])
		}
	}

	survivors := Survivors(clusters)
	if len(survivors) != 3 || survivors[0] != 0 || survivors[1] != 1 || survivors[2] != 2 {
		t.Errorf("survivors = %v, want [0 1 2]", survivors)
	}
}

func TestClustersNoDuplicates(t *testing.T) {
	m := Matrix{
		{1.0, 0.1, 0.1},
		{0.1, 1.0, 0.1},
		{0.1, 0.1, 1.0},
	}
	clusters := Clusters(m, 0.85)

	if len(clusters) != 3 {
		t.Errorf("got %d clusters, want 3 singletons", len(clusters))
	}
	survivors := Survivors(clusters)
	for i, s := range survivors {
		if s != i {
			t.Errorf("survivors = %v, want identity", survivors)
			break
		}
	}
}

func TestDuplicateCounts(t *testing.T) {
	counts := DuplicateCounts(chainMatrix(), 0.85)

	want := []int{1, 2, 1}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("counts[%d] = %d, want %d", i, counts[i], want[i])
		}
	}
}

func TestGreedyEstimateAllDuplicates(t *testing.T) {
	m := Matrix{
		{1.0, 0.95, 0.95},
		{0.95, 1.0, 0.95},
		{0.95, 0.95, 1.0},
	}
	mean, std := GreedyEstimate(m, 0.85, 10, 42)

	if mean != 1.0 {
		t.Errorf("mean = %f, want 1.0 when everything is a duplicate", mean)
	}
	if std != 0.0 {
		t.Errorf("std = %f, want 0.0", std)
	}
}

func TestGreedyEstimateNoDuplicates(t *testing.T) {
	m := Matrix{
		{1.0, 0.1, 0.1},
		{0.1, 1.0, 0.1},
		{0.1, 0.1, 1.0},
	}
	mean, std := GreedyEstimate(m, 0.85, 10, 42)

	if mean != 3.0 {
		t.Errorf("mean = %f, want 3.0 when nothing is a duplicate", mean)
	}
	if std != 0.0 {
		t.Errorf("std = %f, want 0.0", std)
	}
}

func TestGreedyEstimateDeterministic(t *testing.T) {
	// The chain matrix is order-sensitive: starting from the middle
	// keeps 1 insight, starting from an end keeps 2.
	m := chainMatrix()

	mean1, std1 := GreedyEstimate(m, 0.85, 10, 42)
	mean2, std2 := GreedyEstimate(m, 0.85, 10, 42)

	if mean1 != mean2 || std1 != std2 {
		t.Errorf("same seed gave (%f, %f) and (%f, %f)", mean1, std1, mean2, std2)
	}
	if mean1 < 1.0 || mean1 > 2.0 {
		t.Errorf("mean = %f, want within [1, 2]", mean1)
	}
}

func TestGreedyEstimateEmpty(t *testing.T) {
	mean, std := GreedyEstimate(Matrix{}, 0.85, 10, 42)
	if mean != 0 || std != 0 {
		t.Errorf("empty matrix gave (%f, %f), want (0, 0)", mean, std)
	}
}
