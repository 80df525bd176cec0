package dedup

import "sort"

// Clusters partitions indices into connected components: an edge joins
// i and j when their similarity is at or above the threshold, and
// duplication is transitive across edges. Every index lands in exactly
// one cluster. Cluster members are ascending, and clusters are ordered
// by their first member.
func Clusters(m Matrix, threshold float64) [][]int {
	n := len(m)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if m[i][j] >= threshold {
				union(parent, i, j)
			}
		}
	}

	groups := make(map[int][]int, n)
	for i := 0; i < n; i++ {
		root := find(parent, i)
		groups[root] = append(groups[root], i)
	}

	clusters := make([][]int, 0, len(groups))
	for _, members := range groups {
		sort.Ints(members)
		clusters = append(clusters, members)
	}
	sort.Slice(clusters, func(a, b int) bool { return clusters[a][0] < clusters[b][0] })
	return clusters
}

// Survivors returns the lowest index of each cluster. Because clusters
// are ordered by first member, the result is ascending.
func Survivors(clusters [][]int) []int {
	survivors := make([]int, 0, len(clusters))
	for _, members := range clusters {
		survivors = append(survivors, members[0])
	}
	return survivors
}

// DuplicateCounts returns, for each index, how many other insights sit
// at or above the threshold.
func DuplicateCounts(m Matrix, threshold float64) []int {
	counts := make([]int, len(m))
	for i, row := range m {
		c := 0
		for _, s := range row {
			if s >= threshold {
				c++
			}
		}
		counts[i] = c - 1 // the diagonal always matches itself
	}
	return counts
}

// find resolves the root of i with path compression.
func find(parent []int, i int) int {
	for parent[i] != i {
		parent[i] = parent[parent[i]]
		i = parent[i]
	}
	return i
}

// union joins the components of a and b, keeping the lower root.
func union(parent []int, a, b int) {
	ra, rb := find(parent, a), find(parent, b)
	if ra == rb {
		return
	}
	if ra > rb {
		ra, rb = rb, ra
	}
	parent[rb] = ra
}
