package dedup

import (
	"math"
	"math/rand"
)

// GreedyEstimate runs repeated greedy deduplication passes over random
// orderings of the matrix and returns the mean and population standard
// deviation of the surviving counts. The same seed always produces the
// same estimate, so group reports stay comparable between runs.
func GreedyEstimate(m Matrix, threshold float64, runs int, seed int64) (mean, std float64) {
	n := len(m)
	if n == 0 || runs <= 0 {
		return 0, 0
	}

	rng := rand.New(rand.NewSource(seed))
	counts := make([]float64, runs)

	for r := 0; r < runs; r++ {
		order := rng.Perm(n)
		kept := make([]int, 0, n)

		for _, idx := range order {
			duplicate := false
			for _, k := range kept {
				if m[idx][k] >= threshold {
					duplicate = true
					break
				}
			}
			if !duplicate {
				kept = append(kept, idx)
			}
		}
		counts[r] = float64(len(kept))
	}

	for _, c := range counts {
		mean += c
	}
	mean /= float64(runs)

	for _, c := range counts {
		std += (c - mean) * (c - mean)
	}
	std = math.Sqrt(std / float64(runs))

	return mean, std
}
