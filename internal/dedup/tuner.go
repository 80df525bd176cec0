package dedup

import "math/rand"

// Band is one similarity range reviewed during threshold tuning.
// Membership is [Min, Max).
type Band struct {
	Min   float64
	Max   float64
	Label string
}

// DefaultBands cover the range where the duplicate boundary usually
// sits. Reviewers pick the band where duplicates start to appear.
var DefaultBands = []Band{
	{0.95, 1.00, "Very High"},
	{0.90, 0.95, "High"},
	{0.85, 0.90, "Medium-High"},
	{0.80, 0.85, "Medium"},
	{0.75, 0.80, "Medium-Low"},
	{0.70, 0.75, "Low"},
}

// Pair is a sampled insight pair with its similarity.
type Pair struct {
	I          int
	J          int
	Similarity float64
}

// SamplePairs draws up to perBand pairs from the upper triangle of the
// matrix for each band, without replacement. Bands with no pairs map to
// an empty slice.
func SamplePairs(m Matrix, bands []Band, perBand int, seed int64) map[string][]Pair {
	if len(bands) == 0 {
		bands = DefaultBands
	}

	candidates := make(map[string][]Pair, len(bands))
	for i := 0; i < len(m); i++ {
		for j := i + 1; j < len(m); j++ {
			s := m[i][j]
			for _, band := range bands {
				if s >= band.Min && s < band.Max {
					candidates[band.Label] = append(candidates[band.Label], Pair{I: i, J: j, Similarity: s})
					break
				}
			}
		}
	}

	rng := rand.New(rand.NewSource(seed))
	sampled := make(map[string][]Pair, len(bands))
	for _, band := range bands {
		pairs := candidates[band.Label]
		if len(pairs) > perBand {
			picked := make([]Pair, 0, perBand)
			for _, idx := range rng.Perm(len(pairs))[:perBand] {
				picked = append(picked, pairs[idx])
			}
			pairs = picked
		}
		sampled[band.Label] = pairs
	}
	return sampled
}
