// Package dedup finds near-duplicate insights with weighted embedding
// similarity, selects one survivor per duplicate cluster and reports
// duplication analytics by model, cohort and template.
package dedup

import (
	"fmt"
	"log"
	"math"
)

// Weights control how much each insight field contributes to the
// combined similarity. Hooks and actions carry most of the signal;
// explanations tend to converge on the same phrasing either way.
type Weights struct {
	Hook        float64
	Explanation float64
	Action      float64
}

// DefaultWeights match the ratios the similarity threshold was tuned
// against.
var DefaultWeights = Weights{Hook: 0.4, Explanation: 0.2, Action: 0.4}

// Normalize scales the weights to sum to 1. A set that does not sum to
// 1 is accepted with a warning. Negative or all-zero weights are errors.
func (w Weights) Normalize() (Weights, error) {
	if w.Hook < 0 || w.Explanation < 0 || w.Action < 0 {
		return Weights{}, fmt.Errorf("similarity weights must be non-negative, got %+v", w)
	}
	sum := w.Hook + w.Explanation + w.Action
	if sum == 0 {
		return Weights{}, fmt.Errorf("similarity weights are all zero")
	}
	if math.Abs(sum-1.0) > 1e-9 {
		log.Printf("similarity weights sum to %.3f, renormalizing", sum)
	}
	return Weights{
		Hook:        w.Hook / sum,
		Explanation: w.Explanation / sum,
		Action:      w.Action / sum,
	}, nil
}

// Matrix is a dense n x n similarity matrix.
type Matrix [][]float64

// Submatrix extracts the rows and columns at the given indices.
func (m Matrix) Submatrix(indices []int) Matrix {
	sub := make(Matrix, len(indices))
	for i, row := range indices {
		sub[i] = make([]float64, len(indices))
		for j, col := range indices {
			sub[i][j] = m[row][col]
		}
	}
	return sub
}

// SimilarityMatrix combines per-field cosine similarities using the
// given weights. The result is symmetric, has an exact 1 diagonal and
// every entry clamped to [0, 1].
func SimilarityMatrix(hooks, explanations, actions [][]float64, w Weights) (Matrix, error) {
	n := len(hooks)
	if len(explanations) != n || len(actions) != n {
		return nil, fmt.Errorf("embedding sets have mismatched lengths: %d hooks, %d explanations, %d actions",
			n, len(explanations), len(actions))
	}

	norm, err := w.Normalize()
	if err != nil {
		return nil, err
	}

	m := make(Matrix, n)
	for i := range m {
		m[i] = make([]float64, n)
		m[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := norm.Hook*cosine(hooks[i], hooks[j]) +
				norm.Explanation*cosine(explanations[i], explanations[j]) +
				norm.Action*cosine(actions[i], actions[j])
			s = clamp01(s)
			m[i][j] = s
			m[j][i] = s
		}
	}
	return m, nil
}

// cosine returns the cosine similarity of a and b. A zero vector has
// similarity 0 with everything.
func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
