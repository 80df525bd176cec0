package dedup

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/geniehealth/dyk/internal/config"
	"github.com/geniehealth/dyk/internal/database"
	"github.com/geniehealth/dyk/internal/llm"
)

const (
	DefaultThreshold  = 0.85
	DefaultGreedyRuns = 10
	DefaultSeed       = 42

	// worstInsightCount caps the most-duplicated list in the report.
	worstInsightCount = 20
)

// Engine runs deduplication and duplication analytics over a generated
// insight set.
type Engine struct {
	embedder  llm.Embedder
	weights   Weights
	threshold float64
	runs      int
	seed      int64
}

// New creates a deduplication engine. Zero-valued settings fall back to
// the defaults.
func New(embedder llm.Embedder, cfg config.Dedup) *Engine {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	runs := cfg.GreedyRuns
	if runs <= 0 {
		runs = DefaultGreedyRuns
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = DefaultSeed
	}
	weights := Weights{Hook: cfg.Weights.Hook, Explanation: cfg.Weights.Explanation, Action: cfg.Weights.Action}
	if weights == (Weights{}) {
		weights = DefaultWeights
	}

	return &Engine{
		embedder:  embedder,
		weights:   weights,
		threshold: threshold,
		runs:      runs,
		seed:      seed,
	}
}

// Threshold returns the effective similarity threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

// Result holds everything the dedup stage produces for one insight set.
type Result struct {
	Matrix    Matrix
	Clusters  [][]int
	Survivors []int
	Analytics *Report
	Duration  time.Duration
}

// Report is the duplication analysis saved with each pipeline run.
type Report struct {
	Overall         OverallStats   `json:"overall"`
	ByModel         []GroupStats   `json:"by_model"`
	ByCohort        []GroupStats   `json:"by_cohort"`
	ByTemplate      []GroupStats   `json:"by_template"`
	CohortOverlap   []Overlap      `json:"cohort_overlap"`
	TemplateOverlap []Overlap      `json:"template_overlap"`
	WorstInsights   []WorstInsight `json:"worst_insights"`
}

// OverallStats summarizes duplication across the whole insight set.
type OverallStats struct {
	TotalInsights    int     `json:"total_insights"`
	GreedyUniqueMean float64 `json:"greedy_unique_mean"`
	GreedyUniqueStd  float64 `json:"greedy_unique_std"`
	GreedyUniquePct  float64 `json:"greedy_unique_pct"`
	ClusterCount     int     `json:"cluster_count"`
	ClusterPct       float64 `json:"cluster_pct"`
	MeanDuplicates   float64 `json:"mean_duplicates_per_insight"`
}

// GroupStats describes duplication inside one group of insights.
type GroupStats struct {
	Group             string  `json:"group"`
	TotalInsights     int     `json:"total_insights"`
	GreedyUniqueMean  float64 `json:"greedy_unique_mean"`
	GreedyUniqueStd   float64 `json:"greedy_unique_std"`
	GreedyUniquePct   float64 `json:"greedy_unique_pct"`
	ClusterCount      int     `json:"cluster_count"`
	ClusterPct        float64 `json:"cluster_pct"`
	MeanDuplicates    float64 `json:"mean_duplicates_per_insight"`
	MaxDuplicates     int     `json:"max_duplicates"`
	PctNoDuplicates   float64 `json:"pct_with_0_duplicates"`
	PctManyDuplicates float64 `json:"pct_with_5plus_duplicates"`
}

// Overlap counts near-duplicate pairs spanning two groups.
type Overlap struct {
	Group1       string  `json:"group_1"`
	Group2       string  `json:"group_2"`
	OverlapCount int     `json:"overlap_count"`
	TotalPairs   int     `json:"total_possible_pairs"`
	OverlapPct   float64 `json:"overlap_pct"`
}

// WorstInsight is one of the most duplicated insights.
type WorstInsight struct {
	Rank           int    `json:"rank"`
	DuplicateCount int    `json:"duplicate_count"`
	Hook           string `json:"hook"`
	Explanation    string `json:"explanation"`
	Action         string `json:"action"`
	Model          string `json:"model"`
	Cohort         string `json:"cohort"`
	Template       string `json:"insight_template"`
}

// Deduplicate embeds the insight fields, builds the weighted similarity
// matrix, selects one survivor per duplicate cluster and compiles the
// analytics report.
func (e *Engine) Deduplicate(ctx context.Context, insights []database.Insight) (*Result, error) {
	start := time.Now()
	n := len(insights)
	if n == 0 {
		return &Result{Analytics: &Report{}, Duration: time.Since(start)}, nil
	}

	log.Printf("Generating embeddings for %d insights...", n)
	hooks, explanations, actions, err := e.embedFields(ctx, insights)
	if err != nil {
		return nil, err
	}
	if len(hooks) != n {
		return nil, fmt.Errorf("embedder returned %d vectors for %d insights", len(hooks), n)
	}

	m, err := SimilarityMatrix(hooks, explanations, actions, e.weights)
	if err != nil {
		return nil, err
	}

	clusters := Clusters(m, e.threshold)
	survivors := Survivors(clusters)
	report := e.Analyze(m, insights)

	log.Printf("Deduplication: %d insights -> %d unique (threshold %.2f)", n, len(survivors), e.threshold)

	return &Result{
		Matrix:    m,
		Clusters:  clusters,
		Survivors: survivors,
		Analytics: report,
		Duration:  time.Since(start),
	}, nil
}

// Analyze compiles the duplication report for an insight set whose
// similarity matrix is already computed.
func (e *Engine) Analyze(m Matrix, insights []database.Insight) *Report {
	n := len(insights)
	if n == 0 {
		return &Report{}
	}

	mean, std := GreedyEstimate(m, e.threshold, e.runs, e.seed)
	clusters := Clusters(m, e.threshold)
	counts := DuplicateCounts(m, e.threshold)

	overall := OverallStats{
		TotalInsights:    n,
		GreedyUniqueMean: mean,
		GreedyUniqueStd:  std,
		GreedyUniquePct:  mean / float64(n) * 100,
		ClusterCount:     len(clusters),
		ClusterPct:       float64(len(clusters)) / float64(n) * 100,
		MeanDuplicates:   meanInt(counts),
	}

	byModel := func(i database.Insight) string { return i.GenerationModel }
	byCohort := func(i database.Insight) string { return i.Cohort.Name }
	byTemplate := func(i database.Insight) string { return i.InsightTemplate.Type }

	return &Report{
		Overall:         overall,
		ByModel:         e.analyzeGroups(m, insights, byModel),
		ByCohort:        e.analyzeGroups(m, insights, byCohort),
		ByTemplate:      e.analyzeGroups(m, insights, byTemplate),
		CohortOverlap:   e.analyzeOverlap(m, insights, byCohort),
		TemplateOverlap: e.analyzeOverlap(m, insights, byTemplate),
		WorstInsights:   worstInsights(m, insights, e.threshold, worstInsightCount),
	}
}

// embedFields embeds hooks, explanations and actions as separate views
// so each field can carry its own weight in the similarity.
func (e *Engine) embedFields(ctx context.Context, insights []database.Insight) (hooks, explanations, actions [][]float64, err error) {
	hookTexts := make([]string, len(insights))
	explanationTexts := make([]string, len(insights))
	actionTexts := make([]string, len(insights))
	for i, ins := range insights {
		hookTexts[i] = ins.Hook
		explanationTexts[i] = ins.Explanation
		actionTexts[i] = ins.Action
	}

	if hooks, err = e.embedder.Embed(ctx, hookTexts); err != nil {
		return nil, nil, nil, fmt.Errorf("embedding hooks: %w", err)
	}
	if explanations, err = e.embedder.Embed(ctx, explanationTexts); err != nil {
		return nil, nil, nil, fmt.Errorf("embedding explanations: %w", err)
	}
	if actions, err = e.embedder.Embed(ctx, actionTexts); err != nil {
		return nil, nil, nil, fmt.Errorf("embedding actions: %w", err)
	}
	return hooks, explanations, actions, nil
}

// analyzeGroups computes per-group duplication stats, sorted by unique
// percentage descending so the most diverse groups lead.
func (e *Engine) analyzeGroups(m Matrix, insights []database.Insight, key func(database.Insight) string) []GroupStats {
	names, groups := groupIndices(insights, key)

	stats := make([]GroupStats, 0, len(names))
	for _, name := range names {
		indices := groups[name]
		n := len(indices)
		if n == 0 {
			continue
		}

		sub := m.Submatrix(indices)
		mean, std := GreedyEstimate(sub, e.threshold, e.runs, e.seed)
		clusters := Clusters(sub, e.threshold)
		counts := DuplicateCounts(sub, e.threshold)

		maxDup, zeroDup, manyDup := 0, 0, 0
		for _, c := range counts {
			if c > maxDup {
				maxDup = c
			}
			if c == 0 {
				zeroDup++
			}
			if c >= 5 {
				manyDup++
			}
		}

		stats = append(stats, GroupStats{
			Group:             name,
			TotalInsights:     n,
			GreedyUniqueMean:  mean,
			GreedyUniqueStd:   std,
			GreedyUniquePct:   mean / float64(n) * 100,
			ClusterCount:      len(clusters),
			ClusterPct:        float64(len(clusters)) / float64(n) * 100,
			MeanDuplicates:    meanInt(counts),
			MaxDuplicates:     maxDup,
			PctNoDuplicates:   float64(zeroDup) / float64(n) * 100,
			PctManyDuplicates: float64(manyDup) / float64(n) * 100,
		})
	}

	sort.SliceStable(stats, func(i, j int) bool { return stats[i].GreedyUniquePct > stats[j].GreedyUniquePct })
	return stats
}

// analyzeOverlap counts cross-group pairs at or above the threshold for
// every pair of groups, sorted by overlap percentage descending.
func (e *Engine) analyzeOverlap(m Matrix, insights []database.Insight, key func(database.Insight) string) []Overlap {
	names, groups := groupIndices(insights, key)

	var overlaps []Overlap
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			a, b := groups[names[i]], groups[names[j]]

			count := 0
			for _, ia := range a {
				for _, ib := range b {
					if m[ia][ib] >= e.threshold {
						count++
					}
				}
			}

			total := len(a) * len(b)
			pct := 0.0
			if total > 0 {
				pct = float64(count) / float64(total) * 100
			}
			overlaps = append(overlaps, Overlap{
				Group1:       names[i],
				Group2:       names[j],
				OverlapCount: count,
				TotalPairs:   total,
				OverlapPct:   pct,
			})
		}
	}

	sort.SliceStable(overlaps, func(i, j int) bool { return overlaps[i].OverlapPct > overlaps[j].OverlapPct })
	return overlaps
}

// worstInsights ranks insights by duplicate count descending.
func worstInsights(m Matrix, insights []database.Insight, threshold float64, topN int) []WorstInsight {
	counts := DuplicateCounts(m, threshold)

	order := make([]int, len(counts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return counts[order[a]] > counts[order[b]] })
	if len(order) > topN {
		order = order[:topN]
	}

	worst := make([]WorstInsight, len(order))
	for rank, idx := range order {
		ins := insights[idx]
		worst[rank] = WorstInsight{
			Rank:           rank + 1,
			DuplicateCount: counts[idx],
			Hook:           ins.Hook,
			Explanation:    ins.Explanation,
			Action:         ins.Action,
			Model:          ins.GenerationModel,
			Cohort:         ins.Cohort.Name,
			Template:       ins.InsightTemplate.Type,
		}
	}
	return worst
}

// groupIndices buckets insight indices by key, preserving first-seen
// group order.
func groupIndices(insights []database.Insight, key func(database.Insight) string) ([]string, map[string][]int) {
	var names []string
	groups := make(map[string][]int)
	for i, ins := range insights {
		k := key(ins)
		if _, ok := groups[k]; !ok {
			names = append(names, k)
		}
		groups[k] = append(groups[k], i)
	}
	return names, groups
}

func meanInt(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}
