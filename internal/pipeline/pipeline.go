// Package pipeline orchestrates the full insight run: generation,
// deduplication, creative rewriting, evaluation and export. Each stage
// fans out internally and fully settles before the next stage starts.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/geniehealth/dyk/internal/config"
	"github.com/geniehealth/dyk/internal/database"
	"github.com/geniehealth/dyk/internal/dedup"
	"github.com/geniehealth/dyk/internal/evaluate"
	"github.com/geniehealth/dyk/internal/evidence"
	"github.com/geniehealth/dyk/internal/generate"
	"github.com/geniehealth/dyk/internal/llm"
	"github.com/geniehealth/dyk/internal/report"
	"github.com/geniehealth/dyk/internal/rewrite"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	RunID    int64
	Market   string
	JSONPath string
	CSVPath  string
	Stats    Stats
	Steps    []StepResult
}

// Stats mirrors the stats block persisted with each run. Field order is
// the JSON serialization order.
type Stats struct {
	GenerationAttempts       int     `json:"generation_attempts"`
	GenerationSuccesses      int     `json:"generation_successes"`
	GenerationFailures       int     `json:"generation_failures"`
	TotalInsightsGenerated   int     `json:"total_insights_generated"`
	DeduplicationThreshold   float64 `json:"deduplication_threshold"`
	UniqueInsightsAfterDedup int     `json:"unique_insights_after_dedup"`
	CreativeAttempts         int     `json:"creative_attempts"`
	CreativeSuccesses        int     `json:"creative_successes"`
	CreativeFailures         int     `json:"creative_failures"`
	TotalVariationsCreated   int     `json:"total_variations_created"`
	EvaluationAttempts       int     `json:"evaluation_attempts"`
	EvaluationSuccesses      int     `json:"evaluation_successes"`
	EvaluationFailures       int     `json:"evaluation_failures"`
	FinalInsights            int     `json:"final_insights"`
	GenerationTime           float64 `json:"generation_time"`
	DeduplicationTime        float64 `json:"deduplication_time"`
	CreativeTime             float64 `json:"creative_time"`
	EvaluationTime           float64 `json:"evaluation_time"`
	TotalTime                float64 `json:"total_time"`
}

// Pipeline orchestrates the 5-step insight pipeline.
type Pipeline struct {
	db       *database.DB
	cfg      *config.Config
	provider llm.Provider
	embedder llm.Embedder

	// MaxCohorts caps how many catalog cohorts a run fans out over;
	// zero means all. Evidence enables PubMed grounding before
	// generation.
	MaxCohorts int
	Evidence   bool
}

// New creates a new pipeline.
func New(db *database.DB, cfg *config.Config, provider llm.Provider, embedder llm.Embedder) *Pipeline {
	return &Pipeline{db: db, cfg: cfg, provider: provider, embedder: embedder}
}

// Run executes the full pipeline for the configured market. Individual
// call failures are absorbed into stage counters; Run returns an error
// only when a whole stage cannot proceed.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	market := p.cfg.Market

	cohorts, templates, err := p.fanout()
	if err != nil {
		return nil, err
	}

	runID, err := p.db.InsertRun(market, start.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("starting run: %w", err)
	}
	r := &Result{RunID: runID, Market: market}

	var evidenceBlocks map[string]string
	if p.Evidence {
		log.Printf("Retrieving evidence for %d cohorts...", len(cohorts))
		retriever := evidence.NewRetriever(p.db, p.cfg.Evidence)
		evidenceBlocks = retriever.RetrieveAll(ctx, cohorts, p.cfg.HealthDomains)
		r.Steps = append(r.Steps, StepResult{
			Name:    "Evidence",
			Summary: fmt.Sprintf("Evidence for %d of %d cohorts", len(evidenceBlocks), len(cohorts)),
		})
	}

	// Step 1: Generate
	log.Println("Step 1/5: Generating insights...")
	gen := generate.NewGenerator(p.provider, p.cfg).Run(ctx, market, cohorts, templates, evidenceBlocks)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Generate",
		Summary: fmt.Sprintf("%d insights from %d calls (%d failed)", len(gen.Insights), gen.Attempts, gen.Failures),
	})

	stats := Stats{
		GenerationAttempts:     gen.Attempts,
		GenerationSuccesses:    gen.Successes,
		GenerationFailures:     gen.Failures,
		TotalInsightsGenerated: len(gen.Insights),
		GenerationTime:         seconds(gen.Duration),
	}

	insights := gen.Insights
	if len(insights) == 0 {
		log.Println("No insights generated. Exiting.")
		stats.TotalTime = seconds(time.Since(start))
		p.finishEmpty(r, stats)
		return r, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return r, err
	}

	// Step 2: Deduplicate
	log.Println("Step 2/5: Deduplicating insights...")
	engine := dedup.New(p.embedder, p.cfg.Dedup)
	ded, err := engine.Deduplicate(ctx, insights)
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Deduplicate", Err: err})
		return r, err
	}
	stats.DeduplicationThreshold = engine.Threshold()
	stats.UniqueInsightsAfterDedup = len(ded.Survivors)
	stats.DeduplicationTime = seconds(ded.Duration)

	survivors := make([]database.Insight, len(ded.Survivors))
	for i, idx := range ded.Survivors {
		survivors[i] = insights[idx]
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Deduplicate",
		Summary: fmt.Sprintf("%d insights -> %d unique (threshold %.2f)", len(insights), len(survivors), engine.Threshold()),
	})

	if len(survivors) == 0 {
		log.Println("No insights survived deduplication. Exiting.")
		stats.TotalTime = seconds(time.Since(start))
		p.finishEmpty(r, stats)
		return r, ctx.Err()
	}

	// Step 3: Rewrite
	log.Println("Step 3/5: Writing creative variations...")
	cre := rewrite.NewRewriter(p.provider, p.cfg).Run(ctx, market, survivors)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Rewrite",
		Summary: fmt.Sprintf("%d variations from %d insights (%d failed)", len(cre.Variations), cre.Attempts, cre.Failures),
	})
	stats.CreativeAttempts = cre.Attempts
	stats.CreativeSuccesses = cre.Successes
	stats.CreativeFailures = cre.Failures
	stats.TotalVariationsCreated = len(cre.Variations)
	stats.CreativeTime = seconds(cre.Duration)

	if len(cre.Variations) == 0 {
		log.Println("No variations created. Exiting.")
		stats.TotalTime = seconds(time.Since(start))
		p.finishEmpty(r, stats)
		return r, ctx.Err()
	}

	// Step 4: Evaluate
	log.Println("Step 4/5: Evaluating variations...")
	eval := evaluate.NewEvaluator(p.provider, p.cfg).Run(ctx, market, cre.Variations)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Evaluate",
		Summary: fmt.Sprintf("%d evaluated, %d passed (%d failed)", eval.Attempts, report.PassCount(eval.Variations), eval.Failures),
	})
	stats.EvaluationAttempts = eval.Attempts
	stats.EvaluationSuccesses = eval.Successes
	stats.EvaluationFailures = eval.Failures
	stats.FinalInsights = len(eval.Variations)
	stats.EvaluationTime = seconds(eval.Duration)
	stats.TotalTime = seconds(time.Since(start))

	// Step 5: Export and persist
	log.Println("Step 5/5: Writing artifacts...")
	doc := p.buildDocument(market, gen, engine.Threshold(), ded, cre, eval)
	jsonPath, csvPath := report.ArtifactPaths(p.cfg.GetOutputDir(), market, start)
	if err := report.WriteJSON(jsonPath, doc); err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Export", Err: err})
		return r, err
	}
	if err := report.WriteCSV(csvPath, eval.Variations); err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Export", Err: err})
		return r, err
	}
	r.JSONPath = jsonPath
	r.CSVPath = csvPath
	r.Stats = stats
	r.Steps = append(r.Steps, StepResult{
		Name:    "Export",
		Summary: fmt.Sprintf("Wrote %s and %s", jsonPath, csvPath),
	})

	summary := report.Markdown(doc)
	if err := p.persist(r, stats, insights, ded, eval.Variations, jsonPath, csvPath, summary); err != nil {
		return r, err
	}

	log.Printf("Pipeline complete in %.1fs: %d insights -> %d unique -> %d variations (%d passed)",
		stats.TotalTime, stats.TotalInsightsGenerated, stats.UniqueInsightsAfterDedup,
		stats.TotalVariationsCreated, report.PassCount(eval.Variations))
	return r, nil
}

// DryRun reports the would-be fan-out without any network or LLM calls.
func (p *Pipeline) DryRun() (*Result, error) {
	cohorts, templates, err := p.fanout()
	if err != nil {
		return nil, err
	}
	models := p.cfg.Generation.Models

	r := &Result{Market: p.cfg.Market}
	calls := len(cohorts) * len(templates) * len(models)
	r.Steps = append(r.Steps, StepResult{
		Name: "Generate",
		Summary: fmt.Sprintf("[dry-run] %d calls (%d cohorts x %d templates x %d models), up to %d insights",
			calls, len(cohorts), len(templates), len(models), calls*p.cfg.Generation.InsightsPerCall),
	})
	r.Steps = append(r.Steps, StepResult{
		Name:    "Deduplicate",
		Summary: fmt.Sprintf("[dry-run] threshold %.2f on weighted field embeddings", dedup.New(p.embedder, p.cfg.Dedup).Threshold()),
	})
	r.Steps = append(r.Steps, StepResult{
		Name:    "Rewrite",
		Summary: fmt.Sprintf("[dry-run] %d variations per surviving insight with %s", p.cfg.Creative.NumVariations, p.cfg.Creative.Model),
	})
	r.Steps = append(r.Steps, StepResult{
		Name:    "Evaluate",
		Summary: fmt.Sprintf("[dry-run] %s scores every variation", p.cfg.Evaluation.Model),
	})
	r.Steps = append(r.Steps, StepResult{
		Name:    "Export",
		Summary: fmt.Sprintf("[dry-run] artifacts under %s", p.cfg.GetOutputDir()),
	})
	return r, nil
}

// fanout resolves the run's cohorts and templates from the market catalog.
func (p *Pipeline) fanout() ([]config.Cohort, []config.InsightTemplate, error) {
	cohorts, err := p.cfg.Cohorts(p.cfg.Market)
	if err != nil {
		return nil, nil, err
	}
	if p.MaxCohorts > 0 && len(cohorts) > p.MaxCohorts {
		cohorts = cohorts[:p.MaxCohorts]
	}
	templates := p.cfg.InsightTemplates
	if len(templates) == 0 {
		return nil, nil, fmt.Errorf("no insight templates configured")
	}
	return cohorts, templates, nil
}

func (p *Pipeline) buildDocument(market string, gen *generate.Result, threshold float64, ded *dedup.Result, cre *rewrite.Result, eval *evaluate.Result) *report.Document {
	return &report.Document{
		GenerationMetadata: report.GenerationMetadata{
			Market:          market,
			Models:          p.cfg.Generation.Models,
			Temperature:     p.cfg.Generation.Temperature,
			MaxTokens:       p.cfg.Generation.MaxTokens,
			GeneratedAt:     firstStamp(len(gen.Insights), func(i int) string { return gen.Insights[i].GeneratedAt }),
			TotalCalls:      gen.Attempts,
			SuccessfulCalls: gen.Successes,
			FailedCalls:     gen.Failures,
			DurationSeconds: seconds(gen.Duration),
		},
		DeduplicationMetadata: report.DedupMetadata{
			Threshold:       threshold,
			TotalInsights:   len(gen.Insights),
			UniqueInsights:  len(ded.Survivors),
			ReductionPct:    report.ReductionPct(len(gen.Insights), len(ded.Survivors)),
			DurationSeconds: seconds(ded.Duration),
		},
		DeduplicationAnalytics: ded.Analytics,
		CreativeMetadata: report.CreativeMetadata{
			Model:           p.cfg.Creative.Model,
			NumVariations:   p.cfg.Creative.NumVariations,
			Temperature:     p.cfg.Creative.Temperature,
			CreatedAt:       firstStamp(len(cre.Variations), func(i int) string { return cre.Variations[i].CreatedAt }),
			TotalCalls:      cre.Attempts,
			SuccessfulCalls: cre.Successes,
			FailedCalls:     cre.Failures,
			DurationSeconds: seconds(cre.Duration),
		},
		EvaluationMetadata: report.EvaluationMetadata{
			Model:           p.cfg.Evaluation.Model,
			Temperature:     p.cfg.Evaluation.Temperature,
			EvaluatedAt:     firstStamp(len(eval.Variations), func(i int) string { return eval.Variations[i].EvaluatedAt }),
			TotalCalls:      eval.Attempts,
			SuccessfulCalls: eval.Successes,
			FailedCalls:     eval.Failures,
			DurationSeconds: seconds(eval.Duration),
		},
		Insights: eval.Variations,
	}
}

// persist stores insights (with duplicate marks), variations and the
// finished run row.
func (p *Pipeline) persist(r *Result, stats Stats, insights []database.Insight, ded *dedup.Result, variations []database.Variation, jsonPath, csvPath, summary string) error {
	for i := range insights {
		insights[i].RunID = r.RunID
	}
	if _, err := p.db.InsertInsights(insights); err != nil {
		return fmt.Errorf("storing insights: %w", err)
	}
	for _, cluster := range ded.Clusters {
		if len(cluster) < 2 {
			continue
		}
		survivorID := insights[cluster[0]].InsightID
		for _, idx := range cluster[1:] {
			if err := p.db.MarkDuplicate(insights[idx].InsightID, survivorID); err != nil {
				log.Printf("Error marking duplicate %s: %v", insights[idx].InsightID, err)
			}
		}
	}

	for i := range variations {
		variations[i].RunID = r.RunID
	}
	if _, err := p.db.InsertVariations(variations); err != nil {
		return fmt.Errorf("storing variations: %w", err)
	}

	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encoding stats: %w", err)
	}
	finished := time.Now().UTC().Format(time.RFC3339)
	statsStr := string(statsJSON)
	run := &database.PipelineRun{
		ID:               r.RunID,
		FinishedAt:       &finished,
		JSONPath:         &jsonPath,
		CSVPath:          &csvPath,
		StatsJSON:        &statsStr,
		SummaryMarkdown:  &summary,
		TotalInsights:    stats.TotalInsightsGenerated,
		UniqueInsights:   stats.UniqueInsightsAfterDedup,
		TotalVariations:  stats.TotalVariationsCreated,
		PassedVariations: report.PassCount(variations),
	}
	if err := p.db.FinishRun(run); err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	return nil
}

// finishEmpty closes the run row when a stage produced nothing. No
// artifacts are written.
func (p *Pipeline) finishEmpty(r *Result, stats Stats) {
	r.Stats = stats

	statsJSON, err := json.Marshal(stats)
	if err != nil {
		log.Printf("Error encoding stats: %v", err)
		return
	}
	finished := time.Now().UTC().Format(time.RFC3339)
	statsStr := string(statsJSON)
	run := &database.PipelineRun{
		ID:              r.RunID,
		FinishedAt:      &finished,
		StatsJSON:       &statsStr,
		TotalInsights:   stats.TotalInsightsGenerated,
		UniqueInsights:  stats.UniqueInsightsAfterDedup,
		TotalVariations: stats.TotalVariationsCreated,
	}
	if err := p.db.FinishRun(run); err != nil {
		log.Printf("Error finishing run %d: %v", r.RunID, err)
	}
}

func firstStamp(n int, get func(int) string) string {
	for i := 0; i < n; i++ {
		if s := get(i); s != "" {
			return s
		}
	}
	return ""
}

// seconds rounds a duration to two decimals for stats and metadata.
func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
