// Package evaluate scores variations against a fixed six-criterion
// rubric using a fact-checking LLM pass.
package evaluate

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/geniehealth/dyk/internal/config"
	"github.com/geniehealth/dyk/internal/database"
	"github.com/geniehealth/dyk/internal/llm"
)

const evaluationPrompt = `You are a medical fact-checker validating a health insight.

INSIGHT TO VALIDATE:
Hook: %s
Explanation: %s
Action: %s
Source: %s (%s)
Numeric Claim: %s

TARGET COHORT:
%s - %s

INSIGHT TEMPLATE:
- Type: %s
- Description: %s

REGION:
- %s

VALIDATION TASKS:
Evaluate this insight on the following criteria:

1. FACTUAL ACCURACY
- Are the claims medically accurate?
- Are numeric claims plausible and properly contextualized?
- Is the source credible?

2. SAFETY
- Does it avoid medical diagnosis/treatment claims?
- Is the language motivating without fear-mongering?
- Is the advice safe and appropriate?

3. FAITHFULNESS TO EVIDENCE (if source provided)
- Does the insight accurately represent the source?
- Are numeric claims preserved correctly?
- Is attribution appropriate?

4. COHORT RELEVANCE
- Is this insight specifically relevant to the target cohort?
- Would this cohort benefit from this information?
- Are demographic factors properly considered?
- Does it align with the intent of the selected insight template?

5. ACTIONABILITY
- Is the action step specific and achievable?
- Is the action appropriate for this demographic?
- Does the action seem like an advertisement or promotional content?

6. LOCALIZATION
- Is the language and advice culturally appropriate for the target region?

PROVIDE A DETAILED EVALUATION AND AN OVERALL RECOMMENDATION:
- Score each criterion 0-100 and list any issues found
- Overall score 0-100
- pass: true only if every criterion scores 60 or above and there are no safety issues

OUTPUT FORMAT (JSON):
{
  "criteria": {
    "factual_accuracy": {"score": 0-100, "issues": ["list any problems"]},
    "safety": {"score": 0-100, "issues": []},
    "faithfulness": {"score": 0-100, "issues": []},
    "cohort_relevance": {"score": 0-100, "issues": []},
    "actionability": {"score": 0-100, "issues": []},
    "localization": {"score": 0-100, "issues": []}
  },
  "overall_score": 0-100,
  "pass": true or false,
  "strengths": ["what works well"],
  "critical_issues": ["problems that must be fixed"],
  "recommendations": ["specific improvements"]
}

Return ONLY valid JSON, no additional text.`

// Result holds the outcome of an evaluation stage. Variations carries
// every input row with an evaluation attached, pass or fail.
type Result struct {
	Variations []database.Variation
	Attempts   int
	Successes  int
	Failures   int
	Duration   time.Duration
}

// Evaluator scores variations using an LLM provider.
type Evaluator struct {
	provider llm.Provider
	cfg      *config.Config
}

// NewEvaluator creates a new variation evaluator.
func NewEvaluator(provider llm.Provider, cfg *config.Config) *Evaluator {
	return &Evaluator{provider: provider, cfg: cfg}
}

// Run evaluates every variation. A failed evaluation attaches
// {status: failed, error} instead of dropping the row, so the output
// always has the same length and order as the input.
func (ev *Evaluator) Run(ctx context.Context, market string, variations []database.Variation) *Result {
	if ev.provider == nil {
		log.Println("No LLM provider available for evaluation")
		return &Result{Variations: variations}
	}
	if len(variations) == 0 {
		log.Println("No variations to evaluate")
		return &Result{}
	}

	log.Printf("Launching %d evaluation tasks", len(variations))

	start := time.Now()
	outcomes := make([]*database.Evaluation, len(variations))
	errs := make([]error, len(variations))

	limit := ev.cfg.Evaluation.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, variation := range variations {
		eg.Go(func() error {
			evaluation, err := ev.evaluateOne(gctx, variation, market)
			if err != nil {
				errs[i] = err
				return nil
			}
			outcomes[i] = evaluation
			return nil
		})
	}
	_ = eg.Wait()

	duration := time.Since(start)
	stamp := time.Now().Format(time.RFC3339)

	r := &Result{
		Variations: make([]database.Variation, len(variations)),
		Attempts:   len(variations),
		Duration:   duration,
	}
	for i, variation := range variations {
		switch {
		case errs[i] != nil:
			r.Failures++
			log.Printf("Evaluation failed (%s): %v", variation.VariationID, errs[i])
			variation.Evaluation = &database.Evaluation{Status: "failed", Error: errs[i].Error()}
		case len(outcomes[i].Criteria) == 0:
			r.Failures++
			log.Printf("Evaluation failed (%s): no criteria in response", variation.VariationID)
			variation.Evaluation = &database.Evaluation{Status: "failed", Error: "no criteria in response"}
		default:
			r.Successes++
			variation.Evaluation = outcomes[i]
		}
		// Model and timestamp are recorded even for failures.
		variation.EvaluationModel = ev.cfg.Evaluation.Model
		variation.EvaluatedAt = stamp
		r.Variations[i] = variation
	}

	log.Printf("Evaluation complete: %d calls (%d ok, %d failed) in %.1fs",
		r.Attempts, r.Successes, r.Failures, duration.Seconds())
	return r
}

func (ev *Evaluator) evaluateOne(ctx context.Context, variation database.Variation, market string) (*database.Evaluation, error) {
	raw, err := ev.provider.Generate(ctx, llm.Request{
		Model:       ev.cfg.Evaluation.Model,
		Prompt:      ev.buildPrompt(variation, market),
		Temperature: ev.cfg.Evaluation.Temperature,
		MaxTokens:   ev.cfg.Generation.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	var evaluation database.Evaluation
	if err := llm.DecodeJSON(raw, &evaluation); err != nil {
		return nil, err
	}
	clampScores(&evaluation)
	return &evaluation, nil
}

// clampScores caps criterion and overall scores to the 0-100 rubric;
// models occasionally return 1-10 leftovers or values above 100.
func clampScores(e *database.Evaluation) {
	for name, c := range e.Criteria {
		c.Score = clamp(c.Score)
		e.Criteria[name] = c
	}
	if e.OverallScore != nil {
		v := clamp(*e.OverallScore)
		e.OverallScore = &v
	}
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func (ev *Evaluator) buildPrompt(variation database.Variation, market string) string {
	return fmt.Sprintf(evaluationPrompt,
		variation.Hook,
		variation.Explanation,
		variation.Action,
		variation.SourceName,
		variation.SourceURL,
		variation.NumericClaim,
		formatDimensions(variation.Cohort.Dimensions),
		variation.Cohort.Description,
		variation.InsightTemplate.Type,
		variation.InsightTemplate.Description,
		market,
	)
}

func formatDimensions(dims map[string]string) string {
	if len(dims) == 0 {
		return "none specified"
	}
	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, dims[k]))
	}
	return strings.Join(parts, ", ")
}
