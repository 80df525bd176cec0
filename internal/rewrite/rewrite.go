// Package rewrite produces creative variations of surviving insights
// while preserving their factual content.
package rewrite

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

const creativePrompt = `You are a creative health copywriter rewriting a health insight for better engagement.

ORIGINAL INSIGHT:
Hook: %s
Explanation: %s
Action: %s
Source: %s (%s)
Numeric Claim: %s

TARGET COHORT:
%s

Cohort Parameters: %s

REGION:
- %s

TASK:
Write %d distinct creative variations of this insight. Each variation must take a different narrative angle (e.g., surprising comparison, myth correction, social framing, immediate personal benefit).

CRITICAL RULES:
1. DO NOT change any numeric claims or statistics
2. DO NOT alter the fundamental message
3. Preserve source attribution
4. Make language more engaging and accessible for this cohort
5. Ensure medical accuracy is maintained
6. Keep each variation culturally appropriate for %s

OUTPUT FORMAT (JSON):
{
  "variations": [
    {
      "hook": "Rewritten hook (more engaging, max 25 words)",
      "explanation": "Rewritten explanation (clearer, 20-40 words)",
      "action": "Rewritten action (more motivating, 15-25 words)",
      "narrative_angle": "Short label for the angle this variation takes"
    }
  ]
}

Return ONLY valid JSON, no additional text.`

// Result holds the outcome of a creative rewrite stage.
type Result struct {
	Variations []database.Variation
	Attempts   int
	Successes  int
	Failures   int
	Duration   time.Duration
}

// Rewriter rewrites insights into creative variations using an LLM provider.
type Rewriter struct {
	provider llm.Provider
	cfg      *config.Config
}

// NewRewriter creates a new creative rewriter.
func NewRewriter(provider llm.Provider, cfg *config.Config) *Rewriter {
	return &Rewriter{provider: provider, cfg: cfg}
}

// Run rewrites each insight into num_variations creative variations.
// A failed insight contributes zero variations; the rest proceed.
func (rw *Rewriter) Run(ctx context.Context, market string, insights []database.Insight) *Result {
	if rw.provider == nil {
		log.Println("No LLM provider available for creative rewriting")
		return &Result{}
	}
	if len(insights) == 0 {
		log.Println("No insights to rewrite")
		return &Result{}
	}

	log.Printf("Launching %d rewrite tasks (%d variations each)", len(insights), rw.cfg.Creative.NumVariations)

	start := time.Now()
	outcomes := make([][]variationPayload, len(insights))
	errs := make([]error, len(insights))

	limit := rw.cfg.Creative.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, insight := range insights {
		eg.Go(func() error {
			variations, err := rw.rewriteOne(gctx, insight, market)
			if err != nil {
				errs[i] = err
				return nil
			}
			outcomes[i] = variations
			return nil
		})
	}
	_ = eg.Wait()

	duration := time.Since(start)
	stamp := time.Now().Format(time.RFC3339)

	r := &Result{Attempts: len(insights), Duration: duration}
	for i, insight := range insights {
		if errs[i] != nil {
			r.Failures++
			log.Printf("Rewrite failed (%s): %v", insight.InsightID, errs[i])
			continue
		}
		r.Successes++
		for idx, v := range outcomes[i] {
			r.Variations = append(r.Variations, database.Variation{
				VariationID:         fmt.Sprintf("%s_v%d", insight.InsightID, idx+1),
				Hook:                strings.TrimSpace(v.Hook),
				Explanation:         strings.TrimSpace(v.Explanation),
				Action:              strings.TrimSpace(v.Action),
				NarrativeAngle:      strings.TrimSpace(v.NarrativeAngle),
				InsightID:           insight.InsightID,
				OriginalHook:        insight.Hook,
				OriginalExplanation: insight.Explanation,
				OriginalAction:      insight.Action,
				SourceName:          insight.SourceName,
				SourceURL:           insight.SourceURL,
				NumericClaim:        insight.NumericClaim,
				Cohort:              insight.Cohort,
				InsightTemplate:     insight.InsightTemplate,
				GenerationModel:     insight.GenerationModel,
				GeneratedAt:         insight.GeneratedAt,
				CreativeModel:       rw.cfg.Creative.Model,
				CreatedAt:           stamp,
			})
		}
	}

	log.Printf("Rewriting complete: %d calls (%d ok, %d failed), %d variations in %.1fs",
		r.Attempts, r.Successes, r.Failures, len(r.Variations), duration.Seconds())
	return r
}

func (rw *Rewriter) rewriteOne(ctx context.Context, insight database.Insight, market string) ([]variationPayload, error) {
	raw, err := rw.provider.Generate(ctx, llm.Request{
		Model:       rw.cfg.Creative.Model,
		Prompt:      rw.buildPrompt(insight, market),
		Temperature: rw.cfg.Creative.Temperature,
		MaxTokens:   rw.cfg.Generation.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	var envelope variationsEnvelope
	if err := llm.DecodeJSON(raw, &envelope); err != nil {
		return nil, err
	}
	if envelope.Variations == nil {
		return nil, fmt.Errorf("no variations in response")
	}
	return envelope.Variations, nil
}

func (rw *Rewriter) buildPrompt(insight database.Insight, market string) string {
	return fmt.Sprintf(creativePrompt,
		insight.Hook,
		insight.Explanation,
		insight.Action,
		insight.SourceName,
		insight.SourceURL,
		insight.NumericClaim,
		insight.Cohort.Description,
		formatDimensions(insight.Cohort.Dimensions),
		market,
		rw.cfg.Creative.NumVariations,
		market,
	)
}

type variationsEnvelope struct {
	Variations []variationPayload `json:"variations"`
}

type variationPayload struct {
	Hook           string `json:"hook"`
	Explanation    string `json:"explanation"`
	Action         string `json:"action"`
	NarrativeAngle string `json:"narrative_angle"`
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
