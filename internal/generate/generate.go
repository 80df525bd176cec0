// Package generate fans "Did You Know" insight generation out across
// every cohort, template and model combination for a market.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/geniehealth/dyk/internal/config"
	"github.com/geniehealth/dyk/internal/database"
	"github.com/geniehealth/dyk/internal/llm"
)

const generationPrompt = `You are a medical and public health expert generating evidence-based health insights for a health application.

REGION:
- %s

TARGET COHORT:
%s

Cohort Parameters: %s

INSIGHT TEMPLATE SELECTED:
- Type: %s
- Description: %s
- Required Tone: "%s"
- Example Pattern: "%s"
%s
EXAMPLE HEALTH DOMAINS: %s
Note: You may select different health domains if more relevant

AUTHORITATIVE SOURCES FOR %s:
%s
%s
TASK:
Generate %d distinct "Did You Know" health insights tailored to this cohort profile.

STRUCTURAL REQUIREMENTS:
1. Opening Hook (15-25 words): Lead with a surprising, specific statistic or fact
2. Explanation (20-40 words): Brief mechanism or context explaining why this matters
3. Call-to-Action (15-25 words): Clear, specific action they can take

CONTENT REQUIREMENTS:
- Evidence-based with specific percentages/numbers
- Relevant to the cohort's demographic, lifestyle and health risks
- Scientifically accurate - cite reputable sources
- Culturally appropriate for %s
- Each insight must be UNIQUE (different facts, statistics, actions, health domains)
- Follow the conceptual intent of the selected template ("%s")
- Ensure the action is practical, achievable, region-appropriate and cohort-specific

OUTPUT FORMAT (JSON):
{
  "insights": [
    {
      "hook": "A compelling, attention-grabbing fact that starts with 'Did you know...' (max 25 words)",
      "explanation": "A brief, evidence-based explanation of why this matters for this specific cohort (20-40 words)",
      "action": "A specific, actionable step the user can take (15-25 words)",
      "source_name": "Name of the authoritative source (e.g., WHO, CDC, HPB, peer-reviewed journal)",
      "source_url": "URL if available, or 'general medical knowledge'",
      "numeric_claim": "Any specific numeric claim made (e.g., '3x higher risk', '30%% reduction'), or empty string if none"
    }
  ]
}

AVOID:
- Excessive program mentions
- Repeating the same insight with minor variations
- Multiple CTAs in one insight (focus on ONE clear action)
- Generic "talk to your doctor" endings without specifics
- Explicitly stating age ranges (e.g., "40-49 year olds")
- Heavy-handed booking/registration CTAs in every insight
- Made-up statistics or claims
- Fear-mongering language

Return ONLY valid JSON, no additional text.`

// Result holds the outcome of a generation stage.
type Result struct {
	Insights  []database.Insight
	Attempts  int
	Successes int
	Failures  int
	Duration  time.Duration
}

// Generator generates insights using an LLM provider.
type Generator struct {
	provider llm.Provider
	cfg      *config.Config
}

// NewGenerator creates a new insight generator.
func NewGenerator(provider llm.Provider, cfg *config.Config) *Generator {
	return &Generator{provider: provider, cfg: cfg}
}

type task struct {
	cohort   config.Cohort
	template config.InsightTemplate
	model    string
}

// Run generates insights for every cohort x template x model combination.
// evidence optionally maps cohort IDs to pre-formatted grounding blocks
// that are inserted into the prompt. Individual call failures are counted
// and logged; they never abort the remaining tasks.
func (g *Generator) Run(ctx context.Context, market string, cohorts []config.Cohort, templates []config.InsightTemplate, evidence map[string]string) *Result {
	if g.provider == nil {
		log.Println("No LLM provider available for generation")
		return &Result{}
	}

	models := g.cfg.Generation.Models
	if len(cohorts) == 0 || len(templates) == 0 || len(models) == 0 {
		log.Println("No generation tasks to run")
		return &Result{}
	}

	sources := ""
	if cat, err := g.cfg.MarketCatalog(market); err == nil {
		sources = formatSources(cat.SourceNames())
	} else {
		log.Printf("No source catalog for market %q: %v", market, err)
	}

	tasks := make([]task, 0, len(cohorts)*len(templates)*len(models))
	for _, cohort := range cohorts {
		for _, template := range templates {
			for _, model := range models {
				tasks = append(tasks, task{cohort: cohort, template: template, model: model})
			}
		}
	}

	log.Printf("Launching %d generation tasks (%d cohorts x %d templates x %d models)",
		len(tasks), len(cohorts), len(templates), len(models))

	start := time.Now()
	outcomes := make([][]database.Insight, len(tasks))
	errs := make([]error, len(tasks))

	limit := g.cfg.Generation.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, tk := range tasks {
		eg.Go(func() error {
			insights, err := g.generateOne(gctx, tk, sources, evidence[tk.cohort.ID])
			if err != nil {
				errs[i] = err
				return nil
			}
			outcomes[i] = insights
			return nil
		})
	}
	_ = eg.Wait()

	duration := time.Since(start)
	// One timestamp for the whole stage so grouping by generated_at works.
	stamp := time.Now().Format(time.RFC3339)

	r := &Result{Attempts: len(tasks), Duration: duration}
	for i, tk := range tasks {
		if errs[i] != nil {
			r.Failures++
			log.Printf("Generation failed (%s / %s / %s): %v", tk.cohort.Name, tk.template.Type, tk.model, errs[i])
			continue
		}
		r.Successes++
		for _, insight := range outcomes[i] {
			insight.InsightID = uuid.New().String()
			insight.Cohort = tk.cohort
			insight.InsightTemplate = tk.template
			insight.GenerationModel = tk.model
			insight.GeneratedAt = stamp
			r.Insights = append(r.Insights, insight)
		}
	}

	log.Printf("Generation complete: %d calls (%d ok, %d failed), %d insights in %.1fs",
		r.Attempts, r.Successes, r.Failures, len(r.Insights), duration.Seconds())
	return r
}

func (g *Generator) generateOne(ctx context.Context, tk task, sources, evidence string) ([]database.Insight, error) {
	raw, err := g.provider.Generate(ctx, llm.Request{
		Model:       tk.model,
		Prompt:      g.buildPrompt(tk, sources, evidence),
		Temperature: g.cfg.Generation.Temperature,
		MaxTokens:   g.cfg.Generation.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	var envelope insightsEnvelope
	if err := llm.DecodeJSON(raw, &envelope); err != nil {
		return nil, err
	}

	insights := make([]database.Insight, 0, len(envelope.Insights))
	for _, item := range envelope.Insights {
		if strings.TrimSpace(item.Hook) == "" {
			continue
		}
		insights = append(insights, database.Insight{
			Hook:         strings.TrimSpace(item.Hook),
			Explanation:  strings.TrimSpace(item.Explanation),
			Action:       strings.TrimSpace(item.Action),
			SourceName:   strings.TrimSpace(item.SourceName),
			SourceURL:    strings.TrimSpace(item.SourceURL),
			NumericClaim: strings.TrimSpace(item.NumericClaim),
		})
	}
	return insights, nil
}

func (g *Generator) buildPrompt(tk task, sources, evidence string) string {
	region := g.cfg.Market

	angles := ""
	if len(tk.cohort.InsightAngles) > 0 {
		angles = fmt.Sprintf("Possible insight angles: %s\n", strings.Join(tk.cohort.InsightAngles, "; "))
	}

	evidenceBlock := ""
	if evidence != "" {
		evidenceBlock = "\n" + evidence + "\n"
	}

	return fmt.Sprintf(generationPrompt,
		region,
		tk.cohort.Description,
		formatDimensions(tk.cohort.Dimensions),
		tk.template.Type,
		tk.template.Description,
		tk.template.Tone,
		tk.template.Example,
		angles,
		formatDomains(g.cfg.HealthDomains),
		strings.ToUpper(region),
		sources,
		evidenceBlock,
		g.cfg.Generation.InsightsPerCall,
		region,
		tk.template.Description,
	)
}

// insightsEnvelope accepts both {"insights": [...]} and a bare array,
// since models return either shape.
type insightsEnvelope struct {
	Insights []insightPayload
}

type insightPayload struct {
	Hook         string `json:"hook"`
	Explanation  string `json:"explanation"`
	Action       string `json:"action"`
	SourceName   string `json:"source_name"`
	SourceURL    string `json:"source_url"`
	NumericClaim string `json:"numeric_claim"`
}

func (e *insightsEnvelope) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, &e.Insights)
	}
	// The pointer distinguishes a missing key from an empty list. An
	// object without "insights" is an unexpected response shape.
	var wrapped struct {
		Insights *[]insightPayload `json:"insights"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	if wrapped.Insights == nil {
		return fmt.Errorf(`response has no "insights" key`)
	}
	e.Insights = *wrapped.Insights
	return nil
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

func formatDomains(domains []config.HealthDomain) string {
	if len(domains) == 0 {
		return "any relevant health domain"
	}
	names := make([]string, len(domains))
	for i, d := range domains {
		names[i] = d.Name
	}
	return strings.Join(names, ", ")
}

func formatSources(tiers map[string][]string) string {
	if len(tiers) == 0 {
		return "- any authoritative health source"
	}
	names := make([]string, 0, len(tiers))
	for tier := range tiers {
		names = append(names, tier)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, tier := range names {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- %s: %s", tier, strings.Join(tiers[tier], ", "))
	}
	return b.String()
}
