package database

import "github.com/geniehealth/dyk/internal/config"

// Insight is one generated "Did You Know" unit. Content fields are
// immutable after generation; DuplicateOf is attached by deduplication
// and names the surviving insight this one collapsed into.
type Insight struct {
	ID              int64                  `json:"-"`
	RunID           int64                  `json:"-"`
	InsightID       string                 `json:"insight_id"`
	Hook            string                 `json:"hook"`
	Explanation     string                 `json:"explanation"`
	Action          string                 `json:"action"`
	SourceName      string                 `json:"source_name"`
	SourceURL       string                 `json:"source_url"`
	NumericClaim    string                 `json:"numeric_claim"`
	Cohort          config.Cohort          `json:"cohort"`
	InsightTemplate config.InsightTemplate `json:"insight_template"`
	GenerationModel string                 `json:"generation_model"`
	GeneratedAt     string                 `json:"generated_at"`
	DuplicateOf     *string                `json:"-"`
}

// Variation is a creative rewrite of one Insight. It carries copies of
// the parent's factual fields so each row is self-contained, plus the
// insight_id back-reference.
type Variation struct {
	ID                  int64                  `json:"-"`
	RunID               int64                  `json:"-"`
	VariationID         string                 `json:"variation_id"`
	Hook                string                 `json:"hook"`
	Explanation         string                 `json:"explanation"`
	Action              string                 `json:"action"`
	NarrativeAngle      string                 `json:"narrative_angle"`
	InsightID           string                 `json:"insight_id"`
	OriginalHook        string                 `json:"original_hook"`
	OriginalExplanation string                 `json:"original_explanation"`
	OriginalAction      string                 `json:"original_action"`
	SourceName          string                 `json:"source_name"`
	SourceURL           string                 `json:"source_url"`
	NumericClaim        string                 `json:"numeric_claim"`
	Cohort              config.Cohort          `json:"cohort"`
	InsightTemplate     config.InsightTemplate `json:"insight_template"`
	GenerationModel     string                 `json:"generation_model"`
	GeneratedAt         string                 `json:"generated_at"`
	CreativeModel       string                 `json:"creative_model"`
	CreatedAt           string                 `json:"created_at"`
	Evaluation          *Evaluation            `json:"evaluation,omitempty"`
	EvaluationModel     string                 `json:"evaluation_model,omitempty"`
	EvaluatedAt         string                 `json:"evaluated_at,omitempty"`
}

// Evaluation is the quality assessment attached to a Variation. A
// successful evaluation has Criteria populated; a failed one carries
// Status "failed" and the error text instead.
type Evaluation struct {
	Status          string                    `json:"status,omitempty"`
	Error           string                    `json:"error,omitempty"`
	Criteria        map[string]CriterionScore `json:"criteria,omitempty"`
	OverallScore    *float64                  `json:"overall_score,omitempty"`
	Pass            *bool                     `json:"pass,omitempty"`
	Strengths       []string                  `json:"strengths,omitempty"`
	CriticalIssues  []string                  `json:"critical_issues,omitempty"`
	Recommendations []string                  `json:"recommendations,omitempty"`
}

type CriterionScore struct {
	Score  float64  `json:"score"`
	Issues []string `json:"issues,omitempty"`
}

// CriterionNames is the fixed evaluation rubric, in report column order.
var CriterionNames = []string{
	"factual_accuracy",
	"safety",
	"faithfulness",
	"cohort_relevance",
	"actionability",
	"localization",
}

// Failed reports whether the evaluation is absent or did not produce criteria.
func (e *Evaluation) Failed() bool {
	return e == nil || e.Status == "failed" || len(e.Criteria) == 0
}

// Score returns the named criterion score, or false when unavailable.
func (e *Evaluation) Score(name string) (float64, bool) {
	if e == nil {
		return 0, false
	}
	c, ok := e.Criteria[name]
	if !ok {
		return 0, false
	}
	return c.Score, true
}

// PipelineRun records one completed (or aborted) pipeline execution.
type PipelineRun struct {
	ID               int64
	Market           string
	StartedAt        string
	FinishedAt       *string
	JSONPath         *string
	CSVPath          *string
	StatsJSON        *string
	SummaryMarkdown  *string
	TotalInsights    int
	UniqueInsights   int
	TotalVariations  int
	PassedVariations int
}

// EvidenceArticle is one PubMed or feed-sourced reference stored for
// prompt grounding.
type EvidenceArticle struct {
	ID        int64
	PMID      *string
	Title     string
	Abstract  *string
	Authors   *string
	Journal   *string
	Year      *string
	PubTypes  *string
	URL       string
	Query     *string
	FetchedAt string
}

// Counts summarizes stored rows for the status command.
type Counts struct {
	Runs             int
	Insights         int
	UniqueInsights   int
	Variations       int
	PassedVariations int
	EvidenceArticles int
}
