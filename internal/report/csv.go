package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/geniehealth/dyk/internal/database"
)

// csvColumns is the fixed export header. Downstream sheets key on these
// names, so the set and order never change.
var csvColumns = []string{
	"variation_id",
	"hook",
	"explanation",
	"action",
	"insight_id",
	"original_hook",
	"original_explanation",
	"original_action",
	"source_name",
	"source_url",
	"numeric_claim",
	"cohort_name",
	"insight_template_type",
	"generation_model",
	"generated_at",
	"creative_model",
	"created_at",
	"evaluation_model",
	"evaluated_at",
	"factual_accuracy_score",
	"safety_score",
	"faithfulness_score",
	"cohort_relevance_score",
	"actionability_score",
	"localization_score",
	"overall_score",
	"pass",
	"strengths",
	"critical_issues",
	"recommendations",
}

// WriteCSV writes one row per variation. Evaluation columns are blank
// when the evaluation failed or is missing.
func WriteCSV(path string, variations []database.Variation) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating csv: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvColumns); err != nil {
		f.Close()
		return fmt.Errorf("writing csv header: %w", err)
	}
	for i := range variations {
		if err := w.Write(csvRow(&variations[i])); err != nil {
			f.Close()
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("writing csv: %w", err)
	}
	return f.Close()
}

func csvRow(v *database.Variation) []string {
	row := []string{
		v.VariationID,
		v.Hook,
		v.Explanation,
		v.Action,
		v.InsightID,
		v.OriginalHook,
		v.OriginalExplanation,
		v.OriginalAction,
		v.SourceName,
		v.SourceURL,
		v.NumericClaim,
		v.Cohort.Name,
		v.InsightTemplate.Type,
		v.GenerationModel,
		v.GeneratedAt,
		v.CreativeModel,
		v.CreatedAt,
		v.EvaluationModel,
		v.EvaluatedAt,
	}
	for _, name := range database.CriterionNames {
		row = append(row, criterionCell(v.Evaluation, name))
	}
	return append(row,
		overallCell(v.Evaluation),
		passCell(v.Evaluation),
		listCell(v.Evaluation, func(e *database.Evaluation) []string { return e.Strengths }),
		listCell(v.Evaluation, func(e *database.Evaluation) []string { return e.CriticalIssues }),
		listCell(v.Evaluation, func(e *database.Evaluation) []string { return e.Recommendations }),
	)
}

func criterionCell(e *database.Evaluation, name string) string {
	score, ok := e.Score(name)
	if !ok {
		return ""
	}
	return strconv.FormatFloat(score, 'f', -1, 64)
}

func overallCell(e *database.Evaluation) string {
	if e == nil || e.OverallScore == nil {
		return ""
	}
	return strconv.FormatFloat(*e.OverallScore, 'f', -1, 64)
}

func passCell(e *database.Evaluation) string {
	if e == nil || e.Pass == nil {
		return ""
	}
	return strconv.FormatBool(*e.Pass)
}

func listCell(e *database.Evaluation, pick func(*database.Evaluation) []string) string {
	if e == nil {
		return ""
	}
	return strings.Join(pick(e), "; ")
}
