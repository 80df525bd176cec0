package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/geniehealth/dyk/internal/config"
	"github.com/geniehealth/dyk/internal/database"
	"github.com/geniehealth/dyk/internal/dedup"
)

func testDocument() *Document {
	return &Document{
		GenerationMetadata: GenerationMetadata{
			Market:          "singapore",
			Models:          []string{"test/model-a", "test/model-b"},
			Temperature:     0.9,
			MaxTokens:       4000,
			GeneratedAt:     "2026-08-25T10:00:00Z",
			TotalCalls:      6,
			SuccessfulCalls: 5,
			FailedCalls:     1,
			DurationSeconds: 12.5,
		},
		DeduplicationMetadata: DedupMetadata{
			Threshold:       0.85,
			TotalInsights:   12,
			UniqueInsights:  8,
			ReductionPct:    33.33,
			DurationSeconds: 2.1,
		},
		DeduplicationAnalytics: &dedup.Report{
			WorstInsights: []dedup.WorstInsight{
				{Rank: 1, DuplicateCount: 4, Hook: "Sitting shortens lives", Cohort: "office_workers", Model: "test/model-a"},
				{Rank: 2, DuplicateCount: 0, Hook: "Unique one", Cohort: "seniors", Model: "test/model-b"},
			},
		},
		CreativeMetadata: CreativeMetadata{
			Model:           "test/creative",
			NumVariations:   2,
			Temperature:     0.8,
			CreatedAt:       "2026-08-25T10:01:00Z",
			TotalCalls:      8,
			SuccessfulCalls: 8,
			DurationSeconds: 8.0,
		},
		EvaluationMetadata: EvaluationMetadata{
			Model:           "test/judge",
			Temperature:     0.3,
			EvaluatedAt:     "2026-08-25T10:02:00Z",
			TotalCalls:      16,
			SuccessfulCalls: 15,
			FailedCalls:     1,
			DurationSeconds: 20.0,
		},
		Insights: []database.Variation{
			evaluatedVariation("ins-1_v1", "Your chair is aging you", 88.5, true),
			evaluatedVariation("ins-1_v2", "Desk jobs and heart risk", 91.0, true),
			failedVariation("ins-2_v1", "Flossing myth busted"),
		},
	}
}

func evaluatedVariation(id, hook string, overall float64, pass bool) database.Variation {
	return database.Variation{
		VariationID:         id,
		Hook:                hook,
		Explanation:         "Long sitting raises cardiovascular risk.",
		Action:              "Stand up every 30 minutes.",
		NarrativeAngle:      "surprising comparison",
		InsightID:           strings.SplitN(id, "_", 2)[0],
		OriginalHook:        "Sitting 8 hours daily raises heart disease risk by 147%",
		OriginalExplanation: "Prolonged sitting slows circulation.",
		OriginalAction:      "Take a standing break every half hour.",
		SourceName:          "Health Promotion Board",
		SourceURL:           "https://hpb.gov.sg/sitting",
		NumericClaim:        "147% higher risk",
		Cohort:              config.Cohort{ID: "cohort_0001", Name: "office_workers"},
		InsightTemplate:     config.InsightTemplate{Type: "quick_wins"},
		GenerationModel:     "test/model-a",
		GeneratedAt:         "2026-08-25T10:00:00Z",
		CreativeModel:       "test/creative",
		CreatedAt:           "2026-08-25T10:01:00Z",
		EvaluationModel:     "test/judge",
		EvaluatedAt:         "2026-08-25T10:02:00Z",
		Evaluation: &database.Evaluation{
			Criteria: map[string]database.CriterionScore{
				"factual_accuracy": {Score: 90},
				"safety":           {Score: 95},
				"faithfulness":     {Score: 85},
				"cohort_relevance": {Score: 88},
				"actionability":    {Score: 92},
				"localization":     {Score: 80.5},
			},
			OverallScore:    &overall,
			Pass:            &pass,
			Strengths:       []string{"clear hook", "concrete action"},
			CriticalIssues:  []string{},
			Recommendations: []string{"cite the year"},
		},
	}
}

func failedVariation(id, hook string) database.Variation {
	return database.Variation{
		VariationID:     id,
		Hook:            hook,
		InsightID:       strings.SplitN(id, "_", 2)[0],
		Cohort:          config.Cohort{ID: "cohort_0002", Name: "seniors"},
		InsightTemplate: config.InsightTemplate{Type: "myth_busting"},
		GenerationModel: "test/model-b",
		EvaluationModel: "test/judge",
		EvaluatedAt:     "2026-08-25T10:02:00Z",
		Evaluation:      &database.Evaluation{Status: "failed", Error: "rate limited"},
	}
}

func TestArtifactPaths(t *testing.T) {
	at := time.Date(2026, 8, 25, 10, 30, 45, 0, time.UTC)
	jsonPath, csvPath := ArtifactPaths("/tmp/out", "singapore", at)
	if jsonPath != "/tmp/out/pipeline_singapore_20260825_103045.json" {
		t.Errorf("unexpected json path %q", jsonPath)
	}
	if csvPath != "/tmp/out/pipeline_singapore_20260825_103045.csv" {
		t.Errorf("unexpected csv path %q", csvPath)
	}
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "run.json")
	if err := WriteJSON(path, testDocument()); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}

	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("artifact is not valid json: %v", err)
	}
	for _, key := range []string{
		"generation_metadata", "deduplication_metadata", "deduplication_analytics",
		"creative_metadata", "evaluation_metadata", "insights",
	} {
		if _, ok := parsed[key]; !ok {
			t.Errorf("artifact missing key %q", key)
		}
	}

	// Sections must appear in pipeline order.
	raw := string(data)
	last := -1
	for _, key := range []string{
		`"generation_metadata"`, `"deduplication_metadata"`, `"deduplication_analytics"`,
		`"creative_metadata"`, `"evaluation_metadata"`, `"insights"`,
	} {
		idx := strings.Index(raw, key)
		if idx <= last {
			t.Errorf("key %s out of order", key)
		}
		last = idx
	}
}

func TestWriteCSV(t *testing.T) {
	doc := testDocument()
	path := filepath.Join(t.TempDir(), "run.csv")
	if err := WriteCSV(path, doc.Insights); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening csv: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(rows))
	}

	header := rows[0]
	if len(header) != 30 {
		t.Fatalf("expected 30 columns, got %d", len(header))
	}
	for i, want := range csvColumns {
		if header[i] != want {
			t.Errorf("column %d = %q, want %q", i, header[i], want)
		}
	}

	cell := func(row []string, name string) string {
		for i, col := range header {
			if col == name {
				return row[i]
			}
		}
		t.Fatalf("no column %q", name)
		return ""
	}

	passed := rows[1]
	if cell(passed, "variation_id") != "ins-1_v1" {
		t.Errorf("unexpected variation_id %q", cell(passed, "variation_id"))
	}
	if cell(passed, "cohort_name") != "office_workers" {
		t.Errorf("unexpected cohort_name %q", cell(passed, "cohort_name"))
	}
	if cell(passed, "insight_template_type") != "quick_wins" {
		t.Errorf("unexpected template %q", cell(passed, "insight_template_type"))
	}
	if cell(passed, "factual_accuracy_score") != "90" {
		t.Errorf("unexpected factual accuracy %q", cell(passed, "factual_accuracy_score"))
	}
	if cell(passed, "localization_score") != "80.5" {
		t.Errorf("unexpected localization %q", cell(passed, "localization_score"))
	}
	if cell(passed, "overall_score") != "88.5" {
		t.Errorf("unexpected overall %q", cell(passed, "overall_score"))
	}
	if cell(passed, "pass") != "true" {
		t.Errorf("unexpected pass %q", cell(passed, "pass"))
	}
	if cell(passed, "strengths") != "clear hook; concrete action" {
		t.Errorf("unexpected strengths %q", cell(passed, "strengths"))
	}

	failed := rows[3]
	if cell(failed, "variation_id") != "ins-2_v1" {
		t.Errorf("unexpected variation_id %q", cell(failed, "variation_id"))
	}
	for _, col := range []string{"factual_accuracy_score", "overall_score", "pass", "strengths"} {
		if cell(failed, col) != "" {
			t.Errorf("expected blank %s for failed evaluation, got %q", col, cell(failed, col))
		}
	}
	if cell(failed, "evaluation_model") != "test/judge" {
		t.Error("evaluation model should be recorded even for failures")
	}
}

func TestReductionPct(t *testing.T) {
	if got := ReductionPct(12, 8); got != 33.33 {
		t.Errorf("ReductionPct(12, 8) = %v, want 33.33", got)
	}
	if got := ReductionPct(0, 0); got != 0 {
		t.Errorf("ReductionPct(0, 0) = %v, want 0", got)
	}
	if got := ReductionPct(10, 10); got != 0 {
		t.Errorf("ReductionPct(10, 10) = %v, want 0", got)
	}
}

func TestMarkdown(t *testing.T) {
	md := Markdown(testDocument())

	for _, want := range []string{
		"# Pipeline run: singapore",
		"test/model-a, test/model-b",
		"| Insights generated | 12 |",
		"| Unique after dedup | 8 (33.3% removed) |",
		"| Creative variations | 3 |",
		"| Passed evaluation | 2 |",
		"| Generation | 6 | 5 | 1 | 12.5s |",
		"## Most duplicated insights",
		`1. "Sitting shortens lives" (4 near-duplicates, office_workers / test/model-a)`,
		"## Top passing variations",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("summary missing %q", want)
		}
	}

	// Zero-duplicate entries stay out of the offenders list.
	if strings.Contains(md, "Unique one") {
		t.Error("zero-duplicate insight should not be listed")
	}

	// Highest overall score leads the passing list.
	first := strings.Index(md, "Desk jobs and heart risk")
	second := strings.Index(md, "Your chair is aging you")
	if first == -1 || second == -1 || first > second {
		t.Error("expected passing variations sorted by score")
	}
}

func TestMarkdownWithoutAnalytics(t *testing.T) {
	doc := testDocument()
	doc.DeduplicationAnalytics = nil
	doc.Insights = nil

	md := Markdown(doc)
	if strings.Contains(md, "Most duplicated") || strings.Contains(md, "Top passing") {
		t.Error("expected optional sections omitted")
	}
	if !strings.Contains(md, "| Passed evaluation | 0 |") {
		t.Error("expected zero passed count")
	}
}
