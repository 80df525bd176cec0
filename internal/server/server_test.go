package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/geniehealth/dyk/internal/config"
	"github.com/geniehealth/dyk/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedRun stores one finished run with two insights (one collapsed into
// the other) and a passing variation.
func seedRun(t *testing.T, db *database.DB) int64 {
	t.Helper()

	runID, err := db.InsertRun("singapore", "2026-08-25T10:30:45Z")
	if err != nil {
		t.Fatalf("failed to insert run: %v", err)
	}

	cohort := config.Cohort{ID: "cohort_0001", Name: "Office workers 30-39", PriorityLevel: 1}
	tmpl := config.InsightTemplate{Type: "quick_wins", Tone: "encouraging"}

	insights := []database.Insight{
		{
			RunID:           runID,
			InsightID:       "ins-1",
			Hook:            "Two minutes of walking after meals cuts glucose spikes",
			Explanation:     "Short walks blunt the post-meal glucose rise.",
			Action:          "Walk for two minutes after lunch.",
			SourceName:      "HealthHub",
			SourceURL:       "https://healthhub.sg/walking",
			Cohort:          cohort,
			InsightTemplate: tmpl,
			GenerationModel: "test/model-a",
			GeneratedAt:     "2026-08-25T10:31:00Z",
		},
		{
			RunID:           runID,
			InsightID:       "ins-2",
			Hook:            "Post-meal strolls tame blood sugar",
			Explanation:     "Walking after eating lowers glucose.",
			Action:          "Stroll after dinner.",
			Cohort:          cohort,
			InsightTemplate: tmpl,
			GenerationModel: "test/model-a",
			GeneratedAt:     "2026-08-25T10:31:00Z",
		},
	}
	if _, err := db.InsertInsights(insights); err != nil {
		t.Fatalf("failed to insert insights: %v", err)
	}
	if err := db.MarkDuplicate("ins-2", "ins-1"); err != nil {
		t.Fatalf("failed to mark duplicate: %v", err)
	}

	overall := 88.5
	pass := true
	variations := []database.Variation{{
		RunID:               runID,
		VariationID:         "var-1",
		Hook:                "Your lunch walk is a glucose reset button",
		Explanation:         "A two minute walk after meals keeps spikes in check.",
		Action:              "Take the long way back from the pantry.",
		NarrativeAngle:      "playful",
		InsightID:           "ins-1",
		OriginalHook:        "Two minutes of walking after meals cuts glucose spikes",
		OriginalExplanation: "Short walks blunt the post-meal glucose rise.",
		OriginalAction:      "Walk for two minutes after lunch.",
		SourceName:          "HealthHub",
		SourceURL:           "https://healthhub.sg/walking",
		Cohort:              cohort,
		InsightTemplate:     tmpl,
		GenerationModel:     "test/model-a",
		GeneratedAt:         "2026-08-25T10:31:00Z",
		CreativeModel:       "test/model-b",
		CreatedAt:           "2026-08-25T10:32:00Z",
		Evaluation: &database.Evaluation{
			Criteria: map[string]database.CriterionScore{
				"safety": {Score: 95},
			},
			OverallScore: &overall,
			Pass:         &pass,
		},
		EvaluationModel: "test/judge",
		EvaluatedAt:     "2026-08-25T10:33:00Z",
	}}
	if _, err := db.InsertVariations(variations); err != nil {
		t.Fatalf("failed to insert variations: %v", err)
	}

	finished := "2026-08-25T10:35:00Z"
	summary := "# Pipeline run: singapore\n\nGenerated 2026-08-25 with test/model-a.\n"
	run := &database.PipelineRun{
		ID:               runID,
		FinishedAt:       &finished,
		SummaryMarkdown:  &summary,
		TotalInsights:    2,
		UniqueInsights:   1,
		TotalVariations:  1,
		PassedVariations: 1,
	}
	if err := db.FinishRun(run); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}
	return runID
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIndexRoute(t *testing.T) {
	db := openTestDB(t)
	srv, err := New(db)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	rec := get(t, srv, "/")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Pipeline runs") {
		t.Error("expected 'Pipeline runs' in response body")
	}
	if !strings.Contains(body, "No runs yet") {
		t.Error("expected empty-state message in response body")
	}
}

func TestIndexListsRuns(t *testing.T) {
	db := openTestDB(t)
	runID := seedRun(t, db)

	srv, err := New(db)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	body := get(t, srv, "/").Body.String()
	if !strings.Contains(body, "singapore") {
		t.Error("expected market in response body")
	}
	if !strings.Contains(body, "/runs/1") {
		t.Errorf("expected link to run %d in response body", runID)
	}
}

func TestIndexRejectsOtherPaths(t *testing.T) {
	db := openTestDB(t)
	srv, err := New(db)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	rec := get(t, srv, "/nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRunRoute(t *testing.T) {
	db := openTestDB(t)
	seedRun(t, db)

	srv, err := New(db)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	rec := get(t, srv, "/runs/1")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()

	// Markdown summary rendered to HTML
	if !strings.Contains(body, "<h1>Pipeline run: singapore</h1>") {
		t.Error("expected rendered summary heading in response")
	}
	// Passing variation with formatted score
	if !strings.Contains(body, "Your lunch walk is a glucose reset button") {
		t.Error("expected passing variation hook in response")
	}
	if !strings.Contains(body, "score 88.5") {
		t.Error("expected overall score in response")
	}
	if !strings.Contains(body, "/runs/1/insights") {
		t.Error("expected link to insights page in response")
	}
}

func TestRunNotFound(t *testing.T) {
	db := openTestDB(t)
	srv, err := New(db)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	rec := get(t, srv, "/runs/999")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Run not found") {
		t.Error("expected 'Run not found' in response body")
	}
}

func TestRunBadID(t *testing.T) {
	db := openTestDB(t)
	srv, err := New(db)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	if rec := get(t, srv, "/runs/abc"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := get(t, srv, "/runs/1/bogus"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown subpage, got %d", rec.Code)
	}
}

func TestInsightsRoute(t *testing.T) {
	db := openTestDB(t)
	seedRun(t, db)

	srv, err := New(db)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	rec := get(t, srv, "/runs/1/insights")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()

	if !strings.Contains(body, "Two minutes of walking after meals cuts glucose spikes") {
		t.Error("expected survivor hook in response")
	}
	if !strings.Contains(body, "Post-meal strolls tame blood sugar") {
		t.Error("expected duplicate hook in response")
	}
	if !strings.Contains(body, "1 near-duplicates collapsed into this one") {
		t.Error("expected duplicate count in response")
	}
}

func TestGroupInsights(t *testing.T) {
	dup := "ins-1"
	insights := []database.Insight{
		{InsightID: "ins-1", Hook: "A"},
		{InsightID: "ins-2", Hook: "B", DuplicateOf: &dup},
		{InsightID: "ins-3", Hook: "C"},
	}

	groups := groupInsights(insights)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].Survivor.InsightID != "ins-1" || len(groups[0].Duplicates) != 1 {
		t.Errorf("expected ins-1 with 1 duplicate, got %+v", groups[0])
	}
	if groups[1].Survivor.InsightID != "ins-3" || len(groups[1].Duplicates) != 0 {
		t.Errorf("expected ins-3 with no duplicates, got %+v", groups[1])
	}
}

func TestStaticRoute(t *testing.T) {
	db := openTestDB(t)
	srv, err := New(db)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	rec := get(t, srv, "/static/style.css")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "font-sans") {
		t.Error("expected CSS content")
	}
}
