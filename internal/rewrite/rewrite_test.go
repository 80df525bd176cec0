package rewrite

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/geniehealth/dyk/internal/config"
	"github.com/geniehealth/dyk/internal/database"
	"github.com/geniehealth/dyk/internal/llm"
)

type mockProvider struct {
	mu      sync.Mutex
	calls   int
	respond func(req llm.Request) (string, error)
}

func (m *mockProvider) Generate(_ context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.respond(req)
}

func (m *mockProvider) IsConfigured() bool { return true }

func testConfig() *config.Config {
	return &config.Config{
		Market: "singapore",
		Generation: config.Generation{
			MaxTokens: 1000,
		},
		Creative: config.Creative{
			Model:         "test/creative",
			NumVariations: 2,
			MaxConcurrent: 4,
			Temperature:   0.8,
		},
	}
}

func testInsights() []database.Insight {
	return []database.Insight{
		{
			InsightID:    "ins-1",
			Hook:         "Did you know sitting raises heart risk",
			Explanation:  "Long sitting slows circulation",
			Action:       "Stand every 30 minutes",
			SourceName:   "HPB",
			SourceURL:    "https://hpb.gov.sg",
			NumericClaim: "147%",
			Cohort: config.Cohort{
				ID:          "cohort_0001",
				Name:        "Office Workers",
				Description: "Sedentary adults in desk jobs",
				Dimensions:  map[string]string{"age_range": "30-39"},
			},
			InsightTemplate: config.InsightTemplate{Type: "quick_wins"},
			GenerationModel: "test/model-a",
			GeneratedAt:     "2026-03-01T10:00:00Z",
		},
		{
			InsightID:   "ins-2",
			Hook:        "Did you know gum disease links to heart disease",
			Explanation: "Chronic inflammation spreads",
			Action:      "Floss daily",
			Cohort:      config.Cohort{ID: "cohort_0002", Name: "Seniors", Description: "Adults over 65"},
		},
	}
}

const variationsResponse = `{
  "variations": [
    {"hook": "Your chair is quietly working against you", "explanation": "e1", "action": "a1", "narrative_angle": "surprising comparison"},
    {"hook": "Desk life, heart cost", "explanation": "e2", "action": "a2", "narrative_angle": "immediate benefit"}
  ]
}`

func TestRunCreatesVariations(t *testing.T) {
	mock := &mockProvider{respond: func(_ llm.Request) (string, error) {
		return variationsResponse, nil
	}}
	rw := NewRewriter(mock, testConfig())

	r := rw.Run(context.Background(), "singapore", testInsights())

	if r.Attempts != 2 || r.Successes != 2 || r.Failures != 0 {
		t.Fatalf("expected 2/2/0, got %d/%d/%d", r.Attempts, r.Successes, r.Failures)
	}
	if len(r.Variations) != 4 {
		t.Fatalf("expected 4 variations, got %d", len(r.Variations))
	}

	first := r.Variations[0]
	if first.VariationID != "ins-1_v1" {
		t.Errorf("expected variation ID ins-1_v1, got %q", first.VariationID)
	}
	if r.Variations[1].VariationID != "ins-1_v2" {
		t.Errorf("expected variation ID ins-1_v2, got %q", r.Variations[1].VariationID)
	}
	if first.OriginalHook != "Did you know sitting raises heart risk" {
		t.Errorf("expected original hook copied, got %q", first.OriginalHook)
	}
	if first.NumericClaim != "147%" || first.SourceName != "HPB" {
		t.Error("expected factual fields copied from the parent insight")
	}
	if first.CreativeModel != "test/creative" {
		t.Errorf("expected creative model attached, got %q", first.CreativeModel)
	}
	if first.NarrativeAngle != "surprising comparison" {
		t.Errorf("unexpected narrative angle %q", first.NarrativeAngle)
	}
	for _, v := range r.Variations {
		if v.CreatedAt != first.CreatedAt {
			t.Error("expected one shared created_at for the stage")
		}
		if v.GeneratedAt != "" && v.InsightID == "ins-1" && v.GeneratedAt != "2026-03-01T10:00:00Z" {
			t.Error("expected generated_at carried over from the parent")
		}
	}
}

func TestRunFailureSkipsInsight(t *testing.T) {
	mock := &mockProvider{respond: func(req llm.Request) (string, error) {
		if strings.Contains(req.Prompt, "gum disease") {
			return "", errors.New("model overloaded")
		}
		return variationsResponse, nil
	}}
	rw := NewRewriter(mock, testConfig())

	r := rw.Run(context.Background(), "singapore", testInsights())

	if r.Successes != 1 || r.Failures != 1 {
		t.Fatalf("expected 1/1, got %d/%d", r.Successes, r.Failures)
	}
	if len(r.Variations) != 2 {
		t.Fatalf("expected 2 variations from the surviving insight, got %d", len(r.Variations))
	}
	for _, v := range r.Variations {
		if v.InsightID != "ins-1" {
			t.Errorf("expected variations only from ins-1, got %q", v.InsightID)
		}
	}
}

func TestRunMissingVariationsKey(t *testing.T) {
	mock := &mockProvider{respond: func(_ llm.Request) (string, error) {
		return `{"something_else": []}`, nil
	}}
	rw := NewRewriter(mock, testConfig())

	r := rw.Run(context.Background(), "singapore", testInsights()[:1])

	if r.Failures != 1 || len(r.Variations) != 0 {
		t.Errorf("expected a response without variations to count as failure, got %+v", r)
	}
}

func TestRunEmptyVariations(t *testing.T) {
	mock := &mockProvider{respond: func(_ llm.Request) (string, error) {
		return `{"variations": []}`, nil
	}}
	rw := NewRewriter(mock, testConfig())

	r := rw.Run(context.Background(), "singapore", testInsights()[:1])

	if r.Successes != 1 || len(r.Variations) != 0 {
		t.Errorf("expected empty variations to succeed with zero output, got %+v", r)
	}
}

func TestRunNilProvider(t *testing.T) {
	rw := NewRewriter(nil, testConfig())
	r := rw.Run(context.Background(), "singapore", testInsights())
	if r.Attempts != 0 || len(r.Variations) != 0 {
		t.Errorf("expected empty result without a provider, got %+v", r)
	}
}

func TestRunNoInsights(t *testing.T) {
	rw := NewRewriter(&mockProvider{}, testConfig())
	r := rw.Run(context.Background(), "singapore", nil)
	if r.Attempts != 0 {
		t.Errorf("expected no attempts for empty input, got %d", r.Attempts)
	}
}

func TestBuildPrompt(t *testing.T) {
	rw := NewRewriter(nil, testConfig())
	prompt := rw.buildPrompt(testInsights()[0], "singapore")

	for _, want := range []string{
		"Hook: Did you know sitting raises heart risk",
		"Numeric Claim: 147%",
		"Sedentary adults in desk jobs",
		"age_range: 30-39",
		"Write 2 distinct creative variations",
		"culturally appropriate for singapore",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "%!") {
		t.Error("prompt has unconsumed format verbs")
	}
}
