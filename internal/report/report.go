// Package report writes run artifacts: the JSON insight document, the
// flat CSV export, and the markdown run summary.
package report

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/geniehealth/dyk/internal/database"
	"github.com/geniehealth/dyk/internal/dedup"
)

// Document is the JSON artifact written after each pipeline run. Field
// order is the serialization order.
type Document struct {
	GenerationMetadata     GenerationMetadata   `json:"generation_metadata"`
	DeduplicationMetadata  DedupMetadata        `json:"deduplication_metadata"`
	DeduplicationAnalytics *dedup.Report        `json:"deduplication_analytics"`
	CreativeMetadata       CreativeMetadata     `json:"creative_metadata"`
	EvaluationMetadata     EvaluationMetadata   `json:"evaluation_metadata"`
	Insights               []database.Variation `json:"insights"`
}

type GenerationMetadata struct {
	Market          string   `json:"market"`
	Models          []string `json:"models"`
	Temperature     float64  `json:"temperature"`
	MaxTokens       int      `json:"max_tokens"`
	GeneratedAt     string   `json:"generated_at"`
	TotalCalls      int      `json:"total_calls"`
	SuccessfulCalls int      `json:"successful_calls"`
	FailedCalls     int      `json:"failed_calls"`
	DurationSeconds float64  `json:"duration_seconds"`
}

type DedupMetadata struct {
	Threshold       float64 `json:"threshold"`
	TotalInsights   int     `json:"total_insights"`
	UniqueInsights  int     `json:"unique_insights"`
	ReductionPct    float64 `json:"reduction_pct"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type CreativeMetadata struct {
	Model           string  `json:"model"`
	NumVariations   int     `json:"num_variations"`
	Temperature     float64 `json:"temperature"`
	CreatedAt       string  `json:"created_at"`
	TotalCalls      int     `json:"total_calls"`
	SuccessfulCalls int     `json:"successful_calls"`
	FailedCalls     int     `json:"failed_calls"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type EvaluationMetadata struct {
	Model           string  `json:"model"`
	Temperature     float64 `json:"temperature"`
	EvaluatedAt     string  `json:"evaluated_at"`
	TotalCalls      int     `json:"total_calls"`
	SuccessfulCalls int     `json:"successful_calls"`
	FailedCalls     int     `json:"failed_calls"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// ArtifactPaths returns the JSON and CSV paths for a run. Names carry
// the market and start time, so runs never overwrite each other.
func ArtifactPaths(dir, market string, at time.Time) (jsonPath, csvPath string) {
	base := fmt.Sprintf("pipeline_%s_%s", market, at.Format("20060102_150405"))
	return filepath.Join(dir, base+".json"), filepath.Join(dir, base+".csv")
}

// WriteJSON writes the document as indented JSON, creating the output
// directory if needed.
func WriteJSON(path string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// ReductionPct is the percentage of insights removed by deduplication,
// rounded to two decimals.
func ReductionPct(total, unique int) float64 {
	if total == 0 {
		return 0
	}
	pct := (1 - float64(unique)/float64(total)) * 100
	return math.Round(pct*100) / 100
}
