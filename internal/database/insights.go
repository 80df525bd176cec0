package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/geniehealth/dyk/internal/config"
)

// InsertInsight stores one generated insight. Returns the row ID on
// success, 0 if the insight_id already exists.
func (db *DB) InsertInsight(ins *Insight) (int64, error) {
	cohortJSON, err := json.Marshal(ins.Cohort)
	if err != nil {
		return 0, fmt.Errorf("marshaling cohort: %w", err)
	}
	templateJSON, err := json.Marshal(ins.InsightTemplate)
	if err != nil {
		return 0, fmt.Errorf("marshaling template: %w", err)
	}

	result, err := db.conn.Exec(
		`INSERT OR IGNORE INTO insights
			(run_id, insight_id, hook, explanation, action, source_name,
			source_url, numeric_claim, cohort, insight_template, cohort_name,
			template_type, generation_model, generated_at, duplicate_of)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ins.RunID, ins.InsightID, ins.Hook, ins.Explanation, ins.Action,
		ins.SourceName, ins.SourceURL, ins.NumericClaim, string(cohortJSON),
		string(templateJSON), ins.Cohort.Name, ins.InsightTemplate.Type,
		ins.GenerationModel, ins.GeneratedAt, ins.DuplicateOf,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting insight %s: %w", ins.InsightID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil || affected == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

// InsertInsights stores a batch, skipping duplicates. Returns stored count.
func (db *DB) InsertInsights(insights []Insight) (int, error) {
	stored := 0
	for i := range insights {
		id, err := db.InsertInsight(&insights[i])
		if err != nil {
			return stored, err
		}
		if id != 0 {
			stored++
		}
	}
	return stored, nil
}

// MarkDuplicate records which surviving insight a duplicate collapsed into.
func (db *DB) MarkDuplicate(insightID, survivorID string) error {
	_, err := db.conn.Exec(
		"UPDATE insights SET duplicate_of = ? WHERE insight_id = ?",
		survivorID, insightID,
	)
	return err
}

// GetInsightsForRun returns all insights for a run in insertion order.
func (db *DB) GetInsightsForRun(runID int64) ([]Insight, error) {
	rows, err := db.conn.Query(
		`SELECT id, run_id, insight_id, hook, explanation, action, source_name,
			source_url, numeric_claim, cohort, insight_template,
			generation_model, generated_at, duplicate_of
		FROM insights WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInsights(rows)
}

// GetSurvivorsForRun returns the insights that survived deduplication.
func (db *DB) GetSurvivorsForRun(runID int64) ([]Insight, error) {
	rows, err := db.conn.Query(
		`SELECT id, run_id, insight_id, hook, explanation, action, source_name,
			source_url, numeric_claim, cohort, insight_template,
			generation_model, generated_at, duplicate_of
		FROM insights WHERE run_id = ? AND duplicate_of IS NULL ORDER BY id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInsights(rows)
}

func scanInsights(rows *sql.Rows) ([]Insight, error) {
	var insights []Insight
	for rows.Next() {
		var ins Insight
		var cohortJSON, templateJSON string
		if err := rows.Scan(
			&ins.ID, &ins.RunID, &ins.InsightID, &ins.Hook, &ins.Explanation,
			&ins.Action, &ins.SourceName, &ins.SourceURL, &ins.NumericClaim,
			&cohortJSON, &templateJSON, &ins.GenerationModel, &ins.GeneratedAt,
			&ins.DuplicateOf,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(cohortJSON), &ins.Cohort); err != nil {
			ins.Cohort = config.Cohort{}
		}
		if err := json.Unmarshal([]byte(templateJSON), &ins.InsightTemplate); err != nil {
			ins.InsightTemplate = config.InsightTemplate{}
		}
		insights = append(insights, ins)
	}
	return insights, rows.Err()
}
