package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/geniehealth/dyk/internal/config"
)

// InsertVariation stores one evaluated variation. Returns the row ID on
// success, 0 if the variation_id already exists.
func (db *DB) InsertVariation(v *Variation) (int64, error) {
	cohortJSON, err := json.Marshal(v.Cohort)
	if err != nil {
		return 0, fmt.Errorf("marshaling cohort: %w", err)
	}
	templateJSON, err := json.Marshal(v.InsightTemplate)
	if err != nil {
		return 0, fmt.Errorf("marshaling template: %w", err)
	}

	var evalJSON *string
	var overall *float64
	var pass *int
	if v.Evaluation != nil {
		data, err := json.Marshal(v.Evaluation)
		if err != nil {
			return 0, fmt.Errorf("marshaling evaluation: %w", err)
		}
		s := string(data)
		evalJSON = &s
		overall = v.Evaluation.OverallScore
		if v.Evaluation.Pass != nil {
			p := 0
			if *v.Evaluation.Pass {
				p = 1
			}
			pass = &p
		}
	}

	result, err := db.conn.Exec(
		`INSERT OR IGNORE INTO variations
			(run_id, variation_id, insight_id, hook, explanation, action,
			narrative_angle, original_hook, original_explanation,
			original_action, source_name, source_url, numeric_claim, cohort,
			insight_template, cohort_name, template_type, generation_model,
			generated_at, creative_model, created_at, evaluation,
			evaluation_model, evaluated_at, overall_score, pass)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.RunID, v.VariationID, v.InsightID, v.Hook, v.Explanation, v.Action,
		v.NarrativeAngle, v.OriginalHook, v.OriginalExplanation,
		v.OriginalAction, v.SourceName, v.SourceURL, v.NumericClaim,
		string(cohortJSON), string(templateJSON), v.Cohort.Name,
		v.InsightTemplate.Type, v.GenerationModel, v.GeneratedAt,
		v.CreativeModel, v.CreatedAt, evalJSON, v.EvaluationModel,
		v.EvaluatedAt, overall, pass,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting variation %s: %w", v.VariationID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil || affected == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

// InsertVariations stores a batch, skipping duplicates. Returns stored count.
func (db *DB) InsertVariations(variations []Variation) (int, error) {
	stored := 0
	for i := range variations {
		id, err := db.InsertVariation(&variations[i])
		if err != nil {
			return stored, err
		}
		if id != 0 {
			stored++
		}
	}
	return stored, nil
}

// GetVariationsForRun returns all variations for a run in insertion order.
func (db *DB) GetVariationsForRun(runID int64) ([]Variation, error) {
	rows, err := db.conn.Query(
		variationColumns+" FROM variations WHERE run_id = ? ORDER BY id", runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVariations(rows)
}

// GetPassedVariationsForRun returns the variations the evaluator passed,
// best score first.
func (db *DB) GetPassedVariationsForRun(runID int64) ([]Variation, error) {
	rows, err := db.conn.Query(
		variationColumns+` FROM variations
		WHERE run_id = ? AND pass = 1
		ORDER BY overall_score DESC, id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVariations(rows)
}

const variationColumns = `SELECT id, run_id, variation_id, insight_id, hook,
	explanation, action, narrative_angle, original_hook,
	original_explanation, original_action, source_name, source_url,
	numeric_claim, cohort, insight_template, generation_model, generated_at,
	creative_model, created_at, evaluation, evaluation_model, evaluated_at`

func scanVariations(rows *sql.Rows) ([]Variation, error) {
	var variations []Variation
	for rows.Next() {
		var v Variation
		var narrative, evalModel, evaluatedAt *string
		var cohortJSON, templateJSON string
		var evalJSON *string
		if err := rows.Scan(
			&v.ID, &v.RunID, &v.VariationID, &v.InsightID, &v.Hook,
			&v.Explanation, &v.Action, &narrative, &v.OriginalHook,
			&v.OriginalExplanation, &v.OriginalAction, &v.SourceName,
			&v.SourceURL, &v.NumericClaim, &cohortJSON, &templateJSON,
			&v.GenerationModel, &v.GeneratedAt, &v.CreativeModel, &v.CreatedAt,
			&evalJSON, &evalModel, &evaluatedAt,
		); err != nil {
			return nil, err
		}
		if narrative != nil {
			v.NarrativeAngle = *narrative
		}
		if evalModel != nil {
			v.EvaluationModel = *evalModel
		}
		if evaluatedAt != nil {
			v.EvaluatedAt = *evaluatedAt
		}
		if err := json.Unmarshal([]byte(cohortJSON), &v.Cohort); err != nil {
			v.Cohort = config.Cohort{}
		}
		if err := json.Unmarshal([]byte(templateJSON), &v.InsightTemplate); err != nil {
			v.InsightTemplate = config.InsightTemplate{}
		}
		if evalJSON != nil {
			var ev Evaluation
			if err := json.Unmarshal([]byte(*evalJSON), &ev); err == nil {
				v.Evaluation = &ev
			}
		}
		variations = append(variations, v)
	}
	return variations, rows.Err()
}
