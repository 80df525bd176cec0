package database

import (
	"database/sql"
	"fmt"
)

// InsertRun creates a run row at pipeline start and returns its ID.
func (db *DB) InsertRun(market, startedAt string) (int64, error) {
	result, err := db.conn.Exec(
		"INSERT INTO runs (market, started_at) VALUES (?, ?)",
		market, startedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	return result.LastInsertId()
}

// FinishRun records completion details for a run.
func (db *DB) FinishRun(run *PipelineRun) error {
	_, err := db.conn.Exec(
		`UPDATE runs SET finished_at = ?, json_path = ?, csv_path = ?, stats = ?,
			summary_markdown = ?, total_insights = ?, unique_insights = ?,
			total_variations = ?, passed_variations = ?
		WHERE id = ?`,
		run.FinishedAt, run.JSONPath, run.CSVPath, run.StatsJSON,
		run.SummaryMarkdown, run.TotalInsights, run.UniqueInsights,
		run.TotalVariations, run.PassedVariations, run.ID,
	)
	if err != nil {
		return fmt.Errorf("finishing run %d: %w", run.ID, err)
	}
	return nil
}

// GetRun returns one run by ID, or nil if it does not exist.
func (db *DB) GetRun(id int64) (*PipelineRun, error) {
	row := db.conn.QueryRow(
		`SELECT id, market, started_at, finished_at, json_path, csv_path, stats,
			summary_markdown, total_insights, unique_insights, total_variations,
			passed_variations
		FROM runs WHERE id = ?`, id,
	)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// GetRecentRuns returns up to limit runs, newest first.
func (db *DB) GetRecentRuns(limit int) ([]PipelineRun, error) {
	rows, err := db.conn.Query(
		`SELECT id, market, started_at, finished_at, json_path, csv_path, stats,
			summary_markdown, total_insights, unique_insights, total_variations,
			passed_variations
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []PipelineRun
	for rows.Next() {
		var r PipelineRun
		if err := rows.Scan(
			&r.ID, &r.Market, &r.StartedAt, &r.FinishedAt, &r.JSONPath,
			&r.CSVPath, &r.StatsJSON, &r.SummaryMarkdown, &r.TotalInsights,
			&r.UniqueInsights, &r.TotalVariations, &r.PassedVariations,
		); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetCounts returns aggregate row counts for the status command.
func (db *DB) GetCounts() (*Counts, error) {
	c := &Counts{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM runs", &c.Runs},
		{"SELECT COUNT(*) FROM insights", &c.Insights},
		{"SELECT COUNT(*) FROM insights WHERE duplicate_of IS NULL", &c.UniqueInsights},
		{"SELECT COUNT(*) FROM variations", &c.Variations},
		{"SELECT COUNT(*) FROM variations WHERE pass = 1", &c.PassedVariations},
		{"SELECT COUNT(*) FROM evidence_articles", &c.EvidenceArticles},
	}
	for _, q := range queries {
		if err := db.conn.QueryRow(q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting rows: %w", err)
		}
	}
	return c, nil
}

func scanRun(row *sql.Row) (*PipelineRun, error) {
	var r PipelineRun
	err := row.Scan(
		&r.ID, &r.Market, &r.StartedAt, &r.FinishedAt, &r.JSONPath,
		&r.CSVPath, &r.StatsJSON, &r.SummaryMarkdown, &r.TotalInsights,
		&r.UniqueInsights, &r.TotalVariations, &r.PassedVariations,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
