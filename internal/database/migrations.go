package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    market TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    json_path TEXT,
    csv_path TEXT,
    stats TEXT,
    summary_markdown TEXT,
    total_insights INTEGER DEFAULT 0,
    unique_insights INTEGER DEFAULT 0,
    total_variations INTEGER DEFAULT 0,
    passed_variations INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS insights (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    insight_id TEXT UNIQUE NOT NULL,
    hook TEXT NOT NULL,
    explanation TEXT NOT NULL,
    action TEXT NOT NULL,
    source_name TEXT,
    source_url TEXT,
    numeric_claim TEXT,
    cohort TEXT NOT NULL,
    insight_template TEXT NOT NULL,
    cohort_name TEXT,
    template_type TEXT,
    generation_model TEXT,
    generated_at TEXT,
    duplicate_of TEXT
);

CREATE TABLE IF NOT EXISTS variations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    variation_id TEXT UNIQUE NOT NULL,
    insight_id TEXT NOT NULL,
    hook TEXT NOT NULL,
    explanation TEXT NOT NULL,
    action TEXT NOT NULL,
    narrative_angle TEXT,
    original_hook TEXT,
    original_explanation TEXT,
    original_action TEXT,
    source_name TEXT,
    source_url TEXT,
    numeric_claim TEXT,
    cohort TEXT,
    insight_template TEXT,
    cohort_name TEXT,
    template_type TEXT,
    generation_model TEXT,
    generated_at TEXT,
    creative_model TEXT,
    created_at TEXT,
    evaluation TEXT,
    evaluation_model TEXT,
    evaluated_at TEXT,
    overall_score REAL,
    pass INTEGER
);

CREATE TABLE IF NOT EXISTS evidence_articles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pmid TEXT UNIQUE,
    title TEXT NOT NULL,
    abstract TEXT,
    authors TEXT,
    journal TEXT,
    year TEXT,
    publication_types TEXT,
    url TEXT UNIQUE NOT NULL,
    query TEXT,
    fetched_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_insights_run ON insights(run_id);
CREATE INDEX IF NOT EXISTS idx_insights_cohort ON insights(cohort_name);
CREATE INDEX IF NOT EXISTS idx_variations_run ON variations(run_id);
CREATE INDEX IF NOT EXISTS idx_variations_insight ON variations(insight_id);
CREATE INDEX IF NOT EXISTS idx_evidence_query ON evidence_articles(query);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
